package changelog

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocksync/internal/model"
)

// fakeKafkaWriter implements kafkaMessageWriter for tests
type fakeKafkaWriter struct {
	msgs   []kafka.Message
	fail   bool
	closed bool
}

func (f *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.fail {
		return errors.New("fail")
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafkaWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaWriter_Append(t *testing.T) {
	fk := &fakeKafkaWriter{}
	kw := NewKafkaWriterWith(fk)

	op := model.SyncOperation{ID: 7, ProductID: 42, OperationType: model.OpInventoryUpdate, Direction: model.CentralToStore, Status: model.StatusCompleted}
	require.NoError(t, kw.Append(context.Background(), op))
	require.Len(t, fk.msgs, 1)
	assert.Equal(t, "42", string(fk.msgs[0].Key))

	var got model.SyncOperation
	require.NoError(t, json.Unmarshal(fk.msgs[0].Value, &got))
	assert.Equal(t, int64(7), got.ID)
	assert.Equal(t, model.CentralToStore, got.Direction)

	require.NoError(t, kw.Close())
	assert.True(t, fk.closed)
}

func TestMultiWriter_ContinuesAfterError(t *testing.T) {
	bad := &fakeKafkaWriter{fail: true}
	good := &fakeKafkaWriter{}
	mw := NewMultiWriter(NewKafkaWriterWith(bad), NewKafkaWriterWith(good), NoopWriter{})

	err := mw.Append(context.Background(), model.SyncOperation{ProductID: 1})
	assert.Error(t, err)
	assert.Len(t, good.msgs, 1)
}
