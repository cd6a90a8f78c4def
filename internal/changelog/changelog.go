// Package changelog streams every recorded sync operation to downstream consumers.
package changelog

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"stocksync/internal/model"
)

// Writer publishes sync operations.
type Writer interface {
	Append(ctx context.Context, op model.SyncOperation) error
	Close() error
}

// NoopWriter drops everything.
type NoopWriter struct{}

func (NoopWriter) Append(context.Context, model.SyncOperation) error { return nil }
func (NoopWriter) Close() error                                    { return nil }

// MultiWriter fans out writes to multiple underlying writers.
type MultiWriter struct {
	writers []Writer
}

func NewMultiWriter(ws ...Writer) *MultiWriter {
	return &MultiWriter{writers: ws}
}

// Append writes to every writer and returns the first error.
func (m *MultiWriter) Append(ctx context.Context, op model.SyncOperation) error {
	var first error
	for _, w := range m.writers {
		if err := w.Append(ctx, op); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *MultiWriter) Close() error {
	var first error
	for _, w := range m.writers {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// KafkaWriter publishes operations to a Kafka topic keyed by product, so one
// product's history stays in one partition.
type KafkaWriter struct {
	writer  kafkaMessageWriter
	timeout time.Duration
}

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter creates a Kafka writer.
func NewKafkaWriter(brokers []string, topic string) *KafkaWriter {
	return &KafkaWriter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
		},
		timeout: 5 * time.Second,
	}
}

// NewKafkaWriterWith is only for tests to inject a fake writer.
func NewKafkaWriterWith(w kafkaMessageWriter) *KafkaWriter {
	return &KafkaWriter{writer: w, timeout: time.Second}
}

// Append publishes op as JSON.
func (k *KafkaWriter) Append(ctx context.Context, op model.SyncOperation) error {
	b, err := json.Marshal(&op)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(op.ProductID, 10)),
		Value: b,
		Headers: []kafka.Header{
			{Key: "operation_type", Value: []byte(op.OperationType)},
			{Key: "direction", Value: []byte(op.Direction)},
		},
	})
}

func (k *KafkaWriter) Close() error {
	return k.writer.Close()
}

var (
	_ Writer = NoopWriter{}
	_ Writer = (*MultiWriter)(nil)
	_ Writer = (*KafkaWriter)(nil)
)
