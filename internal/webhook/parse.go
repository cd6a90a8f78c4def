package webhook

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBase = "https://stocksync.local/schemas/"

// ErrUnsupportedTopic is returned for topics the pipeline does not handle.
var ErrUnsupportedTopic = errors.New("unsupported topic")

// ErrInvalidPayload wraps schema and decoding failures.
var ErrInvalidPayload = errors.New("invalid payload")

// Event is a parsed webhook. The concrete type identifies the topic.
type Event interface {
	Topic() string
	event()
}

// OrderCreated decrements available and increments committed per line item.
type OrderCreated struct{ Order Order }

// OrderCancelled reverses an order's line items.
type OrderCancelled struct{ Order Order }

// RefundCreated restores restocked line items.
type RefundCreated struct{ Refund Refund }

// InventoryLevelChanged is an absolute quantity observed at a replica.
type InventoryLevelChanged struct{ Level InventoryLevel }

// ProductUpserted covers products/create and products/update.
type ProductUpserted struct {
	Product Product
	Created bool
}

// ProductDeleted removes a product's mappings in the source replica.
type ProductDeleted struct{ Product Product }

// AppUninstalled deactivates the source replica.
type AppUninstalled struct{ Shop Shop }

func (OrderCreated) Topic() string          { return TopicOrdersCreate }
func (OrderCancelled) Topic() string        { return TopicOrdersCancelled }
func (RefundCreated) Topic() string         { return TopicRefundsCreate }
func (InventoryLevelChanged) Topic() string { return TopicInventoryLevelsUpdate }
func (AppUninstalled) Topic() string        { return TopicAppUninstalled }
func (ProductDeleted) Topic() string        { return TopicProductsDelete }

func (p ProductUpserted) Topic() string {
	if p.Created {
		return TopicProductsCreate
	}
	return TopicProductsUpdate
}

func (OrderCreated) event()          {}
func (OrderCancelled) event()        {}
func (RefundCreated) event()         {}
func (InventoryLevelChanged) event() {}
func (ProductUpserted) event()       {}
func (ProductDeleted) event()        {}
func (AppUninstalled) event()        {}

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func loadSchemas() (map[string]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		c := jsonschema.NewCompiler()
		entries, err := schemaFS.ReadDir("schemas")
		if err != nil {
			schemasErr = err
			return
		}
		for _, e := range entries {
			raw, err := schemaFS.ReadFile("schemas/" + e.Name())
			if err != nil {
				schemasErr = err
				return
			}
			doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
			if err != nil {
				schemasErr = fmt.Errorf("schema %s: %w", e.Name(), err)
				return
			}
			if err := c.AddResource(schemaBase+e.Name(), doc); err != nil {
				schemasErr = fmt.Errorf("schema %s: %w", e.Name(), err)
				return
			}
		}
		out := make(map[string]*jsonschema.Schema, len(entries))
		for _, e := range entries {
			s, err := c.Compile(schemaBase + e.Name())
			if err != nil {
				schemasErr = fmt.Errorf("failed to compile schema %s: %w", e.Name(), err)
				return
			}
			out[e.Name()] = s
		}
		schemas = out
	})
	return schemas, schemasErr
}

// Validate checks body against the topic's JSON schema.
func Validate(topic string, body []byte) error {
	name, ok := schemaByTopic[topic]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedTopic, topic)
	}
	all, err := loadSchemas()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := all[name].Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// Parse validates body and decodes it into the topic's event type.
func Parse(topic string, body []byte) (Event, error) {
	if err := Validate(topic, body); err != nil {
		return nil, err
	}

	var ev Event
	var err error
	switch topic {
	case TopicOrdersCreate:
		var e OrderCreated
		err = json.Unmarshal(body, &e.Order)
		ev = e
	case TopicOrdersCancelled:
		var e OrderCancelled
		err = json.Unmarshal(body, &e.Order)
		ev = e
	case TopicRefundsCreate:
		var e RefundCreated
		err = json.Unmarshal(body, &e.Refund)
		ev = e
	case TopicInventoryLevelsUpdate:
		var e InventoryLevelChanged
		err = json.Unmarshal(body, &e.Level)
		ev = e
	case TopicProductsCreate, TopicProductsUpdate:
		e := ProductUpserted{Created: topic == TopicProductsCreate}
		err = json.Unmarshal(body, &e.Product)
		ev = e
	case TopicProductsDelete:
		var e ProductDeleted
		err = json.Unmarshal(body, &e.Product)
		ev = e
	case TopicAppUninstalled:
		var e AppUninstalled
		err = json.Unmarshal(body, &e.Shop)
		ev = e
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTopic, topic)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return ev, nil
}
