package service

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"stocksync/internal/metrics"
	"stocksync/internal/model"
	"stocksync/internal/platform"
	"stocksync/internal/queue"
	"stocksync/internal/webhook"
)

// Delivery is one inbound webhook as received.
type Delivery struct {
	EventID string
	Topic   string
	Source  string
	Payload []byte
}

// ReceiveStatus is the outcome of Intake.Receive.
type ReceiveStatus string

const (
	ReceiveQueued    ReceiveStatus = "queued"
	ReceiveProcessed ReceiveStatus = "processed"
	ReceiveDuplicate ReceiveStatus = "duplicate"
	ReceiveIgnored   ReceiveStatus = "ignored"
)

// LineKey is the ledger key of one line of a multi-line event.
func LineKey(eventID, lineID string) string {
	return eventID + "/line/" + lineID
}

// Handler turns parsed events into engine calls.
type Handler struct {
	engine  *Engine
	ledger  *Ledger
	metrics *metrics.Registry
	log     *log.Entry
}

// NewHandler creates an event handler; m may be nil.
func NewHandler(engine *Engine, ledger *Ledger, m *metrics.Registry) *Handler {
	if m == nil {
		m = engine.metrics
	}
	return &Handler{
		engine:  engine,
		ledger:  ledger,
		metrics: m,
		log:     log.WithField("component", "handler"),
	}
}

// Process handles job at most once and records the outcome in the ledger.
// The returned error wraps ErrRetriesExhausted once the ledger gives up.
func (h *Handler) Process(ctx context.Context, job model.Job) error {
	if h.ledger.IsProcessed(ctx, job.EventID) {
		return nil
	}

	err := h.Handle(ctx, job)
	if err == nil {
		return h.ledger.MarkProcessed(ctx, job.EventID, job.Topic, job.Source)
	}

	h.metrics.EventsFailed.WithLabelValues(job.Topic).Inc()
	exhausted, ferr := h.ledger.MarkFailed(ctx, job.EventID, err.Error())
	if ferr != nil {
		h.log.WithError(ferr).WithField("event_id", job.EventID).Error("failed to record event failure")
	}
	if exhausted {
		h.metrics.EventsExhausted.Inc()
		return fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
	}
	return err
}

// Handle dispatches one event by topic.
func (h *Handler) Handle(ctx context.Context, job model.Job) error {
	ev, err := webhook.Parse(job.Topic, job.Payload)
	if err != nil {
		return err
	}

	switch ev := ev.(type) {
	case webhook.OrderCreated:
		return h.applyLines(ctx, job, orderLines(job, ev.Order, model.CauseOrderCreated, -1))
	case webhook.OrderCancelled:
		return h.applyLines(ctx, job, orderLines(job, ev.Order, model.CauseOrderCancelled, 1))
	case webhook.RefundCreated:
		return h.applyLines(ctx, job, h.refundLines(job, ev.Refund))
	case webhook.InventoryLevelChanged:
		return h.inventoryLevel(ctx, job, ev.Level)
	case webhook.ProductUpserted:
		variants := make([]platform.Variant, 0, len(ev.Product.Variants))
		for _, v := range ev.Product.Variants {
			variants = append(variants, variantOf(ev.Product, v))
		}
		_, err := h.engine.SyncProduct(ctx, job.Source, variants, ev.Created)
		return err
	case webhook.ProductDeleted:
		_, err := h.engine.RemoveProduct(ctx, job.Source, ev.Product.ID.String())
		if errors.Is(err, ErrReplicaNotFound) {
			return nil
		}
		return err
	case webhook.AppUninstalled:
		err := h.engine.DeactivateReplica(ctx, job.Source)
		if errors.Is(err, ErrReplicaNotFound) {
			return nil
		}
		return err
	default:
		return fmt.Errorf("%w: %s", webhook.ErrUnsupportedTopic, job.Topic)
	}
}

type lineChange struct {
	key    string
	change model.Change
}

// orderLines converts order line items into changes. sign -1 sells
// (available down, committed up); +1 reverses a sale.
func orderLines(job model.Job, o webhook.Order, cause string, sign int) []lineChange {
	lines := make([]lineChange, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		if li.Quantity <= 0 {
			continue
		}
		lines = append(lines, lineChange{
			key: LineKey(job.EventID, li.ID.String()),
			change: model.Change{
				Source:     job.Source,
				SKU:        li.SKU,
				VariantRef: platform.GID("ProductVariant", li.VariantID.String()),
				Delta:      model.Quantities{Available: sign * li.Quantity, Committed: -sign * li.Quantity},
				Cause:      cause,
			},
		})
	}
	return lines
}

func (h *Handler) refundLines(job model.Job, r webhook.Refund) []lineChange {
	lines := make([]lineChange, 0, len(r.RefundLineItems))
	for _, rli := range r.RefundLineItems {
		if !rli.Restocks() || rli.Quantity <= 0 {
			h.log.WithFields(log.Fields{
				"event_id":     job.EventID,
				"restock_type": rli.RestockType,
			}).Debug("refund line not restocked")
			continue
		}
		delta := model.Quantities{Available: rli.Quantity}
		if rli.RestockType == webhook.RestockCancel {
			delta.Committed = -rli.Quantity
		}
		lineID := rli.LineItemID.String()
		if lineID == "" {
			lineID = rli.ID.String()
		}
		lines = append(lines, lineChange{
			key: LineKey(job.EventID, lineID),
			change: model.Change{
				Source:      job.Source,
				SKU:         rli.LineItem.SKU,
				VariantRef:  platform.GID("ProductVariant", rli.LineItem.VariantID.String()),
				LocationRef: platform.GID("Location", rli.LocationID.String()),
				Delta:       delta,
				Cause:       model.CauseRefundCreated,
			},
		})
	}
	return lines
}

// applyLines processes each line under its own ledger key so a retried
// event skips the lines that already went through. One failing line does
// not stop its siblings.
func (h *Handler) applyLines(ctx context.Context, job model.Job, lines []lineChange) error {
	var errs []error
	for _, l := range lines {
		if l.change.SKU == "" {
			h.log.WithField("line", l.key).Warn("line without sku skipped")
			continue
		}
		if h.ledger.IsProcessed(ctx, l.key) {
			continue
		}

		l.change.EventID = l.key
		res, err := h.engine.ProcessChange(ctx, l.change)
		if err != nil {
			errs = append(errs, fmt.Errorf("line %s: %w", l.key, err))
			continue
		}
		if !res.Success {
			h.log.WithFields(log.Fields{"line": l.key, "reason": res.Reason}).Warn("line not applied")
		}
		if err := h.ledger.MarkProcessed(ctx, l.key, job.Topic, job.Source); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Handler) inventoryLevel(ctx context.Context, job model.Job, level webhook.InventoryLevel) error {
	if level.Available == nil {
		return nil
	}
	res, err := h.engine.ProcessChange(ctx, model.Change{
		Source:           job.Source,
		InventoryItemRef: platform.GID("InventoryItem", level.InventoryItemID.String()),
		LocationRef:      platform.GID("Location", level.LocationID.String()),
		Absolute:         level.Available,
		Cause:            model.CauseManualAdjustment,
		EventID:          job.EventID,
	})
	if err != nil {
		return err
	}
	h.log.WithFields(log.Fields{
		"event_id": job.EventID,
		"sku":      res.SKU,
		"skipped":  res.Skipped,
		"reason":   res.Reason,
	}).Debug("inventory level handled")
	return nil
}

func variantOf(p webhook.Product, v webhook.ProductVariant) platform.Variant {
	title := p.Title
	if v.Title != "" && v.Title != "Default Title" {
		title += " - " + v.Title
	}
	policy := v.InventoryPolicy
	if policy == "" {
		policy = model.OversellDeny
	}
	return platform.Variant{
		ProductRef:       platform.GID("Product", p.ID.String()),
		VariantRef:       platform.GID("ProductVariant", v.ID.String()),
		InventoryItemRef: platform.GID("InventoryItem", v.InventoryItemID.String()),
		SKU:              v.SKU,
		Title:            title,
		TracksInventory:  v.Tracked(),
		OversellPolicy:   policy,
	}
}

// Intake accepts deliveries, filters duplicates and hands the rest to the
// queue, or to the handler directly when no queue is available.
type Intake struct {
	ledger  *Ledger
	queue   queue.Queue
	handler *Handler
	metrics *metrics.Registry
	log     *log.Entry
}

// NewIntake creates an intake; q may be nil for inline processing.
func NewIntake(ledger *Ledger, q queue.Queue, handler *Handler) *Intake {
	return &Intake{
		ledger:  ledger,
		queue:   q,
		handler: handler,
		metrics: handler.metrics,
		log:     log.WithField("component", "intake"),
	}
}

// Receive validates d and schedules it. Validation failures are returned
// as webhook.ErrInvalidPayload; inline handling errors are returned as is.
func (i *Intake) Receive(ctx context.Context, d Delivery) (ReceiveStatus, error) {
	if !webhook.Supported(d.Topic) {
		i.log.WithField("topic", d.Topic).Debug("ignoring unsupported topic")
		return ReceiveIgnored, nil
	}
	if err := webhook.Validate(d.Topic, d.Payload); err != nil {
		i.metrics.EventsFailed.WithLabelValues(d.Topic).Inc()
		return "", err
	}
	i.metrics.EventsReceived.WithLabelValues(d.Topic).Inc()

	if i.ledger.IsProcessed(ctx, d.EventID) {
		i.metrics.EventsDuplicate.Inc()
		return ReceiveDuplicate, nil
	}
	if _, err := i.ledger.Create(ctx, d.EventID, d.Topic, d.Source, d.Payload); err != nil {
		i.log.WithError(err).WithField("event_id", d.EventID).Warn("ledger unavailable")
	}

	job := model.Job{EventID: d.EventID, Topic: d.Topic, Source: d.Source, Payload: d.Payload}
	if i.queue != nil {
		queued, err := i.queue.Enqueue(ctx, job)
		if err == nil {
			if !queued {
				i.metrics.EventsDuplicate.Inc()
				return ReceiveDuplicate, nil
			}
			return ReceiveQueued, nil
		}
		i.log.WithError(err).WithField("event_id", d.EventID).Warn("queue unavailable, processing inline")
	}

	if err := i.handler.Process(ctx, job); err != nil {
		return "", err
	}
	return ReceiveProcessed, nil
}
