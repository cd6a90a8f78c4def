package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"stocksync/internal/model"
	"stocksync/internal/platform"
	"stocksync/internal/repository"
)

// BulkPushResult summarizes a full push to one replica.
type BulkPushResult struct {
	Replica  string `json:"replica"`
	Products int    `json:"products"`
	Batches  int    `json:"batches"`
	Failed   int    `json:"failed"`
	Skipped  int    `json:"skipped"`
}

// CatalogSyncResult summarizes a catalog import from one replica.
type CatalogSyncResult struct {
	Replica  string `json:"replica"`
	Variants int    `json:"variants"`
	Created  int    `json:"created"`
	Rows     int    `json:"rows"`
	Skipped  int    `json:"skipped"`
}

// pause waits d or until ctx is done.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// BulkPush writes the central quantity of every mapped product to the
// replica at domain, in batches paced by BatchPace.
func (e *Engine) BulkPush(ctx context.Context, domain string) (*BulkPushResult, error) {
	replica, err := e.knownReplica(ctx, domain)
	if err != nil {
		return nil, err
	}
	if !replica.Propagates() {
		return nil, fmt.Errorf("%s: %w", domain, ErrReplicaInactive)
	}
	mappings, err := e.store.ListMappingsByReplica(ctx, replica.ID)
	if err != nil {
		return nil, err
	}
	sess, err := e.creds.Session(ctx, replica)
	if err != nil {
		return nil, err
	}

	result := &BulkPushResult{Replica: domain}
	live := mappings[:0]
	for _, m := range mappings {
		if m.SyncStatus == model.MappingRemoved {
			result.Skipped++
			continue
		}
		live = append(live, m)
	}

	type pending struct {
		product *model.Product
		agg     *model.InventoryAggregate
	}
	for start := 0; start < len(live); start += e.config.BatchSize {
		if start > 0 {
			if err := pause(ctx, e.config.BatchPace); err != nil {
				return result, err
			}
		}
		batch := live[start:min(start+e.config.BatchSize, len(live))]

		var updates []platform.QuantityUpdate
		var pushed []pending
		for i := range batch {
			m := &batch[i]
			p, err := e.store.GetProduct(ctx, m.ProductID)
			if err != nil {
				result.Failed++
				continue
			}
			if !p.TracksInventory {
				result.Skipped++
				continue
			}
			agg, err := e.store.GetAggregate(ctx, p.ID)
			if errors.Is(err, repository.ErrNotFound) {
				result.Skipped++
				continue
			}
			if err != nil {
				return result, err
			}
			ups, err := e.quantityUpdates(ctx, p, replica, m, agg)
			if err != nil {
				e.log.WithError(err).WithField("sku", p.SKU).Warn("bulk push skipped product")
				result.Failed++
				continue
			}
			updates = append(updates, ups...)
			pushed = append(pushed, pending{product: p, agg: agg})
		}

		bctx, cancel := context.WithTimeout(ctx, e.config.PushTimeout)
		var pushErr error
		for _, chunk := range platform.Chunk(updates, platform.MaxBatchItems) {
			if pushErr = e.platform.SetQuantities(bctx, sess, chunk, "correction"); pushErr != nil {
				break
			}
		}
		cancel()
		result.Batches++

		now := e.now().UTC()
		status, mappingStatus := model.StatusCompleted, model.MappingActive
		errMsg := ""
		if pushErr != nil {
			status, mappingStatus, errMsg = model.StatusFailed, model.MappingFailed, pushErr.Error()
			result.Failed += len(pushed)
			e.log.WithError(pushErr).WithField("replica", domain).Warn("bulk batch failed")
		} else {
			result.Products += len(pushed)
		}
		for _, pp := range pushed {
			e.record(ctx, &model.SyncOperation{
				OperationType: model.OpInventoryUpdate,
				Direction:     model.CentralToStore,
				ProductID:     pp.product.ID,
				ReplicaID:     replica.ID,
				Status:        status,
				NewValue:      model.IntPtr(pp.agg.Available),
				Cause:         model.CauseBulkPush,
				ErrorMessage:  errMsg,
				CreatedAt:     now,
				CompletedAt:   &now,
			})
			var synced *time.Time
			if pushErr == nil {
				synced = &now
			}
			if err := e.store.SetMappingStatus(ctx, pp.product.ID, replica.ID, mappingStatus, synced); err != nil {
				e.log.WithError(err).Warn("failed to update mapping status")
			}
			e.metrics.Pushes.WithLabelValues(status).Inc()
		}
	}

	e.log.WithFields(log.Fields{
		"replica":  domain,
		"products": result.Products,
		"batches":  result.Batches,
		"failed":   result.Failed,
	}).Info("bulk push finished")
	return result, nil
}

// CatalogSync imports every variant of the replica at domain. Products
// whose origin is this replica get their location rows rewritten from the
// reported levels, with one aggregate recalculation per product per page.
func (e *Engine) CatalogSync(ctx context.Context, domain string) (*CatalogSyncResult, error) {
	replica, err := e.knownReplica(ctx, domain)
	if err != nil {
		return nil, err
	}
	sess, err := e.creds.Session(ctx, replica)
	if err != nil {
		return nil, err
	}
	if err := e.locations.Refresh(ctx, replica); err != nil {
		return nil, err
	}

	result := &CatalogSyncResult{Replica: domain}
	cursor := ""
	for page := 0; ; page++ {
		if page > 0 {
			if err := pause(ctx, e.config.BatchPace); err != nil {
				return result, err
			}
		}
		variants, next, err := e.platform.ListVariants(ctx, sess, cursor, e.config.BatchSize)
		if err != nil {
			return result, fmt.Errorf("failed to list variants of %s: %w", domain, err)
		}

		touched := make(map[int64]bool)
		for _, v := range variants {
			if v.SKU == "" {
				result.Skipped++
				continue
			}
			res, err := e.mappings.Register(ctx, replica, v)
			if err != nil {
				return result, err
			}
			result.Variants++
			if res.Discovered {
				result.Created++
			}
			if res.Product.OriginReplicaID != replica.ID {
				continue
			}

			now := e.now().UTC()
			rows := 0
			for _, level := range v.Levels {
				loc, err := e.locations.Resolve(ctx, replica, level.LocationRef)
				if err != nil {
					e.log.WithError(err).WithField("location", level.LocationRef).Warn("skipping level of unknown location")
					continue
				}
				err = e.store.UpsertLocationRow(ctx, model.InventoryLocationRow{
					ProductID:      res.Product.ID,
					LocationID:     loc.ID,
					Quantities:     level.Quantities,
					LastAdjustedAt: now,
					LastAdjustedBy: model.CauseCatalogSync,
				}, true)
				if err != nil {
					return result, err
				}
				result.Rows++
				rows++
				touched[res.Product.ID] = true
			}
			if rows == 0 {
				if _, err := seedAggregate(ctx, e.store, res.Product.ID, v.Levels, model.CauseCatalogSync, now); err != nil {
					return result, err
				}
			}
		}
		for id := range touched {
			if _, err := e.store.RecalculateAggregate(ctx, id); err != nil {
				return result, err
			}
		}

		if next == "" {
			break
		}
		cursor = next
	}

	now := e.now().UTC()
	e.record(ctx, &model.SyncOperation{
		OperationType: model.OpBulkSync,
		Direction:     model.StoreToCentral,
		ReplicaID:     replica.ID,
		Status:        model.StatusCompleted,
		NewValue:      model.IntPtr(result.Variants),
		Cause:         model.CauseCatalogSync,
		CreatedAt:     now,
		CompletedAt:   &now,
	})
	e.log.WithFields(log.Fields{
		"replica":  domain,
		"variants": result.Variants,
		"created":  result.Created,
		"rows":     result.Rows,
	}).Info("catalog sync finished")
	return result, nil
}

// SyncProduct registers the variants of a product reported by domain.
func (e *Engine) SyncProduct(ctx context.Context, domain string, variants []platform.Variant, created bool) (int, error) {
	replica, err := e.Replica(ctx, domain)
	if err != nil {
		return 0, err
	}
	opType := model.OpProductUpdate
	if created {
		opType = model.OpProductCreate
	}

	n := 0
	for _, v := range variants {
		if v.SKU == "" {
			continue
		}
		res, err := e.mappings.Register(ctx, replica, v)
		if err != nil {
			return n, err
		}
		n++
		now := e.now().UTC()
		e.record(ctx, &model.SyncOperation{
			OperationType: opType,
			Direction:     model.StoreToCentral,
			ProductID:     res.Product.ID,
			ReplicaID:     replica.ID,
			Status:        model.StatusCompleted,
			Cause:         model.CauseProductWebhook,
			CreatedAt:     now,
			CompletedAt:   &now,
		})
	}
	return n, nil
}

// RemoveProduct marks the replica's mappings of productRef removed. The
// central product and its inventory are kept.
func (e *Engine) RemoveProduct(ctx context.Context, domain, productRef string) (int64, error) {
	replica, err := e.knownReplica(ctx, domain)
	if err != nil {
		return 0, err
	}
	n, err := e.mappings.Remove(ctx, replica, productRef)
	if err != nil {
		return 0, err
	}
	now := e.now().UTC()
	e.record(ctx, &model.SyncOperation{
		OperationType: model.OpProductDelete,
		Direction:     model.StoreToCentral,
		ReplicaID:     replica.ID,
		Status:        model.StatusCompleted,
		NewValue:      model.IntPtr(int(n)),
		Cause:         model.CauseProductWebhook,
		CreatedAt:     now,
		CompletedAt:   &now,
	})
	return n, nil
}

// DeactivateReplica stops propagation to domain and drops its cached credential.
func (e *Engine) DeactivateReplica(ctx context.Context, domain string) error {
	replica, err := e.knownReplica(ctx, domain)
	if err != nil {
		return err
	}
	if err := e.store.SetReplicaState(ctx, replica.ID, false, false); err != nil {
		return err
	}
	e.creds.Forget(ctx, domain)
	e.log.WithField("replica", domain).Info("replica deactivated")
	return nil
}

// Replicas lists every registered replica.
func (e *Engine) Replicas(ctx context.Context) ([]model.StoreReplica, error) {
	return e.store.ListReplicas(ctx)
}

// SetReplicaSync enables or pauses propagation to domain. Enabling also
// reactivates a replica that was deactivated by an uninstall.
func (e *Engine) SetReplicaSync(ctx context.Context, domain string, enabled bool) (*model.StoreReplica, error) {
	replica, err := e.knownReplica(ctx, domain)
	if err != nil {
		return nil, err
	}
	active := replica.Active || enabled
	if err := e.store.SetReplicaState(ctx, replica.ID, active, enabled); err != nil {
		return nil, err
	}
	e.log.WithFields(log.Fields{
		"replica":      domain,
		"sync_enabled": enabled,
	}).Info("replica sync toggled")
	replica.Active, replica.SyncEnabled = active, enabled
	return replica, nil
}
