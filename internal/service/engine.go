package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"stocksync/internal/cache"
	"stocksync/internal/changelog"
	"stocksync/internal/metrics"
	"stocksync/internal/model"
	"stocksync/internal/platform"
	"stocksync/internal/repository"
)

// EngineConfig tunes propagation and conflict handling.
type EngineConfig struct {
	// PushTimeout bounds each push to one replica.
	PushTimeout time.Duration
	// PushConcurrency is the number of replicas pushed in parallel.
	PushConcurrency int
	// BatchSize is the number of products per bulk request and catalog page.
	BatchSize int
	// BatchPace is the pause between bulk batches.
	BatchPace time.Duration
	// AutoResolve settles concurrent-update conflicts with USE_LOWEST.
	AutoResolve    bool
	EchoWindow     time.Duration
	ConflictWindow time.Duration
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		PushTimeout:     15 * time.Second,
		PushConcurrency: 4,
		BatchSize:       platform.MaxBatchItems,
		BatchPace:       500 * time.Millisecond,
		AutoResolve:     true,
		EchoWindow:      10 * time.Second,
		ConflictWindow:  5 * time.Second,
	}
}

// EngineDeps are the collaborators of an Engine. Cache, Changelog and
// Metrics are optional.
type EngineDeps struct {
	Store       repository.Store
	Platform    platform.Client
	Credentials repository.CredentialRepository
	Cache       cache.Cache
	Changelog   changelog.Writer
	Metrics     *metrics.Registry
}

// Engine applies normalized changes to central inventory and fans the
// result out to every other replica.
type Engine struct {
	store     repository.Store
	platform  platform.Client
	creds     *CredentialResolver
	locations *LocationResolver
	mappings  *MappingRegistry
	echo      *EchoFilter
	detector  *ConflictDetector
	conflicts *ConflictResolver
	changelog changelog.Writer
	metrics   *metrics.Registry
	config    EngineConfig
	now       func() time.Time
	log       *log.Entry
}

// NewEngine wires an engine. Zero config fields take their defaults.
func NewEngine(deps EngineDeps, config EngineConfig) *Engine {
	def := DefaultEngineConfig()
	if config.PushTimeout <= 0 {
		config.PushTimeout = def.PushTimeout
	}
	if config.PushConcurrency <= 0 {
		config.PushConcurrency = def.PushConcurrency
	}
	if config.BatchSize <= 0 || config.BatchSize > platform.MaxBatchItems {
		config.BatchSize = def.BatchSize
	}
	if config.EchoWindow <= 0 {
		config.EchoWindow = def.EchoWindow
	}
	if config.ConflictWindow <= 0 {
		config.ConflictWindow = def.ConflictWindow
	}
	if deps.Changelog == nil {
		deps.Changelog = changelog.NoopWriter{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewRegistry()
	}

	creds := NewCredentialResolver(deps.Credentials, deps.Cache)
	locations := NewLocationResolver(deps.Store, deps.Platform, creds, deps.Cache)
	e := &Engine{
		store:     deps.Store,
		platform:  deps.Platform,
		creds:     creds,
		locations: locations,
		mappings:  NewMappingRegistry(deps.Store, deps.Platform, creds, locations),
		echo:      NewEchoFilter(deps.Store, config.EchoWindow),
		detector:  NewConflictDetector(deps.Store, config.ConflictWindow),
		changelog: deps.Changelog,
		metrics:   deps.Metrics,
		config:    config,
		now:       time.Now,
		log:       log.WithField("component", "engine"),
	}
	e.conflicts = NewConflictResolver(deps.Store, e.applyResolution)
	return e
}

// SetClock replaces the time source of the engine and its windows.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.echo.now = now
	e.detector.now = now
	e.conflicts.now = now
	e.mappings.now = now
}

// Conflicts returns the engine's conflict resolver.
func (e *Engine) Conflicts() *ConflictResolver { return e.conflicts }

// Mappings returns the engine's mapping registry.
func (e *Engine) Mappings() *MappingRegistry { return e.mappings }

// Credentials returns the engine's credential resolver.
func (e *Engine) Credentials() *CredentialResolver { return e.creds }

// Replica returns the replica registered for domain, registering it as
// active if it is new.
func (e *Engine) Replica(ctx context.Context, domain string) (*model.StoreReplica, error) {
	r, err := e.store.GetReplicaByDomain(ctx, domain)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	r, err = e.store.UpsertReplica(ctx, &model.StoreReplica{Domain: domain, Active: true, SyncEnabled: true})
	if err != nil {
		return nil, err
	}
	e.log.WithField("replica", domain).Info("replica registered")
	return r, nil
}

func (e *Engine) knownReplica(ctx context.Context, domain string) (*model.StoreReplica, error) {
	r, err := e.store.GetReplicaByDomain(ctx, domain)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", domain, ErrReplicaNotFound)
	}
	return r, err
}

// ProcessChange applies ch to central inventory and propagates the result.
// Unknown products yield a skipped result rather than an error; errors are
// returned only when the central update itself could not be made.
func (e *Engine) ProcessChange(ctx context.Context, ch model.Change) (*model.SyncResult, error) {
	replica, err := e.Replica(ctx, ch.Source)
	if err != nil {
		return nil, err
	}

	res, err := e.resolve(ctx, replica, ch)
	if err != nil {
		if Kind(err) == KindNotFound {
			e.log.WithError(err).WithFields(log.Fields{
				"sku":     ch.SKU,
				"replica": replica.Domain,
			}).Warn("change skipped")
			return &model.SyncResult{SKU: ch.SKU, Skipped: true, Reason: err.Error()}, nil
		}
		return nil, err
	}

	p := res.Product
	result := &model.SyncResult{ProductID: p.ID, SKU: p.SKU}
	if !p.TracksInventory {
		result.Success = true
		result.Skipped = true
		result.Reason = "inventory not tracked"
		return result, nil
	}

	if ch.Absolute != nil {
		err = e.processAbsolute(ctx, replica, res, ch, result)
	} else {
		err = e.processDelta(ctx, replica, res, ch, result)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) resolve(ctx context.Context, replica *model.StoreReplica, ch model.Change) (*Resolution, error) {
	switch {
	case ch.InventoryItemRef != "":
		return e.mappings.ResolveInventoryItem(ctx, replica, ch.InventoryItemRef)
	case ch.SKU != "":
		return e.mappings.ResolveSKU(ctx, replica, ch.SKU)
	default:
		return nil, fmt.Errorf("change carries no sku or inventory item: %w", ErrProductNotFound)
	}
}

// placement is where a change lands in central inventory.
type placement struct {
	LocationID int64
	// PerLocation is set when the change reports one resolved location of
	// the origin replica rather than the product as a whole.
	PerLocation bool
}

// place picks the location row a change from replica targets. Only the
// origin replica's locations have rows; other replicas land on the
// origin's primary location.
func (e *Engine) place(ctx context.Context, p *model.Product, replica *model.StoreReplica, ref string) placement {
	if p.OriginReplicaID == replica.ID {
		if ref != "" {
			loc, err := e.locations.Resolve(ctx, replica, ref)
			if err == nil {
				return placement{LocationID: loc.ID, PerLocation: true}
			}
			e.log.WithError(err).WithField("location", ref).Debug("falling back to primary location")
		}
		if loc, err := e.locations.Primary(ctx, replica); err == nil {
			return placement{LocationID: loc.ID}
		}
		return placement{}
	}
	if p.OriginReplicaID != 0 {
		if loc, err := e.store.GetPrimaryLocation(ctx, p.OriginReplicaID); err == nil {
			return placement{LocationID: loc.ID}
		}
	}
	return placement{}
}

func (e *Engine) processDelta(ctx context.Context, replica *model.StoreReplica, res *Resolution, ch model.Change, result *model.SyncResult) error {
	p := res.Product

	var adj *model.AdjustResult
	if res.Seeded {
		// The levels the product was seeded from already include this change.
		agg, err := e.store.GetAggregate(ctx, p.ID)
		if err != nil {
			return err
		}
		adj = &model.AdjustResult{Previous: *agg, Current: *agg}
	} else {
		pl := e.place(ctx, p, replica, ch.LocationRef)
		var err error
		adj, err = e.store.ApplyAdjustment(ctx, p.ID, pl.LocationID, model.Adjustment{
			Mode:  model.AdjustDelta,
			Delta: ch.Delta,
			Actor: replica.Domain,
		}, e.now())
		if err != nil {
			return fmt.Errorf("failed to update central inventory of %s: %w", p.SKU, err)
		}
	}

	e.recordInbound(ctx, replica, p, adj, ch.Cause, ch.EventID)
	result.Success = true
	result.Previous = adj.Previous.Available
	result.Current = adj.Current.Available
	result.Targets, result.Failed = e.propagate(ctx, p, replica.ID, ch.Cause, ch.EventID)
	return nil
}

func (e *Engine) processAbsolute(ctx context.Context, replica *model.StoreReplica, res *Resolution, ch model.Change, result *model.SyncResult) error {
	p := res.Product
	observed := *ch.Absolute

	echo, err := e.echo.IsEcho(ctx, p.ID, replica.ID, observed)
	if err != nil {
		return err
	}
	if echo {
		e.metrics.EchoesDropped.Inc()
		result.Success = true
		result.Skipped = true
		result.Reason = "echo of own push"
		result.Previous, result.Current = observed, observed
		return nil
	}

	if res.Seeded {
		agg, err := e.store.GetAggregate(ctx, p.ID)
		if err != nil {
			return err
		}
		adj := &model.AdjustResult{Previous: *agg, Current: *agg}
		e.recordInbound(ctx, replica, p, adj, ch.Cause, ch.EventID)
		result.Success = true
		result.Previous, result.Current = agg.Available, agg.Available
		result.Targets, result.Failed = e.propagate(ctx, p, replica.ID, ch.Cause, ch.EventID)
		return nil
	}

	pl := e.place(ctx, p, replica, ch.LocationRef)
	expected, err := e.expected(ctx, p.ID, pl)
	if err != nil {
		return err
	}
	kind, err := e.detector.Detect(ctx, p.ID, replica.ID, expected, observed)
	if err != nil {
		return err
	}
	result.Previous, result.Current = expected, expected

	switch kind {
	case model.ConflictNone:
		result.Success = true
		result.Skipped = true
		result.Reason = "in sync"
		return nil

	case model.ConflictMismatch:
		e.metrics.Conflicts.WithLabelValues(kind).Inc()
		adj, err := e.setQuantity(ctx, p.ID, pl, observed, replica.Domain)
		if err != nil {
			return fmt.Errorf("failed to update central inventory of %s: %w", p.SKU, err)
		}
		e.recordInbound(ctx, replica, p, adj, ch.Cause, ch.EventID)
		result.Success = true
		result.Previous = adj.Previous.Available
		result.Current = adj.Current.Available
		result.Targets, result.Failed = e.propagate(ctx, p, replica.ID, ch.Cause, ch.EventID)
		return nil
	}

	e.metrics.Conflicts.WithLabelValues(kind).Inc()
	c := &model.Conflict{
		ProductID:    p.ID,
		ReplicaID:    replica.ID,
		Type:         kind,
		CentralValue: expected,
		StoreValue:   observed,
		CreatedAt:    e.now().UTC(),
	}
	if pl.PerLocation {
		c.LocationID = pl.LocationID
	}
	if err := e.store.InsertConflict(ctx, c); err != nil {
		return err
	}
	e.log.WithFields(log.Fields{
		"conflict_id": c.ID,
		"sku":         p.SKU,
		"replica":     replica.Domain,
		"central":     expected,
		"store":       observed,
	}).Warn("concurrent update conflict")

	result.Success = true
	result.Conflict = c
	if !e.config.AutoResolve {
		result.Reason = "conflict pending manual resolution"
		return nil
	}

	resolved, err := e.conflicts.AutoResolve(ctx, c)
	if err != nil {
		return err
	}
	result.Conflict = resolved
	result.Reason = "conflict auto-resolved"
	if resolved.ResolvedValue != nil {
		result.Current = *resolved.ResolvedValue
	}
	return nil
}

// expected is central's view of what the replica should report for pl.
func (e *Engine) expected(ctx context.Context, productID int64, pl placement) (int, error) {
	agg, err := e.store.GetAggregate(ctx, productID)
	if errors.Is(err, repository.ErrNotFound) {
		agg = &model.InventoryAggregate{ProductID: productID}
	} else if err != nil {
		return 0, err
	}
	if !pl.PerLocation {
		return agg.Available, nil
	}

	rows, err := e.store.ListLocationRows(ctx, productID)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return agg.Available, nil
	}
	for _, r := range rows {
		if r.LocationID == pl.LocationID {
			return r.Available, nil
		}
	}
	return 0, nil
}

func (e *Engine) setQuantity(ctx context.Context, productID int64, pl placement, value int, actor string) (*model.AdjustResult, error) {
	mode := model.AdjustSetAggregate
	if pl.PerLocation {
		mode = model.AdjustSetLocation
	}
	return e.store.ApplyAdjustment(ctx, productID, pl.LocationID, model.Adjustment{
		Mode:   mode,
		Target: value,
		Actor:  actor,
	}, e.now())
}

// applyResolution writes a conflict's resolved value to central and pushes
// it to every replica, the conflicting one included.
func (e *Engine) applyResolution(ctx context.Context, c *model.Conflict, value int, actor string) error {
	p, err := e.store.GetProduct(ctx, c.ProductID)
	if err != nil {
		return err
	}
	pl := placement{LocationID: c.LocationID, PerLocation: c.LocationID != 0}
	if !pl.PerLocation && p.OriginReplicaID != 0 {
		if loc, err := e.store.GetPrimaryLocation(ctx, p.OriginReplicaID); err == nil {
			pl.LocationID = loc.ID
		}
	}

	adj, err := e.setQuantity(ctx, p.ID, pl, value, actor)
	if err != nil {
		return err
	}
	replica, err := e.store.GetReplica(ctx, c.ReplicaID)
	if err != nil {
		return err
	}
	e.recordInbound(ctx, replica, p, adj, model.CauseConflictResolution, "")
	e.propagate(ctx, p, 0, model.CauseConflictResolution, "")
	return nil
}

// recordInbound logs a completed central update. Failures are logged only;
// the central write has already happened and must not be retried.
func (e *Engine) recordInbound(ctx context.Context, replica *model.StoreReplica, p *model.Product, adj *model.AdjustResult, cause, eventID string) {
	now := e.now().UTC()
	op := &model.SyncOperation{
		OperationType: model.OpInventoryUpdate,
		Direction:     model.StoreToCentral,
		ProductID:     p.ID,
		ReplicaID:     replica.ID,
		Status:        model.StatusCompleted,
		PreviousValue: model.IntPtr(adj.Previous.Available),
		NewValue:      model.IntPtr(adj.Current.Available),
		Cause:         cause,
		EventID:       eventID,
		CreatedAt:     now,
		CompletedAt:   &now,
	}
	e.metrics.CentralUpdates.Inc()
	e.record(ctx, op)

	e.log.WithFields(log.Fields{
		"sku":      p.SKU,
		"replica":  replica.Domain,
		"cause":    cause,
		"previous": adj.Previous.Available,
		"current":  adj.Current.Available,
	}).Info("central inventory updated")
}

func (e *Engine) record(ctx context.Context, op *model.SyncOperation) {
	if err := e.store.InsertOperation(ctx, op); err != nil {
		e.log.WithError(err).Error("failed to record sync operation")
		return
	}
	if err := e.changelog.Append(ctx, *op); err != nil {
		e.log.WithError(err).Warn("failed to append to changelog")
	}
}

// propagate pushes the product's central quantity to every propagating
// replica except exclude. A failure or timeout on one replica does not
// affect the others.
func (e *Engine) propagate(ctx context.Context, p *model.Product, exclude int64, cause, eventID string) (targets, failed int) {
	mappings, err := e.store.ListMappings(ctx, p.ID)
	if err != nil {
		e.log.WithError(err).WithField("sku", p.SKU).Error("failed to list mappings")
		return 0, 0
	}
	agg, err := e.store.GetAggregate(ctx, p.ID)
	if err != nil {
		e.log.WithError(err).WithField("sku", p.SKU).Error("failed to load aggregate")
		return 0, 0
	}

	var failures atomic.Int32
	var g errgroup.Group
	g.SetLimit(e.config.PushConcurrency)
	for _, m := range mappings {
		if m.ReplicaID == exclude || m.SyncStatus == model.MappingRemoved {
			continue
		}
		replica, err := e.store.GetReplica(ctx, m.ReplicaID)
		if err != nil || !replica.Propagates() {
			continue
		}
		targets++
		m := m
		g.Go(func() error {
			if err := e.push(ctx, p, replica, &m, agg, cause, eventID); err != nil {
				failures.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return targets, int(failures.Load())
}

// push writes one replica's quantities and records the hop.
func (e *Engine) push(ctx context.Context, p *model.Product, replica *model.StoreReplica, m *model.ProductStoreMapping, agg *model.InventoryAggregate, cause, eventID string) error {
	started := time.Now()
	op := &model.SyncOperation{
		OperationType: model.OpInventoryUpdate,
		Direction:     model.CentralToStore,
		ProductID:     p.ID,
		ReplicaID:     replica.ID,
		Status:        model.StatusPending,
		NewValue:      model.IntPtr(agg.Available),
		Cause:         cause,
		EventID:       eventID,
		CreatedAt:     e.now().UTC(),
	}
	logged := true
	if err := e.store.InsertOperation(ctx, op); err != nil {
		e.log.WithError(err).Error("failed to record sync operation")
		logged = false
	} else if err := e.store.TransitionOperation(ctx, op.ID, model.StatusInProgress, "", e.now()); err != nil {
		e.log.WithError(err).Warn("failed to mark sync operation in progress")
	}

	pctx, cancel := context.WithTimeout(ctx, e.config.PushTimeout)
	err := e.pushQuantities(pctx, p, replica, m, agg)
	cancel()

	now := e.now().UTC()
	op.Status, op.CompletedAt = model.StatusCompleted, &now
	mappingStatus, syncedAt := model.MappingActive, &now
	if err != nil {
		op.Status, op.ErrorMessage = model.StatusFailed, err.Error()
		mappingStatus, syncedAt = model.MappingFailed, nil
	}

	if logged {
		if terr := e.store.TransitionOperation(ctx, op.ID, op.Status, op.ErrorMessage, now); terr != nil {
			e.log.WithError(terr).Warn("failed to finish sync operation")
		}
		if cerr := e.changelog.Append(ctx, *op); cerr != nil {
			e.log.WithError(cerr).Warn("failed to append to changelog")
		}
	}
	if serr := e.store.SetMappingStatus(ctx, p.ID, replica.ID, mappingStatus, syncedAt); serr != nil {
		e.log.WithError(serr).Warn("failed to update mapping status")
	}
	e.metrics.Pushes.WithLabelValues(op.Status).Inc()
	e.metrics.PushLatencySec.Observe(time.Since(started).Seconds())

	entry := e.log.WithFields(log.Fields{
		"sku":      p.SKU,
		"replica":  replica.Domain,
		"quantity": agg.Available,
	})
	if err != nil {
		entry.WithError(err).Warn("push failed")
		return err
	}
	entry.Debug("pushed")
	return nil
}

func (e *Engine) pushQuantities(ctx context.Context, p *model.Product, replica *model.StoreReplica, m *model.ProductStoreMapping, agg *model.InventoryAggregate) error {
	sess, err := e.creds.Session(ctx, replica)
	if err != nil {
		return err
	}
	updates, err := e.quantityUpdates(ctx, p, replica, m, agg)
	if err != nil {
		return err
	}
	for _, chunk := range platform.Chunk(updates, platform.MaxBatchItems) {
		if err := e.platform.SetQuantities(ctx, sess, chunk, "correction"); err != nil {
			return fmt.Errorf("failed to set quantities in %s: %w", replica.Domain, err)
		}
	}
	return nil
}

// quantityUpdates builds the writes that bring replica in line with
// central: each location row for the origin, the aggregate at the primary
// location for everyone else.
func (e *Engine) quantityUpdates(ctx context.Context, p *model.Product, replica *model.StoreReplica, m *model.ProductStoreMapping, agg *model.InventoryAggregate) ([]platform.QuantityUpdate, error) {
	if replica.ID == p.OriginReplicaID {
		rows, err := e.store.ListLocationRows(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			locs, err := e.store.ListLocations(ctx, replica.ID)
			if err != nil {
				return nil, err
			}
			byID := make(map[int64]model.Location, len(locs))
			for _, l := range locs {
				byID[l.ID] = l
			}
			var updates []platform.QuantityUpdate
			for _, r := range rows {
				loc, ok := byID[r.LocationID]
				if !ok {
					continue
				}
				updates = append(updates, platform.QuantityUpdate{
					InventoryItemRef: m.InventoryItemID,
					LocationRef:      loc.ExternalID,
					Quantity:         r.Available,
				})
			}
			if len(updates) > 0 {
				return updates, nil
			}
		}
	}

	loc, err := e.locations.Primary(ctx, replica)
	if err != nil {
		return nil, err
	}
	return []platform.QuantityUpdate{{
		InventoryItemRef: m.InventoryItemID,
		LocationRef:      loc.ExternalID,
		Quantity:         agg.Available,
	}}, nil
}
