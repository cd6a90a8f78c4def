package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"stocksync/internal/cache"
	"stocksync/internal/model"
	"stocksync/internal/platform"
	"stocksync/internal/repository"
)

const locationCacheTTL = 15 * time.Minute

// LocationResolver maps platform location refs to persisted locations,
// fetching a replica's locations from the platform the first time an
// unknown ref is seen.
type LocationResolver struct {
	catalog  repository.CatalogRepository
	platform platform.Client
	creds    *CredentialResolver
	cache    cache.Cache
	log      *log.Entry
}

// NewLocationResolver creates a resolver; c may be nil.
func NewLocationResolver(catalog repository.CatalogRepository, client platform.Client, creds *CredentialResolver, c cache.Cache) *LocationResolver {
	return &LocationResolver{
		catalog:  catalog,
		platform: client,
		creds:    creds,
		cache:    c,
		log:      log.WithField("component", "locations"),
	}
}

func locationKey(replicaID int64, ref string) string {
	return "loc:" + strconv.FormatInt(replicaID, 10) + ":" + ref
}

// Resolve returns the location with the given platform ref in replica.
func (r *LocationResolver) Resolve(ctx context.Context, replica *model.StoreReplica, ref string) (*model.Location, error) {
	if ref == "" {
		return nil, ErrLocationUnresolved
	}
	ref = platform.GID("Location", ref)
	key := locationKey(replica.ID, ref)

	if r.cache != nil {
		var loc model.Location
		if err := cache.GetJSON(ctx, r.cache, key, &loc); err == nil {
			return &loc, nil
		}
	}

	loc, err := r.catalog.GetLocation(ctx, replica.ID, ref)
	if errors.Is(err, repository.ErrNotFound) {
		if err := r.Refresh(ctx, replica); err != nil {
			return nil, err
		}
		loc, err = r.catalog.GetLocation(ctx, replica.ID, ref)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("location %s in %s: %w", ref, replica.Domain, ErrLocationUnresolved)
	}
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		_ = cache.SetJSON(ctx, r.cache, key, loc, locationCacheTTL)
	}
	return loc, nil
}

// Primary returns replica's primary location.
func (r *LocationResolver) Primary(ctx context.Context, replica *model.StoreReplica) (*model.Location, error) {
	loc, err := r.catalog.GetPrimaryLocation(ctx, replica.ID)
	if errors.Is(err, repository.ErrNotFound) {
		if err := r.Refresh(ctx, replica); err != nil {
			return nil, err
		}
		loc, err = r.catalog.GetPrimaryLocation(ctx, replica.ID)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("primary location of %s: %w", replica.Domain, ErrLocationUnresolved)
	}
	return loc, err
}

// Refresh reloads replica's locations from the platform.
func (r *LocationResolver) Refresh(ctx context.Context, replica *model.StoreReplica) error {
	sess, err := r.creds.Session(ctx, replica)
	if err != nil {
		return err
	}
	remote, err := r.platform.ListLocations(ctx, sess)
	if err != nil {
		return fmt.Errorf("failed to list locations of %s: %w", replica.Domain, err)
	}

	locs := make([]model.Location, 0, len(remote))
	for _, l := range remote {
		locs = append(locs, model.Location{
			ReplicaID:  replica.ID,
			ExternalID: platform.GID("Location", l.Ref),
			Name:       l.Name,
			Active:     l.Active,
			Primary:    l.Primary,
		})
	}
	if err := r.catalog.SaveLocations(ctx, replica.ID, locs); err != nil {
		return err
	}
	if r.cache != nil {
		_ = r.cache.DeletePrefix(ctx, "loc:"+strconv.FormatInt(replica.ID, 10)+":")
	}

	r.log.WithFields(log.Fields{"replica": replica.Domain, "locations": len(locs)}).Debug("locations refreshed")
	return nil
}
