package service

import (
	"context"
	"fmt"
	"time"

	"stocksync/internal/cache"
	"stocksync/internal/model"
	"stocksync/internal/platform"
	"stocksync/internal/repository"
)

const credentialCacheTTL = 10 * time.Minute

// CredentialResolver turns a replica into a platform session.
type CredentialResolver struct {
	repo  repository.CredentialRepository
	cache cache.Cache
	ttl   time.Duration
}

// NewCredentialResolver creates a resolver; c may be nil to disable caching.
func NewCredentialResolver(repo repository.CredentialRepository, c cache.Cache) *CredentialResolver {
	return &CredentialResolver{repo: repo, cache: c, ttl: credentialCacheTTL}
}

func credentialKey(domain string) string { return "cred:" + domain }

// Session returns the session for replica.
func (r *CredentialResolver) Session(ctx context.Context, replica *model.StoreReplica) (platform.Session, error) {
	if r.cache != nil {
		var cred repository.Credential
		if err := cache.GetJSON(ctx, r.cache, credentialKey(replica.Domain), &cred); err == nil {
			return platform.Session{Domain: replica.Domain, AccessToken: cred.AccessToken}, nil
		}
	}

	cred, err := r.repo.GetCredential(ctx, replica.Domain, replica.CredentialRef)
	if err != nil {
		return platform.Session{}, fmt.Errorf("failed to resolve credentials for %s: %w", replica.Domain, err)
	}
	if r.cache != nil {
		_ = cache.SetJSON(ctx, r.cache, credentialKey(replica.Domain), cred, r.ttl)
	}
	return platform.Session{Domain: replica.Domain, AccessToken: cred.AccessToken}, nil
}

// Forget drops the cached credential for domain, e.g. after an uninstall.
func (r *CredentialResolver) Forget(ctx context.Context, domain string) {
	if r.cache != nil {
		_ = r.cache.Delete(ctx, credentialKey(domain))
	}
}
