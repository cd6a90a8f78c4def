package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// MySQLCredentialRepository reads replica access tokens from the app's shared
// sessions table, one row per installed shop.
type MySQLCredentialRepository struct {
	db *sql.DB
}

// NewMySQLCredentialRepository creates a new MySQL credential repository.
func NewMySQLCredentialRepository(db *sql.DB) *MySQLCredentialRepository {
	return &MySQLCredentialRepository{db: db}
}

// GetCredential finds the offline session for a shop domain. A non-empty ref
// selects a specific session id instead of the newest offline one.
func (r *MySQLCredentialRepository) GetCredential(ctx context.Context, domain, ref string) (*Credential, error) {
	query := `
		SELECT shop, access_token, scope
		FROM sessions
		WHERE shop = ? AND is_online = 0 AND access_token <> ''
		ORDER BY updated_at DESC
		LIMIT 1`
	args := []any{domain}
	if ref != "" {
		query = `SELECT shop, access_token, scope FROM sessions WHERE id = ? AND shop = ? LIMIT 1`
		args = []any{ref, domain}
	}

	var c Credential
	var scope sql.NullString
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&c.Domain, &c.AccessToken, &scope)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.WithField("component", "credentials").Warnf("No session found for %s", domain)
			return nil, fmt.Errorf("credential for %s: %w", domain, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	c.Scope = scope.String
	return &c, nil
}

// StaticCredentialRepository serves credentials from a fixed map keyed by
// domain. Domains missing from the map use the replica's credential
// reference as the token.
type StaticCredentialRepository struct {
	creds map[string]Credential
}

// NewStaticCredentialRepository creates a credential repository from a map of domain to token.
func NewStaticCredentialRepository(tokens map[string]string) *StaticCredentialRepository {
	creds := make(map[string]Credential, len(tokens))
	for domain, token := range tokens {
		creds[domain] = Credential{Domain: domain, AccessToken: token}
	}
	return &StaticCredentialRepository{creds: creds}
}

// GetCredential returns the stored credential for domain.
func (r *StaticCredentialRepository) GetCredential(_ context.Context, domain, ref string) (*Credential, error) {
	if c, ok := r.creds[domain]; ok {
		return &c, nil
	}
	if ref != "" {
		return &Credential{Domain: domain, AccessToken: ref}, nil
	}
	return nil, fmt.Errorf("credential for %s: %w", domain, ErrNotFound)
}

var (
	_ CredentialRepository = (*MySQLCredentialRepository)(nil)
	_ CredentialRepository = (*StaticCredentialRepository)(nil)
)
