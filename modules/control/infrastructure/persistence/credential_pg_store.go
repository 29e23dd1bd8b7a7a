package persistence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/gridlume/gridlume/modules/control/domain/ports"
	"github.com/gridlume/gridlume/modules/control/domain/types"
)

// CredentialPGStore resolves API keys against control.api_client. Keys are
// stored only as SHA-256 digests; a disabled client resolves as unknown.
type CredentialPGStore struct {
	pool pgBeginner
}

func NewCredentialPGStore(pool pgBeginner) *CredentialPGStore {
	return &CredentialPGStore{pool: pool}
}

func HashAPIKey(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}

func (s *CredentialPGStore) Resolve(ctx context.Context, credential string) (types.Principal, error) {
	if credential == "" {
		return types.Principal{}, ports.ErrUnknownCredential
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.Principal{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	var p types.Principal
	err = tx.QueryRow(ctx, `
	SELECT client_id::text, name, project_id::text, scopes
	FROM control.api_client
	WHERE api_key_sha256 = $1 AND disabled_at IS NULL
	`, HashAPIKey(credential)).Scan(&p.ClientID, &p.ClientName, &p.ProjectID, &p.Scopes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Principal{}, ports.ErrUnknownCredential
		}
		return types.Principal{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.Principal{}, err
	}
	return p, nil
}
