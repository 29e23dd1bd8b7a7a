package persistence

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/gridlume/gridlume/modules/control/domain/ports"
)

type ProjectPGStore struct {
	pool pgBeginner
}

func NewProjectPGStore(pool pgBeginner) *ProjectPGStore {
	return &ProjectPGStore{pool: pool}
}

func (s *ProjectPGStore) ProjectIDByCode(ctx context.Context, code string) (string, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return "", ports.ErrProjectNotFound
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	var projectID string
	err = tx.QueryRow(ctx, `
	SELECT project_id::text FROM control.project WHERE code = $1
	`, code).Scan(&projectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ports.ErrProjectNotFound
		}
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return projectID, nil
}
