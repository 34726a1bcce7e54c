package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/medisched/clinic-api/internal/model"
	apperrors "github.com/medisched/clinic-api/pkg/errors"
)

func (r *branchRepository) Get(ctx context.Context, id uuid.UUID) (*model.Branch, error) {
	query := `
		SELECT id, name, address, phone, active, created_at, updated_at
		FROM branches
		WHERE id = $1
	`
	var branch model.Branch
	if err := r.db.GetContext(ctx, &branch, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("branch", err)
		}
		return nil, fmt.Errorf("failed to get branch: %w", err)
	}
	return &branch, nil
}

func (r *branchRepository) List(ctx context.Context) ([]*model.Branch, error) {
	query := `
		SELECT id, name, address, phone, active, created_at, updated_at
		FROM branches
		WHERE active = true
		ORDER BY name ASC
	`
	var branches []*model.Branch
	if err := r.db.SelectContext(ctx, &branches, query); err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	return branches, nil
}
