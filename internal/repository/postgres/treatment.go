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

const treatmentColumns = `
	id, branch_id, name, description, duration_minutes, price, available,
	created_at, updated_at
`

func (r *treatmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Treatment, error) {
	query := `SELECT ` + treatmentColumns + ` FROM treatments WHERE id = $1`

	var treatment model.Treatment
	if err := r.db.GetContext(ctx, &treatment, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("treatment", err)
		}
		return nil, fmt.Errorf("failed to get treatment: %w", err)
	}
	return &treatment, nil
}

func (r *treatmentRepository) GetForBranch(ctx context.Context, branchID, treatmentID uuid.UUID) (*model.Treatment, error) {
	query := `SELECT ` + treatmentColumns + ` FROM treatments WHERE id = $1 AND branch_id = $2`

	var treatment model.Treatment
	if err := r.db.GetContext(ctx, &treatment, query, treatmentID, branchID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("treatment", err)
		}
		return nil, fmt.Errorf("failed to get treatment: %w", err)
	}
	return &treatment, nil
}

func (r *treatmentRepository) ListByBranch(ctx context.Context, branchID uuid.UUID) ([]*model.Treatment, error) {
	query := `
		SELECT ` + treatmentColumns + `
		FROM treatments
		WHERE branch_id = $1
		ORDER BY name ASC
	`
	var treatments []*model.Treatment
	if err := r.db.SelectContext(ctx, &treatments, query, branchID); err != nil {
		return nil, fmt.Errorf("failed to list treatments: %w", err)
	}
	return treatments, nil
}
