package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/medisched/clinic-api/internal/model"
	apperrors "github.com/medisched/clinic-api/pkg/errors"
)

const timeBlockColumns = `
	id, branch_id, appointment_id, block_date, start_time, end_time,
	reason, created_by, created_at, updated_at
`

// LockDay takes a transaction-scoped advisory lock keyed on branch+date.
// Every check-then-reserve sequence for the same day contends on this
// lock, so two concurrent bookings cannot both observe "no conflict".
// The lock also covers days that have no rows yet, which a SELECT ...
// FOR UPDATE over existing rows would not.
func (r *ledgerRepository) LockDay(ctx context.Context, tx *sqlx.Tx, branchID uuid.UUID, date time.Time) error {
	query := `SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2))`
	if _, err := tx.ExecContext(ctx, query, branchID.String(), date.Format("2006-01-02")); err != nil {
		return fmt.Errorf("failed to lock schedule day: %w", err)
	}
	return nil
}

// OverlapExists applies the half-open interval rule S' < E AND E' > S
// over every active reservation for the branch+date: blocks owned by
// live appointments, manual blocks, and the appointment rows themselves.
func (r *ledgerRepository) OverlapExists(ctx context.Context, tx *sqlx.Tx, branchID uuid.UUID, date, start, end time.Time, excludeAppointmentID *uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM time_blocks b
			LEFT JOIN appointments a ON a.id = b.appointment_id
			WHERE b.branch_id = $1
			AND b.block_date = $2
			AND b.start_time < $4
			AND b.end_time > $3
			AND (b.appointment_id IS NULL OR a.status IN ('pending', 'approved'))
			UNION
			SELECT 1 FROM appointments
			WHERE branch_id = $1
			AND visit_date = $2
			AND start_time < $4
			AND end_time > $3
			AND status IN ('pending', 'approved')
	`
	args := []interface{}{branchID, date, start, end}

	if excludeAppointmentID != nil {
		query = `
		SELECT EXISTS (
			SELECT 1 FROM time_blocks b
			LEFT JOIN appointments a ON a.id = b.appointment_id
			WHERE b.branch_id = $1
			AND b.block_date = $2
			AND b.start_time < $4
			AND b.end_time > $3
			AND (b.appointment_id IS NULL OR a.status IN ('pending', 'approved'))
			AND (b.appointment_id IS NULL OR b.appointment_id != $5)
			UNION
			SELECT 1 FROM appointments
			WHERE branch_id = $1
			AND visit_date = $2
			AND start_time < $4
			AND end_time > $3
			AND status IN ('pending', 'approved')
			AND id != $5
		`
		args = append(args, *excludeAppointmentID)
	}
	query += ")"

	var exists bool
	if err := tx.GetContext(ctx, &exists, query, args...); err != nil {
		return false, fmt.Errorf("failed to check overlap: %w", err)
	}
	return exists, nil
}

func (r *ledgerRepository) CreateBlockTx(ctx context.Context, tx *sqlx.Tx, block *model.TimeBlock) error {
	query := `
		INSERT INTO time_blocks (
			id, branch_id, appointment_id, block_date, start_time, end_time,
			reason, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := tx.ExecContext(ctx, query,
		block.ID,
		block.BranchID,
		block.AppointmentID,
		block.BlockDate,
		block.StartTime,
		block.EndTime,
		block.Reason,
		block.CreatedBy,
		block.CreatedAt,
		block.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create time block: %w", err)
	}
	return nil
}

func (r *ledgerRepository) ReleaseAppointmentBlockTx(ctx context.Context, tx *sqlx.Tx, appointmentID uuid.UUID) error {
	query := `DELETE FROM time_blocks WHERE appointment_id = $1`
	if _, err := tx.ExecContext(ctx, query, appointmentID); err != nil {
		return fmt.Errorf("failed to release time block: %w", err)
	}
	return nil
}

func (r *ledgerRepository) MoveAppointmentBlockTx(ctx context.Context, tx *sqlx.Tx, appointmentID uuid.UUID, date, start, end time.Time) error {
	query := `
		UPDATE time_blocks
		SET block_date = $1, start_time = $2, end_time = $3, updated_at = $4
		WHERE appointment_id = $5
	`
	result, err := tx.ExecContext(ctx, query, date, start, end, time.Now(), appointmentID)
	if err != nil {
		return fmt.Errorf("failed to move time block: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound("time block", nil)
	}
	return nil
}

func (r *ledgerRepository) GetBlock(ctx context.Context, id uuid.UUID) (*model.TimeBlock, error) {
	query := `SELECT ` + timeBlockColumns + ` FROM time_blocks WHERE id = $1`

	var block model.TimeBlock
	if err := r.db.GetContext(ctx, &block, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("time block", err)
		}
		return nil, fmt.Errorf("failed to get time block: %w", err)
	}
	return &block, nil
}

func (r *ledgerRepository) ListBlocks(ctx context.Context, branchID uuid.UUID, date time.Time) ([]*model.TimeBlock, error) {
	query := `
		SELECT ` + timeBlockColumns + `
		FROM time_blocks
		WHERE branch_id = $1 AND block_date = $2
		ORDER BY start_time ASC
	`
	var blocks []*model.TimeBlock
	if err := r.db.SelectContext(ctx, &blocks, query, branchID, date); err != nil {
		return nil, fmt.Errorf("failed to list time blocks: %w", err)
	}
	return blocks, nil
}

func (r *ledgerRepository) DeleteManualBlock(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM time_blocks WHERE id = $1 AND appointment_id IS NULL`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete time block: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound("time block", nil)
	}
	return nil
}
