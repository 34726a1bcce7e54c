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

const referralColumns = `
	id, patient_id, from_branch_id, to_branch_id, from_staff_id, responding_staff_id,
	treatment_id, reason, clinical_notes, urgency, original_appointment_id,
	new_appointment_id, status, patient_notes, response_notes,
	approved_at, responded_at, completed_at, cancelled_at, created_at, updated_at
`

func (r *referralRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, referral *model.Referral) error {
	query := `
		INSERT INTO referrals (
			id, patient_id, from_branch_id, to_branch_id, from_staff_id, responding_staff_id,
			treatment_id, reason, clinical_notes, urgency, original_appointment_id,
			new_appointment_id, status, patient_notes, response_notes,
			approved_at, responded_at, completed_at, cancelled_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`
	_, err := tx.ExecContext(ctx, query,
		referral.ID,
		referral.PatientID,
		referral.FromBranchID,
		referral.ToBranchID,
		referral.FromStaffID,
		referral.RespondingStaffID,
		referral.TreatmentID,
		referral.Reason,
		referral.ClinicalNotes,
		referral.Urgency,
		referral.OriginalAppointmentID,
		referral.NewAppointmentID,
		referral.Status,
		referral.PatientNotes,
		referral.ResponseNotes,
		referral.ApprovedAt,
		referral.RespondedAt,
		referral.CompletedAt,
		referral.CancelledAt,
		referral.CreatedAt,
		referral.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create referral: %w", err)
	}
	return nil
}

func (r *referralRepository) Get(ctx context.Context, id uuid.UUID) (*model.Referral, error) {
	query := `SELECT ` + referralColumns + ` FROM referrals WHERE id = $1`

	var referral model.Referral
	if err := r.db.GetContext(ctx, &referral, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("referral", err)
		}
		return nil, fmt.Errorf("failed to get referral: %w", err)
	}
	return &referral, nil
}

func (r *referralRepository) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*model.Referral, error) {
	query := `SELECT ` + referralColumns + ` FROM referrals WHERE id = $1 FOR UPDATE`

	var referral model.Referral
	if err := tx.GetContext(ctx, &referral, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("referral", err)
		}
		return nil, fmt.Errorf("failed to lock referral: %w", err)
	}
	return &referral, nil
}

func (r *referralRepository) UpdateTx(ctx context.Context, tx *sqlx.Tx, referral *model.Referral, from model.ReferralStatus) error {
	query := `
		UPDATE referrals
		SET responding_staff_id = $1, new_appointment_id = $2, status = $3,
		    patient_notes = $4, response_notes = $5, approved_at = $6,
		    responded_at = $7, completed_at = $8, cancelled_at = $9, updated_at = $10
		WHERE id = $11 AND status = $12
	`
	referral.UpdatedAt = time.Now()

	result, err := tx.ExecContext(ctx, query,
		referral.RespondingStaffID,
		referral.NewAppointmentID,
		referral.Status,
		referral.PatientNotes,
		referral.ResponseNotes,
		referral.ApprovedAt,
		referral.RespondedAt,
		referral.CompletedAt,
		referral.CancelledAt,
		referral.UpdatedAt,
		referral.ID,
		from,
	)
	if err != nil {
		return fmt.Errorf("failed to update referral: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.InvalidTransition(string(from), string(referral.Status))
	}
	return nil
}

func (r *referralRepository) ActiveExistsForAppointment(ctx context.Context, tx *sqlx.Tx, appointmentID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM referrals
			WHERE original_appointment_id = $1
			AND status NOT IN ('patient_rejected', 'rejected', 'completed', 'cancelled')
		)
	`
	var exists bool
	if err := tx.GetContext(ctx, &exists, query, appointmentID); err != nil {
		return false, fmt.Errorf("failed to check active referrals: %w", err)
	}
	return exists, nil
}

func (r *referralRepository) List(ctx context.Context, filters *model.ReferralFilters) ([]*model.Referral, error) {
	query := `SELECT ` + referralColumns + ` FROM referrals WHERE 1=1`
	args := []interface{}{}
	argCount := 1

	if filters.PatientID != uuid.Nil {
		query += fmt.Sprintf(" AND patient_id = $%d", argCount)
		args = append(args, filters.PatientID)
		argCount++
	}
	if filters.FromBranchID != uuid.Nil {
		query += fmt.Sprintf(" AND from_branch_id = $%d", argCount)
		args = append(args, filters.FromBranchID)
		argCount++
	}
	if filters.ToBranchID != uuid.Nil {
		query += fmt.Sprintf(" AND to_branch_id = $%d", argCount)
		args = append(args, filters.ToBranchID)
		argCount++
	}
	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, filters.Status)
		argCount++
	}

	query += " ORDER BY created_at DESC"

	var referrals []*model.Referral
	if err := r.db.SelectContext(ctx, &referrals, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list referrals: %w", err)
	}
	return referrals, nil
}
