package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/medisched/clinic-api/internal/model"
)

func (r *clinicalRecordRepository) Create(ctx context.Context, record *model.ClinicalRecord) error {
	query := `
		INSERT INTO clinical_records (
			id, appointment_id, staff_id, diagnosis, prescription, notes,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.AppointmentID,
		record.StaffID,
		record.Diagnosis,
		record.Prescription,
		record.Notes,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create clinical record: %w", err)
	}
	return nil
}

func (r *clinicalRecordRepository) ExistsForAppointment(ctx context.Context, appointmentID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM clinical_records WHERE appointment_id = $1)`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, appointmentID); err != nil {
		return false, fmt.Errorf("failed to check clinical records: %w", err)
	}
	return exists, nil
}

func (r *clinicalRecordRepository) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*model.ClinicalRecord, error) {
	query := `
		SELECT id, appointment_id, staff_id, diagnosis, prescription, notes,
		       created_at, updated_at
		FROM clinical_records
		WHERE appointment_id = $1
		ORDER BY created_at ASC
	`
	var records []*model.ClinicalRecord
	if err := r.db.SelectContext(ctx, &records, query, appointmentID); err != nil {
		return nil, fmt.Errorf("failed to list clinical records: %w", err)
	}
	return records, nil
}
