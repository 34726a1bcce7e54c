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

const appointmentColumns = `
	id, branch_id, treatment_id, staff_id, visit_date, start_time, end_time,
	status, notes, patient_kind, patient_id, walkin_name, walkin_phone,
	walkin_email, walkin_birth_date, walkin_address, created_at, updated_at
`

// appointmentRow is the flat scan target for the appointments table;
// the tagged patient variant is folded back in toModel.
type appointmentRow struct {
	ID              uuid.UUID               `db:"id"`
	BranchID        uuid.UUID               `db:"branch_id"`
	TreatmentID     *uuid.UUID              `db:"treatment_id"`
	StaffID         *uuid.UUID              `db:"staff_id"`
	VisitDate       time.Time               `db:"visit_date"`
	StartTime       time.Time               `db:"start_time"`
	EndTime         time.Time               `db:"end_time"`
	Status          model.AppointmentStatus `db:"status"`
	Notes           string                  `db:"notes"`
	PatientKind     model.PatientKind       `db:"patient_kind"`
	PatientID       *uuid.UUID              `db:"patient_id"`
	WalkinName      *string                 `db:"walkin_name"`
	WalkinPhone     *string                 `db:"walkin_phone"`
	WalkinEmail     *string                 `db:"walkin_email"`
	WalkinBirthDate *time.Time              `db:"walkin_birth_date"`
	WalkinAddress   *string                 `db:"walkin_address"`
	CreatedAt       time.Time               `db:"created_at"`
	UpdatedAt       time.Time               `db:"updated_at"`
}

func (row *appointmentRow) toModel() *model.Appointment {
	return &model.Appointment{
		Base: model.Base{
			ID:        row.ID,
			CreatedAt: row.CreatedAt,
			UpdatedAt: row.UpdatedAt,
		},
		BranchID:    row.BranchID,
		TreatmentID: row.TreatmentID,
		StaffID:     row.StaffID,
		VisitDate:   row.VisitDate,
		StartTime:   row.StartTime,
		EndTime:     row.EndTime,
		Status:      row.Status,
		Notes:       row.Notes,
		Patient: model.PatientIdentity{
			Kind:      row.PatientKind,
			PatientID: row.PatientID,
			Name:      row.WalkinName,
			Phone:     row.WalkinPhone,
			Email:     row.WalkinEmail,
			BirthDate: row.WalkinBirthDate,
			Address:   row.WalkinAddress,
		},
	}
}

func (r *appointmentRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, apt *model.Appointment) error {
	query := `
		INSERT INTO appointments (
			id, branch_id, treatment_id, staff_id, visit_date, start_time, end_time,
			status, notes, patient_kind, patient_id, walkin_name, walkin_phone,
			walkin_email, walkin_birth_date, walkin_address, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err := tx.ExecContext(ctx, query,
		apt.ID,
		apt.BranchID,
		apt.TreatmentID,
		apt.StaffID,
		apt.VisitDate,
		apt.StartTime,
		apt.EndTime,
		apt.Status,
		apt.Notes,
		apt.Patient.Kind,
		apt.Patient.PatientID,
		apt.Patient.Name,
		apt.Patient.Phone,
		apt.Patient.Email,
		apt.Patient.BirthDate,
		apt.Patient.Address,
		apt.CreatedAt,
		apt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`

	var row appointmentRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("appointment", err)
		}
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}
	return row.toModel(), nil
}

func (r *appointmentRepository) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1 FOR UPDATE`

	var row appointmentRow
	if err := tx.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("appointment", err)
		}
		return nil, fmt.Errorf("failed to lock appointment: %w", err)
	}
	return row.toModel(), nil
}

func (r *appointmentRepository) TransitionTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, from, to model.AppointmentStatus) error {
	query := `
		UPDATE appointments
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	result, err := tx.ExecContext(ctx, query, to, time.Now(), id, from)
	if err != nil {
		return fmt.Errorf("failed to transition appointment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// The row moved underneath us; the expected status is gone.
		return apperrors.InvalidTransition(string(from), string(to))
	}
	return nil
}

func (r *appointmentRepository) AssignStaffTx(ctx context.Context, tx *sqlx.Tx, id, staffID uuid.UUID) error {
	query := `
		UPDATE appointments
		SET staff_id = $1, updated_at = $2
		WHERE id = $3
	`
	result, err := tx.ExecContext(ctx, query, staffID, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to assign staff: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound("appointment", nil)
	}
	return nil
}

func (r *appointmentRepository) RescheduleTx(ctx context.Context, tx *sqlx.Tx, apt *model.Appointment) error {
	query := `
		UPDATE appointments
		SET visit_date = $1, start_time = $2, end_time = $3, treatment_id = $4,
		    notes = $5, updated_at = $6
		WHERE id = $7 AND status = $8
	`
	apt.UpdatedAt = time.Now()

	result, err := tx.ExecContext(ctx, query,
		apt.VisitDate,
		apt.StartTime,
		apt.EndTime,
		apt.TreatmentID,
		apt.Notes,
		apt.UpdatedAt,
		apt.ID,
		model.AppointmentStatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to reschedule appointment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.InvalidTransition(string(apt.Status), string(model.AppointmentStatusPending))
	}
	return nil
}

// AppendNotesTx concatenates onto the notes column; earlier notes are
// never rewritten.
func (r *appointmentRepository) AppendNotesTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, note string) error {
	query := `
		UPDATE appointments
		SET notes = CASE WHEN notes = '' THEN $1 ELSE notes || E'\n' || $1 END,
		    updated_at = $2
		WHERE id = $3
	`
	result, err := tx.ExecContext(ctx, query, note, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to append notes: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound("appointment", nil)
	}
	return nil
}

func (r *appointmentRepository) List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE 1=1`
	args := []interface{}{}
	argCount := 1

	if filters.BranchID != uuid.Nil {
		query += fmt.Sprintf(" AND branch_id = $%d", argCount)
		args = append(args, filters.BranchID)
		argCount++
	}
	if filters.PatientID != uuid.Nil {
		query += fmt.Sprintf(" AND patient_id = $%d", argCount)
		args = append(args, filters.PatientID)
		argCount++
	}
	if filters.StaffID != uuid.Nil {
		query += fmt.Sprintf(" AND staff_id = $%d", argCount)
		args = append(args, filters.StaffID)
		argCount++
	}
	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, filters.Status)
		argCount++
	}
	if filters.PatientKind != "" {
		query += fmt.Sprintf(" AND patient_kind = $%d", argCount)
		args = append(args, filters.PatientKind)
		argCount++
	}
	if !filters.StartDate.IsZero() {
		query += fmt.Sprintf(" AND visit_date >= $%d", argCount)
		args = append(args, filters.StartDate)
		argCount++
	}
	if !filters.EndDate.IsZero() {
		query += fmt.Sprintf(" AND visit_date <= $%d", argCount)
		args = append(args, filters.EndDate)
		argCount++
	}

	// Registered and walk-in rows come back as one chronological list.
	query += " ORDER BY start_time ASC"

	var rows []appointmentRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}

	appointments := make([]*model.Appointment, 0, len(rows))
	for i := range rows {
		appointments = append(appointments, rows[i].toModel())
	}
	return appointments, nil
}
