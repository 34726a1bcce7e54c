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

// CreateIfAbsent relies on the unique constraint on appointment_id;
// a second call for the same appointment is a silent no-op.
func (r *invoiceRepository) CreateIfAbsent(ctx context.Context, invoice *model.Invoice) (bool, error) {
	query := `
		INSERT INTO invoices (
			id, appointment_id, branch_id, issued_by, treatment_name, amount,
			status, issued_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (appointment_id) DO NOTHING
	`
	result, err := r.db.ExecContext(ctx, query,
		invoice.ID,
		invoice.AppointmentID,
		invoice.BranchID,
		invoice.IssuedBy,
		invoice.TreatmentName,
		invoice.Amount,
		invoice.Status,
		invoice.IssuedAt,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create invoice: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *invoiceRepository) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*model.Invoice, error) {
	query := `
		SELECT id, appointment_id, branch_id, issued_by, treatment_name, amount,
		       status, issued_at, created_at, updated_at
		FROM invoices
		WHERE appointment_id = $1
	`
	var invoice model.Invoice
	if err := r.db.GetContext(ctx, &invoice, query, appointmentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("invoice", err)
		}
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return &invoice, nil
}
