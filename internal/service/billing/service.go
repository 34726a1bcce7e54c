package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medisched/clinic-api/internal/model"
	"github.com/medisched/clinic-api/internal/repository"
)

// Service is the billing trigger: it turns a completed appointment into
// an invoice, exactly once per appointment id. It runs after the
// completing transaction commits, so a billing failure never rolls the
// transition back.
type Service struct {
	invoices   repository.InvoiceRepository
	treatments repository.TreatmentRepository
	logger     zerolog.Logger
}

func NewService(invoices repository.InvoiceRepository, treatments repository.TreatmentRepository, logger zerolog.Logger) *Service {
	return &Service{
		invoices:   invoices,
		treatments: treatments,
		logger:     logger,
	}
}

// GenerateInvoice is idempotent: if an invoice already exists for the
// appointment, it is returned unchanged and no second one is created.
func (s *Service) GenerateInvoice(ctx context.Context, apt *model.Appointment, staffID uuid.UUID) (*model.Invoice, error) {
	// Referral-created consultations carry no treatment; the invoice is
	// issued at zero and adjusted by billing staff.
	treatmentName := "general consultation"
	var amount int64
	if apt.TreatmentID != nil {
		t, err := s.treatments.Get(ctx, *apt.TreatmentID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve treatment for invoice: %w", err)
		}
		treatmentName = t.Name
		amount = t.Price
	}

	now := time.Now()
	invoice := &model.Invoice{
		Base: model.Base{
			ID:        uuid.New(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		AppointmentID: apt.ID,
		BranchID:      apt.BranchID,
		IssuedBy:      staffID,
		TreatmentName: treatmentName,
		Amount:        amount,
		Status:        model.InvoiceStatusIssued,
		IssuedAt:      now,
	}

	created, err := s.invoices.CreateIfAbsent(ctx, invoice)
	if err != nil {
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}
	if !created {
		s.logger.Debug().
			Str("appointment_id", apt.ID.String()).
			Msg("invoice already exists, skipping")
		return s.invoices.GetByAppointment(ctx, apt.ID)
	}

	s.logger.Info().
		Str("invoice_id", invoice.ID.String()).
		Str("appointment_id", apt.ID.String()).
		Int64("amount", invoice.Amount).
		Msg("invoice generated")
	return invoice, nil
}
