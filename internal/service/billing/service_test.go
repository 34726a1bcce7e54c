package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/medisched/clinic-api/internal/model"
)

type mockInvoiceRepo struct{ mock.Mock }

func (m *mockInvoiceRepo) CreateIfAbsent(ctx context.Context, invoice *model.Invoice) (bool, error) {
	args := m.Called(ctx, invoice)
	return args.Bool(0), args.Error(1)
}

func (m *mockInvoiceRepo) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*model.Invoice, error) {
	args := m.Called(ctx, appointmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Invoice), args.Error(1)
}

type mockTreatmentRepo struct{ mock.Mock }

func (m *mockTreatmentRepo) Get(ctx context.Context, id uuid.UUID) (*model.Treatment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Treatment), args.Error(1)
}

func (m *mockTreatmentRepo) GetForBranch(ctx context.Context, branchID, treatmentID uuid.UUID) (*model.Treatment, error) {
	args := m.Called(ctx, branchID, treatmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Treatment), args.Error(1)
}

func (m *mockTreatmentRepo) ListByBranch(ctx context.Context, branchID uuid.UUID) ([]*model.Treatment, error) {
	args := m.Called(ctx, branchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Treatment), args.Error(1)
}

func completedAppointment(treatmentID *uuid.UUID) *model.Appointment {
	return &model.Appointment{
		Base:        model.Base{ID: uuid.New()},
		BranchID:    uuid.New(),
		TreatmentID: treatmentID,
		Status:      model.AppointmentStatusCompleted,
	}
}

func TestGenerateInvoicePricesFromTreatment(t *testing.T) {
	invoices := &mockInvoiceRepo{}
	treatments := &mockTreatmentRepo{}
	svc := NewService(invoices, treatments, zerolog.Nop())

	treatmentID := uuid.New()
	apt := completedAppointment(&treatmentID)
	staffID := uuid.New()

	treatments.On("Get", mock.Anything, treatmentID).
		Return(&model.Treatment{Name: "Root Canal", Price: 45000}, nil)
	invoices.On("CreateIfAbsent", mock.Anything, mock.MatchedBy(func(inv *model.Invoice) bool {
		return inv.AppointmentID == apt.ID &&
			inv.TreatmentName == "Root Canal" &&
			inv.Amount == 45000 &&
			inv.Status == model.InvoiceStatusIssued &&
			inv.IssuedBy == staffID
	})).Return(true, nil)

	invoice, err := svc.GenerateInvoice(context.Background(), apt, staffID)

	require.NoError(t, err)
	assert.Equal(t, int64(45000), invoice.Amount)
	invoices.AssertNotCalled(t, "GetByAppointment", mock.Anything, mock.Anything)
}

func TestGenerateInvoiceIdempotent(t *testing.T) {
	invoices := &mockInvoiceRepo{}
	treatments := &mockTreatmentRepo{}
	svc := NewService(invoices, treatments, zerolog.Nop())

	apt := completedAppointment(nil)
	existing := &model.Invoice{
		Base:          model.Base{ID: uuid.New()},
		AppointmentID: apt.ID,
		Amount:        12000,
		Status:        model.InvoiceStatusIssued,
	}

	invoices.On("CreateIfAbsent", mock.Anything, mock.Anything).Return(false, nil)
	invoices.On("GetByAppointment", mock.Anything, apt.ID).Return(existing, nil)

	first, err := svc.GenerateInvoice(context.Background(), apt, uuid.New())
	require.NoError(t, err)
	second, err := svc.GenerateInvoice(context.Background(), apt, uuid.New())
	require.NoError(t, err)

	assert.Equal(t, existing.ID, first.ID)
	assert.Equal(t, existing.ID, second.ID)
	invoices.AssertNumberOfCalls(t, "GetByAppointment", 2)
}

func TestGenerateInvoiceConsultationHasZeroAmount(t *testing.T) {
	invoices := &mockInvoiceRepo{}
	svc := NewService(invoices, &mockTreatmentRepo{}, zerolog.Nop())

	apt := completedAppointment(nil)

	invoices.On("CreateIfAbsent", mock.Anything, mock.MatchedBy(func(inv *model.Invoice) bool {
		return inv.TreatmentName == "general consultation" && inv.Amount == 0
	})).Return(true, nil)

	invoice, err := svc.GenerateInvoice(context.Background(), apt, uuid.New())

	require.NoError(t, err)
	assert.Equal(t, int64(0), invoice.Amount)
}

func TestGenerateInvoicePropagatesStorageError(t *testing.T) {
	invoices := &mockInvoiceRepo{}
	svc := NewService(invoices, &mockTreatmentRepo{}, zerolog.Nop())

	invoices.On("CreateIfAbsent", mock.Anything, mock.Anything).
		Return(false, errors.New("connection reset"))

	_, err := svc.GenerateInvoice(context.Background(), completedAppointment(nil), uuid.New())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create invoice")
}
