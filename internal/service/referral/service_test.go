package referral

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/medisched/clinic-api/internal/model"
	apperrors "github.com/medisched/clinic-api/pkg/errors"
)

type mockTxManager struct{ mock.Mock }

func (m *mockTxManager) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	m.Called(ctx)
	return fn(nil)
}

type mockReferralRepo struct{ mock.Mock }

func (m *mockReferralRepo) CreateTx(ctx context.Context, tx *sqlx.Tx, referral *model.Referral) error {
	return m.Called(ctx, tx, referral).Error(0)
}

func (m *mockReferralRepo) Get(ctx context.Context, id uuid.UUID) (*model.Referral, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Referral), args.Error(1)
}

func (m *mockReferralRepo) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*model.Referral, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Referral), args.Error(1)
}

func (m *mockReferralRepo) UpdateTx(ctx context.Context, tx *sqlx.Tx, referral *model.Referral, from model.ReferralStatus) error {
	return m.Called(ctx, tx, referral, from).Error(0)
}

func (m *mockReferralRepo) ActiveExistsForAppointment(ctx context.Context, tx *sqlx.Tx, appointmentID uuid.UUID) (bool, error) {
	args := m.Called(ctx, tx, appointmentID)
	return args.Bool(0), args.Error(1)
}

func (m *mockReferralRepo) List(ctx context.Context, filters *model.ReferralFilters) ([]*model.Referral, error) {
	args := m.Called(ctx, filters)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Referral), args.Error(1)
}

type mockAppointments struct{ mock.Mock }

func (m *mockAppointments) MarkReferredTx(ctx context.Context, tx *sqlx.Tx, apt *model.Appointment, actor model.Actor, message string) error {
	return m.Called(ctx, tx, apt, actor, message).Error(0)
}

func (m *mockAppointments) BookIncomingTx(ctx context.Context, tx *sqlx.Tx, apt *model.Appointment, actor model.Actor, message string) error {
	return m.Called(ctx, tx, apt, actor, message).Error(0)
}

func (m *mockAppointments) RestoreToPendingTx(ctx context.Context, tx *sqlx.Tx, apt *model.Appointment, actor model.Actor, message string) error {
	return m.Called(ctx, tx, apt, actor, message).Error(0)
}

func (m *mockAppointments) CompleteTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, actor model.Actor) (*model.Appointment, error) {
	args := m.Called(ctx, tx, id, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Appointment), args.Error(1)
}

func (m *mockAppointments) CancelTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, actor model.Actor, reason string) error {
	return m.Called(ctx, tx, id, actor, reason).Error(0)
}

type mockAppointmentRepo struct{ mock.Mock }

func (m *mockAppointmentRepo) CreateTx(ctx context.Context, tx *sqlx.Tx, apt *model.Appointment) error {
	return m.Called(ctx, tx, apt).Error(0)
}

func (m *mockAppointmentRepo) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Appointment), args.Error(1)
}

func (m *mockAppointmentRepo) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*model.Appointment, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Appointment), args.Error(1)
}

func (m *mockAppointmentRepo) TransitionTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, from, to model.AppointmentStatus) error {
	return m.Called(ctx, tx, id, from, to).Error(0)
}

func (m *mockAppointmentRepo) AssignStaffTx(ctx context.Context, tx *sqlx.Tx, id, staffID uuid.UUID) error {
	return m.Called(ctx, tx, id, staffID).Error(0)
}

func (m *mockAppointmentRepo) RescheduleTx(ctx context.Context, tx *sqlx.Tx, apt *model.Appointment) error {
	return m.Called(ctx, tx, apt).Error(0)
}

func (m *mockAppointmentRepo) AppendNotesTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, note string) error {
	return m.Called(ctx, tx, id, note).Error(0)
}

func (m *mockAppointmentRepo) List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error) {
	args := m.Called(ctx, filters)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Appointment), args.Error(1)
}

type mockCatalog struct{ mock.Mock }

func (m *mockCatalog) Lookup(ctx context.Context, branchID, treatmentID uuid.UUID) (*model.Treatment, error) {
	args := m.Called(ctx, branchID, treatmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Treatment), args.Error(1)
}

type mockRecorder struct{ mock.Mock }

func (m *mockRecorder) RecordTx(ctx context.Context, tx *sqlx.Tx, appointmentID uuid.UUID, eventType model.HistoryEventType, message string, actor model.Actor, snapshot model.HistorySnapshot) error {
	return m.Called(ctx, tx, appointmentID, eventType, message, actor, snapshot).Error(0)
}

type mockInvoicer struct{ mock.Mock }

func (m *mockInvoicer) GenerateInvoice(ctx context.Context, apt *model.Appointment, staffID uuid.UUID) (*model.Invoice, error) {
	args := m.Called(ctx, apt, staffID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Invoice), args.Error(1)
}

type mockBranchRepo struct{ mock.Mock }

func (m *mockBranchRepo) Get(ctx context.Context, id uuid.UUID) (*model.Branch, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Branch), args.Error(1)
}

func (m *mockBranchRepo) List(ctx context.Context) ([]*model.Branch, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Branch), args.Error(1)
}

type mockRecordRepo struct{ mock.Mock }

func (m *mockRecordRepo) Create(ctx context.Context, record *model.ClinicalRecord) error {
	return m.Called(ctx, record).Error(0)
}

func (m *mockRecordRepo) ExistsForAppointment(ctx context.Context, appointmentID uuid.UUID) (bool, error) {
	args := m.Called(ctx, appointmentID)
	return args.Bool(0), args.Error(1)
}

func (m *mockRecordRepo) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*model.ClinicalRecord, error) {
	args := m.Called(ctx, appointmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.ClinicalRecord), args.Error(1)
}

type mockOutboxRepo struct{ mock.Mock }

func (m *mockOutboxRepo) CreateTx(ctx context.Context, tx *sqlx.Tx, event *model.OutboxEvent) error {
	return m.Called(ctx, tx, event).Error(0)
}

func (m *mockOutboxRepo) GetPendingWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.OutboxEvent), args.Error(1)
}

func (m *mockOutboxRepo) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockOutboxRepo) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	return m.Called(ctx, id, errMsg).Error(0)
}

type fixture struct {
	repo         *mockReferralRepo
	appointments *mockAppointments
	aptRepo      *mockAppointmentRepo
	catalog      *mockCatalog
	recorder     *mockRecorder
	invoicer     *mockInvoicer
	branches     *mockBranchRepo
	records      *mockRecordRepo
	outbox       *mockOutboxRepo
	tx           *mockTxManager
	svc          *Service
}

func newFixture() *fixture {
	f := &fixture{
		repo:         &mockReferralRepo{},
		appointments: &mockAppointments{},
		aptRepo:      &mockAppointmentRepo{},
		catalog:      &mockCatalog{},
		recorder:     &mockRecorder{},
		invoicer:     &mockInvoicer{},
		branches:     &mockBranchRepo{},
		records:      &mockRecordRepo{},
		outbox:       &mockOutboxRepo{},
		tx:           &mockTxManager{},
	}
	f.svc = NewService(
		f.repo, f.appointments, f.aptRepo, f.catalog, f.recorder,
		f.invoicer, f.branches, f.records, f.outbox, f.tx, zerolog.Nop(),
	)
	f.tx.On("WithTx", mock.Anything).Return(nil).Maybe()
	f.branches.On("Get", mock.Anything, mock.Anything).Return(&model.Branch{Name: "Uptown"}, nil).Maybe()
	return f
}

func staffActor(branchID uuid.UUID) model.Actor {
	return model.Actor{UserID: uuid.New(), Role: model.RoleStaff, BranchID: branchID}
}

func originAppointment(branchID, patientID uuid.UUID) *model.Appointment {
	treatmentID := uuid.New()
	start := time.Now().UTC().AddDate(0, 0, 7).Truncate(24 * time.Hour).Add(10 * time.Hour)
	return &model.Appointment{
		Base:        model.Base{ID: uuid.New()},
		BranchID:    branchID,
		TreatmentID: &treatmentID,
		VisitDate:   start.Truncate(24 * time.Hour),
		StartTime:   start,
		EndTime:     start.Add(30 * time.Minute),
		Status:      model.AppointmentStatusApproved,
		Patient: model.PatientIdentity{
			Kind:      model.PatientKindRegistered,
			PatientID: &patientID,
		},
	}
}

func referralFixture(fromBranch, toBranch uuid.UUID, apt *model.Appointment, status model.ReferralStatus) *model.Referral {
	return &model.Referral{
		Base:                  model.Base{ID: uuid.New()},
		PatientID:             *apt.Patient.PatientID,
		FromBranchID:          fromBranch,
		ToBranchID:            toBranch,
		FromStaffID:           uuid.New(),
		Reason:                "needs specialist attention",
		Urgency:               model.UrgencyRoutine,
		OriginalAppointmentID: apt.ID,
		Status:                status,
	}
}

func TestCreateOpensPendingPatientReferral(t *testing.T) {
	f := newFixture()
	fromBranch := uuid.New()
	toBranch := uuid.New()
	actor := staffActor(fromBranch)
	apt := originAppointment(fromBranch, uuid.New())

	f.aptRepo.On("Get", mock.Anything, apt.ID).Return(apt, nil)
	f.aptRepo.On("GetForUpdate", mock.Anything, mock.Anything, apt.ID).Return(apt, nil)
	f.repo.On("ActiveExistsForAppointment", mock.Anything, mock.Anything, apt.ID).Return(false, nil)
	f.repo.On("CreateTx", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.catalog.On("Lookup", mock.Anything, mock.Anything, mock.Anything).
		Return(&model.Treatment{Name: "Orthodontics", DurationMinutes: 60, Available: true}, nil)
	f.recorder.On("RecordTx", mock.Anything, mock.Anything, apt.ID, model.HistoryEventReferralCreated, mock.Anything, actor, mock.Anything).Return(nil)
	f.outbox.On("CreateTx", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	referral, err := f.svc.Create(context.Background(), actor, &model.CreateReferralRequest{
		AppointmentID: apt.ID,
		ToBranchID:    toBranch,
		Reason:        "needs specialist attention",
		Urgency:       model.UrgencyRoutine,
	})

	require.NoError(t, err)
	assert.Equal(t, model.ReferralStatusPendingPatient, referral.Status)
	assert.Equal(t, apt.ID, referral.OriginalAppointmentID)
	assert.Equal(t, *apt.Patient.PatientID, referral.PatientID)
}

func TestCreateRejectsSameBranch(t *testing.T) {
	f := newFixture()
	branchID := uuid.New()
	apt := originAppointment(branchID, uuid.New())

	f.aptRepo.On("Get", mock.Anything, apt.ID).Return(apt, nil)

	_, err := f.svc.Create(context.Background(), staffActor(branchID), &model.CreateReferralRequest{
		AppointmentID: apt.ID,
		ToBranchID:    branchID,
		Reason:        "r",
		Urgency:       model.UrgencyRoutine,
	})

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestCreateRejectsWalkInPatient(t *testing.T) {
	f := newFixture()
	branchID := uuid.New()
	apt := originAppointment(branchID, uuid.New())
	name := "Ada Chen"
	apt.Patient = model.PatientIdentity{Kind: model.PatientKindWalkIn, Name: &name}

	f.aptRepo.On("Get", mock.Anything, apt.ID).Return(apt, nil)

	_, err := f.svc.Create(context.Background(), staffActor(branchID), &model.CreateReferralRequest{
		AppointmentID: apt.ID,
		ToBranchID:    uuid.New(),
		Reason:        "r",
		Urgency:       model.UrgencyRoutine,
	})

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestCreateRejectsSecondActiveReferral(t *testing.T) {
	f := newFixture()
	branchID := uuid.New()
	apt := originAppointment(branchID, uuid.New())

	f.aptRepo.On("Get", mock.Anything, apt.ID).Return(apt, nil)
	f.aptRepo.On("GetForUpdate", mock.Anything, mock.Anything, apt.ID).Return(apt, nil)
	f.repo.On("ActiveExistsForAppointment", mock.Anything, mock.Anything, apt.ID).Return(true, nil)

	_, err := f.svc.Create(context.Background(), staffActor(branchID), &model.CreateReferralRequest{
		AppointmentID: apt.ID,
		ToBranchID:    uuid.New(),
		Reason:        "r",
		Urgency:       model.UrgencyUrgent,
	})

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
	f.repo.AssertNotCalled(t, "CreateTx", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateRejectsNonOriginStaff(t *testing.T) {
	f := newFixture()
	apt := originAppointment(uuid.New(), uuid.New())

	f.aptRepo.On("Get", mock.Anything, apt.ID).Return(apt, nil)

	_, err := f.svc.Create(context.Background(), staffActor(uuid.New()), &model.CreateReferralRequest{
		AppointmentID: apt.ID,
		ToBranchID:    uuid.New(),
		Reason:        "r",
		Urgency:       model.UrgencyRoutine,
	})

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthorized))
}

func TestPatientApprove(t *testing.T) {
	f := newFixture()
	apt := originAppointment(uuid.New(), uuid.New())
	ref := referralFixture(apt.BranchID, uuid.New(), apt, model.ReferralStatusPendingPatient)
	actor := model.Actor{UserID: ref.PatientID, Role: model.RolePatient}

	f.repo.On("GetForUpdate", mock.Anything, mock.Anything, ref.ID).Return(ref, nil)
	f.repo.On("UpdateTx", mock.Anything, mock.Anything, ref, model.ReferralStatusPendingPatient).Return(nil)
	f.aptRepo.On("Get", mock.Anything, apt.ID).Return(apt, nil)
	f.catalog.On("Lookup", mock.Anything, mock.Anything, mock.Anything).
		Return(&model.Treatment{Name: "Cleaning"}, nil)
	f.recorder.On("RecordTx", mock.Anything, mock.Anything, apt.ID, model.HistoryEventReferralApproved, mock.Anything, actor, mock.Anything).Return(nil)
	f.outbox.On("CreateTx", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	updated, err := f.svc.PatientDecide(context.Background(), actor, ref.ID, &model.PatientDecisionRequest{Approve: true})

	require.NoError(t, err)
	assert.Equal(t, model.ReferralStatusPatientApproved, updated.Status)
	require.NotNil(t, updated.ApprovedAt)
	// The approval lands in the origin appointment's history.
	f.recorder.AssertCalled(t, "RecordTx", mock.Anything, mock.Anything, apt.ID, model.HistoryEventReferralApproved, mock.Anything, actor, mock.Anything)
	f.appointments.AssertNotCalled(t, "RestoreToPendingTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPatientRejectRestoresOrigin(t *testing.T) {
	f := newFixture()
	apt := originAppointment(uuid.New(), uuid.New())
	ref := referralFixture(apt.BranchID, uuid.New(), apt, model.ReferralStatusPendingPatient)
	actor := model.Actor{UserID: ref.PatientID, Role: model.RolePatient}

	f.repo.On("GetForUpdate", mock.Anything, mock.Anything, ref.ID).Return(ref, nil)
	f.repo.On("UpdateTx", mock.Anything, mock.Anything, ref, model.ReferralStatusPendingPatient).Return(nil)
	f.aptRepo.On("GetForUpdate", mock.Anything, mock.Anything, apt.ID).Return(apt, nil)
	f.appointments.On("RestoreToPendingTx", mock.Anything, mock.Anything, apt, actor, mock.Anything).Return(nil)
	f.outbox.On("CreateTx", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	updated, err := f.svc.PatientDecide(context.Background(), actor, ref.ID, &model.PatientDecisionRequest{
		Approve: false,
		Notes:   "too far away",
	})

	require.NoError(t, err)
	assert.Equal(t, model.ReferralStatusPatientRejected, updated.Status)
	require.NotNil(t, updated.CancelledAt)
	f.appointments.AssertCalled(t, "RestoreToPendingTx", mock.Anything, mock.Anything, apt, actor, mock.Anything)
}

func TestPatientDecideHidesOthersReferrals(t *testing.T) {
	f := newFixture()
	apt := originAppointment(uuid.New(), uuid.New())
	ref := referralFixture(apt.BranchID, uuid.New(), apt, model.ReferralStatusPendingPatient)

	f.repo.On("GetForUpdate", mock.Anything, mock.Anything, ref.ID).Return(ref, nil)

	_, err := f.svc.PatientDecide(context.Background(), model.Actor{UserID: uuid.New(), Role: model.RolePatient}, ref.ID, &model.PatientDecisionRequest{Approve: true})

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func acceptRequest() *model.AcceptReferralRequest {
	return &model.AcceptReferralRequest{
		VisitDate: time.Now().UTC().AddDate(0, 0, 14).Format(model.DateLayout),
		StartTime: "11:00",
	}
}

func TestAcceptBooksDestinationAndMarksOriginReferred(t *testing.T) {
	f := newFixture()
	toBranch := uuid.New()
	actor := staffActor(toBranch)
	apt := originAppointment(uuid.New(), uuid.New())
	ref := referralFixture(apt.BranchID, toBranch, apt, model.ReferralStatusPatientApproved)

	f.repo.On("GetForUpdate", mock.Anything, mock.Anything, ref.ID).Return(ref, nil)
	f.aptRepo.On("GetForUpdate", mock.Anything, mock.Anything, apt.ID).Return(apt, nil)
	f.appointments.On("BookIncomingTx", mock.Anything, mock.Anything, mock.MatchedBy(func(newApt *model.Appointment) bool {
		return newApt.BranchID == toBranch &&
			newApt.Status == model.AppointmentStatusApproved &&
			newApt.Patient.Kind == model.PatientKindRegistered &&
			*newApt.Patient.PatientID == ref.PatientID &&
			newApt.EndTime.Sub(newApt.StartTime) == time.Duration(GeneralConsultationMinutes)*time.Minute
	}), actor, mock.Anything).Return(nil)
	f.appointments.On("MarkReferredTx", mock.Anything, mock.Anything, apt, actor, mock.Anything).Return(nil)
	f.repo.On("UpdateTx", mock.Anything, mock.Anything, ref, model.ReferralStatusPatientApproved).Return(nil)
	f.outbox.On("CreateTx", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	updated, err := f.svc.Accept(context.Background(), actor, ref.ID, acceptRequest())

	require.NoError(t, err)
	assert.Equal(t, model.ReferralStatusAccepted, updated.Status)
	require.NotNil(t, updated.NewAppointmentID)
	assert.Equal(t, actor.UserID, *updated.RespondingStaffID)
}

func TestAcceptSlotConflictLeavesReferralApproved(t *testing.T) {
	f := newFixture()
	toBranch := uuid.New()
	actor := staffActor(toBranch)
	apt := originAppointment(uuid.New(), uuid.New())
	ref := referralFixture(apt.BranchID, toBranch, apt, model.ReferralStatusPatientApproved)

	f.repo.On("GetForUpdate", mock.Anything, mock.Anything, ref.ID).Return(ref, nil)
	f.aptRepo.On("GetForUpdate", mock.Anything, mock.Anything, apt.ID).Return(apt, nil)
	f.appointments.On("BookIncomingTx", mock.Anything, mock.Anything, mock.Anything, actor, mock.Anything).
		Return(apperrors.SlotConflict("destination slot is taken"))

	_, err := f.svc.Accept(context.Background(), actor, ref.ID, acceptRequest())

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrSlotConflict))
	f.appointments.AssertNotCalled(t, "MarkReferredTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.repo.AssertNotCalled(t, "UpdateTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAcceptRequiresDestinationStaff(t *testing.T) {
	f := newFixture()
	apt := originAppointment(uuid.New(), uuid.New())
	ref := referralFixture(apt.BranchID, uuid.New(), apt, model.ReferralStatusPatientApproved)

	f.repo.On("GetForUpdate", mock.Anything, mock.Anything, ref.ID).Return(ref, nil)

	_, err := f.svc.Accept(context.Background(), staffActor(ref.FromBranchID), ref.ID, acceptRequest())

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthorized))
}

func TestAcceptRequiresPatientApproval(t *testing.T) {
	f := newFixture()
	toBranch := uuid.New()
	apt := originAppointment(uuid.New(), uuid.New())
	ref := referralFixture(apt.BranchID, toBranch, apt, model.ReferralStatusPendingPatient)

	f.repo.On("GetForUpdate", mock.Anything, mock.Anything, ref.ID).Return(ref, nil)

	_, err := f.svc.Accept(context.Background(), staffActor(toBranch), ref.ID, acceptRequest())

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))
}

func TestRejectKeepsOriginalAppointment(t *testing.T) {
	f := newFixture()
	toBranch := uuid.New()
	actor := staffActor(toBranch)
	apt := originAppointment(uuid.New(), uuid.New())
	ref := referralFixture(apt.BranchID, toBranch, apt, model.ReferralStatusPatientApproved)

	f.repo.On("GetForUpdate", mock.Anything, mock.Anything, ref.ID).Return(ref, nil)
	f.repo.On("UpdateTx", mock.Anything, mock.Anything, ref, model.ReferralStatusPatientApproved).Return(nil)
	f.aptRepo.On("Get", mock.Anything, apt.ID).Return(apt, nil)
	f.catalog.On("Lookup", mock.Anything, mock.Anything, mock.Anything).
		Return(&model.Treatment{Name: "Cleaning"}, nil)
	f.recorder.On("RecordTx", mock.Anything, mock.Anything, apt.ID, model.HistoryEventReferralRejected, mock.Anything, actor, mock.Anything).Return(nil)
	f.outbox.On("CreateTx", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	updated, err := f.svc.Reject(context.Background(), actor, ref.ID, &model.RejectReferralRequest{
		Reason: "no orthodontist on staff",
	})

	require.NoError(t, err)
	assert.Equal(t, model.ReferralStatusRejected, updated.Status)
	require.NotNil(t, updated.ResponseNotes)
	assert.Equal(t, "no orthodontist on staff", *updated.ResponseNotes)
	assert.Equal(t, model.AppointmentStatusApproved, apt.Status)
	f.appointments.AssertNotCalled(t, "MarkReferredTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCompleteBillingFailureBecomesWarning(t *testing.T) {
	f := newFixture()
	toBranch := uuid.New()
	actor := staffActor(toBranch)
	apt := originAppointment(uuid.New(), uuid.New())
	ref := referralFixture(apt.BranchID, toBranch, apt, model.ReferralStatusAccepted)
	newAptID := uuid.New()
	ref.NewAppointmentID = &newAptID
	completed := &model.Appointment{
		Base:     model.Base{ID: newAptID},
		BranchID: toBranch,
		Status:   model.AppointmentStatusCompleted,
	}

	f.repo.On("Get", mock.Anything, ref.ID).Return(ref, nil)
	f.records.On("ExistsForAppointment", mock.Anything, newAptID).Return(true, nil)
	f.repo.On("GetForUpdate", mock.Anything, mock.Anything, ref.ID).Return(ref, nil)
	f.appointments.On("CompleteTx", mock.Anything, mock.Anything, newAptID, actor).Return(completed, nil)
	f.repo.On("UpdateTx", mock.Anything, mock.Anything, ref, model.ReferralStatusAccepted).Return(nil)
	f.outbox.On("CreateTx", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.invoicer.On("GenerateInvoice", mock.Anything, completed, actor.UserID).
		Return(nil, errors.New("billing backend down"))

	updated, warnings, err := f.svc.Complete(context.Background(), actor, ref.ID)

	require.NoError(t, err)
	assert.Equal(t, model.ReferralStatusCompleted, updated.Status)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "invoice generation failed")
}

func TestCompleteRequiresClinicalRecord(t *testing.T) {
	f := newFixture()
	toBranch := uuid.New()
	apt := originAppointment(uuid.New(), uuid.New())
	ref := referralFixture(apt.BranchID, toBranch, apt, model.ReferralStatusAccepted)
	newAptID := uuid.New()
	ref.NewAppointmentID = &newAptID

	f.repo.On("Get", mock.Anything, ref.ID).Return(ref, nil)
	f.records.On("ExistsForAppointment", mock.Anything, newAptID).Return(false, nil)

	_, _, err := f.svc.Complete(context.Background(), staffActor(toBranch), ref.ID)

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrPreconditionFailed))
	f.appointments.AssertNotCalled(t, "CompleteTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCancelAlsoCancelsDestinationAppointment(t *testing.T) {
	f := newFixture()
	toBranch := uuid.New()
	actor := staffActor(toBranch)
	apt := originAppointment(uuid.New(), uuid.New())
	ref := referralFixture(apt.BranchID, toBranch, apt, model.ReferralStatusAccepted)
	newAptID := uuid.New()
	ref.NewAppointmentID = &newAptID

	f.repo.On("GetForUpdate", mock.Anything, mock.Anything, ref.ID).Return(ref, nil)
	f.repo.On("UpdateTx", mock.Anything, mock.Anything, ref, model.ReferralStatusAccepted).Return(nil)
	f.appointments.On("CancelTx", mock.Anything, mock.Anything, newAptID, actor, mock.Anything).Return(nil)
	f.aptRepo.On("Get", mock.Anything, apt.ID).Return(apt, nil)
	f.catalog.On("Lookup", mock.Anything, mock.Anything, mock.Anything).
		Return(&model.Treatment{Name: "Cleaning"}, nil)
	f.recorder.On("RecordTx", mock.Anything, mock.Anything, apt.ID, model.HistoryEventReferralCancelled, mock.Anything, actor, mock.Anything).Return(nil)
	f.outbox.On("CreateTx", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	updated, err := f.svc.Cancel(context.Background(), actor, ref.ID, "patient moved away")

	require.NoError(t, err)
	assert.Equal(t, model.ReferralStatusCancelled, updated.Status)
	f.appointments.AssertCalled(t, "CancelTx", mock.Anything, mock.Anything, newAptID, actor, mock.Anything)
	f.recorder.AssertCalled(t, "RecordTx", mock.Anything, mock.Anything, apt.ID, model.HistoryEventReferralCancelled, mock.Anything, actor, mock.Anything)
}

func TestCancelRejectsTerminalReferral(t *testing.T) {
	f := newFixture()
	toBranch := uuid.New()
	apt := originAppointment(uuid.New(), uuid.New())
	ref := referralFixture(apt.BranchID, toBranch, apt, model.ReferralStatusCompleted)

	f.repo.On("GetForUpdate", mock.Anything, mock.Anything, ref.ID).Return(ref, nil)

	_, err := f.svc.Cancel(context.Background(), staffActor(toBranch), ref.ID, "too late")

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))
}

func TestCancelRequiresReason(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Cancel(context.Background(), staffActor(uuid.New()), uuid.New(), "")

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestGetHidesReferralFromUninvolvedBranch(t *testing.T) {
	f := newFixture()
	apt := originAppointment(uuid.New(), uuid.New())
	ref := referralFixture(apt.BranchID, uuid.New(), apt, model.ReferralStatusPendingPatient)

	f.repo.On("Get", mock.Anything, ref.ID).Return(ref, nil)

	_, err := f.svc.Get(context.Background(), staffActor(uuid.New()), ref.ID)

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}
