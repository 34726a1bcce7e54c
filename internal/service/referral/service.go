package referral

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/medisched/clinic-api/internal/model"
	"github.com/medisched/clinic-api/internal/repository"
	"github.com/medisched/clinic-api/internal/service/history"
	apperrors "github.com/medisched/clinic-api/pkg/errors"
)

// GeneralConsultationMinutes sizes the destination slot when a referral
// carries no specific treatment.
const GeneralConsultationMinutes = 30

// Appointments is the slice of the appointment manager the workflow
// drives. The workflow coordinates both appointments through it and
// never touches their rows directly.
type Appointments interface {
	MarkReferredTx(ctx context.Context, tx *sqlx.Tx, apt *model.Appointment, actor model.Actor, message string) error
	BookIncomingTx(ctx context.Context, tx *sqlx.Tx, apt *model.Appointment, actor model.Actor, message string) error
	RestoreToPendingTx(ctx context.Context, tx *sqlx.Tx, apt *model.Appointment, actor model.Actor, message string) error
	CompleteTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, actor model.Actor) (*model.Appointment, error)
	CancelTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, actor model.Actor, reason string) error
}

// Catalog resolves treatments offered by a branch.
type Catalog interface {
	Lookup(ctx context.Context, branchID, treatmentID uuid.UUID) (*model.Treatment, error)
}

// Recorder appends to appointment audit timelines.
type Recorder interface {
	RecordTx(ctx context.Context, tx *sqlx.Tx, appointmentID uuid.UUID, eventType model.HistoryEventType, message string, actor model.Actor, snapshot model.HistorySnapshot) error
}

// Invoicer is the billing trigger for the destination appointment.
type Invoicer interface {
	GenerateInvoice(ctx context.Context, apt *model.Appointment, staffID uuid.UUID) (*model.Invoice, error)
}

type Service struct {
	repo         repository.ReferralRepository
	appointments Appointments
	aptRepo      repository.AppointmentRepository
	catalog      Catalog
	recorder     Recorder
	invoicer     Invoicer
	branches     repository.BranchRepository
	records      repository.ClinicalRecordRepository
	outbox       repository.OutboxRepository
	tx           repository.TxManager
	logger       zerolog.Logger
}

func NewService(
	repo repository.ReferralRepository,
	appointments Appointments,
	aptRepo repository.AppointmentRepository,
	catalog Catalog,
	recorder Recorder,
	invoicer Invoicer,
	branches repository.BranchRepository,
	records repository.ClinicalRecordRepository,
	outbox repository.OutboxRepository,
	tx repository.TxManager,
	logger zerolog.Logger,
) *Service {
	return &Service{
		repo:         repo,
		appointments: appointments,
		aptRepo:      aptRepo,
		catalog:      catalog,
		recorder:     recorder,
		invoicer:     invoicer,
		branches:     branches,
		records:      records,
		outbox:       outbox,
		tx:           tx,
		logger:       logger,
	}
}

// Create opens a referral for a pending/approved appointment. The
// origin appointment is not modified; only the history notes that a
// referral now exists.
func (s *Service) Create(ctx context.Context, actor model.Actor, req *model.CreateReferralRequest) (*model.Referral, error) {
	apt, err := s.aptRepo.Get(ctx, req.AppointmentID)
	if err != nil {
		return nil, err
	}
	if !actor.IsStaff() || actor.BranchID != apt.BranchID {
		return nil, apperrors.Unauthorized("only staff of the origin branch can refer")
	}
	if !apt.Status.IsActive() {
		return nil, apperrors.InvalidTransition(string(apt.Status), "referred")
	}
	if apt.Patient.Kind != model.PatientKindRegistered || apt.Patient.PatientID == nil {
		return nil, apperrors.Validation("walk-in appointments cannot be referred", nil)
	}
	if req.ToBranchID == apt.BranchID {
		return nil, apperrors.Validation("cannot refer to the same branch", nil)
	}

	toBranch, err := s.branches.Get(ctx, req.ToBranchID)
	if err != nil {
		return nil, err
	}

	// A specific treatment must be offered and available at the
	// destination; nil means general consultation.
	if req.TreatmentID != nil {
		if _, err := s.catalog.Lookup(ctx, req.ToBranchID, *req.TreatmentID); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	referral := &model.Referral{
		Base: model.Base{
			ID:        uuid.New(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		PatientID:             *apt.Patient.PatientID,
		FromBranchID:          apt.BranchID,
		ToBranchID:            req.ToBranchID,
		FromStaffID:           actor.UserID,
		TreatmentID:           req.TreatmentID,
		Reason:                req.Reason,
		ClinicalNotes:         req.ClinicalNotes,
		Urgency:               req.Urgency,
		OriginalAppointmentID: apt.ID,
		Status:                model.ReferralStatusPendingPatient,
	}

	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		// Lock the appointment so two referrals cannot race past the
		// single-active-referral check.
		locked, err := s.aptRepo.GetForUpdate(ctx, tx, apt.ID)
		if err != nil {
			return err
		}
		if !locked.Status.IsActive() {
			return apperrors.InvalidTransition(string(locked.Status), "referred")
		}
		active, err := s.repo.ActiveExistsForAppointment(ctx, tx, apt.ID)
		if err != nil {
			return err
		}
		if active {
			return apperrors.Validation("an active referral already exists for this appointment", nil)
		}
		if err := s.repo.CreateTx(ctx, tx, referral); err != nil {
			return err
		}
		if err := s.recorder.RecordTx(ctx, tx, apt.ID, model.HistoryEventReferralCreated,
			fmt.Sprintf("referral to %s opened, awaiting patient approval", toBranch.Name),
			actor, s.snapshotFor(ctx, locked)); err != nil {
			return err
		}
		return s.enqueueEventTx(ctx, tx, model.EventReferralCreated, referral)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("referral_id", referral.ID.String()).
		Str("from_branch", referral.FromBranchID.String()).
		Str("to_branch", referral.ToBranchID.String()).
		Str("urgency", string(referral.Urgency)).
		Msg("referral created")
	return referral, nil
}

// PatientDecide records the owning patient's approval or rejection. On
// rejection the origin appointment goes back to pending; nothing had
// changed it before this point.
func (s *Service) PatientDecide(ctx context.Context, actor model.Actor, id uuid.UUID, req *model.PatientDecisionRequest) (*model.Referral, error) {
	var referral *model.Referral
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		referral, err = s.repo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if actor.Role != model.RolePatient || referral.PatientID != actor.UserID {
			return apperrors.NotFound("referral", nil)
		}
		if referral.Status != model.ReferralStatusPendingPatient {
			target := model.ReferralStatusPatientApproved
			if !req.Approve {
				target = model.ReferralStatusPatientRejected
			}
			return apperrors.InvalidTransition(string(referral.Status), string(target))
		}

		now := time.Now()
		notes := req.Notes
		referral.PatientNotes = &notes

		if req.Approve {
			referral.Status = model.ReferralStatusPatientApproved
			referral.ApprovedAt = &now
			if err := s.repo.UpdateTx(ctx, tx, referral, model.ReferralStatusPendingPatient); err != nil {
				return err
			}
			apt, err := s.aptRepo.Get(ctx, referral.OriginalAppointmentID)
			if err != nil {
				return err
			}
			if err := s.recorder.RecordTx(ctx, tx, apt.ID, model.HistoryEventReferralApproved,
				fmt.Sprintf("patient approved the referral to %s", s.branchName(ctx, referral.ToBranchID)),
				actor, s.snapshotFor(ctx, apt)); err != nil {
				return err
			}
			return s.enqueueEventTx(ctx, tx, model.EventReferralDecided, referral)
		}

		referral.Status = model.ReferralStatusPatientRejected
		referral.CancelledAt = &now
		if err := s.repo.UpdateTx(ctx, tx, referral, model.ReferralStatusPendingPatient); err != nil {
			return err
		}

		apt, err := s.aptRepo.GetForUpdate(ctx, tx, referral.OriginalAppointmentID)
		if err != nil {
			return err
		}
		message := "patient declined the referral"
		if req.Notes != "" {
			message = fmt.Sprintf("patient declined the referral: %s", req.Notes)
		}
		if err := s.appointments.RestoreToPendingTx(ctx, tx, apt, actor, message); err != nil {
			return err
		}
		return s.enqueueEventTx(ctx, tx, model.EventReferralDecided, referral)
	})
	if err != nil {
		return nil, err
	}
	return referral, nil
}

// Accept is the five-step handoff, all in one transaction: destination
// conflict check, destination appointment created approved, origin
// marked referred with its slot released, referral linked to the new
// appointment, history on both sides. A SlotConflict aborts everything:
// the referral stays patient_approved and the origin appointment is
// untouched.
func (s *Service) Accept(ctx context.Context, actor model.Actor, id uuid.UUID, req *model.AcceptReferralRequest) (*model.Referral, error) {
	var referral *model.Referral
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		referral, err = s.repo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if !actor.IsStaff() || actor.BranchID != referral.ToBranchID {
			return apperrors.Unauthorized("only staff of the destination branch can accept")
		}
		if referral.Status != model.ReferralStatusPatientApproved {
			return apperrors.InvalidTransition(string(referral.Status), string(model.ReferralStatusAccepted))
		}

		date, err := model.ParseVisitDate(req.VisitDate)
		if err != nil {
			return apperrors.Validation(err.Error(), err)
		}
		start, err := model.CombineDateClock(date, req.StartTime)
		if err != nil {
			return apperrors.Validation(err.Error(), err)
		}
		if start.Before(time.Now()) {
			return apperrors.Validation("appointment cannot be scheduled in the past", nil)
		}

		duration := time.Duration(GeneralConsultationMinutes) * time.Minute
		if referral.TreatmentID != nil {
			t, err := s.catalog.Lookup(ctx, referral.ToBranchID, *referral.TreatmentID)
			if err != nil {
				return err
			}
			duration = t.Duration()
		}

		original, err := s.aptRepo.GetForUpdate(ctx, tx, referral.OriginalAppointmentID)
		if err != nil {
			return err
		}

		now := time.Now()
		patientID := referral.PatientID
		newApt := &model.Appointment{
			Base: model.Base{
				ID:        uuid.New(),
				CreatedAt: now,
				UpdatedAt: now,
			},
			BranchID:    referral.ToBranchID,
			TreatmentID: referral.TreatmentID,
			StaffID:     &actor.UserID,
			VisitDate:   date,
			StartTime:   start,
			EndTime:     start.Add(duration),
			Status:      model.AppointmentStatusApproved,
			Notes:       req.Notes,
			Patient: model.PatientIdentity{
				Kind:      model.PatientKindRegistered,
				PatientID: &patientID,
			},
		}

		fromBranchName := s.branchName(ctx, referral.FromBranchID)
		toBranchName := s.branchName(ctx, referral.ToBranchID)

		if err := s.appointments.BookIncomingTx(ctx, tx, newApt, actor,
			fmt.Sprintf("created from referral out of %s", fromBranchName)); err != nil {
			return err
		}
		if err := s.appointments.MarkReferredTx(ctx, tx, original, actor,
			fmt.Sprintf("patient handed off to %s", toBranchName)); err != nil {
			return err
		}

		referral.Status = model.ReferralStatusAccepted
		referral.RespondingStaffID = &actor.UserID
		referral.RespondedAt = &now
		referral.NewAppointmentID = &newApt.ID
		if req.Notes != "" {
			notes := req.Notes
			referral.ResponseNotes = &notes
		}
		if err := s.repo.UpdateTx(ctx, tx, referral, model.ReferralStatusPatientApproved); err != nil {
			return err
		}
		return s.enqueueEventTx(ctx, tx, model.EventReferralAccepted, referral)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("referral_id", referral.ID.String()).
		Str("new_appointment_id", referral.NewAppointmentID.String()).
		Msg("referral accepted")
	return referral, nil
}

// Reject ends the referral with a reason. The origin appointment keeps
// whatever status it had: it was never marked referred, and origin
// staff must explicitly re-decide what to do with it.
func (s *Service) Reject(ctx context.Context, actor model.Actor, id uuid.UUID, req *model.RejectReferralRequest) (*model.Referral, error) {
	var referral *model.Referral
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		referral, err = s.repo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if !actor.IsStaff() || actor.BranchID != referral.ToBranchID {
			return apperrors.Unauthorized("only staff of the destination branch can reject")
		}
		if referral.Status != model.ReferralStatusPatientApproved {
			return apperrors.InvalidTransition(string(referral.Status), string(model.ReferralStatusRejected))
		}

		now := time.Now()
		reason := req.Reason
		referral.Status = model.ReferralStatusRejected
		referral.RespondingStaffID = &actor.UserID
		referral.RespondedAt = &now
		referral.ResponseNotes = &reason
		if err := s.repo.UpdateTx(ctx, tx, referral, model.ReferralStatusPatientApproved); err != nil {
			return err
		}

		apt, err := s.aptRepo.Get(ctx, referral.OriginalAppointmentID)
		if err != nil {
			return err
		}
		if err := s.recorder.RecordTx(ctx, tx, apt.ID, model.HistoryEventReferralRejected,
			fmt.Sprintf("destination branch declined the referral: %s", req.Reason),
			actor, s.snapshotFor(ctx, apt)); err != nil {
			return err
		}
		return s.enqueueEventTx(ctx, tx, model.EventReferralRejected, referral)
	})
	if err != nil {
		return nil, err
	}
	return referral, nil
}

// Complete marks the destination appointment's treatment finished and
// closes the referral. The destination appointment must satisfy its own
// completed-transition precondition; billing fires after commit.
func (s *Service) Complete(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.Referral, []string, error) {
	referral, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if referral.NewAppointmentID == nil {
		return nil, nil, apperrors.InvalidTransition(string(referral.Status), string(model.ReferralStatusCompleted))
	}

	hasRecord, err := s.records.ExistsForAppointment(ctx, *referral.NewAppointmentID)
	if err != nil {
		return nil, nil, err
	}
	if !hasRecord {
		return nil, nil, apperrors.PreconditionFailed("cannot complete referral without a clinical record for the new appointment")
	}

	var newApt *model.Appointment
	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		referral, err = s.repo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if !actor.IsStaff() || actor.BranchID != referral.ToBranchID {
			return apperrors.Unauthorized("only staff of the destination branch can complete")
		}
		if referral.Status != model.ReferralStatusAccepted {
			return apperrors.InvalidTransition(string(referral.Status), string(model.ReferralStatusCompleted))
		}

		newApt, err = s.appointments.CompleteTx(ctx, tx, *referral.NewAppointmentID, actor)
		if err != nil {
			return err
		}

		now := time.Now()
		referral.Status = model.ReferralStatusCompleted
		referral.CompletedAt = &now
		if err := s.repo.UpdateTx(ctx, tx, referral, model.ReferralStatusAccepted); err != nil {
			return err
		}
		return s.enqueueEventTx(ctx, tx, model.EventReferralCompleted, referral)
	})
	if err != nil {
		return nil, nil, err
	}

	var warnings []string
	if _, err := s.invoicer.GenerateInvoice(ctx, newApt, actor.UserID); err != nil {
		s.logger.Error().Err(err).
			Str("referral_id", referral.ID.String()).
			Str("appointment_id", newApt.ID.String()).
			Msg("invoice generation failed after referral completion")
		warnings = append(warnings,
			"referral completed but invoice generation failed; billing must be reconciled manually")
	}
	return referral, warnings, nil
}

// Cancel ends a referral from any non-terminal state. A destination
// appointment created by acceptance is cancelled with it.
func (s *Service) Cancel(ctx context.Context, actor model.Actor, id uuid.UUID, reason string) (*model.Referral, error) {
	if reason == "" {
		return nil, apperrors.Validation("a cancellation reason is required", nil)
	}

	var referral *model.Referral
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		referral, err = s.repo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if !actor.IsStaff() || (actor.BranchID != referral.FromBranchID && actor.BranchID != referral.ToBranchID) {
			return apperrors.Unauthorized("only staff of the involved branches can cancel")
		}
		if referral.Status.IsTerminal() {
			return apperrors.InvalidTransition(string(referral.Status), string(model.ReferralStatusCancelled))
		}

		from := referral.Status
		now := time.Now()
		referral.Status = model.ReferralStatusCancelled
		referral.CancelledAt = &now
		notes := reason
		referral.ResponseNotes = &notes
		if err := s.repo.UpdateTx(ctx, tx, referral, from); err != nil {
			return err
		}

		if referral.NewAppointmentID != nil {
			if err := s.appointments.CancelTx(ctx, tx, *referral.NewAppointmentID, actor,
				fmt.Sprintf("referral cancelled: %s", reason)); err != nil {
				return err
			}
		}

		apt, err := s.aptRepo.Get(ctx, referral.OriginalAppointmentID)
		if err != nil {
			return err
		}
		if err := s.recorder.RecordTx(ctx, tx, apt.ID, model.HistoryEventReferralCancelled,
			fmt.Sprintf("referral cancelled: %s", reason),
			actor, s.snapshotFor(ctx, apt)); err != nil {
			return err
		}
		return s.enqueueEventTx(ctx, tx, model.EventReferralCancelled, referral)
	})
	if err != nil {
		return nil, err
	}
	return referral, nil
}

func (s *Service) Get(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.Referral, error) {
	referral, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canSee(actor, referral) {
		return nil, apperrors.NotFound("referral", nil)
	}
	return referral, nil
}

func (s *Service) List(ctx context.Context, actor model.Actor, filters *model.ReferralFilters) ([]*model.Referral, error) {
	if actor.Role == model.RolePatient {
		filters.PatientID = actor.UserID
	} else if !actor.IsStaff() {
		return nil, apperrors.Unauthorized("")
	}
	return s.repo.List(ctx, filters)
}

func canSee(actor model.Actor, referral *model.Referral) bool {
	if actor.Role == model.RolePatient {
		return referral.PatientID == actor.UserID
	}
	if actor.IsStaff() {
		return actor.BranchID == referral.FromBranchID || actor.BranchID == referral.ToBranchID
	}
	return false
}

func (s *Service) branchName(ctx context.Context, id uuid.UUID) string {
	branch, err := s.branches.Get(ctx, id)
	if err != nil {
		return ""
	}
	return branch.Name
}

func (s *Service) snapshotFor(ctx context.Context, apt *model.Appointment) model.HistorySnapshot {
	treatmentName := "general consultation"
	if apt.TreatmentID != nil {
		if t, err := s.catalog.Lookup(ctx, apt.BranchID, *apt.TreatmentID); err == nil {
			treatmentName = t.Name
		}
	}
	return history.Snapshot(apt, s.branchName(ctx, apt.BranchID), treatmentName)
}

func (s *Service) enqueueEventTx(ctx context.Context, tx *sqlx.Tx, eventType string, referral *model.Referral) error {
	payload, err := json.Marshal(map[string]interface{}{
		"referral_id":             referral.ID,
		"patient_id":              referral.PatientID,
		"from_branch_id":          referral.FromBranchID,
		"to_branch_id":            referral.ToBranchID,
		"status":                  referral.Status,
		"urgency":                 referral.Urgency,
		"original_appointment_id": referral.OriginalAppointmentID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return s.outbox.CreateTx(ctx, tx, &model.OutboxEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   payload,
		Status:    model.OutboxStatusPending,
		CreatedAt: time.Now(),
	})
}
