package appointment

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

// Ledger is the slice of the time ledger the appointment manager needs.
type Ledger interface {
	EnsureFree(ctx context.Context, tx *sqlx.Tx, branchID uuid.UUID, date, start, end time.Time, excludeAppointment *uuid.UUID) error
	ReserveTx(ctx context.Context, tx *sqlx.Tx, apt *model.Appointment) error
	ReleaseTx(ctx context.Context, tx *sqlx.Tx, appointmentID uuid.UUID) error
	MoveTx(ctx context.Context, tx *sqlx.Tx, appointmentID uuid.UUID, date, start, end time.Time) error
}

// Recorder appends to the appointment's audit timeline.
type Recorder interface {
	RecordTx(ctx context.Context, tx *sqlx.Tx, appointmentID uuid.UUID, eventType model.HistoryEventType, message string, actor model.Actor, snapshot model.HistorySnapshot) error
	Timeline(ctx context.Context, appointmentID uuid.UUID) ([]*model.HistoryEvent, error)
}

// Catalog resolves treatments offered by a branch.
type Catalog interface {
	Lookup(ctx context.Context, branchID, treatmentID uuid.UUID) (*model.Treatment, error)
}

// Invoicer is the billing trigger consumed on completed transitions.
type Invoicer interface {
	GenerateInvoice(ctx context.Context, apt *model.Appointment, staffID uuid.UUID) (*model.Invoice, error)
}

type Service struct {
	repo     repository.AppointmentRepository
	ledger   Ledger
	recorder Recorder
	catalog  Catalog
	invoicer Invoicer
	branches repository.BranchRepository
	records  repository.ClinicalRecordRepository
	outbox   repository.OutboxRepository
	tx       repository.TxManager
	logger   zerolog.Logger
}

func NewService(
	repo repository.AppointmentRepository,
	ledger Ledger,
	recorder Recorder,
	catalog Catalog,
	invoicer Invoicer,
	branches repository.BranchRepository,
	records repository.ClinicalRecordRepository,
	outbox repository.OutboxRepository,
	tx repository.TxManager,
	logger zerolog.Logger,
) *Service {
	return &Service{
		repo:     repo,
		ledger:   ledger,
		recorder: recorder,
		catalog:  catalog,
		invoicer: invoicer,
		branches: branches,
		records:  records,
		outbox:   outbox,
		tx:       tx,
		logger:   logger,
	}
}

// Book creates a pending appointment and reserves its slot in one
// transaction. Registered patients book for themselves; branch staff
// book either variant, including walk-ins identified inline.
func (s *Service) Book(ctx context.Context, actor model.Actor, req *model.CreateAppointmentRequest) (*model.Appointment, error) {
	identity, err := patientIdentityFromRequest(actor, req)
	if err != nil {
		return nil, err
	}

	date, err := model.ParseVisitDate(req.VisitDate)
	if err != nil {
		return nil, apperrors.Validation(err.Error(), err)
	}
	start, err := model.CombineDateClock(date, req.StartTime)
	if err != nil {
		return nil, apperrors.Validation(err.Error(), err)
	}
	if start.Before(time.Now()) {
		return nil, apperrors.Validation("appointment cannot be scheduled in the past", nil)
	}

	t, err := s.catalog.Lookup(ctx, req.BranchID, req.TreatmentID)
	if err != nil {
		return nil, err
	}

	branch, err := s.branches.Get(ctx, req.BranchID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	apt := &model.Appointment{
		Base: model.Base{
			ID:        uuid.New(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		BranchID:    req.BranchID,
		TreatmentID: &req.TreatmentID,
		VisitDate:   date,
		StartTime:   start,
		EndTime:     start.Add(t.Duration()),
		Status:      model.AppointmentStatusPending,
		Notes:       req.Notes,
		Patient:     identity,
	}

	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.ledger.EnsureFree(ctx, tx, apt.BranchID, date, apt.StartTime, apt.EndTime, nil); err != nil {
			return err
		}
		if err := s.repo.CreateTx(ctx, tx, apt); err != nil {
			return err
		}
		if err := s.ledger.ReserveTx(ctx, tx, apt); err != nil {
			return err
		}
		snapshot := history.Snapshot(apt, branch.Name, t.Name)
		if err := s.recorder.RecordTx(ctx, tx, apt.ID, model.HistoryEventBooked,
			fmt.Sprintf("appointment booked at %s for %s", branch.Name, t.Name), actor, snapshot); err != nil {
			return err
		}
		return s.enqueueEventTx(ctx, tx, model.EventAppointmentBooked, apt)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", apt.ID.String()).
		Str("branch_id", apt.BranchID.String()).
		Time("start", apt.StartTime).
		Msg("appointment booked")
	return apt, nil
}

// Approve moves pending -> approved. The slot was reserved at booking,
// so no conflict re-check happens here.
func (s *Service) Approve(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.TransitionResult, error) {
	var apt *model.Appointment
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		apt, err = s.repo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := requireBranchStaff(actor, apt.BranchID); err != nil {
			return err
		}
		if apt.Status != model.AppointmentStatusPending {
			return apperrors.InvalidTransition(string(apt.Status), string(model.AppointmentStatusApproved))
		}
		if err := s.repo.TransitionTx(ctx, tx, id, apt.Status, model.AppointmentStatusApproved); err != nil {
			return err
		}
		if err := s.repo.AssignStaffTx(ctx, tx, id, actor.UserID); err != nil {
			return err
		}
		apt.Status = model.AppointmentStatusApproved
		apt.StaffID = &actor.UserID

		if err := s.recordTransitionTx(ctx, tx, apt, model.HistoryEventApproved, "appointment approved", actor); err != nil {
			return err
		}
		return s.enqueueEventTx(ctx, tx, model.EventAppointmentApproved, apt)
	})
	if err != nil {
		return nil, err
	}
	return &model.TransitionResult{Appointment: apt}, nil
}

// Complete moves approved -> completed. A clinical record must already
// exist for the appointment; the billing trigger fires after commit and
// its failure is reported as a warning, never a rollback.
func (s *Service) Complete(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.TransitionResult, error) {
	hasRecord, err := s.records.ExistsForAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !hasRecord {
		return nil, apperrors.PreconditionFailed("cannot complete appointment without a clinical record")
	}

	var apt *model.Appointment
	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		apt, err = s.repo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := requireBranchStaff(actor, apt.BranchID); err != nil {
			return err
		}
		if apt.Status != model.AppointmentStatusApproved {
			return apperrors.InvalidTransition(string(apt.Status), string(model.AppointmentStatusCompleted))
		}
		if err := s.repo.TransitionTx(ctx, tx, id, apt.Status, model.AppointmentStatusCompleted); err != nil {
			return err
		}
		apt.Status = model.AppointmentStatusCompleted

		if err := s.recordTransitionTx(ctx, tx, apt, model.HistoryEventCompleted, "treatment completed", actor); err != nil {
			return err
		}
		return s.enqueueEventTx(ctx, tx, model.EventAppointmentCompleted, apt)
	})
	if err != nil {
		return nil, err
	}

	result := &model.TransitionResult{Appointment: apt}
	if _, err := s.invoicer.GenerateInvoice(ctx, apt, actor.UserID); err != nil {
		s.logger.Error().Err(err).
			Str("appointment_id", apt.ID.String()).
			Msg("invoice generation failed after completion")
		result.Warnings = append(result.Warnings,
			"appointment completed but invoice generation failed; billing must be reconciled manually")
	}
	return result, nil
}

// Cancel releases the appointment's slot and records the reason. The
// owning patient or branch staff may cancel pending and approved
// appointments.
func (s *Service) Cancel(ctx context.Context, actor model.Actor, id uuid.UUID, reason string) (*model.TransitionResult, error) {
	var apt *model.Appointment
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		apt, err = s.repo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := requireOwnerOrBranchStaff(actor, apt); err != nil {
			return err
		}
		if !apt.Status.IsActive() {
			return apperrors.InvalidTransition(string(apt.Status), string(model.AppointmentStatusCancelled))
		}
		if err := s.repo.TransitionTx(ctx, tx, id, apt.Status, model.AppointmentStatusCancelled); err != nil {
			return err
		}
		apt.Status = model.AppointmentStatusCancelled

		if reason != "" {
			if err := s.repo.AppendNotesTx(ctx, tx, id, "cancelled: "+reason); err != nil {
				return err
			}
		}
		if err := s.ledger.ReleaseTx(ctx, tx, id); err != nil {
			return err
		}

		message := "appointment cancelled"
		if reason != "" {
			message = fmt.Sprintf("appointment cancelled: %s", reason)
		}
		if err := s.recordTransitionTx(ctx, tx, apt, model.HistoryEventCancelled, message, actor); err != nil {
			return err
		}
		return s.enqueueEventTx(ctx, tx, model.EventAppointmentCancelled, apt)
	})
	if err != nil {
		return nil, err
	}
	return &model.TransitionResult{Appointment: apt}, nil
}

// Reschedule edits date/time/treatment/notes of a pending appointment.
// The conflict check runs again, excluding the appointment's own
// reservation.
func (s *Service) Reschedule(ctx context.Context, actor model.Actor, id uuid.UUID, req *model.RescheduleAppointmentRequest) (*model.Appointment, error) {
	var apt *model.Appointment
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		apt, err = s.repo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := requireOwnerOrBranchStaff(actor, apt); err != nil {
			return err
		}
		if apt.Status != model.AppointmentStatusPending {
			return apperrors.InvalidTransition(string(apt.Status), "edited")
		}

		date := apt.VisitDate
		if req.VisitDate != nil {
			date, err = model.ParseVisitDate(*req.VisitDate)
			if err != nil {
				return apperrors.Validation(err.Error(), err)
			}
		}

		treatmentID := apt.TreatmentID
		if req.TreatmentID != nil {
			treatmentID = req.TreatmentID
		}
		if treatmentID == nil {
			return apperrors.Validation("appointment has no treatment type", nil)
		}
		t, err := s.catalog.Lookup(ctx, apt.BranchID, *treatmentID)
		if err != nil {
			return err
		}

		start := apt.StartTime
		if req.StartTime != nil {
			start, err = model.CombineDateClock(date, *req.StartTime)
			if err != nil {
				return apperrors.Validation(err.Error(), err)
			}
		} else if req.VisitDate != nil {
			start, err = model.CombineDateClock(date, apt.StartTime.Format(model.ClockLayout))
			if err != nil {
				return apperrors.Validation(err.Error(), err)
			}
		}
		if start.Before(time.Now()) {
			return apperrors.Validation("appointment cannot be moved into the past", nil)
		}
		end := start.Add(t.Duration())

		if err := s.ledger.EnsureFree(ctx, tx, apt.BranchID, date, start, end, &apt.ID); err != nil {
			return err
		}

		apt.VisitDate = date
		apt.StartTime = start
		apt.EndTime = end
		apt.TreatmentID = treatmentID
		if req.Notes != nil && *req.Notes != "" {
			if apt.Notes == "" {
				apt.Notes = *req.Notes
			} else {
				apt.Notes = apt.Notes + "\n" + *req.Notes
			}
		}

		if err := s.repo.RescheduleTx(ctx, tx, apt); err != nil {
			return err
		}
		if err := s.ledger.MoveTx(ctx, tx, apt.ID, date, start, end); err != nil {
			return err
		}

		branch, err := s.branches.Get(ctx, apt.BranchID)
		if err != nil {
			return err
		}
		snapshot := history.Snapshot(apt, branch.Name, t.Name)
		return s.recorder.RecordTx(ctx, tx, apt.ID, model.HistoryEventRescheduled,
			fmt.Sprintf("appointment moved to %s %s", date.Format(model.DateLayout), start.Format(model.ClockLayout)),
			actor, snapshot)
	})
	if err != nil {
		return nil, err
	}
	return apt, nil
}

func (s *Service) Get(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.Appointment, error) {
	apt, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireOwnerOrBranchStaff(actor, apt); err != nil {
		// Hide existence from actors with no claim on the appointment.
		return nil, apperrors.NotFound("appointment", nil)
	}
	return apt, nil
}

func (s *Service) List(ctx context.Context, actor model.Actor, filters *model.AppointmentFilters) ([]*model.Appointment, error) {
	if actor.Role == model.RolePatient {
		filters.PatientID = actor.UserID
	} else if !actor.IsStaff() {
		return nil, apperrors.Unauthorized("")
	}
	return s.repo.List(ctx, filters)
}

func (s *Service) Timeline(ctx context.Context, actor model.Actor, id uuid.UUID) ([]*model.HistoryEvent, error) {
	apt, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireOwnerOrBranchStaff(actor, apt); err != nil {
		return nil, apperrors.NotFound("appointment", nil)
	}
	return s.recorder.Timeline(ctx, id)
}

// AddClinicalRecord files the prescription/diagnosis that gates the
// completed transition.
func (s *Service) AddClinicalRecord(ctx context.Context, actor model.Actor, id uuid.UUID, req *model.CreateClinicalRecordRequest) (*model.ClinicalRecord, error) {
	apt, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireBranchStaff(actor, apt.BranchID); err != nil {
		return nil, err
	}
	if apt.Status.IsTerminal() {
		return nil, apperrors.InvalidTransition(string(apt.Status), "clinical record added")
	}

	now := time.Now()
	record := &model.ClinicalRecord{
		Base: model.Base{
			ID:        uuid.New(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		AppointmentID: id,
		StaffID:       actor.UserID,
		Diagnosis:     req.Diagnosis,
		Prescription:  req.Prescription,
		Notes:         req.Notes,
	}
	if err := s.records.Create(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// MarkReferredTx transitions the origin appointment to referred and
// releases its slot, inside the referral-acceptance transaction. Only
// the referral workflow calls this; there is no direct API route to it.
func (s *Service) MarkReferredTx(ctx context.Context, tx *sqlx.Tx, apt *model.Appointment, actor model.Actor, message string) error {
	if !apt.Status.IsActive() {
		return apperrors.InvalidTransition(string(apt.Status), string(model.AppointmentStatusReferred))
	}
	if err := s.repo.TransitionTx(ctx, tx, apt.ID, apt.Status, model.AppointmentStatusReferred); err != nil {
		return err
	}
	apt.Status = model.AppointmentStatusReferred
	if err := s.ledger.ReleaseTx(ctx, tx, apt.ID); err != nil {
		return err
	}
	return s.recordTransitionTx(ctx, tx, apt, model.HistoryEventReferredOut, message, actor)
}

// BookIncomingTx creates the destination-branch appointment of an
// accepted referral: already approved, slot checked and reserved in the
// caller's transaction.
func (s *Service) BookIncomingTx(ctx context.Context, tx *sqlx.Tx, apt *model.Appointment, actor model.Actor, message string) error {
	if err := s.ledger.EnsureFree(ctx, tx, apt.BranchID, apt.VisitDate, apt.StartTime, apt.EndTime, nil); err != nil {
		return err
	}
	if err := s.repo.CreateTx(ctx, tx, apt); err != nil {
		return err
	}
	if err := s.ledger.ReserveTx(ctx, tx, apt); err != nil {
		return err
	}
	return s.recordTransitionTx(ctx, tx, apt, model.HistoryEventReferredIn, message, actor)
}

// RestoreToPendingTx puts the origin appointment back to pending after
// a patient-side rejection. The slot was never released, so nothing is
// re-reserved. Only pending/approved appointments can be restored: a
// cancelled or completed origin stays where it is.
func (s *Service) RestoreToPendingTx(ctx context.Context, tx *sqlx.Tx, apt *model.Appointment, actor model.Actor, message string) error {
	if !apt.Status.IsActive() {
		return apperrors.InvalidTransition(string(apt.Status), string(model.AppointmentStatusPending))
	}
	if apt.Status != model.AppointmentStatusPending {
		if err := s.repo.TransitionTx(ctx, tx, apt.ID, apt.Status, model.AppointmentStatusPending); err != nil {
			return err
		}
		apt.Status = model.AppointmentStatusPending
	}
	return s.recordTransitionTx(ctx, tx, apt, model.HistoryEventReferralRejected, message, actor)
}

// CompleteTx completes an appointment inside the caller's transaction.
// The caller is responsible for the clinical-record precondition and
// for firing the billing trigger after commit.
func (s *Service) CompleteTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, actor model.Actor) (*model.Appointment, error) {
	apt, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if apt.Status != model.AppointmentStatusApproved {
		return nil, apperrors.InvalidTransition(string(apt.Status), string(model.AppointmentStatusCompleted))
	}
	if err := s.repo.TransitionTx(ctx, tx, id, apt.Status, model.AppointmentStatusCompleted); err != nil {
		return nil, err
	}
	apt.Status = model.AppointmentStatusCompleted
	if err := s.recordTransitionTx(ctx, tx, apt, model.HistoryEventCompleted, "treatment completed", actor); err != nil {
		return nil, err
	}
	return apt, nil
}

// CancelTx cancels an appointment inside the caller's transaction; used
// when cancelling a referral also cancels its destination appointment.
func (s *Service) CancelTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, actor model.Actor, reason string) error {
	apt, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return err
	}
	if !apt.Status.IsActive() {
		return apperrors.InvalidTransition(string(apt.Status), string(model.AppointmentStatusCancelled))
	}
	if err := s.repo.TransitionTx(ctx, tx, id, apt.Status, model.AppointmentStatusCancelled); err != nil {
		return err
	}
	apt.Status = model.AppointmentStatusCancelled
	if err := s.ledger.ReleaseTx(ctx, tx, id); err != nil {
		return err
	}
	message := "appointment cancelled"
	if reason != "" {
		message = fmt.Sprintf("appointment cancelled: %s", reason)
	}
	return s.recordTransitionTx(ctx, tx, apt, model.HistoryEventCancelled, message, actor)
}

// recordTransitionTx writes a history event with a snapshot frozen at
// this moment.
func (s *Service) recordTransitionTx(ctx context.Context, tx *sqlx.Tx, apt *model.Appointment, eventType model.HistoryEventType, message string, actor model.Actor) error {
	branchName := ""
	treatmentName := "general consultation"
	if branch, err := s.branches.Get(ctx, apt.BranchID); err == nil {
		branchName = branch.Name
	}
	if apt.TreatmentID != nil {
		if t, err := s.catalog.Lookup(ctx, apt.BranchID, *apt.TreatmentID); err == nil {
			treatmentName = t.Name
		}
	}
	snapshot := history.Snapshot(apt, branchName, treatmentName)
	return s.recorder.RecordTx(ctx, tx, apt.ID, eventType, message, actor, snapshot)
}

func (s *Service) enqueueEventTx(ctx context.Context, tx *sqlx.Tx, eventType string, apt *model.Appointment) error {
	body := map[string]interface{}{
		"appointment_id": apt.ID,
		"branch_id":      apt.BranchID,
		"status":         apt.Status,
		"visit_date":     apt.VisitDate.Format(model.DateLayout),
		"start_time":     apt.StartTime,
	}
	if branch, err := s.branches.Get(ctx, apt.BranchID); err == nil {
		body["branch_name"] = branch.Name
	}
	// Walk-ins carry contact details inline; the worker uses them for
	// confirmation emails.
	if apt.Patient.Email != nil {
		body["patient_email"] = *apt.Patient.Email
	}
	payload, err := json.Marshal(body)
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

func patientIdentityFromRequest(actor model.Actor, req *model.CreateAppointmentRequest) (model.PatientIdentity, error) {
	hasWalkIn := req.Name != nil || req.Phone != nil || req.Email != nil || req.BirthDate != nil || req.Address != nil

	if req.PatientID != nil && hasWalkIn {
		return model.PatientIdentity{}, apperrors.Validation("patient_id and walk-in fields are mutually exclusive", nil)
	}

	if req.PatientID != nil {
		if actor.Role == model.RolePatient && *req.PatientID != actor.UserID {
			return model.PatientIdentity{}, apperrors.Unauthorized("patients can only book for themselves")
		}
		return model.PatientIdentity{
			Kind:      model.PatientKindRegistered,
			PatientID: req.PatientID,
		}, nil
	}

	if actor.Role == model.RolePatient {
		id := actor.UserID
		return model.PatientIdentity{
			Kind:      model.PatientKindRegistered,
			PatientID: &id,
		}, nil
	}

	if !hasWalkIn || req.Name == nil || req.Phone == nil {
		return model.PatientIdentity{}, apperrors.Validation("walk-in bookings require at least name and phone", nil)
	}

	var birthDate *time.Time
	if req.BirthDate != nil {
		d, err := time.Parse(model.DateLayout, *req.BirthDate)
		if err != nil {
			return model.PatientIdentity{}, apperrors.Validation("invalid birth date", err)
		}
		birthDate = &d
	}
	return model.PatientIdentity{
		Kind:      model.PatientKindWalkIn,
		Name:      req.Name,
		Phone:     req.Phone,
		Email:     req.Email,
		Address:   req.Address,
		BirthDate: birthDate,
	}, nil
}

func requireBranchStaff(actor model.Actor, branchID uuid.UUID) error {
	if !actor.IsStaff() || actor.BranchID != branchID {
		return apperrors.Unauthorized("requires staff of the appointment's branch")
	}
	return nil
}

func requireOwnerOrBranchStaff(actor model.Actor, apt *model.Appointment) error {
	if actor.IsStaff() && actor.BranchID == apt.BranchID {
		return nil
	}
	if actor.Role == model.RolePatient &&
		apt.Patient.PatientID != nil && *apt.Patient.PatientID == actor.UserID {
		return nil
	}
	return apperrors.Unauthorized("")
}
