package model

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentStatusPending   AppointmentStatus = "pending"
	AppointmentStatusApproved  AppointmentStatus = "approved"
	AppointmentStatusCompleted AppointmentStatus = "completed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
	AppointmentStatusReferred  AppointmentStatus = "referred"
)

// IsTerminal reports whether no further transition is allowed.
func (s AppointmentStatus) IsTerminal() bool {
	return s == AppointmentStatusCompleted || s == AppointmentStatusCancelled
}

// IsActive reports whether the appointment still occupies its time slot.
func (s AppointmentStatus) IsActive() bool {
	return s == AppointmentStatusPending || s == AppointmentStatusApproved
}

type PatientKind string

const (
	PatientKindRegistered PatientKind = "registered"
	PatientKindWalkIn     PatientKind = "walk_in"
)

// PatientIdentity is the tagged patient variant carried by every
// appointment: a registered patient referenced by id, or a walk-in
// identified inline. Exactly one of the two shapes is populated.
type PatientIdentity struct {
	Kind      PatientKind `json:"kind" db:"patient_kind"`
	PatientID *uuid.UUID  `json:"patient_id,omitempty" db:"patient_id"`
	Name      *string     `json:"name,omitempty" db:"walkin_name"`
	Phone     *string     `json:"phone,omitempty" db:"walkin_phone"`
	Email     *string     `json:"email,omitempty" db:"walkin_email"`
	BirthDate *time.Time  `json:"birth_date,omitempty" db:"walkin_birth_date"`
	Address   *string     `json:"address,omitempty" db:"walkin_address"`
}

type Appointment struct {
	Base
	BranchID uuid.UUID `db:"branch_id" json:"branch_id"`
	// TreatmentID is nil only for referral-created general
	// consultations.
	TreatmentID *uuid.UUID        `db:"treatment_id" json:"treatment_id,omitempty"`
	StaffID     *uuid.UUID        `db:"staff_id" json:"staff_id,omitempty"`
	VisitDate   time.Time         `db:"visit_date" json:"visit_date"`
	StartTime   time.Time         `db:"start_time" json:"start_time"`
	EndTime     time.Time         `db:"end_time" json:"end_time"`
	Status      AppointmentStatus `db:"status" json:"status"`
	Notes       string            `db:"notes" json:"notes,omitempty"`
	Patient     PatientIdentity   `json:"patient"`
}

type CreateAppointmentRequest struct {
	BranchID    uuid.UUID  `json:"branch_id" validate:"required"`
	TreatmentID uuid.UUID  `json:"treatment_id" validate:"required"`
	VisitDate   string     `json:"visit_date" validate:"required"`
	StartTime   string     `json:"start_time" validate:"required"`
	PatientID   *uuid.UUID `json:"patient_id"`
	Name        *string    `json:"name"`
	Phone       *string    `json:"phone"`
	Email       *string    `json:"email" validate:"omitempty,email"`
	BirthDate   *string    `json:"birth_date"`
	Address     *string    `json:"address"`
	Notes       string     `json:"notes" validate:"max=1000"`
}

type RescheduleAppointmentRequest struct {
	VisitDate   *string    `json:"visit_date"`
	StartTime   *string    `json:"start_time"`
	TreatmentID *uuid.UUID `json:"treatment_id"`
	Notes       *string    `json:"notes"`
}

type TransitionRequest struct {
	Status AppointmentStatus `json:"status" validate:"required"`
	Reason string            `json:"reason" validate:"max=1000"`
}

type AppointmentFilters struct {
	BranchID    uuid.UUID
	PatientID   uuid.UUID
	StaffID     uuid.UUID
	Status      AppointmentStatus
	PatientKind PatientKind
	StartDate   time.Time
	EndDate     time.Time
}

// TransitionResult reports a committed transition plus any side effects
// that failed after commit. Warnings never imply a rollback; they mark
// the "partially happened" outcomes operators reconcile by hand.
type TransitionResult struct {
	Appointment *Appointment `json:"appointment"`
	Warnings    []string     `json:"warnings,omitempty"`
}

type TimeSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
