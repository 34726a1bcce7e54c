package model

import (
	"time"

	"github.com/google/uuid"
)

type ReferralStatus string

const (
	ReferralStatusPendingPatient  ReferralStatus = "pending_patient_approval"
	ReferralStatusPatientApproved ReferralStatus = "patient_approved"
	ReferralStatusPatientRejected ReferralStatus = "patient_rejected"
	ReferralStatusAccepted        ReferralStatus = "accepted"
	ReferralStatusRejected        ReferralStatus = "rejected"
	ReferralStatusCompleted       ReferralStatus = "completed"
	ReferralStatusCancelled       ReferralStatus = "cancelled"
)

func (s ReferralStatus) IsTerminal() bool {
	switch s {
	case ReferralStatusPatientRejected, ReferralStatusRejected,
		ReferralStatusCompleted, ReferralStatusCancelled:
		return true
	}
	return false
}

type ReferralUrgency string

const (
	UrgencyRoutine   ReferralUrgency = "routine"
	UrgencyUrgent    ReferralUrgency = "urgent"
	UrgencyEmergency ReferralUrgency = "emergency"
)

// Referral is a cross-branch handoff of one patient's treatment. The
// original appointment is untouched until the destination accepts;
// NewAppointmentID is set in the same transaction that marks the
// original referred.
type Referral struct {
	Base
	PatientID             uuid.UUID       `db:"patient_id" json:"patient_id"`
	FromBranchID          uuid.UUID       `db:"from_branch_id" json:"from_branch_id"`
	ToBranchID            uuid.UUID       `db:"to_branch_id" json:"to_branch_id"`
	FromStaffID           uuid.UUID       `db:"from_staff_id" json:"from_staff_id"`
	RespondingStaffID     *uuid.UUID      `db:"responding_staff_id" json:"responding_staff_id,omitempty"`
	TreatmentID           *uuid.UUID      `db:"treatment_id" json:"treatment_id,omitempty"`
	Reason                string          `db:"reason" json:"reason"`
	ClinicalNotes         string          `db:"clinical_notes" json:"clinical_notes,omitempty"`
	Urgency               ReferralUrgency `db:"urgency" json:"urgency"`
	OriginalAppointmentID uuid.UUID       `db:"original_appointment_id" json:"original_appointment_id"`
	NewAppointmentID      *uuid.UUID      `db:"new_appointment_id" json:"new_appointment_id,omitempty"`
	Status                ReferralStatus  `db:"status" json:"status"`
	PatientNotes          *string         `db:"patient_notes" json:"patient_notes,omitempty"`
	ResponseNotes         *string         `db:"response_notes" json:"response_notes,omitempty"`
	ApprovedAt            *time.Time      `db:"approved_at" json:"approved_at,omitempty"`
	RespondedAt           *time.Time      `db:"responded_at" json:"responded_at,omitempty"`
	CompletedAt           *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt           *time.Time      `db:"cancelled_at" json:"cancelled_at,omitempty"`
}

type CreateReferralRequest struct {
	AppointmentID uuid.UUID       `json:"appointment_id" validate:"required"`
	ToBranchID    uuid.UUID       `json:"to_branch_id" validate:"required"`
	TreatmentID   *uuid.UUID      `json:"treatment_id"`
	Reason        string          `json:"reason" validate:"required,max=1000"`
	ClinicalNotes string          `json:"clinical_notes" validate:"max=4000"`
	Urgency       ReferralUrgency `json:"urgency" validate:"required,oneof=routine urgent emergency"`
}

type PatientDecisionRequest struct {
	Approve bool   `json:"approve"`
	Notes   string `json:"notes" validate:"max=1000"`
}

type AcceptReferralRequest struct {
	VisitDate string `json:"visit_date" validate:"required"`
	StartTime string `json:"start_time" validate:"required"`
	Notes     string `json:"notes" validate:"max=1000"`
}

type RejectReferralRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

type ReferralFilters struct {
	PatientID    uuid.UUID
	FromBranchID uuid.UUID
	ToBranchID   uuid.UUID
	Status       ReferralStatus
}
