package model

import (
	"time"

	"github.com/google/uuid"
)

type HistoryEventType string

const (
	HistoryEventBooked            HistoryEventType = "booked"
	HistoryEventApproved          HistoryEventType = "approved"
	HistoryEventRescheduled       HistoryEventType = "rescheduled"
	HistoryEventCompleted         HistoryEventType = "completed"
	HistoryEventCancelled         HistoryEventType = "cancelled"
	HistoryEventReferralCreated   HistoryEventType = "referral_created"
	HistoryEventReferralApproved  HistoryEventType = "referral_patient_approved"
	HistoryEventReferralRejected  HistoryEventType = "referral_rejected"
	HistoryEventReferralCancelled HistoryEventType = "referral_cancelled"
	HistoryEventReferredOut       HistoryEventType = "referred_out"
	HistoryEventReferredIn        HistoryEventType = "referred_in"
)

// HistorySnapshot freezes the appointment's context at the moment the
// event was written. Read paths must never re-join these fields from
// the live rows: later transitions would rewrite what the log says
// happened.
type HistorySnapshot struct {
	BranchName    string    `db:"branch_name" json:"branch_name"`
	TreatmentName string    `db:"treatment_name" json:"treatment_name"`
	VisitDate     time.Time `db:"visit_date" json:"visit_date"`
	StartTime     time.Time `db:"start_time" json:"start_time"`
	EndTime       time.Time `db:"end_time" json:"end_time"`
}

// HistoryEvent is an append-only audit record, ordered per appointment
// by Sequence. No update or delete exists anywhere in the codebase.
type HistoryEvent struct {
	ID            uuid.UUID        `db:"id" json:"id"`
	AppointmentID uuid.UUID        `db:"appointment_id" json:"appointment_id"`
	Sequence      int              `db:"sequence" json:"sequence"`
	EventType     HistoryEventType `db:"event_type" json:"event_type"`
	Message       string           `db:"message" json:"message"`
	ActorID       *uuid.UUID       `db:"actor_id" json:"actor_id,omitempty"`
	ActorRole     *Role            `db:"actor_role" json:"actor_role,omitempty"`
	Snapshot      HistorySnapshot  `json:"snapshot"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
}
