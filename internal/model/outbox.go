package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "PENDING"
	OutboxStatusProcessed OutboxStatus = "PROCESSED"
	OutboxStatusFailed    OutboxStatus = "FAILED"
)

// OutboxEvent is written in the same transaction as the state change
// it announces; the worker publishes it afterwards. Delivery failures
// never touch the transition that produced the event.
type OutboxEvent struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EventType    string          `db:"event_type" json:"event_type"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       OutboxStatus    `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
}

// Outbox event types emitted by the core services.
const (
	EventAppointmentBooked    = "appointment.booked"
	EventAppointmentApproved  = "appointment.approved"
	EventAppointmentCompleted = "appointment.completed"
	EventAppointmentCancelled = "appointment.cancelled"
	EventReferralCreated      = "referral.created"
	EventReferralDecided      = "referral.patient_decided"
	EventReferralAccepted     = "referral.accepted"
	EventReferralRejected     = "referral.rejected"
	EventReferralCompleted    = "referral.completed"
	EventReferralCancelled    = "referral.cancelled"
)
