package model

import (
	"time"

	"github.com/google/uuid"
)

type InvoiceStatus string

const (
	InvoiceStatusIssued InvoiceStatus = "issued"
	InvoiceStatusPaid   InvoiceStatus = "paid"
	InvoiceStatusVoid   InvoiceStatus = "void"
)

// Invoice is the billing record produced exactly once per completed
// appointment. AppointmentID carries a unique constraint; generation is
// idempotent on it.
type Invoice struct {
	Base
	AppointmentID uuid.UUID     `db:"appointment_id" json:"appointment_id"`
	BranchID      uuid.UUID     `db:"branch_id" json:"branch_id"`
	IssuedBy      uuid.UUID     `db:"issued_by" json:"issued_by"`
	TreatmentName string        `db:"treatment_name" json:"treatment_name"`
	Amount        int64         `db:"amount" json:"amount"`
	Status        InvoiceStatus `db:"status" json:"status"`
	IssuedAt      time.Time     `db:"issued_at" json:"issued_at"`
}
