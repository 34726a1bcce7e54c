package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ClinicalRecord is the prescription/treatment note a dentist files for
// an appointment. Its existence is the precondition for the
// approved -> completed transition.
type ClinicalRecord struct {
	Base
	AppointmentID uuid.UUID       `db:"appointment_id" json:"appointment_id"`
	StaffID       uuid.UUID       `db:"staff_id" json:"staff_id"`
	Diagnosis     string          `db:"diagnosis" json:"diagnosis"`
	Prescription  json.RawMessage `db:"prescription" json:"prescription,omitempty"`
	Notes         string          `db:"notes" json:"notes,omitempty"`
}

type CreateClinicalRecordRequest struct {
	Diagnosis    string          `json:"diagnosis" validate:"required,max=4000"`
	Prescription json.RawMessage `json:"prescription"`
	Notes        string          `json:"notes" validate:"max=4000"`
}
