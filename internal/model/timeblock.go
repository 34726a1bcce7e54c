package model

import (
	"time"

	"github.com/google/uuid"
)

// TimeBlock reserves an interval in a branch's day. Blocks owned by an
// appointment live and die with it; manual blocks (lunch, maintenance)
// have a nil AppointmentID and are managed by staff directly.
type TimeBlock struct {
	Base
	BranchID      uuid.UUID  `db:"branch_id" json:"branch_id"`
	AppointmentID *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	BlockDate     time.Time  `db:"block_date" json:"block_date"`
	StartTime     time.Time  `db:"start_time" json:"start_time"`
	EndTime       time.Time  `db:"end_time" json:"end_time"`
	Reason        string     `db:"reason" json:"reason,omitempty"`
	CreatedBy     *uuid.UUID `db:"created_by" json:"created_by,omitempty"`
}

type CreateTimeBlockRequest struct {
	BranchID  uuid.UUID `json:"branch_id" validate:"required"`
	BlockDate string    `json:"block_date" validate:"required"`
	StartTime string    `json:"start_time" validate:"required"`
	EndTime   string    `json:"end_time" validate:"required"`
	Reason    string    `json:"reason" validate:"required,max=500"`
}
