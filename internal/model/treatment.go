package model

import (
	"time"

	"github.com/google/uuid"
)

type Branch struct {
	Base
	Name    string `db:"name" json:"name"`
	Address string `db:"address" json:"address"`
	Phone   string `db:"phone" json:"phone"`
	Active  bool   `db:"active" json:"active"`
}

// Treatment is one entry of a branch's treatment catalog. Duration
// drives the appointment end time; Available gates booking and
// referral acceptance at the branch.
type Treatment struct {
	Base
	BranchID        uuid.UUID `db:"branch_id" json:"branch_id"`
	Name            string    `db:"name" json:"name"`
	Description     string    `db:"description" json:"description,omitempty"`
	DurationMinutes int       `db:"duration_minutes" json:"duration_minutes"`
	Price           int64     `db:"price" json:"price"`
	Available       bool      `db:"available" json:"available"`
}

func (t *Treatment) Duration() time.Duration {
	return time.Duration(t.DurationMinutes) * time.Minute
}
