package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/medisched/clinic-api/internal/model"
)

// TxManager runs a function inside one database transaction. Multi-step
// mutations (booking, referral acceptance) compose the Tx-suffixed
// repository methods under a single WithTx call; the function either
// fully commits or fully aborts.
type TxManager interface {
	WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

// All repository interfaces in one file
type (
	AppointmentRepository interface {
		CreateTx(ctx context.Context, tx *sqlx.Tx, apt *model.Appointment) error
		Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		// GetForUpdate locks the appointment row for the duration of tx
		// so concurrent transitions serialize instead of racing.
		GetForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*model.Appointment, error)
		// Transition flips status only when the row still holds the
		// expected current status; a zero-row update means the state
		// moved underneath the caller.
		TransitionTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, from, to model.AppointmentStatus) error
		// AssignStaffTx records which staff member acted on the
		// appointment; written alongside the approval transition.
		AssignStaffTx(ctx context.Context, tx *sqlx.Tx, id, staffID uuid.UUID) error
		RescheduleTx(ctx context.Context, tx *sqlx.Tx, apt *model.Appointment) error
		AppendNotesTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, note string) error
		List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error)
	}

	// LedgerRepository owns the reserved-interval space per branch+date.
	LedgerRepository interface {
		// LockDay serializes all check-then-reserve sequences for one
		// branch+date; callers take it before checking for overlaps.
		LockDay(ctx context.Context, tx *sqlx.Tx, branchID uuid.UUID, date time.Time) error
		OverlapExists(ctx context.Context, tx *sqlx.Tx, branchID uuid.UUID, date, start, end time.Time, excludeAppointmentID *uuid.UUID) (bool, error)
		CreateBlockTx(ctx context.Context, tx *sqlx.Tx, block *model.TimeBlock) error
		ReleaseAppointmentBlockTx(ctx context.Context, tx *sqlx.Tx, appointmentID uuid.UUID) error
		MoveAppointmentBlockTx(ctx context.Context, tx *sqlx.Tx, appointmentID uuid.UUID, date, start, end time.Time) error
		GetBlock(ctx context.Context, id uuid.UUID) (*model.TimeBlock, error)
		ListBlocks(ctx context.Context, branchID uuid.UUID, date time.Time) ([]*model.TimeBlock, error)
		DeleteManualBlock(ctx context.Context, id uuid.UUID) error
	}

	// HistoryRepository is append-only: no update or delete exists.
	HistoryRepository interface {
		// AppendTx assigns the per-appointment sequence number inside
		// the caller's transaction.
		AppendTx(ctx context.Context, tx *sqlx.Tx, event *model.HistoryEvent) error
		ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*model.HistoryEvent, error)
	}

	ReferralRepository interface {
		CreateTx(ctx context.Context, tx *sqlx.Tx, referral *model.Referral) error
		Get(ctx context.Context, id uuid.UUID) (*model.Referral, error)
		GetForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*model.Referral, error)
		// UpdateTx persists the referral only when the row still holds
		// the expected current status.
		UpdateTx(ctx context.Context, tx *sqlx.Tx, referral *model.Referral, from model.ReferralStatus) error
		ActiveExistsForAppointment(ctx context.Context, tx *sqlx.Tx, appointmentID uuid.UUID) (bool, error)
		List(ctx context.Context, filters *model.ReferralFilters) ([]*model.Referral, error)
	}

	TreatmentRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Treatment, error)
		GetForBranch(ctx context.Context, branchID, treatmentID uuid.UUID) (*model.Treatment, error)
		ListByBranch(ctx context.Context, branchID uuid.UUID) ([]*model.Treatment, error)
	}

	BranchRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Branch, error)
		List(ctx context.Context) ([]*model.Branch, error)
	}

	ClinicalRecordRepository interface {
		Create(ctx context.Context, record *model.ClinicalRecord) error
		ExistsForAppointment(ctx context.Context, appointmentID uuid.UUID) (bool, error)
		ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*model.ClinicalRecord, error)
	}

	InvoiceRepository interface {
		// CreateIfAbsent inserts unless an invoice already exists for
		// the appointment; returns false when one did.
		CreateIfAbsent(ctx context.Context, invoice *model.Invoice) (bool, error)
		GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*model.Invoice, error)
	}

	OutboxRepository interface {
		CreateTx(ctx context.Context, tx *sqlx.Tx, event *model.OutboxEvent) error
		GetPendingWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		MarkProcessed(ctx context.Context, id uuid.UUID) error
		MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	}
)
