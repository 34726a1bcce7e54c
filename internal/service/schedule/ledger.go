package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/medisched/clinic-api/internal/model"
	"github.com/medisched/clinic-api/internal/repository"
	apperrors "github.com/medisched/clinic-api/pkg/errors"
)

// Branch working hours used for availability listings.
const (
	DayOpenHour  = 9
	DayCloseHour = 17
)

// Ledger answers "is this interval free?" and owns manual time blocks.
// Conflict checks always run inside the caller's transaction, after the
// branch+date lock, so check-then-reserve is atomic across concurrent
// bookings.
type Ledger struct {
	repo repository.LedgerRepository
	tx   repository.TxManager
}

func NewLedger(repo repository.LedgerRepository, tx repository.TxManager) *Ledger {
	return &Ledger{repo: repo, tx: tx}
}

// Overlaps applies the half-open interval rule: [s1,e1) and [s2,e2)
// collide iff s2 < e1 and e2 > s1.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s2.Before(e1) && e2.After(s1)
}

// EnsureFree serializes on the branch+date lock, then fails with
// SlotConflict if any active reservation overlaps [start, end).
// excludeAppointment skips that appointment's own reservation, for
// reschedules.
func (l *Ledger) EnsureFree(ctx context.Context, tx *sqlx.Tx, branchID uuid.UUID, date, start, end time.Time, excludeAppointment *uuid.UUID) error {
	if !end.After(start) {
		return apperrors.Validation("end time must be after start time", nil)
	}

	if err := l.repo.LockDay(ctx, tx, branchID, date); err != nil {
		return err
	}

	overlap, err := l.repo.OverlapExists(ctx, tx, branchID, date, start, end, excludeAppointment)
	if err != nil {
		return err
	}
	if overlap {
		return apperrors.SlotConflict("")
	}
	return nil
}

// ReserveTx creates the owning time block for an appointment. Call
// EnsureFree first, in the same transaction.
func (l *Ledger) ReserveTx(ctx context.Context, tx *sqlx.Tx, apt *model.Appointment) error {
	now := time.Now()
	block := &model.TimeBlock{
		Base: model.Base{
			ID:        uuid.New(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		BranchID:      apt.BranchID,
		AppointmentID: &apt.ID,
		BlockDate:     apt.VisitDate,
		StartTime:     apt.StartTime,
		EndTime:       apt.EndTime,
		Reason:        "appointment",
	}
	return l.repo.CreateBlockTx(ctx, tx, block)
}

func (l *Ledger) ReleaseTx(ctx context.Context, tx *sqlx.Tx, appointmentID uuid.UUID) error {
	return l.repo.ReleaseAppointmentBlockTx(ctx, tx, appointmentID)
}

func (l *Ledger) MoveTx(ctx context.Context, tx *sqlx.Tx, appointmentID uuid.UUID, date, start, end time.Time) error {
	return l.repo.MoveAppointmentBlockTx(ctx, tx, appointmentID, date, start, end)
}

// CreateManualBlock reserves an administrative interval (lunch break,
// equipment maintenance) with no owning appointment.
func (l *Ledger) CreateManualBlock(ctx context.Context, actor model.Actor, req *model.CreateTimeBlockRequest) (*model.TimeBlock, error) {
	if !actor.IsStaff() || actor.BranchID != req.BranchID {
		return nil, apperrors.Unauthorized("only branch staff can block time")
	}

	date, err := model.ParseVisitDate(req.BlockDate)
	if err != nil {
		return nil, apperrors.Validation(err.Error(), err)
	}
	start, err := model.CombineDateClock(date, req.StartTime)
	if err != nil {
		return nil, apperrors.Validation(err.Error(), err)
	}
	end, err := model.CombineDateClock(date, req.EndTime)
	if err != nil {
		return nil, apperrors.Validation(err.Error(), err)
	}
	if !end.After(start) {
		return nil, apperrors.Validation("end time must be after start time", nil)
	}

	now := time.Now()
	block := &model.TimeBlock{
		Base: model.Base{
			ID:        uuid.New(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		BranchID:  req.BranchID,
		BlockDate: date,
		StartTime: start,
		EndTime:   end,
		Reason:    req.Reason,
		CreatedBy: &actor.UserID,
	}

	err = l.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := l.EnsureFree(ctx, tx, req.BranchID, date, start, end, nil); err != nil {
			return err
		}
		return l.repo.CreateBlockTx(ctx, tx, block)
	})
	if err != nil {
		return nil, err
	}
	return block, nil
}

func (l *Ledger) RemoveManualBlock(ctx context.Context, actor model.Actor, id uuid.UUID) error {
	block, err := l.repo.GetBlock(ctx, id)
	if err != nil {
		return err
	}
	if block.AppointmentID != nil {
		return apperrors.Validation("appointment-owned blocks are released by their appointment", nil)
	}
	if !actor.IsStaff() || actor.BranchID != block.BranchID {
		return apperrors.Unauthorized("only branch staff can remove blocks")
	}
	return l.repo.DeleteManualBlock(ctx, id)
}

func (l *Ledger) DayBlocks(ctx context.Context, branchID uuid.UUID, date time.Time) ([]*model.TimeBlock, error) {
	return l.repo.ListBlocks(ctx, branchID, date)
}

// AvailableSlots lists the free intervals of slotLen within working
// hours. Every active appointment owns a block, so the block list is
// the complete reservation picture for the day.
func (l *Ledger) AvailableSlots(ctx context.Context, branchID uuid.UUID, date time.Time, slotLen time.Duration) ([]model.TimeSlot, error) {
	if slotLen <= 0 {
		return nil, apperrors.Validation("slot length must be positive", nil)
	}

	blocks, err := l.repo.ListBlocks(ctx, branchID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to load day blocks: %w", err)
	}

	open := time.Date(date.Year(), date.Month(), date.Day(), DayOpenHour, 0, 0, 0, time.UTC)
	close := time.Date(date.Year(), date.Month(), date.Day(), DayCloseHour, 0, 0, 0, time.UTC)

	var available []model.TimeSlot
	for start := open; !start.Add(slotLen).After(close); start = start.Add(slotLen) {
		end := start.Add(slotLen)
		taken := false
		for _, b := range blocks {
			if Overlaps(start, end, b.StartTime, b.EndTime) {
				taken = true
				break
			}
		}
		if !taken {
			available = append(available, model.TimeSlot{Start: start, End: end})
		}
	}
	return available, nil
}
