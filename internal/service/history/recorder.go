package history

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/medisched/clinic-api/internal/model"
	"github.com/medisched/clinic-api/internal/repository"
)

// Recorder appends audit events to an appointment's timeline. Each
// event freezes the branch/treatment/date context as it was when the
// event happened; the live rows are never consulted again for past
// events.
type Recorder struct {
	repo repository.HistoryRepository
}

func NewRecorder(repo repository.HistoryRepository) *Recorder {
	return &Recorder{repo: repo}
}

// Snapshot builds the frozen value object for an event being written
// now.
func Snapshot(apt *model.Appointment, branchName, treatmentName string) model.HistorySnapshot {
	return model.HistorySnapshot{
		BranchName:    branchName,
		TreatmentName: treatmentName,
		VisitDate:     apt.VisitDate,
		StartTime:     apt.StartTime,
		EndTime:       apt.EndTime,
	}
}

// RecordTx appends one event inside the caller's transaction, so the
// sequence number is assigned atomically with the transition itself.
func (r *Recorder) RecordTx(ctx context.Context, tx *sqlx.Tx, appointmentID uuid.UUID, eventType model.HistoryEventType, message string, actor model.Actor, snapshot model.HistorySnapshot) error {
	event := &model.HistoryEvent{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		EventType:     eventType,
		Message:       message,
		ActorID:       &actor.UserID,
		ActorRole:     &actor.Role,
		Snapshot:      snapshot,
		CreatedAt:     time.Now(),
	}
	return r.repo.AppendTx(ctx, tx, event)
}

// Timeline returns the appointment's events ordered by sequence.
func (r *Recorder) Timeline(ctx context.Context, appointmentID uuid.UUID) ([]*model.HistoryEvent, error) {
	return r.repo.ListByAppointment(ctx, appointmentID)
}
