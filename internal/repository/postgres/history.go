package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/medisched/clinic-api/internal/model"
)

// historyRow flattens the frozen snapshot columns for scanning.
type historyRow struct {
	ID            uuid.UUID              `db:"id"`
	AppointmentID uuid.UUID              `db:"appointment_id"`
	Sequence      int                    `db:"sequence"`
	EventType     model.HistoryEventType `db:"event_type"`
	Message       string                 `db:"message"`
	ActorID       *uuid.UUID             `db:"actor_id"`
	ActorRole     *model.Role            `db:"actor_role"`
	BranchName    string                 `db:"branch_name"`
	TreatmentName string                 `db:"treatment_name"`
	VisitDate     time.Time              `db:"visit_date"`
	StartTime     time.Time              `db:"start_time"`
	EndTime       time.Time              `db:"end_time"`
	CreatedAt     time.Time              `db:"created_at"`
}

func (row *historyRow) toModel() *model.HistoryEvent {
	return &model.HistoryEvent{
		ID:            row.ID,
		AppointmentID: row.AppointmentID,
		Sequence:      row.Sequence,
		EventType:     row.EventType,
		Message:       row.Message,
		ActorID:       row.ActorID,
		ActorRole:     row.ActorRole,
		Snapshot: model.HistorySnapshot{
			BranchName:    row.BranchName,
			TreatmentName: row.TreatmentName,
			VisitDate:     row.VisitDate,
			StartTime:     row.StartTime,
			EndTime:       row.EndTime,
		},
		CreatedAt: row.CreatedAt,
	}
}

// AppendTx inserts the event with sequence = 1 + max existing sequence
// for the appointment. The subselect runs in the caller's transaction,
// which already holds the appointment row lock, so sequences have no
// gaps or duplicates.
func (r *historyRepository) AppendTx(ctx context.Context, tx *sqlx.Tx, event *model.HistoryEvent) error {
	query := `
		INSERT INTO appointment_history (
			id, appointment_id, sequence, event_type, message, actor_id, actor_role,
			branch_name, treatment_name, visit_date, start_time, end_time, created_at
		) VALUES (
			$1, $2,
			(SELECT COALESCE(MAX(sequence), 0) + 1 FROM appointment_history WHERE appointment_id = $2),
			$3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
		RETURNING sequence
	`
	err := tx.GetContext(ctx, &event.Sequence, query,
		event.ID,
		event.AppointmentID,
		event.EventType,
		event.Message,
		event.ActorID,
		event.ActorRole,
		event.Snapshot.BranchName,
		event.Snapshot.TreatmentName,
		event.Snapshot.VisitDate,
		event.Snapshot.StartTime,
		event.Snapshot.EndTime,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append history event: %w", err)
	}
	return nil
}

func (r *historyRepository) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*model.HistoryEvent, error) {
	query := `
		SELECT id, appointment_id, sequence, event_type, message, actor_id, actor_role,
		       branch_name, treatment_name, visit_date, start_time, end_time, created_at
		FROM appointment_history
		WHERE appointment_id = $1
		ORDER BY sequence ASC
	`
	var rows []historyRow
	if err := r.db.SelectContext(ctx, &rows, query, appointmentID); err != nil {
		return nil, fmt.Errorf("failed to list history events: %w", err)
	}

	events := make([]*model.HistoryEvent, 0, len(rows))
	for i := range rows {
		events = append(events, rows[i].toModel())
	}
	return events, nil
}
