package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/medisched/clinic-api/internal/email"
	"github.com/medisched/clinic-api/internal/model"
	"github.com/medisched/clinic-api/internal/repository"
	"github.com/medisched/clinic-api/pkg/messaging"
	"github.com/medisched/clinic-api/pkg/metrics"
)

// EventChannel is the broker channel all lifecycle events are
// published on.
const EventChannel = "clinic.events"

type OutboxProcessorConfig struct {
	BatchSize     int           `envconfig:"OUTBOX_BATCH_SIZE" default:"100"`
	PollInterval  time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"5s"`
	RetryAttempts int           `envconfig:"OUTBOX_RETRY_ATTEMPTS" default:"3"`
	RetryDelay    time.Duration `envconfig:"OUTBOX_RETRY_DELAY" default:"5s"`
}

// OutboxProcessor drains pending outbox rows: each event is published
// to the broker and, where the payload carries a patient email, turned
// into a notification. Rows are locked with SKIP LOCKED so multiple
// workers can run side by side.
type OutboxProcessor struct {
	repo    repository.OutboxRepository
	broker  messaging.Broker
	mailer  email.Service
	config  OutboxProcessorConfig
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	broker messaging.Broker,
	mailer email.Service,
	config OutboxProcessorConfig,
	logger zerolog.Logger,
	m *metrics.Metrics,
) *OutboxProcessor {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 5 * time.Second
	}

	return &OutboxProcessor{
		repo:    repo,
		broker:  broker,
		mailer:  mailer,
		config:  config,
		logger:  logger,
		metrics: m,
	}
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info().Msg("starting outbox processor")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("shutting down outbox processor")
			return
		case <-ticker.C:
			if err := p.processEvents(ctx); err != nil {
				p.logger.Error().Err(err).Msg("failed to process events")
			}
		}
	}
}

func (p *OutboxProcessor) processEvents(ctx context.Context) error {
	timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
	defer timer.ObserveDuration()

	events, err := p.repo.GetPendingWithLock(ctx, p.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending events: %w", err)
	}
	p.metrics.OutboxQueueSize.Set(float64(len(events)))

	for _, event := range events {
		if err := p.processEvent(ctx, event); err != nil {
			p.logger.Error().Err(err).
				Str("event_id", event.ID.String()).
				Str("event_type", event.EventType).
				Msg("failed to process event")
			continue
		}
	}

	return nil
}

func (p *OutboxProcessor) processEvent(ctx context.Context, event *model.OutboxEvent) error {
	err := p.retry(event.EventType, func() error {
		return p.broker.Publish(ctx, EventChannel, messaging.Message{
			Type:    event.EventType,
			Payload: event.Payload,
		})
	})
	if err != nil {
		p.metrics.OutboxEventsFailed.Inc()
		if markErr := p.repo.MarkFailed(ctx, event.ID, err.Error()); markErr != nil {
			p.logger.Error().Err(markErr).
				Str("event_id", event.ID.String()).
				Msg("failed to mark event failed")
		}
		return err
	}

	// Email delivery is best effort: a bounced notification never
	// blocks the event from being marked processed.
	if err := p.notify(ctx, event); err != nil {
		p.logger.Warn().Err(err).
			Str("event_id", event.ID.String()).
			Str("event_type", event.EventType).
			Msg("notification delivery failed")
	}

	if err := p.repo.MarkProcessed(ctx, event.ID); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	p.metrics.OutboxEventsProcessed.Inc()
	return nil
}

type eventPayload struct {
	PatientEmail string `json:"patient_email"`
	BranchName   string `json:"branch_name"`
	VisitDate    string `json:"visit_date"`
	StartTime    string `json:"start_time"`
}

func (p *OutboxProcessor) notify(ctx context.Context, event *model.OutboxEvent) error {
	if p.mailer == nil {
		return nil
	}

	var payload eventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return nil
	}
	if payload.PatientEmail == "" {
		return nil
	}

	switch event.EventType {
	case model.EventAppointmentBooked:
		return p.mailer.SendAppointmentConfirmation(ctx,
			payload.PatientEmail, payload.BranchName, payload.VisitDate, payload.StartTime)
	case model.EventAppointmentCancelled:
		return p.mailer.SendAppointmentCancellation(ctx,
			payload.PatientEmail, payload.BranchName, "see appointment history")
	default:
		return nil
	}
}

func (p *OutboxProcessor) retry(eventType string, fn func() error) error {
	var err error
	for i := 0; i < p.config.RetryAttempts; i++ {
		if i > 0 {
			p.metrics.OutboxRetries.WithLabelValues(eventType).Inc()
			time.Sleep(p.config.RetryDelay)
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}
