package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusmart-backend/pkg/config"
	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
	"github.com/angelmondragon/campusmart-backend/pkg/metrics"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultMaxAttempts    = 10
	defaultPublishTimeout = 15 * time.Second
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
	publishJobName        = "outbox-publish"
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type outboxRepository interface {
	FetchUnpublishedForUpdate(tx *gorm.DB, limit int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, cause error, terminal bool) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type publisherFactory func(topic string) publisher

type ServiceParams struct {
	Config           config.OutboxConfig
	Logger           *logger.Logger
	DB               dbClient
	Pingers          map[string]func(context.Context) error
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
	Metrics          *metrics.JobMetrics
}

// Service drains committed outbox rows onto Pub/Sub. Rows are claimed with SKIP LOCKED so
// several publishers can run side by side.
type Service struct {
	logg         *logger.Logger
	db           dbClient
	pingers      map[string]func(context.Context) error
	repo         outboxRepository
	registry     registryResolver
	publishers   publisherFactory
	metrics      *metrics.JobMetrics
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository is required")
	}
	if params.Registry == nil {
		return nil, errors.New("event registry is required")
	}
	if params.PublisherFactory == nil {
		return nil, errors.New("publisher factory is required")
	}
	batch := params.Config.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	maxAttempts := params.Config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Service{
		logg:         params.Logger,
		db:           params.DB,
		pingers:      params.Pingers,
		repo:         params.Repository,
		registry:     params.Registry,
		publishers:   params.PublisherFactory,
		metrics:      params.Metrics,
		batchSize:    batch,
		maxAttempts:  maxAttempts,
		pollInterval: params.Config.PollInterval(),
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for name, ping := range s.pingers {
		if err := ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}
	return nil
}

// Run polls until ctx ends. Full batches are followed immediately by the next poll; failed
// batches back off exponentially up to maxBackoff.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	backoff := s.newBackoff()
	for {
		if ctx.Err() != nil {
			s.logg.Info(ctx, "outbox publisher context canceled")
			return ctx.Err()
		}

		start := time.Now()
		claimed, err := s.processBatch(ctx)
		s.metrics.ObserveDuration(publishJobName, time.Since(start))

		var wait time.Duration
		switch {
		case err != nil:
			s.metrics.IncFailure(publishJobName)
			s.logg.Error(ctx, "outbox publisher batch error", err)
			wait, _ = backoff.Next()
		case claimed >= s.batchSize:
			backoff = s.newBackoff()
			continue
		default:
			backoff = s.newBackoff()
			wait = s.pollInterval
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (s *Service) newBackoff() retry.Backoff {
	b := retry.NewExponential(s.pollInterval)
	b = retry.WithCappedDuration(maxBackoff, b)
	return retry.WithJitter(jitterWindow, b)
}

// processBatch publishes one claimed batch and reports how many rows it claimed.
func (s *Service) processBatch(ctx context.Context) (int, error) {
	claimed := 0
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForUpdate(tx, s.batchSize)
		if err != nil {
			return fmt.Errorf("claim outbox rows: %w", err)
		}
		claimed = len(events)
		for _, event := range events {
			if err := s.dispatch(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
	return claimed, err
}

// dispatch publishes a single row and records the outcome. Only bookkeeping failures are returned.
func (s *Service) dispatch(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) error {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
		"aggregate_type": event.AggregateType,
	}

	resolved, err := s.registry.Resolve(event)
	if err == nil {
		fields["topic"] = resolved.Descriptor.Topic
		fields["event_id"] = resolved.Envelope.EventID
		err = s.publish(ctx, event, resolved)
	}
	logCtx := s.logg.WithFields(ctx, fields)

	if err == nil {
		if markErr := s.repo.MarkPublishedTx(tx, event.ID); markErr != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, markErr)
		}
		s.metrics.IncSuccess(publishJobName)
		s.logg.Info(logCtx, "outbox event published")
		return nil
	}

	var nonRetry registry.NonRetryableError
	terminal := errors.As(err, &nonRetry) || event.AttemptCount+1 >= s.maxAttempts
	logCtx = s.logg.WithField(logCtx, "error", err.Error())
	if terminal {
		s.logg.Warn(logCtx, "outbox event will not be retried")
	} else {
		s.logg.Warn(logCtx, "outbox publish failed")
	}
	if markErr := s.repo.MarkFailedTx(tx, event.ID, err, terminal); markErr != nil {
		return fmt.Errorf("mark failure %s: %w", event.ID, markErr)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := s.publishers(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	msg := &gcppubsub.Message{
		Data: event.Payload,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, msg)
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	_, err := result.Get(publishCtx)
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.Publisher.Publish(ctx, msg)
}

// topicPublishers adapts the shared Pub/Sub client to the publisher factory.
func topicPublishers(lookup func(topic string) *gcppubsub.Publisher) publisherFactory {
	return func(topic string) publisher {
		p := lookup(topic)
		if p == nil {
			return nil
		}
		return gcpPublisher{Publisher: p}
	}
}
