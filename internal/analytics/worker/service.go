package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/campusmart-backend/internal/analytics"
	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox/payloads"
)

const analyticsConsumerName = "analytics-sales"

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

type salesLoader interface {
	ListSalesByOrder(ctx context.Context, orderID uuid.UUID) ([]models.SaleRecord, error)
}

type rowWriter interface {
	Write(ctx context.Context, rows []any) error
}

type onceGuard interface {
	Once(ctx context.Context, consumer string, eventID uuid.UUID, fn func(context.Context) error) (bool, error)
}

// Service consumes order_created events and streams the order's sale rows to BigQuery.
type Service struct {
	subscription receiver
	sales        salesLoader
	writer       rowWriter
	guard        onceGuard
	logg         *logger.Logger
}

// NewService creates a new analytics worker service.
func NewService(subscription receiver, sales salesLoader, writer rowWriter, guard onceGuard, logg *logger.Logger) (*Service, error) {
	if subscription == nil {
		return nil, errors.New("analytics subscription is required")
	}
	if sales == nil {
		return nil, errors.New("sales loader is required")
	}
	if writer == nil {
		return nil, errors.New("sales writer is required")
	}
	if guard == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{subscription: subscription, sales: sales, writer: writer, guard: guard, logg: logg}, nil
}

// Run starts consuming analytics messages until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	return s.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if s.Handle(innerCtx, msg.ID, msg.Attributes["event_type"], msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// Handle processes one delivery and reports whether it should be acked.
func (s *Service) Handle(ctx context.Context, messageID, eventType string, data []byte) bool {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": eventType,
	})
	if enums.OutboxEventType(eventType) != enums.EventOrderCreated {
		return true
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "analytics.invalid_envelope")
		return true
	}
	eventID, err := envelope.ParsedEventID()
	if err != nil {
		s.logg.Warn(logCtx, "analytics.invalid_event_id")
		return true
	}
	var order payloads.OrderCreatedEvent
	if err := json.Unmarshal(envelope.Data, &order); err != nil || order.OrderID == uuid.Nil {
		s.logg.Warn(logCtx, "analytics.invalid_payload")
		return true
	}
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"event_id": envelope.EventID,
		"order_id": order.OrderID.String(),
	})

	var written int
	skipped, err := s.guard.Once(logCtx, analyticsConsumerName, eventID, func(ctx context.Context) error {
		sales, err := s.sales.ListSalesByOrder(ctx, order.OrderID)
		if err != nil {
			return fmt.Errorf("load sales: %w", err)
		}
		rows := analytics.SaleRows(envelope.EventID, envelope.OccurredAt, order, sales)
		if err := s.writer.Write(ctx, rows); err != nil {
			return err
		}
		written = len(rows)
		return nil
	})
	if err != nil {
		s.logg.Error(logCtx, "analytics.sales_write_failed", err)
		return false
	}
	if skipped {
		s.logg.Info(logCtx, "analytics.already_processed")
		return true
	}
	s.logg.Info(s.logg.WithField(logCtx, "rows", written), "analytics.sales_written")
	return true
}
