package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox/payloads"
)

const orderNotificationConsumer = "order-notifications"

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type onceGuard interface {
	Once(ctx context.Context, consumer string, eventID uuid.UUID, fn func(context.Context) error) (bool, error)
}

// Consumer turns order lifecycle events into buyer and seller notifications.
type Consumer struct {
	repo         Repository
	subscription receiver
	idempotency  onceGuard
	logg         *logger.Logger
}

// NewConsumer builds an order notification consumer.
func NewConsumer(repo Repository, subscription receiver, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	return newConsumer(repo, subscription, manager, logg)
}

func newConsumer(repo Repository, subscription receiver, guard onceGuard, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("domain subscription required")
	}
	if guard == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{repo: repo, subscription: subscription, idempotency: guard, logg: logg}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.Handle(ctx, msg.ID, msg.Attributes["event_type"], msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// Handle processes one delivery and reports whether it should be acked.
// Malformed payloads are acked so they do not redeliver forever.
func (c *Consumer) Handle(ctx context.Context, messageID, eventType string, data []byte) bool {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": eventType,
	})

	switch enums.OutboxEventType(eventType) {
	case enums.EventOrderStatusChanged, enums.EventFundsReleased:
	default:
		c.logg.Debug(logCtx, "notifications.skip_event")
		return true
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.logg.Error(logCtx, "notifications.decode_envelope_failed", err)
		return true
	}
	eventID, err := envelope.ParsedEventID()
	if err != nil {
		c.logg.Error(logCtx, "notifications.invalid_event_id", err)
		return true
	}

	var build func() ([]models.Notification, error)
	switch enums.OutboxEventType(eventType) {
	case enums.EventOrderStatusChanged:
		var payload payloads.OrderStatusChangedEvent
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			c.logg.Error(logCtx, "notifications.decode_payload_failed", err)
			return true
		}
		build = func() ([]models.Notification, error) { return statusNotifications(payload) }
	case enums.EventFundsReleased:
		var payload payloads.FundsReleasedEvent
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			c.logg.Error(logCtx, "notifications.decode_payload_failed", err)
			return true
		}
		build = func() ([]models.Notification, error) { return payoutNotifications(payload) }
	}

	rows, err := build()
	if err != nil {
		c.logg.Error(logCtx, "notifications.invalid_payload", err)
		return true
	}

	skipped, err := c.idempotency.Once(ctx, orderNotificationConsumer, eventID, func(ctx context.Context) error {
		return c.repo.CreateMany(ctx, rows)
	})
	if err != nil {
		c.logg.Error(logCtx, "notifications.create_failed", err)
		return false
	}
	if skipped {
		c.logg.Info(logCtx, "notifications.already_processed")
		return true
	}
	c.logg.Info(c.logg.WithField(logCtx, "count", len(rows)), "notifications.created")
	return true
}

func statusNotifications(payload payloads.OrderStatusChangedEvent) ([]models.Notification, error) {
	if payload.OrderID == uuid.Nil || payload.BuyerID == uuid.Nil {
		return nil, fmt.Errorf("order and buyer ids required")
	}
	if !payload.To.IsValid() {
		return nil, fmt.Errorf("unknown status %q", payload.To)
	}
	orderID := payload.OrderID
	link := orderLink(orderID)
	return []models.Notification{{
		RecipientID: payload.BuyerID,
		OrderID:     &orderID,
		Type:        enums.NotificationTypeOrderUpdate,
		Title:       statusTitle(payload.To),
		Message:     fmt.Sprintf("Your order is now %s.", strings.ReplaceAll(string(payload.To), "_", " ")),
		Link:        &link,
	}}, nil
}

func payoutNotifications(payload payloads.FundsReleasedEvent) ([]models.Notification, error) {
	if payload.OrderID == uuid.Nil {
		return nil, fmt.Errorf("order id required")
	}
	orderID := payload.OrderID
	link := orderLink(orderID)
	out := make([]models.Notification, 0, len(payload.Payouts))
	for _, payout := range payload.Payouts {
		if payout.SellerID == uuid.Nil {
			return nil, fmt.Errorf("payout seller id required")
		}
		out = append(out, models.Notification{
			RecipientID: payout.SellerID,
			OrderID:     &orderID,
			Type:        enums.NotificationTypePayoutRelease,
			Title:       "Funds released",
			Message:     fmt.Sprintf("%s has been released to your balance.", payout.Amount.StringFixed(2)),
			Link:        &link,
		})
	}
	return out, nil
}

func statusTitle(status enums.OrderStatus) string {
	switch status {
	case enums.OrderStatusRiderAssigned:
		return "Rider assigned"
	case enums.OrderStatusInTransit:
		return "Order on the way"
	case enums.OrderStatusDelivered:
		return "Order delivered"
	case enums.OrderStatusCompleted:
		return "Order completed"
	default:
		return "Order updated"
	}
}
