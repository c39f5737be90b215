package orders

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
	"github.com/angelmondragon/campusmart-backend/pkg/redis"
)

// Bus carries raw status payloads over per-order channels.
type Bus interface {
	Publish(ctx context.Context, orderID uuid.UUID, payload []byte) error
	Listen(ctx context.Context, orderID uuid.UUID) (<-chan []byte, func() error, error)
}

// Tracker publishes status changes and serves live, monotonic status streams.
type Tracker interface {
	Publish(ctx context.Context, update StatusUpdate) error
	Subscribe(ctx context.Context, orderID uuid.UUID) (<-chan StatusUpdate, error)
}

type snapshotLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

type tracker struct {
	bus    Bus
	orders snapshotLoader
	logg   *logger.Logger
}

// NewTracker builds a tracker on the given bus; snapshots are read from orders.
func NewTracker(bus Bus, orders snapshotLoader, logg *logger.Logger) (Tracker, error) {
	if bus == nil {
		return nil, fmt.Errorf("status bus required")
	}
	if orders == nil {
		return nil, fmt.Errorf("order loader required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &tracker{bus: bus, orders: orders, logg: logg}, nil
}

func (t *tracker) Publish(ctx context.Context, update StatusUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("encode status update: %w", err)
	}
	return t.bus.Publish(ctx, update.OrderID, payload)
}

// Subscribe emits the current status first, then live updates. Updates whose index is not
// above the last emitted one are dropped. The channel closes when ctx ends or the bus closes.
func (t *tracker) Subscribe(ctx context.Context, orderID uuid.UUID) (<-chan StatusUpdate, error) {
	// listen before reading the snapshot so no transition falls between the two
	raw, closeFn, err := t.bus.Listen(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("listen for order %s: %w", orderID, err)
	}
	order, err := t.orders.FindByID(ctx, orderID)
	if err != nil {
		_ = closeFn()
		return nil, err
	}

	out := make(chan StatusUpdate, 1)
	snapshot := NewStatusUpdate(order)
	out <- snapshot

	go func() {
		defer close(out)
		defer func() {
			if err := closeFn(); err != nil {
				t.logg.Warn(t.logg.WithField(ctx, "error", err.Error()), "orders.tracker_close_failed")
			}
		}()

		last := snapshot.Index
		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-raw:
				if !ok {
					return
				}
				var update StatusUpdate
				if err := json.Unmarshal(payload, &update); err != nil {
					t.logg.Warn(t.logg.WithField(ctx, "error", err.Error()), "orders.tracker_bad_payload")
					continue
				}
				if update.OrderID != orderID {
					continue
				}
				update.Index = update.Status.Rank()
				if update.Index <= last {
					continue
				}
				last = update.Index
				select {
				case out <- update:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

type redisBus struct {
	client *redis.Client
}

// NewRedisBus adapts the redis client's pub/sub to a Bus.
func NewRedisBus(client *redis.Client) Bus {
	return &redisBus{client: client}
}

func (b *redisBus) Publish(ctx context.Context, orderID uuid.UUID, payload []byte) error {
	return b.client.Publish(ctx, b.client.OrderChannel(orderID.String()), payload)
}

func (b *redisBus) Listen(ctx context.Context, orderID uuid.UUID) (<-chan []byte, func() error, error) {
	sub, err := b.client.Subscribe(ctx, b.client.OrderChannel(orderID.String()))
	if err != nil {
		return nil, nil, err
	}
	out := make(chan []byte)
	msgs := sub.Channel()
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, sub.Close, nil
}
