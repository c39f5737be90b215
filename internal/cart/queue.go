package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// queueStore is the subset of the redis client backing the pending-op queue.
type queueStore interface {
	Get(ctx context.Context, key string) (string, error)
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Del(ctx context.Context, keys ...string) error
	AppendSequenced(ctx context.Context, seqKey, zsetKey, setKey string, floor int64, ttl time.Duration, payload, setMember string) (int64, error)
	ZRangeAbove(ctx context.Context, key string, min int64) ([]string, error)
	ZRemUpTo(ctx context.Context, key string, max int64) (int64, error)
	ZCard(ctx context.Context, key string) (int64, error)
	SRem(ctx context.Context, key string, members ...string) error
	SRandMembers(ctx context.Context, key string, count int64) ([]string, error)
	CartOpsKey(userID string) string
	CartSeqKey(userID string) string
	CartAttemptsKey(userID string) string
	CartDirtyKey() string
}

// OpQueue holds mutations that are visible to the user but not yet folded into the stored document.
type OpQueue interface {
	Enqueue(ctx context.Context, userID uuid.UUID, floor int64, op Op) (Op, error)
	Pending(ctx context.Context, userID uuid.UUID, afterSeq int64) ([]Op, error)
	Ack(ctx context.Context, userID uuid.UUID, upToSeq int64) (remaining int64, err error)
	Dirty(ctx context.Context, limit int64) ([]uuid.UUID, error)
	RecordFailure(ctx context.Context, userID uuid.UUID) (int64, error)
	Attempts(ctx context.Context, userID uuid.UUID) (int64, error)
}

type redisQueue struct {
	store queueStore
	ttl   time.Duration
}

// NewRedisQueue builds the queue on sorted sets scored by op sequence.
func NewRedisQueue(store queueStore, ttl time.Duration) (OpQueue, error) {
	if store == nil {
		return nil, fmt.Errorf("queue store required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("pending op ttl must be positive")
	}
	return &redisQueue{store: store, ttl: ttl}, nil
}

// Enqueue assigns the next sequence number, which is always greater than floor, and stores op
// under it in the same step. A sequence number is never visible without its op.
func (q *redisQueue) Enqueue(ctx context.Context, userID uuid.UUID, floor int64, op Op) (Op, error) {
	uid := userID.String()
	op.Seq = 0
	payload, err := json.Marshal(op)
	if err != nil {
		return Op{}, fmt.Errorf("encode cart op: %w", err)
	}
	seq, err := q.store.AppendSequenced(ctx,
		q.store.CartSeqKey(uid), q.store.CartOpsKey(uid), q.store.CartDirtyKey(),
		floor, q.ttl, string(payload), uid)
	if err != nil {
		return Op{}, fmt.Errorf("queue cart op: %w", err)
	}
	op.Seq = seq
	return op, nil
}

// Pending returns queued ops with seq > afterSeq in sequence order.
func (q *redisQueue) Pending(ctx context.Context, userID uuid.UUID, afterSeq int64) ([]Op, error) {
	raw, err := q.store.ZRangeAbove(ctx, q.store.CartOpsKey(userID.String()), afterSeq)
	if err != nil {
		return nil, fmt.Errorf("read cart ops: %w", err)
	}
	ops := make([]Op, 0, len(raw))
	for _, member := range raw {
		op, err := decodeOp(member)
		if err != nil {
			return nil, err
		}
		if op.Seq > afterSeq {
			ops = append(ops, op)
		}
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].Seq < ops[j].Seq })
	return ops, nil
}

// decodeOp parses a "<seq>:<json>" queue member.
func decodeOp(member string) (Op, error) {
	prefix, body, ok := strings.Cut(member, ":")
	if !ok {
		return Op{}, fmt.Errorf("malformed cart op %q", member)
	}
	seq, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return Op{}, fmt.Errorf("cart op seq: %w", err)
	}
	var op Op
	if err := json.Unmarshal([]byte(body), &op); err != nil {
		return Op{}, fmt.Errorf("decode cart op: %w", err)
	}
	op.Seq = seq
	return op, nil
}

// Ack drops ops up to upToSeq. When nothing remains the user leaves the dirty set and the
// failure counter resets.
func (q *redisQueue) Ack(ctx context.Context, userID uuid.UUID, upToSeq int64) (int64, error) {
	uid := userID.String()
	opsKey := q.store.CartOpsKey(uid)
	if upToSeq > 0 {
		if _, err := q.store.ZRemUpTo(ctx, opsKey, upToSeq); err != nil {
			return 0, fmt.Errorf("ack cart ops: %w", err)
		}
	}
	remaining, err := q.store.ZCard(ctx, opsKey)
	if err != nil {
		return 0, fmt.Errorf("count cart ops: %w", err)
	}
	if err := q.store.Del(ctx, q.store.CartAttemptsKey(uid)); err != nil {
		return remaining, fmt.Errorf("reset cart attempts: %w", err)
	}
	if remaining == 0 {
		if err := q.store.SRem(ctx, q.store.CartDirtyKey(), uid); err != nil {
			return remaining, fmt.Errorf("clear cart dirty: %w", err)
		}
	}
	return remaining, nil
}

// Dirty samples up to limit users with queued ops.
func (q *redisQueue) Dirty(ctx context.Context, limit int64) ([]uuid.UUID, error) {
	members, err := q.store.SRandMembers(ctx, q.store.CartDirtyKey(), limit)
	if err != nil {
		return nil, fmt.Errorf("read dirty carts: %w", err)
	}
	out := make([]uuid.UUID, 0, len(members))
	for _, member := range members {
		id, err := uuid.Parse(member)
		if err != nil {
			_ = q.store.SRem(ctx, q.store.CartDirtyKey(), member)
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// RecordFailure increments and returns the consecutive flush failure count.
func (q *redisQueue) RecordFailure(ctx context.Context, userID uuid.UUID) (int64, error) {
	return q.store.IncrWithTTL(ctx, q.store.CartAttemptsKey(userID.String()), q.ttl)
}

// Attempts returns the consecutive flush failure count.
func (q *redisQueue) Attempts(ctx context.Context, userID uuid.UUID) (int64, error) {
	raw, err := q.store.Get(ctx, q.store.CartAttemptsKey(userID.String()))
	if err != nil {
		if isCacheMiss(err) {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse cart attempts: %w", err)
	}
	return n, nil
}
