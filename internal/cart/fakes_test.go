package cart

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
)

// memoryRedis implements queueStore and cacheStore in memory.
type memoryRedis struct {
	mu        sync.Mutex
	strings   map[string]string
	zsets     map[string]map[string]int64
	sets      map[string]map[string]struct{}
	appendErr error
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{
		strings: map[string]string{},
		zsets:   map[string]map[string]int64{},
		sets:    map[string]map[string]struct{}{},
	}
}

func (m *memoryRedis) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.strings[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (m *memoryRedis) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		m.strings[key] = string(v)
	default:
		m.strings[key] = fmt.Sprint(v)
	}
	return nil
}

// AppendSequenced mirrors the redis script: counter bump, reseed above floor, queue and dirty
// mark all happen under one lock.
func (m *memoryRedis) AppendSequenced(_ context.Context, seqKey, zsetKey, setKey string, floor int64, _ time.Duration, payload, setMember string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return 0, m.appendErr
	}
	seq, _ := strconv.ParseInt(m.strings[seqKey], 10, 64)
	seq++
	if seq <= floor {
		seq = floor + 1
	}
	m.strings[seqKey] = strconv.FormatInt(seq, 10)
	if m.zsets[zsetKey] == nil {
		m.zsets[zsetKey] = map[string]int64{}
	}
	m.zsets[zsetKey][strconv.FormatInt(seq, 10)+":"+payload] = seq
	if m.sets[setKey] == nil {
		m.sets[setKey] = map[string]struct{}{}
	}
	m.sets[setKey][setMember] = struct{}{}
	return seq, nil
}

func (m *memoryRedis) IncrWithTTL(ctx context.Context, key string, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, _ := strconv.ParseInt(m.strings[key], 10, 64)
	n++
	m.strings[key] = strconv.FormatInt(n, 10)
	return n, nil
}

func (m *memoryRedis) Expire(context.Context, string, time.Duration) error { return nil }

func (m *memoryRedis) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.strings, key)
		delete(m.zsets, key)
		delete(m.sets, key)
	}
	return nil
}

func (m *memoryRedis) ZAddScored(_ context.Context, key string, score int64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.zsets[key] == nil {
		m.zsets[key] = map[string]int64{}
	}
	m.zsets[key][member] = score
	return nil
}

func (m *memoryRedis) ZRangeAbove(_ context.Context, key string, min int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type entry struct {
		member string
		score  int64
	}
	var entries []entry
	for member, score := range m.zsets[key] {
		if score > min {
			entries = append(entries, entry{member, score})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].score < entries[j].score })
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.member)
	}
	return out, nil
}

func (m *memoryRedis) ZRemUpTo(_ context.Context, key string, max int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for member, score := range m.zsets[key] {
		if score <= max {
			delete(m.zsets[key], member)
			removed++
		}
	}
	return removed, nil
}

func (m *memoryRedis) ZCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.zsets[key])), nil
}

func (m *memoryRedis) SAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sets[key] == nil {
		m.sets[key] = map[string]struct{}{}
	}
	for _, member := range members {
		m.sets[key][member] = struct{}{}
	}
	return nil
}

func (m *memoryRedis) SRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, member := range members {
		delete(m.sets[key], member)
	}
	return nil
}

func (m *memoryRedis) SRandMembers(_ context.Context, key string, count int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		if int64(len(out)) >= count {
			break
		}
		out = append(out, member)
	}
	return out, nil
}

func (m *memoryRedis) CartCacheKey(userID string) string    { return "cm:cart:doc:" + userID }
func (m *memoryRedis) CartOpsKey(userID string) string      { return "cm:cart:ops:" + userID }
func (m *memoryRedis) CartSeqKey(userID string) string      { return "cm:cart:seq:" + userID }
func (m *memoryRedis) CartAttemptsKey(userID string) string { return "cm:cart:attempts:" + userID }
func (m *memoryRedis) CartDirtyKey() string                 { return "cm:cart:dirty" }

func (m *memoryRedis) queued(userID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.zsets[m.CartOpsKey(userID.String())])
}

func (m *memoryRedis) dirty(userID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sets[m.CartDirtyKey()][userID.String()]
	return ok
}

// memoryRepo is an in-memory Repository with the same version check as the SQL one.
type memoryRepo struct {
	mu         sync.Mutex
	docs       map[uuid.UUID]models.CartDocument
	saveErr    error
	findErr    error
	beforeSave func(userID uuid.UUID)
	saves      int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{docs: map[uuid.UUID]models.CartDocument{}}
}

func (r *memoryRepo) WithTx(*gorm.DB) Repository { return r }

func (r *memoryRepo) FindByUser(_ context.Context, userID uuid.UUID) (*models.CartDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	doc, ok := r.docs[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return FromDocument(&doc).Document(), nil
}

func (r *memoryRepo) FindByUserForUpdate(ctx context.Context, userID uuid.UUID) (*models.CartDocument, error) {
	return r.FindByUser(ctx, userID)
}

func (r *memoryRepo) Save(_ context.Context, doc *models.CartDocument, expectedVersion int64) error {
	if hook := r.beforeSave; hook != nil {
		r.beforeSave = nil
		hook(doc.UserID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	current := r.docs[doc.UserID]
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}
	next := *FromDocument(doc).Document()
	next.Version = expectedVersion + 1
	r.docs[doc.UserID] = next
	doc.Version = next.Version
	r.saves++
	return nil
}

func (r *memoryRepo) stored(userID uuid.UUID) models.CartDocument {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.docs[userID]
}

var errStoreDown = errors.New("store unavailable")
