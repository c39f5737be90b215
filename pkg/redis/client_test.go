package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestIncrWithTTLOnlyExpiresFirstIncrement(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	for i := 1; i <= 3; i++ {
		count, err := client.IncrWithTTL(ctx, "cm:cart:attempts:u1", time.Minute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != int64(i) {
			t.Fatalf("expected counter %d got %d", i, count)
		}
	}
	if len(mock.expireCalls) != 1 {
		t.Fatalf("expected a single expire call, got %d", len(mock.expireCalls))
	}
}

func TestSortedQueueRangeAndTrim(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}
	key := client.CartOpsKey("u1")

	for seq := int64(1); seq <= 4; seq++ {
		if err := client.ZAddScored(ctx, key, seq, fmt.Sprintf("op-%d", seq)); err != nil {
			t.Fatalf("zadd: %v", err)
		}
	}

	members, err := client.ZRangeAbove(ctx, key, 2)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if strings.Join(members, ",") != "op-3,op-4" {
		t.Fatalf("unexpected members %v", members)
	}

	removed, err := client.ZRemUpTo(ctx, key, 3)
	if err != nil {
		t.Fatalf("trim: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removed, got %d", removed)
	}
	if n, _ := client.ZCard(ctx, key); n != 1 {
		t.Fatalf("expected one remaining op, got %d", n)
	}
}

func TestGetMissingKeyIsNil(t *testing.T) {
	client := &Client{store: newMockCmdable()}
	_, err := client.Get(context.Background(), client.CartCacheKey("nobody"))
	if !IsNil(err) {
		t.Fatalf("expected redis.Nil, got %v", err)
	}
}

func TestUninitializedClient(t *testing.T) {
	client := &Client{}
	if err := client.Ping(context.Background()); err == nil {
		t.Fatal("expected error from uninitialized client")
	}
	if _, err := client.Subscribe(context.Background(), "x"); err == nil {
		t.Fatal("expected subscribe to fail without a raw client")
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	cases := map[string]string{
		client.IdempotencyKey("scope", "id"): "cm:idempotency:scope:id",
		client.CartCacheKey("u1"):            "cm:cart:doc:u1",
		client.CartOpsKey("u1"):              "cm:cart:ops:u1",
		client.CartSeqKey("u1"):              "cm:cart:seq:u1",
		client.CartDirtyKey():                "cm:cart:dirty",
		client.OrderChannel("o1"):            "cm:order:o1",
		client.LockKey("cron"):               "cm:lock:cron",
		client.IdempotencyKey("scope", ""):   "cm:idempotency:scope",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("expected %s got %s", want, got)
		}
	}
}

type mockCmdable struct {
	data        map[string]string
	incr        map[string]int64
	zsets       map[string]map[string]float64
	sets        map[string]map[string]struct{}
	published   map[string][]string
	expireCalls []expireCall
}

type expireCall struct {
	key string
	ttl time.Duration
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data:      make(map[string]string),
		incr:      make(map[string]int64),
		zsets:     make(map[string]map[string]float64),
		sets:      make(map[string]map[string]struct{}),
		published: make(map[string][]string),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Incr(_ context.Context, key string) *redis.IntCmd {
	m.incr[key]++
	return redis.NewIntResult(m.incr[key], nil)
}

func (m *mockCmdable) Expire(_ context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	m.expireCalls = append(m.expireCalls, expireCall{key: key, ttl: expiration})
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
		delete(m.zsets, key)
		delete(m.incr, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (m *mockCmdable) ZAdd(_ context.Context, key string, members ...redis.Z) *redis.IntCmd {
	if m.zsets[key] == nil {
		m.zsets[key] = make(map[string]float64)
	}
	for _, z := range members {
		m.zsets[key][fmt.Sprint(z.Member)] = z.Score
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (m *mockCmdable) ZRangeByScore(_ context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd {
	min, _ := strconv.ParseFloat(strings.TrimPrefix(opt.Min, "("), 64)
	type scored struct {
		member string
		score  float64
	}
	var hits []scored
	for member, score := range m.zsets[key] {
		if score > min {
			hits = append(hits, scored{member, score})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].score < hits[j].score })
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.member
	}
	return redis.NewStringSliceResult(out, nil)
}

func (m *mockCmdable) ZRemRangeByScore(_ context.Context, key, _, max string) *redis.IntCmd {
	limit, _ := strconv.ParseFloat(max, 64)
	var removed int64
	for member, score := range m.zsets[key] {
		if score <= limit {
			delete(m.zsets[key], member)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func (m *mockCmdable) ZCard(_ context.Context, key string) *redis.IntCmd {
	return redis.NewIntResult(int64(len(m.zsets[key])), nil)
}

func (m *mockCmdable) SAdd(_ context.Context, key string, members ...any) *redis.IntCmd {
	if m.sets[key] == nil {
		m.sets[key] = make(map[string]struct{})
	}
	for _, member := range members {
		m.sets[key][fmt.Sprint(member)] = struct{}{}
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (m *mockCmdable) SRem(_ context.Context, key string, members ...any) *redis.IntCmd {
	for _, member := range members {
		delete(m.sets[key], fmt.Sprint(member))
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (m *mockCmdable) SRandMemberN(_ context.Context, key string, count int64) *redis.StringSliceCmd {
	var out []string
	for member := range m.sets[key] {
		if int64(len(out)) >= count {
			break
		}
		out = append(out, member)
	}
	return redis.NewStringSliceResult(out, nil)
}

func (m *mockCmdable) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	m.published[channel] = append(m.published[channel], fmt.Sprint(message))
	return redis.NewIntResult(1, nil)
}

type recordingScripter struct {
	keys []string
	args []any
	seq  int64
}

func (s *recordingScripter) result(ctx context.Context, keys []string, args []any) *redis.Cmd {
	s.keys, s.args = keys, args
	cmd := redis.NewCmd(ctx)
	cmd.SetVal(s.seq)
	return cmd
}

func (s *recordingScripter) Eval(ctx context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return s.result(ctx, keys, args)
}

func (s *recordingScripter) EvalSha(ctx context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return s.result(ctx, keys, args)
}

func (s *recordingScripter) EvalRO(ctx context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return s.result(ctx, keys, args)
}

func (s *recordingScripter) EvalShaRO(ctx context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return s.result(ctx, keys, args)
}

func (s *recordingScripter) ScriptExists(ctx context.Context, _ ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceCmd(ctx)
}

func (s *recordingScripter) ScriptLoad(ctx context.Context, _ string) *redis.StringCmd {
	return redis.NewStringCmd(ctx)
}

func TestAppendSequencedRunsAsOneScript(t *testing.T) {
	ctx := context.Background()
	scripter := &recordingScripter{seq: 7}
	client := &Client{scripter: scripter}

	seq, err := client.AppendSequenced(ctx, client.CartSeqKey("u1"), client.CartOpsKey("u1"), client.CartDirtyKey(), 3, time.Hour, `{"kind":"add"}`, "u1")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if seq != 7 {
		t.Fatalf("expected seq 7, got %d", seq)
	}
	if strings.Join(scripter.keys, ",") != "cm:cart:seq:u1,cm:cart:ops:u1,cm:cart:dirty" {
		t.Fatalf("unexpected keys %v", scripter.keys)
	}
	if len(scripter.args) != 4 || scripter.args[0] != int64(3) || scripter.args[2] != int64(3600000) || scripter.args[3] != "u1" {
		t.Fatalf("unexpected args %v", scripter.args)
	}
}

func TestAppendSequencedRequiresClient(t *testing.T) {
	if _, err := (&Client{}).AppendSequenced(context.Background(), "a", "b", "c", 0, 0, "x", "u"); err == nil {
		t.Fatal("expected error without a connection")
	}
}
