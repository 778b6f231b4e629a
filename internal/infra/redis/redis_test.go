package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"telegram-image-gen/internal/domain"
	"telegram-image-gen/internal/domain/ports/repository"
)

// fakeRedis implements RedisClient on plain maps. TTLs are recorded but never
// enforced; tests assert on them directly.
type fakeRedis struct {
	kv       map[string]string
	ttl      map[string]time.Duration
	lists    map[string][]string
	counters map[string]int64

	getErr  error
	incrErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		kv:       make(map[string]string),
		ttl:      make(map[string]time.Duration),
		lists:    make(map[string][]string),
		counters: make(map[string]int64),
	}
}

func (f *fakeRedis) Ping(ctx context.Context) error { return nil }

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	f.kv[key] = fmt.Sprint(value)
	f.ttl[key] = expiration
	return nil
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	if _, ok := f.kv[key]; ok {
		return false, nil
	}
	f.kv[key] = fmt.Sprint(value)
	f.ttl[key] = expiration
	return true, nil
}

func (f *fakeRedis) Get(ctx context.Context, key string) (string, error) {
	if f.getErr != nil {
		return "", f.getErr
	}
	v, ok := f.kv[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (f *fakeRedis) Incr(ctx context.Context, key string) (int64, error) {
	if f.incrErr != nil {
		return 0, f.incrErr
	}
	f.counters[key]++
	return f.counters[key], nil
}

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) error {
	f.ttl[key] = expiration
	return nil
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.kv, k)
		delete(f.ttl, k)
	}
	return nil
}

func (f *fakeRedis) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := f.kv[key]
	return ok, nil
}

func (f *fakeRedis) LPush(ctx context.Context, key string, value interface{}) error {
	var s string
	switch v := value.(type) {
	case []byte:
		s = string(v)
	default:
		s = fmt.Sprint(v)
	}
	f.lists[key] = append([]string{s}, f.lists[key]...)
	return nil
}

func (f *fakeRedis) LLen(ctx context.Context, key string) (int64, error) {
	return int64(len(f.lists[key])), nil
}

func (f *fakeRedis) BRPop(ctx context.Context, timeout time.Duration, key string) (string, error) {
	l := f.lists[key]
	if len(l) == 0 {
		return "", redis.Nil
	}
	v := l[len(l)-1]
	f.lists[key] = l[:len(l)-1]
	return v, nil
}

func (f *fakeRedis) Close() error { return nil }

var _ RedisClient = (*fakeRedis)(nil)

func TestDebitMarkers(t *testing.T) {
	ctx := context.Background()
	cli := newFakeRedis()
	m := NewDebitMarkers(cli)

	ok, err := m.Exists(ctx, "vt-1")
	if err != nil || ok {
		t.Fatalf("Exists before Set = %v, %v", ok, err)
	}
	if err := m.Set(ctx, "vt-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	ok, err = m.Exists(ctx, "vt-1")
	if err != nil || !ok {
		t.Fatalf("Exists after Set = %v, %v", ok, err)
	}
	if ttl := cli.ttl[debitKey("vt-1")]; ttl != markerTTL {
		t.Errorf("marker TTL = %v, want %v", ttl, markerTTL)
	}
	if err := m.Delete(ctx, "vt-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ = m.Exists(ctx, "vt-1"); ok {
		t.Error("marker survived Delete")
	}

	cli.getErr = errors.New("conn reset")
	if _, err := m.Exists(ctx, "vt-1"); err == nil {
		t.Error("redis error swallowed by Exists")
	}
}

func TestPendingMarkers(t *testing.T) {
	ctx := context.Background()
	cli := newFakeRedis()
	m := NewPendingMarkers(cli, 30*time.Minute)

	if err := m.Set(ctx, "vt-2"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ttl := cli.ttl[pendingKey("vt-2")]; ttl != 30*time.Minute {
		t.Errorf("ttl = %v, want 30m", ttl)
	}
	ok, err := m.Exists(ctx, "vt-2")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
	if err := m.Clear(ctx, "vt-2"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if ok, _ = m.Exists(ctx, "vt-2"); ok {
		t.Error("pending marker survived Clear")
	}

	// Zero TTL falls back to the default.
	def := NewPendingMarkers(cli, 0)
	_ = def.Set(ctx, "vt-3")
	if ttl := cli.ttl[pendingKey("vt-3")]; ttl != markerTTL {
		t.Errorf("default ttl = %v, want %v", ttl, markerTTL)
	}
}

func TestFailureNotices_FirstCallerOnly(t *testing.T) {
	ctx := context.Background()
	m := NewFailureNotices(newFakeRedis())

	first, err := m.MarkShown(ctx, "vt-4")
	if err != nil || !first {
		t.Fatalf("first MarkShown = %v, %v", first, err)
	}
	second, err := m.MarkShown(ctx, "vt-4")
	if err != nil || second {
		t.Fatalf("second MarkShown = %v, %v", second, err)
	}
	other, _ := m.MarkShown(ctx, "vt-5")
	if !other {
		t.Error("distinct task blocked by unrelated marker")
	}
}

func TestGenerationQueue_RoundTrip(t *testing.T) {
	ctx := context.Background()
	q := NewGenerationQueue(newFakeRedis())

	if _, err := q.Dequeue(ctx, time.Second); !errors.Is(err, domain.ErrQueueEmpty) {
		t.Fatalf("empty Dequeue err = %v, want ErrQueueEmpty", err)
	}

	first := &repository.GenerationRequest{
		ChatID:      42,
		Prompt:      "a fox over the city",
		AssetURLs:   []string{"https://cdn.example/a.png"},
		AspectRatio: "16:9",
	}
	second := &repository.GenerationRequest{ChatID: 43, Prompt: "plain"}
	if err := q.Enqueue(ctx, first); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, second); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, err := q.Dequeue(ctx, time.Second)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got.ChatID != first.ChatID || got.Prompt != first.Prompt || got.AspectRatio != first.AspectRatio {
		t.Errorf("dequeued %+v, want %+v", got, first)
	}
	if len(got.AssetURLs) != 1 || got.AssetURLs[0] != first.AssetURLs[0] {
		t.Errorf("asset urls = %v", got.AssetURLs)
	}

	got, err = q.Dequeue(ctx, time.Second)
	if err != nil || got.ChatID != 43 {
		t.Errorf("second Dequeue = %+v, %v", got, err)
	}
}

func TestRateLimiter_FixedWindow(t *testing.T) {
	ctx := context.Background()
	cli := newFakeRedis()
	rl := NewRateLimiter(cli)
	key := SubmitKey(99)

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("call %d: allow = %v, %v", i+1, ok, err)
		}
	}
	ok, err := rl.Allow(ctx, key, 3, time.Minute)
	if err != nil || ok {
		t.Fatalf("over-limit call allowed: %v, %v", ok, err)
	}

	// Window TTL is set only on the first increment of the window.
	if ttl := cli.ttl[key]; ttl != time.Minute {
		t.Errorf("window ttl = %v, want 1m", ttl)
	}

	cli.incrErr = errors.New("conn reset")
	if _, err := rl.Allow(ctx, key, 3, time.Minute); err == nil {
		t.Error("redis error swallowed by Allow")
	}
}

func TestSubmitKey(t *testing.T) {
	if got := SubmitKey(123); got != "rate_limit:123:submit" {
		t.Errorf("SubmitKey = %q", got)
	}
}
