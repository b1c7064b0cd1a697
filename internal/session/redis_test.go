package session

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/logging"
	"relaybot/internal/models"
	"relaybot/internal/redis"
)

func TestStateCacheStoreLoadAndInvalidate(t *testing.T) {
	client := newTestRedis(t)
	sc := newStateCache(client, time.Minute, logging.Discard())
	ctx := context.Background()

	se := &models.Session{
		ID:    "s-1",
		Owner: "alice",
		History: []*models.Message{
			{Role: models.RoleUser, Content: "hello"},
		},
	}
	sc.cacheSession(ctx, se)

	got := sc.loadSession(ctx, "alice")
	if got == nil || got.ID != se.ID || len(got.History) != 1 {
		t.Fatalf("expected cached session, got %+v", got)
	}
	if other := sc.loadSession(ctx, "bob"); other != nil {
		t.Fatalf("unexpected session for bob: %+v", other)
	}

	sc.invalidateSession(ctx, "alice")
	if got := sc.loadSession(ctx, "alice"); got != nil {
		t.Fatalf("expected session invalidated")
	}
}

func TestStoreSharesSessionsAcrossReplicas(t *testing.T) {
	client := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := NewStore(Options{Cache: client, CacheTTL: time.Minute})
	b := NewStore(Options{Cache: client, CacheTTL: time.Minute})
	go b.Listen(ctx)
	// give the listener goroutine time to subscribe
	time.Sleep(100 * time.Millisecond)

	if _, err := a.Apply(ctx, "alice", turn("hi", "hello")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got, err := b.GetOrCreate(ctx, "alice")
	if err != nil || len(got.History) != 2 {
		t.Fatalf("replica did not see cached history: %+v %v", got, err)
	}

	if _, err := a.Reset(ctx, "alice"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := b.Get("alice"); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("replica kept session after reset")
}

func TestStoreSeesTurnsAppendedByPeer(t *testing.T) {
	client := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := NewStore(Options{Cache: client, CacheTTL: time.Minute})
	b := NewStore(Options{Cache: client, CacheTTL: time.Minute})
	go a.Listen(ctx)
	go b.Listen(ctx)
	time.Sleep(100 * time.Millisecond)

	if _, err := a.Apply(ctx, "alice", turn("q1", "a1")); err != nil {
		t.Fatalf("apply on a: %v", err)
	}
	if se, err := b.GetOrCreate(ctx, "alice"); err != nil || len(se.History) != 2 {
		t.Fatalf("b did not load a's turn: %+v %v", se, err)
	}
	if _, err := b.Apply(ctx, "alice", turn("q2", "a2")); err != nil {
		t.Fatalf("apply on b: %v", err)
	}

	waitDropped(t, a, "alice")
	se, err := a.GetOrCreate(ctx, "alice")
	if err != nil || len(se.History) != 4 {
		t.Fatalf("a did not see b's turn: %+v %v", se, err)
	}
	got, err := a.Apply(ctx, "alice", turn("q3", "a3"))
	if err != nil || len(got.History) != 6 || got.History[2].Content != "q2" {
		t.Fatalf("a overwrote b's turn: %+v %v", got, err)
	}
}

// waitDropped waits until the store has dropped its local copy after a peer's update.
func waitDropped(t *testing.T, s *Store, id models.UserID) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := s.Get(id); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("store kept stale copy of %s", id)
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed session tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	db := 0
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			db = parsed
		}
	}
	client, err := redis.NewRedisClient(context.Background(), config.RedisConfig{Host: host, Port: port, DB: db})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.FlushDB(ctx); err != nil {
		t.Fatalf("flush db: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}
