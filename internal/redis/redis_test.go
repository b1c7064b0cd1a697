package redis

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"relaybot/internal/config"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	c, err := NewRedisClient(context.Background(), config.RedisConfig{Host: host, Port: port})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestJSONRoundTripAndMiss(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	type entry struct{ Name string }

	if err := c.SetJSON(ctx, "relaybot:test:json", entry{Name: "alice"}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got entry
	if err := c.GetJSON(ctx, "relaybot:test:json", &got); err != nil || got.Name != "alice" {
		t.Fatalf("get = %+v, %v", got, err)
	}
	if err := c.Del(ctx, "relaybot:test:json"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if err := c.GetJSON(ctx, "relaybot:test:json", &got); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected cache miss, got %v", err)
	}
}

func TestSubscribeReceivesPublished(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	payloads, err := c.Subscribe(ctx, "relaybot:test:chan")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := c.PublishJSON(ctx, "relaybot:test:chan", map[string]string{"k": "v"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case p := <-payloads:
		if string(p) != `{"k":"v"}` {
			t.Fatalf("unexpected payload %s", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no message received")
	}

	cancel()
	select {
	case _, ok := <-payloads:
		if ok {
			t.Fatalf("expected channel closed after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("subscription did not stop")
	}
}

func TestNilClient(t *testing.T) {
	var c *Client
	if err := c.Del(context.Background(), "k"); err == nil {
		t.Fatalf("expected error from nil client")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close nil: %v", err)
	}
}
