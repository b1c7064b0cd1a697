package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"relaybot/internal/models"
	"relaybot/internal/redis"
)

const (
	redisInvalidateChannel = "relaybot:session:invalidate"
	redisSessionPrefix     = "relaybot:session:"
	defaultRedisStateTTL   = 60 * time.Minute
)

const (
	scopeReset  = "reset"
	scopeUpdate = "update"
)

type invalidateMessage struct {
	UserID models.UserID `json:"user_id"`
	Scope  string        `json:"scope"`
	Origin string        `json:"origin"`
}

// stateRedis mirrors sessions into redis. A nil *stateRedis is a no-op cache.
type stateRedis struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func newStateCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *stateRedis {
	if ttl <= 0 {
		ttl = defaultRedisStateTTL
	}
	return &stateRedis{client: client, ttl: ttl, logger: logger}
}

func sessionKey(id models.UserID) string {
	return redisSessionPrefix + string(id)
}

// listen subscribes to the invalidation channel and blocks until ctx is done.
func (r *stateRedis) listen(ctx context.Context, handler func(invalidateMessage)) error {
	if r == nil || r.client == nil || handler == nil {
		<-ctx.Done()
		return nil
	}
	payloads, err := r.client.Subscribe(ctx, redisInvalidateChannel)
	if err != nil {
		return err
	}
	for payload := range payloads {
		var inv invalidateMessage
		if err := json.Unmarshal(payload, &inv); err != nil {
			r.logger.Warn("session invalidation decode failed", "error", err)
			continue
		}
		handler(inv)
	}
	if ctx.Err() != nil {
		return nil
	}
	return errors.New("session invalidation channel closed")
}

func (r *stateRedis) publishInvalidation(ctx context.Context, msg invalidateMessage) {
	if r == nil || r.client == nil {
		return
	}
	if err := r.client.PublishJSON(ctx, redisInvalidateChannel, msg); err != nil {
		r.logger.Warn("session publish invalidation failed", "user_id", msg.UserID, "error", err)
	}
}

func (r *stateRedis) cacheSession(ctx context.Context, se *models.Session) {
	if r == nil || r.client == nil || se == nil || se.Owner == "" {
		return
	}
	if err := r.client.SetJSON(ctx, sessionKey(se.Owner), se, r.ttl); err != nil {
		r.logger.Warn("session cache write failed", "user_id", se.Owner, "error", err)
	}
}

func (r *stateRedis) loadSession(ctx context.Context, id models.UserID) *models.Session {
	if r == nil || r.client == nil || id == "" {
		return nil
	}
	var se models.Session
	if err := r.client.GetJSON(ctx, sessionKey(id), &se); err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			r.logger.Warn("session cache read failed", "user_id", id, "error", err)
		}
		return nil
	}
	if se.Owner != id {
		return nil
	}
	if se.History == nil {
		se.History = make([]*models.Message, 0)
	}
	return &se
}

func (r *stateRedis) invalidateSession(ctx context.Context, id models.UserID) {
	if r == nil || r.client == nil || id == "" {
		return
	}
	if err := r.client.Del(ctx, sessionKey(id)); err != nil {
		r.logger.Warn("session cache invalidate failed", "user_id", id, "error", err)
	}
}
