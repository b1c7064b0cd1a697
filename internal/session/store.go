// Package session keeps one conversation state per user.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"relaybot/internal/logging"
	"relaybot/internal/models"
	"relaybot/internal/redis"
)

var (
	ErrStoreClosed     = errors.New("session store closed")
	ErrSessionNotFound = errors.New("session not found")
	ErrNoIdentity      = errors.New("session owner required")
)

const DefaultMaxHistory = 40

// Options configures a Store. Zero values pick sensible defaults.
type Options struct {
	MaxHistory int
	Now        func() time.Time
	Logger     *slog.Logger
	// Cache mirrors sessions into redis so replicas share conversations.
	Cache    *redis.Client
	CacheTTL time.Duration
}

// Store maps a user to its conversation. Every method hands out copies;
// the live Session values never leave the store.
type Store struct {
	mu         sync.Mutex
	sessions   map[models.UserID]*models.Session
	pins       map[models.UserID]int
	closed     bool
	maxHistory int
	now        func() time.Time
	logger     *slog.Logger
	cache      *stateRedis
	instanceID string
}

func NewStore(opts Options) *Store {
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = DefaultMaxHistory
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Store{
		sessions:   make(map[models.UserID]*models.Session),
		pins:       make(map[models.UserID]int),
		maxHistory: opts.MaxHistory,
		now:        opts.Now,
		logger:     logging.OrDiscard(opts.Logger),
		instanceID: uuid.NewString(),
	}
	if opts.Cache != nil {
		s.cache = newStateCache(opts.Cache, opts.CacheTTL, s.logger)
	}
	return s
}

// GetOrCreate returns the user's session, creating an empty one on first use.
// Concurrent calls for the same user observe a single creation.
func (s *Store) GetOrCreate(ctx context.Context, id models.UserID) (*models.Session, error) {
	if id == "" {
		return nil, ErrNoIdentity
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	if se, ok := s.sessions[id]; ok {
		c := se.Clone()
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	// a replica may have served this user before; look there outside the lock
	cached := s.cache.loadSession(ctx, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if se, ok := s.sessions[id]; ok {
		return se.Clone(), nil
	}
	se := cached
	if se == nil {
		se = s.newSessionLocked(id)
	}
	s.sessions[id] = se
	return se.Clone(), nil
}

// Acquire is GetOrCreate for a turn in progress: the session is pinned against
// idle eviction until release is called. Pins do not count as activity, so a
// turn that fails leaves LastActiveAt untouched.
func (s *Store) Acquire(ctx context.Context, id models.UserID) (*models.Session, func(), error) {
	if id == "" {
		return nil, nil, ErrNoIdentity
	}
	s.mu.Lock()
	s.pins[id]++
	s.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			s.mu.Lock()
			if s.pins[id]--; s.pins[id] <= 0 {
				delete(s.pins, id)
			}
			s.mu.Unlock()
		})
	}
	se, err := s.GetOrCreate(ctx, id)
	if err != nil {
		release()
		return nil, nil, err
	}
	return se, release, nil
}

// Get returns a copy of the session without creating one.
func (s *Store) Get(id models.UserID) (*models.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	se, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return se.Clone(), true
}

// Reset discards the user's state and installs a fresh, empty session.
func (s *Store) Reset(ctx context.Context, id models.UserID) (*models.Session, error) {
	if id == "" {
		return nil, ErrNoIdentity
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	fresh := s.newSessionLocked(id)
	s.sessions[id] = fresh
	c := fresh.Clone()
	s.mu.Unlock()

	s.cache.invalidateSession(ctx, id)
	s.cache.publishInvalidation(ctx, invalidateMessage{UserID: id, Scope: scopeReset, Origin: s.instanceID})
	return c, nil
}

// Touch marks the session as active now.
func (s *Store) Touch(_ context.Context, id models.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	se, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	se.LastActiveAt = s.now()
	return nil
}

// Apply commits a handler's update atomically and returns the resulting state.
func (s *Store) Apply(ctx context.Context, id models.UserID, u Update) (*models.Session, error) {
	if id == "" {
		return nil, ErrNoIdentity
	}
	switch u.Kind {
	case UpdateNone:
		se, _ := s.Get(id)
		return se, nil
	case UpdateReset:
		return s.Reset(ctx, id)
	case UpdateTouch:
		if err := s.Touch(ctx, id); err != nil {
			return nil, err
		}
		se, _ := s.Get(id)
		return se, nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	_, local := s.sessions[id]
	s.mu.Unlock()

	// dropped locally after a peer update or an eviction; the mirror may still
	// hold the history this turn was built on
	var cached *models.Session
	if !local {
		cached = s.cache.loadSession(ctx, id)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	se, ok := s.sessions[id]
	if !ok {
		se = cached
		if se == nil {
			se = s.newSessionLocked(id)
		}
		s.sessions[id] = se
	}
	for _, msg := range u.Messages {
		if msg == nil {
			continue
		}
		m := *msg
		se.History = append(se.History, &m)
	}
	se.History = trimHistory(se.History, s.maxHistory)
	se.LastActiveAt = s.now()
	snapshot := se.Clone()
	s.mu.Unlock()

	s.cache.cacheSession(ctx, snapshot)
	// peers drop their copy and reload the snapshot on next use
	s.cache.publishInvalidation(ctx, invalidateMessage{UserID: id, Scope: scopeUpdate, Origin: s.instanceID})
	return snapshot, nil
}

// EvictIdle drops sessions inactive for longer than maxAge and reports how many.
// Sessions pinned by a running turn are kept.
func (s *Store) EvictIdle(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	cutoff := s.now().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, se := range s.sessions {
		if s.pins[id] > 0 {
			continue
		}
		if se.LastActiveAt.Before(cutoff) {
			delete(s.sessions, id)
			evicted++
		}
	}
	return evicted
}

// StartEvictor runs EvictIdle every interval until ctx is done.
func (s *Store) StartEvictor(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 || maxAge <= 0 {
		return
	}
	go s.evictLoop(ctx, interval, maxAge)
}

func (s *Store) evictLoop(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.EvictIdle(maxAge); n > 0 {
				s.logger.Info("evicted idle sessions", "count", n, "max_age", maxAge)
			}
		}
	}
}

// Listen applies invalidations published by other replicas until ctx is done.
// Without a redis cache it just waits for ctx.
func (s *Store) Listen(ctx context.Context) error {
	if s.cache == nil {
		<-ctx.Done()
		return nil
	}
	return s.cache.listen(ctx, s.onInvalidate)
}

// onInvalidate drops the local copy named by a peer's message; the next use
// reloads it from the mirror.
func (s *Store) onInvalidate(msg invalidateMessage) {
	if msg.Origin == s.instanceID {
		return
	}
	s.drop(msg.UserID)
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close rejects further use and drops every session.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.sessions = make(map[models.UserID]*models.Session)
	s.pins = make(map[models.UserID]int)
	s.mu.Unlock()
}

func (s *Store) drop(id models.UserID) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

func (s *Store) newSessionLocked(id models.UserID) *models.Session {
	now := s.now()
	return &models.Session{
		ID:           uuid.NewString(),
		Owner:        id,
		History:      make([]*models.Message, 0),
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// trimHistory keeps the newest max messages and never starts on an assistant turn.
func trimHistory(history []*models.Message, max int) []*models.Message {
	if max <= 0 || len(history) <= max {
		return history
	}
	history = history[len(history)-max:]
	for len(history) > 0 && history[0].Role == models.RoleAssistant {
		history = history[1:]
	}
	out := make([]*models.Message, len(history))
	copy(out, history)
	return out
}
