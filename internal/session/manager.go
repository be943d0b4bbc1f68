package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"piggybank/internal/domain"
)

// DefaultTTL is how long a session may sit idle before it expires.
const DefaultTTL = 60 * time.Second

// ErrNotFound is returned for unknown, expired, or foreign session ids.
var ErrNotFound = errors.New("session: not found")

// Store is the persistence contract for sessions. Every method is a single
// atomic unit; "active" means last access at or after since, and that check
// is made in the same unit as the mutation.
type Store interface {
	CreateSession(ctx context.Context, s domain.Session) error
	TouchSession(ctx context.Context, id string, subscriptionID int64, since, now time.Time) (domain.Session, error)
	AppendMessages(ctx context.Context, id string, subscriptionID int64, since, now time.Time, msgs []domain.ChatMessage) (domain.Session, error)
	DeleteIdleSessions(ctx context.Context, before time.Time) (int, error)
	DeleteAllSessions(ctx context.Context) (int, error)
}

// SeedFunc builds the opening messages of a new session.
type SeedFunc func(ctx context.Context, subscriptionID int64) ([]domain.ChatMessage, error)

// Manager owns session lifecycle: creation, lookup with refresh, appends and expiry.
type Manager struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
	newID func() string
	seed  SeedFunc

	lazyEvery time.Duration
	sweepMu   sync.Mutex
	lastSweep time.Time
}

type Option func(*Manager)

func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) {
		if gen != nil {
			m.newID = gen
		}
	}
}

// WithSeed sets the function that provides the first messages of a new session.
func WithSeed(seed SeedFunc) Option {
	return func(m *Manager) {
		m.seed = seed
	}
}

// WithLazySweep makes GetOrCreate sweep idle sessions at most once per
// interval. Used where no background reaper can run.
func WithLazySweep(interval time.Duration) Option {
	return func(m *Manager) {
		if interval > 0 {
			m.lazyEvery = interval
		}
	}
}

func NewManager(store Store, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session: store must not be nil")
	}
	m := &Manager{
		store: store,
		ttl:   DefaultTTL,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// TTL reports the idle threshold in use.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Create starts a new session for the subscription, seeded if a seed is configured.
func (m *Manager) Create(ctx context.Context, subscriptionID int64) (domain.Session, error) {
	var msgs []domain.ChatMessage
	if m.seed != nil {
		seeded, err := m.seed(ctx, subscriptionID)
		if err != nil {
			return domain.Session{}, fmt.Errorf("session: seed: %w", err)
		}
		msgs = seeded
	}
	now := m.now()
	s := domain.Session{
		ID:             m.newID(),
		SubscriptionID: subscriptionID,
		Messages:       msgs,
		LastAccess:     now,
		CreatedAt:      now,
	}
	if err := m.store.CreateSession(ctx, s); err != nil {
		return domain.Session{}, fmt.Errorf("session: create: %w", err)
	}
	return s, nil
}

// GetOrCreate returns the active session with the given id, refreshing its
// last access, or creates a new one when id is empty. An id that is unknown,
// expired, or owned by another subscription yields ErrNotFound.
func (m *Manager) GetOrCreate(ctx context.Context, subscriptionID int64, id string) (domain.Session, error) {
	m.maybeSweep(ctx)
	id = strings.TrimSpace(id)
	if id == "" {
		return m.Create(ctx, subscriptionID)
	}
	return m.Touch(ctx, subscriptionID, id)
}

// Touch refreshes the last access of an active session.
func (m *Manager) Touch(ctx context.Context, subscriptionID int64, id string) (domain.Session, error) {
	now := m.now()
	s, err := m.store.TouchSession(ctx, id, subscriptionID, now.Add(-m.ttl), now)
	if err != nil {
		return domain.Session{}, fmt.Errorf("session: touch %s: %w", id, err)
	}
	return s, nil
}

// AppendMessage adds messages to an active session in order and refreshes it.
func (m *Manager) AppendMessage(ctx context.Context, subscriptionID int64, id string, msgs ...domain.ChatMessage) (domain.Session, error) {
	if len(msgs) == 0 {
		return m.Touch(ctx, subscriptionID, id)
	}
	now := m.now()
	s, err := m.store.AppendMessages(ctx, id, subscriptionID, now.Add(-m.ttl), now, msgs)
	if err != nil {
		return domain.Session{}, fmt.Errorf("session: append %s: %w", id, err)
	}
	return s, nil
}

// Sweep deletes every session idle for longer than the TTL. Safe to call at
// any time and from several processes.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	n, err := m.store.DeleteIdleSessions(ctx, m.now().Add(-m.ttl))
	if err != nil {
		return 0, fmt.Errorf("session: sweep: %w", err)
	}
	return n, nil
}

// Reset deletes every session regardless of age.
func (m *Manager) Reset(ctx context.Context) (int, error) {
	n, err := m.store.DeleteAllSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("session: reset: %w", err)
	}
	return n, nil
}

func (m *Manager) maybeSweep(ctx context.Context) {
	if m.lazyEvery <= 0 {
		return
	}
	m.sweepMu.Lock()
	now := m.now()
	due := m.lastSweep.IsZero() || now.Sub(m.lastSweep) >= m.lazyEvery
	if due {
		m.lastSweep = now
	}
	m.sweepMu.Unlock()
	if !due {
		return
	}
	n, err := m.Sweep(ctx)
	if err != nil {
		slog.Warn("lazy session sweep failed", "err", err)
		return
	}
	if n > 0 {
		slog.Info("swept idle sessions", "count", n)
	}
}
