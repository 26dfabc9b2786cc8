// Package session keeps the per-visitor state of the storefront: a cart, the
// product listing on display and the checkout. Nothing here outlives the
// process.
package session

import (
	"context"
	"sync"
	"time"

	"storefront/internal/cart"
	"storefront/internal/catalog"
	"storefront/internal/service"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session is the state owned by one visitor
type Session struct {
	ID        string
	Cart      *cart.Store
	Listing   *catalog.Listing
	Checkout  *service.Checkout
	CreatedAt time.Time

	mu       sync.Mutex
	lastSeen time.Time
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// LastSeen returns when the session was last used
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Manager hands out sessions by id
type Manager struct {
	catalog catalog.ProductLister
	now     func() time.Time
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session registry whose listings read from source
func NewManager(source catalog.ProductLister) *Manager {
	return &Manager{
		catalog:  source,
		now:      time.Now,
		logger:   util.GetLogger(),
		sessions: make(map[string]*Session),
	}
}

// Get returns the session for id. Unknown or empty ids get a fresh session;
// created reports whether that happened.
func (m *Manager) Get(id string) (sess *Session, created bool) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[id]; ok && id != "" {
		sess.touch(now)
		return sess, false
	}

	if _, err := uuid.Parse(id); err != nil {
		id = uuid.New().String()
	}

	sess = &Session{
		ID:        id,
		Cart:      cart.NewStore(),
		Listing:   catalog.NewListing(m.catalog),
		Checkout:  service.NewCheckout(id),
		CreatedAt: now,
		lastSeen:  now,
	}
	m.sessions[id] = sess
	util.ActiveSessions.Set(float64(len(m.sessions)))

	m.logger.Debug("Session created", zap.String("session_id", id))
	return sess, true
}

// Len returns the number of live sessions
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep drops sessions idle for longer than maxIdle and returns how many were dropped
func (m *Manager) Sweep(maxIdle time.Duration) int {
	cutoff := m.now().Add(-maxIdle)

	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	for id, sess := range m.sessions {
		if sess.LastSeen().Before(cutoff) {
			delete(m.sessions, id)
			dropped++
		}
	}
	util.ActiveSessions.Set(float64(len(m.sessions)))

	if dropped > 0 {
		m.logger.Info("Expired idle sessions",
			zap.Int("dropped", dropped),
			zap.Int("remaining", len(m.sessions)))
	}
	return dropped
}

// RunSweeper calls Sweep every interval until ctx is done
func (m *Manager) RunSweeper(ctx context.Context, interval, maxIdle time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep(maxIdle)
		}
	}
}
