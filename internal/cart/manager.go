package cart

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"Storefront/internal/diskcache"
)

// settleDelay lets an identity change fully commit before the new identity's
// cart is loaded, so the load never runs under the stale token.
const settleDelay = 250 * time.Millisecond

// sessionIdleTTL bounds how long an untouched session keeps its queue worker
// alive. Eviction drops only in-memory state; the cart token and lines live
// on in the disk store and are re-adopted on the next load.
const sessionIdleTTL = 30 * time.Minute

type managedSession struct {
	session  *Session
	lastUsed time.Time
}

// Manager owns one Session per identity key, evicting sessions that have
// sat idle past the TTL.
type Manager struct {
	api     StoreAPI
	store   *diskcache.Store
	log     *zap.Logger
	backoff func(attempt int) time.Duration
	settle  time.Duration
	idleTTL time.Duration
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*managedSession
}

func NewManager(api StoreAPI, store *diskcache.Store, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		api:      api,
		store:    store,
		log:      log,
		settle:   settleDelay,
		idleTTL:  sessionIdleTTL,
		now:      time.Now,
		sessions: make(map[string]*managedSession),
	}
}

// Session returns the session for an identity key, creating it on first use
// and sweeping out idle sessions on the way.
func (m *Manager) Session(owner string) *Session {
	m.mu.Lock()
	now := m.now()
	evicted := m.evictIdleLocked(now, owner)

	ms, ok := m.sessions[owner]
	if !ok {
		ms = &managedSession{session: newSession(owner, m.api, m.store, m.log, m.backoff)}
		m.sessions[owner] = ms
	}
	ms.lastUsed = now
	s := ms.session
	m.mu.Unlock()

	// Close waits on the queue worker, so it runs outside the lock
	for _, e := range evicted {
		e.Close()
	}
	return s
}

func (m *Manager) evictIdleLocked(now time.Time, keep string) []*Session {
	var evicted []*Session
	for owner, ms := range m.sessions {
		if owner == keep {
			continue
		}
		if now.Sub(ms.lastUsed) > m.idleTTL {
			delete(m.sessions, owner)
			evicted = append(evicted, ms.session)
		}
	}
	return evicted
}

// SwitchIdentity retires the old identity's session, waits for the change to
// settle and loads a fresh cart for the new identity. The old cart token is
// dropped with the session and never reused.
func (m *Manager) SwitchIdentity(ctx context.Context, oldOwner, newOwner string) (*Session, error) {
	m.mu.Lock()
	old, ok := m.sessions[oldOwner]
	delete(m.sessions, oldOwner)
	m.mu.Unlock()

	if ok {
		old.session.Close()
	}

	select {
	case <-time.After(m.settle):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	next := m.Session(newOwner)
	if err := next.Load(ctx); err != nil {
		return next, err
	}
	return next, nil
}

func (m *Manager) Close() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, ms := range m.sessions {
		sessions = append(sessions, ms.session)
	}
	m.sessions = make(map[string]*managedSession)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
