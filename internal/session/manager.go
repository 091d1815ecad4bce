// Package session implements the Session Manager: TTL-bounded, per-client
// state carried across tool calls. Session data is opaque to the manager;
// handlers namespace their own keys.
package session

import (
	"sync"
	"time"
)

// Session is opaque per-client state with a TTL.
type Session struct {
	ID            string
	CreatedAt     time.Time
	LastTouchedAt time.Time
	TTL           time.Duration
	Data          map[string]any
}

// Expired reports whether the session has outlived its TTL as of now.
func (s *Session) Expired(now time.Time) bool {
	return now.Sub(s.LastTouchedAt) > s.TTL
}

// snapshot returns a shallow copy safe to hand to a caller outside the lock.
func (s *Session) snapshot() *Session {
	cp := *s
	cp.Data = make(map[string]any, len(s.Data))
	for k, v := range s.Data {
		cp.Data[k] = v
	}
	return &cp
}

// Config bounds session lifetime and sweep cadence.
type Config struct {
	TTL             time.Duration
	CleanupInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 3600 * time.Second
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 300 * time.Second
	}
	return c
}

// Manager is the process-wide session table singleton.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*Session

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a Manager and starts its background expiry sweep.
func New(cfg Config) *Manager {
	m := &Manager{
		cfg:      cfg.withDefaults(),
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// GetOrCreate returns the session for id, creating it with the configured
// TTL if absent, and always touching LastTouchedAt.
func (m *Manager) GetOrCreate(id string) *Session {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.Expired(now) {
		s = &Session{
			ID:            id,
			CreatedAt:     now,
			LastTouchedAt: now,
			TTL:           m.cfg.TTL,
			Data:          make(map[string]any),
		}
		m.sessions[id] = s
		return s.snapshot()
	}
	s.LastTouchedAt = now
	return s.snapshot()
}

// Get returns the session for id without touching it, or nil if absent or
// expired.
func (m *Manager) Get(id string) *Session {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.Expired(now) {
		return nil
	}
	return s.snapshot()
}

// Refresh extends the session by one full TTL from now without altering its
// data.
func (m *Manager) Refresh(id string) bool {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.Expired(now) {
		return false
	}
	s.LastTouchedAt = now
	return true
}

// Put stores a key under id's Data map, creating the session if needed.
func (m *Manager) Put(id, key string, value any) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.Expired(now) {
		s = &Session{ID: id, CreatedAt: now, TTL: m.cfg.TTL, Data: make(map[string]any)}
		m.sessions[id] = s
	}
	s.LastTouchedAt = now
	s.Data[key] = value
}

// End destroys the session for id.
func (m *Manager) End(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Shutdown stops the background sweep.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweepOnce(time.Now())
		}
	}
}

func (m *Manager) sweepOnce(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, id)
		}
	}
}
