package player

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one tracked playback engine.
type Session struct {
	ID        string
	Engine    *Engine
	StartedAt time.Time
	done      chan struct{}
}

// Done is closed when the session is removed from the manager.
func (s *Session) Done() <-chan struct{} { return s.done }

// Manager tracks the lifecycle of active playback sessions.
type Manager struct {
	log      *slog.Logger
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager. If log is nil, slog.Default() is used.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:      log.With("component", "session-manager"),
		sessions: make(map[string]*Session),
	}
}

// Create registers a new session around the engine and assigns it an ID.
func (m *Manager) Create(e *Engine) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		Engine:    e,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.log.Info("session created", "id", s.ID)
	return s
}

// Get returns the session with the given ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove drops a session from the manager and signals its Done channel.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if ok {
		close(s.done)
		m.log.Info("session removed", "id", id, "uptime", time.Since(s.StartedAt))
	}
}

// List returns all active sessions.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}
