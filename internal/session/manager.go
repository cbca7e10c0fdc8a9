package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ecyb/daynight-tracking/internal/behavior"
	"github.com/ecyb/daynight-tracking/internal/dispatch"
	"github.com/ecyb/daynight-tracking/internal/signals"
	"github.com/ecyb/daynight-tracking/internal/widgets"
)

// ErrSessionNotFound is returned for ids the manager does not know.
var ErrSessionNotFound = errors.New("session not found")

// DefaultSessionTTL is how long a session may stay silent before the reaper
// ends it.
const DefaultSessionTTL = 30 * time.Minute

// Config is the per-session configuration the manager hands to new sessions.
type Config struct {
	TrackingID       string
	ProjectID        string
	Thresholds       signals.Thresholds
	ThrottleInterval time.Duration
	FlushSize        int
	Dispatch         dispatch.Config
	SessionTTL       time.Duration
}

// Manager keeps the live sessions, keyed by session id. Each session owns
// independent engine state.
type Manager struct {
	log     *zap.Logger
	sink    dispatch.Sink
	widgets *widgets.Evaluator
	clock   func() time.Time

	mu       sync.RWMutex
	cfg      Config
	sessions map[string]*Session
}

// NewManager creates an empty registry delivering through sink.
func NewManager(log *zap.Logger, cfg Config, sink dispatch.Sink, ev *widgets.Evaluator) *Manager {
	return &Manager{
		log:      log,
		sink:     sink,
		widgets:  ev,
		clock:    time.Now,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// SetConfig replaces the configuration used for sessions created from now on.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
}

// SetWidgets replaces the widget evaluator for new sessions.
func (m *Manager) SetWidgets(ev *widgets.Evaluator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.widgets = ev
}

// GetOrCreate returns the session for id, creating it if needed. An empty id
// gets a fresh uuid. created reports whether a new session was made.
func (m *Manager) GetOrCreate(id string) (s *Session, created bool) {
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return s, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s, false
	}
	s = New(m.log, Options{
		Identity: behavior.Identity{
			TrackingID: m.cfg.TrackingID,
			ProjectID:  m.cfg.ProjectID,
			SessionID:  id,
		},
		Thresholds:       m.cfg.Thresholds,
		ThrottleInterval: m.cfg.ThrottleInterval,
		FlushSize:        m.cfg.FlushSize,
		Dispatch:         m.cfg.Dispatch,
		Sink:             m.sink,
		Widgets:          m.widgets,
		Clock:            m.clock,
	})
	m.sessions[id] = s
	m.log.Debug("Session created", zap.String("session_id", id))
	return s, true
}

// Get returns the live session for id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// End removes the session and tears it down.
func (m *Manager) End(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s.End(ctx)
}

// ProjectID returns the project new sessions are created for.
func (m *Manager) ProjectID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.ProjectID
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Reap ends every session silent for longer than the TTL and returns how
// many were ended.
func (m *Manager) Reap(ctx context.Context) int {
	m.mu.RLock()
	ttl := m.cfg.SessionTTL
	m.mu.RUnlock()
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	now := m.clock()

	m.mu.Lock()
	var stale []*Session
	for id, s := range m.sessions {
		if now.Sub(s.LastActivity()) > ttl {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		if err := s.End(ctx); err != nil {
			m.log.Warn("Failed to end stale session", zap.String("session_id", s.ID()), zap.Error(err))
		}
	}
	if len(stale) > 0 {
		m.log.Info("Reaped idle sessions", zap.Int("count", len(stale)))
	}
	return len(stale)
}

// RunReaper calls Reap on every tick until ctx is cancelled.
func (m *Manager) RunReaper(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = time.Minute
	}
	m.log.Info("Starting session reaper...", zap.Duration("interval", every))
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Reap(ctx)
		}
	}
}

// Shutdown ends every live session.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, s := range all {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := s.End(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("end session %s: %w", s.ID(), err))
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()
	m.log.Info("All sessions ended", zap.Int("count", len(all)))
	return errors.Join(errs...)
}
