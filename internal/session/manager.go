package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the synthesis session lifecycle position. Transitions only move
// forward: pending to generating, then one terminal state.
type State string

const (
	StatePending    State = "pending"
	StateGenerating State = "generating"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Failure reasons carried on terminal sessions.
const (
	ReasonCancelled     = "cancelled"
	ReasonTimeout       = "timeout"
	ReasonEngineFailure = "engine_failure"
	ReasonChunking      = "chunking_failure"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrBadState = errors.New("session state does not allow this transition")
)

type Session struct {
	ID             string    `json:"session_id"`
	VoiceID        string    `json:"voice_id"`
	State          State     `json:"state"`
	Reason         string    `json:"reason,omitempty"`
	Strategy       string    `json:"strategy,omitempty"`
	ChunkCount     int       `json:"chunk_count"`
	ChunksDone     int       `json:"chunks_done"`
	CacheHits      int       `json:"cache_hits"`
	CreatedAt      time.Time `json:"created_at"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	CompletedAt    time.Time `json:"completed_at,omitempty"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Manager tracks synthesis sessions. Cancel functions live outside the
// session structs so snapshots stay plain values.
type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	cancels           map[string]context.CancelFunc
	inactivityTimeout time.Duration
	retention         time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout, retention time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		cancels:           make(map[string]context.CancelFunc),
		inactivityTimeout: inactivityTimeout,
		retention:         retention,
	}
}

// SetExpireHook installs a callback invoked for sessions the janitor fails.
func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// InactivityTimeout reports the configured idle limit.
func (m *Manager) InactivityTimeout() time.Duration {
	return m.inactivityTimeout
}

func (m *Manager) Create(voiceID, strategy string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		VoiceID:        voiceID,
		Strategy:       strategy,
		State:          StatePending,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// Begin moves a pending session into generating and registers the cancel
// function that aborts its pipeline.
func (m *Manager) Begin(sessionID string, chunkCount int, cancel context.CancelFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.State != StatePending {
		return ErrBadState
	}
	now := time.Now().UTC()
	s.State = StateGenerating
	s.ChunkCount = chunkCount
	s.StartedAt = now
	s.LastActivityAt = now
	if cancel != nil {
		m.cancels[sessionID] = cancel
	}
	return nil
}

// Progress records released chunks for a generating session.
func (m *Manager) Progress(sessionID string, chunksDone, cacheHits int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.State != StateGenerating {
		return ErrBadState
	}
	s.ChunksDone = chunksDone
	s.CacheHits = cacheHits
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// Complete finishes a generating session. Terminal sessions are left as they
// are; the first terminal transition wins.
func (m *Manager) Complete(sessionID string) (*Session, error) {
	return m.finish(sessionID, StateCompleted, "")
}

// Fail terminates a session with a reason. No-op when already terminal.
func (m *Manager) Fail(sessionID, reason string) (*Session, error) {
	return m.finish(sessionID, StateFailed, reason)
}

func (m *Manager) finish(sessionID string, state State, reason string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.State.Terminal() {
		return clone(s), nil
	}
	now := time.Now().UTC()
	s.State = state
	s.Reason = reason
	s.CompletedAt = now
	s.LastActivityAt = now
	delete(m.cancels, sessionID)
	return clone(s), nil
}

// Cancel aborts a session. Pending sessions fail immediately; generating
// ones get their pipeline context cancelled and fail from the run loop.
func (m *Manager) Cancel(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if s.State.Terminal() {
		m.mu.Unlock()
		return nil
	}
	if s.State == StatePending {
		now := time.Now().UTC()
		s.State = StateFailed
		s.Reason = ReasonCancelled
		s.CompletedAt = now
		s.LastActivityAt = now
		m.mu.Unlock()
		return nil
	}
	cancel := m.cancels[sessionID]
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if !s.State.Terminal() {
			count++
		}
	}
	return count
}

// sweep times out idle non-terminal sessions and drops terminal ones past
// the retention window.
func (m *Manager) sweep() {
	now := time.Now().UTC()
	var expired []*Session
	var cancels []context.CancelFunc

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.State.Terminal() {
			if now.Sub(s.CompletedAt) >= m.retention {
				delete(m.sessions, id)
			}
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.State = StateFailed
		s.Reason = ReasonTimeout
		s.CompletedAt = now
		s.LastActivityAt = now
		expired = append(expired, clone(s))
		if cancel, ok := m.cancels[id]; ok {
			cancels = append(cancels, cancel)
			delete(m.cancels, id)
		}
	}
	hook := m.onExpire
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
