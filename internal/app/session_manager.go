package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/dictaform/internal/observe"
)

// ErrSessionLimit is returned by [SessionManager.Start] when the configured
// maximum of concurrent sessions is reached.
var ErrSessionLimit = errors.New("app: session limit reached")

// SessionInfo holds metadata about an active session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string `json:"session_id"`

	// RemoteAddr is the client address of the WebSocket connection.
	RemoteAddr string `json:"remote_addr"`

	// StartedAt is when the connection was accepted.
	StartedAt time.Time `json:"started_at"`

	// Fields is the size of the configured form, 0 before configuration.
	Fields int `json:"fields"`
}

type managedSession struct {
	info   SessionInfo
	cancel context.CancelFunc
}

// SessionManager tracks the dictation sessions of all connections.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	mu       sync.Mutex
	max      int
	closed   bool
	sessions map[string]*managedSession
	metrics  *observe.Metrics
}

// NewSessionManager creates a SessionManager admitting at most max sessions.
// max <= 0 means unlimited. metrics may be nil.
func NewSessionManager(max int, metrics *observe.Metrics) *SessionManager {
	return &SessionManager{
		max:      max,
		sessions: make(map[string]*managedSession),
		metrics:  metrics,
	}
}

// Start registers a new session and returns its ID. cancel is called by
// [SessionManager.CloseAll]. Returns [ErrSessionLimit] when full.
func (sm *SessionManager) Start(remoteAddr string, cancel context.CancelFunc) (string, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.closed {
		return "", fmt.Errorf("app: session manager is closed")
	}
	if sm.max > 0 && len(sm.sessions) >= sm.max {
		return "", fmt.Errorf("%w (max=%d)", ErrSessionLimit, sm.max)
	}

	id := uuid.NewString()
	sm.sessions[id] = &managedSession{
		info: SessionInfo{
			SessionID:  id,
			RemoteAddr: remoteAddr,
			StartedAt:  time.Now().UTC(),
		},
		cancel: cancel,
	}
	if sm.metrics != nil {
		sm.metrics.ActiveSessions.Add(context.Background(), 1)
	}
	slog.Info("session started", "session_id", id, "remote_addr", remoteAddr)
	return id, nil
}

// Stop removes the session. Stopping an unknown session is a no-op.
func (sm *SessionManager) Stop(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ms, ok := sm.sessions[id]
	if !ok {
		return
	}
	delete(sm.sessions, id)
	if sm.metrics != nil {
		sm.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	slog.Info("session stopped",
		"session_id", id,
		"duration", time.Since(ms.info.StartedAt).Round(time.Millisecond),
	)
}

// SetFields records the size of the form a session configured.
func (sm *SessionManager) SetFields(id string, n int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if ms, ok := sm.sessions[id]; ok {
		ms.info.Fields = n
	}
}

// IsActive reports whether id is a running session.
func (sm *SessionManager) IsActive(id string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	_, ok := sm.sessions[id]
	return ok
}

// Info returns metadata about one session.
func (sm *SessionManager) Info(id string) (SessionInfo, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	ms, ok := sm.sessions[id]
	if !ok {
		return SessionInfo{}, false
	}
	return ms.info, true
}

// List returns all active sessions, oldest first.
func (sm *SessionManager) List() []SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]SessionInfo, 0, len(sm.sessions))
	for ms := range maps.Values(sm.sessions) {
		out = append(out, ms.info)
	}
	slices.SortFunc(out, func(a, b SessionInfo) int {
		return cmp.Or(a.StartedAt.Compare(b.StartedAt), cmp.Compare(a.SessionID, b.SessionID))
	})
	return out
}

// Len returns the number of active sessions.
func (sm *SessionManager) Len() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// CloseAll cancels every session and refuses new ones. Sessions remove
// themselves through [SessionManager.Stop] once their connection is closed.
func (sm *SessionManager) CloseAll() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.closed = true
	for _, ms := range sm.sessions {
		ms.cancel()
	}
}
