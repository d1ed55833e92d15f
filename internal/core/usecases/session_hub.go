package usecases

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samirrijal/towermap/internal/core/domain"
	"github.com/samirrijal/towermap/internal/pkg/metrics"
)

// SessionHub tracks the live viewport sessions of the API process.
type SessionHub struct {
	agg       *AggregationService
	keepAlive time.Duration

	mu       sync.Mutex
	sessions map[string]*ViewportSession
}

// NewSessionHub creates a new SessionHub.
func NewSessionHub(agg *AggregationService, keepAlive time.Duration) *SessionHub {
	return &SessionHub{
		agg:       agg,
		keepAlive: keepAlive,
		sessions:  make(map[string]*ViewportSession),
	}
}

// Open returns the session with the given id, creating it if needed. The
// boolean reports whether an existing session was resumed.
func (h *SessionHub) Open(id string) (*ViewportSession, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.openLocked(id)
}

// Attach opens or resumes a session and subscribes to it in one step, so a
// keep-alive expiry racing with a reconnect cannot close the session between
// the lookup and the subscription.
func (h *SessionHub) Attach(id string) (*ViewportSession, <-chan Snapshot, func(), bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, resumed := h.openLocked(id)
	snaps, unsubscribe := sess.Subscribe()
	return sess, snaps, unsubscribe, resumed
}

func (h *SessionHub) openLocked(id string) (*ViewportSession, bool) {
	if sess, ok := h.sessions[id]; ok {
		return sess, true
	}

	sess := NewViewportSession(h.agg, h.keepAlive)
	sess.OnExpire(func() { h.closeIfIdle(id, sess) })
	h.sessions[id] = sess
	metrics.ActiveSessions.Set(float64(len(h.sessions)))
	return sess, false
}

// Close closes and forgets a session.
func (h *SessionHub) Close(id string) {
	h.mu.Lock()
	sess, ok := h.sessions[id]
	if ok {
		delete(h.sessions, id)
	}
	metrics.ActiveSessions.Set(float64(len(h.sessions)))
	h.mu.Unlock()

	if ok {
		sess.Close()
	}
}

func (h *SessionHub) closeIfIdle(id string, sess *ViewportSession) {
	h.mu.Lock()
	if h.sessions[id] != sess || sess.Active() {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, id)
	metrics.ActiveSessions.Set(float64(len(h.sessions)))
	h.mu.Unlock()

	sess.Close()
}

// Len returns the number of open sessions.
func (h *SessionHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// HandleDatasetUpdated drops cached results and reruns every active
// session against the new dataset.
func (h *SessionHub) HandleDatasetUpdated(ctx context.Context, ev domain.DatasetEvent) error {
	metrics.DatasetEvents.Inc()
	h.agg.InvalidateDataset()

	h.mu.Lock()
	sessions := make([]*ViewportSession, 0, len(h.sessions))
	for _, sess := range h.sessions {
		sessions = append(sessions, sess)
	}
	h.mu.Unlock()

	for _, sess := range sessions {
		sess.Refresh()
	}
	slog.InfoContext(ctx, "dataset updated", "source", ev.Source, "towers", ev.Towers, "sessions", len(sessions))
	return nil
}

// Shutdown closes every session.
func (h *SessionHub) Shutdown() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]*ViewportSession)
	metrics.ActiveSessions.Set(0)
	h.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
}
