package usecases_test

import (
	"context"
	"testing"
	"time"

	"github.com/samirrijal/towermap/internal/core/domain"
	"github.com/samirrijal/towermap/internal/core/usecases"
)

func TestSessionHub_OpenResume(t *testing.T) {
	hub := usecases.NewSessionHub(newSessionService(&mockTowerRepo{}), time.Second)
	defer hub.Shutdown()

	a, resumed := hub.Open("abc")
	if resumed {
		t.Error("first open should create a session")
	}
	b, resumed := hub.Open("abc")
	if !resumed || a != b {
		t.Error("second open should resume the same session")
	}
	if hub.Len() != 1 {
		t.Errorf("expected 1 session, got %d", hub.Len())
	}

	hub.Close("abc")
	if hub.Len() != 0 {
		t.Errorf("expected 0 sessions, got %d", hub.Len())
	}
}

func TestSessionHub_ExpiredSessionForgotten(t *testing.T) {
	hub := usecases.NewSessionHub(newSessionService(&mockTowerRepo{}), 10*time.Millisecond)
	defer hub.Shutdown()

	sess, _ := hub.Open("abc")
	_, unsubscribe := sess.Subscribe()
	unsubscribe()

	deadline := time.Now().Add(time.Second)
	for hub.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Len() != 0 {
		t.Fatal("expired session was not removed")
	}
}

func TestSessionHub_DatasetUpdatedRefreshes(t *testing.T) {
	repo := &mockTowerRepo{
		countFn: func(ctx context.Context, box domain.BoundingBox) (int, error) { return 0, nil },
	}
	hub := usecases.NewSessionHub(newSessionService(repo), time.Second)
	defer hub.Shutdown()

	sess, _ := hub.Open("abc")
	ch, unsubscribe := sess.Subscribe()
	defer unsubscribe()
	_ = sess.SetViewport(domain.ViewportState{Bounds: boxA})
	waitFor(t, ch, settled)

	if err := hub.HandleDatasetUpdated(context.Background(), domain.DatasetEvent{Source: "test", Towers: 10}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, ch, func(s usecases.Snapshot) bool { return settled(s) && s.Generation == 2 })
	if n := repo.countCalls.Load(); n != 2 {
		t.Errorf("expected a refreshed pass, got %d calls", n)
	}
}
