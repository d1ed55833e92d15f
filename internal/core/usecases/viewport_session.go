package usecases

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samirrijal/towermap/internal/core/domain"
)

// ErrSessionClosed is returned by operations on a closed ViewportSession.
var ErrSessionClosed = errors.New("viewport session closed")

// Aggregator is the part of AggregationService a ViewportSession drives.
type Aggregator interface {
	Aggregate(ctx context.Context, box domain.BoundingBox) (domain.AggregationResult, error)
	LoadPointsInCluster(ctx context.Context, cluster domain.Cluster) (domain.DrillDown, error)
}

// Snapshot is the observable state of a ViewportSession.
type Snapshot struct {
	Generation      uint64                    `json:"generation"`
	Viewport        *domain.ViewportState     `json:"viewport,omitempty"`
	Loading         bool                      `json:"loading"`
	Result          *domain.AggregationResult `json:"result,omitempty"`
	Err             error                     `json:"-"`
	Error           string                    `json:"error,omitempty"`
	SelectedCluster *domain.Cluster           `json:"selected_cluster,omitempty"`
	ClusterLoading  bool                      `json:"cluster_loading"`
	ClusterErr      error                     `json:"-"`
	ClusterError    string                    `json:"cluster_error,omitempty"`
	ClusterTowers   []domain.Tower            `json:"cluster_towers,omitempty"`
	StationsCount   int                       `json:"stations_count"`
	TooManyPoints   bool                      `json:"too_many_points"`
	SelectedTower   *domain.Tower             `json:"selected_tower,omitempty"`
}

// ViewportSession holds one client's viewport, its latest aggregation and
// its cluster/tower selection. Each viewport change supersedes the pass in
// flight: the old pass is cancelled and whatever it still produces is
// dropped, so subscribers only ever see the result for the newest viewport.
//
// Work only runs while the session is active, i.e. it has at least one
// subscriber or lost its last one less than keepAlive ago.
type ViewportSession struct {
	agg       Aggregator
	keepAlive time.Duration

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
	active bool
	state  Snapshot

	viewGen       uint64
	viewCancel    context.CancelFunc
	clusterGen    uint64
	clusterCancel context.CancelFunc

	subs    map[uint64]chan Snapshot
	nextSub uint64

	idle     *time.Timer
	idleGen  uint64
	onExpire func()
}

// NewViewportSession creates an idle session.
func NewViewportSession(agg Aggregator, keepAlive time.Duration) *ViewportSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &ViewportSession{
		agg:       agg,
		keepAlive: keepAlive,
		ctx:       ctx,
		cancel:    cancel,
		subs:      make(map[uint64]chan Snapshot),
	}
}

// OnExpire registers fn to run after the keep-alive window lapses with no
// subscribers. fn runs without the session lock held.
func (s *ViewportSession) OnExpire(fn func()) {
	s.mu.Lock()
	s.onExpire = fn
	s.mu.Unlock()
}

// Snapshot returns the current state.
func (s *ViewportSession) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether the session is currently allowed to run passes.
func (s *ViewportSession) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetViewport records a new viewport and, when active, starts a pass for it.
func (s *ViewportSession) SetViewport(vp domain.ViewportState) error {
	if err := vp.Bounds.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.state.Viewport = &vp
	if !s.active {
		return nil
	}
	s.startPassLocked()
	return nil
}

// Refresh reruns the pass for the current viewport.
func (s *ViewportSession) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.active || s.state.Viewport == nil {
		return
	}
	s.startPassLocked()
}

func (s *ViewportSession) startPassLocked() {
	if s.viewCancel != nil {
		s.viewCancel()
	}
	s.viewGen++
	gen := s.viewGen
	ctx, cancel := context.WithCancel(s.ctx)
	s.viewCancel = cancel

	s.state.Generation = gen
	s.state.Loading = true
	s.state.Err = nil
	s.state.Error = ""
	s.publishLocked()

	go s.runPass(ctx, cancel, gen, s.state.Viewport.Bounds)
}

func (s *ViewportSession) runPass(ctx context.Context, cancel context.CancelFunc, gen uint64, box domain.BoundingBox) {
	defer cancel()
	result, err := s.agg.Aggregate(ctx, box)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.viewGen || ctx.Err() != nil {
		return
	}
	s.viewCancel = nil
	s.state.Loading = false
	if err != nil {
		slog.Warn("aggregation pass failed", "generation", gen, "bounds", box.String(), "error", err)
		s.state.Err = err
		s.state.Error = err.Error()
		s.publishLocked()
		return
	}
	s.state.Result = &result
	s.publishLocked()
}

// SelectCluster selects a cluster and loads its towers.
func (s *ViewportSession) SelectCluster(c domain.Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.clusterCancel != nil {
		s.clusterCancel()
	}
	s.clusterGen++
	gen := s.clusterGen
	ctx, cancel := context.WithCancel(s.ctx)
	s.clusterCancel = cancel

	s.state.SelectedCluster = &c
	s.state.ClusterLoading = true
	s.state.ClusterErr = nil
	s.state.ClusterError = ""
	s.state.ClusterTowers = nil
	s.state.StationsCount = c.Count
	s.state.TooManyPoints = false
	s.publishLocked()

	go s.runDrillDown(ctx, cancel, gen, c)
	return nil
}

func (s *ViewportSession) runDrillDown(ctx context.Context, cancel context.CancelFunc, gen uint64, c domain.Cluster) {
	defer cancel()
	dd, err := s.agg.LoadPointsInCluster(ctx, c)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.clusterGen || ctx.Err() != nil {
		return
	}
	s.clusterCancel = nil
	s.state.ClusterLoading = false
	if err != nil {
		slog.Warn("cluster drill-down failed", "row", c.Row, "col", c.Col, "error", err)
		s.state.ClusterErr = err
		s.state.ClusterError = err.Error()
		s.publishLocked()
		return
	}
	s.state.ClusterTowers = dd.Towers
	s.state.StationsCount = dd.Count
	s.state.TooManyPoints = dd.TooManyPoints
	s.publishLocked()
}

// ClearCluster drops the cluster selection and any drill-down in flight.
func (s *ViewportSession) ClearCluster() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clusterCancel != nil {
		s.clusterCancel()
		s.clusterCancel = nil
	}
	s.clusterGen++
	s.state.SelectedCluster = nil
	s.state.ClusterLoading = false
	s.state.ClusterErr = nil
	s.state.ClusterError = ""
	s.state.ClusterTowers = nil
	s.state.StationsCount = 0
	s.state.TooManyPoints = false
	s.publishLocked()
}

// SelectTower marks a single tower as selected.
func (s *ViewportSession) SelectTower(t domain.Tower) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.SelectedTower = &t
	s.publishLocked()
}

// ClearTower drops the tower selection.
func (s *ViewportSession) ClearTower() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.SelectedTower = nil
	s.publishLocked()
}

// Subscribe returns a channel carrying the latest Snapshot. The channel
// holds at most one value: a slow reader skips intermediate snapshots but
// always ends on the newest. The first value is the current state.
// Subscribing activates an idle session and reruns its viewport.
func (s *ViewportSession) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Snapshot, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.state

	s.idleGen++
	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}
	if !s.active {
		s.active = true
		if s.state.Viewport != nil {
			s.startPassLocked()
		}
	}

	var once sync.Once
	return ch, func() { once.Do(func() { s.unsubscribe(id) }) }
}

func (s *ViewportSession) unsubscribe(id uint64) {
	s.mu.Lock()
	ch, ok := s.subs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.subs, id)
	close(ch)
	if len(s.subs) > 0 || s.closed {
		s.mu.Unlock()
		return
	}

	s.idleGen++
	gen := s.idleGen
	if s.keepAlive <= 0 {
		fn := s.expireLocked()
		s.mu.Unlock()
		if fn != nil {
			fn()
		}
		return
	}
	s.idle = time.AfterFunc(s.keepAlive, func() { s.expire(gen) })
	s.mu.Unlock()
}

func (s *ViewportSession) expire(gen uint64) {
	s.mu.Lock()
	if gen != s.idleGen || len(s.subs) > 0 || s.closed {
		s.mu.Unlock()
		return
	}
	fn := s.expireLocked()
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// expireLocked stops all work but keeps the last snapshot for a later
// subscriber.
func (s *ViewportSession) expireLocked() func() {
	s.stopWorkLocked()
	s.active = false
	s.idle = nil
	return s.onExpire
}

func (s *ViewportSession) stopWorkLocked() {
	if s.viewCancel != nil {
		s.viewCancel()
		s.viewCancel = nil
	}
	if s.clusterCancel != nil {
		s.clusterCancel()
		s.clusterCancel = nil
	}
	s.state.Loading = false
	s.state.ClusterLoading = false
}

// Close cancels all work and closes every subscriber channel.
func (s *ViewportSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.active = false
	s.stopWorkLocked()
	s.cancel()
	s.idleGen++
	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *ViewportSession) publishLocked() {
	snap := s.state
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
