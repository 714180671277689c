package traffic

import (
	"context"
	"sync"
	"time"

	"github.com/crossflow-data/crossflow/internal/monitoring"
)

// Observation is the latest published output of one aggregation cycle.
// It is replaced wholesale every cycle (last writer wins); per-cycle
// history beyond the controller's SignalRecord log is not retained.
type Observation struct {
	Timestamp time.Time      `json:"timestamp"`
	Snapshots []LaneSnapshot `json:"lane_results"`
	Ranking   Ranking        `json:"analysis"`
	Status    SignalStatus   `json:"signal_status"`
}

// LoopConfig tunes the aggregation loop.
type LoopConfig struct {
	// Source supplies per-lane counts each cycle.
	Source CountSource
	// Controller receives the resulting grants.
	Controller *Controller
	// Interval is the cycle cadence; zero uses 200ms.
	Interval time.Duration
	// WindowSize bounds each lane's rolling window; zero uses 30.
	WindowSize int
	// Thresholds band congestion scores; zero value uses defaults.
	Thresholds Thresholds
	// Timing bounds green grants; zero value uses defaults.
	Timing GreenTiming
}

// Loop is the closed control loop: it pulls fresh detection counts on a
// fixed cadence, maintains the per-lane rolling windows, scores and ranks
// the lanes, and drives the controller. It is the sole writer of the
// windows and, in normal operation, of the controller.
type Loop struct {
	source     CountSource
	ctrl       *Controller
	interval   time.Duration
	thresholds Thresholds
	timing     GreenTiming

	// winMu guards the windows: the loop is the sole writer each cycle,
	// with reset as the only exceptional writer.
	winMu   sync.Mutex
	windows [NumLanes]*LaneWindow

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	obsMu  sync.RWMutex
	latest *Observation
}

// NewLoop builds a loop from the config. Source and Controller are
// required.
func NewLoop(cfg LoopConfig) *Loop {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	windowSize := cfg.WindowSize
	if windowSize <= 0 {
		windowSize = 30
	}
	thresholds := cfg.Thresholds
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds()
	}
	timing := cfg.Timing
	if timing == (GreenTiming{}) {
		timing = DefaultGreenTiming()
	}

	l := &Loop{
		source:     cfg.Source,
		ctrl:       cfg.Controller,
		interval:   interval,
		thresholds: thresholds,
		timing:     timing,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	for _, id := range Lanes() {
		l.windows[id] = NewLaneWindow(id, windowSize)
	}
	return l
}

// Run starts the control loop. It blocks until the context is cancelled
// or Stop is called, finishing any in-flight cycle first so the
// controller is never left mid-transition. Returns nil on clean shutdown
// and ErrAlreadyRunning when the loop is already active.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrAlreadyRunning
	}
	l.running = true
	// Capture this run's channels: once the mutex is released a later Run
	// may swap the fields, and both the shutdown path and any waiting Stop
	// must keep referring to this run's pair.
	stop := make(chan struct{})
	done := make(chan struct{})
	l.stopCh = stop
	l.doneCh = done
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	monitoring.Logf("loop: started, interval=%v", l.interval)

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("loop: stopping due to context cancellation")
			return nil
		case <-stop:
			monitoring.Logf("loop: stopping due to Stop() call")
			return nil
		case <-ticker.C:
			l.cycle(ctx)
		}
	}
}

// Stop requests the loop to stop and waits for the in-flight cycle to
// complete. Safe to call multiple times.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	// Hold on to the current run's done channel before releasing the
	// mutex: a concurrent Run may replace l.doneCh, and this Stop must
	// wait on the run it actually signalled.
	done := l.doneCh
	select {
	case <-l.stopCh:
		// already closed
	default:
		close(l.stopCh)
	}
	l.mu.Unlock()

	<-done
}

// IsRunning reports whether the loop is currently active.
func (l *Loop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Latest returns the most recently published observation, if any.
func (l *Loop) Latest() (Observation, bool) {
	l.obsMu.RLock()
	defer l.obsMu.RUnlock()
	if l.latest == nil {
		return Observation{}, false
	}
	return *l.latest, true
}

// ResetObservation clears the published observation and all lane windows,
// used by the system-wide reset.
func (l *Loop) ResetObservation() {
	l.obsMu.Lock()
	l.latest = nil
	l.obsMu.Unlock()

	l.winMu.Lock()
	for _, w := range l.windows {
		w.Reset()
	}
	l.winMu.Unlock()
}

// cycle runs one aggregation pass: pull counts, update windows, snapshot
// every non-empty lane from the same window state, rank, and grant. Any
// per-cycle error is contained here; the loop never dies on bad data.
func (l *Loop) cycle(ctx context.Context) {
	counts, err := l.source.Next(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// A failed pull counts as zero vehicles on every lane this cycle.
		monitoring.Logf("loop: count source failed, treating as zero detections: %v", err)
		counts = LaneCounts{}
	}

	l.winMu.Lock()
	snapshots := make([]LaneSnapshot, 0, NumLanes)
	for _, id := range Lanes() {
		l.windows[id].Append(counts.Counts[id], counts.ByClass[id])
		if snap, ok := l.windows[id].Snapshot(l.thresholds); ok {
			snapshots = append(snapshots, snap)
		}
	}
	l.winMu.Unlock()

	ranking := Rank(snapshots, l.timing)
	status, err := l.ctrl.UpdateSignals(ranking)
	if err != nil && err != ErrNoData {
		monitoring.Logf("loop: signal update failed: %v", err)
		return
	}

	obs := &Observation{
		Timestamp: time.Now(),
		Snapshots: snapshots,
		Ranking:   ranking,
		Status:    status,
	}
	l.obsMu.Lock()
	l.latest = obs
	l.obsMu.Unlock()
}
