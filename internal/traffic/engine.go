package traffic

import "fmt"

// BatchLaneStats is a full-video pass over one lane's footage: the input
// to a one-shot evaluation.
type BatchLaneStats struct {
	Lane            LaneID               `json:"lane_id"`
	ByClass         map[VehicleClass]int `json:"vehicle_counts"`
	MaxInFrame      int                  `json:"max_vehicles_in_frame"`
	AvgPerFrame     float64              `json:"avg_vehicles_per_frame"`
	FramesProcessed int                  `json:"frames_processed"`
}

// SnapshotFromBatch scores a full-video pass in batch mode and shapes it
// as a LaneSnapshot so it can flow through the shared ranking path.
func SnapshotFromBatch(s BatchLaneStats, th Thresholds) (LaneSnapshot, error) {
	if !s.Lane.Valid() {
		return LaneSnapshot{}, fmt.Errorf("batch stats for lane %d: %w", int(s.Lane), ErrInvalidLane)
	}
	if s.MaxInFrame < 0 || s.AvgPerFrame < 0 || s.FramesProcessed < 0 {
		return LaneSnapshot{}, fmt.Errorf("batch stats for lane %s: negative count", s.Lane)
	}

	total := 0
	for _, n := range s.ByClass {
		if n < 0 {
			return LaneSnapshot{}, fmt.Errorf("batch stats for lane %s: negative count", s.Lane)
		}
		total += n
	}

	// A completed video pass has no "current frame"; the snapshot carries
	// zero there and the batch score stands in for the live score.
	score := BatchScore(s.ByClass, s.MaxInFrame, s.AvgPerFrame)
	return LaneSnapshot{
		Lane:    s.Lane,
		Name:    s.Lane.String(),
		Total:   total,
		Current: 0,
		Average: s.AvgPerFrame,
		Max:     s.MaxInFrame,
		ByClass: s.ByClass,
		Score:   score,
		Level:   th.Level(score),
	}, nil
}

// Engine performs one-shot evaluations against the shared controller,
// outside the continuous loop.
type Engine struct {
	ctrl       *Controller
	thresholds Thresholds
	timing     GreenTiming
}

// NewEngine wires a one-shot engine to the controller.
func NewEngine(ctrl *Controller, th Thresholds, timing GreenTiming) *Engine {
	if th == (Thresholds{}) {
		th = DefaultThresholds()
	}
	if timing == (GreenTiming{}) {
		timing = DefaultGreenTiming()
	}
	return &Engine{ctrl: ctrl, thresholds: th, timing: timing}
}

// ProcessCycle evaluates one batch of lane statistics: score, rank and
// grant. Empty input returns ErrNoData and leaves the signals untouched;
// invalid lane statistics return ErrInvalidLane before any mutation.
func (e *Engine) ProcessCycle(stats []BatchLaneStats) (Ranking, SignalStatus, error) {
	if len(stats) == 0 {
		return Ranking{}, e.ctrl.Status(), ErrNoData
	}

	snapshots := make([]LaneSnapshot, 0, len(stats))
	for _, s := range stats {
		snap, err := SnapshotFromBatch(s, e.thresholds)
		if err != nil {
			return Ranking{}, e.ctrl.Status(), err
		}
		snapshots = append(snapshots, snap)
	}

	ranking := Rank(snapshots, e.timing)
	status, err := e.ctrl.UpdateSignals(ranking)
	if err != nil {
		return ranking, status, err
	}
	return ranking, status, nil
}
