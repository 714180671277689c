package traffic

import (
	"gonum.org/v1/gonum/stat"
)

// frameSample is one appended frame observation: the vehicle total and its
// per-class breakdown.
type frameSample struct {
	count   int
	byClass map[VehicleClass]int
}

// LaneWindow is a bounded FIFO of the most recent per-frame vehicle counts
// for one lane. It is owned exclusively by the aggregation loop; readers
// only ever see immutable LaneSnapshot values derived from it.
type LaneWindow struct {
	lane     LaneID
	capacity int
	frames   []frameSample
}

// NewLaneWindow returns a window holding at most capacity frames.
func NewLaneWindow(lane LaneID, capacity int) *LaneWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &LaneWindow{
		lane:     lane,
		capacity: capacity,
		frames:   make([]frameSample, 0, capacity),
	}
}

// Append records a new frame count, evicting the oldest frame when the
// window is full.
func (w *LaneWindow) Append(count int, byClass map[VehicleClass]int) {
	if len(w.frames) == w.capacity {
		copy(w.frames, w.frames[1:])
		w.frames = w.frames[:w.capacity-1]
	}
	w.frames = append(w.frames, frameSample{count: count, byClass: byClass})
}

// Len returns the number of frames currently held.
func (w *LaneWindow) Len() int {
	return len(w.frames)
}

// Reset drops all frames.
func (w *LaneWindow) Reset() {
	w.frames = w.frames[:0]
}

// LaneSnapshot is an immutable point-in-time summary of a LaneWindow. It
// is recomputed each aggregation cycle and always replaced, never mutated.
type LaneSnapshot struct {
	Lane    LaneID               `json:"lane_id"`
	Name    string               `json:"lane_name"`
	Total   int                  `json:"total_vehicles"`
	Current int                  `json:"current_vehicles"`
	Average float64              `json:"avg_vehicles_per_frame"`
	Max     int                  `json:"max_vehicles_in_frame"`
	ByClass map[VehicleClass]int `json:"vehicle_counts,omitempty"`
	Score   float64              `json:"congestion_score"`
	Level   CongestionLevel      `json:"congestion_level"`
}

// Snapshot derives the lane's current summary statistics and live-mode
// congestion score. Returns ok=false while the window is empty.
func (w *LaneWindow) Snapshot(th Thresholds) (LaneSnapshot, bool) {
	if len(w.frames) == 0 {
		return LaneSnapshot{}, false
	}

	counts := make([]float64, len(w.frames))
	total := 0
	max := 0
	byClass := make(map[VehicleClass]int)
	for i, f := range w.frames {
		counts[i] = float64(f.count)
		total += f.count
		if f.count > max {
			max = f.count
		}
		for class, n := range f.byClass {
			byClass[class] += n
		}
	}

	current := w.frames[len(w.frames)-1].count
	avg := stat.Mean(counts, nil)
	score := LiveScore(current, avg, max)

	if len(byClass) == 0 {
		byClass = nil
	}

	return LaneSnapshot{
		Lane:    w.lane,
		Name:    w.lane.String(),
		Total:   total,
		Current: current,
		Average: avg,
		Max:     max,
		ByClass: byClass,
		Score:   score,
		Level:   th.Level(score),
	}, true
}
