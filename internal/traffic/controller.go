package traffic

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crossflow-data/crossflow/internal/monitoring"
)

// Phase is the signal state of one lane.
type Phase int

const (
	PhaseRed Phase = iota
	PhaseYellow
	PhaseGreen
	PhaseAllRed
)

var phaseNames = [...]string{"RED", "YELLOW", "GREEN", "ALL_RED"}

func (p Phase) String() string {
	if p < PhaseRed || p > PhaseAllRed {
		return "UNKNOWN"
	}
	return phaseNames[p]
}

// MarshalJSON renders the phase as its wire name.
func (p Phase) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// UnmarshalJSON parses a wire-name phase.
func (p *Phase) UnmarshalJSON(data []byte) error {
	s := string(data)
	for i, name := range phaseNames {
		if s == `"`+name+`"` {
			*p = Phase(i)
			return nil
		}
	}
	*p = PhaseRed
	return nil
}

// SignalRecord is an immutable history entry written each time the green
// lane changes, capturing the decision's justification.
type SignalRecord struct {
	ID            string           `json:"id"`
	Timestamp     time.Time        `json:"timestamp"`
	Cycle         int              `json:"cycle"`
	Lane          LaneID           `json:"green_lane"`
	LaneName      string           `json:"green_lane_name"`
	GreenDuration int              `json:"green_duration"`
	PriorityScore float64          `json:"priority_score"`
	Level         CongestionLevel  `json:"congestion_level"`
	Phases        map[LaneID]Phase `json:"signals"`
	Emergency     bool             `json:"emergency"`
}

// Recorder persists committed signal records. The sqlite store implements
// it; a nil recorder keeps history in memory only.
type Recorder interface {
	RecordSignal(rec SignalRecord) error
}

// LaneSignal is one lane's externally visible signal state.
type LaneSignal struct {
	Lane          LaneID  `json:"lane_id"`
	Name          string  `json:"lane_name"`
	State         Phase   `json:"state"`
	IsGreen       bool    `json:"is_green"`
	TimeRemaining float64 `json:"time_remaining"`
}

// SignalStatus is a consistent snapshot of the whole intersection.
type SignalStatus struct {
	Timestamp    time.Time            `json:"timestamp"`
	Cycle        int                  `json:"cycle"`
	Lanes        [NumLanes]LaneSignal `json:"lanes"`
	GreenLane    string               `json:"current_green_lane,omitempty"`
	PhaseElapsed float64              `json:"phase_elapsed_time,omitempty"`
}

// Statistics summarizes controller activity derived from history.
type Statistics struct {
	TotalCycles        int            `json:"total_cycles"`
	LanesServed        map[string]int `json:"lanes_served"`
	TotalSignalChanges int            `json:"total_signal_changes"`
}

// ControllerConfig tunes the state machine.
type ControllerConfig struct {
	// ClearanceHold is the symbolic in-process hold for the outgoing
	// lane's yellow and all-red intervals. Zero disables the hold.
	ClearanceHold time.Duration
	// MaxConsecutiveGrants caps repeated grants to the same lane before
	// the next-ranked lane is promoted for one grant. Zero uses the
	// default of 25.
	MaxConsecutiveGrants int
	// EmergencyDuration is the green grant recorded for emergency
	// overrides, in seconds. Zero uses 120.
	EmergencyDuration int
	// Recorder, if set, receives every committed SignalRecord.
	Recorder Recorder
	// Sleep and Now are injectable for tests; nil uses the real clock.
	Sleep func(time.Duration)
	Now   func() time.Time
}

// Controller owns the authoritative intersection state: which lane holds
// green, the per-lane phases, the cycle counter and the signal history.
// All mutation happens under one mutex; queries take consistent snapshots.
type Controller struct {
	mu sync.Mutex

	phases        [NumLanes]Phase
	green         LaneID
	hasGreen      bool
	greenDuration int
	phaseStart    time.Time
	cycle         int
	consecutive   int
	history       []SignalRecord

	clearanceHold  time.Duration
	maxConsecutive int
	emergencySecs  int
	recorder       Recorder
	sleep          func(time.Duration)
	now            func() time.Time
}

// NewController returns a controller with all lanes red and no history.
func NewController(cfg ControllerConfig) *Controller {
	c := &Controller{
		clearanceHold:  cfg.ClearanceHold,
		maxConsecutive: cfg.MaxConsecutiveGrants,
		emergencySecs:  cfg.EmergencyDuration,
		recorder:       cfg.Recorder,
		sleep:          cfg.Sleep,
		now:            cfg.Now,
	}
	if c.maxConsecutive <= 0 {
		c.maxConsecutive = 25
	}
	if c.emergencySecs <= 0 {
		c.emergencySecs = 120
	}
	if c.sleep == nil {
		c.sleep = time.Sleep
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// UpdateSignals applies one cycle's ranking: the rank-1 lane is granted
// green with its recommended duration. An empty ranking leaves the
// signals untouched and returns ErrNoData with the current status. When
// the top lane has exhausted its consecutive-grant allowance and another
// lane is available, that lane is promoted for one grant to prevent
// starvation.
func (c *Controller) UpdateSignals(r Ranking) (SignalStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r.Empty() {
		monitoring.Logf("controller: no priority ranking available")
		return c.statusLocked(), ErrNoData
	}

	target := r.Top()
	if c.hasGreen && target.Lane == c.green && c.consecutive >= c.maxConsecutive && len(r.Entries) > 1 {
		promoted := r.Entries[1]
		monitoring.Logf("controller: lane %s hit consecutive-grant cap (%d), promoting %s",
			target.Lane, c.maxConsecutive, promoted.Lane)
		target = promoted
	}

	if err := c.transitionLocked(target.Lane, target.GreenTime, target.PriorityScore, target.Level, false); err != nil {
		return c.statusLocked(), err
	}
	return c.statusLocked(), nil
}

// TransitionTo grants green to the target lane with the given duration and
// justification, running the yellow/all-red clearance for any outgoing
// lane. Granting the lane that already holds green is a no-op that does
// not refresh the countdown, so a persistently busy lane cannot extend
// itself forever.
func (c *Controller) TransitionTo(lane LaneID, duration int, score float64, level CongestionLevel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitionLocked(lane, duration, score, level, false)
}

func (c *Controller) transitionLocked(lane LaneID, duration int, score float64, level CongestionLevel, emergency bool) error {
	if !lane.Valid() {
		return fmt.Errorf("transition to lane %d: %w", int(lane), ErrInvalidLane)
	}

	if c.hasGreen && c.green == lane && !emergency {
		// Idempotent re-selection: no clearance cycle, no countdown reset.
		c.consecutive++
		return nil
	}

	if c.hasGreen && c.green != lane && !emergency {
		outgoing := c.green
		c.phases[outgoing] = PhaseYellow
		monitoring.Logf("controller: lane %s -> YELLOW", outgoing)
		c.sleep(c.clearanceHold)
		c.phases[outgoing] = PhaseRed
		monitoring.Logf("controller: lane %s -> RED, all-red clearance", outgoing)
		c.sleep(c.clearanceHold)
	}

	for _, id := range Lanes() {
		if id == lane {
			c.phases[id] = PhaseGreen
		} else {
			c.phases[id] = PhaseRed
		}
	}
	c.green = lane
	c.hasGreen = true
	c.greenDuration = duration
	c.phaseStart = c.now()
	c.cycle++
	c.consecutive = 1

	rec := SignalRecord{
		ID:            uuid.NewString(),
		Timestamp:     c.phaseStart,
		Cycle:         c.cycle,
		Lane:          lane,
		LaneName:      lane.String(),
		GreenDuration: duration,
		PriorityScore: score,
		Level:         level,
		Phases:        c.phaseMapLocked(),
		Emergency:     emergency,
	}
	c.history = append(c.history, rec)
	if c.recorder != nil {
		if err := c.recorder.RecordSignal(rec); err != nil {
			monitoring.Logf("controller: failed to persist signal record: %v", err)
		}
	}

	if emergency {
		monitoring.Logf("controller: EMERGENCY override, lane %s -> GREEN bypassing clearance", lane)
	} else {
		monitoring.Logf("controller: lane %s -> GREEN for %ds", lane, duration)
	}
	return nil
}

// EmergencyOverride forces the lane to green and every other lane to red
// immediately, bypassing the clearance sequence. The grant is recorded
// with the emergency flag so it is distinguishable in history.
func (c *Controller) EmergencyOverride(lane LaneID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !lane.Valid() {
		return fmt.Errorf("emergency override of lane %d: %w", int(lane), ErrInvalidLane)
	}
	return c.transitionLocked(lane, c.emergencySecs, 0, LevelCritical, true)
}

// Status returns a consistent snapshot of all lane signals, the current
// green lane and the elapsed phase time.
func (c *Controller) Status() SignalStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() SignalStatus {
	now := c.now()
	st := SignalStatus{Timestamp: now, Cycle: c.cycle}

	var elapsed float64
	if c.hasGreen && !c.phaseStart.IsZero() {
		elapsed = now.Sub(c.phaseStart).Seconds()
	}

	for _, id := range Lanes() {
		sig := LaneSignal{
			Lane:    id,
			Name:    id.String(),
			State:   c.phases[id],
			IsGreen: c.phases[id] == PhaseGreen,
		}
		if c.hasGreen && id == c.green {
			remaining := float64(c.greenDuration) - elapsed
			if remaining < 0 {
				remaining = 0
			}
			sig.TimeRemaining = remaining
		}
		st.Lanes[id] = sig
	}

	if c.hasGreen {
		st.GreenLane = c.green.String()
		st.PhaseElapsed = elapsed
	}
	return st
}

// History returns the most recent limit records in chronological append
// order. A non-positive limit returns the full history.
func (c *Controller) History(limit int) []SignalRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]SignalRecord, n)
	copy(out, c.history[len(c.history)-n:])
	return out
}

// Statistics derives cycle totals and per-lane green counts from history.
func (c *Controller) Statistics() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()

	served := make(map[string]int, NumLanes)
	for _, id := range Lanes() {
		served[id.String()] = 0
	}
	for _, rec := range c.history {
		served[rec.LaneName]++
	}
	return Statistics{
		TotalCycles:        c.cycle,
		LanesServed:        served,
		TotalSignalChanges: len(c.history),
	}
}

// Reset returns the controller to its initial state: all lanes red, no
// green lane, empty history, cycle counter zero.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range Lanes() {
		c.phases[id] = PhaseRed
	}
	c.hasGreen = false
	c.green = 0
	c.greenDuration = 0
	c.phaseStart = time.Time{}
	c.cycle = 0
	c.consecutive = 0
	c.history = nil
	monitoring.Logf("controller: reset to initial state")
}

func (c *Controller) phaseMapLocked() map[LaneID]Phase {
	m := make(map[LaneID]Phase, NumLanes)
	for _, id := range Lanes() {
		m[id] = c.phases[id]
	}
	return m
}
