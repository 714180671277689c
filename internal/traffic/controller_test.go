package traffic

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

type memRecorder struct {
	records []SignalRecord
	err     error
}

func (m *memRecorder) RecordSignal(rec SignalRecord) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

// testClock is a manually advanced clock for deterministic phase timing.
type testClock struct {
	t time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestController(cfg ControllerConfig) (*Controller, *testClock) {
	clock := newTestClock()
	cfg.Now = clock.Now
	if cfg.Sleep == nil {
		cfg.Sleep = func(time.Duration) {}
	}
	return NewController(cfg), clock
}

func rankingFor(lanes ...LaneID) Ranking {
	snaps := make([]LaneSnapshot, 0, len(lanes))
	// Descending scores in argument order.
	for i, id := range lanes {
		snaps = append(snaps, LaneSnapshot{
			Lane:  id,
			Name:  id.String(),
			Score: float64(100 - 10*i),
		})
	}
	return Rank(snaps, DefaultGreenTiming())
}

func TestGrantIsMutuallyExclusive(t *testing.T) {
	c, _ := newTestController(ControllerConfig{})

	st, err := c.UpdateSignals(rankingFor(LaneSouth, LaneNorth, LaneEast, LaneWest))
	if err != nil {
		t.Fatalf("UpdateSignals: %v", err)
	}

	greens := 0
	for _, sig := range st.Lanes {
		if sig.IsGreen {
			greens++
			if sig.Lane != LaneSouth {
				t.Errorf("green lane = %s, want South", sig.Lane)
			}
		} else if sig.State != PhaseRed {
			t.Errorf("lane %s state = %s, want RED", sig.Lane, sig.State)
		}
	}
	if greens != 1 {
		t.Errorf("green count = %d, want exactly 1", greens)
	}
	if st.GreenLane != "South" {
		t.Errorf("GreenLane = %q, want South", st.GreenLane)
	}
	if st.Cycle != 1 {
		t.Errorf("Cycle = %d, want 1", st.Cycle)
	}
}

func TestRegrantDoesNotResetCountdown(t *testing.T) {
	c, clock := newTestController(ControllerConfig{})

	if _, err := c.UpdateSignals(rankingFor(LaneEast)); err != nil {
		t.Fatalf("UpdateSignals: %v", err)
	}
	first := c.Status().Lanes[LaneEast].TimeRemaining

	clock.Advance(10 * time.Second)
	if _, err := c.UpdateSignals(rankingFor(LaneEast)); err != nil {
		t.Fatalf("UpdateSignals: %v", err)
	}

	st := c.Status()
	if got := st.Lanes[LaneEast].TimeRemaining; got != first-10 {
		t.Errorf("TimeRemaining after re-grant = %v, want %v", got, first-10)
	}
	if st.Cycle != 1 {
		t.Errorf("Cycle after re-grant = %d, want 1 (no new transition)", st.Cycle)
	}
	if n := len(c.History(0)); n != 1 {
		t.Errorf("history length after re-grant = %d, want 1", n)
	}
}

func TestTimeRemainingFloorsAtZero(t *testing.T) {
	c, clock := newTestController(ControllerConfig{})

	if err := c.TransitionTo(LaneNorth, 15, 50, LevelMedium); err != nil {
		t.Fatalf("TransitionTo: %v", err)
	}
	clock.Advance(1 * time.Minute)

	if got := c.Status().Lanes[LaneNorth].TimeRemaining; got != 0 {
		t.Errorf("TimeRemaining = %v, want 0", got)
	}
}

func TestClearanceSequenceOnLaneChange(t *testing.T) {
	var holds []time.Duration
	clock := newTestClock()
	c := NewController(ControllerConfig{
		ClearanceHold: 100 * time.Millisecond,
		Sleep:         func(d time.Duration) { holds = append(holds, d) },
		Now:           clock.Now,
	})

	// First grant from all-red: no clearance needed.
	if _, err := c.UpdateSignals(rankingFor(LaneNorth)); err != nil {
		t.Fatalf("UpdateSignals: %v", err)
	}
	if len(holds) != 0 {
		t.Fatalf("clearance on first grant: %d holds", len(holds))
	}

	// Handover: yellow hold then all-red hold.
	if _, err := c.UpdateSignals(rankingFor(LaneWest)); err != nil {
		t.Fatalf("UpdateSignals: %v", err)
	}
	if len(holds) != 2 {
		t.Fatalf("holds on handover = %d, want 2", len(holds))
	}
	for _, d := range holds {
		if d != 100*time.Millisecond {
			t.Errorf("hold = %v, want 100ms", d)
		}
	}

	// Re-grant of the holder: still no clearance.
	holds = nil
	if _, err := c.UpdateSignals(rankingFor(LaneWest)); err != nil {
		t.Fatalf("UpdateSignals: %v", err)
	}
	if len(holds) != 0 {
		t.Errorf("clearance on re-grant: %d holds", len(holds))
	}
}

func TestConsecutiveGrantCapPromotesRunnerUp(t *testing.T) {
	c, _ := newTestController(ControllerConfig{MaxConsecutiveGrants: 3})

	r := rankingFor(LaneSouth, LaneEast)
	for i := 0; i < 3; i++ {
		if _, err := c.UpdateSignals(r); err != nil {
			t.Fatalf("UpdateSignals %d: %v", i, err)
		}
	}
	if got := c.Status().GreenLane; got != "South" {
		t.Fatalf("GreenLane before cap = %q, want South", got)
	}

	// Fourth consecutive selection of South exceeds the cap; East gets
	// one grant even though it ranks second.
	st, err := c.UpdateSignals(r)
	if err != nil {
		t.Fatalf("UpdateSignals: %v", err)
	}
	if st.GreenLane != "East" {
		t.Errorf("GreenLane after cap = %q, want East", st.GreenLane)
	}

	// South is eligible again immediately afterwards.
	st, err = c.UpdateSignals(r)
	if err != nil {
		t.Fatalf("UpdateSignals: %v", err)
	}
	if st.GreenLane != "South" {
		t.Errorf("GreenLane after promotion = %q, want South", st.GreenLane)
	}
}

func TestUpdateSignalsEmptyRanking(t *testing.T) {
	c, _ := newTestController(ControllerConfig{})

	st, err := c.UpdateSignals(Ranking{})
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("err = %v, want ErrNoData", err)
	}
	for _, sig := range st.Lanes {
		if sig.State != PhaseRed {
			t.Errorf("lane %s state = %s, want RED", sig.Lane, sig.State)
		}
	}
}

func TestTransitionToInvalidLane(t *testing.T) {
	c, _ := newTestController(ControllerConfig{})

	for _, lane := range []LaneID{-1, NumLanes, 17} {
		if err := c.TransitionTo(lane, 30, 10, LevelLow); !errors.Is(err, ErrInvalidLane) {
			t.Errorf("TransitionTo(%d) err = %v, want ErrInvalidLane", lane, err)
		}
	}
	if len(c.History(0)) != 0 {
		t.Error("invalid transition left a history record")
	}
}

func TestHistoryChronologicalWithLimit(t *testing.T) {
	c, clock := newTestController(ControllerConfig{})

	lanes := []LaneID{LaneNorth, LaneSouth, LaneEast, LaneWest, LaneNorth}
	for _, lane := range lanes {
		clock.Advance(time.Second)
		if err := c.TransitionTo(lane, 30, 10, LevelLow); err != nil {
			t.Fatalf("TransitionTo(%s): %v", lane, err)
		}
	}

	full := c.History(0)
	if len(full) != 5 {
		t.Fatalf("len(History(0)) = %d, want 5", len(full))
	}
	for i := 1; i < len(full); i++ {
		if full[i].Cycle != full[i-1].Cycle+1 {
			t.Errorf("cycle not monotonic at %d: %d then %d", i, full[i-1].Cycle, full[i].Cycle)
		}
		if full[i].Timestamp.Before(full[i-1].Timestamp) {
			t.Errorf("timestamps out of order at %d", i)
		}
	}

	tail := c.History(2)
	if len(tail) != 2 {
		t.Fatalf("len(History(2)) = %d, want 2", len(tail))
	}
	if tail[0].LaneName != "West" || tail[1].LaneName != "North" {
		t.Errorf("tail = [%s %s], want [West North]", tail[0].LaneName, tail[1].LaneName)
	}
}

func TestRecorderReceivesCommittedRecords(t *testing.T) {
	rec := &memRecorder{}
	c, _ := newTestController(ControllerConfig{Recorder: rec})

	if err := c.TransitionTo(LaneEast, 60, 42.5, LevelMedium); err != nil {
		t.Fatalf("TransitionTo: %v", err)
	}

	if len(rec.records) != 1 {
		t.Fatalf("recorder got %d records, want 1", len(rec.records))
	}
	r := rec.records[0]
	if r.ID == "" {
		t.Error("record has empty ID")
	}
	if r.LaneName != "East" || r.GreenDuration != 60 || r.PriorityScore != 42.5 {
		t.Errorf("record = %+v", r)
	}
	if r.Phases[LaneEast] != PhaseGreen || r.Phases[LaneNorth] != PhaseRed {
		t.Errorf("record phases = %v", r.Phases)
	}
}

func TestRecorderFailureDoesNotBlockTransition(t *testing.T) {
	rec := &memRecorder{err: fmt.Errorf("disk full")}
	c, _ := newTestController(ControllerConfig{Recorder: rec})

	if err := c.TransitionTo(LaneSouth, 30, 10, LevelLow); err != nil {
		t.Fatalf("TransitionTo with failing recorder: %v", err)
	}
	if got := c.Status().GreenLane; got != "South" {
		t.Errorf("GreenLane = %q, want South", got)
	}
	if len(c.History(0)) != 1 {
		t.Error("in-memory history lost on recorder failure")
	}
}

func TestEmergencyOverride(t *testing.T) {
	var holds []time.Duration
	clock := newTestClock()
	c := NewController(ControllerConfig{
		ClearanceHold: 100 * time.Millisecond,
		Sleep:         func(d time.Duration) { holds = append(holds, d) },
		Now:           clock.Now,
	})

	if err := c.TransitionTo(LaneNorth, 30, 10, LevelLow); err != nil {
		t.Fatalf("TransitionTo: %v", err)
	}
	holds = nil

	if err := c.EmergencyOverride(LaneEast); err != nil {
		t.Fatalf("EmergencyOverride: %v", err)
	}
	if len(holds) != 0 {
		t.Errorf("emergency ran %d clearance holds, want 0", len(holds))
	}

	st := c.Status()
	if st.GreenLane != "East" {
		t.Errorf("GreenLane = %q, want East", st.GreenLane)
	}
	if got := st.Lanes[LaneEast].TimeRemaining; got != 120 {
		t.Errorf("TimeRemaining = %v, want emergency default 120", got)
	}

	hist := c.History(0)
	last := hist[len(hist)-1]
	if !last.Emergency {
		t.Error("emergency record not flagged")
	}
	if last.Level != LevelCritical {
		t.Errorf("emergency record level = %s, want CRITICAL", last.Level)
	}
}

func TestEmergencyOverrideInvalidLane(t *testing.T) {
	c, _ := newTestController(ControllerConfig{})
	if err := c.EmergencyOverride(LaneID(9)); !errors.Is(err, ErrInvalidLane) {
		t.Errorf("err = %v, want ErrInvalidLane", err)
	}
}

func TestStatistics(t *testing.T) {
	c, _ := newTestController(ControllerConfig{})

	for _, lane := range []LaneID{LaneNorth, LaneSouth, LaneNorth, LaneEast} {
		if err := c.TransitionTo(lane, 30, 10, LevelLow); err != nil {
			t.Fatalf("TransitionTo(%s): %v", lane, err)
		}
	}

	stats := c.Statistics()
	if stats.TotalCycles != 4 {
		t.Errorf("TotalCycles = %d, want 4", stats.TotalCycles)
	}
	if stats.TotalSignalChanges != 4 {
		t.Errorf("TotalSignalChanges = %d, want 4", stats.TotalSignalChanges)
	}
	if stats.LanesServed["North"] != 2 || stats.LanesServed["South"] != 1 || stats.LanesServed["West"] != 0 {
		t.Errorf("LanesServed = %v", stats.LanesServed)
	}
}

func TestReset(t *testing.T) {
	c, _ := newTestController(ControllerConfig{})

	if err := c.TransitionTo(LaneWest, 30, 10, LevelLow); err != nil {
		t.Fatalf("TransitionTo: %v", err)
	}
	c.Reset()

	st := c.Status()
	if st.Cycle != 0 {
		t.Errorf("Cycle = %d, want 0", st.Cycle)
	}
	if st.GreenLane != "" {
		t.Errorf("GreenLane = %q, want empty", st.GreenLane)
	}
	for _, sig := range st.Lanes {
		if sig.State != PhaseRed {
			t.Errorf("lane %s state = %s, want RED", sig.Lane, sig.State)
		}
	}
	if len(c.History(0)) != 0 {
		t.Error("history survived reset")
	}
}

func TestCriticalLaneGetsMaxGreen(t *testing.T) {
	c, _ := newTestController(ControllerConfig{})

	windows := map[LaneID]int{LaneNorth: 5, LaneSouth: 40, LaneEast: 10, LaneWest: 2}
	snaps := make([]LaneSnapshot, 0, NumLanes)
	for _, id := range Lanes() {
		w := NewLaneWindow(id, 30)
		w.Append(windows[id], nil)
		snap, ok := w.Snapshot(DefaultThresholds())
		if !ok {
			t.Fatalf("no snapshot for lane %s", id)
		}
		snaps = append(snaps, snap)
	}

	r := Rank(snaps, DefaultGreenTiming())
	top := r.Top()
	if top.Lane != LaneSouth {
		t.Fatalf("top lane = %s, want South", top.Lane)
	}
	if top.Level != LevelCritical {
		t.Errorf("South level = %s, want CRITICAL", top.Level)
	}
	if top.GreenTime != DefaultGreenTiming().MaxGreen {
		t.Errorf("South green time = %d, want max %d", top.GreenTime, DefaultGreenTiming().MaxGreen)
	}

	st, err := c.UpdateSignals(r)
	if err != nil {
		t.Fatalf("UpdateSignals: %v", err)
	}
	if st.GreenLane != "South" {
		t.Errorf("GreenLane = %q, want South", st.GreenLane)
	}
	if got := st.Lanes[LaneSouth].TimeRemaining; got != 120 {
		t.Errorf("TimeRemaining = %v, want 120", got)
	}
}

func TestRushHourHandover(t *testing.T) {
	c, _ := newTestController(ControllerConfig{})

	// Morning rush on South.
	south := []LaneSnapshot{
		{Lane: LaneNorth, Score: 12, Total: 6},
		{Lane: LaneSouth, Score: 75, Total: 40, Max: 14},
		{Lane: LaneEast, Score: 22, Total: 11},
		{Lane: LaneWest, Score: 8, Total: 4},
	}
	st, err := c.UpdateSignals(Rank(south, DefaultGreenTiming()))
	if err != nil {
		t.Fatalf("UpdateSignals: %v", err)
	}
	if st.GreenLane != "South" {
		t.Fatalf("GreenLane = %q, want South", st.GreenLane)
	}

	// The rush shifts east; the grant follows.
	east := []LaneSnapshot{
		{Lane: LaneNorth, Score: 10, Total: 5},
		{Lane: LaneSouth, Score: 18, Total: 9},
		{Lane: LaneEast, Score: 68, Total: 35, Max: 12},
		{Lane: LaneWest, Score: 9, Total: 4},
	}
	st, err = c.UpdateSignals(Rank(east, DefaultGreenTiming()))
	if err != nil {
		t.Fatalf("UpdateSignals: %v", err)
	}
	if st.GreenLane != "East" {
		t.Errorf("GreenLane = %q, want East", st.GreenLane)
	}
	if st.Cycle != 2 {
		t.Errorf("Cycle = %d, want 2", st.Cycle)
	}
}
