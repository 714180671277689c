package traffic

import (
	"math"
	"sort"
)

// GreenTiming are the green-grant bounds in seconds.
type GreenTiming struct {
	MinGreen int
	MaxGreen int
}

// DefaultGreenTiming returns the standard 15s..120s grant bounds.
func DefaultGreenTiming() GreenTiming {
	return GreenTiming{MinGreen: 15, MaxGreen: 120}
}

// PriorityEntry is one lane's position in a cycle's priority ranking.
type PriorityEntry struct {
	LaneSnapshot
	Rank          int     `json:"rank"`
	PriorityScore float64 `json:"priority_score"`
	HeavyVehicles int     `json:"heavy_vehicles"`
	GreenTime     int     `json:"recommended_green_time"`
}

// Ranking is the totally ordered result of one priority evaluation:
// entries descending by priority score (lane id ascending on ties), the
// advisory signal assignment, and the recommended green grant per lane.
type Ranking struct {
	Entries    []PriorityEntry  `json:"priority_ranking"`
	Assignment map[LaneID]Phase `json:"signal_assignment,omitempty"`
	GreenTimes map[LaneID]int   `json:"recommended_green_times,omitempty"`
}

// Empty reports whether the ranking carries no entries.
func (r Ranking) Empty() bool {
	return len(r.Entries) == 0
}

// Top returns the rank-1 entry. Callers must check Empty first.
func (r Ranking) Top() PriorityEntry {
	return r.Entries[0]
}

// PriorityScore computes the weighted composite used to order lanes for
// signal allocation. The weights sum to 1.0 and the formula is a contract:
// identical snapshots must always produce the same score.
func PriorityScore(s LaneSnapshot) float64 {
	heavy := HeavyVehicles(s.ByClass)
	return s.Score*0.50 +
		math.Min(float64(s.Total)/10, 20)*0.20 +
		float64(s.Max)*2*0.15 +
		float64(heavy)*1.5*0.10 +
		s.Average*5*0.05
}

// greenTimeFor buckets a priority score into a recommended green grant.
func greenTimeFor(score float64, timing GreenTiming) int {
	switch {
	case score >= 50:
		return timing.MaxGreen
	case score >= 30:
		return int(float64(timing.MaxGreen) * 0.75)
	case score >= 15:
		return int(float64(timing.MaxGreen) * 0.50)
	default:
		return timing.MinGreen
	}
}

// Rank orders the given snapshots by priority. Fewer than NumLanes
// snapshots are tolerated (partial detector failures); an empty input
// yields an empty ranking with no assignment.
func Rank(snaps []LaneSnapshot, timing GreenTiming) Ranking {
	if len(snaps) == 0 {
		return Ranking{}
	}

	entries := make([]PriorityEntry, 0, len(snaps))
	for _, s := range snaps {
		entries = append(entries, PriorityEntry{
			LaneSnapshot:  s,
			PriorityScore: PriorityScore(s),
			HeavyVehicles: HeavyVehicles(s.ByClass),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].PriorityScore != entries[j].PriorityScore {
			return entries[i].PriorityScore > entries[j].PriorityScore
		}
		return entries[i].Lane < entries[j].Lane
	})

	assignment := make(map[LaneID]Phase, len(entries))
	greenTimes := make(map[LaneID]int, len(entries))
	for i := range entries {
		entries[i].Rank = i + 1
		entries[i].GreenTime = greenTimeFor(entries[i].PriorityScore, timing)
		greenTimes[entries[i].Lane] = entries[i].GreenTime
		if i == 0 {
			assignment[entries[i].Lane] = PhaseGreen
		} else {
			assignment[entries[i].Lane] = PhaseRed
		}
	}

	return Ranking{Entries: entries, Assignment: assignment, GreenTimes: greenTimes}
}
