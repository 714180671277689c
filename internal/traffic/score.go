package traffic

import "encoding/json"

// CongestionLevel is the discrete banding of a congestion score.
type CongestionLevel int

const (
	LevelVeryLow CongestionLevel = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelCritical
)

var levelNames = [...]string{"VERY_LOW", "LOW", "MEDIUM", "HIGH", "CRITICAL"}

func (l CongestionLevel) String() string {
	if l < LevelVeryLow || l > LevelCritical {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// MarshalJSON renders the level as its wire name.
func (l CongestionLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON parses a wire-name level.
func (l *CongestionLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*l = ParseLevel(s)
	return nil
}

// ParseLevel maps a wire name back to a level. Unknown names band to
// VERY_LOW.
func ParseLevel(s string) CongestionLevel {
	for i, name := range levelNames {
		if name == s {
			return CongestionLevel(i)
		}
	}
	return LevelVeryLow
}

// Thresholds are the congestion score boundaries for level banding. A
// score at or above a boundary belongs to that level.
type Thresholds struct {
	Low      float64
	Medium   float64
	High     float64
	Critical float64
}

// DefaultThresholds returns the standard banding: LOW at 15, MEDIUM at 35,
// HIGH at 60, CRITICAL at 100.
func DefaultThresholds() Thresholds {
	return Thresholds{Low: 15, Medium: 35, High: 60, Critical: 100}
}

// Level bands a congestion score.
func (t Thresholds) Level(score float64) CongestionLevel {
	switch {
	case score >= t.Critical:
		return LevelCritical
	case score >= t.High:
		return LevelHigh
	case score >= t.Medium:
		return LevelMedium
	case score >= t.Low:
		return LevelLow
	default:
		return LevelVeryLow
	}
}

// classWeights bias the batch congestion score toward vehicles that block
// more road. Unlisted classes weigh 1.0.
var classWeights = map[VehicleClass]float64{
	ClassCar:        1.0,
	ClassMotorcycle: 0.5,
	ClassBicycle:    0.3,
	ClassBus:        2.0,
	ClassTruck:      2.0,
}

// LiveScore computes the rolling-window congestion score. The current
// count weighs most heavily so the signal reacts quickly to backlog;
// average and peak damp single-frame detector noise. The result is not
// clamped.
func LiveScore(current int, avg float64, max int) float64 {
	return float64(current) + 2*avg + 0.5*float64(max)
}

// BatchScore computes the full-video congestion score from a complete
// pass over one lane's footage: per-class counts, busiest frame, and
// average per frame. The result is clamped to 100.
func BatchScore(byClass map[VehicleClass]int, max int, avg float64) float64 {
	var weighted float64
	for class, count := range byClass {
		w, ok := classWeights[class]
		if !ok {
			w = 1.0
		}
		weighted += float64(count) * w
	}

	score := 0.4*weighted + 0.3*(3*float64(max)) + 0.3*(10*avg)
	if score > 100 {
		score = 100
	}
	return score
}

// HeavyVehicles counts buses and trucks in a per-class tally.
func HeavyVehicles(byClass map[VehicleClass]int) int {
	return byClass[ClassBus] + byClass[ClassTruck]
}
