package traffic

import "time"

// ForecastPoint is one 5-minute step of the short-term outlook.
type ForecastPoint struct {
	Time       time.Time `json:"time"`
	Vehicles   int       `json:"vehicles"`
	Prediction int       `json:"prediction"`
}

// Forecast is the 30-minute traffic outlook extrapolated from the
// current intersection-wide average vehicle count.
type Forecast struct {
	Points     []ForecastPoint `json:"predictions"`
	Trend      string          `json:"trend"`
	PeakTime   time.Time       `json:"peak_time"`
	CurrentAvg int             `json:"current_avg"`
}

// Forecast trend labels.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

const (
	forecastSteps    = 7
	forecastInterval = 5 * time.Minute

	// Predicted counts are kept in a plausible range for a four-lane
	// intersection.
	forecastFloor   = 5
	forecastCeiling = 100
)

// demandMultiplier scales the current average for a point `step`
// intervals ahead. Morning and evening rush ramp demand up, midday and
// night taper it off, and the rest of the day drifts up only slightly.
func demandMultiplier(hour, step int) float64 {
	switch {
	case (hour >= 8 && hour < 10) || (hour >= 17 && hour < 19):
		return 1.2 + float64(step)*0.05
	case (hour >= 12 && hour < 14) || hour >= 22 || hour < 6:
		return 0.8 - float64(step)*0.03
	default:
		return 1.0 + float64(step)*0.02
	}
}

// Predict extrapolates the intersection-wide average into a 7-point,
// 30-minute forecast in 5-minute steps. The first point reports the
// average as observed; later points apply the time-of-day multiplier.
func Predict(avg float64, now time.Time) Forecast {
	points := make([]ForecastPoint, 0, forecastSteps)
	for i := 0; i < forecastSteps; i++ {
		at := now.Add(time.Duration(i) * forecastInterval)

		predicted := int(avg * demandMultiplier(at.Hour(), i))
		if predicted < forecastFloor {
			predicted = forecastFloor
		}
		if predicted > forecastCeiling {
			predicted = forecastCeiling
		}

		vehicles := predicted
		if i == 0 {
			vehicles = int(avg)
		}
		points = append(points, ForecastPoint{Time: at, Vehicles: vehicles, Prediction: predicted})
	}

	trend := TrendStable
	base := float64(points[0].Vehicles)
	last := float64(points[len(points)-1].Prediction)
	switch {
	case last > base*1.15:
		trend = TrendIncreasing
	case last < base*0.85:
		trend = TrendDecreasing
	}

	peak := points[0]
	for _, p := range points[1:] {
		if p.Prediction > peak.Prediction {
			peak = p
		}
	}

	return Forecast{
		Points:     points,
		Trend:      trend,
		PeakTime:   peak.Time,
		CurrentAvg: int(avg),
	}
}
