package traffic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crossflow-data/crossflow/internal/monitoring"
)

// LaneCondition is one lane's inputs to the advisory engine.
type LaneCondition struct {
	Name          string  `json:"name"`
	Vehicles      int     `json:"current_vehicles"`
	SignalState   Phase   `json:"signal_state"`
	TimeRemaining float64 `json:"time_remaining"`
}

// TrafficConditions is the structured traffic summary handed to advisors.
type TrafficConditions struct {
	Time          time.Time       `json:"time"`
	Lanes         []LaneCondition `json:"lanes"`
	TotalVehicles int             `json:"total_vehicles"`
}

// Advice is an advisory recommendation for the operator dashboard. It is
// informational only and never feeds back into signal control.
type Advice struct {
	Action            string `json:"action"`
	Reason            string `json:"reason"`
	DetailedAnalysis  string `json:"detailed_analysis"`
	ImpactPrediction  string `json:"impact_prediction"`
	Confidence        int    `json:"confidence"`
	PriorityLevel     string `json:"priority_level"`
	AlternativeAction string `json:"alternative_action"`
	RiskFactors       string `json:"risk_factors"`
	AIPowered         bool   `json:"ai_powered"`
}

// Advisor produces a recommendation from traffic conditions. External
// implementations may fail or be rate limited; callers must always have a
// deterministic fallback.
type Advisor interface {
	Advise(ctx context.Context, cond TrafficConditions) (Advice, error)
}

// DensityPercent maps a vehicle count onto the dashboard's 0-100 density
// scale using piecewise banding over the congestion thresholds.
func DensityPercent(vehicles int, th Thresholds) int {
	v := float64(vehicles)
	switch {
	case v <= th.Low:
		return int(v / th.Low * 25)
	case v <= th.Medium:
		return 25 + int((v-th.Low)/(th.Medium-th.Low)*35)
	case v <= th.High:
		return 60 + int((v-th.Medium)/(th.High-th.Medium)*25)
	default:
		p := 85 + int((v-th.High)/40*15)
		if p > 100 {
			p = 100
		}
		return p
	}
}

// RuleAdvisor is the deterministic rule-based advisory engine. It is the
// fallback whenever an external advisor is unavailable, and the default
// advisor when none is configured.
type RuleAdvisor struct {
	Thresholds Thresholds
}

// NewRuleAdvisor returns a rule advisor over the given thresholds.
func NewRuleAdvisor(th Thresholds) *RuleAdvisor {
	return &RuleAdvisor{Thresholds: th}
}

// Advise derives a recommendation from the busiest lane's density band and
// its current signal. It never fails.
func (a *RuleAdvisor) Advise(_ context.Context, cond TrafficConditions) (Advice, error) {
	var busiest *LaneCondition
	for i := range cond.Lanes {
		if busiest == nil || cond.Lanes[i].Vehicles > busiest.Vehicles {
			busiest = &cond.Lanes[i]
		}
	}

	if busiest == nil || busiest.Vehicles == 0 {
		return Advice{
			Action:            "Normal operation",
			Reason:            "Traffic levels optimal",
			DetailedAnalysis:  "All lanes showing balanced traffic distribution. No intervention required.",
			ImpactPrediction:  "Minimal delay across all lanes",
			Confidence:        85,
			PriorityLevel:     "LOW",
			AlternativeAction: "Continue standard signal timing",
			RiskFactors:       "None detected",
		}, nil
	}

	th := a.Thresholds
	if th == (Thresholds{}) {
		th = DefaultThresholds()
	}

	name := busiest.Name
	vehicles := busiest.Vehicles
	density := DensityPercent(vehicles, th)
	onGreen := busiest.SignalState == PhaseGreen

	var band string
	switch {
	case float64(vehicles) <= th.Low:
		band = "low"
	case float64(vehicles) <= th.Medium:
		band = "medium"
	case float64(vehicles) <= th.High:
		band = "high"
	default:
		band = "critical"
	}

	min := func(a, b int) int {
		if a < b {
			return a
		}
		return b
	}

	switch {
	case band == "critical" && !onGreen:
		return Advice{
			Action:            fmt.Sprintf("CRITICAL: Prioritize %s - Immediate GREEN signal", name),
			Reason:            fmt.Sprintf("Critical congestion detected: %d vehicles (%d%% density)", vehicles, density),
			DetailedAnalysis:  fmt.Sprintf("%s lane experiencing severe congestion. Estimated wait %ds. Immediate intervention required to prevent gridlock.", name, vehicles*5/2),
			ImpactPrediction:  fmt.Sprintf("Expected to clear %d vehicles in 60 seconds. Delay reduction: %d%%", vehicles*40/100, min(45, density/2)),
			Confidence:        min(95, 75+density/5),
			PriorityLevel:     "CRITICAL",
			AlternativeAction: fmt.Sprintf("If immediate GREEN not possible, extend next cycle by 45 seconds for %s", name),
			RiskFactors:       fmt.Sprintf("Risk of spillover to adjacent lanes if not addressed within 90 seconds. Monitor %s closely.", name),
		}, nil
	case band == "high" && onGreen:
		extension := 15
		if vehicles > 50 {
			extension = 25
		}
		return Advice{
			Action:            fmt.Sprintf("Extend %s GREEN signal +%ds", name, extension),
			Reason:            fmt.Sprintf("High density: %d vehicles (%d%% capacity)", vehicles, density),
			DetailedAnalysis:  fmt.Sprintf("%s currently processing traffic but requires additional time. Extension will optimize throughput and prevent secondary congestion.", name),
			ImpactPrediction:  fmt.Sprintf("Additional %d vehicles cleared. Total delay reduction: %d%%", vehicles*35/100, min(35, density*35/100)),
			Confidence:        min(92, 70+density/4),
			PriorityLevel:     "HIGH",
			AlternativeAction: "Maintain current timing and queue for extended next cycle",
			RiskFactors:       "Moderate risk of residual congestion if cut short. Extension recommended.",
		}, nil
	case band == "high":
		return Advice{
			Action:            fmt.Sprintf("Queue %s for priority GREEN cycle", name),
			Reason:            fmt.Sprintf("High vehicle count detected: %d vehicles (%d%%)", vehicles, density),
			DetailedAnalysis:  fmt.Sprintf("%s showing significant buildup while on RED. Queuing for next GREEN cycle with extended duration to clear the backlog.", name),
			ImpactPrediction:  fmt.Sprintf("Expected clearance: %d vehicles in next cycle. Delay reduction: %d%%", vehicles*30/100, min(30, density*30/100)),
			Confidence:        min(88, 65+density/3),
			PriorityLevel:     "HIGH",
			AlternativeAction: fmt.Sprintf("Monitor for critical threshold; escalate above %d vehicles.", int(th.High)+10),
			RiskFactors:       fmt.Sprintf("Wait time currently %ds. Risk increases if other lanes also congest.", int(busiest.TimeRemaining)),
		}, nil
	case band == "medium" && onGreen:
		return Advice{
			Action:            fmt.Sprintf("Maintain %s standard timing", name),
			Reason:            fmt.Sprintf("Moderate traffic flow: %d vehicles (%d%%)", vehicles, density),
			DetailedAnalysis:  fmt.Sprintf("%s operating within normal parameters. Current GREEN signal efficiently processing traffic.", name),
			ImpactPrediction:  fmt.Sprintf("Steady clearance rate: %d vehicles per cycle. Delay reduction: 15%%", vehicles/4),
			Confidence:        78,
			PriorityLevel:     "MEDIUM",
			AlternativeAction: "Continue monitoring. Ready to extend if density increases above 70%.",
			RiskFactors:       "Low risk. Traffic flow stable and predictable.",
		}, nil
	default:
		return Advice{
			Action:            fmt.Sprintf("Normal operation - %s balanced", name),
			Reason:            fmt.Sprintf("Optimal traffic density: %d vehicles (%d%%)", vehicles, density),
			DetailedAnalysis:  fmt.Sprintf("All lanes showing balanced distribution. %s has the highest count but is well within optimal range.", name),
			ImpactPrediction:  fmt.Sprintf("Minimal delay expected. Current throughput: %d vehicles per cycle.", vehicles/5),
			Confidence:        85,
			PriorityLevel:     "LOW",
			AlternativeAction: "Maintain current pattern. System operating at peak efficiency.",
			RiskFactors:       "None. Traffic conditions optimal for current time period.",
		}, nil
	}
}

// CooldownAdvisor wraps an external advisor with a rate-limit window and a
// deterministic fallback: on failure, nil primary, or active cooldown the
// fallback answers instead. The advisory path never fails the caller.
type CooldownAdvisor struct {
	primary  Advisor
	fallback Advisor
	cooldown time.Duration

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewCooldownAdvisor wires a primary advisor (may be nil) with a fallback.
// A nil fallback uses a default RuleAdvisor.
func NewCooldownAdvisor(primary Advisor, fallback Advisor, cooldown time.Duration) *CooldownAdvisor {
	if fallback == nil {
		fallback = NewRuleAdvisor(DefaultThresholds())
	}
	return &CooldownAdvisor{
		primary:  primary,
		fallback: fallback,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// Advise consults the primary advisor unless it is unavailable or inside
// its cooldown window, falling back to the rule engine.
func (c *CooldownAdvisor) Advise(ctx context.Context, cond TrafficConditions) (Advice, error) {
	if c.primary == nil {
		return c.fallback.Advise(ctx, cond)
	}

	c.mu.Lock()
	now := c.now()
	if !c.last.IsZero() && now.Sub(c.last) < c.cooldown {
		c.mu.Unlock()
		monitoring.Logf("advisor: cooldown active, using rule-based fallback")
		return c.fallback.Advise(ctx, cond)
	}
	c.last = now
	c.mu.Unlock()

	advice, err := c.primary.Advise(ctx, cond)
	if err != nil {
		monitoring.Logf("advisor: external advisor failed, using rule-based fallback: %v", err)
		return c.fallback.Advise(ctx, cond)
	}
	advice.AIPowered = true
	return advice, nil
}
