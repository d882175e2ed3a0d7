// Package metrics derives display values from a simulation response. Every
// function here is pure.
package metrics

import (
	"math"

	"whatif-backend/internal/model"
)

const (
	// fitEpsilon keeps the bar normalization away from a zero divisor.
	fitEpsilon = 1e-9

	// MaxTraceEntries caps how many assumption-trace entries are shown per scenario.
	MaxTraceEntries = 8

	lowSensitivityBelow = 0.35
	highSensitivityFrom = 0.65
)

// Sensitivity 假设敏感度等级
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "LOW"
	SensitivityMedium Sensitivity = "MEDIUM"
	SensitivityHigh   Sensitivity = "HIGH"
)

// Tone is the status colour used when rendering the level.
func (s Sensitivity) Tone() string {
	switch s {
	case SensitivityLow:
		return "good"
	case SensitivityMedium:
		return "warn"
	default:
		return "bad"
	}
}

// ClassifySensitivity buckets v without clamping it first.
func ClassifySensitivity(v float64) Sensitivity {
	if v < lowSensitivityBelow {
		return SensitivityLow
	}
	if v < highSensitivityFrom {
		return SensitivityMedium
	}
	return SensitivityHigh
}

// BestScenario returns ranking[0].name. The ranking is trusted as sent; nothing
// is inferred from fit scores when it is empty, absent or led by an unnamed entry.
func BestScenario(resp *model.SimulationResponse) (string, bool) {
	if resp == nil || len(resp.Ranking) == 0 || resp.Ranking[0].Name == "" {
		return "", false
	}
	return resp.Ranking[0].Name, true
}

// FitBar 场景适配度条
type FitBar struct {
	Name  string  `json:"name"`
	Fit   float64 `json:"fit"`
	Width float64 `json:"width"`
}

// MaxFit is the largest fit score, floored at a small epsilon.
func MaxFit(scenarios []model.Scenario) float64 {
	maxFit := fitEpsilon
	for _, s := range scenarios {
		maxFit = math.Max(maxFit, s.FitScore)
	}
	return maxFit
}

// FitBars returns one bar per scenario, in scenario order, with widths in [0,1]
// proportional to the highest fit score.
func FitBars(scenarios []model.Scenario) []FitBar {
	maxFit := MaxFit(scenarios)
	bars := make([]FitBar, len(scenarios))
	for i, s := range scenarios {
		bars[i] = FitBar{
			Name:  s.Name,
			Fit:   s.FitScore,
			Width: clamp01(s.FitScore / maxFit),
		}
	}
	return bars
}

// TraceItem 带敏感度分类的假设追踪条目
type TraceItem struct {
	Key         string      `json:"key"`
	Value       string      `json:"value"`
	Sensitivity float64     `json:"sensitivity"`
	Level       Sensitivity `json:"level"`
	Tone        string      `json:"tone"`
}

// TraceItems classifies the first MaxTraceEntries entries in engine order.
func TraceItems(trace []model.TraceEntry) []TraceItem {
	n := min(len(trace), MaxTraceEntries)
	items := make([]TraceItem, n)
	for i, e := range trace[:n] {
		level := ClassifySensitivity(e.Sensitivity)
		items[i] = TraceItem{
			Key:         e.Key,
			Value:       e.Value,
			Sensitivity: e.Sensitivity,
			Level:       level,
			Tone:        level.Tone(),
		}
	}
	return items
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Max(0, math.Min(1, x))
}
