package metrics

import (
	"encoding/json"
	"math"

	"whatif-backend/internal/model"
)

// ScenarioView 单个场景的展示数据
type ScenarioView struct {
	Name            string        `json:"name"`
	Summary         string        `json:"summary"`
	AssumptionsText []string      `json:"assumptions"`
	Fit             float64       `json:"fit"`
	FitText         string        `json:"fit_text"`
	BarWidth        float64       `json:"bar_width"`
	BarPercent      int           `json:"bar_percent"`
	ExpectedValue   string        `json:"expected_value"`
	Risk            string        `json:"risk"`
	Stress          string        `json:"stress"`
	Trace           []TraceItem   `json:"trace"`
	TraceTruncated  bool          `json:"trace_truncated"`
	Metrics         model.Metrics `json:"metrics"`
}

// View is everything a presentation layer needs from one response.
type View struct {
	RunID      string               `json:"run_id"`
	Best       string               `json:"best,omitempty"`
	HasBest    bool                 `json:"has_best"`
	Scenarios  []ScenarioView       `json:"scenarios"`
	Ranking    []model.RankingEntry `json:"ranking"`
	Comparison json.RawMessage      `json:"comparison,omitempty"`
	LLMSummary json.RawMessage      `json:"llm_summary,omitempty"`
	Facts      json.RawMessage      `json:"facts,omitempty"`
	MaxFit     float64              `json:"max_fit"`
}

// BuildView derives the view model. Ranking and fit bars come from different
// parts of the response and are allowed to disagree.
func BuildView(resp *model.SimulationResponse) View {
	best, hasBest := BestScenario(resp)
	bars := FitBars(resp.Scenarios)

	scenarios := make([]ScenarioView, len(resp.Scenarios))
	for i, s := range resp.Scenarios {
		scenarios[i] = ScenarioView{
			Name:            s.Name,
			Summary:         s.Summary,
			AssumptionsText: s.AssumptionsText,
			Fit:             s.FitScore,
			FitText:         Number(s.FitScore, 3),
			BarWidth:        bars[i].Width,
			BarPercent:      int(math.Round(bars[i].Width * 100)),
			ExpectedValue:   Money(s.Metrics.ExpectedValue),
			Risk:            Number(s.Metrics.Risk, 2),
			Stress:          Number(s.Metrics.Stress, 2),
			Trace:           TraceItems(s.AssumptionTrace),
			TraceTruncated:  len(s.AssumptionTrace) > MaxTraceEntries,
			Metrics:         s.Metrics,
		}
	}

	return View{
		RunID:      resp.RunID,
		Best:       best,
		HasBest:    hasBest,
		Scenarios:  scenarios,
		Ranking:    resp.Ranking,
		Comparison: resp.Comparison,
		LLMSummary: resp.LLMSummary,
		Facts:      resp.Facts,
		MaxFit:     MaxFit(resp.Scenarios),
	}
}
