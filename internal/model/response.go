package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Metrics 场景指标，缺失或非数值时为 0
type Metrics struct {
	ExpectedValue float64 `json:"expected_value"`
	Risk          float64 `json:"risk"`
	Stress        float64 `json:"stress"`
}

// TraceEntry 假设追踪条目
type TraceEntry struct {
	Key string `json:"key"`
	// Value is the display form of whatever the engine sent: strings verbatim,
	// anything else as its JSON text.
	Value       string  `json:"value"`
	Sensitivity float64 `json:"sensitivity"`
}

// Scenario 引擎生成的单个场景
type Scenario struct {
	Name            string          `json:"name"`
	Summary         string          `json:"summary"`
	AssumptionsText []string        `json:"assumptions"`
	FitScore        float64         `json:"fit_score"`
	Signals         json.RawMessage `json:"signals,omitempty"`
	Metrics         Metrics         `json:"metrics"`
	AssumptionTrace []TraceEntry    `json:"assumption_trace"`
}

// RankingEntry 引擎给出的排名条目
type RankingEntry struct {
	Name     string  `json:"name"`
	FitScore float64 `json:"fit_score"`
	Notes    *string `json:"notes,omitempty"`
}

// SimulationResponse is immutable once decoded. Ranking is nil when the engine
// omitted it; LLMSummary is nil when absent or null.
type SimulationResponse struct {
	RunID      string          `json:"run_id"`
	Facts      json.RawMessage `json:"facts,omitempty"`
	Scenarios  []Scenario      `json:"scenarios"`
	Comparison json.RawMessage `json:"comparison,omitempty"`
	Ranking    []RankingEntry  `json:"ranking"`
	LLMSummary json.RawMessage `json:"llm_summary,omitempty"`
}

// HasRanking reports whether the engine sent a ranking at all.
func (r *SimulationResponse) HasRanking() bool {
	return r.Ranking != nil
}

// ComparisonStatements returns the comparison as text lines when the engine sent
// a list of strings, and nil for any other shape.
func (r *SimulationResponse) ComparisonStatements() []string {
	var lines []string
	if err := json.Unmarshal(r.Comparison, &lines); err != nil {
		return nil
	}
	return lines
}

// MissingFieldError 响应缺少必需字段
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("response is missing required field %q", e.Field)
}

type wireScenario struct {
	Name            any               `json:"name"`
	Summary         any               `json:"summary"`
	Assumptions     json.RawMessage   `json:"assumptions"`
	Signals         json.RawMessage   `json:"signals"`
	Metrics         json.RawMessage   `json:"metrics"`
	AssumptionTrace []json.RawMessage `json:"assumption_trace"`
}

type wireRanking struct {
	Name     any `json:"name"`
	FitScore any `json:"fit_score"`
	Notes    any `json:"notes"`
}

type wireResponse struct {
	RunID      json.RawMessage `json:"run_id"`
	Facts      json.RawMessage `json:"facts"`
	Scenarios  []wireScenario  `json:"scenarios"`
	Comparison json.RawMessage `json:"comparison"`
	Ranking    []wireRanking   `json:"ranking"`
	LLMSummary json.RawMessage `json:"llm_summary"`
}

// UnmarshalJSON is the single place loosely typed engine output becomes typed data.
func (r *SimulationResponse) UnmarshalJSON(data []byte) error {
	var w wireResponse
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if isAbsent(w.RunID) {
		return &MissingFieldError{Field: "run_id"}
	}
	if w.Scenarios == nil {
		return &MissingFieldError{Field: "scenarios"}
	}

	out := SimulationResponse{
		RunID:      rawText(w.RunID),
		Facts:      nullToNil(w.Facts),
		Comparison: nullToNil(w.Comparison),
		LLMSummary: nullToNil(w.LLMSummary),
		Scenarios:  make([]Scenario, 0, len(w.Scenarios)),
	}

	for _, ws := range w.Scenarios {
		metrics := looseObject(ws.Metrics)
		sc := Scenario{
			Name:            displayString(ws.Name),
			Summary:         displayString(ws.Summary),
			AssumptionsText: stringList(ws.Assumptions),
			Signals:         nullToNil(ws.Signals),
			FitScore:        fitScoreOf(ws.Signals),
			Metrics: Metrics{
				ExpectedValue: coerceNumber(metrics["expected_value"]),
				Risk:          coerceNumber(metrics["risk"]),
				Stress:        coerceNumber(metrics["stress"]),
			},
			AssumptionTrace: make([]TraceEntry, 0, len(ws.AssumptionTrace)),
		}
		for _, raw := range ws.AssumptionTrace {
			sc.AssumptionTrace = append(sc.AssumptionTrace, traceEntry(raw))
		}
		out.Scenarios = append(out.Scenarios, sc)
	}

	if w.Ranking != nil {
		out.Ranking = make([]RankingEntry, 0, len(w.Ranking))
		for _, wr := range w.Ranking {
			out.Ranking = append(out.Ranking, RankingEntry{
				Name:     displayString(wr.Name),
				FitScore: coerceNumber(wr.FitScore),
				Notes:    optionalString(wr.Notes),
			})
		}
	}

	*r = out
	return nil
}

// coerceNumber returns v as a finite float64, or 0 when v is absent,
// non-numeric or non-finite. Numeric strings count as numbers.
func coerceNumber(v any) float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func fitScoreOf(signals json.RawMessage) float64 {
	return coerceNumber(looseObject(signals)["fit_score"])
}

// looseObject decodes a JSON object; any other shape yields a nil map.
func looseObject(raw json.RawMessage) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func optionalString(v any) *string {
	if v == nil {
		return nil
	}
	s := displayString(v)
	return &s
}

func traceEntry(raw json.RawMessage) TraceEntry {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return TraceEntry{}
	}
	var key, sens any
	_ = json.Unmarshal(m["key"], &key)
	_ = json.Unmarshal(m["sensitivity"], &sens)
	return TraceEntry{
		Key:         displayString(key),
		Value:       rawText(m["value"]),
		Sensitivity: coerceNumber(sens),
	}
}

// displayString renders a loosely typed scalar for display.
func displayString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		b, err := json.Marshal(s)
		if err != nil {
			return fmt.Sprint(s)
		}
		return string(b)
	}
}

// rawText unquotes JSON strings and returns other JSON values as written.
func rawText(raw json.RawMessage) string {
	if isAbsent(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

func stringList(raw json.RawMessage) []string {
	if isAbsent(raw) {
		return nil
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		if s := rawText(raw); s != "" {
			return []string{s}
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, displayString(it))
	}
	return out
}

func isAbsent(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func nullToNil(raw json.RawMessage) json.RawMessage {
	if isAbsent(raw) {
		return nil
	}
	return raw
}
