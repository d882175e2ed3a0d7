package cli

import (
	"fmt"
	"io"
	"strings"

	"whatif-backend/internal/metrics"
	"whatif-backend/internal/model"
)

const barCells = 20

// Render prints the view as plain text.
func Render(w io.Writer, req model.SimulationRequest, v *metrics.View) {
	fmt.Fprintf(w, "%s (run %s)\n", req.Title, v.RunID)
	fmt.Fprintf(w, "Decision scope: %d months, risk tolerance %s\n", req.Horizon.Months(), req.RiskTolerance.Label())
	if v.HasBest {
		fmt.Fprintf(w, "Best scenario: %s\n", v.Best)
	} else {
		fmt.Fprintln(w, "Best scenario: none ranked")
	}

	for _, s := range v.Scenarios {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%s  fit %s  %s\n", s.Name, s.FitText, bar(s.BarWidth))
		if s.Summary != "" {
			fmt.Fprintf(w, "  %s\n", s.Summary)
		}
		fmt.Fprintf(w, "  expected value %s  risk %s  stress %s\n", s.ExpectedValue, s.Risk, s.Stress)
		for _, a := range s.AssumptionsText {
			fmt.Fprintf(w, "  - %s\n", a)
		}
		for _, t := range s.Trace {
			fmt.Fprintf(w, "  %-6s %s = %s (%s)\n", t.Level, t.Key, t.Value, metrics.Number(t.Sensitivity, 2))
		}
		if s.TraceTruncated {
			fmt.Fprintln(w, "  ...")
		}
	}

	if len(v.Ranking) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Ranking:")
		for i, r := range v.Ranking {
			line := fmt.Sprintf("  %d. %s (%s)", i+1, r.Name, metrics.Number(r.FitScore, 3))
			if r.Notes != nil && *r.Notes != "" {
				line += " " + *r.Notes
			}
			fmt.Fprintln(w, line)
		}
	}

	if lines := comparisonLines(v); len(lines) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Comparison:")
		for _, l := range lines {
			fmt.Fprintf(w, "  %s\n", l)
		}
	}
}

func bar(width float64) string {
	filled := int(width*barCells + 0.5)
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", barCells-filled) + "]"
}

func comparisonLines(v *metrics.View) []string {
	resp := model.SimulationResponse{Comparison: v.Comparison}
	return resp.ComparisonStatements()
}
