package model

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Horizon 决策时间窗口
type Horizon string

const (
	Horizon1M  Horizon = "1m"
	Horizon3M  Horizon = "3m"
	Horizon6M  Horizon = "6m"
	Horizon12M Horizon = "12m"
	Horizon24M Horizon = "24m"
)

var horizonMonths = map[Horizon]int{
	Horizon1M:  1,
	Horizon3M:  3,
	Horizon6M:  6,
	Horizon12M: 12,
	Horizon24M: 24,
}

// Months returns the window length, or 0 for an unknown horizon.
func (h Horizon) Months() int {
	return horizonMonths[h]
}

// RiskTolerance 风险偏好
type RiskTolerance string

const (
	RiskLow    RiskTolerance = "low"
	RiskMedium RiskTolerance = "medium"
	RiskHigh   RiskTolerance = "high"
)

// Label is the human readable form shown next to the decision scope.
func (r RiskTolerance) Label() string {
	switch r {
	case RiskLow:
		return "Low (safety-first)"
	case RiskHigh:
		return "High (upside-first)"
	default:
		return "Medium (balanced)"
	}
}

// Priorities 五项权重，每项 0-10
type Priorities struct {
	Growth    int `json:"growth" yaml:"growth" binding:"gte=0,lte=10"`
	Stability int `json:"stability" yaml:"stability" binding:"gte=0,lte=10"`
	Income    int `json:"income" yaml:"income" binding:"gte=0,lte=10"`
	Learning  int `json:"learning" yaml:"learning" binding:"gte=0,lte=10"`
	Stress    int `json:"stress" yaml:"stress" binding:"gte=0,lte=10"` // lower stress preferred
}

// Constraints 约束条件
type Constraints struct {
	MonthlyExpenses     float64 `json:"monthly_expenses" yaml:"monthly_expenses" binding:"gte=0"`
	SavingsRunwayMonths float64 `json:"savings_months" yaml:"savings_months" binding:"gte=0"`
	TimePerWeekHours    float64 `json:"time_per_week_hours" yaml:"time_per_week_hours" binding:"gte=0"`
}

// Assumptions 概率假设
type Assumptions struct {
	OfferProbability      float64 `json:"offer_probability" yaml:"offer_probability" binding:"gte=0,lte=1"`
	MarketVolatility      float64 `json:"market_volatility" yaml:"market_volatility" binding:"gte=0,lte=1"`
	BaselineIncomeMonthly float64 `json:"baseline_income_monthly" yaml:"baseline_income_monthly" binding:"gte=0"`
	TargetIncomeMonthly   float64 `json:"target_income_monthly" yaml:"target_income_monthly" binding:"gte=0"`
	SwitchingCost         float64 `json:"switching_cost" yaml:"switching_cost" binding:"gte=0"`
}

// SimulationRequest 模拟请求，字段名与引擎的 /simulate 契约一致
type SimulationRequest struct {
	Title           string        `json:"title" yaml:"title"`
	DecisionText    string        `json:"decision_text" yaml:"decision_text" binding:"required"`
	Horizon         Horizon       `json:"horizon" yaml:"horizon" binding:"oneof=1m 3m 6m 12m 24m"`
	RiskTolerance   RiskTolerance `json:"risk_tolerance" yaml:"risk_tolerance" binding:"oneof=low medium high"`
	Priorities      Priorities    `json:"priorities" yaml:"priorities"`
	Constraints     Constraints   `json:"constraints" yaml:"constraints"`
	Assumptions     Assumptions   `json:"assumptions" yaml:"assumptions"`
	UseLLMRationale bool          `json:"use_llm" yaml:"use_llm"`
}

// DefaultRequest returns the form state a fresh session starts from.
func DefaultRequest() SimulationRequest {
	return SimulationRequest{
		Title:         "My decision",
		DecisionText:  "Should I accept Job A now or wait 6 months for a potentially better role while improving my skills?",
		Horizon:       Horizon6M,
		RiskTolerance: RiskMedium,
		Priorities:    Priorities{Growth: 8, Stability: 5, Income: 6, Learning: 7, Stress: 4},
		Constraints:   Constraints{MonthlyExpenses: 2600, SavingsRunwayMonths: 3.5, TimePerWeekHours: 12},
		Assumptions: Assumptions{
			OfferProbability:      0.58,
			MarketVolatility:      0.45,
			BaselineIncomeMonthly: 4800,
			TargetIncomeMonthly:   6500,
			SwitchingCost:         1400,
		},
	}
}

// DemoRequest 演示数据对应的决策
func DemoRequest() SimulationRequest {
	req := DefaultRequest()
	req.Title = "Job Offer vs Wait"
	req.DecisionText = "Should I accept Job A now (stable but lower growth) or wait 6 months for a potentially better role while improving my skills?"
	return req
}

// ValidationError lists every field that failed validation, keyed by wire name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// gin binds with the same tag
	v.SetTagName("binding")
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate 提交前校验请求
func (r *SimulationRequest) Validate() error {
	fields := map[string]string{}

	if strings.TrimSpace(r.DecisionText) == "" {
		fields["decision_text"] = "must not be blank"
	}
	for name, v := range r.numericFields() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			fields[name] = "must be a finite number"
		}
	}

	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate request: %w", err)
		}
		for _, fe := range verrs {
			name := wireName(fe.Namespace())
			if _, seen := fields[name]; seen {
				continue
			}
			fields[name] = describeRule(fe)
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// ClampInputs pulls slider-style values back into range. It belongs to the input
// boundary; Validate never clamps.
func (r *SimulationRequest) ClampInputs() {
	p := &r.Priorities
	for _, w := range []*int{&p.Growth, &p.Stability, &p.Income, &p.Learning, &p.Stress} {
		*w = max(0, min(10, *w))
	}

	r.Assumptions.OfferProbability = clampFloat(r.Assumptions.OfferProbability, 0, 1)
	r.Assumptions.MarketVolatility = clampFloat(r.Assumptions.MarketVolatility, 0, 1)
	for _, v := range []*float64{
		&r.Constraints.MonthlyExpenses,
		&r.Constraints.SavingsRunwayMonths,
		&r.Constraints.TimePerWeekHours,
		&r.Assumptions.BaselineIncomeMonthly,
		&r.Assumptions.TargetIncomeMonthly,
		&r.Assumptions.SwitchingCost,
	} {
		*v = clampFloat(*v, 0, math.Inf(1))
	}
}

func (r *SimulationRequest) numericFields() map[string]float64 {
	return map[string]float64{
		"constraints.monthly_expenses":        r.Constraints.MonthlyExpenses,
		"constraints.savings_months":          r.Constraints.SavingsRunwayMonths,
		"constraints.time_per_week_hours":     r.Constraints.TimePerWeekHours,
		"assumptions.offer_probability":       r.Assumptions.OfferProbability,
		"assumptions.market_volatility":       r.Assumptions.MarketVolatility,
		"assumptions.baseline_income_monthly": r.Assumptions.BaselineIncomeMonthly,
		"assumptions.target_income_monthly":   r.Assumptions.TargetIncomeMonthly,
		"assumptions.switching_cost":          r.Assumptions.SwitchingCost,
	}
}

// wireName turns "SimulationRequest.assumptions.offer_probability" into
// "assumptions.offer_probability".
func wireName(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gte":
		return "must be >= " + fe.Param()
	case "lte":
		return "must be <= " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}

// clampFloat keeps NaN (so Validate still reports it) and clamps everything else.
func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return v
	}
	return math.Max(lo, math.Min(hi, v))
}
