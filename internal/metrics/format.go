package metrics

import (
	"math"
	"strconv"

	"github.com/dustin/go-humanize"
)

// CurrencyPrefix 金额前缀，引擎金额单位为加元
const CurrencyPrefix = "CA$"

// Percent formats a fraction as a whole percentage after clamping it to [0,1].
func Percent(x float64) string {
	return strconv.Itoa(int(math.Round(clamp01(x)*100))) + "%"
}

// Number rounds x to at most decimals places with thousands grouping and no
// trailing zeros. Non-finite input renders as 0.
func Number(x float64, decimals int) string {
	v := finiteOrZero(x)
	decimals = max(decimals, 0)
	p := math.Pow10(decimals)
	// values this large have no fractional digits left to round
	if scaled := v * p; !math.IsInf(scaled, 0) {
		v = math.Round(scaled) / p
	}
	if v == 0 {
		// avoid "-0"
		v = 0
	}
	return humanize.CommafWithDigits(v, decimals)
}

// Money 金额取整并加千分位
func Money(x float64) string {
	v := math.Round(finiteOrZero(x))
	if v == 0 {
		return CurrencyPrefix + "0"
	}
	if v < 0 {
		return "-" + CurrencyPrefix + humanize.Commaf(-v)
	}
	return CurrencyPrefix + humanize.Commaf(v)
}

func finiteOrZero(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}
