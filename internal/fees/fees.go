// Package fees computes the checkout processing fee. Values stay unrounded;
// Format is the only place that rounds.
package fees

import (
	"strings"

	"github.com/shopspring/decimal"
)

const ProcessingFeeRate = 0.0199

func Fee(amount float64) float64 {
	return amount * ProcessingFeeRate
}

func TotalDue(amount float64) float64 {
	return amount + Fee(amount)
}

type Breakdown struct {
	Amount float64 `json:"amount"`
	Fee    float64 `json:"fee"`
	Total  float64 `json:"total"`
}

func Compute(amount float64) Breakdown {
	return Breakdown{Amount: amount, Fee: Fee(amount), Total: TotalDue(amount)}
}

// Summary holds the native and USD breakdowns. They share the rate but are
// computed separately.
type Summary struct {
	Currency string    `json:"currency"`
	Native   Breakdown `json:"native"`
	USD      Breakdown `json:"usd"`
}

func Summarize(amount float64, currency string, usdAmount float64) Summary {
	return Summary{
		Currency: currency,
		Native:   Compute(amount),
		USD:      Compute(usdAmount),
	}
}

// Display is a Breakdown rounded for presentation.
type Display struct {
	Amount string `json:"amount"`
	Fee    string `json:"fee"`
	Total  string `json:"total"`
}

func (b Breakdown) Display() Display {
	return Display{Amount: Format(b.Amount), Fee: Format(b.Fee), Total: Format(b.Total)}
}

// Format renders v with two decimals and en-US thousands grouping.
func Format(v float64) string {
	s := decimal.NewFromFloat(v).StringFixed(2)

	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if sign == "-" && strings.Trim(intPart+frac, "0") == "" {
		sign = ""
	}
	return sign + b.String() + "." + frac
}
