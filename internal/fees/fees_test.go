package fees_test

import (
	"testing"

	"github.com/BananaCrystal/external-crypto-payment/internal/fees"
	"github.com/stretchr/testify/require"
)

func TestNairaInvoice(t *testing.T) {
	b := fees.Compute(5000)
	require.InDelta(t, 99.50, b.Fee, 1e-9)
	require.InDelta(t, 5099.50, b.Total, 1e-9)

	d := b.Display()
	require.Equal(t, "99.50", d.Fee)
	require.Equal(t, "5,099.50", d.Total)
	require.Equal(t, "5,000.00", d.Amount)
}

func TestTotalDueMatchesRate(t *testing.T) {
	for _, a := range []float64{0, 0.01, 1, 3.33, 10, 99.99, 1234.5678, 1e6} {
		require.InDelta(t, a+a*0.0199, fees.TotalDue(a), 1e-9, "amount %v", a)
	}
}

func TestSummaryComputesCurrenciesIndependently(t *testing.T) {
	s := fees.Summarize(5000, "NGN", 3.25)

	require.Equal(t, "NGN", s.Currency)
	require.InDelta(t, 5099.50, s.Native.Total, 1e-9)
	require.InDelta(t, 3.25*0.0199, s.USD.Fee, 1e-12)
	require.InDelta(t, 3.25+3.25*0.0199, s.USD.Total, 1e-12)
}

func TestNoInternalRounding(t *testing.T) {
	// 0.01 * 0.0199 is far below a cent; rounding before summing would lose it.
	var sum float64
	for i := 0; i < 100; i++ {
		sum += fees.Fee(0.01)
	}
	require.InDelta(t, 0.0199, sum, 1e-9)
}

func TestFormat(t *testing.T) {
	cases := map[float64]string{
		0:          "0.00",
		0.005:      "0.01",
		12.3:       "12.30",
		999.999:    "1,000.00",
		1234567.89: "1,234,567.89",
		-1500:      "-1,500.00",
		-0.001:     "0.00",
	}
	for in, want := range cases {
		require.Equal(t, want, fees.Format(in), "format %v", in)
	}
}
