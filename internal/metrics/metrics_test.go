package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BananaCrystal/external-crypto-payment/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := metrics.New()
	m.SessionStarted()
	m.Step("payment")
	m.Step("payment")
	m.Submission("succeeded", 120*time.Millisecond)
	m.WalletPayment("user_rejected")

	require.InDelta(t, 1, testutil.ToFloat64(m.SessionsStarted), 0)
	require.InDelta(t, 2, testutil.ToFloat64(m.StepTransitions.WithLabelValues("payment")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.Submissions.WithLabelValues("succeeded")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.WalletPayments.WithLabelValues("user_rejected")), 0)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *metrics.Metrics
	m.SessionStarted()
	m.Step("details")
	m.Submission("failed", time.Second)
	m.WalletPayment("generic")
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := metrics.New()
	m.SessionStarted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "checkout_sessions_started_total 1")
}
