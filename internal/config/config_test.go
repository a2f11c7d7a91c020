package config_test

import (
	"testing"
	"time"

	"github.com/BananaCrystal/external-crypto-payment/internal/config"
	"github.com/stretchr/testify/require"
)

func TestProcessDefaults(t *testing.T) {
	cfg, err := config.Process()
	require.NoError(t, err)

	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, "https://app.bananacrystal.com/api/v2", cfg.StoreAPIBaseURL)
	require.Equal(t, "https://app.bananacrystal.com/api/v1", cfg.PaymentAPIBaseURL)
	require.Equal(t, 30*time.Minute, cfg.PaymentWindow)
	require.Equal(t, 5*time.Second, cfg.RedirectDelay)
	require.Equal(t, time.Second, cfg.BalanceMinLoading)
	require.Equal(t, "polygon", cfg.PaymentNetwork)
	require.Empty(t, cfg.PostgresDatabase)
	require.Equal(t, "0.0.0.0:8080", cfg.Addr())
}

func TestProcessOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("PAYMENT_WINDOW", "10m")
	t.Setenv("PAYMENT_NETWORK", "polygon-mumbai")
	t.Setenv("CRM_RATE_LIMIT", "2.5")

	cfg, err := config.Process()
	require.NoError(t, err)
	require.Equal(t, "9000", cfg.Port)
	require.Equal(t, 10*time.Minute, cfg.PaymentWindow)
	require.Equal(t, "polygon-mumbai", cfg.PaymentNetwork)
	require.InDelta(t, 2.5, cfg.CRMRateLimit, 1e-9)
}

func TestProcessRejectsBadDuration(t *testing.T) {
	t.Setenv("API_TIMEOUT", "soon")

	_, err := config.Process()
	require.Error(t, err)
}
