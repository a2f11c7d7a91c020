package paymentapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BananaCrystal/external-crypto-payment/internal/paymentapi"
	"github.com/stretchr/testify/require"
)

func newClient(ts *httptest.Server) *paymentapi.Client {
	return paymentapi.NewClient(ts.URL+"/api/v2", ts.URL+"/api/v1", ts.URL+"/api/users/sign_up", 2*time.Second)
}

func TestLookupStore(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "GET", r.Method)
		switch r.URL.Path {
		case "/api/v2/stores/plain":
			w.Write([]byte(`{"id":"plain","name":"Plain Store","wallet_address":"0xabc","store_logo":null}`))
		case "/api/v2/stores/wrapped":
			w.Write([]byte(`{"data":{"id":"wrapped","name":"Wrapped","wallet_address":"0xdef"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"store not found"}`))
		}
	}))
	defer ts.Close()
	c := newClient(ts)

	p, err := c.LookupStore(context.Background(), "plain")
	require.NoError(t, err)
	require.Equal(t, "Plain Store", p.Name)
	require.Equal(t, "0xabc", p.WalletAddress)
	require.Empty(t, p.StoreLogo)

	p, err = c.LookupStore(context.Background(), "wrapped")
	require.NoError(t, err)
	require.Equal(t, "0xdef", p.WalletAddress)

	_, err = c.LookupStore(context.Background(), "missing")
	var apiErr *paymentapi.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, paymentapi.KindStatus, apiErr.Kind)
	require.Equal(t, http.StatusNotFound, apiErr.Status)
	require.Equal(t, "store not found", apiErr.Message)
}

func TestVerifyPaymentSendsBody(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/stores/store-1/external_store_payments", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()

	err := newClient(ts).VerifyPayment(context.Background(), "store-1", paymentapi.VerificationRequest{
		Amount:        5000,
		Currency:      "NGN",
		Fees:          99.5,
		TotalAmount:   5099.5,
		FirstName:     "Ada",
		TrxnHash:      "0xabc",
		SignupConsent: true,
		WalletAddress: "0xstore",
	})
	require.NoError(t, err)
	require.Equal(t, "NGN", got["currency"])
	require.Equal(t, "0xabc", got["trxn_hash"])
	require.Equal(t, 5099.5, got["total_amount"])
	require.Equal(t, true, got["signup_consent"])
}

func TestVerifyPaymentErrorMessage(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"message field", 422, `{"message":"invalid hash"}`, "invalid hash"},
		{"error field", 400, `{"error":"duplicate transaction"}`, "duplicate transaction"},
		{"message wins", 400, `{"error":"x","message":"y"}`, "y"},
		{"raw body", 502, `upstream exploded`, "upstream exploded"},
		{"empty body", 500, ``, "Internal Server Error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer ts.Close()

			err := newClient(ts).VerifyPayment(context.Background(), "s", paymentapi.VerificationRequest{})
			require.Error(t, err)
			require.Equal(t, tc.want, err.Error())
		})
	}
}

func TestNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := newClient(ts)
	ts.Close()

	err := c.Signup(context.Background(), paymentapi.SignupRequest{Email: "a@b.c"})
	var apiErr *paymentapi.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, paymentapi.KindNetwork, apiErr.Kind)
}
