package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/BananaCrystal/external-crypto-payment/internal/metrics"
	"github.com/BananaCrystal/external-crypto-payment/internal/paymentapi"
	"github.com/BananaCrystal/external-crypto-payment/internal/session"
	"github.com/BananaCrystal/external-crypto-payment/internal/store"
	"github.com/BananaCrystal/external-crypto-payment/internal/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"
)

const storeWallet = "0x00000000000000000000000000000000000000a1"

type fakeAPI struct {
	lookupErr error
	verifyErr error
	verified  []paymentapi.VerificationRequest
}

func (f *fakeAPI) LookupStore(ctx context.Context, storeID string) (paymentapi.StoreProfile, error) {
	if f.lookupErr != nil {
		return paymentapi.StoreProfile{}, f.lookupErr
	}
	return paymentapi.StoreProfile{ID: storeID, Name: "Banana Store", WalletAddress: storeWallet}, nil
}

type sentTransfer struct {
	to     common.Address
	amount *big.Int
}

// keyProvider stands in for a wallet key held by the server.
type keyProvider struct {
	mu        sync.Mutex
	transfers []sentTransfer
}

var operatorAccount = common.HexToAddress("0x00000000000000000000000000000000000000c1")

func (p *keyProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	return []common.Address{operatorAccount}, nil
}

func (p *keyProvider) ChainID(ctx context.Context) (int64, error) { return wallet.Polygon.ID, nil }

func (p *keyProvider) SwitchChain(ctx context.Context, chainID int64) error { return nil }

func (p *keyProvider) AddChain(ctx context.Context, chain wallet.Chain) error { return nil }

func (p *keyProvider) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return big.NewInt(1_000_000_000_000), nil
}

func (p *keyProvider) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	return 6, nil
}

func (p *keyProvider) Signer(account common.Address) (wallet.Signer, error) {
	return keySigner{p: p}, nil
}

func (p *keyProvider) sent() []sentTransfer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sentTransfer(nil), p.transfers...)
}

type keySigner struct{ p *keyProvider }

func (s keySigner) Address() common.Address { return operatorAccount }

func (s keySigner) Transfer(ctx context.Context, token, to common.Address, amount *big.Int) (common.Hash, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	s.p.transfers = append(s.p.transfers, sentTransfer{to: to, amount: amount})
	return common.HexToHash("0x0fee"), nil
}

func (f *fakeAPI) Signup(ctx context.Context, req paymentapi.SignupRequest) error {
	return nil
}

func (f *fakeAPI) VerifyPayment(ctx context.Context, storeID string, req paymentapi.VerificationRequest) error {
	f.verified = append(f.verified, req)
	return f.verifyErr
}

type testServer struct {
	t       *testing.T
	api     *fakeAPI
	handler http.Handler
	cookie  *http.Cookie
	auth    string
}

func newTestServer(t *testing.T) *testServer {
	return newWalletTestServer(t, nil, "")
}

func newWalletTestServer(t *testing.T, provider wallet.Provider, token string) *testServer {
	api := &fakeAPI{}
	m := metrics.New()
	mgr := &Manager{
		Store:    store.NewMemory(),
		API:      api,
		Provider: provider,
		Chain:    wallet.Polygon,
		Metrics:  m,
		Logger:   slogt.New(t),
	}
	t.Cleanup(mgr.Close)
	s := &Server{Manager: mgr, Metrics: m, Logger: slogt.New(t), WalletToken: token}
	return &testServer{t: t, api: api, handler: s.Router()}
}

func payQuery() string {
	return payQueryWith(nil)
}

func payQueryWith(extra url.Values) string {
	q := url.Values{}
	q.Set("store_id", "store-1")
	q.Set("amount", "5000")
	q.Set("currency", "ngn")
	q.Set("description", "Order #42")
	q.Set("usd_amount", "5")
	q.Set("redirect_url", "https://shop.example.com/thanks")
	for k, v := range extra {
		q[k] = v
	}
	return "/pay?" + q.Encode()
}

func (ts *testServer) open() *httptest.ResponseRecorder {
	ts.t.Helper()
	return ts.openURL(payQuery())
}

func (ts *testServer) openURL(target string) *httptest.ResponseRecorder {
	ts.t.Helper()
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(ts.t, http.StatusOK, rec.Code)
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			ts.cookie = c
		}
	}
	require.NotNil(ts.t, ts.cookie)
	return rec
}

func (ts *testServer) do(method, path string, body any) (int, response) {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if ts.auth != "" {
		req.Header.Set("Authorization", "Bearer "+ts.auth)
	}
	if ts.cookie != nil {
		req.AddCookie(ts.cookie)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var resp response
	require.NoError(ts.t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func enterPayment(ts *testServer) {
	ts.t.Helper()
	code, _ := ts.do(http.MethodPost, "/api/session/draft", session.Draft{
		FirstName: "Ada", LastName: "Obi", Email: "ada@example.com", PhoneNumber: "1",
		Street: "1 Marina", City: "Lagos", Country: "Nigeria",
	})
	require.Equal(ts.t, http.StatusOK, code)
	code, _ = ts.do(http.MethodPost, "/api/session/details", nil)
	require.Equal(ts.t, http.StatusOK, code)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestPayRequiresParameters(t *testing.T) {
	ts := newTestServer(t)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pay?store_id=store-1&amount=abc", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "missing required parameters: description, usd_amount")
}

func TestPayRendersPage(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.open()

	body := rec.Body.String()
	require.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	require.Contains(t, body, "Banana Store checkout")
	require.Contains(t, body, "5,099.50")
	require.Contains(t, body, "NGN")
	require.Contains(t, body, "Order #42")
	require.NotContains(t, body, `http-equiv="refresh"`)

	// Reopening with the same cookie keeps the session.
	req := httptest.NewRequest(http.MethodGet, payQuery(), nil)
	req.AddCookie(ts.cookie)
	again := httptest.NewRecorder()
	ts.handler.ServeHTTP(again, req)
	require.Equal(t, http.StatusOK, again.Code)
	require.Equal(t, ts.cookie.Value, again.Result().Cookies()[0].Value)
}

func TestSessionNotFound(t *testing.T) {
	ts := newTestServer(t)
	code, resp := ts.do(http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "session not found", resp.Error)
}

func TestCheckoutFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.open()

	code, resp := ts.do(http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, session.StepDetails, resp.Session.Step)
	require.Equal(t, storeWallet, resp.Session.WalletAddress)
	require.Equal(t, wallet.StateDisconnected, resp.Wallet.State)

	code, resp = ts.do(http.MethodPost, "/api/session/details", nil)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.True(t, strings.HasPrefix(resp.Error, "Please fill in all required fields"))

	draft := session.Draft{
		FirstName:   "Ada",
		LastName:    "Obi",
		Email:       "ada@example.com",
		PhoneNumber: "8012345678",
		Street:      "1 Marina",
		City:        "Lagos",
		Country:     "Nigeria",
	}
	code, _ = ts.do(http.MethodPost, "/api/session/draft", draft)
	require.Equal(t, http.StatusOK, code)
	code, _ = ts.do(http.MethodPost, "/api/session/country-code", map[string]string{"country_code": "+1"})
	require.Equal(t, http.StatusOK, code)

	code, resp = ts.do(http.MethodPost, "/api/session/details", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, session.StepPayment, resp.Session.Step)
	require.True(t, resp.Session.TimerActive)

	code, resp = ts.do(http.MethodPost, "/api/session/more-time", nil)
	require.Equal(t, http.StatusConflict, code)

	code, resp = ts.do(http.MethodPost, "/api/session/submit", nil)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.Equal(t, "Please enter the transaction hash", resp.Error)

	code, _ = ts.do(http.MethodPost, "/api/session/hash", map[string]string{"trxn_hash": "0xfeed"})
	require.Equal(t, http.StatusOK, code)

	code, resp = ts.do(http.MethodPost, "/api/session/submit", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, session.SubmissionSucceeded, resp.Session.Submission)
	require.Equal(t, "https://shop.example.com/thanks", resp.Session.RedirectURL)
	require.Len(t, ts.api.verified, 1)
	require.Equal(t, "+18012345678", ts.api.verified[0].Phone)
	require.Equal(t, storeWallet, ts.api.verified[0].WalletAddress)

	var messages []string
	for _, toast := range resp.Toasts {
		messages = append(messages, toast.Message)
	}
	require.Contains(t, messages, "Payment verified successfully!")
}

func TestVerificationFailureStatus(t *testing.T) {
	ts := newTestServer(t)
	ts.api.verifyErr = &paymentapi.APIError{Kind: paymentapi.KindStatus, Status: 422, Message: "invalid hash"}
	ts.open()

	ts.do(http.MethodPost, "/api/session/draft", session.Draft{
		FirstName: "Ada", LastName: "Obi", Email: "ada@example.com", PhoneNumber: "1",
		Street: "1 Marina", City: "Lagos", Country: "Nigeria", TrxnHash: "0xbad",
	})
	code, _ := ts.do(http.MethodPost, "/api/session/details", nil)
	require.Equal(t, http.StatusOK, code)

	code, resp := ts.do(http.MethodPost, "/api/session/submit", nil)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.Equal(t, "invalid hash", resp.Error)
	require.Equal(t, session.StepPayment, resp.Session.Step)
	require.Equal(t, "0xbad", resp.Session.Draft.TrxnHash)

	code, resp = ts.do(http.MethodPost, "/api/session/start-over", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, session.StepDetails, resp.Session.Step)
}

func TestWalletWithoutProvider(t *testing.T) {
	ts := newTestServer(t)
	ts.open()

	code, resp := ts.do(http.MethodPost, "/api/session/wallet/connect", nil)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.Equal(t, wallet.NoWalletError{}.Error(), resp.Error)

	code, resp = ts.do(http.MethodPost, "/api/session/wallet/balance", nil)
	require.Equal(t, http.StatusConflict, code)

	code, resp = ts.do(http.MethodPost, "/api/session/wallet/disconnect", nil)
	require.Equal(t, http.StatusOK, code)
	require.False(t, resp.Reload)
}

func TestQRCode(t *testing.T) {
	ts := newTestServer(t)
	ts.open()

	req := httptest.NewRequest(http.MethodGet, "/api/session/qr.png", nil)
	req.AddCookie(ts.cookie)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	require.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.open()

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "checkout_sessions_started_total 1")
}

func TestKeyWalletNeedsOperatorToken(t *testing.T) {
	p := &keyProvider{}
	ts := newWalletTestServer(t, p, "op-secret")
	ts.open()
	enterPayment(ts)

	code, resp := ts.do(http.MethodPost, "/api/session/wallet/connect", nil)
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, "operator authorization required", resp.Error)

	ts.auth = "wrong"
	code, _ = ts.do(http.MethodPost, "/api/session/wallet/pay", nil)
	require.Equal(t, http.StatusUnauthorized, code)
	require.Empty(t, p.sent())

	ts.auth = "op-secret"
	code, resp = ts.do(http.MethodPost, "/api/session/wallet/connect", nil)
	require.Equal(t, http.StatusOK, code)
	require.True(t, resp.Wallet.CorrectNetwork)

	code, resp = ts.do(http.MethodPost, "/api/session/wallet/pay", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, session.SubmissionSucceeded, resp.Session.Submission)

	sent := p.sent()
	require.Len(t, sent, 1)
	require.Equal(t, common.HexToAddress(storeWallet), sent[0].to)
	require.Equal(t, big.NewInt(5_099_500), sent[0].amount)
}

func TestKeyWalletDisabledWithoutToken(t *testing.T) {
	p := &keyProvider{}
	ts := newWalletTestServer(t, p, "")
	ts.open()
	enterPayment(ts)

	ts.auth = "anything"
	for _, path := range []string{"/wallet/connect", "/wallet/switch-network", "/wallet/pay"} {
		code, resp := ts.do(http.MethodPost, "/api/session"+path, nil)
		require.Equal(t, http.StatusForbidden, code, path)
		require.Equal(t, "wallet payments are disabled", resp.Error)
	}
	require.Empty(t, p.sent())
}

func TestKeyWalletIgnoresLinkAddress(t *testing.T) {
	p := &keyProvider{}
	ts := newWalletTestServer(t, p, "op-secret")
	ts.api.lookupErr = errors.New("store service down")
	ts.openURL(payQueryWith(url.Values{
		"wallet_address": {"0x00000000000000000000000000000000000bad00"},
		"usd_amount":     {"10000"},
	}))
	enterPayment(ts)

	ts.auth = "op-secret"
	code, resp := ts.do(http.MethodPost, "/api/session/wallet/connect", nil)
	require.Equal(t, http.StatusOK, code)
	require.False(t, resp.Session.CanPayWithWallet)

	code, resp = ts.do(http.MethodPost, "/api/session/wallet/pay", nil)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.Equal(t, session.ErrUnregisteredRecipient.Error(), resp.Error)
	require.Empty(t, p.sent())
	require.Empty(t, ts.api.verified)
}
