package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/BananaCrystal/external-crypto-payment/internal/metrics"
	"github.com/BananaCrystal/external-crypto-payment/internal/notify"
	"github.com/BananaCrystal/external-crypto-payment/internal/paymentapi"
	"github.com/BananaCrystal/external-crypto-payment/internal/session"
	"github.com/BananaCrystal/external-crypto-payment/internal/wallet"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
)

const sessionCookie = "checkout_session"

type Server struct {
	Manager      *Manager
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	SecureCookie bool
	// WalletToken is the bearer token for wallet routes that act through a
	// server-held key. Without it those routes are disabled.
	WalletToken string
}

func (s *Server) Router() http.Handler {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.HandleHealthz)
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler())
	}
	r.Get("/pay", s.HandlePay)

	r.Route("/api/session", func(r chi.Router) {
		r.Use(s.withCheckout)
		r.Get("/", s.HandleView)
		r.Get("/qr.png", s.HandleQR)
		r.Post("/draft", s.HandleDraft)
		r.Post("/country-code", s.HandleCountryCode)
		r.Post("/details", s.HandleDetails)
		r.Post("/hash", s.HandleHash)
		r.Post("/submit", s.HandleSubmit)
		r.Post("/more-time", s.HandleMoreTime)
		r.Post("/start-over", s.HandleStartOver)

		r.Get("/wallet", s.HandleWalletStatus)
		r.Post("/wallet/balance", s.HandleWalletBalance)
		r.Post("/wallet/disconnect", s.HandleWalletDisconnect)
		r.Group(func(r chi.Router) {
			r.Use(s.requireOperator)
			r.Post("/wallet/connect", s.HandleWalletConnect)
			r.Post("/wallet/switch-network", s.HandleWalletSwitch)
			r.Post("/wallet/pay", s.HandleWalletPay)
		})
	})
	return r
}

func (s *Server) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		s.Logger.Debug("failed to write health response", "error", err)
	}
}

// HandlePay opens the checkout described by the query string and renders
// the page.
func (s *Server) HandlePay(w http.ResponseWriter, r *http.Request) {
	inv, err := invoiceFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := sessionID(r)
	if id == "" {
		id = uuid.NewString()
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	c, err := s.Manager.Open(r.Context(), id, inv)
	if err != nil {
		s.Logger.Error("failed to open checkout", "session", id, "error", err)
		http.Error(w, "could not start checkout", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := Page(c.Controller.View()).Render(r.Context(), w); err != nil {
		s.Logger.Error("failed to render page", "error", err)
	}
}

func invoiceFromQuery(r *http.Request) (session.Invoice, error) {
	q := r.URL.Query()
	var missing []string
	for _, k := range []string{"store_id", "amount", "description", "usd_amount"} {
		if strings.TrimSpace(q.Get(k)) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return session.Invoice{}, errors.New("missing required parameters: " + strings.Join(missing, ", "))
	}

	amount, err := strconv.ParseFloat(q.Get("amount"), 64)
	if err != nil {
		return session.Invoice{}, errors.New("amount must be a number")
	}
	usd, err := strconv.ParseFloat(q.Get("usd_amount"), 64)
	if err != nil {
		return session.Invoice{}, errors.New("usd_amount must be a number")
	}

	currency := q.Get("currency")
	if currency == "" {
		currency = "USD"
	}
	inv := session.Invoice{
		StoreID:        q.Get("store_id"),
		Amount:         amount,
		Currency:       strings.ToUpper(currency),
		Description:    q.Get("description"),
		USDAmount:      usd,
		RedirectURL:    q.Get("redirect_url"),
		FallbackWallet: q.Get("wallet_address"),
		ProductName:    q.Get("product_name"),
		CRMKey:         q.Get("gohighlevel_api_key"),
	}
	return inv, inv.Validate()
}

func sessionID(r *http.Request) string {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return ""
	}
	if _, err := uuid.Parse(cookie.Value); err != nil {
		return ""
	}
	return cookie.Value
}

type checkoutKey struct{}

func (s *Server) withCheckout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := sessionID(r)
		c, ok := s.Manager.Get(id)
		if id == "" || !ok {
			writeError(w, http.StatusNotFound, "session not found", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), checkoutKey{}, c)))
	})
}

// requireOperator guards the wallet routes when the wallet is a key held by
// this server rather than one the buyer controls.
func (s *Server) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Manager.Provider == nil {
			next.ServeHTTP(w, r)
			return
		}
		c := checkoutFrom(r)
		if s.WalletToken == "" {
			writeError(w, http.StatusForbidden, "wallet payments are disabled", c)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.WalletToken)) != 1 {
			s.Logger.Warn("rejected wallet request without operator token", "session", c.ID, "path", r.URL.Path)
			writeError(w, http.StatusUnauthorized, "operator authorization required", c)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func checkoutFrom(r *http.Request) *Checkout {
	return r.Context().Value(checkoutKey{}).(*Checkout)
}

type response struct {
	Session *session.View  `json:"session,omitempty"`
	Wallet  *wallet.Status `json:"wallet,omitempty"`
	Toasts  []notify.Toast `json:"toasts,omitempty"`
	Error   string         `json:"error,omitempty"`
	Reload  bool           `json:"reload,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, c *Checkout) {
	resp := response{Error: msg}
	if c != nil {
		resp = snapshot(c)
		resp.Error = msg
	}
	writeJSON(w, status, resp)
}

func snapshot(c *Checkout) response {
	v := c.Controller.View()
	st := c.Wallet.Status(v.Fees.USD.Total)
	return response{Session: &v, Wallet: &st, Toasts: c.Toasts.Drain()}
}

// statusFor maps a session or wallet error to an HTTP status.
func statusFor(err error) int {
	var verr *session.ValidationError
	var apiErr *paymentapi.APIError
	var payErr *wallet.PaymentError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, session.ErrHashRequired),
		errors.Is(err, session.ErrAddressUnavailable),
		errors.Is(err, session.ErrUnregisteredRecipient),
		errors.As(err, &payErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrSubmitInProgress),
		errors.Is(err, session.ErrWrongStep),
		errors.Is(err, session.ErrWindowExpired),
		errors.Is(err, session.ErrTimerActive),
		errors.Is(err, wallet.ErrBusy):
		return http.StatusConflict
	case errors.As(err, &apiErr):
		if apiErr.Kind == paymentapi.KindStatus && apiErr.Status >= 400 && apiErr.Status < 500 {
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadGateway
	}
	return http.StatusBadRequest
}

// respond writes the session snapshot, or the error with the snapshot.
func (s *Server) respond(w http.ResponseWriter, c *Checkout, err error) {
	if err != nil {
		writeError(w, statusFor(err), err.Error(), c)
		return
	}
	writeJSON(w, http.StatusOK, snapshot(c))
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func (s *Server) HandleView(w http.ResponseWriter, r *http.Request) {
	s.respond(w, checkoutFrom(r), nil)
}

func (s *Server) HandleDraft(w http.ResponseWriter, r *http.Request) {
	c := checkoutFrom(r)
	var d session.Draft
	if err := decode(r, &d); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), c)
		return
	}
	s.respond(w, c, c.Controller.UpdateDraft(r.Context(), d))
}

func (s *Server) HandleCountryCode(w http.ResponseWriter, r *http.Request) {
	c := checkoutFrom(r)
	var body struct {
		CountryCode string `json:"country_code"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), c)
		return
	}
	s.respond(w, c, c.Controller.SetCountryCode(r.Context(), body.CountryCode))
}

func (s *Server) HandleDetails(w http.ResponseWriter, r *http.Request) {
	c := checkoutFrom(r)
	s.respond(w, c, c.Controller.SubmitDetails(r.Context()))
}

func (s *Server) HandleHash(w http.ResponseWriter, r *http.Request) {
	c := checkoutFrom(r)
	var body struct {
		TrxnHash string `json:"trxn_hash"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), c)
		return
	}
	s.respond(w, c, c.Controller.SetTransactionHash(r.Context(), body.TrxnHash))
}

func (s *Server) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	c := checkoutFrom(r)
	s.respond(w, c, c.Controller.Submit(r.Context()))
}

func (s *Server) HandleMoreTime(w http.ResponseWriter, r *http.Request) {
	c := checkoutFrom(r)
	s.respond(w, c, c.Controller.MoreTime(r.Context()))
}

func (s *Server) HandleStartOver(w http.ResponseWriter, r *http.Request) {
	c := checkoutFrom(r)
	s.respond(w, c, c.Controller.StartOver(r.Context()))
}

// HandleQR renders the effective payment address as a QR code.
func (s *Server) HandleQR(w http.ResponseWriter, r *http.Request) {
	c := checkoutFrom(r)
	address := c.Controller.View().WalletAddress
	if address == "" {
		http.Error(w, session.ErrAddressUnavailable.Error(), http.StatusNotFound)
		return
	}

	qrCode, err := qrcode.New(address, qrcode.Medium)
	if err != nil {
		s.Logger.Error("failed to generate QR code", "error", err)
		http.Error(w, "failed to generate QR code", http.StatusInternalServerError)
		return
	}
	png, err := qrCode.PNG(256)
	if err != nil {
		s.Logger.Error("failed to encode QR code", "error", err)
		http.Error(w, "failed to generate QR code", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}

func (s *Server) HandleWalletStatus(w http.ResponseWriter, r *http.Request) {
	s.respond(w, checkoutFrom(r), nil)
}

func (s *Server) HandleWalletConnect(w http.ResponseWriter, r *http.Request) {
	c := checkoutFrom(r)
	conn, err := c.Wallet.Connect(r.Context())
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error(), c)
		return
	}
	c.Wallet.FetchBalance(r.Context(), conn.Address)
	s.respond(w, c, nil)
}

func (s *Server) HandleWalletSwitch(w http.ResponseWriter, r *http.Request) {
	c := checkoutFrom(r)
	if err := c.Wallet.SwitchNetwork(r.Context()); err != nil {
		writeError(w, http.StatusUnprocessableEntity, c.Wallet.Status(0).Error, c)
		return
	}
	if conn, ok := c.Wallet.Connection(); ok {
		c.Wallet.FetchBalance(r.Context(), conn.Address)
	}
	s.respond(w, c, nil)
}

func (s *Server) HandleWalletBalance(w http.ResponseWriter, r *http.Request) {
	c := checkoutFrom(r)
	conn, ok := c.Wallet.Connection()
	if !ok {
		writeError(w, http.StatusConflict, wallet.ErrNotConnected.Error(), c)
		return
	}
	c.Wallet.FetchBalance(r.Context(), conn.Address)
	s.respond(w, c, nil)
}

func (s *Server) HandleWalletDisconnect(w http.ResponseWriter, r *http.Request) {
	c := checkoutFrom(r)
	reload, err := c.Wallet.Disconnect(r.Context())
	if err != nil {
		s.Logger.Warn("failed to persist wallet disconnect", "session", c.ID, "error", err)
	}
	resp := snapshot(c)
	resp.Reload = reload
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) HandleWalletPay(w http.ResponseWriter, r *http.Request) {
	c := checkoutFrom(r)
	s.respond(w, c, c.Controller.PayWithWallet(r.Context()))
}
