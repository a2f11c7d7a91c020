// Package session runs one buyer's checkout: the details step, the payment
// window, and submission of the transaction hash for verification.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/BananaCrystal/external-crypto-payment/internal/crm"
	"github.com/BananaCrystal/external-crypto-payment/internal/fees"
	"github.com/BananaCrystal/external-crypto-payment/internal/metrics"
	"github.com/BananaCrystal/external-crypto-payment/internal/notify"
	"github.com/BananaCrystal/external-crypto-payment/internal/paymentapi"
	"github.com/BananaCrystal/external-crypto-payment/internal/store"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
)

// Persisted keys of the session namespace.
const (
	keyStep        = "step"
	keyDraft       = "draft"
	keyCountryCode = "country_code"
	keyExpiry      = "expiry"
	keyTimerActive = "timer_active"
)

const (
	DefaultRedirectDelay = 5 * time.Second
	crmTimeout           = 30 * time.Second

	msgVerified = "Payment verified successfully!"
	msgExpired  = "Your payment window has expired. Request more time to continue."

	msgUnconfirmed = "Your transaction was sent but is not confirmed yet. Verify it with the hash below once it confirms."
)

type Profiles interface {
	LookupStore(ctx context.Context, storeID string) (paymentapi.StoreProfile, error)
}

type Payments interface {
	Signup(ctx context.Context, req paymentapi.SignupRequest) error
	VerifyPayment(ctx context.Context, storeID string, req paymentapi.VerificationRequest) error
}

// Wallet is the part of the wallet adapter the controller drives.
type Wallet interface {
	Pay(ctx context.Context, recipient string, amountUSD float64) (string, error)
	Forget(ctx context.Context) error
}

type Deps struct {
	Store    store.Namespace
	Profiles Profiles
	Payments Payments
	CRM      crm.Notifier
	Notifier notify.Notifier
	Wallet   Wallet
	Clock    clock.Clock
	Logger   *slog.Logger
	Metrics  *metrics.Metrics

	Window        time.Duration
	RedirectDelay time.Duration
}

type Controller struct {
	store    store.Namespace
	profiles Profiles
	payments Payments
	crm      crm.Notifier
	notifier notify.Notifier
	wallet   Wallet
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics

	redirectDelay time.Duration
	timer         *Countdown
	pushes        sync.WaitGroup

	mu          sync.Mutex
	invoice     Invoice
	profile     *paymentapi.StoreProfile
	step        Step
	draft       Draft
	countryCode string
	submission  SubmissionState
	errMsg      string
	redirectAt  time.Time
}

func New(inv Invoice, deps Deps) *Controller {
	c := &Controller{
		store:         deps.Store,
		profiles:      deps.Profiles,
		payments:      deps.Payments,
		crm:           deps.CRM,
		notifier:      deps.Notifier,
		wallet:        deps.Wallet,
		clock:         deps.Clock,
		logger:        deps.Logger,
		metrics:       deps.Metrics,
		redirectDelay: deps.RedirectDelay,
		invoice:       inv,
		step:          StepDetails,
		countryCode:   DefaultCountryCode,
		submission:    SubmissionIdle,
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.notifier == nil {
		c.notifier = notify.Log{Logger: c.logger}
	}
	if c.redirectDelay <= 0 {
		c.redirectDelay = DefaultRedirectDelay
	}
	c.logger = c.logger.With("component", "session", "session", deps.Store.Name())
	c.timer = NewCountdown(c.clock, deps.Window, c.expired)
	return c
}

// Init restores the persisted session and looks up the store profile.
func (c *Controller) Init(ctx context.Context) error {
	saved, err := c.load(ctx)
	if err != nil {
		return err
	}

	var profile *paymentapi.StoreProfile
	if c.profiles != nil && c.invoice.StoreID != "" {
		p, err := c.profiles.LookupStore(ctx, c.invoice.StoreID)
		if err != nil {
			c.logger.Warn("store lookup failed", "store", c.invoice.StoreID, "error", err)
		} else {
			profile = &p
		}
	}

	c.mu.Lock()
	c.profile = profile
	c.draft = saved.draft
	c.countryCode = saved.countryCode
	c.step = saved.step
	if c.step == StepPayment && c.addressLocked() == "" {
		c.step = StepDetails
		c.errMsg = ErrAddressUnavailable.Error()
		c.persistStepLocked(ctx)
	}
	if c.step == StepPayment {
		c.timer.Restore(saved.expiry, saved.timerActive)
		if !c.timer.Active() {
			c.errMsg = ErrWindowExpired.Error()
		}
	}
	restored := saved.found
	c.mu.Unlock()

	if !restored {
		c.metrics.SessionStarted()
	}
	c.timer.Tick()
	c.logger.Debug("session initialized", "step", saved.step, "restored", restored)
	return nil
}

type savedSession struct {
	found       bool
	step        Step
	draft       Draft
	countryCode string
	expiry      time.Time
	timerActive bool
}

func (c *Controller) load(ctx context.Context) (savedSession, error) {
	s := savedSession{step: StepDetails, countryCode: DefaultCountryCode}

	step, ok, err := c.store.Get(ctx, keyStep)
	if err != nil {
		return s, fmt.Errorf("failed to restore session: %w", err)
	}
	if ok && Step(step) == StepPayment {
		s.step = StepPayment
	}
	s.found = ok

	raw, ok, err := c.store.Get(ctx, keyDraft)
	if err != nil {
		return s, fmt.Errorf("failed to restore session: %w", err)
	}
	if ok {
		s.found = true
		if err := json.Unmarshal([]byte(raw), &s.draft); err != nil {
			c.logger.Warn("discarding unreadable draft", "error", err)
			s.draft = Draft{}
		}
	}

	code, ok, err := c.store.Get(ctx, keyCountryCode)
	if err != nil {
		return s, fmt.Errorf("failed to restore session: %w", err)
	}
	if ok && code != "" {
		s.countryCode = code
	}

	expiry, ok, err := c.store.Get(ctx, keyExpiry)
	if err != nil {
		return s, fmt.Errorf("failed to restore session: %w", err)
	}
	if ok {
		if t, err := time.Parse(time.RFC3339Nano, expiry); err == nil {
			s.expiry = t
		}
	}

	s.timerActive, err = c.store.Bool(ctx, keyTimerActive)
	if err != nil {
		return s, fmt.Errorf("failed to restore session: %w", err)
	}
	return s, nil
}

// UpdateInvoice takes the caller's amounts when they changed since the
// session was created.
func (c *Controller) UpdateInvoice(inv Invoice) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.invoice
	if cur.Amount == inv.Amount && cur.Currency == inv.Currency && cur.USDAmount == inv.USDAmount {
		return false
	}
	c.invoice.Amount = inv.Amount
	c.invoice.Currency = inv.Currency
	c.invoice.USDAmount = inv.USDAmount
	return true
}

func (c *Controller) UpdateDraft(ctx context.Context, d Draft) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editableLocked(); err != nil {
		return err
	}
	c.draft = d
	return c.persistDraftLocked(ctx)
}

func (c *Controller) SetCountryCode(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		code = DefaultCountryCode
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editableLocked(); err != nil {
		return err
	}
	c.countryCode = code
	return c.store.Set(ctx, keyCountryCode, code)
}

// SetTransactionHash records a hash typed or pasted by the buyer.
func (c *Controller) SetTransactionHash(ctx context.Context, hash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editableLocked(); err != nil {
		return err
	}
	c.draft.TrxnHash = strings.TrimSpace(hash)
	return c.persistDraftLocked(ctx)
}

// editableLocked rejects edits while a submission runs or after it
// succeeded. A succeeded session has been purged and stays that way.
func (c *Controller) editableLocked() error {
	switch c.submission {
	case SubmissionSubmitting:
		return ErrSubmitInProgress
	case SubmissionSucceeded:
		return ErrWrongStep
	}
	return nil
}

// SubmitDetails validates the buyer details and moves to the payment step.
func (c *Controller) SubmitDetails(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.step != StepDetails {
		return ErrWrongStep
	}
	if err := c.draft.Validate(); err != nil {
		c.errMsg = err.Error()
		return err
	}
	if c.addressLocked() == "" {
		c.errMsg = ErrAddressUnavailable.Error()
		return ErrAddressUnavailable
	}

	c.errMsg = ""
	c.submission = SubmissionIdle
	c.pushLocked(crm.StatusIncomplete)

	expiry := c.timer.Start()
	c.step = StepPayment
	c.metrics.Step(string(StepPayment))
	c.logger.Info("payment step entered", "expiry", expiry)

	return multierr.Combine(
		c.persistDraftLocked(ctx),
		c.store.Set(ctx, keyStep, string(StepPayment)),
		c.persistTimerLocked(ctx),
	)
}

// Submit sends the transaction hash for verification. Only one submission
// runs at a time.
func (c *Controller) Submit(ctx context.Context) error {
	c.timer.Tick()

	c.mu.Lock()
	if c.submission == SubmissionSubmitting {
		c.mu.Unlock()
		return ErrSubmitInProgress
	}
	if c.step != StepPayment || c.submission == SubmissionSucceeded {
		c.mu.Unlock()
		return ErrWrongStep
	}
	if strings.TrimSpace(c.draft.TrxnHash) == "" {
		c.errMsg = ErrHashRequired.Error()
		c.mu.Unlock()
		return ErrHashRequired
	}
	if !c.timer.Active() {
		c.errMsg = ErrWindowExpired.Error()
		c.mu.Unlock()
		return ErrWindowExpired
	}
	c.submission = SubmissionSubmitting
	c.errMsg = ""
	inv, draft, phone, address := c.invoice, c.draft, c.draft.Phone(c.countryCode), c.addressLocked()
	c.mu.Unlock()

	// The verification outlives the request that started it.
	ctx = context.WithoutCancel(ctx)
	start := c.clock.Now()

	if c.payments == nil {
		return c.submitFailed(errors.New("payment verification is not configured"), start)
	}

	signup := paymentapi.SignupRequest{
		FirstName: draft.FirstName,
		LastName:  draft.LastName,
		Email:     draft.Email,
		Phone:     phone,
		Address:   draft.FullAddress(),
	}
	if err := c.payments.Signup(ctx, signup); err != nil {
		c.logger.Warn("signup failed", "email", draft.Email, "error", err)
	}

	if err := c.payments.VerifyPayment(ctx, inv.StoreID, verificationRequest(inv, draft, phone, address)); err != nil {
		return c.submitFailed(err, start)
	}

	c.metrics.Submission("succeeded", c.clock.Since(start))
	c.logger.Info("payment verified", "store", inv.StoreID, "hash", draft.TrxnHash)

	c.mu.Lock()
	c.pushLocked(crm.StatusComplete)
	c.timer.Reset()
	if err := c.purge(ctx); err != nil {
		c.logger.Warn("failed to purge session", "error", err)
	}
	c.submission = SubmissionSucceeded
	if inv.RedirectURL != "" {
		c.redirectAt = c.clock.Now().Add(c.redirectDelay)
	}
	c.mu.Unlock()

	c.notifier.Notify(notify.KindSuccess, msgVerified)
	return nil
}

func (c *Controller) submitFailed(err error, start time.Time) error {
	msg := err.Error()
	if msg == "" {
		msg = "Payment verification failed"
	}

	c.mu.Lock()
	c.submission = SubmissionFailed
	c.errMsg = msg
	c.mu.Unlock()

	c.metrics.Submission("failed", c.clock.Since(start))
	c.logger.Warn("payment verification failed", "error", err)
	c.notifier.Notify(notify.KindError, msg)
	return err
}

func verificationRequest(inv Invoice, d Draft, phone, address string) paymentapi.VerificationRequest {
	sum := fees.Summarize(inv.Amount, inv.Currency, inv.USDAmount)
	return paymentapi.VerificationRequest{
		Amount:         inv.Amount,
		Currency:       inv.Currency,
		Description:    inv.Description,
		USDAmount:      inv.USDAmount,
		Fees:           sum.Native.Fee,
		USDFees:        sum.USD.Fee,
		TotalAmount:    sum.Native.Total,
		TotalUSDAmount: sum.USD.Total,
		FirstName:      d.FirstName,
		LastName:       d.LastName,
		Email:          d.Email,
		Phone:          phone,
		Street:         d.Street,
		City:           d.City,
		State:          d.State,
		PostalCode:     d.PostalCode,
		Country:        d.Country,
		Address:        d.FullAddress(),
		TrxnHash:       strings.TrimSpace(d.TrxnHash),
		SignupConsent:  d.SignUpConsent,
		WalletAddress:  address,
		ProductName:    inv.ProductName,
	}
}

// CompleteWalletPayment takes the hash produced by the wallet and submits
// it without further input from the buyer.
func (c *Controller) CompleteWalletPayment(ctx context.Context, hash string) error {
	if err := c.SetTransactionHash(ctx, hash); err != nil {
		return err
	}
	return c.Submit(ctx)
}

// PayWithWallet pays the USD total through the wallet and submits the
// resulting hash. Wallet failures leave the session as it was.
func (c *Controller) PayWithWallet(ctx context.Context) error {
	c.timer.Tick()

	c.mu.Lock()
	switch {
	case c.wallet == nil:
		c.mu.Unlock()
		return ErrNoWallet
	case c.submission == SubmissionSubmitting:
		c.mu.Unlock()
		return ErrSubmitInProgress
	case c.step != StepPayment || c.submission == SubmissionSucceeded:
		c.mu.Unlock()
		return ErrWrongStep
	case !c.timer.Active():
		c.mu.Unlock()
		return ErrWindowExpired
	}
	address := c.registeredAddressLocked()
	amount := fees.TotalDue(c.invoice.USDAmount)
	c.mu.Unlock()

	if address == "" {
		return ErrUnregisteredRecipient
	}

	// Receipt polling outlives the request once the transfer is broadcast.
	ctx = context.WithoutCancel(ctx)
	hash, err := c.wallet.Pay(ctx, address, amount)
	if err != nil {
		if hash == "" {
			c.logger.Info("wallet payment did not complete", "error", err)
			return err
		}
		c.logger.Warn("wallet payment sent but not confirmed", "hash", hash, "error", err)
		if serr := c.SetTransactionHash(ctx, hash); serr != nil {
			return multierr.Append(err, serr)
		}
		c.notifier.Notify(notify.KindWarning, msgUnconfirmed)
		return err
	}
	return c.CompleteWalletPayment(ctx, hash)
}

// MoreTime re-arms an expired payment window. Draft and hash are kept.
func (c *Controller) MoreTime(ctx context.Context) error {
	c.timer.Tick()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.step != StepPayment || c.submission == SubmissionSucceeded {
		return ErrWrongStep
	}
	if c.timer.Active() {
		return ErrTimerActive
	}
	expiry := c.timer.Extend()
	if c.errMsg == ErrWindowExpired.Error() {
		c.errMsg = ""
	}
	c.logger.Info("payment window extended", "expiry", expiry)
	return c.persistTimerLocked(ctx)
}

// StartOver drops everything and returns to an empty details step.
func (c *Controller) StartOver(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submission == SubmissionSubmitting {
		return ErrSubmitInProgress
	}
	if c.step != StepPayment && c.submission != SubmissionFailed {
		return ErrWrongStep
	}

	c.timer.Reset()
	err := c.purge(ctx)
	c.step = StepDetails
	c.draft = Draft{}
	c.countryCode = DefaultCountryCode
	c.submission = SubmissionIdle
	c.errMsg = ""
	c.redirectAt = time.Time{}
	c.metrics.Step(string(StepDetails))
	c.logger.Info("session reset")
	return err
}

// expired runs once when the payment window runs out.
func (c *Controller) expired() {
	c.mu.Lock()
	if c.step != StepPayment || c.submission == SubmissionSucceeded {
		c.mu.Unlock()
		return
	}
	c.errMsg = ErrWindowExpired.Error()
	if err := c.persistTimerLocked(context.Background()); err != nil {
		c.logger.Warn("failed to persist timer", "error", err)
	}
	c.mu.Unlock()

	c.logger.Info("payment window expired")
	c.notifier.Notify(notify.KindWarning, msgExpired)
}

// Close stops the countdown. A verification already sent still completes.
func (c *Controller) Close() {
	c.timer.Stop()
}

// Wait blocks until every CRM push has finished.
func (c *Controller) Wait() {
	c.pushes.Wait()
}

// registeredAddressLocked is the address from the store profile only.
// Wallet transfers never go to an address taken from the payment link.
func (c *Controller) registeredAddressLocked() string {
	if c.profile == nil {
		return ""
	}
	return c.profile.WalletAddress
}

func (c *Controller) addressLocked() string {
	if c.profile != nil && c.profile.WalletAddress != "" {
		return c.profile.WalletAddress
	}
	return c.invoice.FallbackWallet
}

func (c *Controller) pushLocked(status crm.Status) {
	if c.crm == nil {
		return
	}
	d := c.draft
	contact := crm.Contact{
		FirstName:     d.FirstName,
		LastName:      d.LastName,
		Email:         d.Email,
		Phone:         d.Phone(c.countryCode),
		Street:        d.Street,
		City:          d.City,
		State:         d.State,
		PostalCode:    d.PostalCode,
		Country:       d.Country,
		TrxnHash:      strings.TrimSpace(d.TrxnHash),
		WalletAddress: c.addressLocked(),
		Status:        status,
	}

	c.pushes.Add(1)
	go func() {
		defer c.pushes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), crmTimeout)
		defer cancel()
		if err := c.crm.Push(ctx, contact); err != nil {
			c.logger.Warn("crm push failed", "status", status, "error", err)
			return
		}
		c.logger.Debug("crm push sent", "status", status)
	}()
}

func (c *Controller) purge(ctx context.Context) error {
	err := c.store.Clear(ctx)
	if c.wallet != nil {
		err = multierr.Append(err, c.wallet.Forget(ctx))
	}
	return err
}

func (c *Controller) persistDraftLocked(ctx context.Context) error {
	raw, err := json.Marshal(c.draft)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, keyDraft, string(raw))
}

func (c *Controller) persistStepLocked(ctx context.Context) {
	if err := c.store.Set(ctx, keyStep, string(c.step)); err != nil {
		c.logger.Warn("failed to persist step", "error", err)
	}
}

func (c *Controller) persistTimerLocked(ctx context.Context) error {
	return multierr.Combine(
		c.store.Set(ctx, keyExpiry, c.timer.Expiry().UTC().Format(time.RFC3339Nano)),
		c.store.SetBool(ctx, keyTimerActive, c.timer.Active()),
	)
}

type Branding struct {
	Name         string `json:"name,omitempty"`
	Logo         string `json:"logo,omitempty"`
	SupportEmail string `json:"support_email,omitempty"`
	URL          string `json:"url,omitempty"`
}

// View is a snapshot of the session for rendering.
type View struct {
	Step             Step            `json:"step"`
	Submission       SubmissionState `json:"submission"`
	Draft            Draft           `json:"draft"`
	CountryCode      string          `json:"country_code"`
	Description      string          `json:"description"`
	ProductName      string          `json:"product_name,omitempty"`
	Fees             fees.Summary    `json:"fees"`
	Native           fees.Display    `json:"native"`
	USD              fees.Display    `json:"usd"`
	WalletAddress    string          `json:"wallet_address"`
	Store            Branding        `json:"store"`
	Remaining        string          `json:"remaining"`
	RemainingSeconds int             `json:"remaining_seconds"`
	TimerActive      bool            `json:"timer_active"`
	CanSubmit        bool            `json:"can_submit"`
	CanPayWithWallet bool            `json:"can_pay_with_wallet"`
	CanRequestTime   bool            `json:"can_request_time"`
	CanStartOver     bool            `json:"can_start_over"`
	Error            string          `json:"error,omitempty"`
	RedirectURL      string          `json:"redirect_url,omitempty"`
	RedirectIn       int             `json:"redirect_in,omitempty"`
}

func (c *Controller) View() View {
	c.timer.Tick()

	c.mu.Lock()
	defer c.mu.Unlock()

	sum := fees.Summarize(c.invoice.Amount, c.invoice.Currency, c.invoice.USDAmount)
	active := c.timer.Active()
	remaining := c.timer.Remaining()
	payable := c.step == StepPayment && active &&
		c.submission != SubmissionSubmitting && c.submission != SubmissionSucceeded

	v := View{
		Step:             c.step,
		Submission:       c.submission,
		Draft:            c.draft,
		CountryCode:      c.countryCode,
		Description:      c.invoice.Description,
		ProductName:      c.invoice.ProductName,
		Fees:             sum,
		Native:           sum.Native.Display(),
		USD:              sum.USD.Display(),
		WalletAddress:    c.addressLocked(),
		Remaining:        c.timer.Label(),
		RemainingSeconds: int(remaining / time.Second),
		TimerActive:      active,
		CanSubmit:        payable && strings.TrimSpace(c.draft.TrxnHash) != "",
		CanPayWithWallet: payable && c.wallet != nil && c.registeredAddressLocked() != "",
		CanRequestTime:   c.step == StepPayment && !active && c.submission != SubmissionSucceeded,
		CanStartOver:     (c.step == StepPayment || c.submission == SubmissionFailed) && c.submission != SubmissionSubmitting && c.submission != SubmissionSucceeded,
		Error:            c.errMsg,
	}
	if p := c.profile; p != nil {
		v.Store = Branding{Name: p.Name, Logo: p.StoreLogo, SupportEmail: p.StoreSupportEmail, URL: p.StoreURL}
	}
	if c.submission == SubmissionSucceeded && c.invoice.RedirectURL != "" {
		v.RedirectURL = c.invoice.RedirectURL
		v.RedirectIn = int(math.Ceil(math.Max(0, c.redirectAt.Sub(c.clock.Now()).Seconds())))
	}
	return v
}
