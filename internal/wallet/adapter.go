package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/BananaCrystal/external-crypto-payment/internal/metrics"
	"github.com/BananaCrystal/external-crypto-payment/internal/store"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

const (
	flagConnected            = "connected"
	flagManuallyDisconnected = "manually_disconnected"
)

// Adapter drives one buyer's wallet through connect, network check, balance
// check and transfer. It owns the wallet flags namespace.
type Adapter struct {
	provider     Provider
	chain        Chain
	flags        store.Namespace
	clock        clock.Clock
	logger       *slog.Logger
	metrics      *metrics.Metrics
	minLoading   time.Duration
	balances     *lru.Cache[string, Balance]
	onDisconnect func()

	mu             sync.Mutex
	state          State
	conn           *Connection
	balance        Balance
	lastError      string
	warning        string
	reloadRequired bool
	paying         bool
}

type Option func(*Adapter)

func WithClock(c clock.Clock) Option {
	return func(a *Adapter) { a.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// WithMinLoading sets how long the balance placeholder stays visible at least.
func WithMinLoading(d time.Duration) Option {
	return func(a *Adapter) { a.minLoading = d }
}

func WithBalanceCache(c *lru.Cache[string, Balance]) Option {
	return func(a *Adapter) { a.balances = c }
}

func OnDisconnect(fn func()) Option {
	return func(a *Adapter) { a.onDisconnect = fn }
}

// NewAdapter builds an adapter. A nil provider means no wallet is installed.
func NewAdapter(p Provider, chain Chain, flags store.Namespace, opts ...Option) *Adapter {
	a := &Adapter{
		provider:   p,
		chain:      chain,
		flags:      flags,
		clock:      clock.New(),
		logger:     slog.Default(),
		minLoading: time.Second,
		state:      StateDisconnected,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.balances == nil {
		a.balances, _ = lru.New[string, Balance](128)
	}
	a.logger = a.logger.With("component", "wallet")
	return a
}

func (a *Adapter) Connect(ctx context.Context) (Connection, error) {
	if a.provider == nil {
		err := NoWalletError{}
		a.mu.Lock()
		a.state = StateDisconnected
		a.lastError = err.Error()
		a.mu.Unlock()
		return Connection{}, err
	}

	a.mu.Lock()
	a.state = StateConnecting
	a.lastError = ""
	a.mu.Unlock()

	conn, err := a.connect(ctx)
	if err != nil {
		a.mu.Lock()
		a.state = StateDisconnected
		a.conn = nil
		a.lastError = err.Error()
		a.mu.Unlock()
		return Connection{}, err
	}

	a.mu.Lock()
	if a.conn != nil && a.conn.Address != conn.Address {
		a.balance = Balance{}
	}
	a.conn = &conn
	a.state = StateConnected
	a.reloadRequired = false
	a.mu.Unlock()

	if err := a.flags.SetBool(ctx, flagConnected, true); err != nil {
		a.logger.Warn("failed to persist wallet flag", "error", err)
	}
	if err := a.flags.SetBool(ctx, flagManuallyDisconnected, false); err != nil {
		a.logger.Warn("failed to persist wallet flag", "error", err)
	}
	a.logger.Info("wallet connected", "address", conn.Address.Hex(), "chain", conn.ChainID)

	if err := a.CheckNetwork(ctx); err != nil {
		a.logger.Info("wallet on wrong network", "chain", conn.ChainID, "want", a.chain.ID)
	}
	return conn, nil
}

func (a *Adapter) connect(ctx context.Context) (Connection, error) {
	accounts, err := a.provider.RequestAccounts(ctx)
	if err != nil {
		if isUserRejection(err) {
			return Connection{}, UserRejectedError{Err: err}
		}
		return Connection{}, ConnectionError{Err: err}
	}
	if len(accounts) == 0 {
		return Connection{}, ConnectionError{Err: errors.New("Failed to connect. Please check your wallet and try again.")}
	}

	chainID, err := a.provider.ChainID(ctx)
	if err != nil {
		return Connection{}, ConnectionError{Err: err}
	}
	signer, err := a.provider.Signer(accounts[0])
	if err != nil {
		return Connection{}, ConnectionError{Err: err}
	}
	return Connection{Address: accounts[0], ChainID: chainID, Signer: signer}, nil
}

// AutoReconnect restores a previous connection unless the buyer disconnected
// on purpose. Failures stay silent.
func (a *Adapter) AutoReconnect(ctx context.Context) bool {
	if a.provider == nil {
		return false
	}
	connected, err := a.flags.Bool(ctx, flagConnected)
	if err != nil || !connected {
		return false
	}
	manual, err := a.flags.Bool(ctx, flagManuallyDisconnected)
	if err != nil || manual {
		return false
	}

	if _, err := a.Connect(ctx); err != nil {
		a.logger.Debug("auto-reconnect failed", "error", err)
		a.mu.Lock()
		a.lastError = ""
		a.mu.Unlock()
		return false
	}
	return true
}

func (a *Adapter) CheckNetwork(ctx context.Context) error {
	a.mu.Lock()
	if a.conn == nil {
		a.mu.Unlock()
		return ErrNotConnected
	}
	a.state = StateCheckingNetwork
	a.mu.Unlock()

	id, err := a.provider.ChainID(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return ErrNotConnected
	}
	if err == nil {
		a.conn.ChainID = id
	}
	if err != nil || id != a.chain.ID {
		a.state = StateNetworkMismatch
		a.lastError = msgNetworkMismatch
		if err != nil {
			return fmt.Errorf("%w: %v", ErrWrongNetwork, err)
		}
		return ErrWrongNetwork
	}
	a.state = StateReady
	a.lastError = ""
	return nil
}

// SwitchNetwork asks the wallet to move to the payment chain, registering
// the chain first when the wallet does not know it.
func (a *Adapter) SwitchNetwork(ctx context.Context) error {
	if a.provider == nil {
		return NoWalletError{}
	}
	err := a.provider.SwitchChain(ctx, a.chain.ID)
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Code == CodeUnrecognizedChain {
		if err = a.provider.AddChain(ctx, a.chain); err == nil {
			err = a.provider.SwitchChain(ctx, a.chain.ID)
		}
	}
	if err != nil {
		a.mu.Lock()
		a.lastError = fmt.Sprintf("Could not switch to %s. Please switch networks in your wallet.", a.chain.DisplayName)
		a.mu.Unlock()
		return err
	}
	return a.CheckNetwork(ctx)
}

func balanceKey(chainID int64, owner common.Address) string {
	return fmt.Sprintf("%d:%s", chainID, owner.Hex())
}

// FetchBalance reads the token balance of owner. The loading placeholder is
// held for at least the configured minimum. Failures yield Unavailable.
func (a *Adapter) FetchBalance(ctx context.Context, owner common.Address) Balance {
	a.mu.Lock()
	chainID := a.chain.ID
	if a.conn != nil {
		chainID = a.conn.ChainID
	}
	key := balanceKey(chainID, owner)
	if b, ok := a.balances.Get(key); ok {
		a.balance = b
		a.mu.Unlock()
		return b
	}
	a.balance = Balance{Loading: true}
	a.warning = ""
	a.mu.Unlock()

	start := a.clock.Now()
	b, err := a.readBalance(ctx, chainID, owner)
	if wait := a.minLoading - a.clock.Since(start); wait > 0 {
		select {
		case <-a.clock.After(wait):
		case <-ctx.Done():
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.logger.Warn("balance check failed", "owner", owner.Hex(), "error", err)
		a.balance = Unavailable
		a.warning = msgBalanceWarning
		return Unavailable
	}
	a.balances.Add(key, b)
	a.balance = b
	return b
}

func (a *Adapter) readBalance(ctx context.Context, chainID int64, owner common.Address) (Balance, error) {
	if a.provider == nil {
		return Unavailable, NoWalletError{}
	}
	token := TokenAddress(chainID)
	amount, err := a.provider.TokenBalance(ctx, token, owner)
	if err != nil {
		return Unavailable, err
	}
	decimals, err := a.provider.TokenDecimals(ctx, token)
	if err != nil {
		return Unavailable, err
	}
	return Balance{Amount: amount, Decimals: decimals}, nil
}

// Pay transfers amountUSD worth of tokens to recipient and returns the
// transaction hash. A transfer that was broadcast but not confirmed returns
// both its hash and the error.
func (a *Adapter) Pay(ctx context.Context, recipient string, amountUSD float64) (string, error) {
	a.mu.Lock()
	if a.paying {
		a.mu.Unlock()
		return "", ErrBusy
	}
	conn := a.conn
	switch {
	case conn == nil:
		a.lastError = ErrNotConnected.Error()
		a.mu.Unlock()
		return "", ErrNotConnected
	case a.state == StateNetworkMismatch || conn.ChainID != a.chain.ID:
		a.mu.Unlock()
		return "", a.fail(&PaymentError{Category: CategoryWrongNetwork, Message: Message(CategoryWrongNetwork, nil), Err: ErrWrongNetwork})
	case recipient == "" || !common.IsHexAddress(recipient):
		a.lastError = ErrNoRecipient.Error()
		a.mu.Unlock()
		return "", ErrNoRecipient
	}
	if a.insufficientLocked(amountUSD) {
		a.mu.Unlock()
		return "", a.fail(&PaymentError{Category: CategoryInsufficientFunds, Message: Message(CategoryInsufficientFunds, nil), Err: ErrInsufficientFunds})
	}
	a.paying = true
	a.state = StateProcessing
	a.lastError = ""
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.paying = false
		a.mu.Unlock()
	}()

	token := TokenAddress(conn.ChainID)
	decimals, err := a.provider.TokenDecimals(ctx, token)
	if err != nil {
		return "", a.fail(toPaymentError(err))
	}

	hash, err := conn.Signer.Transfer(ctx, token, common.HexToAddress(recipient), ToUnits(amountUSD, decimals))
	if err != nil {
		pe := toPaymentError(err)
		if hash == (common.Hash{}) {
			return "", a.fail(pe)
		}
		// Broadcast but unconfirmed: the hash is still the buyer's proof.
		pe.Hash = hash.Hex()
		a.mu.Lock()
		a.balances.Remove(balanceKey(conn.ChainID, conn.Address))
		a.mu.Unlock()
		return pe.Hash, a.fail(pe)
	}

	a.mu.Lock()
	a.state = StateCompleted
	a.balances.Remove(balanceKey(conn.ChainID, conn.Address))
	a.mu.Unlock()

	a.metrics.WalletPayment("completed")
	a.logger.Info("wallet payment sent", "hash", hash.Hex(), "to", recipient, "amount", amountUSD)
	return hash.Hex(), nil
}

func toPaymentError(err error) *PaymentError {
	cat := Classify(err)
	return &PaymentError{Category: cat, Message: Message(cat, err), Err: err}
}

func (a *Adapter) fail(pe *PaymentError) error {
	a.mu.Lock()
	a.state = StateFailed
	a.lastError = pe.Message
	a.mu.Unlock()
	a.metrics.WalletPayment(string(pe.Category))
	a.logger.Warn("wallet payment failed", "category", pe.Category, "error", pe.Err)
	return pe
}

func (a *Adapter) insufficientLocked(amountUSD float64) bool {
	b := a.balance
	if b.Amount == nil || b.Unavailable || b.Loading {
		return false
	}
	return b.Amount.Cmp(ToUnits(amountUSD, b.Decimals)) < 0
}

// Disconnect drops the connection and remembers that the buyer chose to.
// It reports whether the page must reload to release the wallet session,
// which is only the case when a connection had been established.
func (a *Adapter) Disconnect(ctx context.Context) (bool, error) {
	a.mu.Lock()
	wasConnected := a.conn != nil
	a.conn = nil
	a.balance = Balance{}
	a.state = StateDisconnected
	a.lastError = ""
	a.warning = ""
	a.mu.Unlock()

	persisted, err := a.flags.Bool(ctx, flagConnected)
	if err != nil {
		a.logger.Warn("failed to read wallet flag", "error", err)
	}
	reload := wasConnected || persisted

	err = multierr.Combine(
		a.flags.SetBool(ctx, flagManuallyDisconnected, true),
		a.flags.SetBool(ctx, flagConnected, false),
	)

	a.mu.Lock()
	a.reloadRequired = reload
	a.mu.Unlock()

	if a.onDisconnect != nil {
		a.onDisconnect()
	}
	a.logger.Info("wallet disconnected", "reload", reload)
	return reload, err
}

// Forget purges the persisted wallet flags.
func (a *Adapter) Forget(ctx context.Context) error {
	return a.flags.Clear(ctx)
}

type Status struct {
	State             State  `json:"state"`
	Address           string `json:"address,omitempty"`
	ChainID           int64  `json:"chain_id,omitempty"`
	Network           string `json:"network"`
	CorrectNetwork    bool   `json:"correct_network"`
	Balance           string `json:"balance"`
	InsufficientFunds bool   `json:"insufficient_funds"`
	Error             string `json:"error,omitempty"`
	Warning           string `json:"warning,omitempty"`
	ReloadRequired    bool   `json:"reload_required"`
	CanPay            bool   `json:"can_pay"`
}

// Status reports the adapter state against the amount the buyer owes.
func (a *Adapter) Status(amountDueUSD float64) Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Status{
		State:          a.state,
		Network:        string(a.chain.Network),
		Balance:        FormatBalance(a.balance),
		Error:          a.lastError,
		Warning:        a.warning,
		ReloadRequired: a.reloadRequired,
	}
	if a.conn != nil {
		s.Address = a.conn.Address.Hex()
		s.ChainID = a.conn.ChainID
		s.CorrectNetwork = a.conn.ChainID == a.chain.ID && a.state != StateNetworkMismatch
	}
	s.InsufficientFunds = a.insufficientLocked(amountDueUSD)
	s.CanPay = a.conn != nil && s.CorrectNetwork && !s.InsufficientFunds && !a.paying
	return s
}

func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Adapter) Connection() (Connection, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return Connection{}, false
	}
	return *a.conn, true
}

func FormatBalance(b Balance) string {
	switch {
	case b.Loading:
		return "loading"
	case b.Unavailable:
		return "unavailable"
	case b.Amount == nil:
		return ""
	}
	return decimal.NewFromBigInt(b.Amount, -int32(b.Decimals)).StringFixed(2)
}

// ToUnits converts a human amount into token base units.
func ToUnits(amount float64, decimals uint8) *big.Int {
	d := int32(decimals)
	return decimal.NewFromFloat(amount).Round(d).Shift(d).BigInt()
}
