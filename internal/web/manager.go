package web

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BananaCrystal/external-crypto-payment/internal/crm"
	"github.com/BananaCrystal/external-crypto-payment/internal/metrics"
	"github.com/BananaCrystal/external-crypto-payment/internal/notify"
	"github.com/BananaCrystal/external-crypto-payment/internal/session"
	"github.com/BananaCrystal/external-crypto-payment/internal/store"
	"github.com/BananaCrystal/external-crypto-payment/internal/wallet"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
)

const maxLiveSessions = 4096

// API is the payment backend a session talks to.
type API interface {
	session.Profiles
	session.Payments
}

// Checkout is one live buyer session.
type Checkout struct {
	ID         string
	Controller *session.Controller
	Wallet     *wallet.Adapter
	Toasts     *notify.Queue
}

func (c *Checkout) close() {
	c.Controller.Close()
}

// Manager keeps the live checkouts. Evicted checkouts only stop their
// countdown; their state stays in the store and is restored on next use.
type Manager struct {
	Store    store.Store
	API      API
	CRM      func(apiKey string) crm.Notifier
	Provider wallet.Provider
	Chain    wallet.Chain
	Clock    clock.Clock
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	Window        time.Duration
	RedirectDelay time.Duration
	MinLoading    time.Duration

	once     sync.Once
	mu       sync.Mutex
	sessions *lru.Cache[string, *Checkout]
}

func (m *Manager) init() {
	m.once.Do(func() {
		if m.Logger == nil {
			m.Logger = slog.Default()
		}
		if m.Clock == nil {
			m.Clock = clock.New()
		}
		m.sessions, _ = lru.NewWithEvict[string, *Checkout](maxLiveSessions, func(_ string, c *Checkout) {
			c.close()
		})
	})
}

// Get returns the live checkout for id.
func (m *Manager) Get(id string) (*Checkout, bool) {
	m.init()
	return m.sessions.Get(id)
}

// Open returns the checkout for id, restoring or creating it. An existing
// checkout picks up changed invoice amounts.
func (m *Manager) Open(ctx context.Context, id string, inv session.Invoice) (*Checkout, error) {
	m.init()
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.sessions.Get(id); ok {
		if c.Controller.UpdateInvoice(inv) {
			m.Logger.Info("invoice updated", "session", id, "amount", inv.Amount, "currency", inv.Currency)
		}
		return c, nil
	}

	logger := m.Logger.With("session", id)
	toasts := notify.NewQueue(20)
	notifier := notify.Multi{toasts, notify.Log{Logger: logger}}

	adapter := wallet.NewAdapter(m.Provider, m.Chain, store.NewNamespace(m.Store, "wallet:"+id),
		wallet.WithClock(m.Clock),
		wallet.WithLogger(logger),
		wallet.WithMetrics(m.Metrics),
		wallet.WithMinLoading(m.MinLoading),
		wallet.OnDisconnect(func() {
			toasts.Notify(notify.KindInfo, "Wallet disconnected")
		}),
	)

	var notifierCRM crm.Notifier
	if m.CRM != nil {
		notifierCRM = m.CRM(inv.CRMKey)
	}

	ctrl := session.New(inv, session.Deps{
		Store:         store.NewNamespace(m.Store, "session:"+id),
		Profiles:      m.API,
		Payments:      m.API,
		CRM:           notifierCRM,
		Notifier:      notifier,
		Wallet:        adapter,
		Clock:         m.Clock,
		Logger:        logger,
		Metrics:       m.Metrics,
		Window:        m.Window,
		RedirectDelay: m.RedirectDelay,
	})
	if err := ctrl.Init(ctx); err != nil {
		ctrl.Close()
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	if adapter.AutoReconnect(ctx) {
		logger.Info("wallet reconnected")
	}

	c := &Checkout{ID: id, Controller: ctrl, Wallet: adapter, Toasts: toasts}
	m.sessions.Add(id, c)
	return c, nil
}

// Close stops every live countdown and waits for pending CRM pushes.
func (m *Manager) Close() {
	m.init()
	for _, id := range m.sessions.Keys() {
		if c, ok := m.sessions.Peek(id); ok {
			c.close()
			c.Controller.Wait()
		}
	}
}
