package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BananaCrystal/external-crypto-payment/internal/config"
	"github.com/BananaCrystal/external-crypto-payment/internal/crm"
	"github.com/BananaCrystal/external-crypto-payment/internal/metrics"
	"github.com/BananaCrystal/external-crypto-payment/internal/paymentapi"
	"github.com/BananaCrystal/external-crypto-payment/internal/store"
	"github.com/BananaCrystal/external-crypto-payment/internal/wallet"
	"github.com/BananaCrystal/external-crypto-payment/internal/wallet/ethprovider"
	"github.com/BananaCrystal/external-crypto-payment/internal/web"

	"github.com/joho/godotenv"
)

func main() {
	godotenv.Load()

	cfg := config.Load()

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Printf("invalid log level %q, using info", cfg.LogLevel)
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	logger := slog.Default().With("component", "server")

	var sessions store.Store
	if cfg.PostgresDatabase != "" {
		db, err := store.Init(cfg.PostgresDatabase)
		if err != nil {
			log.Fatalf("db init error: %v", err)
		}
		defer db.Close()
		sessions = db
	} else {
		logger.Warn("no database configured, sessions are kept in memory")
		sessions = store.NewMemory()
	}

	chain, err := wallet.ChainByName(cfg.PaymentNetwork)
	if err != nil {
		log.Fatalf("wallet config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var provider wallet.Provider
	if cfg.WalletPrivateKey != "" {
		if cfg.WalletOperatorToken == "" {
			log.Fatalf("wallet config error: WALLET_OPERATOR_TOKEN is required with WALLET_PRIVATE_KEY")
		}
		p, err := ethprovider.Dial(ctx, cfg.RPCURL, cfg.WalletPrivateKey,
			ethprovider.WithLogger(slog.Default()),
			ethprovider.WithChains(chain),
		)
		if err != nil {
			log.Fatalf("wallet provider error: %v", err)
		}
		defer p.Close()
		provider = p
		logger.Info("wallet provider ready", "address", p.Address().Hex(), "network", chain.Network)
	}

	m := metrics.New()
	api := paymentapi.NewClient(cfg.StoreAPIBaseURL, cfg.PaymentAPIBaseURL, cfg.UserSignupURL, cfg.APITimeout)

	manager := &web.Manager{
		Store:    sessions,
		API:      api,
		CRM:      crmFactory(cfg),
		Provider: provider,
		Chain:    chain,
		Metrics:  m,
		Logger:   slog.Default(),

		Window:        cfg.PaymentWindow,
		RedirectDelay: cfg.RedirectDelay,
		MinLoading:    cfg.BalanceMinLoading,
	}
	defer manager.Close()

	webHandler := &web.Server{
		Manager:      manager,
		Metrics:      m,
		Logger:       logger,
		SecureCookie: strings.HasPrefix(cfg.PublicURL, "https://"),
		WalletToken:  cfg.WalletOperatorToken,
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           webHandler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	logger.Info("checkout running", "addr", cfg.Addr(), "network", chain.Name)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

// crmFactory returns the GoHighLevel client for a session: the key passed
// with the invoice wins over the configured one. No key means no CRM.
func crmFactory(cfg config.Config) func(string) crm.Notifier {
	return func(apiKey string) crm.Notifier {
		if apiKey == "" {
			apiKey = cfg.GoHighLevelAPIKey
		}
		if apiKey == "" {
			return nil
		}
		return crm.NewGoHighLevel(cfg.GoHighLevelURL, apiKey, crm.WithRateLimit(cfg.CRMRateLimit))
	}
}
