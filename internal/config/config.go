package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ListeningAddress string `default:"0.0.0.0" envconfig:"LISTENING_ADDRESS"`
	Port             string `default:"8080" envconfig:"PORT"`
	PublicURL        string `default:"http://localhost:8080" envconfig:"PUBLIC_URL"`
	LogLevel         string `default:"info" envconfig:"LOG_LEVEL"`
	PostgresDatabase string `envconfig:"POSTGRESQL_DATABASE"`

	// BananaCrystal
	StoreAPIBaseURL   string        `default:"https://app.bananacrystal.com/api/v2" envconfig:"STORE_API_BASE_URL"`
	PaymentAPIBaseURL string        `default:"https://app.bananacrystal.com/api/v1" envconfig:"PAYMENT_API_BASE_URL"`
	UserSignupURL     string        `default:"https://app.bananacrystal.com/api/users/sign_up" envconfig:"USER_SIGNUP_URL"`
	APITimeout        time.Duration `default:"10s" envconfig:"API_TIMEOUT"`

	// Session
	PaymentWindow time.Duration `default:"30m" envconfig:"PAYMENT_WINDOW"`
	RedirectDelay time.Duration `default:"5s" envconfig:"REDIRECT_DELAY"`

	// Wallet
	PaymentNetwork   string `default:"polygon" envconfig:"PAYMENT_NETWORK"`
	RPCURL           string `default:"https://polygon-rpc.com/" envconfig:"RPC_URL"`
	WalletPrivateKey string `envconfig:"WALLET_PRIVATE_KEY"`
	// Required with WALLET_PRIVATE_KEY; the key-backed wallet routes need it as a bearer token.
	WalletOperatorToken string        `envconfig:"WALLET_OPERATOR_TOKEN"`
	BalanceMinLoading   time.Duration `default:"1s" envconfig:"BALANCE_MIN_LOADING"`

	// GoHighLevel
	GoHighLevelAPIKey string  `envconfig:"GOHIGHLEVEL_API_KEY"`
	GoHighLevelURL    string  `default:"https://rest.gohighlevel.com/v1" envconfig:"GOHIGHLEVEL_URL"`
	CRMRateLimit      float64 `default:"5" envconfig:"CRM_RATE_LIMIT"`
}

func (c Config) Addr() string {
	return c.ListeningAddress + ":" + c.Port
}

func Process() (Config, error) {
	var c Config
	err := envconfig.Process("", &c)
	return c, err
}

func Load() Config {
	c, err := Process()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return c
}
