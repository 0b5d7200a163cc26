package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-rewards/pkg/httpmiddleware"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (REWARDS_ prefix), a .env file, flags, or YAML files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (REWARDS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL for product images" flag:"image-base-url"`
	JWTSecret    string `usage:"HS256 secret for bearer tokens (REWARDS_JWT_SECRET)" flag:"jwt-secret"`
	Checkout     CheckoutConfig
	Rewards      RewardsConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Health       HealthConfig
	Graceful     GracefulConfig
}

// CheckoutConfig controls order pricing.
type CheckoutConfig struct {
	ShippingFee string `default:"4.99" usage:"Flat shipping fee added to every order" flag:"shipping-fee"`
}

// RewardsConfig controls the spin-wheel endpoints.
type RewardsConfig struct {
	LeaderboardSize int `default:"10" usage:"Maximum leaderboard entries" flag:"leaderboard-size"`
}

// RateLimitConfig controls the per-client token bucket guarding coupon
// validation and spins. Authenticated callers are keyed by user id, others by
// client address.
type RateLimitConfig struct {
	Rate           float64       `default:"1" usage:"Sustained throttled requests per second per client"`
	Burst          int           `default:"10" usage:"Throttled request burst per client"`
	Idle           time.Duration `default:"10m" usage:"How long idle client buckets are kept"`
	TrustedProxies []string      `usage:"Reverse proxy addresses or CIDRs whose X-Forwarded-For is honored" flag:"trusted-proxies"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// HealthConfig controls background health checks.
type HealthConfig struct {
	Interval        time.Duration `default:"10s" usage:"Health check interval" flag:"health-interval"`
	MaxGoroutines   int           `default:"10000" usage:"Liveness goroutine threshold" flag:"health-max-goroutines"`
	MaxGCPause      time.Duration `default:"1s" usage:"Liveness GC pause threshold" flag:"health-max-gc-pause"`
	DatabaseTimeout time.Duration `default:"5s" usage:"Readiness database ping timeout" flag:"health-db-timeout"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from an optional .env file, environment
// variables and YAML config files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "REWARDS",
		Files:     []string{"config.yaml", "/etc/rewards/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set REWARDS_DATABASE_URL or DATABASE_URL")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT secret is required: set REWARDS_JWT_SECRET")
	}
	fee, err := c.ShippingFee()
	if err != nil {
		return err
	}
	if fee.IsNegative() {
		return errors.Errorf("shipping fee must not be negative, got %s", fee)
	}
	if _, err := httpmiddleware.ParseTrustedProxies(c.RateLimit.TrustedProxies); err != nil {
		return err
	}
	return nil
}

// ShippingFee parses the configured flat shipping fee.
func (c *Config) ShippingFee() (decimal.Decimal, error) {
	fee, err := decimal.NewFromString(c.Checkout.ShippingFee)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "parse shipping fee %q", c.Checkout.ShippingFee)
	}
	return fee, nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT to the REWARDS_-prefixed
// configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
