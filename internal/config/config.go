package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	envDevelopment = "development"
	envTest        = "test"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string        `env:"APP_NAME" envDefault:"MomoWallet"`
	AppEnv         string        `env:"APP_ENV" envDefault:"development"`
	Port           string        `env:"PORT" envDefault:"8080"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	RedisURL       string        `env:"REDIS_URL"`
	MigrateOnStart bool          `env:"MIGRATE_ON_START" envDefault:"false"`
	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	LoginPerMinute int           `env:"LOGIN_RATE_PER_MINUTE" envDefault:"5"`
	OTELEndpoint   string        `env:"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"`

	JWTSecret  string        `env:"JWT_SECRET"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"720h"`

	OTP    OTPConfig
	MoMo   MoMoConfig
	Twilio TwilioConfig
}

// OTPConfig tunes the one-time passcode step-up.
type OTPConfig struct {
	TTL            time.Duration `env:"OTP_TTL" envDefault:"5m"`
	MaxAttempts    int           `env:"OTP_MAX_ATTEMPTS" envDefault:"3"`
	ReverifyWindow time.Duration `env:"REVERIFY_WINDOW" envDefault:"24h"`
}

// MoMoConfig holds the mobile-money collection gateway settings.
type MoMoConfig struct {
	BaseURL         string        `env:"MOMO_BASE_URL"`
	APIUser         string        `env:"MOMO_API_USER"`
	APIKey          string        `env:"MOMO_API_KEY"`
	SubscriptionKey string        `env:"MOMO_SUBSCRIPTION_KEY"`
	TargetEnv       string        `env:"MOMO_TARGET_ENV" envDefault:"sandbox"`
	Currency        string        `env:"MOMO_CURRENCY" envDefault:"XAF"`
	PollAttempts    int           `env:"COLLECTION_POLL_ATTEMPTS" envDefault:"5"`
	PollInterval    time.Duration `env:"COLLECTION_POLL_INTERVAL" envDefault:"2s"`
	RequestTimeout  time.Duration `env:"MOMO_REQUEST_TIMEOUT" envDefault:"15s"`
}

// TwilioConfig holds SMS delivery credentials. An empty FromNumber logs messages instead.
type TwilioConfig struct {
	AccountSID string `env:"TWILIO_ACCOUNT_SID"`
	AuthToken  string `env:"TWILIO_AUTH_TOKEN"`
	FromNumber string `env:"TWILIO_FROM_NUMBER"`
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if !c.IsDev() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set")
		}
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set")
		}
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET must be set")
		}
	}
	if c.OTP.TTL <= 0 {
		return fmt.Errorf("invalid OTP_TTL: %s", c.OTP.TTL)
	}
	if c.OTP.MaxAttempts <= 0 {
		return fmt.Errorf("invalid OTP_MAX_ATTEMPTS: %d", c.OTP.MaxAttempts)
	}
	if c.OTP.ReverifyWindow <= 0 {
		return fmt.Errorf("invalid REVERIFY_WINDOW: %s", c.OTP.ReverifyWindow)
	}
	if c.MoMo.PollAttempts <= 0 || c.MoMo.PollInterval <= 0 {
		return fmt.Errorf("collection polling requires positive attempts and interval")
	}
	return nil
}

// IsDev reports whether in-memory fallbacks are allowed.
func (c Config) IsDev() bool {
	return c.AppEnv == envDevelopment || c.AppEnv == envTest
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// Secret returns the JWT signing secret, falling back to a fixed value in development.
func (c Config) Secret() []byte {
	if c.JWTSecret == "" {
		return []byte("dev-only-secret")
	}
	return []byte(c.JWTSecret)
}
