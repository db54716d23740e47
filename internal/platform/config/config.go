package config

import (
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config captures all runtime configuration. Values are read once at startup
// and passed down explicitly; nothing reads the environment at call time.
type Config struct {
	Addr string

	DatabaseURL string
	RedisURL    string

	KafkaBrokers []string
	AuditTopic   string

	Gateway GatewayConfig

	// UnitFee is the per-head registration fee in the event currency.
	UnitFee decimal.Decimal

	Admin AdminConfig
}

// GatewayConfig holds payment gateway credentials and limits.
type GatewayConfig struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
}

// AdminConfig holds credentials for the staff surface.
type AdminConfig struct {
	Username string
	// PasswordHash is a bcrypt hash; plaintext passwords never live in config.
	PasswordHash  string
	JWTSigningKey string
	TokenTTL      time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	cfg := Config{
		Addr:        envOr("CONFREG_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		AuditTopic:  envOr("AUDIT_TOPIC", "confreg.audit"),
		Gateway: GatewayConfig{
			BaseURL:     envOr("GATEWAY_BASE_URL", "https://api.mercadopago.com"),
			AccessToken: os.Getenv("GATEWAY_ACCESS_TOKEN"),
			Timeout:     30 * time.Second,
		},
		Admin: AdminConfig{
			Username:      envOr("ADMIN_USERNAME", "admin"),
			PasswordHash:  os.Getenv("ADMIN_PASSWORD_HASH"),
			JWTSigningKey: envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			TokenTTL:      8 * time.Hour,
		},
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	cfg.UnitFee = decimal.NewFromInt(50)
	if raw := os.Getenv("UNIT_FEE"); raw != "" {
		if fee, err := decimal.NewFromString(raw); err == nil && fee.IsPositive() {
			cfg.UnitFee = fee
		}
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
