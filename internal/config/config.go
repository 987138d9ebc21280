package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName       string
	AppVersion    string
	Environment   string
	HTTPAddr      string
	AuthJWTSecret string
	NodeID        int64

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	PayPal   PayPalConfig
	Doku     DokuConfig
	Checkout CheckoutEnvConfig
	Kafka    KafkaConfig
	Redis    RedisConfig
}

// PayPalConfig holds credentials for the order/capture gateway.
type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	WebhookID    string
}

func (c PayPalConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// DokuConfig holds credentials for the hosted checkout gateway.
type DokuConfig struct {
	ClientID         string
	SecretKey        string
	BaseURL          string
	NotificationPath string
	SignatureMode    string
	PaymentDueMins   int
}

func (c DokuConfig) Configured() bool {
	return c.ClientID != "" && c.SecretKey != ""
}

// StrictSignature reports whether unsigned or mis-signed notifications are rejected.
func (c DokuConfig) StrictSignature() bool {
	return c.SignatureMode != SignatureModeLenient
}

type CheckoutEnvConfig struct {
	ReturnURL string
}

type KafkaConfig struct {
	Brokers       []string
	PurchaseTopic string
}

func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

const (
	SignatureModeStrict  = "strict"
	SignatureModeLenient = "lenient"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:       getenv("APP_SERVICE", "gamestore"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   getenv("ENVIRONMENT", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		AuthJWTSecret: strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		NodeID:        int64(getenvInt("SNOWFLAKE_NODE_ID", 1)),
		OTLPEndpoint:  getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "gamestore"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		PayPal: PayPalConfig{
			ClientID:     strings.TrimSpace(getenv("PAYPAL_CLIENT_ID", "")),
			ClientSecret: strings.TrimSpace(getenv("PAYPAL_CLIENT_SECRET", "")),
			BaseURL:      strings.TrimRight(getenv("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com"), "/"),
			WebhookID:    strings.TrimSpace(getenv("PAYPAL_WEBHOOK_ID", "")),
		},
		Doku: DokuConfig{
			ClientID:         strings.TrimSpace(getenv("DOKU_CLIENT_ID", "")),
			SecretKey:        strings.TrimSpace(getenv("DOKU_SECRET_KEY", "")),
			BaseURL:          strings.TrimRight(getenv("DOKU_BASE_URL", "https://api-sandbox.doku.com"), "/"),
			NotificationPath: getenv("DOKU_NOTIFICATION_PATH", "/api/payments/webhooks/doku"),
			SignatureMode:    normalizeSignatureMode(getenv("DOKU_SIGNATURE_MODE", SignatureModeStrict)),
			PaymentDueMins:   getenvInt("DOKU_PAYMENT_DUE_MINUTES", 60),
		},
		Checkout: CheckoutEnvConfig{
			ReturnURL: strings.TrimSpace(getenv("CHECKOUT_RETURN_URL", "http://localhost:3000/checkout/return")),
		},
		Kafka: KafkaConfig{
			Brokers:       splitList(getenv("KAFKA_BROKERS", "")),
			PurchaseTopic: getenv("KAFKA_PURCHASE_TOPIC", "purchase.completed"),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
	}

	return cfg
}

func normalizeSignatureMode(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == SignatureModeLenient {
		return SignatureModeLenient
	}
	// anything unrecognised falls back to strict
	return SignatureModeStrict
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
