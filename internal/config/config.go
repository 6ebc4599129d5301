package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Payment backend identifiers.
const (
	BackendBTCPay = "btcpay"
	BackendAlby   = "alby"
)

type Config struct {
	Addr     string
	LogLevel string

	RedisURL     string
	DatabaseURL  string
	OTLPEndpoint string
	AWSRegion    string

	ReplicateAPIToken string
	ReplicateBaseURL  string
	BedrockEnabled    bool
	DefaultModel      string

	ModerationEnabled   bool
	ModerationThreshold float64

	PaymentRequired bool
	PaymentBackend  string
	BTCPayServerURL string
	BTCPayAPIKey    string
	BTCPayStoreID   string
	AlbyAPIToken    string
	AlbyHubURL      string

	InvoiceMarkupPercent float64
	PriceOverrides       map[string]int64

	RateLimitRPM      int
	AdminPasswordHash string
	SNSTopicArn       string
	SecretsPrefix     string

	ProviderTimeout time.Duration
	GatewayTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// Load reads the configuration from the environment. Validation that
// depends on secret hydration happens later in Validate.
func Load() (*Config, error) {
	threshold, err := getFloatEnv("MODERATION_THRESHOLD", 0.5)
	if err != nil {
		return nil, err
	}
	// A threshold outside [0,1] is a deployment mistake; clamp here so
	// the scorer never sees it.
	if threshold < 0 {
		threshold = 0
	}
	if threshold > 1 {
		threshold = 1
	}

	markup, err := getFloatEnv("INVOICE_MARKUP_PERCENT", 25)
	if err != nil {
		return nil, err
	}

	rpm, err := getIntEnv("RATE_LIMIT_RPM", 60)
	if err != nil {
		return nil, err
	}

	overrides, err := loadPriceOverrides()
	if err != nil {
		return nil, err
	}

	providerTimeout, err := getDurationEnv("PROVIDER_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, err
	}
	gatewayTimeout, err := getDurationEnv("GATEWAY_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Addr:                 getEnv("ADDR", ":8080"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		RedisURL:             getEnv("REDIS_URL", ""),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		OTLPEndpoint:         getEnv("OTLP_ENDPOINT", ""),
		AWSRegion:            getEnv("AWS_REGION", ""),
		ReplicateAPIToken:    getEnv("REPLICATE_API_TOKEN", ""),
		ReplicateBaseURL:     getEnv("REPLICATE_BASE_URL", ""),
		BedrockEnabled:       getEnv("BEDROCK_ENABLED", "false") == "true",
		DefaultModel:         getEnv("DEFAULT_MODEL", "stable-diffusion"),
		ModerationEnabled:    getEnv("MODERATION_ENABLED", "true") == "true",
		ModerationThreshold:  threshold,
		PaymentRequired:      getEnv("PAYMENT_REQUIRED", "false") == "true",
		PaymentBackend:       getEnv("PAYMENT_BACKEND", BackendBTCPay),
		BTCPayServerURL:      getEnv("BTCPAY_SERVER_URL", ""),
		BTCPayAPIKey:         getEnv("BTCPAY_API_KEY", ""),
		BTCPayStoreID:        getEnv("BTCPAY_STORE_ID", ""),
		AlbyAPIToken:         getEnv("ALBY_API_TOKEN", ""),
		AlbyHubURL:           getEnv("ALBY_HUB_URL", ""),
		InvoiceMarkupPercent: markup,
		PriceOverrides:       overrides,
		RateLimitRPM:         rpm,
		AdminPasswordHash:    getEnv("ADMIN_PASSWORD_HASH", ""),
		SNSTopicArn:          getEnv("SNS_TOPIC_ARN", ""),
		SecretsPrefix:        getEnv("SECRETS_PREFIX", ""),
		ProviderTimeout:      providerTimeout,
		GatewayTimeout:       gatewayTimeout,
		ShutdownTimeout:      shutdownTimeout,
	}

	return cfg, nil
}

// Validate checks the invariants that must hold before the server
// accepts requests. Called after secret hydration so credentials pulled
// from a secret store count.
func (c *Config) Validate() error {
	if c.ReplicateAPIToken == "" && !c.BedrockEnabled {
		return fmt.Errorf("no image provider configured: set REPLICATE_API_TOKEN or BEDROCK_ENABLED")
	}
	if c.BedrockEnabled && c.AWSRegion == "" {
		return fmt.Errorf("BEDROCK_ENABLED requires AWS_REGION")
	}
	if c.InvoiceMarkupPercent < 0 {
		return fmt.Errorf("INVOICE_MARKUP_PERCENT must not be negative")
	}
	if c.PaymentRequired {
		switch c.PaymentBackend {
		case BackendBTCPay:
			if c.BTCPayServerURL == "" || c.BTCPayAPIKey == "" || c.BTCPayStoreID == "" {
				return fmt.Errorf("payment gating requires BTCPAY_SERVER_URL, BTCPAY_API_KEY and BTCPAY_STORE_ID")
			}
		case BackendAlby:
			if c.AlbyAPIToken == "" {
				return fmt.Errorf("payment gating requires ALBY_API_TOKEN")
			}
		default:
			return fmt.Errorf("unknown payment backend %q", c.PaymentBackend)
		}
	}
	return nil
}

// loadPriceOverrides collects PRICE_<MODEL> variables into a map keyed
// by model name; PRICE_STABLE_DIFFUSION overrides "stable-diffusion".
func loadPriceOverrides() (map[string]int64, error) {
	overrides := make(map[string]int64)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, "PRICE_") {
			continue
		}
		model := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(key, "PRICE_"), "_", "-"))
		sats, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid price override %s=%s: %w", key, value, err)
		}
		overrides[model] = sats
	}
	if len(overrides) == 0 {
		return nil, nil
	}
	return overrides, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%s: %w", key, value, err)
	}
	return f, nil
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%s: %w", key, value, err)
	}
	return n, nil
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	seconds, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%s: %w", key, value, err)
	}
	return time.Duration(seconds) * time.Second, nil
}
