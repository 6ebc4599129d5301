package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fulmine-labs/spark-gateway/internal/api"
	"github.com/fulmine-labs/spark-gateway/internal/cache"
	"github.com/fulmine-labs/spark-gateway/internal/config"
	"github.com/fulmine-labs/spark-gateway/internal/httputil"
	"github.com/fulmine-labs/spark-gateway/internal/moderation"
	"github.com/fulmine-labs/spark-gateway/internal/notifications"
	"github.com/fulmine-labs/spark-gateway/internal/orchestrator"
	"github.com/fulmine-labs/spark-gateway/internal/payment"
	"github.com/fulmine-labs/spark-gateway/internal/payment/alby"
	"github.com/fulmine-labs/spark-gateway/internal/payment/btcpay"
	"github.com/fulmine-labs/spark-gateway/internal/pricing"
	"github.com/fulmine-labs/spark-gateway/internal/provider/bedrock"
	"github.com/fulmine-labs/spark-gateway/internal/provider/replicate"
	"github.com/fulmine-labs/spark-gateway/internal/ratelimit"
	"github.com/fulmine-labs/spark-gateway/internal/repository"
	"github.com/fulmine-labs/spark-gateway/internal/router"
	"github.com/fulmine-labs/spark-gateway/internal/secrets"
	"github.com/fulmine-labs/spark-gateway/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting spark-gateway", "addr", cfg.Addr, "version", "1.0.0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, "spark-gateway", cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}

	if cfg.SecretsPrefix != "" {
		if err := hydrateSecrets(ctx, cfg); err != nil {
			slog.Error("failed to load secrets", "error", err)
			os.Exit(1)
		}
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	models, err := pricing.NewTable(cfg.PriceOverrides, cfg.InvoiceMarkupPercent)
	if err != nil {
		slog.Error("failed to build model table", "error", err)
		os.Exit(1)
	}

	providers := make(map[string]router.ImageProvider)

	if cfg.ReplicateAPIToken != "" {
		providers[pricing.ProviderReplicate] = replicate.New(cfg.ReplicateAPIToken, cfg.ReplicateBaseURL)
		slog.Info("registered provider", "provider", pricing.ProviderReplicate)
	}

	if cfg.BedrockEnabled {
		p, err := bedrock.New(ctx, cfg.AWSRegion)
		if err != nil {
			slog.Error("failed to initialize bedrock provider", "error", err)
			os.Exit(1)
		}
		providers[pricing.ProviderBedrock] = p
		slog.Info("registered provider", "provider", pricing.ProviderBedrock, "region", cfg.AWSRegion)
	}

	providerRouter := router.New(providers, models)

	var gateway payment.Gateway
	if cfg.PaymentRequired || backendConfigured(cfg) {
		gateway = buildPaymentGateway(cfg)
	}

	var rateLimiter ratelimit.RateLimiter
	if cfg.RedisURL != "" {
		rateLimiter, err = ratelimit.NewRedisRateLimiter(cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		slog.Info("using redis rate limiter")
	} else {
		rateLimiter = ratelimit.NewInMemoryRateLimiter()
		slog.Info("using in-memory rate limiter")
	}

	var outcomes repository.OutcomeRecorder
	if cfg.DatabaseURL != "" {
		pg, err := repository.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		outcomes = pg
		slog.Info("using postgres outcome log")
	} else {
		outcomes = repository.NewInMemoryOutcomes(1000)
		slog.Info("using in-memory outcome log")
	}

	var notifier notifications.Notifier
	if cfg.SNSTopicArn != "" {
		notifier, err = notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.SNSTopicArn)
		if err != nil {
			slog.Error("failed to initialize SNS notifier", "error", err)
			os.Exit(1)
		}
		slog.Info("using SNS notifications", "topic", cfg.SNSTopicArn)
	} else {
		notifier = notifications.NewLogNotifier()
	}
	health := notifications.NewHealthReporter(notifier)

	orch := orchestrator.New(
		moderation.NewScorer(moderation.DefaultRuleset()),
		providerRouter,
		models,
		gateway,
		outcomes,
		health,
		orchestrator.Options{
			ModerationEnabled:   cfg.ModerationEnabled,
			ModerationThreshold: cfg.ModerationThreshold,
			PaymentRequired:     cfg.PaymentRequired,
			DefaultModel:        cfg.DefaultModel,
			ProviderTimeout:     cfg.ProviderTimeout,
		},
	)

	handler := api.NewHandler(orch, rateLimiter, outcomes, api.Config{
		RateLimitRPM:      cfg.RateLimitRPM,
		AdminPasswordHash: cfg.AdminPasswordHash,
		PaymentBackend:    cfg.PaymentBackend,
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.ProviderTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown failed", "error", err)
	}

	slog.Info("server stopped")
}

func backendConfigured(cfg *config.Config) bool {
	switch cfg.PaymentBackend {
	case config.BackendBTCPay:
		return cfg.BTCPayServerURL != "" && cfg.BTCPayAPIKey != "" && cfg.BTCPayStoreID != ""
	case config.BackendAlby:
		return cfg.AlbyAPIToken != ""
	}
	return false
}

// buildPaymentGateway selects the backend and wraps it with the invoice
// status cache. Redis backs the cache when available so confirmed
// invoices survive restarts; otherwise in-memory.
func buildPaymentGateway(cfg *config.Config) payment.Gateway {
	clientCfg := httputil.GatewayConfig()
	if cfg.GatewayTimeout > 0 {
		clientCfg.Timeout = cfg.GatewayTimeout
	}
	client := httputil.NewClient(clientCfg)

	var inner payment.Gateway
	switch cfg.PaymentBackend {
	case config.BackendAlby:
		inner = alby.New(cfg.AlbyAPIToken, cfg.AlbyHubURL).WithHTTPClient(client)
	default:
		inner = btcpay.New(cfg.BTCPayServerURL, cfg.BTCPayAPIKey, cfg.BTCPayStoreID).WithHTTPClient(client)
	}
	slog.Info("using payment backend", "backend", inner.ID())

	var invoiceCache cache.InvoiceCache
	if cfg.RedisURL != "" {
		c, err := cache.NewRedisCache(cfg.RedisURL)
		if err != nil {
			slog.Warn("failed to connect to redis for invoice cache, using in-memory", "error", err)
			invoiceCache = cache.NewInMemoryCache()
		} else {
			invoiceCache = c
		}
	} else {
		invoiceCache = cache.NewInMemoryCache()
	}

	return payment.NewCachedGateway(inner, invoiceCache, time.Hour)
}

// hydrateSecrets fills unset credentials from AWS Secrets Manager under
// the configured prefix. Environment values win over stored secrets.
func hydrateSecrets(ctx context.Context, cfg *config.Config) error {
	store, err := secrets.NewAWSSecretsManager(ctx, cfg.AWSRegion)
	if err != nil {
		return err
	}

	load := func(target *string, name string) {
		if *target != "" {
			return
		}
		value, err := store.GetSecret(ctx, cfg.SecretsPrefix+"/"+name)
		if err != nil {
			slog.Debug("secret not found", "name", name)
			return
		}
		*target = value
	}

	load(&cfg.ReplicateAPIToken, "replicate-api-token")
	load(&cfg.BTCPayAPIKey, "btcpay-api-key")
	load(&cfg.AlbyAPIToken, "alby-api-token")
	load(&cfg.AdminPasswordHash, "admin-password-hash")
	return nil
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
