package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/nairabridge/server/internal/circuitbreaker"
	"github.com/nairabridge/server/internal/config"
	"github.com/nairabridge/server/internal/dbpool"
	"github.com/nairabridge/server/internal/httpserver"
	"github.com/nairabridge/server/internal/httputil"
	"github.com/nairabridge/server/internal/lifecycle"
	"github.com/nairabridge/server/internal/logger"
	"github.com/nairabridge/server/internal/metrics"
	"github.com/nairabridge/server/internal/notification"
	"github.com/nairabridge/server/internal/offramp"
	"github.com/nairabridge/server/internal/onramp"
	"github.com/nairabridge/server/internal/providers"
	"github.com/nairabridge/server/internal/quotes"
	"github.com/nairabridge/server/internal/retry"
	"github.com/nairabridge/server/internal/stellar"
	"github.com/nairabridge/server/internal/storage"
	"github.com/nairabridge/server/internal/webhooks"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("BRIDGE_CONFIG"), "path to config file")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		stderr := zerolog.New(os.Stderr).With().Timestamp().Logger()
		stderr.Fatal().Err(err).Msg("config load failed")
	}

	log := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      logFormat(cfg.Logging.Pretty),
		Service:     "ngn-cngn-bridge",
		Version:     version,
		Environment: os.Getenv("BRIDGE_ENV"),
	})

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited with error")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	resources := lifecycle.NewManager()
	defer func() {
		if err := resources.Close(); err != nil {
			log.Error().Err(err).Msg("resource cleanup failed")
		}
	}()

	m := metrics.New(prometheus.DefaultRegisterer)
	breakers := circuitbreaker.NewManager(breakerConfig(cfg.CircuitBreaker))

	pool, err := dbpool.NewSharedPool(cfg.Database.URL, dbpool.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime.Duration,
	})
	if err != nil {
		return err
	}
	resources.Register("database", pool)

	txStore, err := storageStores(pool, m)
	if err != nil {
		return err
	}

	gateway := stellar.NewHorizonGateway(cfg.Stellar.HorizonURL,
		httputil.NewClient(cfg.Stellar.RequestTimeout.Duration), breakers, m)
	payments, err := stellar.NewPaymentService(gateway,
		cfg.Stellar.HotWalletSecret, cfg.Stellar.NetworkPassphrase,
		stellar.Asset{Code: cfg.Stellar.CngnAssetCode, Issuer: cfg.Stellar.CngnIssuer}, log)
	if err != nil {
		return err
	}

	flutterwave := providers.NewFlutterwave(cfg.Providers.Flutterwave,
		httputil.NewClient(cfg.Providers.Flutterwave.Timeout.Duration), breakers, m)
	paystack := providers.NewPaystack(cfg.Providers.Paystack,
		httputil.NewClient(cfg.Providers.Paystack.Timeout.Duration), breakers, m)
	registry, err := providers.NewRegistry(cfg.Providers.Primary, cfg.Providers.Secondary,
		flutterwave, paystack)
	if err != nil {
		return err
	}

	var notifier notification.Notifier = notification.Noop{}
	if cfg.Notifications.Enabled {
		notifier = notification.NewHTTPNotifier(notification.Config{
			CallbackURL: cfg.Notifications.CallbackURL,
			Secret:      cfg.Notifications.Secret,
			MaxRetries:  cfg.Notifications.MaxRetries,
			Backoff:     cfg.Notifications.Backoff.Duration,
		}, httputil.NewClient(cfg.Notifications.Timeout.Duration), breakers, log)
	}

	onrampEngine := onramp.New(txStore.transactions, payments, registry, notifier, m, onramp.Config{
		PollInterval:       cfg.Onramp.PollInterval.Duration,
		BatchSize:          cfg.Onramp.BatchSize,
		PendingTimeout:     cfg.Onramp.PendingTimeout.Duration,
		WebhookGracePeriod: cfg.Onramp.WebhookGracePeriod.Duration,
		StellarRetry: retry.Policy{
			MaxAttempts: cfg.Stellar.MaxRetries,
			Backoff:     config.BackoffDurations(cfg.Stellar.RetryBackoff),
		},
		RefundRetry: retry.Policy{
			MaxAttempts: cfg.Onramp.RefundMaxRetries,
			Backoff:     config.BackoffDurations(cfg.Onramp.RefundBackoff),
		},
		ConfirmationPoll:    cfg.Stellar.ConfirmationPoll.Duration,
		ConfirmationTimeout: cfg.Stellar.ConfirmationTimeout.Duration,
	}, log)

	offrampEngine := offramp.New(txStore.transactions, payments, registry, notifier, m, offramp.Config{
		PollInterval:  cfg.Offramp.PollInterval.Duration,
		BatchSize:     cfg.Offramp.BatchSize,
		PaymentWindow: cfg.Offramp.PaymentWindow.Duration,
		SystemWallet:  cfg.Stellar.SystemWalletAddress,
		RetryDelays:   config.BackoffDurations(cfg.Offramp.RetryDelays),
		RetryTimeout:  cfg.Offramp.RetryTimeout.Duration,
		RefundRetry: retry.Policy{
			MaxAttempts: cfg.Offramp.RefundMaxRetries,
			Backoff:     config.BackoffDurations(cfg.Offramp.RefundBackoff),
		},
	}, log)

	quoteSvc, err := quotes.NewService(txStore.quotes, txStore.transactions, cfg.Quotes, log)
	if err != nil {
		return err
	}

	ingestor := webhooks.NewIngestor(registry, txStore.transactions, txStore.webhooks,
		onrampEngine, m, log)

	onrampEngine.Start()
	resources.Register("onramp", onrampEngine)
	offrampEngine.Start()
	resources.Register("offramp", offrampEngine)

	log.Info().
		Str("hot_wallet", logger.TruncateAddress(payments.HotWalletAddress())).
		Strs("providers", registry.Names()).
		Msg("engines started")

	server := httpserver.New(cfg, quoteSvc, txStore.transactions, offrampEngine, ingestor, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr()).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		cfg.Server.ShutdownTimeout.Duration)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}

	return nil
}

// stores bundles the three repositories backed by the shared pool.
type stores struct {
	transactions storage.TransactionStore
	webhooks     storage.WebhookStore
	quotes       storage.QuoteStore
}

func storageStores(pool *dbpool.SharedPool, m *metrics.Metrics) (*stores, error) {
	transactions, err := storage.NewPostgresTransactionStore(pool.DB(), m)
	if err != nil {
		return nil, err
	}
	webhookStore, err := storage.NewPostgresWebhookStore(pool.DB(), m)
	if err != nil {
		return nil, err
	}
	quoteStore, err := storage.NewPostgresQuoteStore(pool.DB(), m)
	if err != nil {
		return nil, err
	}
	return &stores{
		transactions: transactions,
		webhooks:     webhookStore,
		quotes:       quoteStore,
	}, nil
}

func logFormat(pretty bool) string {
	if pretty {
		return "console"
	}
	return "json"
}

func breakerConfig(cfg config.CircuitBreakerConfig) circuitbreaker.Config {
	out := circuitbreaker.DefaultConfig()
	out.Enabled = cfg.Enabled
	if cfg.MaxRequests == 0 && cfg.ConsecutiveFailures == 0 {
		return out
	}
	std := circuitbreaker.BreakerConfig{
		MaxRequests:         cfg.MaxRequests,
		Interval:            cfg.Interval.Duration,
		Timeout:             cfg.Timeout.Duration,
		ConsecutiveFailures: cfg.ConsecutiveFailures,
		FailureRatio:        cfg.FailureRatio,
		MinRequests:         cfg.MinRequests,
	}
	out.Horizon = std
	out.Flutterwave = std
	out.Paystack = std
	out.Notification = std
	return out
}
