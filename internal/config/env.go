package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnv overlays BRIDGE_-prefixed environment variables on top of
// the loaded configuration. Only variables that are set override.
func applyEnv(cfg *Config) {
	setIfEnv(&cfg.Server.Host, "BRIDGE_SERVER_HOST")
	setIntIfEnv(&cfg.Server.Port, "BRIDGE_SERVER_PORT")
	setDurationIfEnv(&cfg.Server.ShutdownTimeout, "BRIDGE_SERVER_SHUTDOWN_TIMEOUT")
	setListIfEnv(&cfg.Server.AllowedOrigins, "BRIDGE_SERVER_ALLOWED_ORIGINS")

	setIfEnv(&cfg.Logging.Level, "BRIDGE_LOG_LEVEL")
	setBoolIfEnv(&cfg.Logging.Pretty, "BRIDGE_LOG_PRETTY")

	setIfEnv(&cfg.Database.URL, "BRIDGE_DATABASE_URL")
	setIntIfEnv(&cfg.Database.MaxOpenConns, "BRIDGE_DATABASE_MAX_OPEN_CONNS")
	setIntIfEnv(&cfg.Database.MaxIdleConns, "BRIDGE_DATABASE_MAX_IDLE_CONNS")

	setIfEnv(&cfg.Stellar.HorizonURL, "BRIDGE_STELLAR_HORIZON_URL")
	setIfEnv(&cfg.Stellar.NetworkPassphrase, "BRIDGE_STELLAR_NETWORK_PASSPHRASE")
	setIfEnv(&cfg.Stellar.HotWalletSecret, "BRIDGE_STELLAR_HOT_WALLET_SECRET")
	setIfEnv(&cfg.Stellar.SystemWalletAddress, "BRIDGE_STELLAR_SYSTEM_WALLET_ADDRESS")
	setIfEnv(&cfg.Stellar.CngnAssetCode, "BRIDGE_STELLAR_CNGN_ASSET_CODE")
	setIfEnv(&cfg.Stellar.CngnIssuer, "BRIDGE_STELLAR_CNGN_ISSUER")
	setIntIfEnv(&cfg.Stellar.MaxRetries, "BRIDGE_STELLAR_MAX_RETRIES")
	setDurationIfEnv(&cfg.Stellar.ConfirmationPoll, "BRIDGE_STELLAR_CONFIRMATION_POLL")
	setDurationIfEnv(&cfg.Stellar.ConfirmationTimeout, "BRIDGE_STELLAR_CONFIRMATION_TIMEOUT")

	setIfEnv(&cfg.Providers.Primary, "BRIDGE_PROVIDERS_PRIMARY")
	setIfEnv(&cfg.Providers.Secondary, "BRIDGE_PROVIDERS_SECONDARY")
	setIfEnv(&cfg.Providers.Flutterwave.BaseURL, "BRIDGE_FLUTTERWAVE_BASE_URL")
	setIfEnv(&cfg.Providers.Flutterwave.SecretKey, "BRIDGE_FLUTTERWAVE_SECRET_KEY")
	setIfEnv(&cfg.Providers.Flutterwave.WebhookSecret, "BRIDGE_FLUTTERWAVE_WEBHOOK_SECRET")
	setIfEnv(&cfg.Providers.Paystack.BaseURL, "BRIDGE_PAYSTACK_BASE_URL")
	setIfEnv(&cfg.Providers.Paystack.SecretKey, "BRIDGE_PAYSTACK_SECRET_KEY")
	setIfEnv(&cfg.Providers.Paystack.WebhookSecret, "BRIDGE_PAYSTACK_WEBHOOK_SECRET")

	setDurationIfEnv(&cfg.Onramp.PollInterval, "BRIDGE_ONRAMP_POLL_INTERVAL")
	setIntIfEnv(&cfg.Onramp.BatchSize, "BRIDGE_ONRAMP_BATCH_SIZE")
	setDurationIfEnv(&cfg.Onramp.PendingTimeout, "BRIDGE_ONRAMP_PENDING_TIMEOUT")

	setDurationIfEnv(&cfg.Offramp.PollInterval, "BRIDGE_OFFRAMP_POLL_INTERVAL")
	setIntIfEnv(&cfg.Offramp.BatchSize, "BRIDGE_OFFRAMP_BATCH_SIZE")
	setDurationIfEnv(&cfg.Offramp.PaymentWindow, "BRIDGE_OFFRAMP_PAYMENT_WINDOW")
	setDurationIfEnv(&cfg.Offramp.RetryTimeout, "BRIDGE_OFFRAMP_RETRY_TIMEOUT")

	setDurationIfEnv(&cfg.Quotes.TTL, "BRIDGE_QUOTES_TTL")
	setIfEnv(&cfg.Quotes.StaticRate, "BRIDGE_QUOTES_STATIC_RATE")
	setIfEnv(&cfg.Quotes.FeePercent, "BRIDGE_QUOTES_FEE_PERCENT")
	setIfEnv(&cfg.Quotes.FlatFee, "BRIDGE_QUOTES_FLAT_FEE")

	setBoolIfEnv(&cfg.Notifications.Enabled, "BRIDGE_NOTIFICATIONS_ENABLED")
	setIfEnv(&cfg.Notifications.CallbackURL, "BRIDGE_NOTIFICATIONS_CALLBACK_URL")
	setIfEnv(&cfg.Notifications.Secret, "BRIDGE_NOTIFICATIONS_SECRET")

	setBoolIfEnv(&cfg.RateLimit.Enabled, "BRIDGE_RATE_LIMIT_ENABLED")
	setIntIfEnv(&cfg.RateLimit.RequestsPerMinute, "BRIDGE_RATE_LIMIT_RPM")

	setBoolIfEnv(&cfg.CircuitBreaker.Enabled, "BRIDGE_CIRCUIT_BREAKER_ENABLED")
}

func setIfEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setIntIfEnv(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBoolIfEnv(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDurationIfEnv(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setListIfEnv(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}
