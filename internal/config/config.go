package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration in layers: built-in defaults, then an
// optional YAML file, then BRIDGE_-prefixed environment variables.
// Later layers win.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := parseFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     Duration{15 * time.Second},
			WriteTimeout:    Duration{30 * time.Second},
			ShutdownTimeout: Duration{30 * time.Second},
			AllowedOrigins:  []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: false,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration{5 * time.Minute},
		},
		Stellar: StellarConfig{
			HorizonURL:        "https://horizon-testnet.stellar.org",
			NetworkPassphrase: "Test SDF Network ; September 2015",
			CngnAssetCode:     "cNGN",
			MaxRetries:        3,
			RetryBackoff: []Duration{
				{2 * time.Second}, {4 * time.Second}, {8 * time.Second},
			},
			ConfirmationPoll:    Duration{10 * time.Second},
			ConfirmationTimeout: Duration{5 * time.Minute},
			RequestTimeout:      Duration{30 * time.Second},
		},
		Providers: ProvidersConfig{
			Primary:   "flutterwave",
			Secondary: "paystack",
			Flutterwave: ProviderConfig{
				BaseURL: "https://api.flutterwave.com/v3",
				Timeout: Duration{30 * time.Second},
			},
			Paystack: ProviderConfig{
				BaseURL: "https://api.paystack.co",
				Timeout: Duration{30 * time.Second},
			},
		},
		Onramp: OnrampConfig{
			PollInterval:       Duration{30 * time.Second},
			BatchSize:          50,
			PendingTimeout:     Duration{30 * time.Minute},
			WebhookGracePeriod: Duration{2 * time.Minute},
			RefundMaxRetries:   3,
			RefundBackoff: []Duration{
				{30 * time.Second}, {60 * time.Second}, {120 * time.Second},
			},
		},
		Offramp: OfframpConfig{
			PollInterval:  Duration{10 * time.Second},
			BatchSize:     50,
			PaymentWindow: Duration{30 * time.Minute},
			RetryDelays: []Duration{
				{30 * time.Second}, {2 * time.Minute}, {10 * time.Minute},
			},
			RetryTimeout:     Duration{24 * time.Hour},
			RefundMaxRetries: 3,
			RefundBackoff: []Duration{
				{30 * time.Second}, {60 * time.Second}, {120 * time.Second},
			},
		},
		Quotes: QuotesConfig{
			TTL:          Duration{3 * time.Minute},
			RateSource:   "static",
			StaticRate:   "1",
			FeePercent:   "0.5",
			FlatFee:      "100",
			MinAmountNGN: "1000",
			MaxAmountNGN: "5000000",
		},
		Notifications: NotificationsConfig{
			Enabled:    false,
			MaxRetries: 3,
			Backoff:    Duration{5 * time.Second},
			Timeout:    Duration{10 * time.Second},
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 120,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:             true,
			MaxRequests:         3,
			Interval:            Duration{60 * time.Second},
			Timeout:             Duration{30 * time.Second},
			ConsecutiveFailures: 5,
			FailureRatio:        0.5,
			MinRequests:         10,
		},
	}
}

func parseFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}
