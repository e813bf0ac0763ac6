package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support human-readable YAML values
// like "30s", "10m", "24h".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config is the root configuration for the bridge server.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Database       DatabaseConfig       `yaml:"database"`
	Stellar        StellarConfig        `yaml:"stellar"`
	Providers      ProvidersConfig      `yaml:"providers"`
	Onramp         OnrampConfig         `yaml:"onramp"`
	Offramp        OfframpConfig        `yaml:"offramp"`
	Quotes         QuotesConfig         `yaml:"quotes"`
	Notifications  NotificationsConfig  `yaml:"notifications"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	URL             string   `yaml:"url"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// StellarConfig holds Horizon and hot wallet settings.
type StellarConfig struct {
	HorizonURL          string     `yaml:"horizon_url"`
	NetworkPassphrase   string     `yaml:"network_passphrase"`
	HotWalletSecret     string     `yaml:"hot_wallet_secret"`
	SystemWalletAddress string     `yaml:"system_wallet_address"`
	CngnAssetCode       string     `yaml:"cngn_asset_code"`
	CngnIssuer          string     `yaml:"cngn_issuer"`
	MaxRetries          int        `yaml:"max_retries"`
	RetryBackoff        []Duration `yaml:"retry_backoff"`
	ConfirmationPoll    Duration   `yaml:"confirmation_poll"`
	ConfirmationTimeout Duration   `yaml:"confirmation_timeout"`
	RequestTimeout      Duration   `yaml:"request_timeout"`
}

// ProviderConfig holds one payment provider's credentials and endpoint.
type ProviderConfig struct {
	BaseURL       string   `yaml:"base_url"`
	SecretKey     string   `yaml:"secret_key"`
	WebhookSecret string   `yaml:"webhook_secret"`
	Timeout       Duration `yaml:"timeout"`
}

// ProvidersConfig holds all payment provider settings plus the
// failover ordering.
type ProvidersConfig struct {
	Primary     string         `yaml:"primary"`
	Secondary   string         `yaml:"secondary"`
	Flutterwave ProviderConfig `yaml:"flutterwave"`
	Paystack    ProviderConfig `yaml:"paystack"`
}

// OnrampConfig holds the NGN→cNGN engine settings.
type OnrampConfig struct {
	PollInterval   Duration `yaml:"poll_interval"`
	BatchSize      int      `yaml:"batch_size"`
	PendingTimeout Duration `yaml:"pending_timeout"`
	// Pending transactions older than this with no webhook on record
	// are polled against the provider directly.
	WebhookGracePeriod Duration   `yaml:"webhook_grace_period"`
	RefundMaxRetries   int        `yaml:"refund_max_retries"`
	RefundBackoff      []Duration `yaml:"refund_backoff"`
}

// OfframpConfig holds the cNGN→NGN engine settings.
type OfframpConfig struct {
	PollInterval     Duration   `yaml:"poll_interval"`
	BatchSize        int        `yaml:"batch_size"`
	PaymentWindow    Duration   `yaml:"payment_window"`
	RetryDelays      []Duration `yaml:"retry_delays"`
	RetryTimeout     Duration   `yaml:"retry_timeout"`
	RefundMaxRetries int        `yaml:"refund_max_retries"`
	RefundBackoff    []Duration `yaml:"refund_backoff"`
}

// QuotesConfig holds quote service settings.
type QuotesConfig struct {
	TTL        Duration `yaml:"ttl"`
	RateSource string   `yaml:"rate_source"`
	// Fixed NGN→cNGN rate used when rate_source is "static".
	StaticRate   string `yaml:"static_rate"`
	FeePercent   string `yaml:"fee_percent"`
	FlatFee      string `yaml:"flat_fee"`
	MinAmountNGN string `yaml:"min_amount_ngn"`
	MaxAmountNGN string `yaml:"max_amount_ngn"`
}

// NotificationsConfig holds the outbound status callback settings.
type NotificationsConfig struct {
	Enabled     bool     `yaml:"enabled"`
	CallbackURL string   `yaml:"callback_url"`
	Secret      string   `yaml:"secret"`
	MaxRetries  int      `yaml:"max_retries"`
	Backoff     Duration `yaml:"backoff"`
	Timeout     Duration `yaml:"timeout"`
}

// RateLimitConfig holds HTTP rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// CircuitBreakerConfig holds circuit breaker settings for external calls.
type CircuitBreakerConfig struct {
	Enabled             bool     `yaml:"enabled"`
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"`
}

// Addr returns the host:port the HTTP server binds to.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BackoffDurations converts a []Duration slice to []time.Duration.
func BackoffDurations(ds []Duration) []time.Duration {
	out := make([]time.Duration, len(ds))
	for i, d := range ds {
		out[i] = d.Duration
	}
	return out
}
