package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Validate checks the configuration for missing required values and
// internal inconsistencies. It returns all problems at once so an
// operator can fix a broken deployment in one pass.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}

	if c.Database.URL == "" {
		problems = append(problems, "database.url is required")
	}

	if c.Stellar.HotWalletSecret == "" {
		problems = append(problems, "stellar.hot_wallet_secret is required")
	}
	if c.Stellar.SystemWalletAddress == "" {
		problems = append(problems, "stellar.system_wallet_address is required")
	}
	if c.Stellar.CngnIssuer == "" {
		problems = append(problems, "stellar.cngn_issuer is required")
	}
	if c.Stellar.MaxRetries < 0 {
		problems = append(problems, "stellar.max_retries must not be negative")
	}
	if c.Stellar.ConfirmationPoll.Duration <= 0 {
		problems = append(problems, "stellar.confirmation_poll must be positive")
	}
	if c.Stellar.ConfirmationTimeout.Duration <= c.Stellar.ConfirmationPoll.Duration {
		problems = append(problems, "stellar.confirmation_timeout must exceed confirmation_poll")
	}

	for _, name := range []string{c.Providers.Primary, c.Providers.Secondary} {
		switch name {
		case "flutterwave", "paystack":
		default:
			problems = append(problems, fmt.Sprintf("unknown provider %q in failover order", name))
		}
	}
	if c.Providers.Primary == c.Providers.Secondary {
		problems = append(problems, "providers.primary and providers.secondary must differ")
	}

	if c.Onramp.PollInterval.Duration <= 0 {
		problems = append(problems, "onramp.poll_interval must be positive")
	}
	if c.Onramp.BatchSize <= 0 {
		problems = append(problems, "onramp.batch_size must be positive")
	}
	if c.Onramp.PendingTimeout.Duration <= 0 {
		problems = append(problems, "onramp.pending_timeout must be positive")
	}

	if c.Offramp.PollInterval.Duration <= 0 {
		problems = append(problems, "offramp.poll_interval must be positive")
	}
	if c.Offramp.BatchSize <= 0 {
		problems = append(problems, "offramp.batch_size must be positive")
	}
	if len(c.Offramp.RetryDelays) == 0 {
		problems = append(problems, "offramp.retry_delays must not be empty")
	}
	if c.Offramp.RetryTimeout.Duration <= 0 {
		problems = append(problems, "offramp.retry_timeout must be positive")
	}

	if c.Quotes.TTL.Duration <= 0 {
		problems = append(problems, "quotes.ttl must be positive")
	}
	for _, field := range []struct{ name, value string }{
		{"quotes.static_rate", c.Quotes.StaticRate},
		{"quotes.fee_percent", c.Quotes.FeePercent},
		{"quotes.flat_fee", c.Quotes.FlatFee},
		{"quotes.min_amount_ngn", c.Quotes.MinAmountNGN},
		{"quotes.max_amount_ngn", c.Quotes.MaxAmountNGN},
	} {
		if _, err := decimal.NewFromString(field.value); err != nil {
			problems = append(problems, fmt.Sprintf("%s: invalid decimal %q", field.name, field.value))
		}
	}

	if c.Notifications.Enabled && c.Notifications.CallbackURL == "" {
		problems = append(problems, "notifications.callback_url is required when notifications are enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
