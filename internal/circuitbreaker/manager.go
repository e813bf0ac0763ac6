package circuitbreaker

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ServiceType identifies different external services for circuit breaker isolation.
type ServiceType string

const (
	ServiceHorizon      ServiceType = "horizon"
	ServiceFlutterwave  ServiceType = "flutterwave"
	ServicePaystack     ServiceType = "paystack"
	ServiceNotification ServiceType = "notification"
)

// Manager manages circuit breakers for the bridge's external services.
// Each service has its own breaker so a degraded payment provider never
// blocks Horizon traffic and vice versa.
type Manager struct {
	breakers map[ServiceType]*gobreaker.CircuitBreaker
	enabled  bool
}

// BreakerConfig configures a single circuit breaker.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval is the cyclic period in closed state to clear counts.
	Interval time.Duration
	// Timeout is the open-state period before moving to half-open.
	Timeout time.Duration
	// Trip thresholds: consecutive failures, or failure ratio over a
	// minimum request count.
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// Config holds per-service breaker configuration.
type Config struct {
	Enabled      bool
	Horizon      BreakerConfig
	Flutterwave  BreakerConfig
	Paystack     BreakerConfig
	Notification BreakerConfig
}

// NewManager creates a circuit breaker manager with the given configuration.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		breakers: make(map[ServiceType]*gobreaker.CircuitBreaker),
		enabled:  cfg.Enabled,
	}

	if !cfg.Enabled {
		return m
	}

	m.breakers[ServiceHorizon] = gobreaker.NewCircuitBreaker(toSettings(string(ServiceHorizon), cfg.Horizon))
	m.breakers[ServiceFlutterwave] = gobreaker.NewCircuitBreaker(toSettings(string(ServiceFlutterwave), cfg.Flutterwave))
	m.breakers[ServicePaystack] = gobreaker.NewCircuitBreaker(toSettings(string(ServicePaystack), cfg.Paystack))
	m.breakers[ServiceNotification] = gobreaker.NewCircuitBreaker(toSettings(string(ServiceNotification), cfg.Notification))

	return m
}

// Execute wraps a call with circuit breaker protection. Disabled or
// unconfigured services pass through.
func (m *Manager) Execute(service ServiceType, fn func() (interface{}, error)) (interface{}, error) {
	if !m.enabled {
		return fn()
	}

	breaker, ok := m.breakers[service]
	if !ok {
		return fn()
	}

	return breaker.Execute(fn)
}

// State returns the current state of a circuit breaker.
func (m *Manager) State(service ServiceType) string {
	if !m.enabled {
		return "disabled"
	}
	breaker, ok := m.breakers[service]
	if !ok {
		return "not_configured"
	}
	return breaker.State().String()
}

func toSettings(name string, cfg BreakerConfig) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 && counts.Requests >= cfg.MinRequests {
				failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
				if failureRate >= cfg.FailureRatio {
					return true
				}
			}
			return false
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuitbreaker.state_changed")
		},
	}
}

// DefaultConfig returns sensible defaults for all breakers.
func DefaultConfig() Config {
	std := BreakerConfig{
		MaxRequests:         3,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         10,
	}
	return Config{
		Enabled:     true,
		Horizon:     std,
		Flutterwave: std,
		Paystack:    std,
		Notification: BreakerConfig{
			MaxRequests:         5,
			Interval:            60 * time.Second,
			Timeout:             60 * time.Second,
			ConsecutiveFailures: 10,
			FailureRatio:        0.7,
			MinRequests:         20,
		},
	}
}
