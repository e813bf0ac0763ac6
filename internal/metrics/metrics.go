package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the bridge.
type Metrics struct {
	// Onramp engine
	OnrampPaymentsConfirmedTotal  *prometheus.CounterVec
	OnrampPaymentsFailedTotal     *prometheus.CounterVec
	OnrampTransfersSubmittedTotal prometheus.Counter
	OnrampTransfersConfirmedTotal prometheus.Counter
	OnrampRefundsInitiatedTotal   *prometheus.CounterVec

	// Offramp engine
	OfframpStageTransitionsTotal *prometheus.CounterVec
	OfframpRefundsTotal          *prometheus.CounterVec
	OfframpExpiredTotal          prometheus.Counter

	// Engine cycles
	CycleDuration *prometheus.HistogramVec
	CycleErrors   *prometheus.CounterVec

	// Webhook ingest
	WebhooksReceivedTotal  *prometheus.CounterVec
	WebhookDuplicatesTotal *prometheus.CounterVec

	// External calls
	HorizonCallsTotal    *prometheus.CounterVec
	HorizonCallDuration  *prometheus.HistogramVec
	ProviderCallsTotal   *prometheus.CounterVec
	ProviderCallDuration *prometheus.HistogramVec

	// Database
	DBQueryDuration *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		OnrampPaymentsConfirmedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_onramp_payments_confirmed_total",
				Help: "Fiat payments confirmed by webhook or provider poll",
			},
			[]string{"provider", "source"},
		),
		OnrampPaymentsFailedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_onramp_payments_failed_total",
				Help: "Onramp transactions that reached a terminal failure",
			},
			[]string{"reason"},
		),
		OnrampTransfersSubmittedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bridge_onramp_cngn_transfers_submitted_total",
				Help: "cNGN payments submitted to Stellar",
			},
		),
		OnrampTransfersConfirmedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bridge_onramp_cngn_transfers_confirmed_total",
				Help: "cNGN payments confirmed in a closed ledger",
			},
		),
		OnrampRefundsInitiatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_onramp_refunds_initiated_total",
				Help: "Fiat refunds requested from a payment provider",
			},
			[]string{"provider"},
		),

		OfframpStageTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_offramp_stage_transitions_total",
				Help: "Offramp stage outcomes per cycle",
			},
			[]string{"stage", "outcome"},
		),
		OfframpRefundsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_offramp_refunds_total",
				Help: "cNGN refund submissions by outcome",
			},
			[]string{"outcome"},
		),
		OfframpExpiredTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bridge_offramp_expired_total",
				Help: "Offramp transactions expired before cNGN arrived",
			},
		),

		CycleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bridge_engine_cycle_duration_seconds",
				Help:    "Duration of a full processor cycle",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"engine"},
		),
		CycleErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_engine_cycle_errors_total",
				Help: "Processor cycles that ended with an error",
			},
			[]string{"engine"},
		),

		WebhooksReceivedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_webhooks_received_total",
				Help: "Inbound provider webhooks by outcome",
			},
			[]string{"provider", "outcome"},
		),
		WebhookDuplicatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_webhook_duplicates_total",
				Help: "Webhooks dropped by the idempotency check",
			},
			[]string{"provider"},
		),

		HorizonCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_horizon_calls_total",
				Help: "Horizon API calls",
			},
			[]string{"method", "outcome"},
		),
		HorizonCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bridge_horizon_call_duration_seconds",
				Help:    "Duration of Horizon API calls",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method"},
		),
		ProviderCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_provider_calls_total",
				Help: "Payment provider API calls",
			},
			[]string{"provider", "operation", "outcome"},
		),
		ProviderCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bridge_provider_call_duration_seconds",
				Help:    "Duration of payment provider API calls",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"provider", "operation"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bridge_db_query_duration_seconds",
				Help:    "Duration of repository queries",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"query"},
		),
	}
}

// ObserveHorizonCall records a Horizon call's duration and outcome.
func (m *Metrics) ObserveHorizonCall(method string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.HorizonCallsTotal.WithLabelValues(method, outcome).Inc()
	m.HorizonCallDuration.WithLabelValues(method).Observe(d.Seconds())
}

// ObserveProviderCall records a provider call's duration and outcome.
func (m *Metrics) ObserveProviderCall(provider, operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.ProviderCallsTotal.WithLabelValues(provider, operation, outcome).Inc()
	m.ProviderCallDuration.WithLabelValues(provider, operation).Observe(d.Seconds())
}

// ObserveCycle records an engine cycle.
func (m *Metrics) ObserveCycle(engine string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.CycleDuration.WithLabelValues(engine).Observe(d.Seconds())
	if err != nil {
		m.CycleErrors.WithLabelValues(engine).Inc()
	}
}
