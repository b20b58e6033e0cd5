// Package metrics exposes the Prometheus instrumentation for the
// network: business counters, invariant enforcement counters, system
// health gauges and latency histograms.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector on a private registry so tests can
// instantiate isolated copies.
type Metrics struct {
	registry *prometheus.Registry

	InvoicesCreated  prometheus.Counter
	InvoicesAccepted prometheus.Counter
	InvoicesRejected *prometheus.CounterVec

	SettlementsCompleted prometheus.Counter
	SettlementsFailed    *prometheus.CounterVec
	SettlementDuration   prometheus.Histogram

	InvoiceAmount prometheus.Histogram
	TotalVolume   prometheus.Gauge

	InvariantChecks     *prometheus.CounterVec
	InvariantViolations *prometheus.CounterVec
	Rollbacks           *prometheus.CounterVec

	SystemHealth          prometheus.Gauge
	LedgerBalanceVariance prometheus.Gauge
	LedgerIntegrity       prometheus.Gauge

	RailHealth  *prometheus.GaugeVec
	RailLatency *prometheus.HistogramVec

	CapitalCompetitionRate prometheus.Gauge
	AverageDiscountRate    prometheus.Gauge
	FraudScore             prometheus.Histogram

	APIRequests       *prometheus.CounterVec
	APIRequestLatency *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,

		InvoicesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "itn_invoices_created_total",
			Help: "Total number of invoices created.",
		}),
		InvoicesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "itn_invoices_accepted_total",
			Help: "Total number of invoices accepted.",
		}),
		InvoicesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itn_invoices_rejected_total",
			Help: "Total number of invoices rejected.",
		}, []string{"reason"}),

		SettlementsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "itn_settlements_completed_total",
			Help: "Total number of settlements completed.",
		}),
		SettlementsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itn_settlements_failed_total",
			Help: "Total number of settlements failed.",
		}, []string{"reason"}),
		SettlementDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "itn_settlement_duration_seconds",
			Help:    "Settlement duration in seconds.",
			Buckets: []float64{0.5, 1, 2, 3, 4, 5, 10},
		}),

		InvoiceAmount: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "itn_invoice_amount_dollars",
			Help:    "Invoice amounts in dollars.",
			Buckets: []float64{100, 1000, 5000, 10000, 50000, 100000, 500000, 1000000, 10000000},
		}),
		TotalVolume: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "itn_total_volume_dollars",
			Help: "Total settled transaction volume in dollars.",
		}),

		InvariantChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itn_invariant_checks_total",
			Help: "Total number of invariant checks.",
		}, []string{"invariant_id", "check_type", "result"}),
		InvariantViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itn_invariant_violations_total",
			Help: "Total number of invariant violations.",
		}, []string{"invariant_id", "criticality"}),
		Rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itn_rollbacks_total",
			Help: "Total number of compensating rollbacks executed.",
		}, []string{"reason"}),

		SystemHealth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "itn_system_health_score",
			Help: "Overall system health score (0-1).",
		}),
		LedgerBalanceVariance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "itn_ledger_balance_variance_dollars",
			Help: "Settlement ledger credit/debit variance.",
		}),
		LedgerIntegrity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "itn_ledger_integrity",
			Help: "Decision ledger chain integrity (1=verified, 0=compromised).",
		}),

		RailHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "itn_settlement_rail_health",
			Help: "Settlement rail health (1=up, 0=down).",
		}, []string{"rail_name"}),
		RailLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "itn_settlement_rail_latency_seconds",
			Help:    "Settlement rail transfer latency.",
			Buckets: []float64{0.1, 0.2, 0.5, 1, 2, 5},
		}, []string{"rail_name"}),

		CapitalCompetitionRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "itn_capital_competition_rate",
			Help: "Fraction of auctions in the last 24h with 3+ active bids.",
		}),
		AverageDiscountRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "itn_average_discount_rate",
			Help: "Average discount rate across settlements.",
		}),
		FraudScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "itn_fraud_score",
			Help:    "Distribution of fraud scores.",
			Buckets: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.75, 0.8, 0.9, 1},
		}),

		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itn_api_requests_total",
			Help: "Total API requests.",
		}, []string{"endpoint", "method", "status_code"}),
		APIRequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "itn_api_request_duration_seconds",
			Help:    "API request duration.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"endpoint", "method"}),
	}

	reg.MustRegister(
		m.InvoicesCreated, m.InvoicesAccepted, m.InvoicesRejected,
		m.SettlementsCompleted, m.SettlementsFailed, m.SettlementDuration,
		m.InvoiceAmount, m.TotalVolume,
		m.InvariantChecks, m.InvariantViolations, m.Rollbacks,
		m.SystemHealth, m.LedgerBalanceVariance, m.LedgerIntegrity,
		m.RailHealth, m.RailLatency,
		m.CapitalCompetitionRate, m.AverageDiscountRate, m.FraudScore,
		m.APIRequests, m.APIRequestLatency,
	)
	return m
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
