// Package metrics provides Prometheus metrics collection and exposition.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Token outcomes.
const (
	TokenCacheHit = "cache_hit"
	TokenIssued   = "issued"
	TokenFailed   = "failed"
	TokenRefused  = "refused" // installation suspended
)

// Recorder is the metrics interface used by the application services and
// the webhook handler.
type Recorder interface {
	RecordToken(outcome string)
	RecordTokenExchangeLatency(duration time.Duration)
	RecordWebhook(event, outcome string)
	RecordSecretOperation(operation, outcome string)
	RecordTenantConfigured(outcome string)
}

// Collector is the Prometheus implementation of Recorder.
type Collector struct {
	tokens           *prometheus.CounterVec
	exchangeLatency  prometheus.Histogram
	webhooks         *prometheus.CounterVec
	secretOps        *prometheus.CounterVec
	tenantConfigured *prometheus.CounterVec
}

// Compile-time interface satisfaction check.
var _ Recorder = (*Collector)(nil)

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repobridge_installation_tokens_total",
			Help: "Installation token requests by outcome.",
		}, []string{"outcome"}),
		exchangeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "repobridge_token_exchange_seconds",
			Help:    "Latency of installation token exchanges with GitHub.",
			Buckets: prometheus.DefBuckets,
		}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repobridge_webhook_deliveries_total",
			Help: "Webhook deliveries by event and outcome.",
		}, []string{"event", "outcome"}),
		secretOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repobridge_secret_operations_total",
			Help: "Secret vault operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		tenantConfigured: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repobridge_tenant_configurations_total",
			Help: "Tenant configuration attempts by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.tokens,
		c.exchangeLatency,
		c.webhooks,
		c.secretOps,
		c.tenantConfigured,
	)

	return c
}

// RecordToken counts one token request.
func (c *Collector) RecordToken(outcome string) {
	c.tokens.WithLabelValues(outcome).Inc()
}

// RecordTokenExchangeLatency observes one round trip to GitHub's token endpoint.
func (c *Collector) RecordTokenExchangeLatency(duration time.Duration) {
	c.exchangeLatency.Observe(duration.Seconds())
}

// RecordWebhook counts one webhook delivery.
func (c *Collector) RecordWebhook(event, outcome string) {
	c.webhooks.WithLabelValues(event, outcome).Inc()
}

// RecordSecretOperation counts one vault call.
func (c *Collector) RecordSecretOperation(operation, outcome string) {
	c.secretOps.WithLabelValues(operation, outcome).Inc()
}

// RecordTenantConfigured counts one configure attempt.
func (c *Collector) RecordTenantConfigured(outcome string) {
	c.tenantConfigured.WithLabelValues(outcome).Inc()
}

// Nop discards everything. Used where no registry is wired, mostly tests.
type Nop struct{}

func (Nop) RecordToken(string) {}
func (Nop) RecordTokenExchangeLatency(time.Duration) {}
func (Nop) RecordWebhook(string, string) {}
func (Nop) RecordSecretOperation(string, string) {}
func (Nop) RecordTenantConfigured(string) {}

// Handler returns the HTTP handler for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
