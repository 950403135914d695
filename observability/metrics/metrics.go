// Package metrics registers the Prometheus instruments exported by the
// lending service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequests counts gateway requests by route, method and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lendflow",
		Subsystem: "gateway",
		Name:      "http_requests_total",
		Help:      "Gateway requests by route, method and status.",
	}, []string{"route", "method", "status"})

	// HTTPDuration observes request latency per route.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lendflow",
		Subsystem: "gateway",
		Name:      "http_request_duration_seconds",
		Help:      "Gateway request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	// LoansOpened counts committed originations per borrow asset.
	LoansOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lendflow",
		Subsystem: "lending",
		Name:      "loans_opened_total",
		Help:      "Loan originations committed, by borrow asset.",
	}, []string{"asset"})

	// LoansClosed counts terminal loan transitions by close reason.
	LoansClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lendflow",
		Subsystem: "lending",
		Name:      "loans_closed_total",
		Help:      "Loans closed, by reason (repaid, liquidated).",
	}, []string{"reason"})

	// PoolUtilisation publishes the current utilisation ratio per pool.
	PoolUtilisation = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lendflow",
		Subsystem: "lending",
		Name:      "pool_utilisation_ratio",
		Help:      "Borrowed over supplied liquidity per pool.",
	}, []string{"asset"})

	// SubmitFailures counts chain submissions that did not yield a hash.
	SubmitFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lendflow",
		Subsystem: "chain",
		Name:      "submit_failures_total",
		Help:      "Chain submissions that failed, by kind (timeout, rejected).",
	}, []string{"kind"})
)

// Handler serves the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
