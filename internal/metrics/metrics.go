package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "points_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	// LedgerEntriesTotal counts appended ledger rows by transaction type.
	LedgerEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "points_ledger_entries_total",
			Help: "Total ledger entries appended",
		},
		[]string{"type"},
	)

	RedemptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "points_redemptions_total",
			Help: "Redemption saga outcomes",
		},
		[]string{"product", "outcome"}, // completed|failed|rejected|reconcile
	)

	PurchasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "points_purchases_total",
			Help: "Point purchase verification outcomes",
		},
		[]string{"outcome"},
	)

	GatewayLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "points_gateway_request_seconds",
			Help:    "Latency of external value gateway calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

var Handler = promhttp.Handler

var once sync.Once

// Init registers collectors with the default registry. Safe to call more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(RequestsTotal)
		prometheus.MustRegister(LedgerEntriesTotal)
		prometheus.MustRegister(RedemptionsTotal)
		prometheus.MustRegister(PurchasesTotal)
		prometheus.MustRegister(GatewayLatency)
	})
}
