package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API.
	Registry = prometheus.NewRegistry()

	// HTTPRequests counts requests by method, path, and status.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds.
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// SyncOps counts consistency batch operations by kind.
	SyncOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sync_ops_total", Help: "Consistency batch operations by kind."},
		[]string{"op"},
	)
	// LedgerSynthesized counts ledger entries synthesized during arrive.
	LedgerSynthesized = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "ledger_entries_synthesized_total", Help: "Ledger entries synthesized from parcel fees."},
	)
	// GeofenceDenials counts blocked completion attempts by reason.
	GeofenceDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "geofence_denials_total", Help: "Blocked completion attempts by reason."},
		[]string{"reason"},
	)
	// GeocodeHits counts address resolutions by tier.
	GeocodeHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "geocode_resolutions_total", Help: "Address resolutions by source tier."},
		[]string{"source"},
	)
	// RealtimeEvents counts change events published to courier channels.
	RealtimeEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "realtime_events_total", Help: "Parcel change events published, by op."},
		[]string{"op"},
	)
	// WebhookDeliveries counts webhook delivery outcomes by status.
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by status."},
		[]string{"status"},
	)
)

// RegisterDefault registers collectors to the registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(SyncOps)
		Registry.MustRegister(LedgerSynthesized)
		Registry.MustRegister(GeofenceDenials)
		Registry.MustRegister(GeocodeHits)
		Registry.MustRegister(RealtimeEvents)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
