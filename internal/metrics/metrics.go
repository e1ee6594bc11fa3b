// Package metrics exposes the relay's Prometheus collectors, grounded
// on the Registry-struct style of ws/internal/single/monitoring and
// go-server-3/internal/metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps every collector the relay reports.
type Registry struct {
	ConnectionsActive  prometheus.Gauge
	ConnectionsTotal   prometheus.Counter
	ConnectionsFailed  prometheus.Counter

	UpstreamReconnects prometheus.Counter
	UpstreamErrors     *prometheus.CounterVec

	BroadcastsSent    *prometheus.CounterVec
	BroadcastsDropped *prometheus.CounterVec
	RateLimitRejects  prometheus.Counter

	CacheHitRate  prometheus.Gauge
	CacheL1Hits   prometheus.Counter
	CacheL2Hits   prometheus.Counter
	CacheMisses   prometheus.Counter
	CacheFailover prometheus.Gauge
}

// NewRegistry builds and registers the relay's Prometheus collectors.
func NewRegistry() *Registry {
	return &Registry{
		ConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "f1_relay_connections_active",
			Help: "Number of active push-socket connections",
		}),
		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "f1_relay_connections_total",
			Help: "Total push-socket connections accepted",
		}),
		ConnectionsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "f1_relay_connections_failed_total",
			Help: "Total push-socket connections rejected at admission",
		}),
		UpstreamReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "f1_relay_upstream_reconnects_total",
			Help: "Total upstream reconnect attempts",
		}),
		UpstreamErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "f1_relay_upstream_errors_total",
			Help: "Upstream errors by kind",
		}, []string{"kind"}),
		BroadcastsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "f1_relay_broadcasts_sent_total",
			Help: "Broadcast messages sent by feed",
		}, []string{"feed"}),
		BroadcastsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "f1_relay_broadcasts_dropped_total",
			Help: "Broadcast messages dropped (slow client, throttle) by feed",
		}, []string{"feed"}),
		RateLimitRejects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "f1_relay_rate_limit_rejections_total",
			Help: "Inbound messages rejected by the per-connection rate limiter",
		}),
		CacheHitRate: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "f1_relay_cache_hit_rate",
			Help: "CacheTier hit rate, (L1+L2 hits)/total ops",
		}),
		CacheL1Hits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "f1_relay_cache_l1_hits_total",
			Help: "CacheTier L1 hits",
		}),
		CacheL2Hits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "f1_relay_cache_l2_hits_total",
			Help: "CacheTier L2 hits",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "f1_relay_cache_misses_total",
			Help: "CacheTier total misses",
		}),
		CacheFailover: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "f1_relay_cache_failover",
			Help: "1 when CacheTier L2 is in failover (memory-only) mode",
		}),
	}
}

// Handler exposes the registry over HTTP.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
