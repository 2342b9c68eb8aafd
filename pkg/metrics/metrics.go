// Package metrics exports bridge traffic to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"designsync/pkg/message"
)

// Bridge implements bridge.Observer with Prometheus counters.
type Bridge struct {
	posted    *prometheus.CounterVec
	delivered *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	frames    prometheus.Gauge
}

// NewBridge registers the bridge collectors with reg.
func NewBridge(reg prometheus.Registerer, endpoint string) (*Bridge, error) {
	labels := prometheus.Labels{"endpoint": endpoint}
	b := &Bridge{
		posted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "designsync",
			Subsystem:   "bridge",
			Name:        "posted_total",
			Help:        "Messages posted to peers, by kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "designsync",
			Subsystem:   "bridge",
			Name:        "delivered_total",
			Help:        "Inbound messages handed to a handler, by kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "designsync",
			Subsystem:   "bridge",
			Name:        "dropped_total",
			Help:        "Inbound messages dropped, by reason.",
			ConstLabels: labels,
		}, []string{"reason"}),
		frames: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "designsync",
			Subsystem:   "relay",
			Name:        "frames",
			Help:        "Preview frames currently connected.",
			ConstLabels: labels,
		}),
	}
	for _, c := range []prometheus.Collector{b.posted, b.delivered, b.dropped, b.frames} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *Bridge) Posted(kind message.Kind)    { b.posted.WithLabelValues(kind.String()).Inc() }
func (b *Bridge) Delivered(kind message.Kind) { b.delivered.WithLabelValues(kind.String()).Inc() }
func (b *Bridge) Dropped(reason string)       { b.dropped.WithLabelValues(reason).Inc() }

// FrameJoined and FrameLeft track the connected frame count.
func (b *Bridge) FrameJoined() { b.frames.Inc() }
func (b *Bridge) FrameLeft()   { b.frames.Dec() }

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
