package monitoring

import (
	"time"

	"audiorelay/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Sessions
	producersActive prometheus.Gauge
	consumersActive prometheus.Gauge
	producersTotal  prometheus.Counter
	consumersTotal  prometheus.Counter

	// Negotiation
	negotiationFailures *prometheus.CounterVec
	negotiationDuration *prometheus.HistogramVec

	// Media plane
	forwardedBytes   prometheus.Counter
	forwardedPackets prometheus.Counter
	fractionLost     prometheus.Histogram
	jitter           prometheus.Histogram
	transportStates  *prometheus.CounterVec
}

// NewPrometheusCollector registers the relay metrics with reg. A nil reg
// means the default registry.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		producersActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "audiorelay_producers_active",
			Help: "Number of registered producers",
		}),

		consumersActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "audiorelay_consumers_active",
			Help: "Number of registered consumers",
		}),

		producersTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "audiorelay_producers_total",
			Help: "Total number of producers created",
		}),

		consumersTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "audiorelay_consumers_total",
			Help: "Total number of consumers created",
		}),

		negotiationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audiorelay_negotiation_failures_total",
			Help: "Failed negotiations by path and reason",
		}, []string{"path", "reason"}),

		negotiationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "audiorelay_negotiation_duration_seconds",
			Help:    "Duration of successful negotiations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"path"}),

		forwardedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "audiorelay_forwarded_bytes_total",
			Help: "RTP payload bytes read from producers",
		}),

		forwardedPackets: factory.NewCounter(prometheus.CounterOpts{
			Name: "audiorelay_forwarded_packets_total",
			Help: "RTP packets read from producers",
		}),

		fractionLost: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "audiorelay_consumer_fraction_lost",
			Help:    "Fraction of packets lost as reported by consumers",
			Buckets: []float64{0, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1},
		}),

		jitter: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "audiorelay_consumer_jitter",
			Help:    "Interarrival jitter reported by consumers, in RTP timestamp units",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}),

		transportStates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audiorelay_transport_state_transitions_total",
			Help: "Transport connectivity transitions by target state",
		}, []string{"state"}),
	}
}

var _ ports.MetricsRecorder = (*PrometheusCollector)(nil)

func (p *PrometheusCollector) ProducerCreated() {
	p.producersActive.Inc()
	p.producersTotal.Inc()
}

func (p *PrometheusCollector) ProducerDestroyed() {
	p.producersActive.Dec()
}

func (p *PrometheusCollector) ConsumerCreated() {
	p.consumersActive.Inc()
	p.consumersTotal.Inc()
}

func (p *PrometheusCollector) ConsumerRemoved() {
	p.consumersActive.Dec()
}

func (p *PrometheusCollector) NegotiationFailed(path, reason string) {
	p.negotiationFailures.WithLabelValues(path, reason).Inc()
}

func (p *PrometheusCollector) ObserveNegotiation(path string, duration time.Duration) {
	p.negotiationDuration.WithLabelValues(path).Observe(duration.Seconds())
}

func (p *PrometheusCollector) PacketForwarded(bytes int) {
	p.forwardedPackets.Inc()
	p.forwardedBytes.Add(float64(bytes))
}

func (p *PrometheusCollector) ReceiverReport(fractionLost float64, jitter uint32) {
	p.fractionLost.Observe(fractionLost)
	p.jitter.Observe(float64(jitter))
}

func (p *PrometheusCollector) TransportState(state string) {
	p.transportStates.WithLabelValues(state).Inc()
}
