// Package metrics exports controller activity as Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hongkongkiwi/android-udp-transmit-sub002/internal/transmit"
)

const resultSuccess = "success"

type Metrics struct {
	sends             *prometheus.CounterVec
	bytesSent         prometheus.Counter
	datagramsReceived prometheus.Counter
	bytesReceived     prometheus.Counter
	receiveErrors     prometheus.Counter
	bursts            *prometheus.CounterVec
	healthState       prometheus.Gauge
	rtt               prometheus.Histogram
	connected         prometheus.Gauge
}

// NewMetrics returns collectors registered with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry returns collectors registered with reg.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "udptrigger_sends_total",
				Help: "Send attempts by result (success or error kind)",
			},
			[]string{"result"},
		),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "udptrigger_bytes_sent_total",
			Help: "Payload bytes handed to the socket by successful sends",
		}),
		datagramsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "udptrigger_datagrams_received_total",
			Help: "Datagrams read while listening",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "udptrigger_bytes_received_total",
			Help: "Payload bytes read while listening",
		}),
		receiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "udptrigger_receive_errors_total",
			Help: "Non-fatal receive failures while listening",
		}),
		bursts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "udptrigger_bursts_total",
				Help: "Finished bursts by outcome (completed or cancelled)",
			},
			[]string{"outcome"},
		),
		healthState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "udptrigger_health_state",
			Help: "Health classification (0 = disconnected, 1 = poor, 2 = fair, 3 = good, 4 = excellent)",
		}),
		rtt: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "udptrigger_rtt_seconds",
			Help:    "Round-trip time of echoed payloads",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .15, .25, .5, 1, 2},
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "udptrigger_connected",
			Help: "Whether a session is open (1 = connected, 0 = not)",
		}),
	}

	reg.MustRegister(
		m.sends,
		m.bytesSent,
		m.datagramsReceived,
		m.bytesReceived,
		m.receiveErrors,
		m.bursts,
		m.healthState,
		m.rtt,
		m.connected,
	)
	return m
}

// HandleEvent updates the collectors from one controller event.
func (m *Metrics) HandleEvent(ev transmit.Event) {
	switch ev.Type {
	case transmit.EventSent:
		if ev.Outcome == nil {
			return
		}
		if ev.Outcome.Success {
			m.sends.WithLabelValues(resultSuccess).Inc()
			m.bytesSent.Add(float64(ev.Outcome.ByteLength))
		} else {
			m.sends.WithLabelValues(string(ev.Outcome.ErrorKind)).Inc()
		}

	case transmit.EventReceived:
		if ev.Datagram == nil {
			return
		}
		m.datagramsReceived.Inc()
		m.bytesReceived.Add(float64(ev.Datagram.Length))
		if ev.Datagram.EchoRTT > 0 {
			m.rtt.Observe(ev.Datagram.EchoRTT.Seconds())
		}

	case transmit.EventReceiveError:
		m.receiveErrors.Inc()

	case transmit.EventBurstFinished:
		outcome := "completed"
		if ev.Burst != nil && ev.Burst.Cancelled {
			outcome = "cancelled"
		}
		m.bursts.WithLabelValues(outcome).Inc()

	case transmit.EventState:
		if ev.Status == nil {
			return
		}
		connected := 0.0
		if ev.Status.Connected() {
			connected = 1.0
		}
		m.connected.Set(connected)
	}

	m.healthState.Set(float64(ev.Health))
}

// Run consumes events until the channel is closed.
func (m *Metrics) Run(events <-chan transmit.Event) {
	for ev := range events {
		m.HandleEvent(ev)
	}
}
