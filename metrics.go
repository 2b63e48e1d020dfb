// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mellium.im/xmppc/stanza"
)

const metricsNamespace = "xmppc"

// Metrics holds the Prometheus collectors updated by a Conn.
// A nil *Metrics is valid and records nothing.
// One Metrics may be shared by several connections.
type Metrics struct {
	stanzasIn   *prometheus.CounterVec // Stanzas read by kind
	stanzasOut  *prometheus.CounterVec // Stanzas written by kind
	iqDuration  prometheus.Histogram   // Request round trip time
	iqTimeouts  prometheus.Counter     // Requests without a reply
	queueDepth  prometheus.Gauge       // Stanzas waiting to be written
	dropped     prometheus.Counter     // Stanzas discarded by full collectors
	transitions *prometheus.CounterVec // State changes by new state
}

// NewMetrics creates the connection metrics and registers them with reg.
// If reg is nil, nil is returned and metrics are disabled.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		stanzasIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "stream",
			Name:      "stanzas_received_total",
			Help:      "Total number of stanzas received",
		}, []string{"kind"}),

		stanzasOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "stream",
			Name:      "stanzas_sent_total",
			Help:      "Total number of stanzas written to the stream",
		}, []string{"kind"}),

		iqDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "iq",
			Name:      "round_trip_seconds",
			Help:      "Time between sending a request and receiving its reply",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),

		iqTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "iq",
			Name:      "timeouts_total",
			Help:      "Total number of requests that received no reply in time",
		}),

		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "stream",
			Name:      "send_queue_depth",
			Help:      "Number of stanzas waiting to be written",
		}),

		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "dispatch",
			Name:      "dropped_stanzas_total",
			Help:      "Total number of stanzas discarded by full collectors",
		}),

		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "conn",
			Name:      "state_transitions_total",
			Help:      "Total number of connection state changes by new state",
		}, []string{"state"}),
	}

	for _, c := range []prometheus.Collector{
		m.stanzasIn, m.stanzasOut, m.iqDuration, m.iqTimeouts,
		m.queueDepth, m.dropped, m.transitions,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) received(k stanza.Kind) {
	if m == nil {
		return
	}
	m.stanzasIn.WithLabelValues(k.String()).Inc()
}

func (m *Metrics) sent(k stanza.Kind) {
	if m == nil {
		return
	}
	m.stanzasOut.WithLabelValues(k.String()).Inc()
}

func (m *Metrics) roundTrip(d time.Duration) {
	if m == nil {
		return
	}
	m.iqDuration.Observe(d.Seconds())
}

func (m *Metrics) timeout() {
	if m == nil {
		return
	}
	m.iqTimeouts.Inc()
}

func (m *Metrics) queued(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) drop() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) transition(s State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(s.String()).Inc()
}
