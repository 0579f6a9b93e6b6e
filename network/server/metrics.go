package server

import (
	"errors"

	"github.com/YiuTerran/duplex/base/log"
	"github.com/YiuTerran/duplex/network"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	handshakeAccepted = "accepted"
	handshakeRejected = "rejected"
	handshakeFailed   = "failed"
)

// metrics 未配置Registerer时同样计数，只是不导出
type metrics struct {
	connections prometheus.Gauge
	handshakes  *prometheus.CounterVec
	messages    *prometheus.CounterVec
	dropped     prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, name string) *metrics {
	labels := prometheus.Labels{"server": name}
	m := &metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "duplex",
			Subsystem:   "server",
			Name:        "connections",
			Help:        "Registered logical connections.",
			ConstLabels: labels,
		}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "duplex",
			Subsystem:   "server",
			Name:        "handshakes_total",
			Help:        "Handshake results by outcome.",
			ConstLabels: labels,
		}, []string{"result"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "duplex",
			Subsystem:   "server",
			Name:        "messages_total",
			Help:        "Inbound application messages by channel.",
			ConstLabels: labels,
		}, []string{"channel"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "duplex",
			Subsystem:   "server",
			Name:        "unsolicited_messages_total",
			Help:        "Messages dropped because the endpoint was not registered.",
			ConstLabels: labels,
		}),
	}
	if reg == nil {
		return m
	}
	for _, c := range []prometheus.Collector{m.connections, m.handshakes, m.messages, m.dropped} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				log.Warn("server metrics already registered for %s", name)
				continue
			}
			log.Error("register server metrics: %v", err)
		}
	}
	return m
}

func (m *metrics) ConnectionAdded(*Connection) {
	m.connections.Inc()
	m.handshakes.WithLabelValues(handshakeAccepted).Inc()
}

func (m *metrics) ConnectionRemoved(*Connection) {
	m.connections.Dec()
}

func (m *metrics) rejected() {
	m.handshakes.WithLabelValues(handshakeRejected).Inc()
}

func (m *metrics) failed() {
	m.handshakes.WithLabelValues(handshakeFailed).Inc()
}

func (m *metrics) received(channel network.Channel) {
	m.messages.WithLabelValues(channel.String()).Inc()
}
