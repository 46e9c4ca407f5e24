package websocket

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// 升级被拒绝的原因标签
const (
	rejectClosing = "closing"
	rejectFull    = "full"
	rejectIPLimit = "ip_limit"
	rejectUpgrade = "handshake"
)

// ServerMetrics 连接层指标，注册在调用方提供的 Registerer 上
type ServerMetrics struct {
	open     prometheus.Gauge
	accepted prometheus.Counter
	rejected *prometheus.CounterVec
	lifetime prometheus.Histogram
	frames   *prometheus.CounterVec
	bytes    *prometheus.CounterVec
}

func NewServerMetrics(registerer prometheus.Registerer) *ServerMetrics {
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: "realtime", Subsystem: "websocket", Name: name, Help: help}
	}

	m := &ServerMetrics{
		open:     prometheus.NewGauge(prometheus.GaugeOpts(opts("open_connections", "WebSocket connections currently open"))),
		accepted: prometheus.NewCounter(prometheus.CounterOpts(opts("accepted_total", "WebSocket upgrades accepted"))),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts(opts("rejected_total", "WebSocket upgrades rejected by reason")), []string{"reason"}),
		lifetime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "realtime",
			Subsystem: "websocket",
			Name:      "connection_lifetime_seconds",
			Help:      "Time between upgrade and disconnect",
			Buckets:   []float64{1, 10, 60, 300, 1800, 3600, 4 * 3600, 24 * 3600},
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts(opts("frames_received_total", "Inbound frames by frame type")), []string{"type"}),
		bytes:  prometheus.NewCounterVec(prometheus.CounterOpts(opts("bytes_received_total", "Inbound payload bytes by frame type")), []string{"type"}),
	}

	if registerer != nil {
		registerer.MustRegister(m.open, m.accepted, m.rejected, m.lifetime, m.frames, m.bytes)
	}
	return m
}

func (m *ServerMetrics) OnConnectionOpened() {
	m.open.Inc()
	m.accepted.Inc()
}

func (m *ServerMetrics) OnConnectionClosed(connectedAt time.Time) {
	m.open.Dec()
	m.lifetime.Observe(time.Since(connectedAt).Seconds())
}

// OnUpgradeError 按错误归类拒绝原因
func (m *ServerMetrics) OnUpgradeError(err error) {
	reason := rejectUpgrade
	switch {
	case errors.Is(err, ErrPoolClosed):
		reason = rejectClosing
	case errors.Is(err, ErrPoolFull):
		reason = rejectFull
	case errors.Is(err, ErrMaxConnectionsPerIP):
		reason = rejectIPLimit
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *ServerMetrics) OnMessageReceived(msgType MessageType, size int64) {
	label := msgType.String()
	m.frames.WithLabelValues(label).Inc()
	m.bytes.WithLabelValues(label).Add(float64(size))
}
