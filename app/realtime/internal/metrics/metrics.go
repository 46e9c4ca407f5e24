// Package metrics 实时层的 Prometheus 指标。
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/aggregator"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/model"
	"github.com/lk2023060901/xdooria-realtime/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config 指标配置
type Config struct {
	// Namespace 指标命名空间
	Namespace string `mapstructure:"namespace" json:"namespace" yaml:"namespace"`
	// RuntimeCollectors 是否注册 Go 运行时与进程采集器
	RuntimeCollectors bool `mapstructure:"runtime_collectors" json:"runtime_collectors" yaml:"runtime_collectors"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Namespace:         "realtime",
		RuntimeCollectors: true,
	}
}

// RealtimeMetrics 连接、事件与快照指标
type RealtimeMetrics struct {
	config   *Config
	registry *prometheus.Registry

	// 连接指标
	ConnectionsOpened   prometheus.Counter
	ConnectionsRejected *prometheus.CounterVec // reason
	ConnectionsClosed   *prometheus.CounterVec // reason
	ConnectionLifetime  prometheus.Histogram

	// 事件指标
	EventsTotal     *prometheus.CounterVec // event, result
	MessagesCreated prometheus.Counter

	// 快照指标
	ActiveConnections  prometheus.Gauge
	ClusterConnections prometheus.Gauge
	Rooms              prometheus.Gauge
	OnlineUsers        prometheus.Gauge
	BusConnected       prometheus.Gauge
	BusQueued          *prometheus.GaugeVec // channel
	BusDropped         prometheus.Gauge
	BusPeers           prometheus.Gauge
	ProcessCPU         prometheus.Gauge
	ProcessMemory      prometheus.Gauge
}

// New 创建指标并注册到独立的 Registry
func New(cfg *Config) (*RealtimeMetrics, error) {
	newCfg, err := config.MergeConfig(DefaultConfig(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to merge metrics config: %w", err)
	}
	ns := newCfg.Namespace

	m := &RealtimeMetrics{
		config:   newCfg,
		registry: prometheus.NewRegistry(),

		ConnectionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "connections", Name: "opened_total",
			Help: "Connections that reached the ready state",
		}),
		ConnectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "connections", Name: "rejected_total",
			Help: "Connections rejected during authentication",
		}, []string{"reason"}),
		ConnectionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "connections", Name: "closed_total",
			Help: "Authenticated connections closed",
		}, []string{"reason"}),
		ConnectionLifetime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "connections", Name: "lifetime_seconds",
			Help:    "Lifetime of authenticated connections",
			Buckets: []float64{1, 10, 60, 300, 900, 3600, 4 * 3600, 12 * 3600},
		}),

		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "events", Name: "handled_total",
			Help: "Inbound events by name and result code",
		}, []string{"event", "result"}),
		MessagesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "events", Name: "messages_created_total",
			Help: "Chat messages persisted and fanned out",
		}),

		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "active_connections", Help: "Authenticated connections on this process",
		}),
		ClusterConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "cluster_connections", Help: "Connections across live processes",
		}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "rooms", Help: "Rooms with at least one local member",
		}),
		OnlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "online_users", Help: "Distinct users connected to this process",
		}),
		BusConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "bus", Name: "connected", Help: "1 when the broker is reachable",
		}),
		BusQueued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "bus", Name: "queued_messages", Help: "Messages waiting in the retry queue",
		}, []string{"channel"}),
		BusDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "bus", Name: "dropped_messages", Help: "Messages dropped by full retry queues",
		}),
		BusPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "bus", Name: "peers", Help: "Processes seen through heartbeats",
		}),
		ProcessCPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "process", Name: "cpu_percent", Help: "Process CPU usage",
		}),
		ProcessMemory: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "process", Name: "rss_bytes", Help: "Process resident memory",
		}),
	}

	if err := m.Register(m.registry); err != nil {
		return nil, err
	}
	if newCfg.RuntimeCollectors {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m, nil
}

// Register 注册指标
func (m *RealtimeMetrics) Register(registerer prometheus.Registerer) error {
	cs := []prometheus.Collector{
		m.ConnectionsOpened,
		m.ConnectionsRejected,
		m.ConnectionsClosed,
		m.ConnectionLifetime,
		m.EventsTotal,
		m.MessagesCreated,
		m.ActiveConnections,
		m.ClusterConnections,
		m.Rooms,
		m.OnlineUsers,
		m.BusConnected,
		m.BusQueued,
		m.BusDropped,
		m.BusPeers,
		m.ProcessCPU,
		m.ProcessMemory,
	}
	for _, c := range cs {
		if err := registerer.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Registerer 供其它组件（如 WebSocket 服务端）注册指标
func (m *RealtimeMetrics) Registerer() prometheus.Registerer {
	return m.registry
}

// Handler /metrics
func (m *RealtimeMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ConnectionOpened 实现 router.Observer
func (m *RealtimeMetrics) ConnectionOpened(model.Identity) {
	m.ConnectionsOpened.Inc()
}

// ConnectionRejected 实现 router.Observer
func (m *RealtimeMetrics) ConnectionRejected(reason string) {
	m.ConnectionsRejected.WithLabelValues(reason).Inc()
}

// ConnectionClosed 实现 router.Observer
func (m *RealtimeMetrics) ConnectionClosed(_ model.Identity, reason string, lifetime time.Duration) {
	m.ConnectionsClosed.WithLabelValues(reason).Inc()
	m.ConnectionLifetime.Observe(lifetime.Seconds())
}

// MessageCreated 实现 router.Observer
func (m *RealtimeMetrics) MessageCreated(*model.Message) {
	m.MessagesCreated.Inc()
}

// EventHandled 实现 router.Observer，未知事件统一记为 unknown 以限制标签基数
func (m *RealtimeMetrics) EventHandled(name, code string) {
	if !knownEvents[name] {
		name = "unknown"
	}
	result := "ok"
	if code != "" {
		result = code
	}
	m.EventsTotal.WithLabelValues(name, result).Inc()
}

var knownEvents = map[string]bool{
	model.EventHeartbeat:      true,
	model.EventRoomJoin:       true,
	model.EventRoomLeave:      true,
	model.EventMessageSend:    true,
	model.EventTypingStart:    true,
	model.EventTypingStop:     true,
	model.EventPresenceUpdate: true,
}

// ObserveSnapshot 作为 aggregator.Sink 更新仪表盘
func (m *RealtimeMetrics) ObserveSnapshot(s aggregator.Snapshot) {
	m.ActiveConnections.Set(float64(s.Connections))
	m.ClusterConnections.Set(float64(s.ClusterConnections))
	m.Rooms.Set(float64(s.Rooms))
	m.OnlineUsers.Set(float64(s.OnlineUsers))

	if s.Bus.Connected {
		m.BusConnected.Set(1)
	} else {
		m.BusConnected.Set(0)
	}
	for ch, n := range s.Bus.Queued {
		m.BusQueued.WithLabelValues(ch).Set(float64(n))
	}
	m.BusDropped.Set(float64(s.Bus.Dropped))
	m.BusPeers.Set(float64(len(s.Bus.Peers)))

	m.ProcessCPU.Set(s.System.CPUPercent)
	m.ProcessMemory.Set(float64(s.System.MemoryBytes))
}
