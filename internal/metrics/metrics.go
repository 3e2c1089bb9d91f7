// Package metrics provides Prometheus metrics for the nlagent daemon.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registry for all nlagent metrics.
var Registry = prometheus.NewRegistry()

// AgentMetrics holds all Prometheus metrics for the agent.
type AgentMetrics struct {
	// Notification stream (counters)
	NetlinkMessages *prometheus.CounterVec // labels: type
	NetlinkDropped  *prometheus.CounterVec // labels: reason
	NetlinkOverruns prometheus.Counter
	Resyncs         prometheus.Counter

	// Registry
	RegistryChanges *prometheus.CounterVec // labels: change
	Interfaces      prometheus.Gauge

	// Per-interface state (labels: interface)
	InterfaceUp        *prometheus.GaugeVec
	InterfaceAddresses *prometheus.GaugeVec
	InterfaceRxBytes   *prometheus.GaugeVec
	InterfaceTxBytes   *prometheus.GaugeVec
	InterfaceRxErrors  *prometheus.GaugeVec
	InterfaceTxErrors  *prometheus.GaugeVec
	InterfaceRxRate    *prometheus.GaugeVec // bytes per second
	InterfaceTxRate    *prometheus.GaugeVec // bytes per second

	// Query socket and alerts
	Queries *prometheus.CounterVec // labels: command
	Alerts  *prometheus.CounterVec // labels: kind
	Firing  prometheus.Gauge

	PollDuration prometheus.Histogram

	// Agent info (constant labels exposed as a gauge)
	AgentInfo *prometheus.GaugeVec // labels: version, instance
}

func init() {
	// Register standard Go metrics
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// InitMetrics registers all agent metrics on Registry.
func InitMetrics(version, instanceID string) *AgentMetrics {
	ifaceLabels := []string{"interface"}
	f := promauto.With(Registry)

	m := &AgentMetrics{
		NetlinkMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nlagent_netlink_messages_total",
			Help: "Netlink messages received, by message type",
		}, []string{"type"}),
		NetlinkDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nlagent_netlink_dropped_total",
			Help: "Netlink messages discarded, by reason",
		}, []string{"reason"}),
		NetlinkOverruns: f.NewCounter(prometheus.CounterOpts{
			Name: "nlagent_netlink_overruns_total",
			Help: "Times the kernel dropped notifications because the socket queue was full",
		}),
		Resyncs: f.NewCounter(prometheus.CounterOpts{
			Name: "nlagent_registry_resyncs_total",
			Help: "Full registry resynchronizations from kernel state",
		}),

		RegistryChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nlagent_registry_changes_total",
			Help: "Registry changes, by change type",
		}, []string{"change"}),
		Interfaces: f.NewGauge(prometheus.GaugeOpts{
			Name: "nlagent_interfaces",
			Help: "Number of interfaces in the registry",
		}),

		InterfaceUp: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nlagent_interface_up",
			Help: "1 if the interface is running, 0 otherwise",
		}, ifaceLabels),
		InterfaceAddresses: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nlagent_interface_addresses",
			Help: "Addresses assigned to the interface",
		}, ifaceLabels),
		InterfaceRxBytes: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nlagent_interface_rx_bytes",
			Help: "Last polled received bytes counter",
		}, ifaceLabels),
		InterfaceTxBytes: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nlagent_interface_tx_bytes",
			Help: "Last polled transmitted bytes counter",
		}, ifaceLabels),
		InterfaceRxErrors: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nlagent_interface_rx_errors",
			Help: "Last polled receive errors counter",
		}, ifaceLabels),
		InterfaceTxErrors: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nlagent_interface_tx_errors",
			Help: "Last polled transmit errors counter",
		}, ifaceLabels),
		InterfaceRxRate: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nlagent_interface_rx_bytes_per_second",
			Help: "Receive rate between the last two polls",
		}, ifaceLabels),
		InterfaceTxRate: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nlagent_interface_tx_bytes_per_second",
			Help: "Transmit rate between the last two polls",
		}, ifaceLabels),

		Queries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nlagent_queries_total",
			Help: "Query socket requests, by command",
		}, []string{"command"}),
		Alerts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nlagent_alerts_total",
			Help: "Alerts that started firing, by kind",
		}, []string{"kind"}),
		Firing: f.NewGauge(prometheus.GaugeOpts{
			Name: "nlagent_alerts_firing",
			Help: "Alerts firing after the last evaluation",
		}),

		PollDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "nlagent_poll_duration_seconds",
			Help:    "Time spent polling counters and evaluating alerts",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),

		AgentInfo: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nlagent_info",
			Help: "Agent information",
		}, []string{"version", "instance"}),
	}

	m.AgentInfo.WithLabelValues(version, instanceID).Set(1)
	return m
}

// MessageReceived counts a received netlink message.
func (m *AgentMetrics) MessageReceived(kind string) {
	m.NetlinkMessages.WithLabelValues(kind).Inc()
}

// MessageDropped counts a discarded netlink message.
func (m *AgentMetrics) MessageDropped(reason string) {
	m.NetlinkDropped.WithLabelValues(reason).Inc()
}

// Handler returns an HTTP handler serving Registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
