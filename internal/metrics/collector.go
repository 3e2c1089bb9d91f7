package metrics

import (
	"github.com/nlagent/nlagent/internal/counters"
	"github.com/nlagent/nlagent/internal/registry"
)

// Collector mirrors registry state into the per-interface gauges.
type Collector struct {
	metrics *AgentMetrics
	known   map[string]bool
}

// NewCollector creates a collector for m.
func NewCollector(m *AgentMetrics) *Collector {
	return &Collector{metrics: m, known: make(map[string]bool)}
}

// Collect updates the gauges from a registry snapshot and the latest
// rates. Series for interfaces no longer present are deleted.
func (c *Collector) Collect(ifaces []registry.Interface, rates []counters.Rate) {
	m := c.metrics
	seen := make(map[string]bool, len(ifaces))

	for _, iface := range ifaces {
		name := iface.Name
		seen[name] = true

		up := 0.0
		if iface.Up {
			up = 1
		}
		m.InterfaceUp.WithLabelValues(name).Set(up)
		m.InterfaceAddresses.WithLabelValues(name).Set(float64(len(iface.Addresses)))
		m.InterfaceRxBytes.WithLabelValues(name).Set(float64(iface.Counters.RxBytes))
		m.InterfaceTxBytes.WithLabelValues(name).Set(float64(iface.Counters.TxBytes))
		m.InterfaceRxErrors.WithLabelValues(name).Set(float64(iface.Counters.RxErrors))
		m.InterfaceTxErrors.WithLabelValues(name).Set(float64(iface.Counters.TxErrors))
	}

	for _, r := range rates {
		if !r.Valid || !seen[r.Name] {
			continue
		}
		m.InterfaceRxRate.WithLabelValues(r.Name).Set(r.RxBytesPerSec)
		m.InterfaceTxRate.WithLabelValues(r.Name).Set(r.TxBytesPerSec)
	}

	for name := range c.known {
		if !seen[name] {
			c.forget(name)
		}
	}
	c.known = seen
	m.Interfaces.Set(float64(len(ifaces)))
}

func (c *Collector) forget(name string) {
	m := c.metrics
	m.InterfaceUp.DeleteLabelValues(name)
	m.InterfaceAddresses.DeleteLabelValues(name)
	m.InterfaceRxBytes.DeleteLabelValues(name)
	m.InterfaceTxBytes.DeleteLabelValues(name)
	m.InterfaceRxErrors.DeleteLabelValues(name)
	m.InterfaceTxErrors.DeleteLabelValues(name)
	m.InterfaceRxRate.DeleteLabelValues(name)
	m.InterfaceTxRate.DeleteLabelValues(name)
}

// ObserveChange counts a registry change.
func (c *Collector) ObserveChange(ev registry.Event) {
	c.metrics.RegistryChanges.WithLabelValues(ev.Type.String()).Inc()
}
