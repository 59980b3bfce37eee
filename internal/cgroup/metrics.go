//go:build linux

package cgroup

import (
	"sync"

	"github.com/containerd/cgroups/v3/cgroup2"
	metrics "github.com/docker/go-metrics"
)

// Collector exposes per-unit cgroup v2 memory/cpu/pids usage as
// Prometheus gauges, grounded on the teacher's
// core/metrics/cgroups/v2/cgroups.go Collector/cgroupsMonitor shape
// (there: one collector per containerd task; here: one per unit).
type Collector struct {
	mu      sync.Mutex
	ns      *metrics.Namespace
	memory  metrics.LabeledGauge
	cpu     metrics.LabeledGauge
	pids    metrics.LabeledGauge
	tracked map[string]*cgroup2.Manager
}

func NewCollector(ns *metrics.Namespace) *Collector {
	c := &Collector{
		ns:      ns,
		tracked: make(map[string]*cgroup2.Manager),
	}
	if ns != nil {
		c.memory = ns.NewLabeledGauge("memory_usage_bytes", "current memory usage", metrics.Total, "unit")
		c.cpu = ns.NewLabeledGauge("cpu_usage_usec", "cumulative cpu usage", metrics.Total, "unit")
		c.pids = ns.NewLabeledGauge("pids_current", "current number of pids", metrics.Total, "unit")
	}
	return c
}

// Add starts tracking a unit's cgroup for metric collection.
func (c *Collector) Add(unitName string, mgr *cgroup2.Manager) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracked[unitName] = mgr
}

// Remove stops tracking a unit, e.g. once it has become inactive.
func (c *Collector) Remove(unitName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tracked, unitName)
}

// Collect refreshes every gauge from the current cgroup stat snapshot.
// The caller ticks this periodically; the gauges themselves are
// exported to Prometheus through the docker/go-metrics Namespace they
// were registered against.
func (c *Collector) Collect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ns == nil {
		return
	}
	for name, mgr := range c.tracked {
		stat, err := mgr.Stat()
		if err != nil || stat == nil {
			continue
		}
		if stat.Memory != nil {
			c.memory.WithValues(name).Set(float64(stat.Memory.Usage))
		}
		if stat.CPU != nil {
			c.cpu.WithValues(name).Set(float64(stat.CPU.UsageUsec))
		}
		if stat.Pids != nil {
			c.pids.WithValues(name).Set(float64(stat.Pids.Current))
		}
	}
}
