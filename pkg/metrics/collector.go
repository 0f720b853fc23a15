package metrics

import "time"

// PoolStats is the snapshot a Collector pulls from the pool registry.
type PoolStats struct {
	Fingerprint string
	Ready       int
	Busy        int
	Spawning    int
	Dead        int
	Waiters     int
}

// RegistrySource is the pool snapshot a Collector reads; kept as a local
// interface so metrics does not import pool. environment.Registry's Stats
// returns []pool.Stats, not []PoolStats, so it does not satisfy this
// interface as is.
type RegistrySource interface {
	Stats() []PoolStats
}

// EnvironmentSource is implemented by pkg/environment.Cache.
type EnvironmentSource interface {
	Count() int
}

// Collector periodically refreshes the pool and environment gauges.
type Collector struct {
	registry RegistrySource
	envCache EnvironmentSource
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(registry RegistrySource, envCache EnvironmentSource) *Collector {
	return &Collector{
		registry: registry,
		envCache: envCache,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectPoolMetrics()
	c.collectEnvironmentMetrics()
}

func (c *Collector) collectPoolMetrics() {
	stats := c.registry.Stats()

	PoolsTotal.Set(float64(len(stats)))

	for _, s := range stats {
		PoolWorkersTotal.WithLabelValues(s.Fingerprint, "ready").Set(float64(s.Ready))
		PoolWorkersTotal.WithLabelValues(s.Fingerprint, "busy").Set(float64(s.Busy))
		PoolWorkersTotal.WithLabelValues(s.Fingerprint, "spawning").Set(float64(s.Spawning))
		PoolWorkersTotal.WithLabelValues(s.Fingerprint, "dead").Set(float64(s.Dead))
		PoolWaitersTotal.WithLabelValues(s.Fingerprint).Set(float64(s.Waiters))
	}
}

func (c *Collector) collectEnvironmentMetrics() {
	EnvironmentsTotal.Set(float64(c.envCache.Count()))
}
