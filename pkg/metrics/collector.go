package metrics

import "time"

// Source reports the host-local counts a Collector snapshots into
// gauges on a fixed interval. pkg/host implements this by summing its
// own instance and provider pools; the link count comes straight from
// *linktable.Table.Len.
type Source interface {
	ComponentCounts() map[string]int // state -> count
	ProviderCounts() map[string]int  // health -> count
	LinkCount() int
}

// Collector periodically snapshots a Source into the package's
// inventory gauges.
type Collector struct {
	source Source
	stopCh chan struct{}
}

// NewCollector creates a Collector over source.
func NewCollector(source Source) *Collector {
	return &Collector{source: source, stopCh: make(chan struct{})}
}

// Start begins collecting on a 15 second interval, after an immediate
// first collection.
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

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectComponents()
	c.collectProviders()
	LinksTotal.Set(float64(c.source.LinkCount()))
}

func (c *Collector) collectComponents() {
	ComponentsTotal.Reset()
	for state, count := range c.source.ComponentCounts() {
		ComponentsTotal.WithLabelValues(state).Set(float64(count))
	}
}

func (c *Collector) collectProviders() {
	ProvidersTotal.Reset()
	for health, count := range c.source.ProviderCounts() {
		ProvidersTotal.WithLabelValues(health).Set(float64(count))
	}
}
