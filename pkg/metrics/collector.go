package metrics

import (
	"time"

	"github.com/maidsafe/vault-mgr/pkg/chunkstore"
	"github.com/maidsafe/vault-mgr/pkg/types"
)

// VaultStats is a point-in-time snapshot of the Invigilator's bookkeeping,
// shaped to avoid this package importing pkg/manager (which itself
// imports pkg/transport, which imports this package to report message
// counters — importing manager here would create a cycle).
type VaultStats struct {
	Pending          int
	Running          int
	JoinConfirmed    int
	ValidatedClients int
	TotalRestarts    int
}

// VaultStatsFunc is polled by Collector in place of holding a
// *manager.Invigilator directly.
type VaultStatsFunc func() VaultStats

// Collector periodically samples a vault manager and a chunk store and
// updates the package's gauges.
type Collector struct {
	stats    VaultStatsFunc
	chunks   chunkstore.Store
	interval time.Duration
	stopCh   chan struct{}

	lastRestarts int
}

// NewCollector creates a collector polling statsFn and store every 15
// seconds. Either may be nil to skip that half of collection (e.g. a
// standalone vault process has no Invigilator stats to poll).
func NewCollector(statsFn VaultStatsFunc, store chunkstore.Store) *Collector {
	return &Collector{
		stats:    statsFn,
		chunks:   store,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics in the background.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
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
	c.collectChunkStoreMetrics()
	c.collectVaultMetrics()
}

func (c *Collector) collectChunkStoreMetrics() {
	if c.chunks == nil {
		return
	}
	ChunksTotal.Set(float64(c.chunks.Count()))
	ChunkStoreBytes.Set(float64(c.chunks.Size()))
	ChunkStoreCapacityBytes.Set(float64(c.chunks.Capacity()))
}

func (c *Collector) collectVaultMetrics() {
	if c.stats == nil {
		return
	}
	stats := c.stats()

	VaultsTotal.WithLabelValues(string(types.VaultStatusPending)).Set(float64(stats.Pending))
	VaultsTotal.WithLabelValues(string(types.VaultStatusRunning)).Set(float64(stats.Running))
	VaultsJoinedTotal.Set(float64(stats.JoinConfirmed))
	ClientConnectionsTotal.Set(float64(stats.ValidatedClients))

	// The snapshot reports a running total rather than a delta;
	// VaultRestartsTotal is a monotonic counter, so only the increase
	// since the last poll is added.
	if stats.TotalRestarts > c.lastRestarts {
		VaultRestartsTotal.Add(float64(stats.TotalRestarts - c.lastRestarts))
		c.lastRestarts = stats.TotalRestarts
	}
}
