/*
Package metrics defines Prometheus metrics for the chunk store and
Invigilator, a background Collector that samples them on a ticker, and
a Server exposing /health, /ready, /live and /metrics over HTTP backed
by a small in-memory component registry.

Gauges cover chunk store occupancy, vault lifecycle counts by state,
and validated client connections; counters and histograms cover vault
restarts, start/join handshake latency, challenge failures, and wire
message volume by type and direction. Collector.Start polls a
VaultStatsFunc and a chunkstore.Store every 15 seconds; either may be
nil for a process that only has one of the two (a standalone vault
worker has no Invigilator stats to poll). Collector takes a
VaultStatsFunc rather than a *manager.Invigilator directly because
pkg/manager imports pkg/transport, which in turn reports MessagesTotal
through this package — importing manager here would close that cycle.

RegisterComponent/UpdateComponent feed the health registry; "storage"
and "invigilator" are the critical components GetReadiness checks for.
*/
package metrics
