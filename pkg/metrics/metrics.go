package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Chunk store metrics
	ChunksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vaultmgr_chunks_total",
			Help: "Total number of chunks held by the local chunk store",
		},
	)

	ChunkStoreBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vaultmgr_chunk_store_bytes",
			Help: "Total bytes held by the local chunk store",
		},
	)

	ChunkStoreCapacityBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vaultmgr_chunk_store_capacity_bytes",
			Help: "Configured capacity of the local chunk store in bytes",
		},
	)

	// Vault lifecycle metrics
	VaultsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vaultmgr_vaults_total",
			Help: "Total vault worker processes by lifecycle state",
		},
		[]string{"state"},
	)

	VaultsJoinedTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vaultmgr_vaults_joined_total",
			Help: "Total running vaults that have confirmed joining the network",
		},
	)

	VaultRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vaultmgr_vault_restarts_total",
			Help: "Total vault worker restarts across all supervised processes",
		},
	)

	VaultStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vaultmgr_vault_start_duration_seconds",
			Help:    "Time from StartVaultRequest to VaultIdentityRequest handshake completion",
			Buckets: prometheus.DefBuckets,
		},
	)

	VaultJoinDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vaultmgr_vault_join_duration_seconds",
			Help:    "Time from identity handshake to VaultJoinedNetwork confirmation",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Client connection metrics
	ClientConnectionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vaultmgr_client_connections_total",
			Help: "Currently validated client connections",
		},
	)

	ChallengeFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vaultmgr_challenge_failures_total",
			Help: "Total client connections that failed or timed out the challenge/signature handshake",
		},
	)

	// Transport metrics
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultmgr_messages_total",
			Help: "Total wire messages processed by type and direction",
		},
		[]string{"type", "direction"},
	)
)

func init() {
	prometheus.MustRegister(ChunksTotal)
	prometheus.MustRegister(ChunkStoreBytes)
	prometheus.MustRegister(ChunkStoreCapacityBytes)
	prometheus.MustRegister(VaultsTotal)
	prometheus.MustRegister(VaultsJoinedTotal)
	prometheus.MustRegister(VaultRestartsTotal)
	prometheus.MustRegister(VaultStartDuration)
	prometheus.MustRegister(VaultJoinDuration)
	prometheus.MustRegister(ClientConnectionsTotal)
	prometheus.MustRegister(ChallengeFailuresTotal)
	prometheus.MustRegister(MessagesTotal)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
