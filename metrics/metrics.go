// Package metrics exposes write-only Prometheus counters and gauges for the
// core's lifecycle. Every metric is a package-level promauto variable;
// callers never read these back, only Set/Inc/Observe.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlockHeight is the height of the current chain head.
	BlockHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shardcore_block_height",
		Help: "Height of the current chain head.",
	})

	// BlocksProduced counts locally produced blocks.
	BlocksProduced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shardcore_blocks_produced_total",
		Help: "Total number of blocks produced by this node.",
	})

	// BlocksReceived counts blocks, peer and self-produced alike, labeled
	// "received" when a block enters ingress and "accepted" when it
	// becomes the new head.
	BlocksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shardcore_blocks_received_total",
		Help: "Total number of blocks received and processed, by outcome.",
	}, []string{"outcome"})

	// ChunksProduced counts locally produced chunks, labeled by shard.
	ChunksProduced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shardcore_chunks_produced_total",
		Help: "Total number of chunks produced by this node, by shard.",
	}, []string{"shard"})

	// ChunkReconstructions counts completed partial-chunk reconstructions.
	ChunkReconstructions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shardcore_chunk_reconstructions_total",
		Help: "Total number of chunks reconstructed from partial parts.",
	})

	// ApprovalsCollected counts approvals passed to approval ingress,
	// labeled "dropped" when Collect returns an error and "witnessed"
	// otherwise (parked and discarded approvals included).
	ApprovalsCollected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shardcore_approvals_collected_total",
		Help: "Total number of approvals collected, by disposition.",
	}, []string{"disposition"})

	// ApprovalWitnessSize is the number of approvals in the witness Doomslug
	// computes per produced block.
	ApprovalWitnessSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shardcore_approval_witness_size",
		Help: "Number of approvals in the witness for the most recently produced block.",
	})

	// PendingApprovals tracks the size of the parked-approval cache.
	PendingApprovals = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shardcore_pending_approvals",
		Help: "Number of approvals currently parked awaiting their parent block.",
	})

	// MempoolSize tracks the sharded transaction pool's size, labeled by
	// shard.
	MempoolSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "shardcore_mempool_size",
		Help: "Number of transactions currently pooled, by shard.",
	}, []string{"shard"})

	// TxProcessed counts process_tx outcomes, labeled by txingress.Outcome.
	TxProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shardcore_tx_processed_total",
		Help: "Total number of transactions processed, by outcome.",
	}, []string{"outcome"})

	// CatchupShardsRemaining tracks the number of shards still downloading
	// state during an active catchup entry.
	CatchupShardsRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shardcore_catchup_shards_remaining",
		Help: "Number of shards still downloading state for the active catchup entry.",
	})

	// SyncState exposes the syncer.Orchestrator's current state as a gauge
	// set to 1 for the active state and 0 for the rest (a single series per
	// state is simpler to graph than an enum-valued gauge).
	SyncState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "shardcore_sync_state",
		Help: "1 for the orchestrator's current sync state, 0 otherwise.",
	}, []string{"state"})

	// PeersConnected tracks the number of live peer connections.
	PeersConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shardcore_peers_connected",
		Help: "Number of currently connected peers.",
	})

	// PeersBanned counts peer bans, labeled by adapters.BanReason.
	PeersBanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shardcore_peers_banned_total",
		Help: "Total number of peers banned, by reason.",
	}, []string{"reason"})

	// HeadProgressStalled counts how many times the head-progress watchdog
	// fired.
	HeadProgressStalled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shardcore_head_progress_stalled_total",
		Help: "Total number of times the head-progress watchdog detected a stall.",
	})
)

// SetSyncState zeroes every other known state's gauge and sets active's to 1,
// keeping the vector consistent with a single active value at a time.
func SetSyncState(active string, allStates []string) {
	for _, s := range allStates {
		if s == active {
			SyncState.WithLabelValues(s).Set(1)
		} else {
			SyncState.WithLabelValues(s).Set(0)
		}
	}
}
