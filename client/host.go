package client

import (
	"errors"
	"log"
	"time"

	"github.com/tolelom/shardcore/blockproducer"
	"github.com/tolelom/shardcore/chunks"
	"github.com/tolelom/shardcore/epoch"
	"github.com/tolelom/shardcore/events"
	"github.com/tolelom/shardcore/txpool"
	"github.com/tolelom/shardcore/types"
)

// chunkGasLimit is the per-chunk gas budget quoted to the runtime when the
// host loop drives production; the chunk header records the runtime's own
// ChunkExtra.GasLimit, which does not limit PrepareTransactions.
const chunkGasLimit = 1_000_000

// Pool exposes the sharded mempool as a read-only view for the RPC layer.
func (c *Client) Pool() *txpool.Pool {
	return c.pool
}

// Events exposes the client's event broker so in-process observers (the
// process entrypoint, a future indexer) can subscribe to block acceptance,
// reorg, and chunk-readiness notifications.
func (c *Client) Events() *events.Emitter {
	return c.emitter
}

// Chain exposes the chain view consumed by the RPC layer and the
// netadapter block server. Callers must treat it as read-only; mutation
// flows through ReceiveBlock.
func (c *Client) Chain() *ChainAdapter {
	return c.chain
}

// Tick runs one iteration of the host loop: step the sync orchestrator,
// drive catchup, then attempt chunk and block production for the height
// after the current head. Production is a no-op whenever this node is not
// the elected producer, so calling Tick on every interval is safe.
func (c *Client) Tick(now time.Time) {
	c.SyncBlockHeaders()
	if err := c.RunCatchup(); err != nil {
		log.Printf("[client] catchup: %v", err)
	}
	if c.isSyncing() {
		return
	}

	tip := c.chain.Tip()
	prev, err := c.chain.GetBlock(tip.LastBlockHash)
	if err != nil {
		log.Printf("[client] tick: load head block: %v", err)
		return
	}
	info, err := c.epochs.Info(tip.EpochID)
	if err != nil {
		log.Printf("[client] tick: epoch info: %v", err)
		return
	}

	nextHeight := tip.Height + 1
	crosses := nextHeight%epochLength == 0

	c.produceDueChunks(tip, prev, info, nextHeight, crosses)

	block, err := c.ProduceBlock(blockproducer.Input{
		NextHeight:          nextHeight,
		PrevHash:            tip.LastBlockHash,
		PrevPrevHash:        tip.PrevBlockHash,
		EpochID:             tip.EpochID,
		NextEpochID:         tip.NextEpochID,
		CrossesEpoch:        crosses,
		PrevChunkHeaders:    prev.Header.ChunkHeaders,
		PrevNextBPHash:      prev.Header.NextBPHash,
		NextProtocolVersion: info.ProtocolVersion,
		TimestampUnixNano:   now.UnixNano(),
	})
	if err != nil {
		if errors.Is(err, blockproducer.ErrProtocolVersionTooOld) {
			log.Fatalf("[client] %v", err)
		}
		log.Printf("[client] produce block at %d: %v", nextHeight, err)
		return
	}
	if block != nil {
		log.Printf("[client] produced block %d (%s)", block.Header.Height, block.Hash)
	}
}

// produceDueChunks attempts chunk production for every shard of the head's
// epoch. Shards this node is not elected for return a nil Output and cost
// only an election lookup.
func (c *Client) produceDueChunks(tip types.Tip, prev *types.Block, info *epoch.Info, nextHeight types.Height, crosses bool) {
	for s := 0; s < info.ShardLayout.NumShards; s++ {
		shard := types.ShardID(s)
		var prevHeader *types.ShardChunkHeader
		if s < len(prev.Header.ChunkHeaders) {
			h := prev.Header.ChunkHeaders[s]
			prevHeader = &h
		}
		out, err := c.ProduceChunk(chunks.Input{
			PrevBlockHash:     tip.LastBlockHash,
			PrevPrevBlockHash: tip.PrevBlockHash,
			EpochID:           tip.EpochID,
			NextEpochID:       tip.NextEpochID,
			CrossesEpoch:      crosses,
			PrevChunkHeader:   prevHeader,
			NextHeight:        nextHeight,
			Shard:             shard,
			GasLimit:          chunkGasLimit,
		})
		if err != nil {
			if errors.Is(err, chunks.ErrPrevPrevNotCaughtUp) {
				continue
			}
			log.Printf("[client] produce chunk shard %d at %d: %v", shard, nextHeight, err)
			continue
		}
		if out != nil {
			log.Printf("[client] produced chunk shard %d at %d", shard, nextHeight)
		}
	}
}
