package client

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tolelom/shardcore/adapters"
	"github.com/tolelom/shardcore/approvals"
	"github.com/tolelom/shardcore/blockingress"
	"github.com/tolelom/shardcore/blockproducer"
	"github.com/tolelom/shardcore/catchup"
	"github.com/tolelom/shardcore/chaininfo"
	"github.com/tolelom/shardcore/chunks"
	"github.com/tolelom/shardcore/codec"
	"github.com/tolelom/shardcore/crypto"
	"github.com/tolelom/shardcore/doomslug"
	"github.com/tolelom/shardcore/epoch"
	"github.com/tolelom/shardcore/events"
	"github.com/tolelom/shardcore/merkle"
	"github.com/tolelom/shardcore/metrics"
	network "github.com/tolelom/shardcore/netadapter"
	"github.com/tolelom/shardcore/runtimestub"
	"github.com/tolelom/shardcore/syncer"
	"github.com/tolelom/shardcore/txingress"
	"github.com/tolelom/shardcore/txpool"
	"github.com/tolelom/shardcore/types"

	storage "github.com/tolelom/shardcore/store"
)

// chunkDataParts and chunkParityParts size the erasure codec every
// shard's chunk producer/reconstructor shares.
const (
	chunkDataParts   = 4
	chunkParityParts = 2
)

// expectedHeightPerSecond feeds the sync orchestrator's stall detector;
// one block per second matches the default block interval, since this
// module does not separately configure block timing.
const expectedHeightPerSecond = types.Height(1)

// Client is the core aggregate: it owns every collaborator cataloged
// elsewhere in this module and is the one production implementation of
// netadapter.Dispatcher, adapters.ClientAdapterForShardsManager, and
// rpc.TxSubmitter. Chunks and doomslug are reached only through it; the
// store and epoch manager are built by cmd/shardnode and passed in.
type Client struct {
	selfID types.AccountID
	signer adapters.ValidatorSigner
	net    adapters.PeerManagerAdapter

	store   *storage.ChainStore
	epochs  *epoch.Manager
	runtime *runtimestub.Runtime
	codec   codec.ErasureCodec

	chain     *ChainAdapter
	shards    *ShardTracker
	peers     *PeerHeights
	chunkStor *ChunkStore
	pool      *txpool.Pool

	doomslug    *doomslug.Tracker
	chainInfo   *chaininfo.Publisher
	emitter     *events.Emitter
	sync        *syncer.Orchestrator
	approvalsIn *approvals.Ingress
	blocksIn    *blockingress.Ingress
	txIn        *txingress.Ingress
	chunkReco   *chunks.Reconstructor
	blockServer *network.BlockServer
	readiness   *chunks.ReadinessCache
	chunkProd   *chunks.Producer
	blockProd   *blockproducer.Producer
	catchupCo   *catchup.Coordinator
	merkleTree  *merkle.PartialTree

	syncing           func() bool
	lastHeadHeight    types.Height
	lastHeadProgress  time.Time
	catchupWasRunning bool
}

var _ network.Dispatcher = (*Client)(nil)
var _ adapters.ClientAdapterForShardsManager = (*Client)(nil)

// Config bundles construction-time parameters that come from config.Config
// rather than being hardcoded, kept narrow to what NewClient actually
// needs (the rest of config.Config governs network/storage setup that
// happens before a Client exists).
type Config struct {
	SelfID             types.AccountID
	ExtraTrackedShards []types.ShardID
	ProduceEmptyBlocks bool
	ProtocolVersion    uint32
}

// NewClient wires every collaborator a running node needs.
func NewClient(store *storage.ChainStore, epochs *epoch.Manager, runtime *runtimestub.Runtime, net adapters.PeerManagerAdapter, signer adapters.ValidatorSigner, genesisTip types.Tip, cfg Config) (*Client, error) {
	ec, err := codec.NewReedSolomon(chunkDataParts, chunkParityParts)
	if err != nil {
		return nil, fmt.Errorf("client: build erasure codec: %w", err)
	}

	chain := NewChainAdapter(store, epochs, cfg.SelfID, genesisTip)
	shards := NewShardTracker(epochs, cfg.SelfID, cfg.ExtraTrackedShards)
	shards.SetEpochs(genesisTip.EpochID, genesisTip.NextEpochID)
	peers := NewPeerHeights(chain)
	chunkStor := NewChunkStore()
	pool := txpool.New(time.Now().UnixNano())
	ds := doomslug.New(doomslug.TwoThirds)
	chainInfo := chaininfo.NewPublisher(epochs, net)
	emitter := events.NewEmitter()
	readiness := chunks.NewReadinessCache()
	reconstructor := chunks.NewReconstructor(ec, readiness)
	blockServer := network.NewBlockServer(net, chain)
	tree := merkle.NewPartialTree()

	c := &Client{
		selfID:      cfg.SelfID,
		signer:      signer,
		net:         net,
		store:       store,
		epochs:      epochs,
		runtime:     runtime,
		codec:       ec,
		chain:       chain,
		shards:      shards,
		peers:       peers,
		chunkStor:   chunkStor,
		pool:        pool,
		doomslug:    ds,
		chainInfo:   chainInfo,
		emitter:     emitter,
		chunkReco:   reconstructor,
		blockServer: blockServer,
		readiness:   readiness,
		merkleTree:  tree,
		syncing:     func() bool { return false },
	}

	approvalsIn := approvals.NewIngress(chain, chain, ds)
	c.approvalsIn = approvalsIn

	chain.WireHooks(ds, chainInfo, approvalsIn, shards, emitter)

	blocksIn := blockingress.NewIngress(chain, net, pool, shards, chunkStor, c.isSyncing)
	c.blocksIn = blocksIn

	roots := NewStateRootView(runtime, shards)
	txIn := txingress.NewIngress(epochs, pool, runtime, net, shards, roots, chain.HeadInfo(), cfg.SelfID)
	c.txIn = txIn

	driver := &catchupDriver{net: net, codec: ec}
	catchupCo := catchup.NewCoordinator(shards, driver, c)
	c.catchupCo = catchupCo

	c.chunkProd = chunks.NewProducer(epochs, pool, runtime, ec, signer, catchupCo)
	c.blockProd = blockproducer.NewProducer(epochs, ds, readiness, tree, signer, catchupCo, store, blockproducer.Config{
		ProduceEmptyBlocks:    cfg.ProduceEmptyBlocks,
		BinaryProtocolVersion: cfg.ProtocolVersion,
	})

	c.sync = syncer.NewOrchestrator(net, peers, expectedHeightPerSecond)
	c.syncing = func() bool { return c.sync.State() != syncer.StateNoSync }

	return c, nil
}

// ApplyCatchupBlock implements catchup.BlockCatchupScheduler by routing a
// queued catch-up block through the same Apply path normal ingress
// uses.
func (c *Client) ApplyCatchupBlock(block *types.Block) error {
	_, err := c.chain.Apply(block)
	return err
}

func (c *Client) isSyncing() bool {
	return c.syncing()
}

// --- host entrypoints ---

// ReceiveBlock feeds an incoming block through block ingress.
func (c *Client) ReceiveBlock(block *types.Block, peerID string, wasRequested bool) error {
	metrics.BlocksReceived.WithLabelValues("received").Inc()
	return c.blocksIn.ReceiveBlock(block, peerID, wasRequested)
}

// CollectApproval feeds an incoming approval through approval ingress.
func (c *Client) CollectApproval(approval *types.Approval, provenance types.Provenance) error {
	disposition := "witnessed"
	err := c.approvalsIn.Collect(approval, provenance)
	if err != nil {
		disposition = "dropped"
	}
	metrics.ApprovalsCollected.WithLabelValues(disposition).Inc()
	return err
}

// ProcessTx implements rpc.TxSubmitter and is the transaction entrypoint
// the host loop drives.
func (c *Client) ProcessTx(tx *types.Transaction, isForwarded, checkOnly bool) (txingress.Outcome, error) {
	outcome, err := c.txIn.ProcessTx(tx, isForwarded, checkOnly)
	metrics.TxProcessed.WithLabelValues(outcomeLabel(outcome)).Inc()
	return outcome, err
}

func outcomeLabel(o txingress.Outcome) string {
	switch o {
	case txingress.OutcomeValidTx:
		return "valid"
	case txingress.OutcomeInvalidTx:
		return "invalid"
	case txingress.OutcomeRequestRouted:
		return "routed"
	case txingress.OutcomeDoesNotTrackShard:
		return "not_tracked"
	default:
		return "no_response"
	}
}

// ProduceChunk runs the chunk-production algorithm for in and, on success,
// feeds the result into the readiness cache and chunk store so the block
// producer and block ingress can pick it up.
func (c *Client) ProduceChunk(in chunks.Input) (*chunks.Output, error) {
	out, err := c.chunkProd.Produce(in)
	if err != nil || out == nil {
		return out, err
	}
	c.chunkStor.PutProduced(out.Chunk.Header, out.BodyLen, out.Transactions, out.Chunk.Parts)
	c.readiness.MarkReady(in.PrevBlockHash, in.Shard, &out.Chunk.Header, time.Now())
	metrics.ChunksProduced.WithLabelValues(fmt.Sprintf("%d", in.Shard)).Inc()
	c.emitter.Emit(events.Event{Type: events.EventChunkReady, Data: map[string]any{"shard": in.Shard, "header_hash": out.Chunk.Header.ComputeHash()}})
	c.net.Send(adapters.NetworkRequest{Kind: adapters.ReqPartialEncodedChunkMessage, Payload: network.ChunkBroadcast{Chunk: out.Chunk, BodyLen: out.BodyLen}})
	return out, nil
}

// ProduceBlock runs the block-production algorithm and, on success,
// broadcasts and applies the signed block exactly as an incoming one would
// be.
func (c *Client) ProduceBlock(in blockproducer.Input) (*types.Block, error) {
	block, err := c.blockProd.Produce(in)
	if err != nil || block == nil {
		return block, err
	}
	epoch.MustEqual("produced block epoch", in.EpochID, block.Header.EpochID)
	metrics.BlocksProduced.Inc()
	c.net.Send(adapters.NetworkRequest{Kind: adapters.ReqBlock, Payload: block})
	if err := c.ReceiveBlock(block, "", true); err != nil {
		return nil, fmt.Errorf("client: apply own block: %w", err)
	}
	return block, nil
}

// RunCatchup drives the catchup coordinator by one step.
func (c *Client) RunCatchup() error {
	err := c.catchupCo.RunCatchup()
	remaining := 0
	for _, shard := range c.shards.CaredAboutShards() {
		if !c.catchupCo.IsCaughtUp(c.chain.Tip().PrevBlockHash, shard) {
			remaining++
		}
	}
	metrics.CatchupShardsRemaining.Set(float64(remaining))
	if remaining > 0 {
		c.catchupWasRunning = true
	} else if c.catchupWasRunning {
		c.catchupWasRunning = false
		c.emitter.Emit(events.Event{Type: events.EventCatchupDone, Data: map[string]any{"head": c.chain.Tip().LastBlockHash}})
	}
	return err
}

// SyncBlockHeaders steps the sync orchestrator once, reporting its
// resulting state for observability.
func (c *Client) SyncBlockHeaders() syncer.State {
	state := c.sync.Step(time.Now())
	metrics.SetSyncState(state.String(), []string{
		syncer.StateAwaitingPeers.String(), syncer.StateEpochSync.String(), syncer.StateHeaderSync.String(),
		syncer.StateBlockSync.String(), syncer.StateStateSync.String(), syncer.StateNoSync.String(),
	})
	return state
}

// CheckHeadProgressStalled reports whether the tracked head has not
// advanced for at least stallTimeout of wall clock while the node is not
// syncing. On a stall it rebroadcasts the current head block once (a
// partitioned peer set may simply never have seen it) and resets the
// timer so each stall triggers exactly one rebroadcast.
func (c *Client) CheckHeadProgressStalled(stallTimeout time.Duration) bool {
	headHash, height := c.chain.Head()
	now := time.Now()
	c.sync.RecordProgress(now, height)

	if height > c.lastHeadHeight || c.lastHeadProgress.IsZero() {
		c.lastHeadHeight = height
		c.lastHeadProgress = now
		return false
	}
	if c.isSyncing() || now.Sub(c.lastHeadProgress) < stallTimeout {
		return false
	}

	if block, err := c.chain.GetBlock(headHash); err == nil {
		c.net.Send(adapters.NetworkRequest{Kind: adapters.ReqBlock, Payload: block})
	}
	c.lastHeadProgress = now
	metrics.HeadProgressStalled.Inc()
	return true
}

// --- adapters.ClientAdapterForShardsManager ---

// OnChunkCompleted implements adapters.ClientAdapterForShardsManager: a
// reconstructed chunk becomes available for a block that already
// referenced its header but could not include its transactions until now.
func (c *Client) OnChunkCompleted(partial *types.EncodedShardChunk) {
	body, ok := c.chunkReco.Body(&partial.Header)
	if !ok {
		return
	}
	if err := c.chunkStor.Put(partial.Header, body); err != nil {
		log.Printf("[client] decode reconstructed chunk body: %v", err)
		return
	}
	metrics.ChunkReconstructions.Inc()
	c.readiness.MarkReady(partial.Header.PrevBlockHash, partial.Header.ShardID, &partial.Header, time.Now())
	c.emitter.Emit(events.Event{Type: events.EventChunkReady, Data: map[string]any{"shard": partial.Header.ShardID, "header_hash": partial.Header.ComputeHash()}})
}

// VerifyChallenge implements adapters.ClientAdapterForShardsManager; always
// fails: challenge verification needs execution-trace replay, which is
// intentionally left out.
func (c *Client) VerifyChallenge(result types.ChallengeResult) (bool, error) {
	return false, adapters.ErrChallengeVerificationDisabled
}

// --- netadapter.Dispatcher ---

// OnBlock implements network.Dispatcher.
func (c *Client) OnBlock(peerID string, block *types.Block, wasRequested bool) {
	c.peers.Observe(peerID, block.Header.Height)
	if err := c.ReceiveBlock(block, peerID, wasRequested); err != nil {
		log.Printf("[client] receive block from %s: %v", peerID, err)
	}
}

// OnApproval implements network.Dispatcher.
func (c *Client) OnApproval(peerID string, approval *types.Approval) {
	if err := c.CollectApproval(approval, types.ProvenancePeer); err != nil {
		if errors.Is(err, approvals.ErrSignerNotValidator) {
			c.net.Send(adapters.NetworkRequest{Kind: adapters.ReqBanPeer, PeerID: peerID, BanReason: adapters.BanBadBlockApproval})
		}
		log.Printf("[client] collect approval from %s: %v", peerID, err)
	}
}

// OnBlockRequest implements network.Dispatcher: answer a peer asking for a
// block by hash.
func (c *Client) OnBlockRequest(peerID string, hash types.Hash) {
	c.blockServer.HandleBlockRequest(peerID, hash)
}

// OnBlockHeadersRequest implements network.Dispatcher: answer a header-sync
// request with up to limit headers starting at fromHeight.
func (c *Client) OnBlockHeadersRequest(peerID string, fromHeight types.Height, limit int) {
	c.blockServer.HandleBlockHeadersRequest(peerID, fromHeight, limit)
}

// OnBlockHeaders implements network.Dispatcher: records the peer's
// reported height from the tallest header it sent.
func (c *Client) OnBlockHeaders(peerID string, headers []types.BlockHeader) {
	for _, h := range headers {
		c.peers.Observe(peerID, h.Height)
	}
}

// OnForwardTx implements network.Dispatcher.
func (c *Client) OnForwardTx(peerID string, tx *types.Transaction) {
	if _, err := c.ProcessTx(tx, true, false); err != nil {
		log.Printf("[client] process forwarded tx from %s: %v", peerID, err)
	}
}

// OnPartialEncodedChunkRequest implements network.Dispatcher: answer a
// shard-tracking peer's request for specific parts of a chunk this node
// produced.
func (c *Client) OnPartialEncodedChunkRequest(peerID string, req network.PartialChunkRequest) {
	parts := c.chunkStor.PartsOf(req.ChunkHash, req.PartOrdinals)
	if len(parts) == 0 {
		return
	}
	header, bodyLen, ok := c.chunkStor.HeaderFor(req.ChunkHash)
	if !ok {
		return
	}
	c.net.Send(adapters.NetworkRequest{
		Kind:   adapters.ReqPartialEncodedChunkResponse,
		PeerID: peerID,
		Payload: network.PartialChunkResponse{
			ChunkHash: req.ChunkHash,
			Header:    &header,
			BodyLen:   bodyLen,
			Parts:     parts,
		},
	})
}

// verifyChunkHeader checks the producer's election and signature for a
// chunk header received from the network. An unknown parent leaves the
// epoch unresolvable; such a header is accepted provisionally, since any
// block adopting it is fully validated on apply.
func (c *Client) verifyChunkHeader(header *types.ShardChunkHeader) bool {
	epochID, ok := c.chain.NextBlockEpochID(header.PrevBlockHash)
	if !ok {
		return true
	}
	elected, err := c.epochs.ChunkProducer(epochID, header.HeightCreated, header.ShardID)
	if err != nil || elected != header.Producer {
		return false
	}
	keyHex, ok := c.chain.PublicKeyOf(epochID, header.Producer)
	if !ok {
		return false
	}
	pub, err := crypto.PubKeyFromHex(keyHex)
	if err != nil {
		return false
	}
	return header.VerifySignature(pub) == nil
}

// OnPartialEncodedChunkResponse implements network.Dispatcher: feeds
// received parts into the reconstructor, and on completion notifies the
// shards-manager callback.
func (c *Client) OnPartialEncodedChunkResponse(peerID string, resp network.PartialChunkResponse) {
	if resp.Header == nil {
		return
	}
	if !c.verifyChunkHeader(resp.Header) {
		log.Printf("[client] chunk header from %s fails producer verification", peerID)
		return
	}
	done, err := c.chunkReco.AddParts(resp.Header, resp.BodyLen, resp.Parts, time.Now())
	if err != nil {
		log.Printf("[client] reconstruct chunk from %s: %v", peerID, err)
		return
	}
	if !done {
		return
	}
	c.OnChunkCompleted(&types.EncodedShardChunk{Header: *resp.Header, Parts: resp.Parts})
}

// OnChallenge implements network.Dispatcher: route the challenge through
// verification and ban the challenged producer's peer connection if it is
// upheld. Verification is always disabled in this
// module (see VerifyChallenge), so challenges are logged, never acted on.
func (c *Client) OnChallenge(peerID string, result types.ChallengeResult) {
	if _, err := c.VerifyChallenge(result); err != nil {
		log.Printf("[client] challenge from %s not verified: %v", peerID, err)
	}
}

// OnAnnounceAccount implements network.Dispatcher: record that accountID is
// reachable through peerID for future chain-info prioritization. This
// module's chaininfo.Publisher derives tier1 membership purely from epoch
// state, so the announcement is only logged, not stored.
func (c *Client) OnAnnounceAccount(peerID string, accountID types.AccountID) {
	log.Printf("[client] %s announced account %s", peerID, accountID)
}
