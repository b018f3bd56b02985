// Package syncer implements the sync orchestrator: the state
// machine that brings a node from a cold start to tracking the live chain
// head.
package syncer

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/tolelom/shardcore/adapters"
	"github.com/tolelom/shardcore/types"
)

// State is one stage of the sync state machine.
type State int

const (
	StateAwaitingPeers State = iota
	StateEpochSync
	StateHeaderSync
	StateBlockSync
	StateStateSync
	StateNoSync
)

func (s State) String() string {
	switch s {
	case StateAwaitingPeers:
		return "AwaitingPeers"
	case StateEpochSync:
		return "EpochSync"
	case StateHeaderSync:
		return "HeaderSync"
	case StateBlockSync:
		return "BlockSync"
	case StateStateSync:
		return "StateSync"
	case StateNoSync:
		return "NoSync"
	default:
		return "Unknown"
	}
}

// PeerHeights reports the network's view of peer availability and head lag
// the orchestrator transitions on.
type PeerHeights interface {
	PeerCount() int
	MaxPeerHeight() types.Height
	LocalHeight() types.Height
	// BlockFetchHorizon bounds how far ahead of local height BlockSync may
	// fetch in one pass.
	BlockFetchHorizon() types.Height
}

const minPeersToSync = 1

// blockRequestRate bounds how often BlockSync may issue a fresh
// ReqBlockRequest to avoid flooding a slow or lagging peer while still
// catching up at expectedHeightPerSecond.
const blockRequestRate = 5 // requests per second

// Orchestrator drives sync state transitions.
type Orchestrator struct {
	state                   State
	expectedHeightPerSecond types.Height
	lastProgressAt          time.Time
	lastProgressHeight      types.Height
	net                     adapters.PeerManagerAdapter
	peers                   PeerHeights
	requestLimiter          *rate.Limiter
}

// NewOrchestrator constructs an Orchestrator starting in AwaitingPeers.
func NewOrchestrator(net adapters.PeerManagerAdapter, peers PeerHeights, expectedHeightPerSecond types.Height) *Orchestrator {
	return &Orchestrator{
		state:                   StateAwaitingPeers,
		net:                     net,
		peers:                   peers,
		expectedHeightPerSecond: expectedHeightPerSecond,
		lastProgressAt:          time.Now(),
		requestLimiter:          rate.NewLimiter(rate.Limit(blockRequestRate), blockRequestRate),
	}
}

// State returns the orchestrator's current stage.
func (o *Orchestrator) State() State { return o.state }

// Step runs one evaluation of the state machine, transitioning as needed,
// and returns the (possibly new) state.
func (o *Orchestrator) Step(now time.Time) State {
	switch o.state {
	case StateAwaitingPeers:
		if o.peers.PeerCount() >= minPeersToSync {
			o.state = StateEpochSync
		}
	case StateEpochSync:
		// Epoch sync is a one-shot handshake handled by the host's epoch
		// sync request/response exchange; once the local epoch info is
		// fresh enough the orchestrator proceeds to header sync.
		o.state = StateHeaderSync
	case StateHeaderSync:
		o.stepHeaderSync(now)
	case StateBlockSync:
		o.stepBlockSync()
	case StateStateSync:
		o.stepStateSync()
	case StateNoSync:
		if o.peers.LocalHeight()+1 < o.peers.MaxPeerHeight() {
			o.state = StateBlockSync
		}
	}
	return o.state
}

func (o *Orchestrator) stepHeaderSync(now time.Time) {
	maxHeight, local := o.peers.MaxPeerHeight(), o.peers.LocalHeight()
	if maxHeight <= local {
		o.state = StateNoSync
		return
	}
	lag := maxHeight - local
	elapsed := now.Sub(o.lastProgressAt)
	if elapsed.Seconds() > 0 && o.expectedHeightPerSecond > 0 {
		expected := types.Height(elapsed.Seconds()) * o.expectedHeightPerSecond
		if o.peers.LocalHeight() <= o.lastProgressHeight && expected > 0 {
			// No forward progress within the expected bandwidth window:
			// the header-sync peer has stalled.
			o.net.Send(adapters.NetworkRequest{Kind: adapters.ReqBanPeer, BanReason: adapters.BanBadHandshake})
		}
	}
	if lag > o.peers.BlockFetchHorizon() {
		o.state = StateStateSync
		return
	}
	o.state = StateBlockSync
}

func (o *Orchestrator) stepBlockSync() {
	if o.peers.LocalHeight() >= o.peers.MaxPeerHeight() {
		o.state = StateNoSync
		return
	}
	if !o.requestLimiter.Allow() {
		return
	}
	o.net.Send(adapters.NetworkRequest{Kind: adapters.ReqBlockRequest})
}

func (o *Orchestrator) stepStateSync() {
	// The orchestrator only tracks the coarse state here; the catchup
	// coordinator owns per-shard download stepping.
	o.state = StateBlockSync
}

// RecordProgress updates the watermark used by the header-sync stall
// detector whenever the local height actually advances.
func (o *Orchestrator) RecordProgress(now time.Time, height types.Height) {
	o.lastProgressAt = now
	o.lastProgressHeight = height
}
