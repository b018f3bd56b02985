package client

import (
	"sync"

	"github.com/tolelom/shardcore/types"
)

// blockFetchHorizon bounds how far ahead of local height BlockSync may
// fetch in one pass.
const blockFetchHorizon = types.Height(500)

// PeerHeights implements syncer.PeerHeights by tracking the highest height
// each connected peer has announced, derived from the headers/blocks they
// send rather than from a dedicated handshake field: height announcement
// piggybacks on normal ingress traffic instead of widening the handshake.
type PeerHeights struct {
	chain *ChainAdapter

	mu      sync.RWMutex
	heights map[string]types.Height
}

// NewPeerHeights wires a PeerHeights tracker against the local chain view.
func NewPeerHeights(chain *ChainAdapter) *PeerHeights {
	return &PeerHeights{chain: chain, heights: make(map[string]types.Height)}
}

// Observe records height as peerID's latest known height if it advances
// what was previously recorded.
func (p *PeerHeights) Observe(peerID string, height types.Height) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if height > p.heights[peerID] {
		p.heights[peerID] = height
	}
}

// Forget drops a disconnected or banned peer's recorded height.
func (p *PeerHeights) Forget(peerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.heights, peerID)
}

// PeerCount returns the number of peers with a recorded height.
func (p *PeerHeights) PeerCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.heights)
}

// MaxPeerHeight returns the highest height announced by any peer.
func (p *PeerHeights) MaxPeerHeight() types.Height {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var max types.Height
	for _, h := range p.heights {
		if h > max {
			max = h
		}
	}
	return max
}

// LocalHeight returns the tracked chain's head height.
func (p *PeerHeights) LocalHeight() types.Height {
	_, height := p.chain.Head()
	return height
}

// BlockFetchHorizon returns the fixed block-sync fetch horizon.
func (p *PeerHeights) BlockFetchHorizon() types.Height {
	return blockFetchHorizon
}
