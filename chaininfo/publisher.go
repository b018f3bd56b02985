// Package chaininfo implements the chain info publisher: on
// every head change it tells the network layer which accounts are "tier1"
// for the current and next epoch, so the transport can prioritise
// connections to them.
package chaininfo

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tolelom/shardcore/adapters"
	"github.com/tolelom/shardcore/epoch"
	"github.com/tolelom/shardcore/types"
)

// tier1CacheSize bounds how many epochs' worth of computed tier1 sets stay
// cached; only the current and next epoch are ever needed at once, but a
// small cushion absorbs a lagging publish during an epoch boundary.
const tier1CacheSize = 4

// ChainInfo is the payload sent to the network layer on head change.
type ChainInfo struct {
	Height        types.Height           `json:"height"`
	TrackedShards []types.ShardID        `json:"tracked_shards"`
	Tier1Accounts []types.ValidatorStake `json:"tier1_accounts"`
}

// Publisher computes and caches the tier1 account set per epoch and emits
// ChainInfo to the network adapter whenever the head changes.
type Publisher struct {
	epochs *epoch.Manager
	net    adapters.PeerManagerAdapter

	mu    sync.Mutex
	cache *lru.Cache[types.EpochID, []types.ValidatorStake]
}

// NewPublisher wires a Publisher against the epoch manager it reads
// producer sets from and the network adapter it publishes through.
func NewPublisher(epochs *epoch.Manager, net adapters.PeerManagerAdapter) *Publisher {
	cache, err := lru.New[types.EpochID, []types.ValidatorStake](tier1CacheSize)
	if err != nil {
		panic(err)
	}
	return &Publisher{epochs: epochs, net: net, cache: cache}
}

// PublishOnHeadChange computes (or reuses the cached) tier1 set for
// epochID/nextEpochID and sends a SetChainInfo request. Callers are
// free to coalesce calls across intermediate head changes within the same
// epoch.
func (p *Publisher) PublishOnHeadChange(epochID, nextEpochID types.EpochID, height types.Height, trackedShards []types.ShardID) error {
	tier1, err := p.tier1For(epochID, nextEpochID)
	if err != nil {
		return err
	}
	p.net.Send(adapters.NetworkRequest{
		Kind: adapters.ReqSetChainInfo,
		Payload: ChainInfo{
			Height:        height,
			TrackedShards: trackedShards,
			Tier1Accounts: tier1,
		},
	})
	return nil
}

// tier1For returns the cached tier1 set for epochID, computing and caching it
// on first request. The cache key is epochID alone: the caller-supplied
// nextEpochID is only used when the entry is first computed, so a later
// call with the same epochID and a different nextEpochID gets the cached set.
func (p *Publisher) tier1For(epochID, nextEpochID types.EpochID) ([]types.ValidatorStake, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cached, ok := p.cache.Get(epochID); ok {
		return cached, nil
	}

	tier1, err := p.computeTier1(epochID, nextEpochID)
	if err != nil {
		return nil, err
	}
	p.cache.Add(epochID, tier1)
	return tier1, nil
}

// computeTier1 unions the block producers and chunk producers (all shards)
// of epochID and nextEpochID, resolving each account to its public key via
// the approver list of the epoch it was found in.
func (p *Publisher) computeTier1(epochID, nextEpochID types.EpochID) ([]types.ValidatorStake, error) {
	cur, err := p.epochs.Info(epochID)
	if err != nil {
		return nil, err
	}
	next, err := p.epochs.Info(nextEpochID)
	if err != nil {
		return nil, err
	}

	byAccount := make(map[types.AccountID]types.ValidatorStake)
	pubKey := func(stakes []types.ValidatorStake, id types.AccountID) (string, bool) {
		for _, s := range stakes {
			if s.AccountID == id {
				return s.PublicKey, true
			}
		}
		return "", false
	}

	addProducers := func(info *epoch.Info) {
		for _, id := range info.BlockProducers {
			if _, ok := byAccount[id]; ok {
				continue
			}
			if key, ok := pubKey(info.Approvers, id); ok {
				byAccount[id] = types.ValidatorStake{AccountID: id, PublicKey: key, Stake: info.Stakes[id]}
			}
		}
		for _, seats := range info.ChunkProducers {
			for _, id := range seats {
				if _, ok := byAccount[id]; ok {
					continue
				}
				if key, ok := pubKey(info.Approvers, id); ok {
					byAccount[id] = types.ValidatorStake{AccountID: id, PublicKey: key, Stake: info.Stakes[id]}
				}
			}
		}
	}
	addProducers(cur)
	addProducers(next)

	tier1 := make([]types.ValidatorStake, 0, len(byAccount))
	for _, v := range byAccount {
		tier1 = append(tier1, v)
	}
	return tier1, nil
}

// InvalidateEpoch drops any cached tier1 set for epochID, forcing the next
// PublishOnHeadChange call to recompute it. Used when the epoch manager's
// Info for epochID is replaced (a validator set correction) rather than
// freshly installed for the first time.
func (p *Publisher) InvalidateEpoch(epochID types.EpochID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Remove(epochID)
}
