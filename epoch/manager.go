package epoch

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tolelom/shardcore/types"
)

// ErrUnknownEpoch is returned when a query names an epoch the manager has
// not been told about yet (analogous to near_chain::Error::EpochOutOfBounds).
var ErrUnknownEpoch = errors.New("epoch: unknown epoch id")

// ErrNotAValidator is returned when an account holds no seat in the epoch
// consulted; approval ingress's classifyError treats it as a drop.
var ErrNotAValidator = errors.New("epoch: account is not a validator in this epoch")

// Manager caches Info for every epoch the node currently needs (typically
// the current and next two epochs, to support the approval fallback and
// epoch-boundary block assembly).
type Manager struct {
	mu    sync.RWMutex
	infos map[types.EpochID]*Info
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{infos: make(map[types.EpochID]*Info)}
}

// Set installs or replaces the Info for one epoch.
func (m *Manager) Set(info *Info) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos[info.EpochID] = info
}

// Info returns the cached epoch info, or ErrUnknownEpoch.
func (m *Manager) Info(epochID types.EpochID) (*Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.infos[epochID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEpoch, epochID)
	}
	return info, nil
}

// BlockProducer returns the elected block producer for (epochID, height).
func (m *Manager) BlockProducer(epochID types.EpochID, height types.Height) (types.AccountID, error) {
	info, err := m.Info(epochID)
	if err != nil {
		return "", err
	}
	return info.blockProducerAt(height)
}

// ChunkProducer returns the elected chunk producer for (epochID, height, shard).
func (m *Manager) ChunkProducer(epochID types.EpochID, height types.Height, shard types.ShardID) (types.AccountID, error) {
	info, err := m.Info(epochID)
	if err != nil {
		return "", err
	}
	return info.chunkProducerAt(height, shard)
}

// IsValidator reports whether accountID is a validator of epochID. Returns
// ErrUnknownEpoch if epochID hasn't been installed, ErrNotAValidator if the
// epoch is known but accountID holds no seat in it.
func (m *Manager) IsValidator(epochID types.EpochID, accountID types.AccountID) error {
	info, err := m.Info(epochID)
	if err != nil {
		return err
	}
	if !info.IsValidator(accountID) {
		return ErrNotAValidator
	}
	return nil
}

// ApproversOrdered returns the canonical approver order for epochID.
func (m *Manager) ApproversOrdered(epochID types.EpochID) ([]types.ValidatorStake, error) {
	info, err := m.Info(epochID)
	if err != nil {
		return nil, err
	}
	return info.Approvers, nil
}

// AccountToShard resolves the shard an account belongs to under epochID's
// shard layout.
func (m *Manager) AccountToShard(epochID types.EpochID, accountID types.AccountID) (types.ShardID, error) {
	info, err := m.Info(epochID)
	if err != nil {
		return 0, err
	}
	return info.ShardLayout.AccountToShard(accountID), nil
}

// ProtocolVersion returns the protocol version in force during epochID.
func (m *Manager) ProtocolVersion(epochID types.EpochID) (uint32, error) {
	info, err := m.Info(epochID)
	if err != nil {
		return 0, err
	}
	return info.ProtocolVersion, nil
}

// WillShardLayoutChange reports whether nextEpochID's shard layout differs
// from epochID's.
func (m *Manager) WillShardLayoutChange(epochID, nextEpochID types.EpochID) (bool, error) {
	cur, err := m.Info(epochID)
	if err != nil {
		return false, err
	}
	next, err := m.Info(nextEpochID)
	if err != nil {
		return false, err
	}
	return cur.ShardLayout.Version != next.ShardLayout.Version, nil
}

// StakesOf returns the epoch's full approver set with stakes, used by
// Doomslug to evaluate the two-thirds threshold.
func (m *Manager) StakesOf(epochID types.EpochID) (map[types.AccountID]uint64, error) {
	info, err := m.Info(epochID)
	if err != nil {
		return nil, err
	}
	return info.Stakes, nil
}

// MustEqual panics if expected != got. An epoch id recomputed from a
// parent hash must match the epoch id already recorded for that block;
// a mismatch is a safety invariant violation, not a recoverable error.
func MustEqual(what string, expected, got types.EpochID) {
	if expected != got {
		panic(fmt.Sprintf("epoch: invariant violated: %s: expected %q got %q", what, expected, got))
	}
}
