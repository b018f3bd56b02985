// Package doomslug implements the Doomslug approval tracker: it
// aggregates endorsements and skips by target height, weighs them by
// approver stake, and derives the witness a block producer embeds when it
// builds atop the current tip; ReachesThreshold checks a witness against the
// two-thirds-stake rule.
package doomslug

import (
	"sync"
	"time"

	"github.com/tolelom/shardcore/types"
)

// ThresholdMode selects how ReachesThreshold decides a witness is sufficient.
type ThresholdMode uint8

const (
	// TwoThirds requires endorsing/skipping stake to reach 2/3 of total
	// approver stake, the production rule.
	TwoThirds ThresholdMode = iota
	// NoApprovals always succeeds with whatever has been recorded; used by
	// single-node test harnesses that never see a quorum of approvals.
	NoApprovals
)

// Tip mirrors the tracked chain tip.
type Tip struct {
	Hash            types.Hash
	Height          types.Height
	LastFinalHeight types.Height
}

// Tracker maintains one chain's approval-aggregation state. It is safe for
// concurrent use; the host invokes SetTip and OnApprovalMessage from ingress
// handlers and GetWitness from the block producer.
type Tracker struct {
	mu sync.Mutex

	tip       Tip
	threshold ThresholdMode

	// approvals maps an ApprovalInner's key to the set of signers recorded
	// for it, along with enough of the approval to rebuild the witness.
	approvals map[string]map[types.AccountID]recorded

	// consumed tracks, per target height, which signers have already been
	// drawn into a produced witness so a given block producer call can
	// never hand out the same signer's signature twice for one block.
	consumed map[types.Height]map[types.AccountID]bool
}

type recorded struct {
	approval *types.Approval
	received time.Time
}

// New constructs an empty Tracker with the given threshold mode.
func New(threshold ThresholdMode) *Tracker {
	return &Tracker{
		threshold: threshold,
		approvals: make(map[string]map[types.AccountID]recorded),
		consumed:  make(map[types.Height]map[types.AccountID]bool),
	}
}

// SetTip advances the tracked tip. Height must be monotone non-decreasing
// and LastFinalHeight must never decrease; violating
// either is a caller bug and panics rather than silently corrupting state.
func (t *Tracker) SetTip(now time.Time, hash types.Hash, height, lastFinalHeight types.Height) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if height < t.tip.Height {
		panic("doomslug: SetTip called with a height behind the current tip")
	}
	if lastFinalHeight < t.tip.LastFinalHeight {
		panic("doomslug: SetTip called with last_final_height moving backward")
	}
	t.tip = Tip{Hash: hash, Height: height, LastFinalHeight: lastFinalHeight}

	// Approvals and consumption records for heights at or below the new
	// tip can never again contribute to a witness; drop them so the maps
	// don't grow without bound across a long-running chain.
	for key, signers := range t.approvals {
		for signer, rec := range signers {
			if rec.approval.TargetHeight <= height {
				delete(signers, signer)
			}
		}
		if len(signers) == 0 {
			delete(t.approvals, key)
		}
	}
	for h := range t.consumed {
		if h <= height {
			delete(t.consumed, h)
		}
	}
}

// CurrentTip returns the tracked tip.
func (t *Tracker) CurrentTip() Tip {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tip
}

// OnApprovalMessage records approval if it is not a duplicate for its
// signer under its (inner, target_height) key. The caller has already
// verified the signature (or the approval is self-provenance); this method
// only deduplicates and stores.
func (t *Tracker) OnApprovalMessage(now time.Time, approval *types.Approval) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := approval.Inner.Key()
	signers, ok := t.approvals[key]
	if !ok {
		signers = make(map[types.AccountID]recorded)
		t.approvals[key] = signers
	}
	if _, exists := signers[approval.AccountID]; exists {
		return
	}
	signers[approval.AccountID] = recorded{approval: approval, received: now}
}

// Witness is the signer->signature map the block producer embeds in a
// produced block's approval vector.
type Witness map[types.AccountID]types.Signature

// GetWitness computes, for a candidate target height above the tracked tip,
// the set of endorsements of the current tip plus skips of intermediate
// heights recorded so far, whatever stake they commit, then marks
// every included signer as consumed for targetHeight so a second call for
// the same height returns none of them again.
//
// stakes gives each approver's weight under the epoch that will produce
// targetHeight; totalStake is the sum of all approver stakes in that epoch.
func (t *Tracker) GetWitness(targetHeight types.Height, stakes map[types.AccountID]uint64, totalStake uint64) Witness {
	t.mu.Lock()
	defer t.mu.Unlock()

	witness := make(Witness)

	consumed := t.consumed[targetHeight]
	if consumed == nil {
		consumed = make(map[types.AccountID]bool)
		t.consumed[targetHeight] = consumed
	}

	take := func(key string) {
		signers := t.approvals[key]
		for signer, rec := range signers {
			if consumed[signer] {
				continue
			}
			if rec.approval.TargetHeight != targetHeight {
				continue
			}
			stake := stakes[signer]
			if stake == 0 {
				continue
			}
			witness[signer] = rec.approval.Signature
			consumed[signer] = true
		}
	}

	// Endorsements of the current tip.
	take(types.Endorsement(t.tip.Hash).Key())
	// Skips of every intermediate height between the tip and the
	// candidate, inclusive, since any of them may have been signed.
	for h := t.tip.Height; h < targetHeight; h++ {
		take(types.Skip(h).Key())
	}

	// Even below the 2/3 threshold the recorded witness is returned.
	// ReachesThreshold reports whether it meets the threshold;
	// blockproducer.Producer embeds the witness without calling it.
	return witness
}

// ReachesThreshold reports whether witness's committed stake meets this
// Tracker's threshold mode given the epoch's stake table.
func (t *Tracker) ReachesThreshold(witness Witness, stakes map[types.AccountID]uint64, totalStake uint64) bool {
	if t.threshold == NoApprovals {
		return true
	}
	var committed uint64
	for signer := range witness {
		committed += stakes[signer]
	}
	return totalStake == 0 || committed*3 >= totalStake*2
}
