// Package approvals implements approval ingress: signature
// verification, epoch-boundary routing, and the pending-approval parking
// queue for approvals whose parent block is not yet known.
package approvals

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tolelom/shardcore/crypto"
	"github.com/tolelom/shardcore/doomslug"
	"github.com/tolelom/shardcore/epoch"
	"github.com/tolelom/shardcore/store"
	"github.com/tolelom/shardcore/types"
)

func defaultNow() time.Time { return time.Now() }

// ErrUnknownParent means the approval's parent block/header has not been
// seen yet; the caller should park it.
var ErrUnknownParent = errors.New("approvals: parent block unknown")

// ErrSignerNotValidator means signer matched neither the target epoch nor
// its successor.
var ErrSignerNotValidator = errors.New("approvals: signer is not a validator of the next block's epoch or the one after it")

// HeaderLookup resolves a parent hash/height to the epoch that will produce
// the next block on top of it, and the account's public key within an
// epoch — narrow views into the store/epoch manager that ingress needs.
type HeaderLookup interface {
	// HeaderByHeight resolves Skip(height) to the parent hash at that
	// height on the canonical chain, or ok=false if not yet known.
	HeaderByHeight(height types.Height) (hash types.Hash, ok bool)
	// NextBlockEpochID returns the epoch ID that a block built atop
	// parentHash would belong to, or ok=false if parentHash is unknown.
	NextBlockEpochID(parentHash types.Hash) (epochID types.EpochID, ok bool)
	// NextEpochIDOf returns the epoch that follows epochID, used for the
	// epoch-boundary fallback.
	NextEpochIDOf(epochID types.EpochID) (types.EpochID, bool)
	// PublicKeyOf returns signer's public key as recorded for epochID.
	PublicKeyOf(epochID types.EpochID, signer types.AccountID) (string, bool)
}

// ElectionChecker answers "is the local node the elected block producer for
// (epochID, targetHeight)".
type ElectionChecker interface {
	IsElectedBlockProducer(epochID types.EpochID, targetHeight types.Height) bool
}

// pendingApprovalsCacheSize bounds the pending-approval LRU.
const pendingApprovalsCacheSize = 1024

type pendingEntry struct {
	approval   *types.Approval
	provenance types.Provenance
}

// Ingress drives the approval pipeline.
type Ingress struct {
	lookup   HeaderLookup
	election ElectionChecker
	tracker  *doomslug.Tracker

	mu      sync.Mutex
	pending *lru.Cache[string, map[types.AccountID]pendingEntry]
}

// NewIngress wires an Ingress against the store/epoch lookups, election
// check, and Doomslug tracker it feeds.
func NewIngress(lookup HeaderLookup, election ElectionChecker, tracker *doomslug.Tracker) *Ingress {
	cache, err := lru.New[string, map[types.AccountID]pendingEntry](pendingApprovalsCacheSize)
	if err != nil {
		panic(err)
	}
	return &Ingress{lookup: lookup, election: election, tracker: tracker, pending: cache}
}

// Collect runs the approval ingress algorithm for one
// incoming approval. A nil error with no further action means the approval
// was either delivered to Doomslug, parked, or discarded as expected — the
// caller does not need to branch on outcome except to surface ErrSignerNotValidator
// as a ban-worthy condition for peer-provenance approvals.
func (ing *Ingress) Collect(approval *types.Approval, provenance types.Provenance) error {
	parentHash, ok := ing.resolveParentHash(approval.Inner)
	if !ok {
		ing.park(approval, provenance)
		return nil
	}

	nextEpochID, ok := ing.lookup.NextBlockEpochID(parentHash)
	if !ok {
		ing.park(approval, provenance)
		return nil
	}

	if provenance == types.ProvenancePeer {
		if err := ing.verifySignature(approval, nextEpochID); err != nil {
			return err
		}
	}

	if ing.election.IsElectedBlockProducer(nextEpochID, approval.TargetHeight) {
		ing.tracker.OnApprovalMessage(nowFunc(), approval)
		return nil
	}

	// Not our turn to build on this parent, and the parent is already
	// known locally, so this node will never consume the approval: discard.
	return nil
}

// verifySignature checks approval's signature under signer's key in
// nextEpochID, falling back to nextEpochID's successor to handle
// epoch-boundary approvals.
func (ing *Ingress) verifySignature(approval *types.Approval, nextEpochID types.EpochID) error {
	if ing.trySignatureIn(approval, nextEpochID) {
		return nil
	}
	if nextNextEpochID, ok := ing.lookup.NextEpochIDOf(nextEpochID); ok {
		if ing.trySignatureIn(approval, nextNextEpochID) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrSignerNotValidator, approval.AccountID)
}

func (ing *Ingress) trySignatureIn(approval *types.Approval, epochID types.EpochID) bool {
	pubHex, ok := ing.lookup.PublicKeyOf(epochID, approval.AccountID)
	if !ok {
		return false
	}
	pub, err := crypto.PubKeyFromHex(pubHex)
	if err != nil {
		return false
	}
	return crypto.Verify(pub, approval.DataForSig(), approval.Signature) == nil
}

func (ing *Ingress) resolveParentHash(inner types.ApprovalInner) (types.Hash, bool) {
	if inner.Kind == types.KindEndorsement {
		return inner.ParentHash, true
	}
	return ing.lookup.HeaderByHeight(inner.ParentHeight)
}

func (ing *Ingress) park(approval *types.Approval, provenance types.Provenance) {
	ing.mu.Lock()
	defer ing.mu.Unlock()

	key := approval.Inner.Key()
	signers, ok := ing.pending.Get(key)
	if !ok {
		signers = make(map[types.AccountID]pendingEntry)
	}
	signers[approval.AccountID] = pendingEntry{approval: approval, provenance: provenance}
	ing.pending.Add(key, signers)
}

// DrainFor returns and removes the parked approvals keyed by inner, called
// once the corresponding parent block becomes known. Provenance is not
// preserved on this path; callers
// that need it (OnBlockAccepted) use drainEntries instead.
func (ing *Ingress) DrainFor(inner types.ApprovalInner) []*types.Approval {
	entries := ing.drainEntries(inner)
	out := make([]*types.Approval, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.approval)
	}
	return out
}

func (ing *Ingress) drainEntries(inner types.ApprovalInner) []pendingEntry {
	ing.mu.Lock()
	defer ing.mu.Unlock()

	key := inner.Key()
	signers, ok := ing.pending.Get(key)
	if !ok {
		return nil
	}
	ing.pending.Remove(key)

	out := make([]pendingEntry, 0, len(signers))
	for _, e := range signers {
		out = append(out, e)
	}
	return out
}

// OnBlockAccepted drains approvals parked under Endorsement(blockHash) and
// Skip(blockHeight) and re-feeds each through Collect now that the parent
// is known, preserving each approval's original provenance.
// Errors from individual re-fed approvals (e.g. a signer that turns out not
// to validate) are swallowed here the same way a first-pass peer approval's
// rejection is: the caller only needs to act on Collect's own return value
// for freshly-arrived approvals.
func (ing *Ingress) OnBlockAccepted(blockHash types.Hash, blockHeight types.Height) {
	parked := ing.drainEntries(types.Endorsement(blockHash))
	parked = append(parked, ing.drainEntries(types.Skip(blockHeight))...)
	for _, e := range parked {
		_ = ing.Collect(e.approval, e.provenance)
	}
}

// nowFunc is a var, not a direct time.Now() call, so tests can stub
// deterministic timestamps without threading a clock through every Collect
// call.
var nowFunc = defaultNow

// ErrorAction is the disposition classifyError assigns an error surfaced
// while resolving an approval's parent/epoch context.
type ErrorAction int

const (
	// ActionPark means the underlying lookup simply hasn't seen the data
	// yet; the caller should park the approval and retry once it arrives.
	ActionPark ErrorAction = iota
	// ActionDrop means the error reflects a definite, permanent fact (the
	// signer holds no seat anywhere relevant) rather than missing data;
	// parking would never resolve it, so the approval is dropped silently.
	ActionDrop
	// ActionLog covers everything else: surfaced to the operator, approval
	// still dropped since Collect has no other recovery path for it.
	ActionLog
)

// classifyError dispatches an error surfaced while resolving approval
// context against a chain-store-backed HeaderLookup/ElectionChecker: a store.ErrNotFound means the parent block or epoch info
// just hasn't landed locally yet (park); epoch.ErrNotAValidator means the
// signer is known but holds no seat (drop); anything else is unexpected and
// gets logged so an operator notices a real fault.
func classifyError(err error) ErrorAction {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ActionPark
	case errors.Is(err, epoch.ErrNotAValidator):
		return ActionDrop
	default:
		return ActionLog
	}
}

// ClassifyError exposes classifyError to HeaderLookup/ElectionChecker
// implementations outside this package (the client package's chain-backed
// lookup) so the action taken for a given underlying error stays consistent
// with Collect's own parking/dropping behavior.
func ClassifyError(err error) ErrorAction {
	action := classifyError(err)
	if action == ActionLog {
		log.Printf("[approvals] unexpected error resolving approval context: %v", err)
	}
	return action
}
