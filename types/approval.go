package types

import "fmt"

// ApprovalKind distinguishes an endorsement of a specific parent block from
// a skip of a specific parent height.
type ApprovalKind uint8

const (
	KindEndorsement ApprovalKind = iota
	KindSkip
)

// ApprovalInner is the part of an approval that is keyed and deduplicated on
// by the Doomslug tracker: an endorsement names the parent block hash it
// builds on, a skip names the parent height it skips past.
type ApprovalInner struct {
	Kind         ApprovalKind `json:"kind"`
	ParentHash   Hash         `json:"parent_hash,omitempty"`   // set iff Kind == KindEndorsement
	ParentHeight Height       `json:"parent_height,omitempty"` // set iff Kind == KindSkip
}

// Key returns a string uniquely identifying this ApprovalInner, suitable as
// a map/cache key.
func (in ApprovalInner) Key() string {
	if in.Kind == KindSkip {
		return fmt.Sprintf("skip:%d", in.ParentHeight)
	}
	return fmt.Sprintf("endorse:%s", in.ParentHash)
}

// Endorsement builds an ApprovalInner that endorses parentHash.
func Endorsement(parentHash Hash) ApprovalInner {
	return ApprovalInner{Kind: KindEndorsement, ParentHash: parentHash}
}

// Skip builds an ApprovalInner that skips parentHeight.
func Skip(parentHeight Height) ApprovalInner {
	return ApprovalInner{Kind: KindSkip, ParentHeight: parentHeight}
}

// Approval is a signed commitment from a validator to either endorse a
// specific parent block or skip a specific parent height, targeting a given
// height for the next block.
type Approval struct {
	Inner        ApprovalInner `json:"inner"`
	TargetHeight Height        `json:"target_height"`
	AccountID    AccountID     `json:"account_id"`
	Signature    Signature     `json:"signature"`
}

// DataForSig returns the exact byte payload that is signed/verified for an
// approval: the kind tag, the referenced hash or height, and the target
// height, so that an endorsement and a skip can never collide in signature
// space even if their encodings overlapped.
func (a *Approval) DataForSig() []byte {
	return []byte(fmt.Sprintf("%s:%d", a.Inner.Key(), a.TargetHeight))
}

// Provenance records whether an approval arrived from this node's own
// signer or from a peer; peer-provenance approvals require signature
// verification, self-provenance ones do not.
type Provenance uint8

const (
	ProvenanceSelf Provenance = iota
	ProvenancePeer
)
