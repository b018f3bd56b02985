package doomslug

import (
	"testing"
	"time"

	"github.com/tolelom/shardcore/types"
)

func approvalFor(signer types.AccountID, inner types.ApprovalInner, target types.Height) *types.Approval {
	return &types.Approval{Inner: inner, TargetHeight: target, AccountID: signer, Signature: "sig-" + signer}
}

func TestSetTipRejectsHeightRegression(t *testing.T) {
	tr := New(TwoThirds)
	tr.SetTip(time.Now(), "h1", 10, 5)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on height regression")
		}
	}()
	tr.SetTip(time.Now(), "h0", 9, 5)
}

func TestSetTipRejectsFinalHeightRegression(t *testing.T) {
	tr := New(TwoThirds)
	tr.SetTip(time.Now(), "h1", 10, 8)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on last_final_height regression")
		}
	}()
	tr.SetTip(time.Now(), "h2", 11, 7)
}

func TestWitnessReachesThresholdWithEndorsements(t *testing.T) {
	tr := New(TwoThirds)
	tr.SetTip(time.Now(), "tip-hash", 10, 9)

	stakes := map[types.AccountID]uint64{"a": 34, "b": 33, "c": 33}
	total := uint64(100)

	inner := types.Endorsement("tip-hash")
	tr.OnApprovalMessage(time.Now(), approvalFor("a", inner, 11))
	tr.OnApprovalMessage(time.Now(), approvalFor("b", inner, 11))

	w := tr.GetWitness(11, stakes, total)
	if len(w) != 2 {
		t.Fatalf("witness size: got %d want 2", len(w))
	}
	if !tr.ReachesThreshold(w, stakes, total) {
		t.Error("67 of 100 stake should reach two-thirds threshold")
	}
}

func TestWitnessBelowThresholdWithOneEndorsement(t *testing.T) {
	tr := New(TwoThirds)
	tr.SetTip(time.Now(), "tip-hash", 10, 9)

	stakes := map[types.AccountID]uint64{"a": 34, "b": 33, "c": 33}
	total := uint64(100)

	inner := types.Endorsement("tip-hash")
	tr.OnApprovalMessage(time.Now(), approvalFor("a", inner, 11))

	w := tr.GetWitness(11, stakes, total)
	if tr.ReachesThreshold(w, stakes, total) {
		t.Error("34 of 100 stake should not reach two-thirds threshold")
	}
}

func TestOnApprovalMessageDeduplicatesPerSigner(t *testing.T) {
	tr := New(TwoThirds)
	tr.SetTip(time.Now(), "tip-hash", 10, 9)

	inner := types.Endorsement("tip-hash")
	first := approvalFor("a", inner, 11)
	second := approvalFor("a", inner, 11)
	second.Signature = "different-sig"

	tr.OnApprovalMessage(time.Now(), first)
	tr.OnApprovalMessage(time.Now(), second)

	w := tr.GetWitness(11, map[types.AccountID]uint64{"a": 1}, 1)
	if w["a"] != first.Signature {
		t.Errorf("expected first-recorded signature to win, got %q", w["a"])
	}
}

func TestGetWitnessConsumesSignersOncePerHeight(t *testing.T) {
	tr := New(NoApprovals)
	tr.SetTip(time.Now(), "tip-hash", 10, 9)

	inner := types.Endorsement("tip-hash")
	tr.OnApprovalMessage(time.Now(), approvalFor("a", inner, 11))

	stakes := map[types.AccountID]uint64{"a": 1}
	first := tr.GetWitness(11, stakes, 1)
	second := tr.GetWitness(11, stakes, 1)

	if len(first) != 1 {
		t.Fatalf("first witness: got %d want 1", len(first))
	}
	if len(second) != 0 {
		t.Errorf("second witness for the same height should be empty, got %d entries", len(second))
	}
}

func TestSkipApprovalsFillIntermediateHeights(t *testing.T) {
	tr := New(TwoThirds)
	tr.SetTip(time.Now(), "tip-hash", 10, 9)

	stakes := map[types.AccountID]uint64{"a": 50, "b": 50}
	total := uint64(100)

	tr.OnApprovalMessage(time.Now(), approvalFor("a", types.Skip(10), 13))
	tr.OnApprovalMessage(time.Now(), approvalFor("b", types.Skip(12), 13))

	w := tr.GetWitness(13, stakes, total)
	if !tr.ReachesThreshold(w, stakes, total) {
		t.Error("skip approvals spanning the intermediate heights should reach threshold")
	}
}
