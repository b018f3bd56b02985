package syncer

import (
	"testing"
	"time"

	"github.com/tolelom/shardcore/adapters"
	"github.com/tolelom/shardcore/types"
)

type fakePeers struct {
	count        int
	maxHeight    types.Height
	localHeight  types.Height
	fetchHorizon types.Height
}

func (f *fakePeers) PeerCount() int                  { return f.count }
func (f *fakePeers) MaxPeerHeight() types.Height     { return f.maxHeight }
func (f *fakePeers) LocalHeight() types.Height       { return f.localHeight }
func (f *fakePeers) BlockFetchHorizon() types.Height { return f.fetchHorizon }

type recordingNet struct {
	sent []adapters.NetworkRequest
}

func (r *recordingNet) Send(req adapters.NetworkRequest) {
	r.sent = append(r.sent, req)
}

func (r *recordingNet) countKind(kind adapters.NetworkRequestKind) int {
	n := 0
	for _, req := range r.sent {
		if req.Kind == kind {
			n++
		}
	}
	return n
}

func TestAwaitsPeersUntilOneConnects(t *testing.T) {
	peers := &fakePeers{count: 0}
	o := NewOrchestrator(&recordingNet{}, peers, 1)

	if got := o.Step(time.Now()); got != StateAwaitingPeers {
		t.Fatalf("no peers: got %v", got)
	}
	peers.count = 1
	if got := o.Step(time.Now()); got != StateEpochSync {
		t.Fatalf("one peer: got %v", got)
	}
}

func TestHeaderSyncReachesNoSyncWhenCaughtUp(t *testing.T) {
	peers := &fakePeers{count: 1, maxHeight: 10, localHeight: 10, fetchHorizon: 100}
	o := NewOrchestrator(&recordingNet{}, peers, 1)

	now := time.Now()
	o.Step(now) // AwaitingPeers -> EpochSync
	o.Step(now) // EpochSync -> HeaderSync
	if got := o.Step(now); got != StateNoSync {
		t.Fatalf("zero lag: got %v want NoSync", got)
	}
}

func TestHeaderSyncEscalatesToStateSyncBeyondHorizon(t *testing.T) {
	peers := &fakePeers{count: 1, maxHeight: 1000, localHeight: 10, fetchHorizon: 100}
	o := NewOrchestrator(&recordingNet{}, peers, 1)

	now := time.Now()
	o.Step(now)
	o.Step(now)
	if got := o.Step(now); got != StateStateSync {
		t.Fatalf("lag beyond horizon: got %v want StateSync", got)
	}
	// State sync hands per-shard downloads to the catchup machinery and
	// falls through to block sync.
	if got := o.Step(now); got != StateBlockSync {
		t.Fatalf("after state sync: got %v want BlockSync", got)
	}
}

func TestBlockSyncRequestsBlocksThenCompletes(t *testing.T) {
	net := &recordingNet{}
	peers := &fakePeers{count: 1, maxHeight: 20, localHeight: 10, fetchHorizon: 100}
	o := NewOrchestrator(net, peers, 1)

	now := time.Now()
	o.Step(now)
	o.Step(now)
	if got := o.Step(now); got != StateBlockSync {
		t.Fatalf("lag within horizon: got %v want BlockSync", got)
	}

	o.Step(now)
	if net.countKind(adapters.ReqBlockRequest) == 0 {
		t.Fatal("block sync should request blocks")
	}

	peers.localHeight = 20
	if got := o.Step(now); got != StateNoSync {
		t.Fatalf("caught up: got %v want NoSync", got)
	}
}

func TestNoSyncFallsBackWhenHeadLagsAgain(t *testing.T) {
	peers := &fakePeers{count: 1, maxHeight: 10, localHeight: 10, fetchHorizon: 100}
	o := NewOrchestrator(&recordingNet{}, peers, 1)

	now := time.Now()
	o.Step(now)
	o.Step(now)
	o.Step(now) // NoSync

	peers.maxHeight = 15
	if got := o.Step(now); got != StateBlockSync {
		t.Fatalf("lagging head: got %v want BlockSync", got)
	}
}

func TestHeaderSyncStallBansPeer(t *testing.T) {
	net := &recordingNet{}
	peers := &fakePeers{count: 1, maxHeight: 50, localHeight: 10, fetchHorizon: 100}
	o := NewOrchestrator(net, peers, 1)

	start := time.Now()
	o.Step(start)
	o.Step(start)
	o.RecordProgress(start, 10)

	// Ten seconds later the local height has not moved; the expected
	// bandwidth says it should have.
	o.Step(start.Add(10 * time.Second))
	if net.countKind(adapters.ReqBanPeer) == 0 {
		t.Fatal("stalled header sync should ban the peer")
	}
}
