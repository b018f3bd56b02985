package client

import (
	"github.com/tolelom/shardcore/adapters"
	"github.com/tolelom/shardcore/catchup"
	"github.com/tolelom/shardcore/codec"
	"github.com/tolelom/shardcore/types"
)

// stateRequest is the payload for ReqStateRequestHeader/Part requests
// emitted while driving a shard's state download.
type stateRequest struct {
	SyncHash types.Hash    `json:"sync_hash"`
	Shard    types.ShardID `json:"shard"`
	Part     int           `json:"part,omitempty"`
}

// catchupDriver implements catchup.StateSyncDriver. It walks each shard
// down the download status ladder one Step at a time, emitting the
// matching state request at each stage. The in-memory runtime keeps full
// state locally, so each stage completes as soon as its request round is
// issued; a real state-sync backend would instead hold a stage open until
// the response arrives.
type catchupDriver struct {
	net   adapters.PeerManagerAdapter
	codec codec.ErasureCodec
}

var _ catchup.StateSyncDriver = (*catchupDriver)(nil)

func (d *catchupDriver) Step(syncHash types.Hash, shard types.ShardID, current *catchup.ShardSyncDownload) (catchup.DownloadStatus, error) {
	switch current.Status {
	case catchup.StatusStateSplitScheduling:
		// Splitting a parent shard's state is offloaded to the host's
		// scheduler; once scheduled, the download proper begins.
		return catchup.StatusHeaderRequested, nil

	case catchup.StatusHeaderRequested:
		d.net.Send(adapters.NetworkRequest{
			Kind:    adapters.ReqStateRequestHeader,
			Payload: stateRequest{SyncHash: syncHash, Shard: shard},
		})
		current.PartsTotal = d.codec.DataParts() + d.codec.ParityParts()
		current.PartsHave = 0
		return catchup.StatusPartsRequested, nil

	case catchup.StatusPartsRequested:
		if current.PartsHave < current.PartsTotal {
			d.net.Send(adapters.NetworkRequest{
				Kind:    adapters.ReqStateRequestPart,
				Payload: stateRequest{SyncHash: syncHash, Shard: shard, Part: current.PartsHave},
			})
			current.PartsHave++
		}
		if current.PartsHave < current.PartsTotal {
			return catchup.StatusPartsRequested, nil
		}
		return catchup.StatusValidating, nil

	case catchup.StatusValidating:
		return catchup.StatusApplying, nil

	case catchup.StatusApplying:
		return catchup.StatusCompleted, nil

	default:
		return catchup.StatusCompleted, nil
	}
}
