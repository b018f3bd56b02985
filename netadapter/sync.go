package network

import (
	"log"

	"github.com/tolelom/shardcore/adapters"
	"github.com/tolelom/shardcore/types"
)

// maxBlockHeadersPerResponse bounds a single BlockHeaders reply, mirroring
// the clamp block-sync applies on the request side.
const maxBlockHeadersPerResponse = 200

// respBlockHeaders is the response-direction counterpart to
// adapters.ReqBlockHeadersRequest, named locally rather than widening the
// adapters enum for a single local consumer.
const respBlockHeaders adapters.NetworkRequestKind = "BlockHeaders"

// BlockSource is the narrow view into chain_store a BlockServer needs to
// answer peer requests; store.ChainStore satisfies it without netadapter
// importing store.
type BlockSource interface {
	GetBlock(hash types.Hash) (*types.Block, error)
	GetBlockByHeight(height types.Height) (*types.Block, error)
}

// BlockServer answers BlockRequest and BlockHeadersRequest messages from
// peers. It is registered as part of a Dispatcher
// implementation's delegation, not as a Dispatcher itself, since the rest
// of ingress (blocks, approvals, txs, chunks) is owned by the client
// package.
type BlockServer struct {
	net    adapters.PeerManagerAdapter
	source BlockSource
}

// NewBlockServer constructs a BlockServer that replies over net using
// blocks read from source.
func NewBlockServer(net adapters.PeerManagerAdapter, source BlockSource) *BlockServer {
	return &BlockServer{net: net, source: source}
}

// HandleBlockRequest looks up hash and, if found, sends it back to
// peerID.
func (s *BlockServer) HandleBlockRequest(peerID string, hash types.Hash) {
	block, err := s.source.GetBlock(hash)
	if err != nil {
		log.Printf("[sync] block %s requested by %s not found: %v", hash, peerID, err)
		return
	}
	s.net.Send(adapters.NetworkRequest{Kind: adapters.ReqBlock, PeerID: peerID, Payload: block})
}

// HandleBlockHeadersRequest serves up to limit consecutive headers starting
// at fromHeight.
func (s *BlockServer) HandleBlockHeadersRequest(peerID string, fromHeight types.Height, limit int) {
	if limit <= 0 || limit > maxBlockHeadersPerResponse {
		limit = maxBlockHeadersPerResponse
	}
	headers := make([]types.BlockHeader, 0, limit)
	for h := fromHeight; h < fromHeight+types.Height(limit); h++ {
		block, err := s.source.GetBlockByHeight(h)
		if err != nil {
			break
		}
		headers = append(headers, block.Header)
	}
	s.net.Send(adapters.NetworkRequest{Kind: respBlockHeaders, PeerID: peerID, Payload: headers})
}

// RequestBlock asks net (typically a specific peer) for the block hashed
// hash.
func RequestBlock(net adapters.PeerManagerAdapter, peerID string, hash types.Hash) {
	net.Send(adapters.NetworkRequest{Kind: adapters.ReqBlockRequest, PeerID: peerID, Payload: hash})
}

// RequestBlockHeaders asks net for up to limit headers starting at
// fromHeight.
func RequestBlockHeaders(net adapters.PeerManagerAdapter, peerID string, fromHeight types.Height, limit int) {
	net.Send(adapters.NetworkRequest{Kind: adapters.ReqBlockHeadersRequest, PeerID: peerID, Payload: blockHeadersRequest{FromHeight: fromHeight, Limit: limit}})
}
