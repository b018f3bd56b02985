package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/shardcore/epoch"
	"github.com/tolelom/shardcore/txingress"
	"github.com/tolelom/shardcore/types"
)

// ChainView is the read-only slice of store.ChainStore the RPC layer
// needs.
type ChainView interface {
	GetBlock(hash types.Hash) (*types.Block, error)
	GetBlockByHeight(height types.Height) (*types.Block, error)
	GetTip() (types.Hash, error)
	GetTransaction(hash types.Hash) (*types.Transaction, error)
	LatestKnown() (types.Height, int64, error)
}

// MempoolView reports sizes without exposing mutation.
type MempoolView interface {
	Size(shard types.ShardID) int
}

// TxSubmitter is the one mutating capability the RPC layer is given: the
// same process_tx entrypoint the host loop drives directly.
// Everything else this handler exposes is a read.
type TxSubmitter interface {
	ProcessTx(tx *types.Transaction, isForwarded, checkOnly bool) (outcome txingress.Outcome, err error)
}

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	chain   ChainView
	pool    MempoolView
	epochs  *epoch.Manager
	submit  TxSubmitter
	chainID string
}

// NewHandler creates an RPC Handler.
func NewHandler(chain ChainView, pool MempoolView, epochs *epoch.Manager, submit TxSubmitter, chainID string) *Handler {
	return &Handler{chain: chain, pool: pool, epochs: epochs, submit: submit, chainID: chainID}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "getTip":
		return h.getTip(req)
	case "getBlock":
		return h.getBlock(req)
	case "getTransaction":
		return h.getTransaction(req)
	case "getMempoolSize":
		return h.getMempoolSize(req)
	case "getEpochInfo":
		return h.getEpochInfo(req)
	case "getLatestKnown":
		return h.getLatestKnown(req)
	case "sendTx":
		return h.sendTx(req)
	case "getChainID":
		return okResponse(req.ID, h.chainID)
	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) getTip(req Request) Response {
	hash, err := h.chain.GetTip()
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{"last_block_hash": hash})
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash   types.Hash    `json:"hash"`
		Height *types.Height `json:"height"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}

	var block *types.Block
	var err error
	switch {
	case params.Hash != "":
		block, err = h.chain.GetBlock(params.Hash)
	case params.Height != nil:
		block, err = h.chain.GetBlockByHeight(*params.Height)
	default:
		var tip types.Hash
		tip, err = h.chain.GetTip()
		if err == nil {
			block, err = h.chain.GetBlock(tip)
		}
	}
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, block)
}

func (h *Handler) getTransaction(req Request) Response {
	var params struct {
		Hash types.Hash `json:"hash"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Hash == "" {
		return errResponse(req.ID, CodeInvalidParams, "hash is required")
	}
	tx, err := h.chain.GetTransaction(params.Hash)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, tx)
}

func (h *Handler) getMempoolSize(req Request) Response {
	var params struct {
		ShardID types.ShardID `json:"shard_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	return okResponse(req.ID, h.pool.Size(params.ShardID))
}

func (h *Handler) getEpochInfo(req Request) Response {
	var params struct {
		EpochID types.EpochID `json:"epoch_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	info, err := h.epochs.Info(params.EpochID)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, info)
}

func (h *Handler) getLatestKnown(req Request) Response {
	height, ts, err := h.chain.LatestKnown()
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{"height": height, "timestamp_unix_nano": ts})
}

func (h *Handler) sendTx(req Request) Response {
	var tx types.Transaction
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if err := tx.VerifySignature(); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "invalid signature: "+err.Error())
	}
	outcome, err := h.submit.ProcessTx(&tx, false, false)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{"tx_id": tx.ID, "outcome": outcome})
}
