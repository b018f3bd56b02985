// Package runtimestub is an in-memory adapters.RuntimeAdapter reference
// implementation. It validates signatures and account balances the way a
// real runtime would gate entry to a chunk, but interprets no transaction
// payload; execution semantics stay behind the RuntimeAdapter boundary.
// It keeps plain balance/nonce bookkeeping and no action dispatch.
package runtimestub

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tolelom/shardcore/adapters"
	"github.com/tolelom/shardcore/crypto"
	"github.com/tolelom/shardcore/types"
)

// baseGasCost is charged per transaction regardless of payload size;
// actionGasPerByte scales
// with the opaque Actions payload so PrepareTransactions has something
// principled to budget against without interpreting the payload.
const (
	baseGasCost      = 1000
	actionGasPerByte = 10
)

// ErrUnknownAccount means signerID has never been credited in this runtime
// (the stub has no faucet; accounts only exist if genesis or a prior tx
// created them).
var ErrUnknownAccount = fmt.Errorf("runtimestub: unknown account")

// ErrNonceMismatch means tx.Nonce does not match the account's expected
// next nonce (replay/ordering protection).
var ErrNonceMismatch = fmt.Errorf("runtimestub: nonce mismatch")

// ErrInsufficientBalance means the account cannot cover the transaction's
// gas cost.
var ErrInsufficientBalance = fmt.Errorf("runtimestub: insufficient balance")

// ErrGasPriceTooLow means tx.GasPrice is below the chunk's effective price.
var ErrGasPriceTooLow = fmt.Errorf("runtimestub: gas price too low")

type account struct {
	Balance uint64
	Nonce   uint64
}

// Runtime is the in-memory adapters.RuntimeAdapter implementation. One
// Runtime instance is shared across all shards; account state is flat
// (account IDs are unique chain-wide).
type Runtime struct {
	mu       sync.Mutex
	accounts map[types.AccountID]*account
	gasUsed  map[types.ShardID]uint64
}

var _ adapters.RuntimeAdapter = (*Runtime)(nil)

// NewRuntime creates a Runtime seeded with the given genesis balances.
func NewRuntime(genesisBalances map[types.AccountID]uint64) *Runtime {
	accounts := make(map[types.AccountID]*account, len(genesisBalances))
	for id, bal := range genesisBalances {
		accounts[id] = &account{Balance: bal}
	}
	return &Runtime{accounts: accounts, gasUsed: make(map[types.ShardID]uint64)}
}

// ValidateTx checks signature (when verifySig), gas price, nonce, and
// balance. stateRoot is accepted but unused: this stub keeps
// one flat account namespace rather than per-shard state roots.
func (r *Runtime) ValidateTx(tx *types.Transaction, gasPrice uint64, stateRoot *types.Hash, verifySig bool) error {
	if verifySig {
		if err := tx.VerifySignature(); err != nil {
			return err
		}
	}
	if tx.GasPrice < gasPrice {
		return fmt.Errorf("%w: tx offers %d, chunk requires %d", ErrGasPriceTooLow, tx.GasPrice, gasPrice)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[tx.SignerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, tx.SignerID)
	}
	if tx.Nonce != acc.Nonce+1 {
		return fmt.Errorf("%w: account %s expected %d got %d", ErrNonceMismatch, tx.SignerID, acc.Nonce+1, tx.Nonce)
	}
	cost := gasCost(tx)
	if acc.Balance < cost {
		return fmt.Errorf("%w: account %s has %d needs %d", ErrInsufficientBalance, tx.SignerID, acc.Balance, cost)
	}
	return nil
}

// PrepareTransactions drains candidates in order, applying each that still
// validates against current account state and fits within gasLimit, and
// returns the accepted subset. Rejected candidates are left
// for the caller to reintroduce into the pool.
func (r *Runtime) PrepareTransactions(shard types.ShardID, stateRoot types.Hash, candidates []*types.Transaction, gasLimit uint64) ([]*types.Transaction, error) {
	accepted := make([]*types.Transaction, 0, len(candidates))
	var used uint64

	for _, tx := range candidates {
		cost := gasCost(tx)
		if used+cost > gasLimit {
			continue
		}
		if err := r.ValidateTx(tx, 0, &stateRoot, false); err != nil {
			continue
		}
		r.apply(tx, cost)
		used += cost
		accepted = append(accepted, tx)
	}

	r.mu.Lock()
	r.gasUsed[shard] = used
	r.mu.Unlock()
	return accepted, nil
}

// apply deducts cost and increments the signer's nonce; the balance check
// already happened in ValidateTx.
func (r *Runtime) apply(tx *types.Transaction, cost uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc := r.accounts[tx.SignerID]
	acc.Balance -= cost
	acc.Nonce++
}

// ChunkExtra computes the post-apply state for shard atop prevBlockHash: a
// state root hashed over the current flat account snapshot (the stub has no
// real per-shard partitioning) and the gas used by the most recent
// PrepareTransactions call for shard.
func (r *Runtime) ChunkExtra(prevBlockHash types.Hash, shard types.ShardID) (adapters.ChunkExtra, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	root, err := r.stateRootLocked()
	if err != nil {
		return adapters.ChunkExtra{}, err
	}
	gasUsed := r.gasUsed[shard]

	return adapters.ChunkExtra{
		StateRoot:    root,
		OutcomeRoot:  crypto.Hash([]byte(fmt.Sprintf("%s:%d:%d", prevBlockHash, shard, gasUsed))),
		GasUsed:      gasUsed,
		GasLimit:     defaultGasLimit,
		BalanceBurnt: 0,
	}, nil
}

const defaultGasLimit = 1_000_000

func (r *Runtime) stateRootLocked() (types.Hash, error) {
	data, err := json.Marshal(r.accounts)
	if err != nil {
		return "", fmt.Errorf("runtimestub: marshal state: %w", err)
	}
	return crypto.Hash(data), nil
}

func gasCost(tx *types.Transaction) uint64 {
	return baseGasCost + uint64(len(tx.Actions))*actionGasPerByte
}

// CreditAccount adds amount to accountID's balance, creating the account if
// it does not exist, minting funds outside the normal tx flow.
func (r *Runtime) CreditAccount(accountID types.AccountID, amount uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[accountID]
	if !ok {
		acc = &account{}
		r.accounts[accountID] = acc
	}
	acc.Balance += amount
}

// BalanceOf returns accountID's current balance and whether it exists.
func (r *Runtime) BalanceOf(accountID types.AccountID) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[accountID]
	if !ok {
		return 0, false
	}
	return acc.Balance, true
}
