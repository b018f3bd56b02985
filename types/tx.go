package types

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/shardcore/crypto"
)

// Transaction is the atomic unit of work submitted by a client. Its payload
// (Actions) is opaque to the core: interpretation and execution belong to
// the runtime adapter. The signature is checked on ingress and on pool
// insertion; nonce and balance are checked by the runtime adapter. BlockHash
// is covered by the signature but is not checked against a validity-period
// window.
type Transaction struct {
	ID         Hash      `json:"id"`
	SignerID   AccountID `json:"signer_id"`
	PublicKey  string    `json:"public_key"`
	Nonce      uint64    `json:"nonce"`
	GasPrice   uint64    `json:"gas_price"`
	ReceiverID AccountID `json:"receiver_id"`
	Actions    []byte    `json:"actions"`    // opaque to the core; runtime-interpreted
	BlockHash  Hash      `json:"block_hash"` // covered by the signature; not checked against the chain
	Signature  Signature `json:"signature"`
}

// signingBody holds the fields covered by the transaction signature.
type signingBody struct {
	SignerID   AccountID `json:"signer_id"`
	PublicKey  string    `json:"public_key"`
	Nonce      uint64    `json:"nonce"`
	GasPrice   uint64    `json:"gas_price"`
	ReceiverID AccountID `json:"receiver_id"`
	Actions    []byte    `json:"actions"`
	BlockHash  Hash      `json:"block_hash"`
}

// ComputeHash returns a deterministic hash of the transaction, excluding ID and
// Signature, suitable both as the signing payload and as the transaction ID.
func (tx *Transaction) ComputeHash() Hash {
	body := signingBody{
		SignerID:   tx.SignerID,
		PublicKey:  tx.PublicKey,
		Nonce:      tx.Nonce,
		GasPrice:   tx.GasPrice,
		ReceiverID: tx.ReceiverID,
		Actions:    tx.Actions,
		BlockHash:  tx.BlockHash,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes ID and Signature from the given private key.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	tx.ID = tx.ComputeHash()
	tx.Signature = crypto.Sign(priv, []byte(tx.ID))
}

// VerifySignature checks the transaction's signature against its declared
// public key. It does not check nonce, balance, or validity period; nonce
// and balance are the runtime adapter's concern.
func (tx *Transaction) VerifySignature() error {
	pub, err := crypto.PubKeyFromHex(tx.PublicKey)
	if err != nil {
		return fmt.Errorf("invalid tx public key: %w", err)
	}
	if computed := tx.ComputeHash(); computed != tx.ID {
		return fmt.Errorf("tx id mismatch: stored %s computed %s", tx.ID, computed)
	}
	return crypto.Verify(pub, []byte(tx.ID), tx.Signature)
}
