// Package wallet is the production implementation of
// adapters.ValidatorSigner: a block/chunk/approval producer signs through
// this type rather than holding a raw private key directly, so a remote
// signer could be substituted later without touching any call site.
package wallet

import (
	"github.com/tolelom/shardcore/crypto"
	"github.com/tolelom/shardcore/types"
)

// Wallet holds a validator's key pair and signs on its behalf.
type Wallet struct {
	accountID types.AccountID
	priv      crypto.PrivateKey
	pub       crypto.PublicKey
}

// New creates a Wallet from an existing private key. accountID is the
// validator identity this key signs for; it need not equal the public key
// hex (near-style account ids are human-readable), but most deployments
// use the public key hex directly.
func New(accountID types.AccountID, priv crypto.PrivateKey) *Wallet {
	return &Wallet{accountID: accountID, priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair, using the
// public key hex as the account id.
func Generate() (*Wallet, error) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &Wallet{accountID: pub.Hex(), priv: priv, pub: pub}, nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// AccountID implements adapters.ValidatorSigner.
func (w *Wallet) AccountID() types.AccountID {
	return w.accountID
}

// PublicKey implements adapters.ValidatorSigner.
func (w *Wallet) PublicKey() string {
	return w.pub.Hex()
}

// Sign implements adapters.ValidatorSigner: it signs data (the block hash,
// chunk header hash, or approval DataForSig() payload) under the
// validator's private key.
func (w *Wallet) Sign(data []byte) types.Signature {
	return crypto.Sign(w.priv, data)
}

// Address returns the short human-readable address (first 20 bytes of
// SHA-256(pubkey)), used for display and CLI output only — never as a
// protocol identity.
func (w *Wallet) Address() string {
	return w.pub.Address()
}
