package types

// ValidatorStake pairs a validator's identity with its weight for the
// current epoch. Block and chunk producer election, and Doomslug's
// two-thirds threshold, are both computed over slices of this type.
type ValidatorStake struct {
	AccountID AccountID `json:"account_id"`
	PublicKey string    `json:"public_key"`
	Stake     uint64    `json:"stake"`
}

// ValidatorProposal is emitted by a shard's chunk execution to request a
// stake change effective two epochs later; proposals surface through the
// chunk extra after apply.
type ValidatorProposal struct {
	AccountID AccountID `json:"account_id"`
	PublicKey string    `json:"public_key"`
	Stake     uint64    `json:"stake"`
}
