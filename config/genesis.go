package config

import (
	"strings"

	"github.com/tolelom/shardcore/crypto"
	"github.com/tolelom/shardcore/epoch"
	"github.com/tolelom/shardcore/types"
)

// GenesisHash is a canonical all-zeros previous hash for the genesis block.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// numGenesisShards is the shard count the first epoch starts with; the
// shard layout may change at later epoch boundaries (epoch.ShardLayout),
// but genesis always starts from a single, uniform layout.
const numGenesisShards = 4

// BuildGenesisEpoch derives epoch 0's validator set and shard layout from
// cfg.Validators: every configured validator is both a block producer seat
// and a chunk producer seat for every shard, each weighted with equal
// stake. A real deployment would read stake from the genesis allocation;
// here every configured validator simply gets one unit of stake.
func BuildGenesisEpoch(cfg *Config) (*epoch.Info, error) {
	if len(cfg.Validators) == 0 {
		return nil, errEmptyValidatorSet
	}
	layout := epoch.ShardLayout{Version: 1, NumShards: numGenesisShards}
	chunkProducers := make(map[types.ShardID][]types.AccountID, numGenesisShards)
	for s := 0; s < numGenesisShards; s++ {
		chunkProducers[types.ShardID(s)] = append([]string{}, cfg.Validators...)
	}
	approvers := make([]types.ValidatorStake, len(cfg.Validators))
	stakes := make(map[types.AccountID]uint64, len(cfg.Validators))
	for i, v := range cfg.Validators {
		approvers[i] = types.ValidatorStake{AccountID: v, PublicKey: v, Stake: 1}
		stakes[v] = 1
	}
	return &epoch.Info{
		EpochID:         GenesisHash,
		NextEpochID:     GenesisHash,
		ProtocolVersion: 1,
		ShardLayout:     layout,
		BlockProducers:  append([]string{}, cfg.Validators...),
		ChunkProducers:  chunkProducers,
		Approvers:       approvers,
		Stakes:          stakes,
	}, nil
}

var errEmptyValidatorSet = &genesisError{"genesis: validators list must not be empty"}

type genesisError struct{ msg string }

func (e *genesisError) Error() string { return e.msg }

// CreateGenesisBlock builds and signs block #0: one empty chunk header per
// genesis shard, with height_included left zero, and no approvals, since
// there is no parent to endorse.
func CreateGenesisBlock(cfg *Config, layout epoch.ShardLayout, proposerPriv crypto.PrivateKey) (*types.Block, error) {
	proposerPub := proposerPriv.Public()

	headers := make([]types.ShardChunkHeader, layout.NumShards)
	for s := range headers {
		h := types.ShardChunkHeader{
			PrevBlockHash:  GenesisHash,
			HeightCreated:  0,
			HeightIncluded: 0,
			ShardID:        types.ShardID(s),
			Producer:       proposerPub.Hex(),
		}
		h.Sign(proposerPriv)
		headers[s] = h
	}

	block := &types.Block{
		Header: types.BlockHeader{
			Height:              0,
			EpochID:             GenesisHash,
			NextEpochID:         GenesisHash,
			PrevHash:            GenesisHash,
			ChunkHeaders:        headers,
			Approvals:           nil,
			BlockMerkleRoot:     GenesisHash,
			BlockOrdinal:        1,
			NextBPHash:          crypto.Hash([]byte(strings.Join(cfg.Validators, ","))),
			ProtocolVersion:     1,
			NextProtocolVersion: 1,
			Proposer:            proposerPub.Hex(),
		},
	}
	block.Sign(proposerPriv)
	return block, nil
}

// IsGenesisHash returns true if the hash is the canonical genesis prev-hash.
func IsGenesisHash(h string) bool {
	return strings.Count(h, "0") == len(h) && len(h) == 64
}
