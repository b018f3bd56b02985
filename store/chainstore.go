package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/tolelom/shardcore/types"
)

// Column-prefix layout mirrors chain_store's key/value columns: Block, BlockHeader, BlockHeight,
// BlockPerHeight, ChunkHashesByHeight, HeaderHashesByHeight,
// ProcessedBlockHeights, State, Transactions, EpochInfo, StateChanges. The
// core treats chain_store as an external collaborator; ChainStore is
// the one production implementation this module carries, and the column
// names below are the hot-storage column layout.
const (
	colBlock                 = "b/"  // hash -> Block
	colBlockHeight           = "h/"  // height (big-endian) -> hash (tip candidate)
	colBlockPerHeight        = "p/"  // height (big-endian) -> hash (canonical)
	colChunkHashesByHeight   = "c/"  // height (big-endian) -> shard -> chunk hash
	colHeaderHashesByHeight  = "hh/" // height (big-endian) -> header hash
	colProcessedBlockHeights = "pb/" // height (big-endian) -> 1
	colState                 = "s/"  // ShardUId‖hash -> state blob
	colTransactions          = "t/"  // tx hash -> refcounted blob
	colEpochInfo             = "e/"  // epoch id -> Info
	colStateChanges          = "sc/" // height (big-endian) -> change set blob
	keyTip                   = "meta/tip"
	keyLatestKnown           = "meta/latest_known"
)

// heightKey big-endian-encodes height so lexicographic byte order matches
// numeric order — required for range scans and for the cold-storage
// rewrite, which expects big-endian heights everywhere.
func heightKey(prefix string, height types.Height) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	return append([]byte(prefix), buf[:]...)
}

// ChainStore is the production chain_store implementation: block and
// header storage, height indices, and chunk-inclusion bookkeeping, all
// addressed through the column layout above. It is consumed by the client
// package's ChainAdapter.
type ChainStore struct {
	db DB
}

// NewChainStore wraps db (LevelDB in production, MemDB in tests) as a
// ChainStore.
func NewChainStore(db DB) *ChainStore {
	return &ChainStore{db: db}
}

// PutBlock persists a block keyed by its hash (colBlock).
func (s *ChainStore) PutBlock(block *types.Block) error {
	data, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("marshal block: %w", err)
	}
	return s.db.Set([]byte(colBlock+string(block.Hash)), data)
}

// GetBlock looks up a block by hash.
func (s *ChainStore) GetBlock(hash types.Hash) (*types.Block, error) {
	data, err := s.db.Get([]byte(colBlock + string(hash)))
	if err != nil {
		return nil, err
	}
	var b types.Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("unmarshal block: %w", err)
	}
	return &b, nil
}

// SetCanonicalAtHeight records hash as the canonical block at height
// (colBlockPerHeight) and marks the height processed
// (colProcessedBlockHeights), which the ingress height gate consults.
func (s *ChainStore) SetCanonicalAtHeight(height types.Height, hash types.Hash) error {
	batch := s.db.NewBatch()
	batch.Set(heightKey(colBlockPerHeight, height), []byte(hash))
	batch.Set(heightKey(colProcessedBlockHeights, height), []byte{1})
	return batch.Write()
}

// CanonicalAtHeight returns the canonical block hash at height, if known.
func (s *ChainStore) CanonicalAtHeight(height types.Height) (types.Hash, error) {
	val, err := s.db.Get(heightKey(colBlockPerHeight, height))
	if err != nil {
		return "", err
	}
	return types.Hash(val), nil
}

// IsHeightProcessed reports whether any block at height has already been
// accepted.
func (s *ChainStore) IsHeightProcessed(height types.Height) bool {
	_, err := s.db.Get(heightKey(colProcessedBlockHeights, height))
	return err == nil
}

// GetBlockByHeight fetches the canonical block at height.
func (s *ChainStore) GetBlockByHeight(height types.Height) (*types.Block, error) {
	hash, err := s.CanonicalAtHeight(height)
	if err != nil {
		return nil, err
	}
	return s.GetBlock(hash)
}

// SetTip persists the current chain head hash.
func (s *ChainStore) SetTip(hash types.Hash) error {
	return s.db.Set([]byte(keyTip), []byte(hash))
}

// GetTip returns the current chain head hash, or "" if none is set yet.
func (s *ChainStore) GetTip() (types.Hash, error) {
	val, err := s.db.Get([]byte(keyTip))
	if err == ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return types.Hash(val), nil
}

// SetLatestKnown persists {height, timestamp} before a produced block is
// returned to the caller: this
// must land before the block does, so a crash between signing and
// broadcast can never cause the same height to be produced twice.
func (s *ChainStore) SetLatestKnown(height types.Height, timestampUnixNano int64) error {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], height)
	binary.BigEndian.PutUint64(buf[8:16], uint64(timestampUnixNano))
	return s.db.Set([]byte(keyLatestKnown), buf[:])
}

// LatestKnown returns the last persisted {height, timestamp}, both zero if
// nothing has been produced yet.
func (s *ChainStore) LatestKnown() (types.Height, int64, error) {
	val, err := s.db.Get([]byte(keyLatestKnown))
	if err == ErrNotFound {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	if len(val) != 16 {
		return 0, 0, fmt.Errorf("storage: corrupt latest_known record (%d bytes)", len(val))
	}
	height := binary.BigEndian.Uint64(val[0:8])
	ts := int64(binary.BigEndian.Uint64(val[8:16]))
	return height, ts, nil
}

// PutTransaction stores tx with an initial refcount of 1, or increments the
// refcount if it is already present: the
// same transaction hash can be referenced by more than one chunk across a
// fork, and the column only drops the value once every referencing chunk
// is gone.
func (s *ChainStore) PutTransaction(tx *types.Transaction) error {
	key := []byte(colTransactions + string(tx.ID))
	existing, err := s.db.Get(key)
	refcount := uint32(1)
	if err == nil {
		if len(existing) < 4 {
			return fmt.Errorf("storage: corrupt tx refcount record for %s", tx.ID)
		}
		refcount = binary.BigEndian.Uint32(existing[:4]) + 1
	} else if err != ErrNotFound {
		return err
	}
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("marshal tx: %w", err)
	}
	var head [4]byte
	binary.BigEndian.PutUint32(head[:], refcount)
	return s.db.Set(key, append(head[:], data...))
}

// GetTransaction returns the stored transaction, ignoring its refcount.
func (s *ChainStore) GetTransaction(hash types.Hash) (*types.Transaction, error) {
	val, err := s.db.Get([]byte(colTransactions + string(hash)))
	if err != nil {
		return nil, err
	}
	if len(val) < 4 {
		return nil, fmt.Errorf("storage: corrupt tx record for %s", hash)
	}
	var tx types.Transaction
	if err := json.Unmarshal(val[4:], &tx); err != nil {
		return nil, fmt.Errorf("unmarshal tx: %w", err)
	}
	return &tx, nil
}

// ReleaseTransaction decrements tx's refcount, deleting the record once it
// reaches zero.
func (s *ChainStore) ReleaseTransaction(hash types.Hash) error {
	key := []byte(colTransactions + string(hash))
	val, err := s.db.Get(key)
	if err != nil {
		return err
	}
	if len(val) < 4 {
		return fmt.Errorf("storage: corrupt tx record for %s", hash)
	}
	refcount := binary.BigEndian.Uint32(val[:4])
	if refcount <= 1 {
		return s.db.Delete(key)
	}
	binary.BigEndian.PutUint32(val[:4], refcount-1)
	return s.db.Set(key, val)
}

// shardStateKey builds the State-column key: the ShardUId
// (shard id plus shard layout version) followed by the content hash.
func shardStateKey(shard types.ShardID, layoutVersion uint32, hash types.Hash) []byte {
	var buf [12]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(shard))
	binary.BigEndian.PutUint32(buf[8:12], layoutVersion)
	return append(append([]byte(colState), buf[:]...), []byte(hash)...)
}

// PutStateNode writes one opaque state-trie node blob for a shard. The
// core never interprets these bytes; ChainStore only needs to address and retrieve them.
func (s *ChainStore) PutStateNode(shard types.ShardID, layoutVersion uint32, hash types.Hash, blob []byte) error {
	return s.db.Set(shardStateKey(shard, layoutVersion, hash), blob)
}

// GetStateNode retrieves a previously written state-trie node blob.
func (s *ChainStore) GetStateNode(shard types.ShardID, layoutVersion uint32, hash types.Hash) ([]byte, error) {
	return s.db.Get(shardStateKey(shard, layoutVersion, hash))
}
