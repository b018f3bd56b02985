package storage

import (
	"encoding/binary"
	"strings"
)

// ColdStore wraps a DB and rewrites keys/values on the way in and out to
// match the archival encoding: multi-byte heights become
// big-endian (hot storage already writes big-endian heights, so this is a
// pass-through for ChainStore's own columns but matters for any column a
// caller addresses with a native-endian height), the ShardUId prefix is
// stripped from State keys (state hashes are self-identifying, so the
// prefix is redundant once archived), and Transactions values are written
// without their refcount header and synthesised back as 1 on read (cold
// storage never needs a live refcount — archived transactions are kept
// forever).
type ColdStore struct {
	hot DB
}

// NewColdStore wraps hot as the archival tier.
func NewColdStore(hot DB) *ColdStore {
	return &ColdStore{hot: hot}
}

// Get rewrites a State or Transactions key on the way in, and synthesises
// a refcount of 1 back onto a Transactions value on the way out.
func (c *ColdStore) Get(key []byte) ([]byte, error) {
	val, err := c.hot.Get(rewriteColdKey(key))
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(string(key), colTransactions) {
		return synthesizeRefcount(val), nil
	}
	return val, nil
}

// Set strips the Transactions refcount header (cold storage keeps exactly
// one archived copy forever) and rewrites State keys to drop the ShardUId
// prefix before writing.
func (c *ColdStore) Set(key, value []byte) error {
	k := rewriteColdKey(key)
	if strings.HasPrefix(string(key), colTransactions) {
		if len(value) >= 4 {
			value = value[4:] // drop the live refcount header
		}
	}
	return c.hot.Set(k, value)
}

func (c *ColdStore) Delete(key []byte) error {
	return c.hot.Delete(rewriteColdKey(key))
}

func (c *ColdStore) NewIterator(prefix []byte) Iterator {
	return c.hot.NewIterator(rewriteColdKey(prefix))
}

func (c *ColdStore) NewBatch() Batch {
	return &coldBatch{hot: c.hot.NewBatch()}
}

func (c *ColdStore) Close() error { return c.hot.Close() }

// rewriteColdKey strips the ShardUId prefix from a State-column key,
// leaving only the self-identifying content hash. Every other column's
// keys already carry big-endian heights from ChainStore, so they pass
// through unchanged.
func rewriteColdKey(key []byte) []byte {
	s := string(key)
	if !strings.HasPrefix(s, colState) {
		return key
	}
	rest := s[len(colState):]
	if len(rest) <= 12 {
		return key
	}
	return append([]byte(colState), []byte(rest[12:])...)
}

// synthesizeRefcount prepends a refcount of 1 to a value read back from
// cold storage, mirroring the live Transactions column's on-disk shape so
// ChainStore.GetTransaction can decode it unmodified.
func synthesizeRefcount(value []byte) []byte {
	var head [4]byte
	binary.BigEndian.PutUint32(head[:], 1)
	return append(head[:], value...)
}

type coldBatch struct {
	hot Batch
}

func (b *coldBatch) Set(key, value []byte) {
	k := rewriteColdKey(key)
	if strings.HasPrefix(string(key), colTransactions) && len(value) >= 4 {
		value = value[4:]
	}
	b.hot.Set(k, value)
}

func (b *coldBatch) Delete(key []byte) { b.hot.Delete(rewriteColdKey(key)) }
func (b *coldBatch) Reset()            { b.hot.Reset() }
func (b *coldBatch) Write() error      { return b.hot.Write() }
