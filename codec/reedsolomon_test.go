package codec

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeShapesAndSystematicPrefix(t *testing.T) {
	rs, err := NewReedSolomon(4, 2)
	if err != nil {
		t.Fatal(err)
	}
	body := []byte("the quick brown fox jumps over the lazy dog")
	parts, err := rs.Encode(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 6 {
		t.Fatalf("part count: got %d want 6", len(parts))
	}
	shardLen := len(parts[0])
	for i, p := range parts {
		if len(p) != shardLen {
			t.Fatalf("part %d length %d != %d", i, len(p), shardLen)
		}
	}
	// Systematic: the data shards are the body itself, zero-padded.
	var joined []byte
	for i := 0; i < rs.DataParts(); i++ {
		joined = append(joined, parts[i]...)
	}
	if !bytes.Equal(joined[:len(body)], body) {
		t.Error("data shards should carry the body unchanged")
	}
}

func TestReconstructFromAnyDataPartsSubset(t *testing.T) {
	rs, err := NewReedSolomon(4, 2)
	if err != nil {
		t.Fatal(err)
	}
	body := []byte("sharded chunk body with receipts and transactions")
	parts, err := rs.Encode(body)
	if err != nil {
		t.Fatal(err)
	}

	// Drop every 2-subset of the 6 parts in turn; any 4 must suffice.
	for i := 0; i < len(parts); i++ {
		for j := i + 1; j < len(parts); j++ {
			damaged := make([][]byte, len(parts))
			copy(damaged, parts)
			damaged[i] = nil
			damaged[j] = nil
			got, err := rs.Reconstruct(damaged, len(body))
			if err != nil {
				t.Fatalf("reconstruct without parts %d,%d: %v", i, j, err)
			}
			if !bytes.Equal(got, body) {
				t.Fatalf("reconstruct without parts %d,%d: body mismatch", i, j)
			}
		}
	}
}

func TestReconstructInsufficientParts(t *testing.T) {
	rs, err := NewReedSolomon(4, 2)
	if err != nil {
		t.Fatal(err)
	}
	parts, err := rs.Encode([]byte("not enough of me will survive"))
	if err != nil {
		t.Fatal(err)
	}
	damaged := make([][]byte, len(parts))
	copy(damaged, parts)
	damaged[0], damaged[1], damaged[2] = nil, nil, nil

	_, err = rs.Reconstruct(damaged, 10)
	var insufficient ErrInsufficientParts
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected ErrInsufficientParts, got %v", err)
	}
	if insufficient.Have != 3 || insufficient.Need != 4 {
		t.Errorf("got have=%d need=%d", insufficient.Have, insufficient.Need)
	}
}

func TestEncodeEmptyBody(t *testing.T) {
	rs, err := NewReedSolomon(2, 1)
	if err != nil {
		t.Fatal(err)
	}
	parts, err := rs.Encode(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 3 {
		t.Fatalf("part count: got %d want 3", len(parts))
	}
	got, err := rs.Reconstruct([][]byte{parts[0], nil, parts[2]}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("empty body should reconstruct empty, got %d bytes", len(got))
	}
}

func TestNewReedSolomonRejectsBadShape(t *testing.T) {
	if _, err := NewReedSolomon(0, 2); err == nil {
		t.Error("dataParts=0 should be rejected")
	}
	if _, err := NewReedSolomon(4, -1); err == nil {
		t.Error("negative parityParts should be rejected")
	}
}
