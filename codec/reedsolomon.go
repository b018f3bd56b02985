package codec

import "fmt"

// ReedSolomon is a systematic Reed-Solomon codec over GF(256): the first
// DataParts() output parts are the data shards unchanged, and the
// remaining ParityParts() are linear combinations of them, so any
// DataParts() of the N output parts suffice to reconstruct the body.
type ReedSolomon struct {
	dataParts   int
	parityParts int
	encMatrix   matrix // (dataParts+parityParts) x dataParts, systematic
}

// NewReedSolomon builds a codec for the given (dataParts, parityParts)
// shape. The encoding matrix is derived once from a Vandermonde basis and
// normalized so its top dataParts rows form the identity matrix.
func NewReedSolomon(dataParts, parityParts int) (*ReedSolomon, error) {
	if dataParts <= 0 || parityParts < 0 {
		return nil, fmt.Errorf("codec: invalid shape dataParts=%d parityParts=%d", dataParts, parityParts)
	}
	n := dataParts + parityParts
	vm := vandermonde(n, dataParts)
	top := vm.subMatrix(rangeInts(dataParts))
	topInv, err := top.invert()
	if err != nil {
		return nil, err
	}
	enc := vm.multiply(topInv)
	top = enc.subMatrix(rangeInts(dataParts))
	ident := identityMatrix(dataParts)
	for i := 0; i < dataParts; i++ {
		for j := 0; j < dataParts; j++ {
			if top[i][j] != ident[i][j] {
				return nil, fmt.Errorf("codec: encoding matrix is not systematic at (%d,%d)", i, j)
			}
		}
	}
	return &ReedSolomon{dataParts: dataParts, parityParts: parityParts, encMatrix: enc}, nil
}

func rangeInts(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func (r *ReedSolomon) DataParts() int   { return r.dataParts }
func (r *ReedSolomon) ParityParts() int { return r.parityParts }

// Encode splits body into dataParts equal-size shards (zero-padded to the
// next multiple of dataParts) and derives parityParts parity shards.
func (r *ReedSolomon) Encode(body []byte) ([][]byte, error) {
	shardLen := (len(body) + r.dataParts - 1) / r.dataParts
	if shardLen == 0 {
		shardLen = 1
	}
	padded := make([]byte, shardLen*r.dataParts)
	copy(padded, body)

	shards := make([][]byte, r.dataParts+r.parityParts)
	for i := 0; i < r.dataParts; i++ {
		shards[i] = padded[i*shardLen : (i+1)*shardLen]
	}
	for p := 0; p < r.parityParts; p++ {
		row := r.dataParts + p
		parity := make([]byte, shardLen)
		for j := 0; j < r.dataParts; j++ {
			coeff := r.encMatrix[row][j]
			if coeff == 0 {
				continue
			}
			for b := 0; b < shardLen; b++ {
				parity[b] ^= gfMul(coeff, shards[j][b])
			}
		}
		shards[row] = parity
	}
	return shards, nil
}

// Reconstruct rebuilds the original body from any dataParts non-nil
// entries of parts, trimmed to bodyLen.
func (r *ReedSolomon) Reconstruct(parts [][]byte, bodyLen int) ([]byte, error) {
	have := 0
	var present []int
	var shardLen int
	for i, p := range parts {
		if p != nil {
			have++
			present = append(present, i)
			shardLen = len(p)
		}
	}
	if have < r.dataParts {
		return nil, ErrInsufficientParts{Have: have, Need: r.dataParts}
	}
	present = present[:r.dataParts]

	sub := r.encMatrix.subMatrix(present)
	subInv, err := sub.invert()
	if err != nil {
		return nil, err
	}

	data := make([][]byte, r.dataParts)
	for i := 0; i < r.dataParts; i++ {
		data[i] = make([]byte, shardLen)
	}
	for out := 0; out < r.dataParts; out++ {
		for j, srcIdx := range present {
			coeff := subInv[out][j]
			if coeff == 0 {
				continue
			}
			src := parts[srcIdx]
			for b := 0; b < shardLen; b++ {
				data[out][b] ^= gfMul(coeff, src[b])
			}
		}
	}

	body := make([]byte, 0, r.dataParts*shardLen)
	for _, d := range data {
		body = append(body, d...)
	}
	if bodyLen < len(body) {
		body = body[:bodyLen]
	}
	return body, nil
}
