package gfrag

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/klauspost/reedsolomon"
)

// encodeShards splits data into rs's data shards and fills in the parity shards.
// The returned shards may alias data.
func encodeShards(rs reedsolomon.Encoder, data []byte) ([][]byte, error) {
	// Splitting only fills the data shards.
	shards, err := rs.Split(data)
	if err != nil {
		return nil, fmt.Errorf("failed to split block: %w", err)
	}

	if err := rs.Encode(shards); err != nil {
		return nil, fmt.Errorf("failed to encode parity: %w", err)
	}

	return shards, nil
}

// reconstructor collects shards of one block until the data shards can be recovered.
type reconstructor struct {
	rs reedsolomon.Encoder

	// Data shards first, then parity, as the reedsolomon package expects.
	// Missing shards have zero length.
	shards [][]byte

	shardSize int
	dataCount int

	received *bitset.BitSet
}

func newReconstructor(dataCount, parityCount, shardSize int) (*reconstructor, error) {
	rs, err := reedsolomon.New(dataCount, parityCount)
	if err != nil {
		return nil, fmt.Errorf("failed to create reed-solomon reconstructor: %w", err)
	}

	// Aligned allocations give better throughput in the reedsolomon package.
	shards := rs.(reedsolomon.Extensions).AllocAligned(shardSize)

	// Full-length shards would be treated as present,
	// so keep them empty until they arrive.
	for i, s := range shards {
		shards[i] = s[:0]
	}

	return &reconstructor{
		rs:     rs,
		shards: shards,

		shardSize: shardSize,
		dataCount: dataCount,

		received: bitset.New(uint(dataCount + parityCount)),
	}, nil
}

// Add records the shard at idx and reports whether the data shards
// are now fully recovered. Duplicate indices are ignored.
func (r *reconstructor) Add(idx int, shard []byte) (complete bool, err error) {
	if len(shard) != r.shardSize {
		return false, fmt.Errorf(
			"shard size mismatch: want %d, got %d", r.shardSize, len(shard),
		)
	}
	if idx < 0 || idx >= len(r.shards) {
		return false, fmt.Errorf("shard index %d out of range", idx)
	}

	if r.received.Test(uint(idx)) {
		return false, nil
	}
	r.shards[idx] = r.shards[idx][:r.shardSize]
	copy(r.shards[idx], shard)
	r.received.Set(uint(idx))

	if r.received.Count() < uint(r.dataCount) {
		return false, nil
	}

	if err := r.rs.ReconstructData(r.shards); err != nil {
		if errors.Is(err, reedsolomon.ErrTooFewShards) {
			return false, nil
		}
		return false, fmt.Errorf("failed to reconstruct data: %w", err)
	}
	return true, nil
}

// Received is the number of distinct shards added.
func (r *reconstructor) Received() int {
	return int(r.received.Count())
}

// Data joins the recovered data shards, trimmed to size.
func (r *reconstructor) Data(size int) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, size))
	if err := r.rs.Join(buf, r.shards, size); err != nil {
		return nil, fmt.Errorf("failed to join data shards: %w", err)
	}
	return buf.Bytes(), nil
}
