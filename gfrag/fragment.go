// Package gfrag splits encoded blocks into Reed-Solomon erasure-coded fragments
// small enough for individual datagrams,
// and reassembles blocks from any sufficient subset of those fragments.
package gfrag

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/gordian-engine/gsequencer/gblock"
)

// Fragment is one erasure-coded piece of an encoded block.
type Fragment struct {
	// Identifies the fragments of a single FragmentBlock call.
	GroupID uuid.UUID

	Slot uint64

	// SHA-256 of the encoded block, checked after reassembly.
	BlockHash gblock.Digest

	// Length of the encoded block, before shard padding.
	BlockSize uint32

	// Data shards come first, then parity shards.
	Index       uint16
	DataCount   uint16
	ParityCount uint16

	// SHA-256 of Data.
	Hash [sha256.Size]byte

	Data []byte
}

// IsParity reports whether f is a parity fragment.
func (f Fragment) IsParity() bool {
	return f.Index >= f.DataCount
}

// Layout controls how blocks are split into fragments.
type Layout struct {
	// Preferred shard size in bytes.
	// Shards grow beyond this only when a block would otherwise need
	// more than the maximum number of data shards.
	ShardSize int

	// Upper bound on shard size, constrained by the datagram size.
	MaxShardSize int

	// Parity shards as a percentage of data shards, rounded up, at least one.
	ParityPercent int
}

const (
	// maxTotalShards is the limit of Reed-Solomon over GF(2^8).
	maxTotalShards = 256

	// Leaves room for the fragment header in a 65,507-byte UDP payload.
	DefaultMaxShardSize = 65_000
)

// DefaultLayout fits one shard in a typical 1,500-byte MTU
// for small blocks and tolerates losing a fifth of the fragments.
func DefaultLayout() Layout {
	return Layout{
		ShardSize:     1_200,
		MaxShardSize:  DefaultMaxShardSize,
		ParityPercent: 25,
	}
}

func (l Layout) Validate() error {
	var errs []error
	if l.ShardSize <= 0 {
		errs = append(errs, fmt.Errorf("shard size must be positive, got %d", l.ShardSize))
	}
	if l.MaxShardSize < l.ShardSize {
		errs = append(errs, fmt.Errorf(
			"max shard size %d must be at least shard size %d", l.MaxShardSize, l.ShardSize,
		))
	}
	if l.MaxShardSize > DefaultMaxShardSize {
		errs = append(errs, fmt.Errorf(
			"max shard size %d does not fit in a datagram", l.MaxShardSize,
		))
	}
	if l.ParityPercent <= 0 || l.ParityPercent > 100 {
		errs = append(errs, fmt.Errorf("parity percent must be in (0, 100], got %d", l.ParityPercent))
	}
	return errors.Join(errs...)
}

// shardCounts returns the data and parity shard counts for a block of size bytes.
func (l Layout) shardCounts(size int) (data, parity int, err error) {
	// Largest data count that still leaves room for its parity.
	maxData := maxTotalShards * 100 / (100 + l.ParityPercent)
	for maxData+l.parityFor(maxData) > maxTotalShards {
		maxData--
	}

	data = max(1, (size+l.ShardSize-1)/l.ShardSize)
	if data > maxData {
		data = maxData
		if perShard := (size + data - 1) / data; perShard > l.MaxShardSize {
			return 0, 0, fmt.Errorf(
				"block of %d bytes exceeds fragment capacity of %d bytes",
				size, data*l.MaxShardSize,
			)
		}
	}

	return data, l.parityFor(data), nil
}

func (l Layout) parityFor(data int) int {
	return max(1, (data*l.ParityPercent+99)/100)
}
