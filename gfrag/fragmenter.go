package gfrag

import (
	"crypto/sha256"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/gordian-engine/gsequencer/gblock"
	"github.com/klauspost/reedsolomon"
)

// Fragmenter turns blocks into fragments according to a [Layout].
// It is safe for concurrent use.
type Fragmenter struct {
	layout Layout

	mu       sync.Mutex
	encoders map[[2]int]reedsolomon.Encoder
}

func NewFragmenter(l Layout) (*Fragmenter, error) {
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fragment layout: %w", err)
	}
	return &Fragmenter{
		layout:   l,
		encoders: make(map[[2]int]reedsolomon.Encoder),
	}, nil
}

// FragmentBlock encodes blk and splits it into fragments.
func (f *Fragmenter) FragmentBlock(blk gblock.Block) ([]Fragment, error) {
	enc, err := blk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode block: %w", err)
	}
	return f.Fragment(blk.Header.Slot, enc)
}

// Fragment splits encoded block bytes into data and parity fragments
// sharing a new group ID.
// Fragment takes ownership of encoded.
func (f *Fragmenter) Fragment(slot uint64, encoded []byte) ([]Fragment, error) {
	if len(encoded) == 0 {
		return nil, fmt.Errorf("empty block")
	}
	if len(encoded) > math.MaxUint32 {
		return nil, fmt.Errorf("block too large: %d bytes", len(encoded))
	}

	nData, nParity, err := f.layout.shardCounts(len(encoded))
	if err != nil {
		return nil, err
	}

	rs, err := f.encoder(nData, nParity)
	if err != nil {
		return nil, err
	}

	blockHash := sha256.Sum256(encoded)

	shards, err := encodeShards(rs, encoded)
	if err != nil {
		return nil, err
	}

	groupID := uuid.New()
	frags := make([]Fragment, len(shards))
	for i, shard := range shards {
		frags[i] = Fragment{
			GroupID:     groupID,
			Slot:        slot,
			BlockHash:   blockHash,
			BlockSize:   uint32(len(encoded)),
			Index:       uint16(i),
			DataCount:   uint16(nData),
			ParityCount: uint16(nParity),
			Hash:        sha256.Sum256(shard),
			Data:        shard,
		}
	}

	return frags, nil
}

func (f *Fragmenter) encoder(nData, nParity int) (reedsolomon.Encoder, error) {
	key := [2]int{nData, nParity}

	f.mu.Lock()
	defer f.mu.Unlock()

	if rs, ok := f.encoders[key]; ok {
		return rs, nil
	}

	rs, err := reedsolomon.New(nData, nParity)
	if err != nil {
		return nil, fmt.Errorf("failed to create reed-solomon encoder: %w", err)
	}
	f.encoders[key] = rs
	return rs, nil
}
