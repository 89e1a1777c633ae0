// Package gseqstore defines persistence of sequencer checkpoints,
// so that a restarted sequencer never reuses a slot number
// and keeps chaining from the last produced header.
package gseqstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/gordian-engine/gsequencer/gblock"
)

// ErrNotFound is returned by [CheckpointStore.LoadCheckpoint]
// when no checkpoint has been saved yet.
var ErrNotFound = errors.New("checkpoint not found")

// CheckpointStore persists the most recent sequencer checkpoint.
// Only the latest checkpoint is retained.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error

	// LoadCheckpoint returns the last saved checkpoint,
	// or ErrNotFound if none exists.
	LoadCheckpoint(ctx context.Context) (Checkpoint, error)
}

// Checkpoint is the sequencer state needed to resume production.
type Checkpoint struct {
	// Slot is the next slot to be produced.
	Slot  uint64
	Epoch uint64

	// Hash of the last produced header.
	ParentDigest gblock.Digest

	BlockCount       uint64
	TxnCount         uint64
	IncludedTxnCount uint64
	DroppedTxnCount  uint64
	FeeTotal         uint64

	// Public key of the signer that produced the last block,
	// in its type-prefixed [github.com/gordian-engine/gsequencer/gcrypto.Registry] encoding.
	SignerPubKey []byte

	// Wall time the checkpoint was taken.
	Time time.Time
}

const checkpointVersion = 1

const (
	u16Size = 2
	u64Size = 8

	checkpointFixedSize = u16Size + // Version.
		2*u64Size + // Slot, epoch.
		gblock.DigestSize +
		5*u64Size + // Counters.
		u64Size + // Time.
		u16Size // Pubkey length.
)

// MarshalBinary returns a versioned fixed-layout encoding of cp.
func (cp Checkpoint) MarshalBinary() ([]byte, error) {
	if len(cp.SignerPubKey) > 0xffff {
		return nil, fmt.Errorf("signer public key too long: %d bytes", len(cp.SignerPubKey))
	}

	b := make([]byte, 0, checkpointFixedSize+len(cp.SignerPubKey))
	b = binary.LittleEndian.AppendUint16(b, checkpointVersion)
	b = binary.LittleEndian.AppendUint64(b, cp.Slot)
	b = binary.LittleEndian.AppendUint64(b, cp.Epoch)
	b = append(b, cp.ParentDigest[:]...)
	b = binary.LittleEndian.AppendUint64(b, cp.BlockCount)
	b = binary.LittleEndian.AppendUint64(b, cp.TxnCount)
	b = binary.LittleEndian.AppendUint64(b, cp.IncludedTxnCount)
	b = binary.LittleEndian.AppendUint64(b, cp.DroppedTxnCount)
	b = binary.LittleEndian.AppendUint64(b, cp.FeeTotal)

	var ts int64
	if !cp.Time.IsZero() {
		ts = cp.Time.UnixNano()
	}
	b = binary.LittleEndian.AppendUint64(b, uint64(ts))

	b = binary.LittleEndian.AppendUint16(b, uint16(len(cp.SignerPubKey)))
	b = append(b, cp.SignerPubKey...)
	return b, nil
}

// UnmarshalBinary decodes the output of [Checkpoint.MarshalBinary].
func (cp *Checkpoint) UnmarshalBinary(b []byte) error {
	if len(b) < checkpointFixedSize {
		return fmt.Errorf("checkpoint too short: %d bytes", len(b))
	}

	if v := binary.LittleEndian.Uint16(b); v != checkpointVersion {
		return fmt.Errorf("unsupported checkpoint version: %d", v)
	}
	b = b[u16Size:]

	next := func() uint64 {
		v := binary.LittleEndian.Uint64(b)
		b = b[u64Size:]
		return v
	}

	cp.Slot = next()
	cp.Epoch = next()

	copy(cp.ParentDigest[:], b)
	b = b[gblock.DigestSize:]

	cp.BlockCount = next()
	cp.TxnCount = next()
	cp.IncludedTxnCount = next()
	cp.DroppedTxnCount = next()
	cp.FeeTotal = next()

	if ts := int64(next()); ts != 0 {
		cp.Time = time.Unix(0, ts).UTC()
	} else {
		cp.Time = time.Time{}
	}

	n := int(binary.LittleEndian.Uint16(b))
	b = b[u16Size:]
	if len(b) != n {
		return fmt.Errorf("signer public key length %d does not match remaining %d bytes", n, len(b))
	}
	if n > 0 {
		cp.SignerPubKey = append([]byte(nil), b...)
	} else {
		cp.SignerPubKey = nil
	}

	return nil
}
