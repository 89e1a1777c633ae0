package gfrag

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/gordian-engine/gsequencer/gblock"
)

const (
	versionSize   = 2
	groupIDSize   = 16
	slotSize      = 8
	blockSizeSize = 4
	indexSize     = 2
	countSize     = 2
	hashSize      = 32

	// PrefixSize is the encoded size of a fragment excluding its data.
	PrefixSize = versionSize + groupIDSize + slotSize + gblock.DigestSize + blockSizeSize +
		indexSize + countSize + countSize + hashSize

	binaryVersion = 1
)

// MarshalBinary encodes f as a single datagram.
func (f Fragment) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, PrefixSize+len(f.Data))

	out = binary.LittleEndian.AppendUint16(out, binaryVersion)
	out = append(out, f.GroupID[:]...)
	out = binary.LittleEndian.AppendUint64(out, f.Slot)
	out = append(out, f.BlockHash[:]...)
	out = binary.LittleEndian.AppendUint32(out, f.BlockSize)
	out = binary.LittleEndian.AppendUint16(out, f.Index)
	out = binary.LittleEndian.AppendUint16(out, f.DataCount)
	out = binary.LittleEndian.AppendUint16(out, f.ParityCount)
	out = append(out, f.Hash[:]...)
	out = append(out, f.Data...)

	return out, nil
}

// UnmarshalFragment decodes a datagram produced by [Fragment.MarshalBinary].
// The returned fragment's Data is a copy.
// Shard counts and index are checked for consistency,
// but the data hash is not verified here.
func UnmarshalFragment(data []byte) (Fragment, error) {
	if len(data) < PrefixSize {
		return Fragment{}, fmt.Errorf("fragment too short: %d bytes", len(data))
	}

	if v := binary.LittleEndian.Uint16(data); v != binaryVersion {
		return Fragment{}, fmt.Errorf("unsupported fragment version: %d", v)
	}
	data = data[versionSize:]

	var f Fragment

	gid, err := uuid.FromBytes(data[:groupIDSize])
	if err != nil {
		return Fragment{}, fmt.Errorf("failed to parse group ID: %w", err)
	}
	f.GroupID = gid
	data = data[groupIDSize:]

	f.Slot = binary.LittleEndian.Uint64(data)
	data = data[slotSize:]

	copy(f.BlockHash[:], data)
	data = data[gblock.DigestSize:]

	f.BlockSize = binary.LittleEndian.Uint32(data)
	data = data[blockSizeSize:]

	f.Index = binary.LittleEndian.Uint16(data)
	f.DataCount = binary.LittleEndian.Uint16(data[indexSize:])
	f.ParityCount = binary.LittleEndian.Uint16(data[indexSize+countSize:])
	data = data[indexSize+2*countSize:]

	copy(f.Hash[:], data)
	data = data[hashSize:]

	f.Data = append([]byte(nil), data...)

	if err := f.validateLayout(); err != nil {
		return Fragment{}, err
	}

	return f, nil
}

func (f Fragment) validateLayout() error {
	total := int(f.DataCount) + int(f.ParityCount)
	switch {
	case f.DataCount == 0:
		return fmt.Errorf("fragment has zero data count")
	case f.ParityCount == 0:
		return fmt.Errorf("fragment has zero parity count")
	case total > maxTotalShards:
		return fmt.Errorf("fragment total shard count %d exceeds %d", total, maxTotalShards)
	case int(f.Index) >= total:
		return fmt.Errorf("fragment index %d out of range for %d shards", f.Index, total)
	case len(f.Data) == 0:
		return fmt.Errorf("fragment has no data")
	case uint64(f.BlockSize) > uint64(f.DataCount)*uint64(len(f.Data)):
		return fmt.Errorf(
			"block size %d exceeds %d data shards of %d bytes",
			f.BlockSize, f.DataCount, len(f.Data),
		)
	}
	return nil
}
