// Package gblock builds, encodes and verifies signed sequencer blocks.
//
// A block header is encoded little-endian without padding:
//
//	slot u64 | parent [32] | content [32] | timestamp i64 | signer [32] | txn_count u32 | signature [64]
//
// The signature covers exactly the first [SignedSize] bytes.
package gblock

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/gordian-engine/gsequencer/gcrypto"
)

const (
	DigestSize    = sha256.Size
	PubKeySize    = 32
	SignatureSize = 64

	slotSize      = 8
	timestampSize = 8
	txnCountSize  = 4

	// SignedSize is the length of the header prefix covered by the signature.
	SignedSize = slotSize + DigestSize + DigestSize + timestampSize + PubKeySize + txnCountSize

	// HeaderSize is the full encoded header length.
	HeaderSize = SignedSize + SignatureSize
)

const (
	offSlot      = 0
	offParent    = offSlot + slotSize
	offContent   = offParent + DigestSize
	offTimestamp = offContent + DigestSize
	offSigner    = offTimestamp + timestampSize
	offTxnCount  = offSigner + PubKeySize
	offSignature = offTxnCount + txnCountSize
)

// Digest is a SHA-256 output.
// The zero Digest is the parent of the genesis block.
type Digest [DigestSize]byte

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

func (d Digest) LogValue() slog.Value {
	return slog.StringValue(d.String())
}

// IsZero reports whether d is the all-zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Header is a signed block header.
type Header struct {
	Slot uint64

	// Hash of the previous header, or zero for the first block.
	Parent Digest

	// ContentDigest of the included transaction signatures.
	Content Digest

	// Wall clock nanoseconds since the Unix epoch. Informational.
	Timestamp int64

	Signer    [PubKeySize]byte
	TxnCount  uint32
	Signature [SignatureSize]byte
}

// MarshalBinary returns the canonical HeaderSize encoding of h.
// It never returns an error.
func (h Header) MarshalBinary() ([]byte, error) {
	return h.AppendBinary(make([]byte, 0, HeaderSize))
}

// AppendBinary appends the canonical encoding of h to b.
func (h Header) AppendBinary(b []byte) ([]byte, error) {
	b = binary.LittleEndian.AppendUint64(b, h.Slot)
	b = append(b, h.Parent[:]...)
	b = append(b, h.Content[:]...)
	b = binary.LittleEndian.AppendUint64(b, uint64(h.Timestamp))
	b = append(b, h.Signer[:]...)
	b = binary.LittleEndian.AppendUint32(b, h.TxnCount)
	b = append(b, h.Signature[:]...)
	return b, nil
}

// UnmarshalBinary decodes exactly HeaderSize bytes into h.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) != HeaderSize {
		return fmt.Errorf("header must be %d bytes, got %d", HeaderSize, len(data))
	}

	h.Slot = binary.LittleEndian.Uint64(data[offSlot:])
	copy(h.Parent[:], data[offParent:offContent])
	copy(h.Content[:], data[offContent:offTimestamp])
	h.Timestamp = int64(binary.LittleEndian.Uint64(data[offTimestamp:]))
	copy(h.Signer[:], data[offSigner:offTxnCount])
	h.TxnCount = binary.LittleEndian.Uint32(data[offTxnCount:])
	copy(h.Signature[:], data[offSignature:HeaderSize])
	return nil
}

// SignBytes returns the bytes the header signature covers:
// the encoding up to, and not including, the signature field.
func (h Header) SignBytes() []byte {
	b, _ := h.MarshalBinary()
	return b[:SignedSize]
}

// Hash returns the SHA-256 digest of the full encoded header.
// The next block uses it as its parent digest.
func (h Header) Hash() Digest {
	b, _ := h.MarshalBinary()
	return sha256.Sum256(b)
}

// Verify reports whether h carries a valid signature by pub
// and names pub as its signer.
func (h Header) Verify(pub gcrypto.PubKey) bool {
	pb := pub.PubKeyBytes()
	if len(pb) != PubKeySize || string(pb) != string(h.Signer[:]) {
		return false
	}
	return pub.Verify(h.SignBytes(), h.Signature[:])
}
