// Package gtxqueue contains the pending transaction entry
// and the fixed-capacity fee priority queue the sequencer orders them with.
package gtxqueue

import "time"

const (
	// MaxPayloadSize is the largest serialized transaction accepted,
	// matching the signed-transaction wire limit.
	MaxPayloadSize = 1232

	// SignatureSize is the size of the identifying transaction signature.
	SignatureSize = 64

	// SignatureOffset is where the first signature starts in a payload.
	// A one-byte compact-u16 signature count precedes it.
	SignatureOffset = 1

	// MinPayloadSize is the smallest payload that carries a full signature.
	MinPayloadSize = SignatureOffset + SignatureSize
)

// Transaction is one pending transaction.
//
// The sequencer never interprets Payload;
// Signature is its identity for the block content digest.
type Transaction struct {
	Payload []byte

	// Fee is the priority key. It is 64 bits wide everywhere
	// it is compared or accumulated.
	Fee uint64

	// Arrival is when the transaction was staged. Diagnostic only.
	Arrival time.Time

	Signature [SignatureSize]byte

	// Assigned by Queue.Push, used for tie-breaking equal fees.
	seq uint64
}

// ExtractSignature returns the first signature in payload.
// ok is false if the payload is too short to contain one.
func ExtractSignature(payload []byte) (sig [SignatureSize]byte, ok bool) {
	if len(payload) < MinPayloadSize {
		return sig, false
	}
	copy(sig[:], payload[SignatureOffset:SignatureOffset+SignatureSize])
	return sig, true
}
