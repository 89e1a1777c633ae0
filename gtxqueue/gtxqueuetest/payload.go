// Package gtxqueuetest contains helpers for tests that need transaction payloads.
package gtxqueuetest

import (
	"encoding/binary"

	"github.com/gordian-engine/gsequencer/gtxqueue"
)

// Payload returns a payload of size bytes whose signature is unique per id.
// It panics if size is below [gtxqueue.MinPayloadSize].
func Payload(id uint64, size int) []byte {
	if size < gtxqueue.MinPayloadSize {
		panic("BUG: payload size too small to hold a signature")
	}

	p := make([]byte, size)
	p[0] = 1 // One signature.

	sig := p[gtxqueue.SignatureOffset : gtxqueue.SignatureOffset+gtxqueue.SignatureSize]
	for i := 0; i < len(sig); i += 8 {
		binary.LittleEndian.PutUint64(sig[i:], id^uint64(i))
	}

	for i := gtxqueue.MinPayloadSize; i < size; i++ {
		p[i] = byte(id) + byte(i)
	}
	return p
}

// Signature returns the signature embedded by [Payload] for id.
func Signature(id uint64) [gtxqueue.SignatureSize]byte {
	sig, _ := gtxqueue.ExtractSignature(Payload(id, gtxqueue.MinPayloadSize))
	return sig
}
