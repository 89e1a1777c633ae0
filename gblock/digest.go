package gblock

import (
	"crypto/sha256"
	"hash"

	"github.com/gordian-engine/gsequencer/gtxqueue"
)

// ContentDigest returns the SHA-256 hash of sigs concatenated in order.
//
// This is a flat hash, not a Merkle root:
// proving inclusion of one transaction requires every signature in the block.
func ContentDigest(sigs [][gtxqueue.SignatureSize]byte) Digest {
	h := newContentHasher()
	for i := range sigs {
		h.Add(&sigs[i])
	}
	return h.Sum()
}

// contentHasher accumulates a content digest incrementally,
// so the builder does not need to hold a concatenation buffer.
type contentHasher struct {
	h hash.Hash
}

func newContentHasher() contentHasher {
	return contentHasher{h: sha256.New()}
}

func (c contentHasher) Reset() {
	c.h.Reset()
}

func (c contentHasher) Add(sig *[gtxqueue.SignatureSize]byte) {
	// hash.Hash.Write never returns an error.
	_, _ = c.h.Write(sig[:])
}

func (c contentHasher) Sum() Digest {
	var d Digest
	copy(d[:], c.h.Sum(nil))
	return d
}
