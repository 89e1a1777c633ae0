package gcryptotest

import (
	"crypto/ed25519"
	"math/rand/v2"
	"sync"

	"github.com/gordian-engine/gsequencer/gcrypto"
)

var (
	seedMu sync.Mutex
	seeds  [][ed25519.SeedSize]byte
)

var seedRNG = rand.NewChaCha8([32]byte{'g', 's', 'e', 'q'})

// DeterministicEd25519Signers returns n ed25519 signers
// whose keys are identical across test runs.
//
// Seeds are generated once and cached, but every call returns
// freshly constructed signers, so a test that zeroes its signer
// does not affect other tests.
func DeterministicEd25519Signers(n int) []*gcrypto.Ed25519Signer {
	seedMu.Lock()
	for len(seeds) < n {
		var seed [ed25519.SeedSize]byte
		_, _ = seedRNG.Read(seed[:])
		seeds = append(seeds, seed)
	}
	use := seeds[:n]
	seedMu.Unlock()

	out := make([]*gcrypto.Ed25519Signer, n)
	for i, seed := range use {
		out[i] = gcrypto.NewEd25519Signer(ed25519.NewKeyFromSeed(seed[:]))
	}
	return out
}
