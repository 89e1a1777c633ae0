package gcrypto

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"fmt"
)

// RegisterEd25519 registers ed25519 with the given Registry.
// There is no global registry; it is the caller's responsibility
// to register as needed.
func RegisterEd25519(reg *Registry) {
	reg.Register("ed25519", Ed25519PubKey{}, NewEd25519PubKey)
}

// Ed25519PubKey is a 32-byte ed25519 public key.
type Ed25519PubKey ed25519.PublicKey

func NewEd25519PubKey(b []byte) (PubKey, error) {
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf(
			"ed25519 public key must be %d bytes, got %d",
			ed25519.PublicKeySize, len(b),
		)
	}
	return Ed25519PubKey(bytes.Clone(b)), nil
}

func (k Ed25519PubKey) PubKeyBytes() []byte {
	return k
}

func (k Ed25519PubKey) Verify(msg, sig []byte) bool {
	if len(k) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(k), msg, sig)
}

func (k Ed25519PubKey) Equal(other PubKey) bool {
	o, ok := other.(Ed25519PubKey)
	if !ok {
		return false
	}
	return bytes.Equal(k, o)
}

// Ed25519Signer signs with an in-memory ed25519 private key.
//
// The key is written once at construction and wiped by Zero;
// signing does not mutate it, so concurrent Sign calls are safe
// as long as Zero is not called concurrently.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  Ed25519PubKey
}

// NewEd25519Signer returns a signer owning priv.
// The caller should not retain or modify priv after this call.
func NewEd25519Signer(priv ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{
		priv: priv,
		pub:  Ed25519PubKey(priv.Public().(ed25519.PublicKey)),
	}
}

// NewEd25519SignerFromSeed derives the key pair from a 32-byte seed.
func NewEd25519SignerFromSeed(seed []byte) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return NewEd25519Signer(ed25519.NewKeyFromSeed(seed)), nil
}

func (s *Ed25519Signer) PubKey() PubKey {
	return s.pub
}

func (s *Ed25519Signer) Sign(_ context.Context, input []byte) ([]byte, error) {
	if s.priv == nil {
		return nil, ErrKeyZeroed
	}
	if len(s.priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("corrupted ed25519 private key: %d bytes", len(s.priv))
	}
	return ed25519.Sign(s.priv, input), nil
}

// Zero overwrites the private key in memory.
// Subsequent calls to Sign return [ErrKeyZeroed].
// Zero is idempotent.
func (s *Ed25519Signer) Zero() {
	clear(s.priv)
	s.priv = nil
}

// Zeroer is implemented by signers that can wipe their private key.
type Zeroer interface {
	Zero()
}
