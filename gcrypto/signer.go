package gcrypto

import (
	"context"
	"errors"
)

// Signer produces signatures with a private key that never leaves the Signer.
type Signer interface {
	PubKey() PubKey

	// Sign returns the signature of input.
	// An error indicates that the key material is unusable;
	// callers producing blocks must treat that as fatal.
	Sign(ctx context.Context, input []byte) ([]byte, error)
}

// ErrKeyZeroed is returned by signers whose private key material
// has already been wiped.
var ErrKeyZeroed = errors.New("private key material has been zeroed")
