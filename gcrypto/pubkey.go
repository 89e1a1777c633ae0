package gcrypto

// PubKey is the public half of a signing identity.
type PubKey interface {
	// PubKeyBytes returns the raw encoded key.
	// Callers must not modify the returned slice.
	PubKeyBytes() []byte

	Equal(other PubKey) bool

	// Verify reports whether sig is a valid signature of msg under this key.
	Verify(msg, sig []byte) bool
}
