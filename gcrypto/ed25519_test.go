package gcrypto_test

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/gordian-engine/gsequencer/gcrypto"
	"github.com/gordian-engine/gsequencer/gcrypto/gcryptotest"
	"github.com/stretchr/testify/require"
)

func TestEd25519Signer_SignVerify(t *testing.T) {
	t.Parallel()

	s := gcryptotest.DeterministicEd25519Signers(1)[0]

	msg := []byte("block header")
	sig, err := s.Sign(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, sig, ed25519.SignatureSize)

	require.True(t, s.PubKey().Verify(msg, sig))
	require.False(t, s.PubKey().Verify([]byte("other header"), sig))
}

func TestEd25519Signer_Zero(t *testing.T) {
	t.Parallel()

	s := gcryptotest.DeterministicEd25519Signers(1)[0]
	pub := s.PubKey()

	s.Zero()

	_, err := s.Sign(context.Background(), []byte("x"))
	require.ErrorIs(t, err, gcrypto.ErrKeyZeroed)

	// The public key stays usable for verification after zeroing.
	require.Len(t, pub.PubKeyBytes(), ed25519.PublicKeySize)

	// Idempotent.
	s.Zero()
}

func TestEd25519Signer_ZeroDoesNotAffectOtherSigners(t *testing.T) {
	t.Parallel()

	a := gcryptotest.DeterministicEd25519Signers(1)[0]
	b := gcryptotest.DeterministicEd25519Signers(1)[0]
	require.True(t, a.PubKey().Equal(b.PubKey()))

	a.Zero()

	_, err := b.Sign(context.Background(), []byte("x"))
	require.NoError(t, err)
}

func TestNewEd25519SignerFromSeed(t *testing.T) {
	t.Parallel()

	_, err := gcrypto.NewEd25519SignerFromSeed([]byte("short"))
	require.Error(t, err)

	seed := make([]byte, ed25519.SeedSize)
	s1, err := gcrypto.NewEd25519SignerFromSeed(seed)
	require.NoError(t, err)
	s2, err := gcrypto.NewEd25519SignerFromSeed(seed)
	require.NoError(t, err)
	require.True(t, s1.PubKey().Equal(s2.PubKey()))
}
