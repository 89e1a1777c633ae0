package main

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/gordian-engine/gsequencer/gcrypto"
	"github.com/gordian-engine/gsequencer/gcrypto/gcryptotest"
	"github.com/gordian-engine/gsequencer/gsequencer"
	"github.com/gordian-engine/gsequencer/internal/gtest"
	"github.com/stretchr/testify/require"
)

func TestOpenSequencer(t *testing.T) {
	t.Parallel()

	seqCfg, err := defaultRunConfig().SequencerConfig()
	require.NoError(t, err)

	t.Run("in memory", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := slog.New(slog.NewTextHandler(&buf, nil))

		signer := gcryptotest.DeterministicEd25519Signers(1)[0]
		seq, store, err := openSequencer(context.Background(), log, "", seqCfg, signer)
		require.NoError(t, err)
		defer store.Close()

		require.Contains(t, buf.String(), "checkpoints are in memory")

		_, err = signer.Sign(context.Background(), []byte("x"))
		require.NoError(t, err)

		seq.Close()
		_, err = signer.Sign(context.Background(), []byte("x"))
		require.ErrorIs(t, err, gcrypto.ErrKeyZeroed)
	})

	t.Run("store error zeroes key", func(t *testing.T) {
		t.Parallel()

		// A regular file where the data directory should be.
		dataDir := writeFile(t, "not-a-dir", "")

		signer := gcryptotest.DeterministicEd25519Signers(1)[0]
		_, _, err := openSequencer(context.Background(), gtest.NewLogger(t), dataDir, seqCfg, signer)
		require.ErrorContains(t, err, "checkpoint store")

		_, err = signer.Sign(context.Background(), []byte("x"))
		require.ErrorIs(t, err, gcrypto.ErrKeyZeroed)
	})

	t.Run("sequencer error zeroes key", func(t *testing.T) {
		t.Parallel()

		signer := gcryptotest.DeterministicEd25519Signers(1)[0]
		_, _, err := openSequencer(
			context.Background(), gtest.NewLogger(t),
			filepath.Join(t.TempDir(), "data"), gsequencer.Config{}, signer,
		)
		require.ErrorContains(t, err, "invalid sequencer configuration")

		_, err = signer.Sign(context.Background(), []byte("x"))
		require.ErrorIs(t, err, gcrypto.ErrKeyZeroed)
	})
}
