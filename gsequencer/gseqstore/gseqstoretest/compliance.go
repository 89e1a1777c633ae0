package gseqstoretest

import (
	"context"
	"testing"
	"time"

	"github.com/gordian-engine/gsequencer/gsequencer/gseqstore"
	"github.com/stretchr/testify/require"
)

// StoreFactory creates a CheckpointStore for a compliance test.
// The cleanup argument registers a function to run when the test finishes,
// for closing databases or removing temporary files.
type StoreFactory func(cleanup func(func())) (gseqstore.CheckpointStore, error)

// TestCheckpointStoreCompliance tests the expected behavior
// of any [gseqstore.CheckpointStore] implementation.
func TestCheckpointStoreCompliance(t *testing.T, f StoreFactory) {
	t.Run("empty store returns ErrNotFound", func(t *testing.T) {
		t.Parallel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		_, err = s.LoadCheckpoint(context.Background())
		require.ErrorIs(t, err, gseqstore.ErrNotFound)
	})

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		cp := sampleCheckpoint(10)
		require.NoError(t, s.SaveCheckpoint(ctx, cp))

		got, err := s.LoadCheckpoint(ctx)
		require.NoError(t, err)
		require.Equal(t, cp, got)
	})

	t.Run("latest save wins", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		for slot := range uint64(5) {
			require.NoError(t, s.SaveCheckpoint(ctx, sampleCheckpoint(slot)))
		}

		got, err := s.LoadCheckpoint(ctx)
		require.NoError(t, err)
		require.Equal(t, sampleCheckpoint(4), got)
	})

	t.Run("saved checkpoint is not aliased", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		cp := sampleCheckpoint(1)
		require.NoError(t, s.SaveCheckpoint(ctx, cp))
		cp.SignerPubKey[0] ^= 0xff

		got, err := s.LoadCheckpoint(ctx)
		require.NoError(t, err)
		require.Equal(t, sampleCheckpoint(1), got)
	})
}

func sampleCheckpoint(slot uint64) gseqstore.Checkpoint {
	pub := make([]byte, 32)
	for i := range pub {
		pub[i] = byte(i)
	}
	return gseqstore.Checkpoint{
		Slot:             slot + 1,
		Epoch:            slot / 4,
		ParentDigest:     [32]byte{byte(slot), 0xaa},
		BlockCount:       slot + 1,
		TxnCount:         slot * 10,
		IncludedTxnCount: slot * 9,
		DroppedTxnCount:  slot,
		FeeTotal:         slot * 5000,
		SignerPubKey:     pub,
		Time:             time.Unix(1_700_000_000+int64(slot), 0).UTC(),
	}
}
