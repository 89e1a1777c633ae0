package gseqstore_test

import (
	"testing"
	"time"

	"github.com/gordian-engine/gsequencer/gsequencer/gseqstore"
	"github.com/stretchr/testify/require"
)

func TestCheckpoint_Binary(t *testing.T) {
	t.Parallel()

	cp := gseqstore.Checkpoint{
		Slot:             864_001,
		Epoch:            2,
		ParentDigest:     [32]byte{1, 2, 3},
		BlockCount:       864_001,
		TxnCount:         50,
		IncludedTxnCount: 45,
		DroppedTxnCount:  3,
		FeeTotal:         225_000,
		SignerPubKey:     []byte("0123456789abcdef0123456789abcdef"),
		Time:             time.Unix(1_700_000_000, 123).UTC(),
	}

	b, err := cp.MarshalBinary()
	require.NoError(t, err)

	var got gseqstore.Checkpoint
	require.NoError(t, got.UnmarshalBinary(b))
	require.Equal(t, cp, got)

	t.Run("truncated", func(t *testing.T) {
		var c gseqstore.Checkpoint
		require.Error(t, c.UnmarshalBinary(b[:len(b)-1]))
		require.Error(t, c.UnmarshalBinary(b[:10]))
	})

	t.Run("bad version", func(t *testing.T) {
		bad := append([]byte(nil), b...)
		bad[0] = 99

		var c gseqstore.Checkpoint
		require.ErrorContains(t, c.UnmarshalBinary(bad), "unsupported checkpoint version")
	})
}

func TestCheckpoint_Binary_ZeroValue(t *testing.T) {
	t.Parallel()

	b, err := gseqstore.Checkpoint{}.MarshalBinary()
	require.NoError(t, err)

	var got gseqstore.Checkpoint
	require.NoError(t, got.UnmarshalBinary(b))
	require.Equal(t, gseqstore.Checkpoint{}, got)
}
