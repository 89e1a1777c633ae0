package gblock_test

import (
	"context"
	"crypto/sha256"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/gordian-engine/gsequencer/gblock"
	"github.com/gordian-engine/gsequencer/gcrypto"
	"github.com/gordian-engine/gsequencer/gcrypto/gcryptotest"
	"github.com/gordian-engine/gsequencer/gtxqueue"
	"github.com/stretchr/testify/require"
)

// payloadTxn returns a transaction whose payload carries a signature
// derived from id, so distinct ids have distinct identities.
func payloadTxn(id byte, fee uint64) gtxqueue.Transaction {
	payload := make([]byte, gtxqueue.MinPayloadSize+3)
	payload[0] = 1
	for i := range gtxqueue.SignatureSize {
		payload[gtxqueue.SignatureOffset+i] = id ^ byte(i)
	}
	sig, ok := gtxqueue.ExtractSignature(payload)
	if !ok {
		panic("BUG: test payload too short")
	}
	return gtxqueue.Transaction{
		Payload:   payload,
		Fee:       fee,
		Signature: sig,
	}
}

func newBuilder(t *testing.T) (*gblock.Builder, gcrypto.PubKey) {
	t.Helper()
	s := gcryptotest.DeterministicEd25519Signers(1)[0]
	b, err := gblock.NewBuilder(s)
	require.NoError(t, err)
	return b, s.PubKey()
}

func TestHeader_Layout(t *testing.T) {
	t.Parallel()

	require.Equal(t, 116, gblock.SignedSize)
	require.Equal(t, 180, gblock.HeaderSize)

	h := gblock.Header{
		Slot:      0x0102030405060708,
		Timestamp: -1,
		TxnCount:  7,
	}
	h.Parent[0] = 0xaa
	h.Content[31] = 0xbb
	h.Signer[0] = 0xcc
	h.Signature[63] = 0xdd

	b, err := h.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, gblock.HeaderSize)

	require.Equal(t, byte(0x08), b[0]) // Little-endian slot.
	require.Equal(t, byte(0xaa), b[8])
	require.Equal(t, byte(0xbb), b[8+32+31])
	require.Equal(t, byte(0xff), b[72])
	require.Equal(t, byte(0xcc), b[80])
	require.Equal(t, byte(7), b[112])
	require.Equal(t, byte(0xdd), b[179])

	require.Equal(t, b[:gblock.SignedSize], h.SignBytes())

	var got gblock.Header
	require.NoError(t, got.UnmarshalBinary(b))
	require.Equal(t, h, got)

	require.Error(t, got.UnmarshalBinary(b[:gblock.HeaderSize-1]))
}

func TestContentDigest(t *testing.T) {
	t.Parallel()

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		require.Equal(t, gblock.Digest(sha256.Sum256(nil)), gblock.ContentDigest(nil))
	})

	t.Run("flat concatenation", func(t *testing.T) {
		t.Parallel()

		a := payloadTxn(1, 0).Signature
		b := payloadTxn(2, 0).Signature

		want := sha256.Sum256(append(a[:], b[:]...))
		sigs := [][gtxqueue.SignatureSize]byte{a, b}
		require.Equal(t, gblock.Digest(want), gblock.ContentDigest(sigs))

		// Deterministic.
		require.Equal(t, gblock.ContentDigest(sigs), gblock.ContentDigest(sigs))

		// Order sensitive.
		require.NotEqual(t,
			gblock.ContentDigest(sigs),
			gblock.ContentDigest([][gtxqueue.SignatureSize]byte{b, a}),
		)
	})
}

func TestBuilder_Build_MaxTxns(t *testing.T) {
	t.Parallel()

	b, pub := newBuilder(t)

	q := gtxqueue.New(4)
	for i, fee := range []uint64{80, 50, 30, 10} {
		require.True(t, q.Push(payloadTxn(byte(i), fee)))
	}

	blk, err := b.Build(context.Background(), q, gblock.BuildParams{
		MaxTxns: 2,
		Slot:    5,
		Now:     time.Unix(100, 0),
	})
	require.NoError(t, err)

	require.Equal(t, uint32(2), blk.Header.TxnCount)
	require.Len(t, blk.Transactions, 2)
	require.Equal(t, uint64(80), blk.Transactions[0].Fee)
	require.Equal(t, uint64(50), blk.Transactions[1].Fee)

	require.Equal(t, 2, q.Len())
	rest1, _ := q.Pop()
	rest2, _ := q.Pop()
	require.Equal(t, uint64(30), rest1.Fee)
	require.Equal(t, uint64(10), rest2.Fee)

	require.Equal(t, uint64(5), blk.Header.Slot)
	require.Equal(t, time.Unix(100, 0).UnixNano(), blk.Header.Timestamp)
	require.Equal(t, uint64(130), b.FeeTotal())

	require.True(t, blk.Header.Verify(pub))
	require.NoError(t, gblock.VerifyBlock(blk, pub))
}

func TestBuilder_Build_Empty(t *testing.T) {
	t.Parallel()

	b, pub := newBuilder(t)
	q := gtxqueue.New(1)

	parent := gblock.Digest{1, 2, 3}
	blk, err := b.Build(context.Background(), q, gblock.BuildParams{
		MaxTxns: 10,
		Slot:    3,
		Parent:  parent,
		Now:     time.Unix(1, 0),
	})
	require.NoError(t, err)

	require.Zero(t, blk.Header.TxnCount)
	require.Empty(t, blk.Transactions)
	require.Equal(t, parent, blk.Header.Parent)
	require.Equal(t, gblock.ContentDigest(nil), blk.Header.Content)
	require.True(t, blk.Header.Verify(pub))
	require.NotEqual(t, [gblock.SignatureSize]byte{}, blk.Header.Signature)
}

func TestBuilder_Chaining(t *testing.T) {
	t.Parallel()

	b, pub := newBuilder(t)
	q := gtxqueue.New(16)

	var parent gblock.Digest
	var prev gblock.Header
	for slot := range uint64(5) {
		require.True(t, q.Push(payloadTxn(byte(slot), slot+1)))

		blk, err := b.Build(context.Background(), q, gblock.BuildParams{
			MaxTxns: 10,
			Slot:    slot,
			Parent:  parent,
			Now:     time.Unix(int64(slot), 0),
		})
		require.NoError(t, err)

		if slot == 0 {
			require.True(t, blk.Header.Parent.IsZero())
		} else {
			require.Equal(t, prev.Hash(), blk.Header.Parent)
		}
		require.NoError(t, gblock.VerifyBlock(blk, pub))

		prev = blk.Header
		parent = blk.Header.Hash()
	}
}

func TestHeader_Verify_Tampered(t *testing.T) {
	t.Parallel()

	b, pub := newBuilder(t)
	q := gtxqueue.New(2)
	require.True(t, q.Push(payloadTxn(9, 9)))

	blk, err := b.Build(context.Background(), q, gblock.BuildParams{MaxTxns: 1})
	require.NoError(t, err)

	t.Run("slot changed", func(t *testing.T) {
		h := blk.Header
		h.Slot++
		require.False(t, h.Verify(pub))
	})

	t.Run("signature changed", func(t *testing.T) {
		h := blk.Header
		h.Signature[0] ^= 1
		require.False(t, h.Verify(pub))
	})

	t.Run("other key", func(t *testing.T) {
		other := gcryptotest.DeterministicEd25519Signers(2)[1]
		require.False(t, blk.Header.Verify(other.PubKey()))
	})

	t.Run("dropped transaction", func(t *testing.T) {
		tampered := blk
		tampered.Transactions = nil
		require.ErrorIs(t, gblock.VerifyBlock(tampered, pub), gblock.ErrCountMismatch)
	})

	t.Run("swapped transaction", func(t *testing.T) {
		tampered := blk
		tampered.Transactions = []gtxqueue.Transaction{payloadTxn(8, 9)}
		require.ErrorIs(t, gblock.VerifyBlock(tampered, pub), gblock.ErrContentMismatch)
	})
}

func TestBlock_Codec(t *testing.T) {
	t.Parallel()

	b, pub := newBuilder(t)
	q := gtxqueue.New(8)
	for i := range 5 {
		require.True(t, q.Push(payloadTxn(byte(i), uint64(100+i))))
	}

	blk, err := b.Build(context.Background(), q, gblock.BuildParams{MaxTxns: 8, Slot: 2})
	require.NoError(t, err)

	enc, err := blk.MarshalBinary()
	require.NoError(t, err)

	got, err := gblock.UnmarshalBlock(enc)
	require.NoError(t, err)
	require.Equal(t, blk.Header, got.Header)
	require.Equal(t, blk.Payloads(), got.Payloads())
	require.Equal(t, blk.Signatures(), got.Signatures())
	require.NoError(t, gblock.VerifyBlock(got, pub))

	t.Run("truncated", func(t *testing.T) {
		_, err := gblock.UnmarshalBlock(enc[:len(enc)-1])
		require.Error(t, err)
	})

	t.Run("trailing", func(t *testing.T) {
		_, err := gblock.UnmarshalBlock(append(enc, 0))
		require.Error(t, err)
	})

	t.Run("too short for header", func(t *testing.T) {
		_, err := gblock.UnmarshalBlock(enc[:gblock.HeaderSize])
		require.Error(t, err)
	})
}

type failingSigner struct {
	gcrypto.Signer
	err error
}

func (s failingSigner) Sign(context.Context, []byte) ([]byte, error) {
	return nil, s.err
}

type garbageSigner struct {
	gcrypto.Signer
}

func (garbageSigner) Sign(context.Context, []byte) ([]byte, error) {
	return make([]byte, gblock.SignatureSize), nil
}

func TestBuilder_SigningFailure(t *testing.T) {
	t.Parallel()

	base := gcryptotest.DeterministicEd25519Signers(1)[0]

	t.Run("signer error", func(t *testing.T) {
		t.Parallel()

		inner := errors.New("hsm unavailable")
		b, err := gblock.NewBuilder(failingSigner{Signer: base, err: inner})
		require.NoError(t, err)

		q := gtxqueue.New(1)
		require.True(t, q.Push(payloadTxn(1, 700)))

		_, err = b.Build(context.Background(), q, gblock.BuildParams{MaxTxns: 1})
		require.ErrorIs(t, err, gblock.ErrSigning)
		require.ErrorIs(t, err, inner)

		// Fees of an unsigned block are not counted.
		require.Zero(t, b.FeeTotal())
	})

	t.Run("signature does not verify", func(t *testing.T) {
		t.Parallel()

		b, err := gblock.NewBuilder(garbageSigner{Signer: base})
		require.NoError(t, err)

		_, err = b.Build(context.Background(), gtxqueue.New(1), gblock.BuildParams{MaxTxns: 1})
		require.ErrorIs(t, err, gblock.ErrSigning)
	})

	t.Run("zeroed key", func(t *testing.T) {
		t.Parallel()

		s := gcryptotest.DeterministicEd25519Signers(1)[0]
		b, err := gblock.NewBuilder(s)
		require.NoError(t, err)
		s.Zero()

		_, err = b.Build(context.Background(), gtxqueue.New(1), gblock.BuildParams{MaxTxns: 1})
		require.ErrorIs(t, err, gblock.ErrSigning)
		require.ErrorIs(t, err, gcrypto.ErrKeyZeroed)
	})
}

func TestBuilder_FeeTotalSaturates(t *testing.T) {
	t.Parallel()

	b, _ := newBuilder(t)
	b.SetFeeTotal(math.MaxUint64 - 5)

	q := gtxqueue.New(2)
	require.True(t, q.Push(payloadTxn(1, 10)))

	_, err := b.Build(context.Background(), q, gblock.BuildParams{MaxTxns: 1})
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64), b.FeeTotal())
}

func BenchmarkBuilder_Build(b *testing.B) {
	s := gcryptotest.DeterministicEd25519Signers(1)[0]
	bld, err := gblock.NewBuilder(s)
	if err != nil {
		b.Fatal(err)
	}

	const perBlock = 1000
	q := gtxqueue.New(perBlock)
	txns := make([]gtxqueue.Transaction, perBlock)
	for i := range txns {
		txns[i] = payloadTxn(byte(i), uint64(i))
	}

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		for _, txn := range txns {
			q.Push(txn)
		}
		b.StartTimer()

		if _, err := bld.Build(ctx, q, gblock.BuildParams{MaxTxns: perBlock, Slot: uint64(i)}); err != nil {
			b.Fatal(err)
		}
	}
}
