package gblock

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gordian-engine/gsequencer/gcrypto"
	"github.com/gordian-engine/gsequencer/gtxqueue"
)

// ErrSigning is returned by [*Builder.Build] when the signer fails
// or produces a signature that does not verify.
// A sequencer that cannot sign must not continue producing blocks.
var ErrSigning = errors.New("block signing failed")

// Builder drains a transaction queue into signed blocks.
//
// Builder is not safe for concurrent use.
type Builder struct {
	signer gcrypto.Signer
	pub    gcrypto.PubKey

	signerKey [PubKeySize]byte

	hasher contentHasher

	feeTotal uint64
}

// NewBuilder returns a Builder signing with s.
// The signer's public key must be 32 bytes.
func NewBuilder(s gcrypto.Signer) (*Builder, error) {
	pub := s.PubKey()
	pb := pub.PubKeyBytes()
	if len(pb) != PubKeySize {
		return nil, fmt.Errorf(
			"signer public key must be %d bytes, got %d", PubKeySize, len(pb),
		)
	}

	b := &Builder{
		signer: s,
		pub:    pub,
		hasher: newContentHasher(),
	}
	copy(b.signerKey[:], pb)
	return b, nil
}

// BuildParams are the per-block inputs to [*Builder.Build].
type BuildParams struct {
	// Maximum number of transactions to pop.
	MaxTxns int

	Slot   uint64
	Parent Digest

	// Wall clock time recorded in the header.
	Now time.Time
}

// Build pops up to p.MaxTxns of the highest-fee transactions from q
// and returns them in a signed block, in pop order.
//
// An empty queue yields a signed block with zero transactions.
// Transactions popped before a signing failure are not returned to q.
func (b *Builder) Build(ctx context.Context, q *gtxqueue.Queue, p BuildParams) (Block, error) {
	n := min(p.MaxTxns, q.Len())
	if n < 0 {
		n = 0
	}

	txns := make([]gtxqueue.Transaction, 0, n)
	b.hasher.Reset()

	// Committed to b.feeTotal only once the block is signed.
	feeTotal := b.feeTotal
	for range n {
		txn, ok := q.Pop()
		if !ok {
			break
		}
		b.hasher.Add(&txn.Signature)
		feeTotal = addSaturating(feeTotal, txn.Fee)
		txns = append(txns, txn)
	}

	h := Header{
		Slot:      p.Slot,
		Parent:    p.Parent,
		Content:   b.hasher.Sum(),
		Timestamp: p.Now.UnixNano(),
		Signer:    b.signerKey,
		TxnCount:  uint32(len(txns)),
	}

	if err := b.sign(ctx, &h); err != nil {
		return Block{}, err
	}
	b.feeTotal = feeTotal

	return Block{
		Header:       h,
		Transactions: txns,
	}, nil
}

func (b *Builder) sign(ctx context.Context, h *Header) error {
	msg := h.SignBytes()

	sig, err := b.signer.Sign(ctx, msg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSigning, err)
	}
	if len(sig) != SignatureSize {
		return fmt.Errorf(
			"%w: signature must be %d bytes, got %d", ErrSigning, SignatureSize, len(sig),
		)
	}

	// Corrupted key material signs without error but fails verification.
	if !b.pub.Verify(msg, sig) {
		return fmt.Errorf("%w: produced signature does not verify", ErrSigning)
	}

	copy(h.Signature[:], sig)
	return nil
}

// FeeTotal is the sum of fees of every transaction included so far.
// It saturates at math.MaxUint64.
func (b *Builder) FeeTotal() uint64 {
	return b.feeTotal
}

// SetFeeTotal overrides the running fee total, when resuming from a checkpoint.
func (b *Builder) SetFeeTotal(total uint64) {
	b.feeTotal = total
}

// PubKey returns the public key of the builder's signer.
func (b *Builder) PubKey() gcrypto.PubKey {
	return b.pub
}

func addSaturating(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
