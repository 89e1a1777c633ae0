// Package gsequencer contains the single-authority sequencer:
// it orders incoming transactions by fee,
// and at a fixed cadence builds, signs and chains blocks of them.
//
// [Sequencer] is the single-writer core with no internal locking.
// [Service] owns a Sequencer in one goroutine
// and funnels concurrent ingestion through a channel.
package gsequencer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gordian-engine/gsequencer/gblock"
	"github.com/gordian-engine/gsequencer/gcrypto"
	"github.com/gordian-engine/gsequencer/gsequencer/gseqstore"
	"github.com/gordian-engine/gsequencer/gslot"
	"github.com/gordian-engine/gsequencer/gtxqueue"
	"github.com/gordian-engine/gsequencer/internal/glog"
)

var (
	ErrEmptyPayload    = errors.New("empty transaction payload")
	ErrPayloadTooLarge = errors.New("transaction payload too large")
	ErrPayloadTooShort = errors.New("transaction payload too short to contain a signature")

	// ErrClosed is returned after [*Sequencer.Close].
	ErrClosed = errors.New("sequencer closed")
)

// Sequencer orders transactions and produces signed blocks.
//
// Sequencer is not safe for concurrent use:
// exactly one goroutine may call its methods.
type Sequencer struct {
	log *slog.Logger

	cfg Config

	q       *gtxqueue.Queue
	builder *gblock.Builder
	signer  gcrypto.Signer
	keys    *gcrypto.Registry

	// Registry encoding of the signer's public key, stored in checkpoints.
	signerKey []byte
	slots   *gslot.Clock
	clock   clock.Clock

	parent gblock.Digest

	// Monotonic time the production timer was last reset.
	blockStart time.Time

	// Wall time of the last produced block.
	lastBlockTime time.Time

	blockCount       uint64
	txnCount         uint64
	includedTxnCount uint64
	droppedTxnCount  uint64

	closed bool

	// Set by the first signing failure; returned by every later call.
	halted error
}

// Option customizes a Sequencer at construction.
type Option func(*options)

type options struct {
	checkpoint *gseqstore.Checkpoint
	clock      clock.Clock
	keys       *gcrypto.Registry
}

// WithCheckpoint resumes the sequencer from cp:
// slot, parent digest and lifetime counters continue where cp left off.
func WithCheckpoint(cp gseqstore.Checkpoint) Option {
	return func(o *options) {
		o.checkpoint = &cp
	}
}

// WithKeyRegistry sets the registry used to encode the signer's public key
// in checkpoints and to decode it on resume.
// The default registry knows only ed25519.
func WithKeyRegistry(reg *gcrypto.Registry) Option {
	return func(o *options) {
		o.keys = reg
	}
}

// WithClock sets the clock used for arrival times
// and for the initial production timer.
// The default is the real clock.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// NewSequencer validates cfg and returns a Sequencer
// signing with signer.
// The production timer starts immediately,
// so the first block is due one BlockTime after construction.
func NewSequencer(
	log *slog.Logger,
	cfg Config,
	signer gcrypto.Signer,
	opts ...Option,
) (*Sequencer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sequencer configuration: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.New()
	}
	if o.keys == nil {
		o.keys = new(gcrypto.Registry)
		gcrypto.RegisterEd25519(o.keys)
	}

	keyType, ok := o.keys.Name(signer.PubKey())
	if !ok {
		return nil, fmt.Errorf("signer public key type %T is not registered", signer.PubKey())
	}

	b, err := gblock.NewBuilder(signer)
	if err != nil {
		return nil, fmt.Errorf("failed to create block builder: %w", err)
	}

	s := &Sequencer{
		log: log,
		cfg: cfg,

		q:       gtxqueue.New(cfg.QueueCapacity),
		builder: b,
		signer:  signer,
		keys:    o.keys,
		clock:   o.clock,

		signerKey: o.keys.Marshal(signer.PubKey()),

		blockStart: o.clock.Now(),
	}

	if cp := o.checkpoint; cp != nil {
		s.resume(*cp)
	} else {
		s.slots = gslot.NewClock(cfg.SlotsPerEpoch)
	}

	log.Info(
		"Sequencer initialized",
		"block_time", cfg.BlockTime,
		"max_txns", cfg.MaxTxnsPerBlock,
		"slots_per_epoch", cfg.SlotsPerEpoch,
		"queue_cap", cfg.QueueCapacity,
		"slot", s.slots.Slot(),
		"epoch", s.slots.Epoch(),
		"signer", glog.Hex(signer.PubKey().PubKeyBytes()),
		"signer_type", keyType,
	)

	return s, nil
}

func (s *Sequencer) resume(cp gseqstore.Checkpoint) {
	s.slots = gslot.NewClockAt(s.cfg.SlotsPerEpoch, cp.Slot)
	if s.slots.Epoch() != cp.Epoch {
		s.log.Warn(
			"Checkpoint epoch differs from epoch derived from slot; slots per epoch may have changed",
			"checkpoint_epoch", cp.Epoch,
			"derived_epoch", s.slots.Epoch(),
			"slot", cp.Slot,
		)
	}

	if len(cp.SignerPubKey) > 0 {
		s.checkSigner(cp.SignerPubKey)
	}

	s.parent = cp.ParentDigest
	s.blockCount = cp.BlockCount
	s.txnCount = cp.TxnCount
	s.includedTxnCount = cp.IncludedTxnCount
	s.droppedTxnCount = cp.DroppedTxnCount
	s.builder.SetFeeTotal(cp.FeeTotal)
	s.lastBlockTime = cp.Time

	s.log.Info(
		"Resumed from checkpoint",
		"slot", cp.Slot,
		"parent", cp.ParentDigest,
		"blocks", cp.BlockCount,
	)
}

// checkSigner warns if the checkpoint was produced under another key.
// Rotation happens out-of-band, so resuming continues either way.
func (s *Sequencer) checkSigner(encoded []byte) {
	pub, err := s.keys.Unmarshal(encoded)
	if err != nil {
		s.log.Warn(
			"Cannot decode checkpoint signer key",
			"checkpoint_signer", glog.Hex(encoded),
			"err", err,
		)
		return
	}

	if !pub.Equal(s.signer.PubKey()) {
		s.log.Warn(
			"Resuming from checkpoint produced by a different signer",
			"checkpoint_signer", glog.Hex(pub.PubKeyBytes()),
			"signer", glog.Hex(s.signer.PubKey().PubKeyBytes()),
		)
	}
}

// Ingest validates payload and enqueues it with the given fee hint.
// A zero feeHint means no hint was supplied, and the configured base fee applies.
//
// Ingest copies payload; the caller may reuse its buffer.
//
// Rejected transactions are dropped, not retried.
// The returned error is one of [ErrEmptyPayload], [ErrPayloadTooLarge],
// [ErrPayloadTooShort], [gtxqueue.ErrQueueFull] or [ErrClosed],
// or the fatal error from an earlier failed [*Sequencer.Housekeep].
func (s *Sequencer) Ingest(payload []byte, feeHint uint64) error {
	if s.closed {
		return ErrClosed
	}
	if s.halted != nil {
		return s.halted
	}

	if err := s.ingest(payload, feeHint); err != nil {
		s.droppedTxnCount++
		s.log.Warn(
			"Dropped transaction",
			"size", len(payload),
			"fee", feeHint,
			"queue", s.q.Len(),
			"err", err,
		)
		return err
	}

	s.txnCount++
	return nil
}

func (s *Sequencer) ingest(payload []byte, feeHint uint64) error {
	switch n := len(payload); {
	case n == 0:
		return ErrEmptyPayload
	case n > gtxqueue.MaxPayloadSize:
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, n, gtxqueue.MaxPayloadSize)
	}

	sig, ok := gtxqueue.ExtractSignature(payload)
	if !ok {
		return fmt.Errorf(
			"%w: %d < %d", ErrPayloadTooShort, len(payload), gtxqueue.MinPayloadSize,
		)
	}

	fee := feeHint
	if fee == 0 {
		fee = s.cfg.BaseFee
	}

	// Skip copying a payload that cannot be queued.
	if s.q.Len() == s.q.Cap() {
		return gtxqueue.ErrQueueFull
	}

	if !s.q.Push(gtxqueue.Transaction{
		Payload:   bytes.Clone(payload),
		Fee:       fee,
		Arrival:   s.clock.Now(),
		Signature: sig,
	}) {
		return gtxqueue.ErrQueueFull
	}

	return nil
}

// Housekeep produces a block if at least BlockTime has elapsed
// since the previous block, measured against now.
// It returns a nil block when no block is due,
// so it is cheap to call frequently.
//
// A returned error wraps [gblock.ErrSigning] and is fatal:
// every later call to Housekeep or Ingest returns the same error,
// and the slot of the failed block is never reissued.
func (s *Sequencer) Housekeep(ctx context.Context, now time.Time) (*gblock.Block, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.halted != nil {
		return nil, s.halted
	}

	// A clock stepping backwards must not stall production forever.
	elapsed := max(now.Sub(s.blockStart), 0)
	if elapsed < s.cfg.BlockTime {
		return nil, nil
	}

	slot := s.slots.Slot()
	blk, err := s.builder.Build(ctx, s.q, gblock.BuildParams{
		MaxTxns: s.cfg.MaxTxnsPerBlock,
		Slot:    slot,
		Parent:  s.parent,
		Now:     now,
	})
	if err != nil {
		s.halted = fmt.Errorf("failed to build block for slot %d: %w", slot, err)
		s.log.Error(
			"Block signing failed; halting production",
			"slot", slot,
			"err", err,
		)
		return nil, s.halted
	}

	s.parent = blk.Header.Hash()
	epochCrossed := s.slots.Advance()
	s.blockStart = now
	s.lastBlockTime = now

	s.blockCount++
	s.includedTxnCount += uint64(len(blk.Transactions))

	s.log.Info(
		"Produced block",
		"slot", slot,
		"txns", len(blk.Transactions),
		"fees", s.builder.FeeTotal(),
		"queue", s.q.Len(),
	)

	if epochCrossed {
		s.log.Info(
			"Epoch boundary crossed",
			"epoch", s.slots.Epoch(),
			"slot", s.slots.Slot(),
		)
	}

	return &blk, nil
}

// Snapshot is a point-in-time view of sequencer state.
type Snapshot struct {
	// Slot is the next slot to be produced.
	Slot  uint64
	Epoch uint64

	BlockCount uint64

	// Transactions accepted into the queue.
	TxnCount uint64

	// Transactions included in produced blocks.
	IncludedTxnCount uint64

	// Transactions rejected at ingestion.
	DroppedTxnCount uint64

	QueueDepth int

	// Sum of fees of included transactions, saturating.
	FeeTotal uint64

	// Hash of the last produced header.
	ParentDigest gblock.Digest

	SignerPubKey []byte

	// Blocks produced but not handed downstream.
	// Only a [Service] sets this.
	UnpublishedBlockCount uint64
}

func (s *Sequencer) Snapshot() Snapshot {
	return Snapshot{
		Slot:             s.slots.Slot(),
		Epoch:            s.slots.Epoch(),
		BlockCount:       s.blockCount,
		TxnCount:         s.txnCount,
		IncludedTxnCount: s.includedTxnCount,
		DroppedTxnCount:  s.droppedTxnCount,
		QueueDepth:       s.q.Len(),
		FeeTotal:         s.builder.FeeTotal(),
		ParentDigest:     s.parent,
		SignerPubKey:     bytes.Clone(s.signer.PubKey().PubKeyBytes()),
	}
}

// Checkpoint returns the state needed to resume after a restart.
func (s *Sequencer) Checkpoint() gseqstore.Checkpoint {
	return gseqstore.Checkpoint{
		Slot:             s.slots.Slot(),
		Epoch:            s.slots.Epoch(),
		ParentDigest:     s.parent,
		BlockCount:       s.blockCount,
		TxnCount:         s.txnCount,
		IncludedTxnCount: s.includedTxnCount,
		DroppedTxnCount:  s.droppedTxnCount,
		FeeTotal:         s.builder.FeeTotal(),
		SignerPubKey:     bytes.Clone(s.signerKey),
		Time:             s.lastBlockTime,
	}
}

// Close logs a summary and zeroes the signer's private key,
// if the signer supports it.
// Any transactions still queued are discarded.
// Close is idempotent.
func (s *Sequencer) Close() {
	if s.closed {
		return
	}
	s.closed = true

	s.log.Info(
		"Sequencer shutting down",
		"blocks", s.blockCount,
		"txns", s.includedTxnCount,
		"fees", s.builder.FeeTotal(),
		"discarded", s.q.Len(),
	)

	if z, ok := s.signer.(gcrypto.Zeroer); ok {
		z.Zero()
	} else {
		s.log.Warn("Signer does not support zeroing key material")
	}
}
