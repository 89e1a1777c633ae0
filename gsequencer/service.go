package gsequencer

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gordian-engine/gsequencer/gblock"
	"github.com/gordian-engine/gsequencer/gsequencer/gseqstore"
)

// DefaultPollInterval is how often the Service checks whether a block is due.
const DefaultPollInterval = 5 * time.Millisecond

// Observer receives per-block and per-rejection notifications from a [Service].
// Methods are called on the service goroutine and must not block.
type Observer interface {
	// BlockProduced is called after every produced block.
	// published is false if the block could not be handed downstream.
	BlockProduced(snap Snapshot, blk *gblock.Block, published bool)

	// TransactionRejected is called for every transaction dropped at ingestion.
	TransactionRejected(err error)
}

// ServiceConfig is the runtime wiring of a [Service].
type ServiceConfig struct {
	// How often to poll for a due block.
	// Defaults to DefaultPollInterval.
	PollInterval time.Duration

	// How often to log a metrics record.
	// Zero disables the periodic record.
	MetricsInterval time.Duration

	// Produced blocks are sent here without blocking.
	// If the channel is full, the block is not published,
	// but the chain still advances past it.
	// A nil channel disables publication.
	BlocksOut chan<- gblock.Block

	// Optional.
	Observer Observer

	// Optional. The checkpoint following each block is saved
	// before the block is published, so a block is never seen downstream
	// unless a restart would resume after its slot.
	// A block whose checkpoint fails to save is not published.
	CheckpointStore gseqstore.CheckpointStore

	// Defaults to the real clock.
	// The Sequencer should have been created with the same clock.
	Clock clock.Clock
}

// Service owns a [Sequencer] on a single goroutine.
// All of its exported methods are safe for concurrent use.
type Service struct {
	log *slog.Logger

	seq *Sequencer

	clock           clock.Clock
	pollInterval    time.Duration
	metricsInterval time.Duration

	blocksOut chan<- gblock.Block
	observer  Observer
	store     gseqstore.CheckpointStore

	submitRequests   chan submitRequest
	snapshotRequests chan chan Snapshot

	// Owned by the main loop.
	unpublished uint64

	// Set before done is closed.
	err error

	done chan struct{}
}

type submitRequest struct {
	Payload []byte
	FeeHint uint64
	Resp    chan error
}

// NewService starts the service goroutine,
// which runs until ctx is canceled or block signing fails.
//
// The service takes ownership of seq, closing it on exit.
func NewService(ctx context.Context, log *slog.Logger, seq *Sequencer, cfg ServiceConfig) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	s := &Service{
		log: log,

		seq: seq,

		clock:           cfg.Clock,
		pollInterval:    cfg.PollInterval,
		metricsInterval: cfg.MetricsInterval,

		blocksOut: cfg.BlocksOut,
		observer:  cfg.Observer,
		store:     cfg.CheckpointStore,

		submitRequests:   make(chan submitRequest, 64),
		snapshotRequests: make(chan chan Snapshot),

		done: make(chan struct{}),
	}

	go s.mainLoop(ctx)

	return s
}

// Wait blocks until the service has stopped.
func (s *Service) Wait() {
	<-s.done
}

// Done is closed when the service has stopped.
func (s *Service) Done() <-chan struct{} {
	return s.done
}

// Err returns the fatal error that stopped the service,
// or nil if it stopped due to context cancellation.
// It must only be called after Wait returns.
func (s *Service) Err() error {
	return s.err
}

// Submit hands payload to the sequencer and returns the ingestion result.
// See [*Sequencer.Ingest] for the possible errors.
//
// The payload is copied, so the caller may reuse it as soon as Submit returns.
// A request already queued when ctx is cancelled may still be ingested.
func (s *Service) Submit(ctx context.Context, payload []byte, feeHint uint64) error {
	if err := ctx.Err(); err != nil {
		return context.Cause(ctx)
	}

	req := submitRequest{
		Payload: bytes.Clone(payload),
		FeeHint: feeHint,
		Resp:    make(chan error, 1),
	}

	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-s.done:
		return ErrClosed
	case s.submitRequests <- req:
		// Okay.
	}

	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case err := <-req.Resp:
		return err
	case <-s.done:
		// The request may have been handled just before stopping.
		select {
		case err := <-req.Resp:
			return err
		default:
			return ErrClosed
		}
	}
}

// Snapshot returns the current sequencer state.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	resp := make(chan Snapshot, 1)

	select {
	case <-ctx.Done():
		return Snapshot{}, context.Cause(ctx)
	case <-s.done:
		return Snapshot{}, ErrClosed
	case s.snapshotRequests <- resp:
		// Okay.
	}

	select {
	case <-ctx.Done():
		return Snapshot{}, context.Cause(ctx)
	case snap := <-resp:
		return snap, nil
	}
}

func (s *Service) mainLoop(ctx context.Context) {
	defer s.shutdown()

	poll := s.clock.Ticker(s.pollInterval)
	defer poll.Stop()

	var metricsC <-chan time.Time
	if s.metricsInterval > 0 {
		mt := s.clock.Ticker(s.metricsInterval)
		defer mt.Stop()
		metricsC = mt.C
	}

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Stopping due to context cancellation", "cause", context.Cause(ctx))
			return

		case req := <-s.submitRequests:
			err := s.seq.Ingest(req.Payload, req.FeeHint)
			if err != nil && s.observer != nil {
				s.observer.TransactionRejected(err)
			}
			// Resp is buffered.
			req.Resp <- err

		case resp := <-s.snapshotRequests:
			resp <- s.snapshot()

		case <-poll.C:
			// The tick value may be stale if ticks were coalesced,
			// so read the clock directly.
			blk, err := s.seq.Housekeep(ctx, s.clock.Now())
			if err != nil {
				s.err = err
				s.log.Info("Stopping due to fatal sequencer error", "err", err)
				return
			}
			if blk != nil {
				s.handleBlock(blk)
			}

		case <-metricsC:
			s.logMetrics()
		}
	}
}

func (s *Service) handleBlock(blk *gblock.Block) {
	published := false
	if s.saveCheckpoint(blk.Header.Slot) && s.blocksOut != nil {
		select {
		case s.blocksOut <- *blk:
			published = true
		default:
			s.unpublished++
			s.log.Warn(
				"Downstream not ready; block not published",
				"slot", blk.Header.Slot,
				"txns", len(blk.Transactions),
				"unpublished", s.unpublished,
			)
		}
	}

	if s.observer != nil {
		s.observer.BlockProduced(s.snapshot(), blk, published)
	}
}

// saveCheckpoint writes the checkpoint after slot,
// reporting whether the block at slot may be published.
func (s *Service) saveCheckpoint(slot uint64) bool {
	if s.store == nil {
		return true
	}

	// Not tied to the service context:
	// a block produced during shutdown still gets its checkpoint.
	if err := s.store.SaveCheckpoint(context.Background(), s.seq.Checkpoint()); err != nil {
		s.unpublished++
		s.log.Error(
			"Failed to save checkpoint; block not published",
			"slot", slot,
			"unpublished", s.unpublished,
			"err", err,
		)
		return false
	}
	return true
}

func (s *Service) snapshot() Snapshot {
	snap := s.seq.Snapshot()
	snap.UnpublishedBlockCount = s.unpublished
	return snap
}

func (s *Service) logMetrics() {
	snap := s.snapshot()
	s.log.Info(
		"Sequencer metrics",
		"slot", snap.Slot,
		"epoch", snap.Epoch,
		"blocks", snap.BlockCount,
		"txns", snap.TxnCount,
		"included", snap.IncludedTxnCount,
		"dropped", snap.DroppedTxnCount,
		"queue", snap.QueueDepth,
		"fees", snap.FeeTotal,
		"unpublished", snap.UnpublishedBlockCount,
	)
}

func (s *Service) shutdown() {
	s.seq.Close()

	close(s.done)
}
