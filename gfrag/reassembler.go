package gfrag

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gordian-engine/gsequencer/gblock"
)

// BlockHandler receives blocks reassembled by a [Reassembler].
type BlockHandler interface {
	HandleBlock(ctx context.Context, blk gblock.Block) error
}

// BlockHandlerFunc adapts a function to a [BlockHandler].
type BlockHandlerFunc func(ctx context.Context, blk gblock.Block) error

func (f BlockHandlerFunc) HandleBlock(ctx context.Context, blk gblock.Block) error {
	return f(ctx, blk)
}

// DefaultReassemblyTTL is how long incomplete groups are kept.
const DefaultReassemblyTTL = 10 * time.Second

type ReassemblerConfig struct {
	Handler BlockHandler

	// How long an incomplete group is kept before being discarded,
	// and how long a completed block is remembered to ignore late fragments.
	// Defaults to DefaultReassemblyTTL.
	TTL time.Duration

	// Defaults to the real clock.
	Clock clock.Clock
}

// Reassembler collects fragments and hands each completed block to a handler.
// It is safe for concurrent use.
type Reassembler struct {
	log *slog.Logger

	handler BlockHandler
	ttl     time.Duration
	clock   clock.Clock

	mu        sync.Mutex
	groups    map[uuid.UUID]*group
	completed map[gblock.Digest]time.Time

	done chan struct{}
}

type group struct {
	rcons *reconstructor

	slot      uint64
	blockHash gblock.Digest
	blockSize uint32

	dataCount, parityCount uint16

	started time.Time
}

func (g *group) matches(f Fragment) bool {
	return g.slot == f.Slot &&
		g.blockHash == f.BlockHash &&
		g.blockSize == f.BlockSize &&
		g.dataCount == f.DataCount &&
		g.parityCount == f.ParityCount
}

// NewReassembler returns a Reassembler whose stale-group cleanup
// runs until ctx is canceled.
func NewReassembler(ctx context.Context, log *slog.Logger, cfg ReassemblerConfig) *Reassembler {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultReassemblyTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	r := &Reassembler{
		log: log,

		handler: cfg.Handler,
		ttl:     cfg.TTL,
		clock:   cfg.Clock,

		groups:    make(map[uuid.UUID]*group),
		completed: make(map[gblock.Digest]time.Time),

		done: make(chan struct{}),
	}
	go r.cleanupLoop(ctx)
	return r
}

// Wait blocks until the cleanup goroutine has stopped.
func (r *Reassembler) Wait() {
	<-r.done
}

// HandleDatagram decodes data as a fragment and adds it.
func (r *Reassembler) HandleDatagram(ctx context.Context, data []byte, _ net.Addr) error {
	f, err := UnmarshalFragment(data)
	if err != nil {
		return err
	}
	return r.AddFragment(ctx, f)
}

// AddFragment adds f to its group.
// When f completes a block, the block is verified, decoded
// and passed to the handler before AddFragment returns.
// Fragments of already completed blocks are ignored.
func (r *Reassembler) AddFragment(ctx context.Context, f Fragment) error {
	if err := f.validateLayout(); err != nil {
		return err
	}
	if sha256.Sum256(f.Data) != f.Hash {
		return fmt.Errorf("fragment %d of group %s: data hash mismatch", f.Index, f.GroupID)
	}

	data, g, err := r.add(f)
	if err != nil || data == nil {
		return err
	}

	if got := gblock.Digest(sha256.Sum256(data)); got != g.blockHash {
		return fmt.Errorf(
			"reassembled block for slot %d: hash mismatch: got %s, want %s",
			g.slot, got, g.blockHash,
		)
	}

	blk, err := gblock.UnmarshalBlock(data)
	if err != nil {
		return fmt.Errorf("failed to decode reassembled block for slot %d: %w", g.slot, err)
	}

	if err := r.handler.HandleBlock(ctx, blk); err != nil {
		return fmt.Errorf("failed to handle block for slot %d: %w", g.slot, err)
	}
	return nil
}

// add returns the joined block data once f completes its group.
func (r *Reassembler) add(f Fragment) ([]byte, *group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.completed[f.BlockHash]; ok {
		return nil, nil, nil
	}

	g, ok := r.groups[f.GroupID]
	if !ok {
		rcons, err := newReconstructor(int(f.DataCount), int(f.ParityCount), len(f.Data))
		if err != nil {
			return nil, nil, err
		}
		g = &group{
			rcons: rcons,

			slot:      f.Slot,
			blockHash: f.BlockHash,
			blockSize: f.BlockSize,

			dataCount:   f.DataCount,
			parityCount: f.ParityCount,

			started: r.clock.Now(),
		}
		r.groups[f.GroupID] = g
	} else if !g.matches(f) {
		return nil, nil, fmt.Errorf("fragment %d does not match group %s", f.Index, f.GroupID)
	}

	complete, err := g.rcons.Add(int(f.Index), f.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("group %s: %w", f.GroupID, err)
	}
	if !complete {
		return nil, nil, nil
	}

	data, err := g.rcons.Data(int(g.blockSize))
	if err != nil {
		return nil, nil, err
	}

	delete(r.groups, f.GroupID)
	r.completed[g.blockHash] = r.clock.Now()

	return data, g, nil
}

// Pending is the number of incomplete groups.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.groups)
}

func (r *Reassembler) cleanupLoop(ctx context.Context) {
	defer close(r.done)

	t := r.clock.Ticker(r.ttl)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.cleanup(r.clock.Now())
		}
	}
}

func (r *Reassembler) cleanup(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for hash, at := range r.completed {
		if now.Sub(at) > r.ttl {
			delete(r.completed, hash)
		}
	}

	var dropped int
	for id, g := range r.groups {
		if now.Sub(g.started) > r.ttl {
			delete(r.groups, id)
			dropped++
		}
	}

	if dropped > 0 {
		r.log.Debug("Discarded incomplete fragment groups", "n", dropped)
	}
}
