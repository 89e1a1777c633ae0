package gfrag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gordian-engine/gsequencer/gblock"
)

// Sender delivers a single datagram downstream.
type Sender interface {
	Send(ctx context.Context, datagram []byte) error
}

// Publisher fragments every block it receives and sends the fragments.
type Publisher struct {
	log *slog.Logger

	frag   *Fragmenter
	sender Sender

	done chan struct{}
}

// NewPublisher starts a goroutine that publishes blocks from the blocks channel
// until ctx is canceled or blocks is closed.
func NewPublisher(
	ctx context.Context,
	log *slog.Logger,
	frag *Fragmenter,
	sender Sender,
	blocks <-chan gblock.Block,
) *Publisher {
	p := &Publisher{
		log: log,

		frag:   frag,
		sender: sender,

		done: make(chan struct{}),
	}
	go p.run(ctx, blocks)
	return p
}

func (p *Publisher) Wait() {
	<-p.done
}

func (p *Publisher) run(ctx context.Context, blocks <-chan gblock.Block) {
	defer close(p.done)

	for {
		select {
		case <-ctx.Done():
			return
		case blk, ok := <-blocks:
			if !ok {
				return
			}
			if err := p.Publish(ctx, blk); err != nil {
				p.log.Warn(
					"Failed to publish block",
					"slot", blk.Header.Slot,
					"err", err,
				)
			}
		}
	}
}

// Publish fragments blk and sends every fragment,
// continuing past individual send failures
// since parity fragments may cover them.
func (p *Publisher) Publish(ctx context.Context, blk gblock.Block) error {
	frags, err := p.frag.FragmentBlock(blk)
	if err != nil {
		return err
	}

	var failed int
	var lastErr error
	for _, f := range frags {
		b, err := f.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to encode fragment %d: %w", f.Index, err)
		}
		if err := p.sender.Send(ctx, b); err != nil {
			failed++
			lastErr = err
		}
	}

	if failed > int(frags[0].ParityCount) {
		return fmt.Errorf(
			"%d of %d fragments failed to send, more than parity can cover: %w",
			failed, len(frags), lastErr,
		)
	}
	if failed > 0 {
		p.log.Debug(
			"Some fragments failed to send",
			"slot", blk.Header.Slot,
			"failed", failed,
			"total", len(frags),
			"err", lastErr,
		)
	}

	return nil
}
