package gsequencer

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	DefaultBlockTime       = 400 * time.Millisecond
	DefaultMaxTxnsPerBlock = 10_000
	DefaultSlotsPerEpoch   = 432_000
	DefaultQueueCapacity   = 65_536

	// DefaultBaseFee is the fee assigned to transactions
	// that arrive without a fee hint.
	DefaultBaseFee = 5_000

	// MaxQueueCapacity bounds the memory a misconfigured queue can reserve.
	// At the maximum payload size this is roughly 20 GiB of payloads.
	MaxQueueCapacity = 1 << 24
)

// Config is the fixed configuration of a [Sequencer].
// It is not changed after construction.
type Config struct {
	// Minimum spacing between produced blocks.
	BlockTime time.Duration

	MaxTxnsPerBlock int
	SlotsPerEpoch   uint64

	// Fixed capacity of the pending transaction queue.
	QueueCapacity int

	BaseFee uint64
}

// DefaultConfig returns the default sequencer configuration.
func DefaultConfig() Config {
	return Config{
		BlockTime:       DefaultBlockTime,
		MaxTxnsPerBlock: DefaultMaxTxnsPerBlock,
		SlotsPerEpoch:   DefaultSlotsPerEpoch,
		QueueCapacity:   DefaultQueueCapacity,
		BaseFee:         DefaultBaseFee,
	}
}

// Validate reports every invalid field in c.
// A sequencer refuses to start with an invalid configuration.
func (c Config) Validate() error {
	var errs []error

	if c.BlockTime <= 0 {
		errs = append(errs, fmt.Errorf("block time must be positive, got %s", c.BlockTime))
	}

	if c.SlotsPerEpoch == 0 {
		errs = append(errs, errors.New("slots per epoch must be positive"))
	}

	switch {
	case c.QueueCapacity <= 0:
		errs = append(errs, fmt.Errorf("queue capacity must be positive, got %d", c.QueueCapacity))
	case c.QueueCapacity > MaxQueueCapacity:
		errs = append(errs, fmt.Errorf(
			"queue capacity %d exceeds maximum %d", c.QueueCapacity, MaxQueueCapacity,
		))
	}

	switch {
	case c.MaxTxnsPerBlock <= 0:
		errs = append(errs, fmt.Errorf(
			"max transactions per block must be positive, got %d", c.MaxTxnsPerBlock,
		))
	case uint64(c.MaxTxnsPerBlock) > math.MaxUint32:
		errs = append(errs, fmt.Errorf(
			"max transactions per block %d does not fit in the header count", c.MaxTxnsPerBlock,
		))
	case c.QueueCapacity > 0 && c.MaxTxnsPerBlock > c.QueueCapacity:
		errs = append(errs, fmt.Errorf(
			"max transactions per block %d exceeds queue capacity %d",
			c.MaxTxnsPerBlock, c.QueueCapacity,
		))
	}

	return errors.Join(errs...)
}
