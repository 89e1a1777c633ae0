// Package gslot tracks the sequencer's slot and epoch counters.
package gslot

import "fmt"

// Clock is a monotonic slot counter with epochs of a fixed number of slots.
// It is advanced once per produced block, not by wall time.
//
// Clock is not safe for concurrent use.
type Clock struct {
	slot  uint64
	epoch uint64

	slotsPerEpoch uint64
}

// NewClock returns a Clock at slot 0, epoch 0.
// It panics if slotsPerEpoch is zero.
func NewClock(slotsPerEpoch uint64) *Clock {
	return NewClockAt(slotsPerEpoch, 0)
}

// NewClockAt returns a Clock resumed at slot,
// with the epoch derived from slotsPerEpoch.
func NewClockAt(slotsPerEpoch, slot uint64) *Clock {
	if slotsPerEpoch == 0 {
		panic(fmt.Errorf("BUG: slots per epoch must be positive"))
	}
	return &Clock{
		slot:          slot,
		epoch:         slot / slotsPerEpoch,
		slotsPerEpoch: slotsPerEpoch,
	}
}

// Advance increments the slot and reports whether
// the new slot begins a new epoch.
func (c *Clock) Advance() (epochCrossed bool) {
	c.slot++
	if c.slot%c.slotsPerEpoch == 0 {
		c.epoch++
		return true
	}
	return false
}

func (c *Clock) Slot() uint64          { return c.slot }
func (c *Clock) Epoch() uint64         { return c.epoch }
func (c *Clock) SlotsPerEpoch() uint64 { return c.slotsPerEpoch }

// SlotInEpoch is the zero-based index of the current slot within its epoch.
func (c *Clock) SlotInEpoch() uint64 {
	return c.slot % c.slotsPerEpoch
}
