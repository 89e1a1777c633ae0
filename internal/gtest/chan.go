package gtest

import (
	"testing"
	"time"
)

// ChannelTimeout is how long the channel helpers wait before failing the test.
const ChannelTimeout = time.Second

// ReceiveSoon returns the next value from ch,
// failing the test if none arrives within ChannelTimeout.
func ReceiveSoon[T any](t testing.TB, ch <-chan T) T {
	t.Helper()

	timer := time.NewTimer(ChannelTimeout)
	defer timer.Stop()

	select {
	case v := <-ch:
		return v
	case <-timer.C:
		t.Fatalf("no value received within %s", ChannelTimeout)
	}

	panic("unreachable")
}

// SendSoon sends v on ch,
// failing the test if the send does not complete within ChannelTimeout.
func SendSoon[T any](t testing.TB, ch chan<- T, v T) {
	t.Helper()

	timer := time.NewTimer(ChannelTimeout)
	defer timer.Stop()

	select {
	case ch <- v:
	case <-timer.C:
		t.Fatalf("could not send within %s", ChannelTimeout)
	}
}

// NotSending fails the test if a value is immediately ready on ch.
func NotSending[T any](t testing.TB, ch <-chan T) {
	t.Helper()

	select {
	case v := <-ch:
		t.Fatalf("unexpected value received: %v", v)
	default:
	}
}
