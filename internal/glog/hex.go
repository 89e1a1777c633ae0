// Package glog contains helpers for structured logging with [log/slog].
package glog

import (
	"encoding/hex"
	"log/slog"
)

// Hex is a byte slice that renders as lowercase hex when logged.
// The encoding only happens if the record is actually emitted.
type Hex []byte

func (h Hex) LogValue() slog.Value {
	return slog.StringValue(hex.EncodeToString(h))
}
