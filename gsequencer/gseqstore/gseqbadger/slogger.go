package gseqbadger

import (
	"fmt"
	"log/slog"
	"strings"
)

// slogger adapts a *slog.Logger to badger's Logger interface.
// Badger's info output is routine, so it is logged at debug level.
type slogger struct {
	log *slog.Logger
}

func (l slogger) format(format string, args ...any) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}

func (l slogger) Errorf(format string, args ...any) {
	l.log.Error(l.format(format, args...))
}

func (l slogger) Warningf(format string, args ...any) {
	l.log.Warn(l.format(format, args...))
}

func (l slogger) Infof(format string, args ...any) {
	l.log.Debug(l.format(format, args...))
}

func (l slogger) Debugf(format string, args ...any) {
	l.log.Debug(l.format(format, args...))
}
