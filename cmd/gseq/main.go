// Command gseq runs the centralized sequencer.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var cmdMain = &cobra.Command{
	Use:   "gseq",
	Short: "Centralized transaction sequencer",

	SilenceUsage: true,
}

var flagMain struct {
	LogLevel  string
	LogFormat string
}

func init() {
	cmdMain.PersistentFlags().StringVar(&flagMain.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmdMain.PersistentFlags().StringVar(&flagMain.LogFormat, "log-format", "text", "Log format (text or json)")

	cmdMain.AddCommand(cmdRun, cmdKeygen, cmdStatus)
}

func main() {
	if err := cmdMain.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

// passphraseEnv names the environment variable holding the key file passphrase.
const passphraseEnv = "GSEQ_KEY_PASSPHRASE"

func keyPassphrase() []byte {
	return []byte(os.Getenv(passphraseEnv))
}
