package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gordian-engine/gsequencer/gsequencer"
	"github.com/pelletier/go-toml"
)

// runConfig is the TOML configuration file of gseq run.
// Command line flags override file values.
type runConfig struct {
	Name    string `toml:"name"`
	KeyFile string `toml:"key_file"`

	// Empty keeps checkpoints in memory only.
	DataDir string `toml:"data_dir"`

	BlockTime       string `toml:"block_time"`
	MaxTxnsPerBlock int    `toml:"max_txns_per_block"`
	SlotsPerEpoch   uint64 `toml:"slots_per_epoch"`
	QueueCapacity   int    `toml:"queue_capacity"`
	BaseFee         uint64 `toml:"base_fee"`

	PollInterval    string `toml:"poll_interval"`
	MetricsInterval string `toml:"metrics_interval"`

	// Empty addresses disable the corresponding listener or link.
	IngressAddr string `toml:"ingress_addr"`
	EgressAddr  string `toml:"egress_addr"`
	HTTPAddr    string `toml:"http_addr"`
	Socket      string `toml:"socket"`

	// Produced blocks buffered for the downstream link.
	BlockBuffer int `toml:"block_buffer"`
}

func defaultRunConfig() runConfig {
	d := gsequencer.DefaultConfig()
	return runConfig{
		BlockTime:       d.BlockTime.String(),
		MaxTxnsPerBlock: d.MaxTxnsPerBlock,
		SlotsPerEpoch:   d.SlotsPerEpoch,
		QueueCapacity:   d.QueueCapacity,
		BaseFee:         d.BaseFee,

		PollInterval:    gsequencer.DefaultPollInterval.String(),
		MetricsInterval: "10s",

		BlockBuffer: 16,
	}
}

// loadRunConfig reads a TOML file over the defaults.
// Keys absent from the file keep their default values.
func loadRunConfig(path string) (runConfig, error) {
	cfg := defaultRunConfig()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	tree, err := toml.LoadBytes(b)
	if err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	var file runConfig
	if err := tree.Unmarshal(&file); err != nil {
		return cfg, fmt.Errorf("failed to decode config %s: %w", path, err)
	}

	cfg.merge(file)
	return cfg, nil
}

// merge copies the non-zero fields of o into c.
func (c *runConfig) merge(o runConfig) {
	setNonZero(&c.Name, o.Name)
	setNonZero(&c.KeyFile, o.KeyFile)
	setNonZero(&c.DataDir, o.DataDir)

	setNonZero(&c.BlockTime, o.BlockTime)
	setNonZero(&c.MaxTxnsPerBlock, o.MaxTxnsPerBlock)
	setNonZero(&c.SlotsPerEpoch, o.SlotsPerEpoch)
	setNonZero(&c.QueueCapacity, o.QueueCapacity)
	setNonZero(&c.BaseFee, o.BaseFee)

	setNonZero(&c.PollInterval, o.PollInterval)
	setNonZero(&c.MetricsInterval, o.MetricsInterval)

	setNonZero(&c.IngressAddr, o.IngressAddr)
	setNonZero(&c.EgressAddr, o.EgressAddr)
	setNonZero(&c.HTTPAddr, o.HTTPAddr)
	setNonZero(&c.Socket, o.Socket)

	setNonZero(&c.BlockBuffer, o.BlockBuffer)
}

func setNonZero[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}

func (c runConfig) SequencerConfig() (gsequencer.Config, error) {
	bt, err := time.ParseDuration(c.BlockTime)
	if err != nil {
		return gsequencer.Config{}, fmt.Errorf("invalid block_time: %w", err)
	}

	cfg := gsequencer.Config{
		BlockTime:       bt,
		MaxTxnsPerBlock: c.MaxTxnsPerBlock,
		SlotsPerEpoch:   c.SlotsPerEpoch,
		QueueCapacity:   c.QueueCapacity,
		BaseFee:         c.BaseFee,
	}
	if err := cfg.Validate(); err != nil {
		return gsequencer.Config{}, err
	}
	return cfg, nil
}

func (c runConfig) Intervals() (poll, metrics time.Duration, err error) {
	poll, err = time.ParseDuration(c.PollInterval)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid poll_interval: %w", err)
	}
	if poll <= 0 {
		return 0, 0, errors.New("poll_interval must be positive")
	}

	if c.MetricsInterval != "" {
		metrics, err = time.ParseDuration(c.MetricsInterval)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid metrics_interval: %w", err)
		}
	}
	return poll, metrics, nil
}
