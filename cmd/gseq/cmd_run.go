package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/gordian-engine/gsequencer/gblock"
	"github.com/gordian-engine/gsequencer/gcrypto"
	"github.com/gordian-engine/gsequencer/gcrypto/gkeyfile"
	"github.com/gordian-engine/gsequencer/gfrag"
	"github.com/gordian-engine/gsequencer/gsequencer"
	"github.com/gordian-engine/gsequencer/gsequencer/gseqmetrics"
	"github.com/gordian-engine/gsequencer/gsequencer/gseqstore"
	"github.com/gordian-engine/gsequencer/gsequencer/gseqstore/gseqbadger"
	"github.com/gordian-engine/gsequencer/gstatus"
	"github.com/gordian-engine/gsequencer/gtransport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var cmdRun = &cobra.Command{
	Use:   "run",
	Short: "Run the sequencer",
	Args:  cobra.NoArgs,
	RunE:  runSequencer,
}

var flagRun struct {
	Config string
	runConfig
}

func init() {
	f := cmdRun.Flags()
	d := defaultRunConfig()

	f.StringVarP(&flagRun.Config, "config", "c", "", "TOML configuration file")

	f.StringVar(&flagRun.Name, "name", "", "Instance name for logs (default: random)")
	f.StringVar(&flagRun.KeyFile, "key-file", "", "Identity key file (passphrase from $"+passphraseEnv+")")
	f.StringVar(&flagRun.DataDir, "data-dir", "", "Checkpoint directory (default: in-memory)")

	f.StringVar(&flagRun.BlockTime, "block-time", d.BlockTime, "Block production interval")
	f.IntVar(&flagRun.MaxTxnsPerBlock, "max-txns", d.MaxTxnsPerBlock, "Maximum transactions per block")
	f.Uint64Var(&flagRun.SlotsPerEpoch, "slots-per-epoch", d.SlotsPerEpoch, "Slots per epoch")
	f.IntVar(&flagRun.QueueCapacity, "queue-capacity", d.QueueCapacity, "Transaction queue capacity")
	f.Uint64Var(&flagRun.BaseFee, "base-fee", d.BaseFee, "Fee assigned to transactions without a fee hint")

	f.StringVar(&flagRun.PollInterval, "poll-interval", d.PollInterval, "Housekeeping poll interval")
	f.StringVar(&flagRun.MetricsInterval, "metrics-interval", d.MetricsInterval, "Metrics log interval (0 to disable)")

	f.StringVar(&flagRun.IngressAddr, "ingress", "", "UDP address to receive transactions on")
	f.StringVar(&flagRun.EgressAddr, "egress", "", "UDP address to send block fragments to")
	f.StringVar(&flagRun.HTTPAddr, "http", "", "TCP address for the HTTP status server")
	f.StringVar(&flagRun.Socket, "socket", "", "Unix socket path for the HTTP status server")
	f.IntVar(&flagRun.BlockBuffer, "block-buffer", d.BlockBuffer, "Blocks buffered for the downstream link")
}

// resolveRunConfig layers explicitly set flags over the config file.
func resolveRunConfig(cmd *cobra.Command) (runConfig, error) {
	cfg := defaultRunConfig()
	if flagRun.Config != "" {
		var err error
		cfg, err = loadRunConfig(flagRun.Config)
		if err != nil {
			return cfg, err
		}
	}

	overrides := map[string]func(){
		"name":     func() { cfg.Name = flagRun.Name },
		"key-file": func() { cfg.KeyFile = flagRun.KeyFile },
		"data-dir": func() { cfg.DataDir = flagRun.DataDir },

		"block-time":      func() { cfg.BlockTime = flagRun.BlockTime },
		"max-txns":        func() { cfg.MaxTxnsPerBlock = flagRun.MaxTxnsPerBlock },
		"slots-per-epoch": func() { cfg.SlotsPerEpoch = flagRun.SlotsPerEpoch },
		"queue-capacity":  func() { cfg.QueueCapacity = flagRun.QueueCapacity },
		"base-fee":        func() { cfg.BaseFee = flagRun.BaseFee },

		"poll-interval":    func() { cfg.PollInterval = flagRun.PollInterval },
		"metrics-interval": func() { cfg.MetricsInterval = flagRun.MetricsInterval },

		"ingress":      func() { cfg.IngressAddr = flagRun.IngressAddr },
		"egress":       func() { cfg.EgressAddr = flagRun.EgressAddr },
		"http":         func() { cfg.HTTPAddr = flagRun.HTTPAddr },
		"socket":       func() { cfg.Socket = flagRun.Socket },
		"block-buffer": func() { cfg.BlockBuffer = flagRun.BlockBuffer },
	}
	for name, apply := range overrides {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}

	if cfg.KeyFile == "" {
		return cfg, errors.New("a key file is required (--key-file or key_file)")
	}
	if cfg.Name == "" {
		cfg.Name = petname.Generate(2, "-")
	}
	return cfg, nil
}

func runSequencer(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveRunConfig(cmd)
	if err != nil {
		return err
	}

	seqCfg, err := cfg.SequencerConfig()
	if err != nil {
		return err
	}
	poll, metricsInterval, err := cfg.Intervals()
	if err != nil {
		return err
	}

	log, err := newLogger(os.Stderr, flagMain.LogFormat, flagMain.LogLevel)
	if err != nil {
		return err
	}
	log = log.With("name", cfg.Name)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	signer, err := gkeyfile.Load(cfg.KeyFile, keyPassphrase())
	if err != nil {
		return err
	}

	seq, store, err := openSequencer(ctx, log, cfg.DataDir, seqCfg, signer)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("Failed to close checkpoint store", "err", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector, err := gseqmetrics.NewCollector(reg)
	if err != nil {
		seq.Close()
		return err
	}

	var blocks chan gblock.Block
	var sender *gtransport.Sender
	if cfg.EgressAddr != "" {
		sender, err = gtransport.DialUDP(cfg.EgressAddr)
		if err != nil {
			seq.Close()
			return err
		}
		defer sender.Close()

		blocks = make(chan gblock.Block, cfg.BlockBuffer)
	}

	svcCfg := gsequencer.ServiceConfig{
		PollInterval:    poll,
		MetricsInterval: metricsInterval,
		Observer:        collector,
		CheckpointStore: store,
		BlocksOut:       blocks,
	}
	svc := gsequencer.NewService(ctx, log.With("sys", "service"), seq, svcCfg)

	var waiters []func()
	defer func() {
		cancel()
		for _, w := range waiters {
			w()
		}
	}()

	if sender != nil {
		frag, err := gfrag.NewFragmenter(gfrag.DefaultLayout())
		if err != nil {
			cancel()
			svc.Wait()
			return err
		}
		pub := gfrag.NewPublisher(ctx, log.With("sys", "publisher"), frag, sender, blocks)
		waiters = append(waiters, pub.Wait)
	}

	if err := startListeners(ctx, log, cfg, svc, reg, &waiters); err != nil {
		cancel()
		svc.Wait()
		return err
	}

	svc.Wait()
	if err := svc.Err(); err != nil {
		log.Error("Sequencer stopped", "err", err)
		return err
	}
	return nil
}

// openSequencer opens the checkpoint store and creates a sequencer
// resuming from its latest checkpoint.
// On success the sequencer owns signer and zeroes it on Close.
// On failure signer is zeroed here and the store is closed.
func openSequencer(
	ctx context.Context,
	log *slog.Logger,
	dataDir string,
	seqCfg gsequencer.Config,
	signer *gcrypto.Ed25519Signer,
) (_ *gsequencer.Sequencer, _ *gseqbadger.CheckpointStore, err error) {
	defer func() {
		if err != nil {
			signer.Zero()
		}
	}()

	var store *gseqbadger.CheckpointStore
	if dataDir == "" {
		log.Warn("No data directory; checkpoints are in memory and slots may repeat after a restart")
		store, err = gseqbadger.NewInMemoryCheckpointStore(log)
	} else {
		store, err = gseqbadger.NewCheckpointStore(log, dataDir)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	defer func() {
		if err != nil {
			if cErr := store.Close(); cErr != nil {
				log.Warn("Failed to close checkpoint store", "err", cErr)
			}
		}
	}()

	var seqOpts []gsequencer.Option
	cp, err := store.LoadCheckpoint(ctx)
	switch {
	case err == nil:
		seqOpts = append(seqOpts, gsequencer.WithCheckpoint(cp))
	case errors.Is(err, gseqstore.ErrNotFound):
		log.Info("No checkpoint found; starting at slot 0")
	default:
		return nil, nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	seq, err := gsequencer.NewSequencer(log.With("sys", "sequencer"), seqCfg, signer, seqOpts...)
	if err != nil {
		return nil, nil, err
	}
	return seq, store, nil
}

func startListeners(
	ctx context.Context,
	log *slog.Logger,
	cfg runConfig,
	svc *gsequencer.Service,
	reg *prometheus.Registry,
	waiters *[]func(),
) error {
	if cfg.IngressAddr != "" {
		l, err := gtransport.ListenUDP(
			ctx, log.With("sys", "ingress"), cfg.IngressAddr, gtransport.NewIngressHandler(svc),
		)
		if err != nil {
			return err
		}
		log.Info("Listening for transactions", "addr", l.Addr())
		*waiters = append(*waiters, l.Wait)
	}

	type httpListen struct{ network, addr string }
	var hls []httpListen
	if cfg.HTTPAddr != "" {
		hls = append(hls, httpListen{"tcp", cfg.HTTPAddr})
	}
	if cfg.Socket != "" {
		// A stale socket from an unclean exit would fail the listen.
		if err := os.Remove(cfg.Socket); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove stale socket: %w", err)
		}
		hls = append(hls, httpListen{"unix", cfg.Socket})
	}

	for _, hl := range hls {
		ln, err := net.Listen(hl.network, hl.addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s %s: %w", hl.network, hl.addr, err)
		}
		log.Info("Serving HTTP", "network", hl.network, "addr", ln.Addr())

		s := gstatus.NewServer(ctx, log.With("sys", "http"), gstatus.ServerConfig{
			Listener: ln,
			Backend:  svc,
			Gatherer: reg,
		})
		*waiters = append(*waiters, s.Wait)
	}

	return nil
}
