// Package gseqbadger contains Badger-backed implementations of gseqstore interfaces.
package gseqbadger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gordian-engine/gsequencer/gsequencer/gseqstore"
)

var latestCheckpointKey = []byte("checkpoint/latest")

// gcInterval is how often the value log is garbage collected.
// Every block rewrites the same key, so stale values accumulate quickly.
const gcInterval = 10 * time.Minute

// CheckpointStore is a [gseqstore.CheckpointStore] backed by Badger.
type CheckpointStore struct {
	log *slog.Logger

	db *badger.DB

	cancel context.CancelFunc
	gcDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewCheckpointStore opens or creates a Badger database in dir.
func NewCheckpointStore(log *slog.Logger, dir string) (*CheckpointStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory %q: %w", dir, err)
	}

	log = log.With("sys", "badger")

	// A checkpoint must be on disk before its block is published.
	opts := badger.DefaultOptions(dir).
		WithSyncWrites(true).
		WithLogger(slogger{log: log})
	return open(log, opts)
}

// NewInMemoryCheckpointStore returns a CheckpointStore
// using Badger's in-memory mode.
func NewInMemoryCheckpointStore(log *slog.Logger) (*CheckpointStore, error) {
	log = log.With("sys", "badger")

	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(slogger{log: log})
	return open(log, opts)
}

func open(log *slog.Logger, opts badger.Options) (*CheckpointStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &CheckpointStore{
		log: log,
		db:  db,

		cancel: cancel,
		gcDone: make(chan struct{}),
	}

	if opts.InMemory {
		// No value log to collect.
		close(s.gcDone)
	} else {
		go s.gc(ctx)
	}

	return s, nil
}

func (s *CheckpointStore) SaveCheckpoint(_ context.Context, cp gseqstore.Checkpoint) error {
	val, err := cp.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(latestCheckpointKey, val)
	}); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (s *CheckpointStore) LoadCheckpoint(_ context.Context) (gseqstore.Checkpoint, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(latestCheckpointKey)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	switch {
	case err == nil:
		// Ok.
	case errors.Is(err, badger.ErrKeyNotFound):
		return gseqstore.Checkpoint{}, gseqstore.ErrNotFound
	default:
		return gseqstore.Checkpoint{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var cp gseqstore.Checkpoint
	if err := cp.UnmarshalBinary(val); err != nil {
		return gseqstore.Checkpoint{}, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return cp, nil
}

// Close stops background garbage collection and closes the database.
// It is safe to call more than once.
func (s *CheckpointStore) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.gcDone
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

func (s *CheckpointStore) gc(ctx context.Context) {
	defer close(s.gcDone)

	t := time.NewTicker(gcInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			// Rewrite if at least half of a value log file could be reclaimed.
			err := s.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Warn("Badger value log GC failed", "err", err)
			}
		}
	}
}
