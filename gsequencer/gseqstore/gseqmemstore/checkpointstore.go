// Package gseqmemstore contains in-memory implementations of gseqstore interfaces.
package gseqmemstore

import (
	"bytes"
	"context"
	"sync"

	"github.com/gordian-engine/gsequencer/gsequencer/gseqstore"
)

// CheckpointStore is an in-memory [gseqstore.CheckpointStore].
type CheckpointStore struct {
	mu sync.RWMutex

	cp  gseqstore.Checkpoint
	has bool
}

func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{}
}

func (s *CheckpointStore) SaveCheckpoint(_ context.Context, cp gseqstore.Checkpoint) error {
	cp.SignerPubKey = bytes.Clone(cp.SignerPubKey)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cp = cp
	s.has = true
	return nil
}

func (s *CheckpointStore) LoadCheckpoint(_ context.Context) (gseqstore.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.has {
		return gseqstore.Checkpoint{}, gseqstore.ErrNotFound
	}

	cp := s.cp
	cp.SignerPubKey = bytes.Clone(cp.SignerPubKey)
	return cp, nil
}
