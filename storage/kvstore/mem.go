package kvstore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core/chat"
)

// memSnapshotStore holds the serialized snapshot blob in memory; test double
// for the redis slot. Serializing keeps its behavior honest (a snapshot that
// cannot round-trip through JSON fails here too).
type memSnapshotStore struct {
	mu   sync.Mutex
	blob []byte
}

var _ chat.SnapshotStore = (*memSnapshotStore)(nil) // interface compliance check

func NewMemSnapshotStore() *memSnapshotStore {
	return &memSnapshotStore{}
}

func (s *memSnapshotStore) Get(context.Context) (chat.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.blob == nil {
		return chat.Snapshot{}, chat.ErrNoSnapshot
	}
	var snap chat.Snapshot
	if err := json.Unmarshal(s.blob, &snap); err != nil {
		return chat.Snapshot{}, errors.Wrap(err, "decoding snapshot")
	}
	return snap, nil
}

func (s *memSnapshotStore) Set(_ context.Context, snap chat.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "encoding snapshot")
	}
	s.mu.Lock()
	s.blob = data
	s.mu.Unlock()
	return nil
}
