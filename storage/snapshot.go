package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SnapshotStore persists JSON-encoded service state under prefixed keys. The
// pool daemon uses it to carry epoch progress and the event feed across
// restarts.
type SnapshotStore struct {
	db     Database
	prefix string
}

func NewSnapshotStore(db Database, prefix string) *SnapshotStore {
	return &SnapshotStore{db: db, prefix: prefix}
}

func (s *SnapshotStore) key(name string) []byte {
	return []byte(s.prefix + "/" + name)
}

// Save marshals v and writes it under name, replacing any previous value.
func (s *SnapshotStore) Save(name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", name, err)
	}
	return s.db.Put(s.key(name), raw)
}

// Load unmarshals the stored value into out. It reports false without error
// when no snapshot exists under name.
func (s *SnapshotStore) Load(name string, out any) (bool, error) {
	raw, err := s.db.Get(s.key(name))
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("snapshot %s: %w", name, err)
	}
	return true, nil
}

func (s *SnapshotStore) Delete(name string) error {
	return s.db.Delete(s.key(name))
}

// EpochCheckpoint records the most recently closed epoch so a restarted
// daemon knows where the schedule left off.
type EpochCheckpoint struct {
	EpochID  uint64    `json:"epochId"`
	EndTime  time.Time `json:"endTime"`
	ClosedAt time.Time `json:"closedAt"`
}

const epochCheckpointKey = "epoch/checkpoint"

func (s *SnapshotStore) SaveEpochCheckpoint(cp EpochCheckpoint) error {
	return s.Save(epochCheckpointKey, cp)
}

func (s *SnapshotStore) LoadEpochCheckpoint() (EpochCheckpoint, bool, error) {
	var cp EpochCheckpoint
	ok, err := s.Load(epochCheckpointKey, &cp)
	return cp, ok, err
}
