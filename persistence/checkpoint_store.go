package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lexcodex/arassist/framework"
)

// ErrNoCheckpoint is returned by Latest when a thread has none.
var ErrNoCheckpoint = errors.New("no checkpoint")

// CheckpointStore persists turn graph checkpoints to disk.
type CheckpointStore struct {
	basePath string
}

// NewCheckpointStore creates a store rooted at the provided path.
func NewCheckpointStore(basePath string) *CheckpointStore {
	return &CheckpointStore{basePath: basePath}
}

func (cs *CheckpointStore) pathFor(threadID, checkpointID string) string {
	return filepath.Join(cs.basePath, threadID, checkpointID+".json")
}

// Save writes the checkpoint to disk using thread/checkpoint identifiers.
func (cs *CheckpointStore) Save(checkpoint *framework.GraphCheckpoint) error {
	if checkpoint == nil {
		return fmt.Errorf("nil checkpoint")
	}
	if err := ValidateThreadID(checkpoint.ThreadID); err != nil {
		return err
	}
	if err := ValidateThreadID(checkpoint.CheckpointID); err != nil {
		return fmt.Errorf("checkpoint id: %w", err)
	}
	path := cs.pathFor(checkpoint.ThreadID, checkpoint.CheckpointID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Load retrieves a checkpoint from disk.
func (cs *CheckpointStore) Load(threadID, checkpointID string) (*framework.GraphCheckpoint, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}
	if err := ValidateThreadID(checkpointID); err != nil {
		return nil, fmt.Errorf("checkpoint id: %w", err)
	}
	data, err := os.ReadFile(cs.pathFor(threadID, checkpointID))
	if err != nil {
		return nil, err
	}
	var checkpoint framework.GraphCheckpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, err
	}
	return &checkpoint, nil
}

// List returns all checkpoint IDs stored for a thread.
func (cs *CheckpointStore) List(threadID string) ([]string, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(cs.basePath, threadID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	result := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		result = append(result, strings.TrimSuffix(entry.Name(), ".json"))
	}
	return result, nil
}

// History loads every checkpoint of a thread, oldest first.
func (cs *CheckpointStore) History(threadID string) ([]*framework.GraphCheckpoint, error) {
	ids, err := cs.List(threadID)
	if err != nil {
		return nil, err
	}
	checkpoints := make([]*framework.GraphCheckpoint, 0, len(ids))
	for _, id := range ids {
		cp, err := cs.Load(threadID, id)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, cp)
	}
	sort.SliceStable(checkpoints, func(i, j int) bool {
		a, b := checkpoints[i], checkpoints[j]
		if a.CreatedAt.Equal(b.CreatedAt) {
			return len(a.ExecutionPath) < len(b.ExecutionPath)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return checkpoints, nil
}

// Latest returns the most recent checkpoint of a thread.
func (cs *CheckpointStore) Latest(threadID string) (*framework.GraphCheckpoint, error) {
	checkpoints, err := cs.History(threadID)
	if err != nil {
		return nil, err
	}
	if len(checkpoints) == 0 {
		return nil, fmt.Errorf("%w for thread %s", ErrNoCheckpoint, threadID)
	}
	return checkpoints[len(checkpoints)-1], nil
}
