package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lexcodex/arassist/framework"
)

const threadFileSuffix = ".messages.json"

// FileStore keeps each thread in its own JSON file.
type FileStore struct {
	root  string
	locks KeyedMutex
}

var (
	_ ConversationStore = (*FileStore)(nil)
	_ ThreadLister      = (*FileStore)(nil)
)

// NewFileStore builds a store in the provided root directory.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("conversation store root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) pathFor(id string) string {
	return filepath.Join(s.root, id+threadFileSuffix)
}

// GetState returns the conversation for a thread.
func (s *FileStore) GetState(ctx context.Context, threadID string) ([]framework.Message, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(threadID)
	defer unlock()
	return s.read(threadID)
}

// PutState replaces the stored messages. The file is written to a temporary
// name and renamed so readers never see a partial log.
func (s *FileStore) PutState(ctx context.Context, threadID string, messages []framework.Message) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if err := ValidateThreadID(threadID); err != nil {
		return err
	}
	data, err := json.MarshalIndent(Sequence(messages), "", "  ")
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(threadID)
	defer unlock()
	tmp, err := os.CreateTemp(s.root, "."+threadID+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.pathFor(threadID)); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// Threads lists stored thread IDs.
func (s *FileStore) Threads(ctx context.Context) ([]string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, threadFileSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, threadFileSuffix))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *FileStore) read(threadID string) ([]framework.Message, error) {
	data, err := os.ReadFile(s.pathFor(threadID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var messages []framework.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}
