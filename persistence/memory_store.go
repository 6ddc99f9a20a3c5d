package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/lexcodex/arassist/framework"
)

// MemoryStore keeps each thread's log in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*threadLog
	locks   KeyedMutex
}

type threadLog struct {
	messages []framework.Message
}

var (
	_ ConversationStore = (*MemoryStore)(nil)
	_ ThreadLister      = (*MemoryStore)(nil)
)

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string]*threadLog)}
}

func (s *MemoryStore) log(threadID string, create bool) *threadLog {
	if !create {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.threads[threadID]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		t = &threadLog{}
		s.threads[threadID] = t
	}
	return t
}

// GetState returns a copy of the thread's messages.
func (s *MemoryStore) GetState(ctx context.Context, threadID string) ([]framework.Message, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(threadID)
	defer unlock()
	t := s.log(threadID, false)
	if t == nil {
		return nil, nil
	}
	return append([]framework.Message(nil), t.messages...), nil
}

// PutState replaces the thread's messages.
func (s *MemoryStore) PutState(ctx context.Context, threadID string, messages []framework.Message) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if err := ValidateThreadID(threadID); err != nil {
		return err
	}
	unlock := s.locks.Lock(threadID)
	defer unlock()
	t := s.log(threadID, true)
	t.messages = Sequence(messages)
	return nil
}

// Threads lists known thread IDs.
func (s *MemoryStore) Threads(ctx context.Context) ([]string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.threads))
	for id := range s.threads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
