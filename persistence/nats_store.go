package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/lexcodex/arassist/framework"
)

// kvBucket is the part of jetstream.KeyValue the store uses.
type kvBucket interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Keys(ctx context.Context, opts ...jetstream.WatchOpt) ([]string, error)
}

// NATSStore keeps each thread as one JSON value in a JetStream key-value
// bucket, so several engine replicas can share conversations.
type NATSStore struct {
	bucket kvBucket
	locks  KeyedMutex
}

var (
	_ ConversationStore = (*NATSStore)(nil)
	_ ThreadLister      = (*NATSStore)(nil)
)

// NewNATSStore creates or binds the bucket. A zero ttl keeps threads
// forever.
func NewNATSStore(ctx context.Context, js jetstream.JetStream, bucket string, ttl time.Duration) (*NATSStore, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "arassist conversation threads",
		TTL:         ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("create kv bucket %s: %w", bucket, err)
	}
	return &NATSStore{bucket: kv}, nil
}

// GetState returns the thread's messages.
func (s *NATSStore) GetState(ctx context.Context, threadID string) ([]framework.Message, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(threadID)
	defer unlock()
	entry, err := s.bucket.Get(ctx, threadID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var messages []framework.Message
	if err := json.Unmarshal(entry.Value(), &messages); err != nil {
		return nil, fmt.Errorf("decode thread %s: %w", threadID, err)
	}
	return messages, nil
}

// PutState replaces the thread's value.
func (s *NATSStore) PutState(ctx context.Context, threadID string, messages []framework.Message) error {
	if err := ValidateThreadID(threadID); err != nil {
		return err
	}
	data, err := json.Marshal(Sequence(messages))
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(threadID)
	defer unlock()
	_, err = s.bucket.Put(ctx, threadID, data)
	return err
}

// Threads lists the keys in the bucket.
func (s *NATSStore) Threads(ctx context.Context) ([]string, error) {
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}
