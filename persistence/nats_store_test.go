package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

type fakeEntry struct {
	key      string
	value    []byte
	revision uint64
	created  time.Time
}

func (e *fakeEntry) Bucket() string                  { return "threads" }
func (e *fakeEntry) Key() string                     { return e.key }
func (e *fakeEntry) Value() []byte                   { return e.value }
func (e *fakeEntry) Revision() uint64                { return e.revision }
func (e *fakeEntry) Created() time.Time              { return e.created }
func (e *fakeEntry) Delta() uint64                   { return 0 }
func (e *fakeEntry) Operation() jetstream.KeyValueOp { return jetstream.KeyValuePut }

// fakeBucket is an in-memory kvBucket.
type fakeBucket struct {
	mu       sync.Mutex
	values   map[string]*fakeEntry
	revision uint64
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{values: make(map[string]*fakeEntry)}
}

func (b *fakeBucket) Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.values[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return e, nil
}

func (b *fakeBucket) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revision++
	b.values[key] = &fakeEntry{key: key, value: append([]byte(nil), value...), revision: b.revision, created: time.Now()}
	return b.revision, nil
}

func (b *fakeBucket) Keys(ctx context.Context, _ ...jetstream.WatchOpt) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.values) == 0 {
		return nil, jetstream.ErrNoKeysFound
	}
	keys := make([]string, 0, len(b.values))
	for k := range b.values {
		keys = append(keys, k)
	}
	return keys, nil
}
