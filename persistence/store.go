// Package persistence stores conversation threads and graph checkpoints.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lexcodex/arassist/framework"
)

// ErrInvalidThreadID rejects thread keys that are empty or unsafe to use as
// file names or bucket keys.
var ErrInvalidThreadID = errors.New("invalid thread id")

const maxThreadIDLen = 128

// ConversationStore holds the ordered message log of each thread. Reads and
// writes are serialized per thread only.
type ConversationStore interface {
	GetState(ctx context.Context, threadID string) ([]framework.Message, error)
	PutState(ctx context.Context, threadID string, messages []framework.Message) error
}

// ThreadLister is implemented by stores that can enumerate their threads.
type ThreadLister interface {
	Threads(ctx context.Context) ([]string, error)
}

// ValidateThreadID accepts 1-128 characters drawn from letters, digits,
// '-', '_' and '.', not starting with '.'.
func ValidateThreadID(id string) error {
	if id == "" || len(id) > maxThreadIDLen || id[0] == '.' {
		return fmt.Errorf("%w: %q", ErrInvalidThreadID, id)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidThreadID, id)
		}
	}
	return nil
}

// NewMessage builds an unsequenced message.
func NewMessage(role framework.Role, content string) framework.Message {
	return framework.Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// Sequence returns messages ordered by Seq. Messages without a Seq are kept
// in their given order and numbered after the highest existing Seq; missing
// IDs and timestamps are filled in.
func Sequence(messages []framework.Message) []framework.Message {
	out := make([]framework.Message, 0, len(messages))
	var pending []framework.Message
	var last uint64
	for _, m := range messages {
		if m.Seq == 0 {
			pending = append(pending, m)
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if len(out) > 0 {
		last = out[len(out)-1].Seq
	}
	for _, m := range pending {
		last++
		m.Seq = last
		out = append(out, m)
	}
	now := time.Now().UTC()
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = uuid.NewString()
		}
		if out[i].Timestamp.IsZero() {
			out[i].Timestamp = now
		}
	}
	return out
}

// Append adds messages to the end of a thread. Callers must serialize turns
// per thread, which the orchestrator does.
func Append(ctx context.Context, store ConversationStore, threadID string, messages ...framework.Message) ([]framework.Message, error) {
	history, err := store.GetState(ctx, threadID)
	if err != nil {
		return nil, err
	}
	next := make([]framework.Message, 0, len(history)+len(messages))
	next = append(next, history...)
	for _, m := range messages {
		m.Seq = 0
		next = append(next, m)
	}
	next = Sequence(next)
	if err := store.PutState(ctx, threadID, next); err != nil {
		return nil, err
	}
	return next, nil
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
