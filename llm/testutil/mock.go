// Package testutil provides a scripted language model for tests.
package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/lexcodex/arassist/framework"
)

// Reply is one scripted outcome. Chunks, when set, are streamed in order;
// otherwise Text is streamed as a single chunk.
type Reply struct {
	Text   string
	Chunks []string
	Err    error
	// StreamErr is delivered after the chunks on the streaming path.
	StreamErr error
}

// MockModel is a thread-safe framework.LanguageModel returning Replies in
// sequence. Once the script is exhausted the last reply repeats.
//
//	mock := &testutil.MockModel{Replies: []testutil.Reply{
//	    {Err: llm.NewRateLimitError(errors.New("429"))},
//	    {Text: `[{"agent":"data_agent","task":"find Acme"}]`},
//	}}
type MockModel struct {
	mu      sync.Mutex
	Replies []Reply
	prompts []string
	calls   int
}

var _ framework.LanguageModel = (*MockModel)(nil)

func (m *MockModel) next(prompt string) Reply {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	m.calls++
	if len(m.Replies) == 0 {
		return Reply{}
	}
	idx := m.calls - 1
	if idx >= len(m.Replies) {
		idx = len(m.Replies) - 1
	}
	return m.Replies[idx]
}

// Generate implements framework.LanguageModel.
func (m *MockModel) Generate(ctx context.Context, prompt string, _ *framework.LLMOptions) (*framework.LLMResponse, error) {
	reply := m.next(prompt)
	if reply.Err != nil {
		return nil, reply.Err
	}
	text := reply.Text
	if text == "" && len(reply.Chunks) > 0 {
		text = strings.Join(reply.Chunks, "")
	}
	return &framework.LLMResponse{Text: text, FinishReason: "stop"}, nil
}

// GenerateStream implements framework.LanguageModel.
func (m *MockModel) GenerateStream(ctx context.Context, prompt string, _ *framework.LLMOptions) (<-chan framework.StreamChunk, error) {
	reply := m.next(prompt)
	if reply.Err != nil {
		return nil, reply.Err
	}
	chunks := reply.Chunks
	if len(chunks) == 0 && reply.Text != "" {
		chunks = []string{reply.Text}
	}
	ch := make(chan framework.StreamChunk, len(chunks)+1)
	for _, c := range chunks {
		ch <- framework.StreamChunk{Text: c}
	}
	if reply.StreamErr != nil {
		ch <- framework.StreamChunk{Err: reply.StreamErr}
	}
	close(ch)
	return ch, nil
}

// Calls returns the number of completions requested.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Prompts returns every prompt received, in order.
func (m *MockModel) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// LastPrompt returns the most recent prompt, or "".
func (m *MockModel) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}
