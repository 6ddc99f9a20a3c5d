package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lexcodex/arassist/extract"
	"github.com/lexcodex/arassist/framework"
)

// Synthesizer composes the final answer. Charts embedded in collected data
// are lifted out before prompting and re-attached after the answer, so the
// model never sees them.
type Synthesizer struct {
	model   framework.LanguageModel
	scanner extract.ChartScanner
	options *framework.LLMOptions
}

// NewSynthesizer builds a synthesizer. A nil scanner uses
// extract.MarkerScanner.
func NewSynthesizer(model framework.LanguageModel, scanner extract.ChartScanner) *Synthesizer {
	if scanner == nil {
		scanner = extract.MarkerScanner{}
	}
	return &Synthesizer{
		model:   model,
		scanner: scanner,
		options: &framework.LLMOptions{Temperature: 0.2},
	}
}

// Prompt returns the completion prompt and the charts removed from
// collected.
func (s *Synthesizer) Prompt(query string, history []framework.Message, collected []string) (string, []json.RawMessage) {
	if len(collected) == 0 {
		return fmt.Sprintf(directTemplate, renderHistory(history), query), nil
	}
	var charts []json.RawMessage
	cleaned := make([]string, 0, len(collected))
	for _, entry := range collected {
		text, found := s.scanner.Extract(entry)
		charts = append(charts, found...)
		cleaned = append(cleaned, text)
	}
	return fmt.Sprintf(finalTemplate, renderHistory(history), query, strings.Join(cleaned, "\n")), charts
}

// Finalize returns the complete answer with any chart suffix.
func (s *Synthesizer) Finalize(ctx context.Context, query string, history []framework.Message, collected []string) (string, []json.RawMessage, error) {
	prompt, charts := s.Prompt(query, history, collected)
	resp, err := s.model.Generate(ctx, prompt, s.options)
	if err != nil {
		return "", nil, fmt.Errorf("final answer: %w", err)
	}
	return extract.AppendCharts(strings.TrimSpace(resp.Text), charts), charts, nil
}

// FinalizeStream is Finalize with incremental delivery: onToken receives
// each text chunk as it arrives and finally the chart suffix, so the chunks
// concatenate to the returned answer.
func (s *Synthesizer) FinalizeStream(ctx context.Context, query string, history []framework.Message, collected []string, onToken func(string)) (string, []json.RawMessage, error) {
	prompt, charts := s.Prompt(query, history, collected)
	stream, err := s.model.GenerateStream(ctx, prompt, s.options)
	if err != nil {
		return "", nil, fmt.Errorf("final answer: %w", err)
	}
	var answer strings.Builder
	for chunk := range stream {
		if chunk.Err != nil {
			return "", nil, fmt.Errorf("final answer stream: %w", chunk.Err)
		}
		if chunk.Text == "" {
			continue
		}
		answer.WriteString(chunk.Text)
		onToken(chunk.Text)
	}
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	text := answer.String()
	full := extract.AppendCharts(text, charts)
	if suffix := full[len(text):]; suffix != "" {
		onToken(suffix)
	}
	return full, charts, nil
}
