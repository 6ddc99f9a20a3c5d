package extract

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ChartMarker prefixes an inline chart payload in agent output.
const ChartMarker = "CHART_JSON:"

// ChartScanner separates chart payloads from the surrounding text.
type ChartScanner interface {
	// Extract returns text with every recognised chart removed, plus the
	// charts in the order they appeared.
	Extract(text string) (string, []json.RawMessage)
}

// MarkerScanner finds ChartMarker followed by a JSON object whose extent is
// determined by balanced-brace scanning. Payloads that never balance or are
// not valid JSON stay in the text untouched.
type MarkerScanner struct{}

var _ ChartScanner = MarkerScanner{}

// Extract implements ChartScanner.
func (MarkerScanner) Extract(text string) (string, []json.RawMessage) {
	if !strings.Contains(text, ChartMarker) {
		return text, nil
	}
	var (
		out    strings.Builder
		charts []json.RawMessage
		pos    int
	)
	for pos < len(text) {
		idx := strings.Index(text[pos:], ChartMarker)
		if idx < 0 {
			out.WriteString(text[pos:])
			break
		}
		markerStart := pos + idx
		payloadStart := markerStart + len(ChartMarker)
		for payloadStart < len(text) && (text[payloadStart] == ' ' || text[payloadStart] == '\t') {
			payloadStart++
		}
		end, ok := objectEnd(text, payloadStart)
		if !ok || !json.Valid([]byte(text[payloadStart:end])) {
			out.WriteString(text[pos : markerStart+len(ChartMarker)])
			pos = markerStart + len(ChartMarker)
			continue
		}
		out.WriteString(text[pos:markerStart])
		charts = append(charts, json.RawMessage(text[payloadStart:end]))
		pos = end
	}
	return strings.TrimSpace(out.String()), charts
}

// objectEnd returns the index just past the JSON object starting at start.
// String literals and escapes are honoured so braces inside strings do not
// count.
func objectEnd(text string, start int) (int, bool) {
	if start >= len(text) || text[start] != '{' {
		return 0, false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

// AppendCharts re-attaches charts after answer, each re-prefixed with
// ChartMarker and separated by single spaces.
func AppendCharts(answer string, charts []json.RawMessage) string {
	if len(charts) == 0 {
		return answer
	}
	parts := make([]string, 0, len(charts))
	for _, chart := range charts {
		var buf bytes.Buffer
		if err := json.Compact(&buf, chart); err != nil {
			buf.Reset()
			buf.Write(chart)
		}
		parts = append(parts, ChartMarker+buf.String())
	}
	if answer == "" {
		return strings.Join(parts, " ")
	}
	return answer + "\n\n" + strings.Join(parts, " ")
}
