package agents

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DisplayName renders an agent identifier for people: underscores become
// spaces and each word is title-cased. "data_agent" becomes "Data Agent".
func DisplayName(agent string) string {
	return strings.Join(titleWords(agent), " ")
}

// Label is the tag prefixed to an agent's reply in collected data. It is the
// display name without spaces, so "data_agent" is labeled "DataAgent".
func Label(agent string) string {
	return strings.Join(titleWords(agent), "")
}

func titleWords(agent string) []string {
	fields := strings.FieldsFunc(agent, func(r rune) bool {
		return r == '_' || unicode.IsSpace(r)
	})
	for i, f := range fields {
		r, size := utf8.DecodeRuneInString(f)
		fields[i] = string(unicode.ToUpper(r)) + strings.ToLower(f[size:])
	}
	return fields
}
