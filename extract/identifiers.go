// Package extract scrapes structured values out of free-form agent text:
// partner identifiers written as "name (ID: n)" and inline chart payloads.
package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Shape names one supported textual form of an identifier mention.
type Shape int

const (
	// ShapePlain is "Acme Corp (ID: 42)".
	ShapePlain Shape = iota
	// ShapeBold is "**Acme Corp** (ID: 42)" or "**Acme Corp (ID: 42)**".
	ShapeBold
	// ShapeLabeled is "**Client:** Acme Corp (ID: 42)".
	ShapeLabeled
	// ShapeNextLine is "**Acme Corp**" followed by a "- ID: 42" line.
	ShapeNextLine
	// ShapeRendered is the "- Acme Corp: partner_id = 42" line produced by
	// RenderIdentifiers.
	ShapeRendered
)

func (s Shape) String() string {
	switch s {
	case ShapePlain:
		return "plain"
	case ShapeBold:
		return "bold"
	case ShapeLabeled:
		return "labeled"
	case ShapeNextLine:
		return "next_line"
	case ShapeRendered:
		return "rendered"
	default:
		return "unknown"
	}
}

// Mention is one identifier occurrence found in text.
type Mention struct {
	Name   string
	ID     int
	Shape  Shape
	Offset int
}

// IdentifierMap maps entity names to their numeric identifiers.
type IdentifierMap map[string]int

// minNameLength is the shortest name accepted as an entity.
const minNameLength = 3

var genericNames = map[string]struct{}{
	"id":      {},
	"partner": {},
	"client":  {},
}

type shapePattern struct {
	shape Shape
	re    *regexp.Regexp
}

// idTag is the "(ID: n)" suffix shared by the inline shapes.
var idTag = regexp.MustCompile(`\(\s*ID:\s*(\d+)\s*\)`)

// The delimited shapes carry explicit name boundaries so they are matched
// with patterns; the plain shape is resolved by walking back from idTag.
var shapePatterns = []shapePattern{
	{ShapeBold, regexp.MustCompile(`\*\*([^*\n]+?)\*\*\s*\(\s*ID:\s*(\d+)\s*\)`)},
	{ShapeBold, regexp.MustCompile(`\*\*([^*\n(]+?)\s*\(\s*ID:\s*(\d+)\s*\)\s*\*\*`)},
	{ShapeLabeled, regexp.MustCompile(`(?:\*\*)?\b(?i:` + entityLabels + `):(?:\*\*)?[ \t]+(?:\*\*)?([^*\n():]+?)(?:\*\*)?\s*\(\s*ID:\s*(\d+)\s*\)`)},
	{ShapeNextLine, regexp.MustCompile(`\*\*([^*\n]+?)\*\*[ \t]*\r?\n[ \t]*[-*][ \t]*(?:\*\*)?ID(?:\*\*)?:(?:\*\*)?[ \t]*(\d+)`)},
	{ShapeRendered, regexp.MustCompile(`(?m)^-[ \t]+([^\n]+?):[ \t]*partner_id[ \t]*=[ \t]*(\d+)[ \t]*$`)},
}

// entityLabels are the field labels that introduce a name in the labeled
// shape. Any other "Word:" prefix is prose and left to the plain shape.
const entityLabels = `client|cliente|customer|partner|company|account|debtor|azienda|ragione sociale|(?:client|customer|partner|company) name`

// plainBoundary ends the backwards walk for the plain shape.
const plainBoundary = "*:()[]|\n"

// nameConnectors may appear inside a plain-shape name without being
// capitalized.
var nameConnectors = map[string]struct{}{
	"&": {}, "-": {}, "and": {}, "of": {}, "de": {}, "di": {}, "del": {}, "della": {},
	"e": {}, "y": {}, "van": {}, "von": {}, "la": {}, "le": {},
	"srl": {}, "s.r.l.": {}, "spa": {}, "s.p.a.": {}, "inc": {}, "inc.": {},
	"ltd": {}, "ltd.": {}, "llc": {}, "gmbh": {}, "co.": {}, "sas": {}, "snc": {},
}

var listMarker = regexp.MustCompile(`^(?:\d+[.)]|[-•#>]+)\s*`)

// Mentions returns every accepted identifier occurrence in text, ordered by
// position. It never fails; malformed input yields fewer mentions.
func Mentions(text string) []Mention {
	if text == "" {
		return nil
	}
	// Keyed by the end offset of the identifier digits so one mention seen
	// by several shapes collapses into the most specific one.
	byEnd := make(map[int]Mention)
	add := func(m Mention, end int) {
		if !acceptName(m.Name) {
			return
		}
		if prev, ok := byEnd[end]; ok && prev.Shape > m.Shape {
			return
		}
		byEnd[end] = m
	}
	for _, loc := range idTag.FindAllStringSubmatchIndex(text, -1) {
		id, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		name, offset := plainName(text[:loc[0]])
		add(Mention{Name: name, ID: id, Shape: ShapePlain, Offset: offset}, loc[3])
	}
	for _, p := range shapePatterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(text, -1) {
			if len(loc) < 6 || loc[2] < 0 || loc[4] < 0 {
				continue
			}
			id, err := strconv.Atoi(text[loc[4]:loc[5]])
			if err != nil {
				continue
			}
			add(Mention{Name: cleanName(text[loc[2]:loc[3]]), ID: id, Shape: p.shape, Offset: loc[2]}, loc[5])
		}
	}
	out := make([]Mention, 0, len(byEnd))
	for _, m := range byEnd {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

// plainName walks backwards from the end of prefix collecting capitalized
// words and connectors, stopping at the first ordinary word or boundary.
// Without a capitalized run it falls back to the trailing clause.
func plainName(prefix string) (string, int) {
	segStart := strings.LastIndexAny(prefix, plainBoundary) + 1
	words := strings.Fields(prefix[segStart:])
	first := len(words)
	for i := len(words) - 1; i >= 0; i-- {
		if !nameWord(words[i]) {
			break
		}
		first = i
	}
	first = skipWords(words, first, nameConnectors)
	if first >= len(words) {
		return clauseName(prefix, segStart)
	}
	return nameAt(prefix, segStart, words[first:])
}

// clauseBreak separates sentences and list items inside one segment.
var clauseBreak = regexp.MustCompile(`[.!?;,]\s`)

// clauseWords end the clause that precedes a lower-case name.
var clauseWords = map[string]struct{}{
	"is": {}, "are": {}, "was": {}, "for": {}, "of": {}, "at": {}, "to": {},
	"with": {}, "from": {}, "by": {}, "about": {}, "per": {}, "è": {},
}

// leadingFillers are dropped from the front of a clause name.
var leadingFillers = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "il": {}, "lo": {},
	"client": {}, "cliente": {}, "customer": {}, "partner": {},
}

// maxClauseWords bounds a lower-case name; longer clauses are prose.
const maxClauseWords = 4

// clauseName takes the words after the last sentence break or clause word
// before the identifier. It returns "" rather than guess at long prose.
func clauseName(prefix string, segStart int) (string, int) {
	segment := strings.TrimRightFunc(prefix[segStart:], unicode.IsSpace)
	start := segStart
	if locs := clauseBreak.FindAllStringIndex(segment, -1); len(locs) > 0 {
		start += locs[len(locs)-1][1]
	}
	words := strings.Fields(prefix[start:])
	first := 0
	for i := len(words) - 1; i >= 0; i-- {
		if _, ok := clauseWords[strings.ToLower(words[i])]; ok {
			first = i + 1
			break
		}
	}
	first = skipWords(words, first, leadingFillers)
	if first >= len(words) || len(words)-first > maxClauseWords {
		return "", start
	}
	return nameAt(prefix, start, words[first:])
}

func skipWords(words []string, first int, skip map[string]struct{}) int {
	for first < len(words) {
		if _, ok := skip[strings.ToLower(words[first])]; !ok {
			break
		}
		first++
	}
	return first
}

func nameAt(prefix string, segStart int, words []string) (string, int) {
	offset := segStart
	if idx := strings.LastIndex(prefix, words[0]); idx >= segStart {
		offset = idx
	}
	return cleanName(strings.Join(words, " ")), offset
}

// nameWord accepts connectors and words with any capital letter, so mixed
// case names such as "eBay" stay whole.
func nameWord(word string) bool {
	if _, ok := nameConnectors[strings.ToLower(word)]; ok {
		return true
	}
	return strings.IndexFunc(word, func(r rune) bool {
		return unicode.IsUpper(r) || unicode.IsDigit(r)
	}) >= 0
}

// Identifiers scans text and returns the name to identifier map. On duplicate
// names the later occurrence wins.
func Identifiers(text string) IdentifierMap {
	out := make(IdentifierMap)
	for _, m := range Mentions(text) {
		out[m.Name] = m.ID
	}
	return out
}

// Merge combines maps left to right; later maps win on conflicts.
func Merge(maps ...IdentifierMap) IdentifierMap {
	out := make(IdentifierMap)
	for _, m := range maps {
		for name, id := range m {
			out[name] = id
		}
	}
	return out
}

// FromSources rebuilds the identifier map from the conversation history and
// the data collected so far in the turn. Sources are scanned in order so the
// most recent occurrence of a name wins.
func FromSources(history []string, collected []string) IdentifierMap {
	out := make(IdentifierMap)
	for _, text := range history {
		for _, m := range Mentions(text) {
			out[m.Name] = m.ID
		}
	}
	for _, text := range collected {
		for _, m := range Mentions(text) {
			out[m.Name] = m.ID
		}
	}
	return out
}

// Names returns the map keys in sorted order.
func (m IdentifierMap) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RenderIdentifiers renders one "- name: partner_id = id" line per entry,
// sorted by name, or "none available" when the map is empty.
func RenderIdentifiers(m IdentifierMap) string {
	if len(m) == 0 {
		return "none available"
	}
	var sb strings.Builder
	for i, name := range m.Names() {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "- %s: partner_id = %d", name, m[name])
	}
	return sb.String()
}

func cleanName(raw string) string {
	name := strings.TrimSpace(raw)
	name = strings.Trim(name, "*_`\"'")
	name = listMarker.ReplaceAllString(strings.TrimSpace(name), "")
	name = strings.TrimRight(name, " \t-–:,")
	return strings.TrimSpace(name)
}

func acceptName(name string) bool {
	if utf8.RuneCountInString(name) < minNameLength {
		return false
	}
	_, generic := genericNames[strings.ToLower(name)]
	return !generic
}
