package utterance

import (
	"regexp"
	"strings"
)

var (
	slotMarkupRegex       = regexp.MustCompile(`\[([^\[\]]+?)\]\(([\w.\-]+)\)`)
	consecutiveSpaceRegex = regexp.MustCompile(`\s+`)
)

// Position is a character range, end exclusive.
type Position struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// ParsedSlot is one `[value](name)` markup found in a raw utterance.
type ParsedSlot struct {
	Name          string   `json:"name"`
	Value         string   `json:"value"`
	RawPosition   Position `json:"rawPosition"`
	CleanPosition Position `json:"cleanPosition"`
}

// Parsed is a raw utterance with its slot markup removed.
type Parsed struct {
	Utterance   string       `json:"utterance"`
	ParsedSlots []ParsedSlot `json:"parsedSlots"`
}

// Parse strips `[value](slot)` markup and records where each slot value lands
// in the clean text.
func Parse(raw string) Parsed {
	var (
		clean   strings.Builder
		slots   []ParsedSlot
		lastEnd int
		cleanAt int
	)

	for _, m := range slotMarkupRegex.FindAllStringSubmatchIndex(raw, -1) {
		before := raw[lastEnd:m[0]]
		clean.WriteString(before)
		cleanAt += RuneLen(before)

		value := raw[m[2]:m[3]]
		name := raw[m[4]:m[5]]
		valueLen := RuneLen(value)

		rawStart := RuneLen(raw[:m[0]])
		slots = append(slots, ParsedSlot{
			Name:          name,
			Value:         value,
			RawPosition:   Position{Start: rawStart, End: rawStart + RuneLen(raw[m[0]:m[1]])},
			CleanPosition: Position{Start: cleanAt, End: cleanAt + valueLen},
		})

		clean.WriteString(value)
		cleanAt += valueLen
		lastEnd = m[1]
	}
	clean.WriteString(raw[lastEnd:])

	return Parsed{Utterance: clean.String(), ParsedSlots: slots}
}

// ReplaceConsecutiveSpaces collapses whitespace runs into a single blank.
func ReplaceConsecutiveSpaces(s string) string {
	return consecutiveSpaceRegex.ReplaceAllString(s, " ")
}

// ReplaceEllipsis replaces the horizontal ellipsis character with three dots.
func ReplaceEllipsis(s string) string {
	return strings.ReplaceAll(s, "…", "...")
}

// Preprocess normalizes a raw utterance before tokenization.
func Preprocess(raw string) string {
	return ReplaceEllipsis(ReplaceConsecutiveSpaces(strings.TrimSpace(raw)))
}
