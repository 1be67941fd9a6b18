package entities

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/teranos/nlu/utterance"
)

// PatternEntity is a regex-defined entity.
type PatternEntity struct {
	Name      string   `json:"name"`
	Pattern   string   `json:"pattern"`
	Examples  []string `json:"examples"`
	MatchCase bool     `json:"matchCase"`
	Sensitive bool     `json:"sensitive"`
}

// IsPatternValid reports whether pattern compiles and is not empty.
func IsPatternValid(pattern string) bool {
	if strings.TrimSpace(pattern) == "" {
		return false
	}
	_, err := regexp.Compile(pattern)
	return err == nil
}

// FilterValidPatterns drops pattern entities whose regex does not compile.
func FilterValidPatterns(patterns []PatternEntity) []PatternEntity {
	var out []PatternEntity
	for _, p := range patterns {
		if IsPatternValid(p.Pattern) {
			out = append(out, p)
		}
	}
	return out
}

// PatternEntityID is the entity id of a pattern entity named name.
func PatternEntityID(name string) string {
	return "custom.pattern." + name
}

func (p PatternEntity) compile() (*regexp.Regexp, error) {
	expr := p.Pattern
	if !p.MatchCase {
		expr = "(?i)" + expr
	}
	return regexp.Compile(expr)
}

// ExtractPatternEntities finds every match of every pattern in utt.
func ExtractPatternEntities(utt *utterance.Utterance, patterns []PatternEntity) []utterance.EntityExtractionResult {
	input := utt.String()
	var out []utterance.EntityExtractionResult
	for _, p := range patterns {
		re, err := p.compile()
		if err != nil {
			continue
		}
		for _, m := range extractPattern(input, re) {
			out = append(out, utterance.EntityExtractionResult{
				ExtractedEntity: utterance.ExtractedEntity{
					Type:       p.Name,
					Value:      m.value,
					Confidence: 1,
					Sensitive:  p.Sensitive,
					Metadata: utterance.EntityMetadata{
						Extractor: utterance.ExtractorPattern,
						Source:    m.value,
						EntityID:  PatternEntityID(p.Name),
					},
				},
				Start: m.start,
				End:   m.end,
			})
		}
	}
	return out
}

type patternMatch struct {
	value      string
	start, end int // rune offsets in the original text
}

// extractPattern matches re on text, cuts the match out and starts over on
// what is left, so overlapping candidates are each reported once. Offsets
// are mapped back onto the original text.
func extractPattern(text string, re *regexp.Regexp) []patternMatch {
	remaining := []rune(text)
	origin := make([]int, len(remaining))
	for i := range origin {
		origin[i] = i
	}

	var out []patternMatch
	for len(remaining) > 0 {
		s := string(remaining)
		loc := re.FindStringIndex(s)
		if loc == nil || loc[0] == loc[1] {
			break
		}
		start := utf8.RuneCountInString(s[:loc[0]])
		end := start + utf8.RuneCountInString(s[loc[0]:loc[1]])
		out = append(out, patternMatch{
			value: s[loc[0]:loc[1]],
			start: origin[start],
			end:   origin[end-1] + 1,
		})
		remaining = append(remaining[:start:start], remaining[end:]...)
		origin = append(origin[:start:start], origin[end:]...)
	}
	return out
}
