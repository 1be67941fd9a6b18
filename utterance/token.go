package utterance

import (
	"strings"
	"unicode"
)

// Space is the marker the language server uses for whitespace tokens.
const Space = "▁"

const spaceRune = '▁'

// IsSpace reports whether every rune of s is a space marker or a blank.
func IsSpace(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r != spaceRune && r != ' ' {
			return false
		}
	}
	return true
}

// HasSpace reports whether s contains at least one space marker or blank.
func HasSpace(s string) bool {
	return strings.ContainsRune(s, spaceRune) || strings.ContainsRune(s, ' ')
}

// IsWord reports whether s is made of letters and digits only.
func IsWord(s string) bool {
	if s == "" || HasSpace(s) {
		return false
	}
	for _, r := range s {
		if isSpecialChar(r) {
			return false
		}
	}
	return true
}

func isSpecialChar(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsControl(r)
}

// ConvertToRealSpaces replaces space markers with blanks.
func ConvertToRealSpaces(s string) string {
	return strings.ReplaceAll(s, Space, " ")
}

// RuneLen is the length of s in characters. All offsets are expressed in runes.
func RuneLen(s string) int {
	return len([]rune(s))
}

// Token is one element of a tokenized utterance.
type Token struct {
	Index   int       `json:"index"`
	Value   string    `json:"value"`
	Offset  int       `json:"offset"`
	IsWord  bool      `json:"isWord"`
	IsSpace bool      `json:"isSpace"`
	IsBOS   bool      `json:"isBOS"`
	IsEOS   bool      `json:"isEOS"`
	POS     string    `json:"POS"`
	Vector  []float64 `json:"vector"`

	utt *Utterance
}

// TokenStringOptions controls Token.String.
type TokenStringOptions struct {
	LowerCase bool
	Trim      bool
	// KeepSpaceMarker leaves the space marker untouched instead of converting it.
	KeepSpaceMarker bool
}

// String renders the token value.
func (t Token) String(opts ...TokenStringOptions) string {
	var o TokenStringOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	s := t.Value
	if o.LowerCase {
		s = strings.ToLower(s)
	}
	if !o.KeepSpaceMarker {
		s = ConvertToRealSpaces(s)
	}
	if o.Trim {
		s = strings.TrimSpace(s)
	}
	return s
}

// End is the offset right after the token.
func (t Token) End() int {
	return t.Offset + RuneLen(t.Value)
}

// Tfidf is the global tf-idf of the lower-cased token, 1 when unknown.
func (t Token) Tfidf() float64 {
	if t.utt == nil {
		return 1
	}
	return t.utt.tfidfOf(t.String(TokenStringOptions{LowerCase: true}))
}

// Cluster is the k-means cluster of the token vector, 1 when no clustering is set.
func (t Token) Cluster() int {
	if t.utt == nil {
		return 1
	}
	return t.utt.clusterOf(t.Index)
}

// Slots returns the slots covering this token.
func (t Token) Slots() []Slot {
	if t.utt == nil {
		return nil
	}
	var out []Slot
	for _, s := range t.utt.Slots() {
		if s.StartTokenIdx <= t.Index && s.EndTokenIdx >= t.Index {
			out = append(out, s)
		}
	}
	return out
}

// Entities returns the entities covering this token.
func (t Token) Entities() []Entity {
	if t.utt == nil {
		return nil
	}
	var out []Entity
	for _, e := range t.utt.Entities() {
		if e.StartTokenIdx <= t.Index && e.EndTokenIdx >= t.Index {
			out = append(out, e)
		}
	}
	return out
}
