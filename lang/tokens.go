package lang

import (
	"strings"
	"unicode"

	"github.com/teranos/nlu/utterance"
)

// longest run of fragments tried when rebuilding vocab words
const maxMergeWindow = 5

// processTokens normalizes server tokens: each whitespace becomes its own
// space marker token, punctuation is split off, and adjacent fragments
// forming a vocab word are merged back together.
func processTokens(tokens []string, vocab map[string]bool) []string {
	var split []string
	for _, tok := range tokens {
		split = append(split, splitToken(tok)...)
	}
	if len(vocab) == 0 {
		return split
	}
	return mergeVocabFragments(split, vocab)
}

func splitToken(tok string) []string {
	var out []string
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			out = append(out, word.String())
			word.Reset()
		}
	}
	for _, r := range tok {
		switch {
		case r == '▁' || unicode.IsSpace(r):
			flush()
			out = append(out, utterance.Space)
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			out = append(out, string(r))
		default:
			word.WriteRune(r)
		}
	}
	flush()
	return out
}

func mergeVocabFragments(tokens []string, vocab map[string]bool) []string {
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); {
		if utterance.IsSpace(tokens[i]) {
			out = append(out, tokens[i])
			i++
			continue
		}
		end := i
		for j := i + 1; j < len(tokens) && j < i+maxMergeWindow; j++ {
			if utterance.IsSpace(tokens[j]) {
				break
			}
			if vocab[strings.ToLower(strings.Join(tokens[i:j+1], ""))] {
				end = j
			}
		}
		out = append(out, strings.Join(tokens[i:end+1], ""))
		i = end + 1
	}
	return out
}

// restoreCasing copies the characters of original back onto tokens that
// were produced from its lower-cased form. Space markers with no matching
// whitespace in original (the one the server prepends to the first word)
// are dropped so that tokens concatenate back to original.
func restoreCasing(tokens []string, original string) []string {
	src := []rune(original)
	pos := 0
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		var b strings.Builder
		for _, r := range tok {
			if pos >= len(src) {
				if r != '▁' {
					b.WriteRune(r)
				}
				continue
			}
			orig := src[pos]
			switch {
			case r == '▁':
				if unicode.IsSpace(orig) {
					b.WriteRune(r)
					pos++
				}
			case unicode.ToLower(orig) == unicode.ToLower(r):
				b.WriteRune(orig)
				pos++
			default:
				b.WriteRune(r)
				pos++
			}
		}
		if b.Len() > 0 {
			out = append(out, b.String())
		}
	}
	return out
}
