package testing

import (
	"testing"

	"github.com/teranos/nlu/lang"
	"github.com/teranos/nlu/utterance"
)

// MakeUtterance tokenizes and vectorizes text with the FakeTools rules and
// tags English POS classes.
func MakeUtterance(t testing.TB, text string) *utterance.Utterance {
	t.Helper()
	tokens := Tokenize(text)
	vectors := make([][]float64, len(tokens))
	for i, tok := range tokens {
		vectors[i] = Vectorize(tok)
	}
	pos := lang.TagPOS([][]string{tokens}, "en")[0]
	u, err := utterance.New(tokens, vectors, pos, "en")
	if err != nil {
		t.Fatalf("failed to build utterance %q: %v", text, err)
	}
	return u
}
