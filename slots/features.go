package slots

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/teranos/nlu/utterance"
)

const (
	wordBoost   = 3
	entityBoost = 3
	intentBoost = 100

	lowWeight    = 0.5
	mediumWeight = 1.5
)

// IntentFeatures is what the tagger knows about the intent of a sequence.
type IntentFeatures struct {
	Name         string   `json:"name"`
	Vocab        []string `json:"vocab"`
	SlotEntities []string `json:"slot_entities"`
}

type feature struct {
	name  string
	value string
	boost float64
}

func (f feature) attr(prefix string) string {
	return prefix + f.name + "=" + f.value + ":" + strconv.FormatFloat(f.boost, 'g', -1, 64)
}

// pairedFeatures are combined across neighbouring tokens.
var pairedFeatures = []string{"word", "vocab", "weight", "POS"}

type featurizer struct {
	intent    IntentFeatures
	vocab     map[string]struct{}
	entities  map[string]struct{}
	isPredict bool
}

func newFeaturizer(intent IntentFeatures, isPredict bool) *featurizer {
	f := &featurizer{
		intent:    intent,
		vocab:     make(map[string]struct{}, len(intent.Vocab)),
		entities:  make(map[string]struct{}, len(intent.SlotEntities)),
		isPredict: isPredict,
	}
	for _, w := range intent.Vocab {
		f.vocab[w] = struct{}{}
	}
	for _, e := range intent.SlotEntities {
		f.entities[e] = struct{}{}
	}
	return f
}

// sequence returns the attributes of every non-space token of utt.
func (f *featurizer) sequence(utt *utterance.Utterance) [][]string {
	var words []utterance.Token
	for _, t := range utt.Tokens() {
		if !t.IsSpace {
			words = append(words, t)
		}
	}
	out := make([][]string, len(words))
	for i := range words {
		out[i] = f.slice(utt, words, i)
	}
	return out
}

// slice is the attributes of words[i] with its two previous and next neighbours.
func (f *featurizer) slice(utt *utterance.Utterance, words []utterance.Token, i int) []string {
	token := words[i]
	current := without(f.token(utt, words, i), "cluster")

	var attrs []string
	if token.IsBOS {
		attrs = append(attrs, "__BOS__")
	}
	attrs = append(attrs, feature{name: "intent", value: f.intent.Name, boost: intentBoost}.attr(""))

	for back := 1; back <= 2 && i-back >= 0; back++ {
		prefix := "w[-" + strconv.Itoa(back) + "]"
		for _, feat := range without(f.token(utt, words, i-back), "quartile") {
			attrs = append(attrs, feat.attr(prefix))
		}
	}
	for _, feat := range current {
		attrs = append(attrs, feat.attr("w[0]"))
	}
	var next []feature
	if i+1 < len(words) {
		next = without(f.token(utt, words, i+1), "quartile")
		for _, feat := range next {
			attrs = append(attrs, feat.attr("w[1]"))
		}
	}

	if i > 0 {
		prev := without(f.token(utt, words, i-1), "quartile")
		for _, feat := range pairs(prev, current) {
			attrs = append(attrs, feat.attr("w[-1]|w[0]"))
		}
	}
	for _, feat := range pairs(current, next) {
		attrs = append(attrs, feat.attr("w[0]|w[1]"))
	}

	if token.IsEOS {
		attrs = append(attrs, "__EOS__")
	}
	return attrs
}

func (f *featurizer) token(utt *utterance.Utterance, words []utterance.Token, i int) []feature {
	token := words[i]
	lower := token.String(utterance.TokenStringOptions{LowerCase: true})

	_, inVocab := f.vocab[lower]
	prevIsSpace := false
	if token.Index > 0 {
		prevIsSpace = utt.Tokens()[token.Index-1].IsSpace
	}
	alpha, num, special := 0, 0, 0
	for _, r := range token.Value {
		switch {
		case unicode.IsLetter(r):
			alpha++
		case unicode.IsDigit(r):
			num++
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special++
		}
	}
	wordBoostValue := 1.0
	if f.isPredict {
		wordBoostValue = wordBoost
	}

	feats := []feature{
		{name: "quartile", value: strconv.Itoa(quartile(i, len(words))), boost: 1},
		{name: "cluster", value: strconv.Itoa(token.Cluster()), boost: 1},
		{name: "weight", value: weightTier(token.Tfidf()), boost: 1},
		{name: "vocab", value: strconv.FormatBool(inVocab), boost: 1},
		{name: "space", value: strconv.FormatBool(prevIsSpace), boost: 1},
		{name: "alpha", value: strconv.Itoa(alpha), boost: 1},
		{name: "num", value: strconv.Itoa(num), boost: 1},
		{name: "special_chars", value: strconv.Itoa(special), boost: 1},
		{name: "word", value: lower, boost: wordBoostValue},
		{name: "POS", value: token.POS, boost: 1},
	}
	for _, e := range token.Entities() {
		if _, ok := f.entities[e.Type]; !ok {
			continue
		}
		boost := 1.0
		if f.isPredict {
			boost = entityBoost
		}
		feats = append(feats, feature{name: "entity", value: e.Type, boost: boost})
	}
	return feats
}

func quartile(pos, n int) int {
	if n == 0 {
		return 1
	}
	return ((pos+1)*4 + n - 1) / n
}

func weightTier(tfidf float64) string {
	switch {
	case tfidf <= lowWeight:
		return "low"
	case tfidf < mediumWeight:
		return "medium"
	default:
		return "high"
	}
}

func without(feats []feature, name string) []feature {
	out := make([]feature, 0, len(feats))
	for _, f := range feats {
		if f.name != name {
			out = append(out, f)
		}
	}
	return out
}

// pairs joins the values of the paired features present on both sides.
func pairs(a, b []feature) []feature {
	var out []feature
	for _, name := range pairedFeatures {
		fa, okA := find(a, name)
		fb, okB := find(b, name)
		if !okA || !okB {
			continue
		}
		out = append(out, feature{name: name, value: fa.value + "|" + fb.value, boost: 1})
	}
	return out
}

func find(feats []feature, name string) (feature, bool) {
	for _, f := range feats {
		if f.name == name {
			return f, true
		}
	}
	return feature{}, false
}

// vocabOf lists the lower-cased words of utts outside of slots.
func vocabOf(utts []*utterance.Utterance) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, u := range utts {
		for _, t := range u.Tokens() {
			if t.IsSpace || len(t.Slots()) > 0 {
				continue
			}
			w := strings.ToLower(t.Value)
			if _, ok := seen[w]; !ok {
				seen[w] = struct{}{}
				out = append(out, w)
			}
		}
	}
	return out
}
