package lang

import (
	"strings"
	"unicode"

	"github.com/teranos/nlu/utterance"
)

// Universal part-of-speech classes produced by the tagger.
const (
	POSUnavailable = "N/A"
	POSSpace       = "_"

	POSAdj   = "ADJ"
	POSAdp   = "ADP"
	POSAdv   = "ADV"
	POSAux   = "AUX"
	POSCconj = "CCONJ"
	POSDet   = "DET"
	POSIntj  = "INTJ"
	POSNoun  = "NOUN"
	POSNum   = "NUM"
	POSPart  = "PART"
	POSPron  = "PRON"
	POSPropn = "PROPN"
	POSPunct = "PUNCT"
	POSSconj = "SCONJ"
	POSSym   = "SYM"
	POSVerb  = "VERB"
)

// POSClasses lists every tag the tagger can emit for a word.
var POSClasses = []string{
	POSAdj, POSAdp, POSAdv, POSAux, POSCconj, POSDet, POSIntj, POSNoun,
	POSNum, POSPart, POSPron, POSPropn, POSPunct, POSSconj, POSSym, POSVerb,
}

type posLexicon struct {
	words    map[string]string
	suffixes []posSuffix
}

type posSuffix struct {
	suffix string
	tag    string
}

func lexicon(classes map[string]string, suffixes []posSuffix) posLexicon {
	words := map[string]string{}
	for tag, list := range classes {
		for _, w := range strings.Fields(list) {
			words[w] = tag
		}
	}
	return posLexicon{words: words, suffixes: suffixes}
}

var posLexicons = map[string]posLexicon{
	"en": lexicon(map[string]string{
		POSDet:   "a an the this that these those every each some any no all my your his her its our their",
		POSPron:  "i you he she it we they me him us them mine yours hers ours theirs myself yourself itself who whom what which",
		POSAdp:   "in on at by for from to with about into over under after before between through during without of off up down near",
		POSAux:   "am is are was were be been being have has had do does did will would shall should can could may might must",
		POSCconj: "and or but nor yet",
		POSSconj: "if because although though while whereas unless since whether",
		POSAdv:   "not very too also just now then here there always never often soon again still already",
		POSIntj:  "hi hello hey yes ok okay please thanks bye oh wow",
		POSPart:  "'s n't",
	}, []posSuffix{
		{"ly", POSAdv}, {"ing", POSVerb}, {"ed", POSVerb}, {"ize", POSVerb}, {"ise", POSVerb},
		{"ful", POSAdj}, {"ous", POSAdj}, {"able", POSAdj}, {"ible", POSAdj}, {"ive", POSAdj}, {"less", POSAdj}, {"al", POSAdj},
		{"tion", POSNoun}, {"ment", POSNoun}, {"ness", POSNoun}, {"ity", POSNoun}, {"er", POSNoun},
	}),
	"fr": lexicon(map[string]string{
		POSDet:   "le la les un une des du au aux ce cet cette ces mon ma mes ton ta tes son sa ses notre nos votre vos leur leurs",
		POSPron:  "je tu il elle on nous vous ils elles me te se moi toi lui eux y en qui que quoi",
		POSAdp:   "à de dans sur sous avec sans pour par chez vers entre pendant depuis avant après",
		POSAux:   "suis es est sommes êtes sont ai as a avons avez ont été être avoir",
		POSCconj: "et ou mais donc or ni car",
		POSSconj: "si quand lorsque comme puisque parce",
		POSAdv:   "ne pas plus très trop aussi bien mal ici là toujours jamais souvent déjà encore",
		POSIntj:  "bonjour salut oui non merci ok oh",
	}, []posSuffix{
		{"ment", POSAdv}, {"er", POSVerb}, {"ir", POSVerb}, {"ez", POSVerb}, {"ons", POSVerb},
		{"eux", POSAdj}, {"euse", POSAdj}, {"able", POSAdj}, {"ique", POSAdj},
		{"tion", POSNoun}, {"age", POSNoun}, {"ité", POSNoun}, {"eur", POSNoun},
	}),
}

// IsPOSAvailable reports whether the tagger knows lang.
func IsPOSAvailable(lang string) bool {
	_, ok := posLexicons[lang]
	return ok
}

// TagPOS tags tokenized utterances with universal POS classes using a
// closed-class lexicon and suffix rules. Space tokens are tagged "_";
// unsupported languages are tagged "N/A" throughout.
func TagPOS(tokenized [][]string, lang string) [][]string {
	lex, ok := posLexicons[lang]
	out := make([][]string, len(tokenized))
	for i, toks := range tokenized {
		tags := make([]string, len(toks))
		for j, tok := range toks {
			if !ok {
				tags[j] = POSUnavailable
				continue
			}
			tags[j] = lex.tag(tok, j == 0 || (j == 1 && utterance.IsSpace(toks[0])))
		}
		out[i] = tags
	}
	return out
}

func (l posLexicon) tag(tok string, first bool) string {
	if utterance.IsSpace(tok) {
		return POSSpace
	}
	if isNumber(tok) {
		return POSNum
	}
	if r := []rune(tok); len(r) == 1 {
		switch {
		case unicode.IsPunct(r[0]):
			return POSPunct
		case unicode.IsSymbol(r[0]):
			return POSSym
		}
	}

	lower := strings.ToLower(tok)
	if tag, ok := l.words[lower]; ok {
		return tag
	}
	if !first && unicode.IsUpper([]rune(tok)[0]) {
		return POSPropn
	}
	for _, s := range l.suffixes {
		if len(lower) > len(s.suffix)+1 && strings.HasSuffix(lower, s.suffix) {
			return s.tag
		}
	}
	return POSNoun
}

func isNumber(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '.' || r == ',':
		default:
			return false
		}
	}
	return digits > 0
}
