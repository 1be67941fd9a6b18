// Package entities extracts custom (list and pattern) and system entities
// from utterances.
package entities

import (
	"math"
	"sort"
	"strings"

	"github.com/teranos/nlu/internal/util"
	"github.com/teranos/nlu/utterance"
)

// EntityScoreThreshold is the minimum score of an extracted list entity.
const EntityScoreThreshold = 0.6

// minFuzzyLength is the shortest window (in characters) matched fuzzily.
const minFuzzyLength = 4

// Fuzzy tolerances offered to users.
const (
	FuzzyLoose  = 0.65
	FuzzyMedium = 0.8
	FuzzyStrict = 1.0
)

// ListEntityModel is a list entity ready for extraction: every synonym is
// tokenized, the canonical value included.
type ListEntityModel struct {
	ID             string                `json:"id"`
	EntityName     string                `json:"entityName"`
	FuzzyTolerance float64               `json:"fuzzyTolerance"`
	Sensitive      bool                  `json:"sensitive"`
	LanguageCode   string                `json:"languageCode"`
	MappingsTokens map[string][][]string `json:"mappingsTokens"`

	Cache *ListCache `json:"-"`
}

type listCandidate struct {
	score      float64
	canonical  string
	start, end int // token indexes, inclusive
	source     string
	occurrence string
	eliminated bool
}

// ExtractListEntities runs every model on utt. Results of a model are read
// from and written to its cache when useCache is set.
func ExtractListEntities(utt *utterance.Utterance, models []*ListEntityModel, useCache bool) []utterance.EntityExtractionResult {
	var out []utterance.EntityExtractionResult
	key := utt.String()
	for _, m := range models {
		if useCache && m.Cache != nil {
			if cached, ok := m.Cache.Get(key); ok {
				out = append(out, cached...)
				continue
			}
		}
		results := extractForListModel(utt, m)
		if useCache && m.Cache != nil {
			m.Cache.Set(key, results)
		}
		out = append(out, results...)
	}
	return out
}

func extractForListModel(utt *utterance.Utterance, m *ListEntityModel) []utterance.EntityExtractionResult {
	tokens := utt.Tokens()
	var candidates []*listCandidate
	longest := 0

	// sorted for deterministic tie breaking
	for _, canonical := range util.SortedKeys(m.MappingsTokens) {
		for _, occurrence := range m.MappingsTokens[canonical] {
			occ := make([]string, len(occurrence))
			occLow := make([]string, len(occurrence))
			occLen := 0
			for i, t := range occurrence {
				occ[i] = utterance.ConvertToRealSpaces(t)
				occLow[i] = strings.ToLower(occ[i])
				occLen += utterance.RuneLen(occ[i])
			}
			occStr := strings.Join(occ, "")
			if occLen > longest {
				longest = occLen
			}

			for i := range tokens {
				if tokens[i].IsSpace {
					continue
				}
				workset := takeUntil(tokens, i, occLen)
				wCase := make([]string, len(workset))
				wLow := make([]string, len(workset))
				for j, t := range workset {
					wCase[j] = t.String()
					wLow[j] = t.String(utterance.TokenStringOptions{LowerCase: true})
				}
				lowStr := strings.Join(wLow, "")

				isFuzzy := m.FuzzyTolerance < 1 && utterance.RuneLen(lowStr) >= minFuzzyLength
				structural := structuralScore(wCase, occ)
				var final float64
				if isFuzzy {
					fuzzy := fuzzyScore(lowStr, strings.Join(occLow, ""))
					if fuzzy < m.FuzzyTolerance {
						fuzzy = 0
					}
					final = fuzzy * structural
				} else {
					exact := 0.0
					if exactScore(strings.Join(wCase, ""), occStr) == 1 {
						exact = 1
					}
					final = exact * structural
				}

				candidates = append(candidates, &listCandidate{
					score:      util.Round(final, 3),
					canonical:  canonical,
					start:      i,
					end:        i + len(workset) - 1,
					source:     strings.Join(wCase, ""),
					occurrence: occStr,
				})
			}
		}
	}

	eliminateOverlaps(candidates, len(tokens), longest)

	var results []utterance.EntityExtractionResult
	for _, c := range candidates {
		if c.eliminated || c.score < EntityScoreThreshold {
			continue
		}
		results = append(results, utterance.EntityExtractionResult{
			ExtractedEntity: utterance.ExtractedEntity{
				Type:       m.EntityName,
				Value:      c.canonical,
				Confidence: c.score,
				Sensitive:  m.Sensitive,
				Metadata: utterance.EntityMetadata{
					Extractor:  utterance.ExtractorList,
					Source:     c.source,
					EntityID:   m.ID,
					Occurrence: c.occurrence,
				},
			},
			Start: tokens[c.start].Offset,
			End:   tokens[c.end].End(),
		})
	}
	return results
}

// eliminateOverlaps keeps, for every token, only the best candidate covering
// it. Longer matches are favored up to the longest synonym.
func eliminateOverlaps(candidates []*listCandidate, nTokens, longest int) {
	rank := func(c *listCandidate) float64 {
		n := utterance.RuneLen(c.source)
		if n > longest {
			n = longest
		}
		return c.score * math.Pow(float64(n), 1.0/5)
	}
	for i := 0; i < nTokens; i++ {
		var covering []*listCandidate
		for _, c := range candidates {
			if !c.eliminated && c.start <= i && c.end >= i {
				covering = append(covering, c)
			}
		}
		if len(covering) < 2 {
			continue
		}
		sort.SliceStable(covering, func(a, b int) bool { return rank(covering[a]) > rank(covering[b]) })
		for _, loser := range covering[1:] {
			loser.eliminated = true
		}
	}
}

// takeUntil takes tokens from start until their total length is as close as
// possible to desired. A trailing space is dropped.
func takeUntil(tokens []utterance.Token, start, desired int) []utterance.Token {
	total := 0
	end := start
	for ; end < len(tokens); end++ {
		n := utterance.RuneLen(tokens[end].Value)
		current := total
		if current > 0 && abs(desired-current) < abs(desired-current-n) {
			break
		}
		if current >= desired {
			break
		}
		total += n
	}
	ws := tokens[start:end]
	if len(ws) > 1 && ws[len(ws)-1].IsSpace {
		ws = ws[:len(ws)-1]
	}
	return ws
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// exactScore is the share of aligned characters that are equal.
func exactScore(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	lo, hi := len(ra), len(rb)
	if lo > hi {
		lo, hi = hi, lo
	}
	if hi == 0 {
		return 1
	}
	same := 0
	for i := 0; i < lo; i++ {
		if ra[i] == rb[i] {
			same++
		}
	}
	return float64(same) / float64(hi)
}

// fuzzyScore averages Levenshtein and Jaro-Winkler similarities.
func fuzzyScore(a, b string) float64 {
	return (levenshteinSimilarity(a, b) + jaroWinklerSimilarity(a, b)) / 2
}

// structuralScore compares charsets, number of real tokens and total size.
func structuralScore(a, b []string) float64 {
	charset := func(toks []string, lower bool) []string {
		seen := map[string]bool{}
		var out []string
		for _, t := range toks {
			if lower {
				t = strings.ToLower(t)
			}
			for _, r := range t {
				if s := string(r); !seen[s] {
					seen[s] = true
					out = append(out, s)
				}
			}
		}
		return out
	}
	charsetScore := (util.SetSimilarity(charset(a, false), charset(b, false)) +
		util.SetSimilarity(charset(a, true), charset(b, true))) / 2

	qty := func(toks []string) int {
		n := 0
		for _, t := range toks {
			if utterance.RuneLen(t) > 1 {
				n++
			}
		}
		if n < 1 {
			n = 1
		}
		return n
	}
	qa, qb := qty(a), qty(b)
	tokenQtyScore := math.Min(float64(qa), float64(qb)) / math.Max(float64(qa), float64(qb))

	size := func(toks []string) int {
		n := 0
		for _, t := range toks {
			n += utterance.RuneLen(t)
		}
		return n
	}
	sa, sb := size(a), size(b)
	if sa == 0 || sb == 0 {
		return 0
	}
	tokenSizeScore := math.Min(float64(sa), float64(sb)) / math.Max(float64(sa), float64(sb))

	return math.Sqrt(charsetScore * tokenQtyScore * tokenSizeScore)
}
