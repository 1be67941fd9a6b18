package pipeline

import (
	"math"
	"sort"

	"github.com/teranos/nlu/internal/util"
)

const (
	// SmallTfidf and below marks generic vocabulary.
	SmallTfidf = 0.5
	maxTfidf   = 2.0

	// AverageDocument names the table averaged over every document.
	AverageDocument = "__avg__"
)

// Tfidf computes a table per document plus their average under
// AverageDocument. Term frequencies are relative to the mean count of the
// document; values are clamped to [SmallTfidf, 2].
func Tfidf(docs map[string][]string) map[string]map[string]float64 {
	df := map[string]int{}
	counts := make(map[string]map[string]int, len(docs))
	for name, terms := range docs {
		c := map[string]int{}
		for _, term := range terms {
			c[term]++
		}
		counts[name] = c
		for term := range c {
			df[term]++
		}
	}

	n := float64(len(docs))
	out := make(map[string]map[string]float64, len(docs)+1)
	sums := map[string]float64{}
	occurrences := map[string]int{}

	names := make([]string, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		c := counts[name]
		if len(c) == 0 {
			out[name] = map[string]float64{}
			continue
		}
		values := make([]float64, 0, len(c))
		for _, v := range c {
			values = append(values, float64(v))
		}
		meanCount := util.Mean(values)

		table := make(map[string]float64, len(c))
		for term, count := range c {
			tf := float64(count) / meanCount
			idf := math.Log(n / float64(df[term]))
			score := util.Clamp(tf*idf, SmallTfidf, maxTfidf)
			table[term] = score
			sums[term] += score
			occurrences[term]++
		}
		out[name] = table
	}

	avg := make(map[string]float64, len(sums))
	for term, sum := range sums {
		avg[term] = sum / float64(occurrences[term])
	}
	out[AverageDocument] = avg
	return out
}
