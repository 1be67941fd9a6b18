package lang

import (
	"embed"
	"path"
	"sort"
	"strings"
	"sync"
)

//go:embed stopwords/*.txt
var stopwordFiles embed.FS

var (
	stopwordsOnce sync.Once
	stopwords     map[string][]string
)

func loadStopwords() {
	stopwords = map[string][]string{}
	entries, err := stopwordFiles.ReadDir("stopwords")
	if err != nil {
		return
	}
	for _, e := range entries {
		data, err := stopwordFiles.ReadFile(path.Join("stopwords", e.Name()))
		if err != nil {
			continue
		}
		var words []string
		for _, line := range strings.Split(string(data), "\n") {
			if w := strings.TrimSpace(line); w != "" {
				words = append(words, w)
			}
		}
		sort.Strings(words)
		stopwords[strings.TrimSuffix(e.Name(), ".txt")] = words
	}
}

// StopWords returns the stop words of lang, or nil when none are bundled.
// The returned slice is shared; do not modify it.
func StopWords(lang string) []string {
	stopwordsOnce.Do(loadStopwords)
	return stopwords[lang]
}

// StopWordLanguages lists the languages with bundled stop words.
func StopWordLanguages() []string {
	stopwordsOnce.Do(loadStopwords)
	langs := make([]string, 0, len(stopwords))
	for l := range stopwords {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return langs
}
