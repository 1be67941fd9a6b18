package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/model"
)

const travelYAML = `
language: en
seed: 3
entities:
  - name: city
    type: list
    fuzzy: 0.8
    occurrences:
      - name: paris
        synonyms: [paname]
      - name: london
  - name: flight_number
    type: pattern
    pattern: '[A-Z]{2}\d{3,4}'
    match_case: true
intents:
  - name: book
    contexts: [travel]
    slots:
      - name: destination
        entities: [city]
    utterances:
      en:
        - book a flight to [paris](destination)
        - reserve a plane ticket
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "set.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadTrainSet(t *testing.T) {
	set, err := LoadTrainSet(writeFile(t, travelYAML))
	require.NoError(t, err)

	assert.Equal(t, "en", set.LanguageCode)
	assert.Equal(t, int64(3), set.Seed)
	require.Len(t, set.EntityDefs, 2)
	assert.Equal(t, model.EntityTypeList, set.EntityDefs[0].Type)
	assert.Equal(t, 0.8, set.EntityDefs[0].Fuzzy)
	assert.Equal(t, []string{"paname"}, set.EntityDefs[0].Occurrences[0].Synonyms)
	assert.Equal(t, `[A-Z]{2}\d{3,4}`, set.EntityDefs[1].Pattern)
	assert.True(t, set.EntityDefs[1].MatchCase)

	require.Len(t, set.IntentDefs, 1)
	book := set.IntentDefs[0]
	assert.Equal(t, []string{"travel"}, book.Contexts)
	require.Len(t, book.Slots, 1)
	assert.Equal(t, "destination", book.Slots[0].Name)
	assert.Equal(t, []string{"city"}, book.Slots[0].Entities)
	assert.Len(t, book.Utterances["en"], 2)
}

func TestLoadTrainSetErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"no language", "intents: []", "language is required"},
		{"negative seed", "language: en\nseed: -2", "seed must be >= 0"},
		{"unknown entity type", "language: en\nentities:\n  - name: x\n    type: regex", `unknown type "regex"`},
		{"intent without context", "language: en\nintents:\n  - name: hello", "belongs to no context"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTrainSet(writeFile(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.True(t, errors.IsInvalidRequestError(err))
		})
	}

	_, err := LoadTrainSet(writeFile(t, "language: [broken"))
	assert.ErrorContains(t, err, "failed to parse training set")

	_, err = LoadTrainSet(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read training set")
}

func TestModelsByLanguage(t *testing.T) {
	en1 := "0123456789abcdef.0123456789abcdef.1.en"
	en2 := "0123456789abcdef.0123456789abcdef.2.en"
	fr := "fedcba9876543210.0123456789abcdef.1.fr"

	byLang, err := modelsByLanguage([]string{en1, fr, en2})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"en": en1, "fr": fr}, byLang)

	_, err = modelsByLanguage([]string{"nope"})
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestProgressStep(t *testing.T) {
	assert.Equal(t, 0, progressStep(-0.5))
	assert.Equal(t, 0, progressStep(0))
	assert.Equal(t, 42, progressStep(0.425))
	assert.Equal(t, progressSteps, progressStep(1))
	assert.Equal(t, progressSteps, progressStep(3))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KiB", formatBytes(1536))
	assert.Equal(t, "2.0 MiB", formatBytes(2*1024*1024))
}
