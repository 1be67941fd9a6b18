package model

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/tools"
)

const hashLength = 16

var idPattern = regexp.MustCompile(`^[0-9a-f]{16}\.[0-9a-f]{16}\.\d+\.[a-z]{2}$`)

// ID identifies a model. Two models with equal ids are interchangeable
// for prediction.
type ID struct {
	ContentHash       string `json:"contentHash"`
	SpecificationHash string `json:"specificationHash"`
	Seed              int64  `json:"seed"`
	LanguageCode      string `json:"languageCode"`
}

// MakeID hashes the definitions a model was trained on and the
// specifications of the tools it was trained with. Seeds are expected
// to be non-negative; the textual form does not carry a sign.
func MakeID(entityDefs []EntityDefinition, intentDefs []IntentDefinition, languageCode string, seed int64, specs tools.Specifications) ID {
	content := struct {
		EntityDefs []EntityDefinition `json:"entityDefs"`
		IntentDefs []IntentDefinition `json:"intentDefs"`
	}{entityDefs, intentDefs}

	return ID{
		ContentHash:       hashJSON(content),
		SpecificationHash: hashJSON(specs),
		Seed:              seed,
		LanguageCode:      languageCode,
	}
}

func hashJSON(v any) string {
	// marshaling plain structs, maps and slices cannot fail
	raw, _ := json.Marshal(v)
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:])[:hashLength]
}

func (id ID) String() string {
	return fmt.Sprintf("%s.%s.%d.%s", id.ContentHash, id.SpecificationHash, id.Seed, id.LanguageCode)
}

// IsID reports whether s is the textual form of an ID.
func IsID(s string) bool {
	return idPattern.MatchString(s)
}

// ParseID is the inverse of ID.String.
func ParseID(s string) (ID, error) {
	if !IsID(s) {
		return ID{}, errors.Wrapf(errors.ErrInvalidRequest, "%q is not a model id", s)
	}
	parts := strings.Split(s, ".")
	seed, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return ID{}, errors.Wrapf(err, "invalid seed in model id %q", s)
	}
	return ID{
		ContentHash:       parts[0],
		SpecificationHash: parts[1],
		Seed:              seed,
		LanguageCode:      parts[3],
	}, nil
}
