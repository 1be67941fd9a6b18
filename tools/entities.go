package tools

import "context"

// SystemEntity is a raw match produced by a system entity recognizer.
type SystemEntity struct {
	Type       string  `json:"type"`
	Value      string  `json:"value"`
	Unit       string  `json:"unit,omitempty"`
	Source     string  `json:"source"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
}

// SystemEntityExtractor recognizes dates, numbers, amounts and the like.
type SystemEntityExtractor interface {
	// ExtractMultiple returns one result list per input, in input order.
	ExtractMultiple(ctx context.Context, inputs []string, languageCode string) ([][]SystemEntity, error)
}
