package utterance

// EntityExtractor names the matcher that produced an entity.
type EntityExtractor string

const (
	ExtractorSystem  EntityExtractor = "system"
	ExtractorList    EntityExtractor = "list"
	ExtractorPattern EntityExtractor = "pattern"
)

// EntityMetadata describes where an extracted entity comes from.
type EntityMetadata struct {
	Extractor  EntityExtractor `json:"extractor"`
	Source     string          `json:"source"`
	EntityID   string          `json:"entityId"`
	Unit       string          `json:"unit,omitempty"`
	Occurrence string          `json:"occurrence,omitempty"`
}

// ExtractedEntity is an entity value recognized in a text.
type ExtractedEntity struct {
	Type       string         `json:"type"`
	Value      string         `json:"value"`
	Confidence float64        `json:"confidence"`
	Metadata   EntityMetadata `json:"metadata"`
	Sensitive  bool           `json:"sensitive,omitempty"`
}

// EntityExtractionResult is an extracted entity with its character range.
type EntityExtractionResult struct {
	ExtractedEntity
	Start int `json:"start"`
	End   int `json:"end"`
}

// ExtractedSlot is a slot value found in a text.
type ExtractedSlot struct {
	Name       string           `json:"name"`
	Source     string           `json:"source"`
	Value      string           `json:"value"`
	Confidence float64          `json:"confidence"`
	Entity     *ExtractedEntity `json:"entity,omitempty"`
}

// Range locates a tag in both token and character space.
type Range struct {
	StartTokenIdx int `json:"startTokenIdx"`
	EndTokenIdx   int `json:"endTokenIdx"`
	StartPos      int `json:"startPos"`
	EndPos        int `json:"endPos"`
}

// Entity is an entity tagged on an utterance.
type Entity struct {
	ExtractedEntity
	Range
}

// Slot is a slot tagged on an utterance.
type Slot struct {
	ExtractedSlot
	Range
}
