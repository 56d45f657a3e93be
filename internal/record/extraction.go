package record

// ExtractionRecord holds the structured content derived from one paper by the
// external extractor. It is one-to-one with a PaperRecord and treated as an
// opaque, versioned payload: the index stores and retrieves it but never
// invents or mutates its fields.
type ExtractionRecord struct {
	PaperID string `json:"paper_id"`
	Version int    `json:"version"`

	Abstract         string      `json:"abstract,omitempty"`
	Thesis           string      `json:"thesis,omitempty"`
	Contribution     string      `json:"contribution,omitempty"`
	Methodology      Methodology `json:"methodology,omitempty"`
	Findings         []string    `json:"findings,omitempty"`
	Claims           []string    `json:"claims,omitempty"`
	Limitations      []string    `json:"limitations,omitempty"`
	FutureDirections []string    `json:"future_directions,omitempty"`
	Conclusions      string      `json:"conclusions,omitempty"`

	// Confidence is the extractor's self-reported confidence in [0,1].
	Confidence float64 `json:"confidence,omitempty"`
}

// Methodology describes how a paper's work was carried out.
type Methodology struct {
	Approach   string `json:"approach,omitempty"`
	Datasets   string `json:"datasets,omitempty"`
	Evaluation string `json:"evaluation,omitempty"`
	Tools      string `json:"tools,omitempty"`
}

// IsEmpty reports whether no methodology sub-field is set.
func (m Methodology) IsEmpty() bool {
	return m.Approach == "" && m.Datasets == "" && m.Evaluation == "" && m.Tools == ""
}
