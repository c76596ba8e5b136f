package types

// Summary is the structured study-notes document produced from a transcript.
type Summary struct {
	Title    string           `json:"title"`
	Sections []SummarySection `json:"sections"`
}

// SummarySection is one headed group of bullet points.
type SummarySection struct {
	Heading string   `json:"heading"`
	Points  []string `json:"points"`
}
