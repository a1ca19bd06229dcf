package models

// Document is a unit of retrievable context published by a provider.
// A provider replaces its whole document set on refresh; documents are never
// mutated after publication.
type Document struct {
	Title     string    `json:"title"`
	Embedding []float64 `json:"-"`
	// Payload is provider-specific data used to render the fragment later.
	Payload interface{} `json:"-"`
}

// NewDocument creates a document with the given title, embedding and payload
func NewDocument(title string, embedding []float64, payload interface{}) Document {
	return Document{
		Title:     title,
		Embedding: embedding,
		Payload:   payload,
	}
}

// Example is an illustrative question/answer exchange appended to a prompt
type Example struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// PromptFragment is the text a provider contributes for one selected document
type PromptFragment struct {
	Text     string    `json:"text"`
	Examples []Example `json:"examples,omitempty"`
}

// SimilarityResult is a scored document, recomputed for every query
type SimilarityResult struct {
	Document     Document `json:"document"`
	Score        float64  `json:"score"`
	ProviderName string   `json:"provider"`
}
