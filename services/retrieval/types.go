package retrieval

// PromptRequest is a query to turn into a context prompt
type PromptRequest struct {
	// Query is the user's natural-language prompt
	Query string `json:"query" validate:"required"`

	// TenantID selects the tenant's providers; empty means global only
	TenantID string `json:"tenant_id,omitempty"`

	// RequestID is carried into logs
	RequestID string `json:"request_id,omitempty"`
}

// PromptResponse is the composed prompt and what went into it
type PromptResponse struct {
	Prompt    string             `json:"prompt"`
	Providers []string           `json:"providers"`
	Selected  []SelectedDocument `json:"selected"`
}

// SelectedDocument is a document whose fragment made it into the prompt
type SelectedDocument struct {
	Provider string  `json:"provider"`
	Title    string  `json:"title"`
	Score    float64 `json:"score"`
}

// ProviderStatus describes one effective provider for a caller
type ProviderStatus struct {
	Name      string `json:"name"`
	Scope     string `json:"scope"` // "global" or "tenant"
	Documents int    `json:"documents"`
}
