package providers

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/upb/context-engine/models"
)

// ContextProvider is a source of retrievable context
type ContextProvider interface {
	// Refresh re-fetches source data and publishes a new document set.
	// On error the previously published documents stay in place.
	Refresh(ctx context.Context) error

	// Documents returns the currently published documents. Safe to call
	// while Refresh is running.
	Documents() []models.Document

	// PromptFragment renders the prompt text for one selected document
	PromptFragment(ctx context.Context, doc models.Document, query string) (*models.PromptFragment, error)
}

// Embedder turns text into a vector. Providers use it to embed document titles.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Snapshot holds a provider's published documents. Store swaps the whole set
// atomically so readers never see a partially refreshed list.
type Snapshot struct {
	docs atomic.Pointer[[]models.Document]
}

// Load returns the current documents (nil before the first Store)
func (s *Snapshot) Load() []models.Document {
	p := s.docs.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Store publishes a new document set. The slice is copied.
func (s *Snapshot) Store(docs []models.Document) {
	cp := make([]models.Document, len(docs))
	copy(cp, docs)
	s.docs.Store(&cp)
}

// Publish stores docs unless ctx is already done. A refresh that outlived
// its deadline must not replace the documents kept in its place.
func (s *Snapshot) Publish(ctx context.Context, docs []models.Document) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("refresh abandoned before publishing: %w", err)
	}
	s.Store(docs)
	return nil
}

// Len returns the number of published documents
func (s *Snapshot) Len() int {
	return len(s.Load())
}

// EmbedDocument embeds title and wraps it as a document carrying payload
func EmbedDocument(ctx context.Context, embedder Embedder, title string, payload interface{}) (models.Document, error) {
	vec, err := embedder.Embed(ctx, title)
	if err != nil {
		return models.Document{}, fmt.Errorf("failed to embed %q: %w", title, err)
	}
	return models.NewDocument(title, vec, payload), nil
}
