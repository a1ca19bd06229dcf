// Package static serves documents defined inline in the providers file.
package static

import (
	"context"
	"fmt"

	"github.com/upb/context-engine/config"
	"github.com/upb/context-engine/models"
	"github.com/upb/context-engine/services/providers"
)

// Provider implements providers.ContextProvider over fixed documents
type Provider struct {
	cfg      config.StaticConfig
	embedder providers.Embedder

	docs providers.Snapshot
}

// New creates a static provider
func New(cfg config.StaticConfig, embedder providers.Embedder) (*Provider, error) {
	if len(cfg.Documents) == 0 {
		return nil, fmt.Errorf("static provider needs at least one document")
	}
	return &Provider{cfg: cfg, embedder: embedder}, nil
}

// Refresh embeds every document title
func (p *Provider) Refresh(ctx context.Context) error {
	docs := make([]models.Document, 0, len(p.cfg.Documents))
	for _, d := range p.cfg.Documents {
		doc, err := providers.EmbedDocument(ctx, p.embedder, d.Title, d)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	return p.docs.Publish(ctx, docs)
}

// Documents returns the published documents
func (p *Provider) Documents() []models.Document {
	return p.docs.Load()
}

// PromptFragment returns the configured text and examples of the document
func (p *Provider) PromptFragment(_ context.Context, doc models.Document, _ string) (*models.PromptFragment, error) {
	d, ok := doc.Payload.(config.StaticDocument)
	if !ok {
		return nil, fmt.Errorf("document %q does not belong to this provider", doc.Title)
	}

	frag := &models.PromptFragment{Text: d.Text}
	for _, ex := range d.Examples {
		frag.Examples = append(frag.Examples, models.Example{Question: ex.Question, Answer: ex.Answer})
	}
	return frag, nil
}
