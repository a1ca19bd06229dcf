// Package prompt merges the fragments of the best-ranked documents into a
// single prompt string.
package prompt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/upb/context-engine/internal/observability"
	"github.com/upb/context-engine/models"
	"github.com/upb/context-engine/services/providers"
)

// ExamplesHeader introduces the example block appended after the fragments
const ExamplesHeader = "Find examples below. Reword the answers to fit your personality. Prompts are given as Q: and the example answers are given as A:"

const (
	fragmentSeparator = "\n\n\n"
	defaultTimeout    = 10 * time.Second
)

// Composition is a composed prompt plus the results that contributed to it
type Composition struct {
	Prompt   string
	Selected []models.SimilarityResult
	Failed   int
}

// Composer renders prompt fragments for the top ranked documents
type Composer struct {
	fragmentTimeout time.Duration
	metrics         observability.Metrics
	logger          *zap.Logger
}

// NewComposer creates a new prompt composer
func NewComposer(fragmentTimeout time.Duration, metrics observability.Metrics, logger *zap.Logger) *Composer {
	if fragmentTimeout <= 0 {
		fragmentTimeout = defaultTimeout
	}
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{
		fragmentTimeout: fragmentTimeout,
		metrics:         metrics,
		logger:          logger,
	}
}

// Compose takes the first k ranked results, asks each owning provider for its
// fragment in rank order and joins them. When includeExamples is set, the
// collected examples follow under ExamplesHeader. A result whose provider is
// missing from regs, or whose fragment fails, is skipped.
func (c *Composer) Compose(
	ctx context.Context,
	query string,
	ranked []models.SimilarityResult,
	k int,
	includeExamples bool,
	regs []providers.Registration,
) *Composition {
	if k < 0 {
		k = 0
	}
	if k > len(ranked) {
		k = len(ranked)
	}

	comp := &Composition{}
	var b strings.Builder
	var examples []models.Example

	for _, res := range ranked[:k] {
		log := c.logger.With(
			zap.String("provider", res.ProviderName),
			zap.String("title", res.Document.Title),
		)

		p, ok := providers.Lookup(regs, res.ProviderName)
		if !ok {
			log.Warn("selected document has no provider")
			c.fail(ctx, comp, res.ProviderName)
			continue
		}

		frag, err := c.fragment(ctx, p, res.Document, query)
		if err != nil {
			log.Warn("prompt fragment failed", zap.Error(err))
			c.fail(ctx, comp, res.ProviderName)
			continue
		}
		log.Debug("selected document", zap.Float64("score", res.Score))

		b.WriteString(strings.TrimSpace(frag.Text))
		b.WriteString(fragmentSeparator)
		examples = append(examples, frag.Examples...)
		comp.Selected = append(comp.Selected, res)
	}

	out := b.String()
	if includeExamples && len(examples) > 0 {
		b.Reset()
		b.WriteString(strings.TrimSpace(out))
		b.WriteString(fragmentSeparator)
		b.WriteString(ExamplesHeader)
		b.WriteString("\n\n")
		for _, ex := range examples {
			b.WriteString("Q:")
			b.WriteString(ex.Question)
			b.WriteString("\nA:")
			b.WriteString(ex.Answer)
			b.WriteString("\n\n")
		}
		out = b.String()
	}

	comp.Prompt = strings.TrimSpace(out)
	return comp
}

// fragment calls PromptFragment under the fragment timeout. The call runs in
// its own goroutine so a provider ignoring its context cannot hold the request.
func (c *Composer) fragment(ctx context.Context, p providers.ContextProvider, doc models.Document, query string) (*models.PromptFragment, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fragmentTimeout)
	defer cancel()

	type result struct {
		frag *models.PromptFragment
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("prompt fragment panicked: %v", r)}
			}
		}()
		f, err := p.PromptFragment(ctx, doc, query)
		done <- result{frag: f, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil && r.frag == nil {
			return nil, fmt.Errorf("provider returned no fragment")
		}
		return r.frag, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("prompt fragment: %w", ctx.Err())
	}
}

func (c *Composer) fail(ctx context.Context, comp *Composition, provider string) {
	comp.Failed++
	c.metrics.RecordFragmentFailure(ctx, provider)
}
