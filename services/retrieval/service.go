package retrieval

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/upb/context-engine/internal/observability"
	"github.com/upb/context-engine/services"
	"github.com/upb/context-engine/services/prompt"
	"github.com/upb/context-engine/services/providers"
	"github.com/upb/context-engine/services/ranking"
)

// Options holds the query settings
type Options struct {
	NumberOfResults int
	IncludeExamples bool
}

// RetrievalService turns a query into a context prompt: resolve providers,
// embed the query, rank documents and compose the top fragments
type RetrievalService struct {
	registry *providers.Registry
	embedder providers.Embedder
	ranker   *ranking.Ranker
	composer *prompt.Composer
	opts     Options
	metrics  observability.Metrics
	logger   *zap.Logger
}

// NewRetrievalService creates a new retrieval service with all dependencies
func NewRetrievalService(
	registry *providers.Registry,
	embedder providers.Embedder,
	ranker *ranking.Ranker,
	composer *prompt.Composer,
	opts Options,
	metrics observability.Metrics,
	logger *zap.Logger,
) *RetrievalService {
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetrievalService{
		registry: registry,
		embedder: embedder,
		ranker:   ranker,
		composer: composer,
		opts:     opts,
		metrics:  metrics,
		logger:   logger,
	}
}

// BuildPrompt runs the query pipeline. A query that matches nothing yields an
// empty prompt, not an error.
func (s *RetrievalService) BuildPrompt(ctx context.Context, req *PromptRequest) (resp *PromptResponse, err error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordPromptRequest(ctx, observability.RequestLabels{
			Tenant: req.TenantID,
			Status: statusLabel(err),
		}, time.Since(start))
	}()

	log := s.logger.With(zap.String("request_id", req.RequestID), zap.String("tenant", req.TenantID))

	// Step 1: validate
	if strings.TrimSpace(req.Query) == "" {
		return nil, services.ErrEmptyQuery
	}

	// Step 2: resolve providers
	regs := s.registry.Resolve(req.TenantID)
	if len(regs) == 0 {
		return nil, services.ErrNoProviders
	}
	log.Debug("providers resolved", zap.Int("count", len(regs)))

	// Step 3: embed the query
	vec, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		switch {
		case services.GetErrorType(err) != "":
		case errors.Is(err, context.Canceled):
			err = services.WrapError(services.ErrorTypeCanceled, "embedding request canceled", err)
		default:
			err = services.WrapExternal("embedding request failed", err)
		}
		log.Warn("query embedding failed", zap.Error(err))
		return nil, err
	}

	// Step 4: rank
	ranked, err := s.ranker.RankAll(ctx, vec, regs)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, services.WrapError(services.ErrorTypeCanceled, "ranking interrupted", err)
		}
		if ctx.Err() != nil {
			return nil, services.WrapTimeout("ranking interrupted", err)
		}
		return nil, services.WrapInternal("ranking failed", err)
	}

	// Step 5: compose
	comp := s.composer.Compose(ctx, req.Query, ranked, s.opts.NumberOfResults, s.opts.IncludeExamples, regs)

	resp = &PromptResponse{
		Prompt:    comp.Prompt,
		Providers: make([]string, 0, len(regs)),
		Selected:  make([]SelectedDocument, 0, len(comp.Selected)),
	}
	for _, reg := range regs {
		resp.Providers = append(resp.Providers, reg.Name)
	}
	for _, res := range comp.Selected {
		score := res.Score
		if math.IsNaN(score) {
			score = 0
		}
		resp.Selected = append(resp.Selected, SelectedDocument{
			Provider: res.ProviderName,
			Title:    res.Document.Title,
			Score:    score,
		})
	}

	log.Info("prompt composed",
		zap.Int("documents", len(ranked)),
		zap.Int("selected", len(resp.Selected)),
		zap.Int("fragment_failures", comp.Failed),
		zap.Int("prompt_length", len(resp.Prompt)),
		zap.Duration("duration", time.Since(start)),
	)
	return resp, nil
}

// Providers lists the effective providers for a tenant with their document counts
func (s *RetrievalService) Providers(tenantID string) []ProviderStatus {
	regs := s.registry.Resolve(tenantID)
	out := make([]ProviderStatus, 0, len(regs))
	for _, reg := range regs {
		scope := "global"
		if reg.Tenant != "" {
			scope = "tenant"
		}
		out = append(out, ProviderStatus{
			Name:      reg.Name,
			Scope:     scope,
			Documents: len(reg.Provider.Documents()),
		})
	}
	return out
}

func statusLabel(err error) string {
	if err == nil {
		return "success"
	}
	if t := services.GetErrorType(err); t != "" {
		return string(t)
	}
	return "error"
}
