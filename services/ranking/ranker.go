// Package ranking scores provider documents against a query embedding.
package ranking

import (
	"context"
	"math"
	"runtime"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/upb/context-engine/models"
	"github.com/upb/context-engine/services/providers"
)

// Score returns the cosine similarity of a and b. The result is NaN when
// either vector has zero magnitude or the lengths differ.
func Score(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.NaN()
	}

	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return math.NaN()
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Ranker scores documents concurrently
type Ranker struct {
	workers int
	logger  *zap.Logger
}

// NewRanker creates a ranker. workers <= 0 uses GOMAXPROCS.
func NewRanker(workers int, logger *zap.Logger) *Ranker {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ranker{workers: workers, logger: logger}
}

// RankAll scores every document of every provider against the query and
// returns the results sorted by descending score. Equal scores keep
// enumeration order (provider order, then document order) and NaN scores
// sort last.
func (r *Ranker) RankAll(ctx context.Context, query []float64, regs []providers.Registration) ([]models.SimilarityResult, error) {
	var results []models.SimilarityResult
	for _, reg := range regs {
		for _, doc := range reg.Provider.Documents() {
			results = append(results, models.SimilarityResult{Document: doc, ProviderName: reg.Name})
		}
	}
	if len(results) == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i := range results {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i].Score = Score(query, results[i].Document.Embedding)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return greater(results[i].Score, results[j].Score)
	})

	if r.logger.Core().Enabled(zap.DebugLevel) {
		for _, res := range results {
			r.logger.Debug("document similarity",
				zap.String("provider", res.ProviderName),
				zap.String("title", res.Document.Title),
				zap.Float64("score", res.Score),
			)
		}
	}
	return results, nil
}

// greater orders a before b when a has the higher score; NaN is lowest
func greater(a, b float64) bool {
	switch {
	case math.IsNaN(a):
		return false
	case math.IsNaN(b):
		return true
	default:
		return a > b
	}
}
