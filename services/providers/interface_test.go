package providers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/context-engine/models"
)

type embedFunc func(ctx context.Context, text string) ([]float64, error)

func (f embedFunc) Embed(ctx context.Context, text string) ([]float64, error) {
	return f(ctx, text)
}

func TestSnapshot(t *testing.T) {
	var s Snapshot
	assert.Nil(t, s.Load())
	assert.Equal(t, 0, s.Len())

	docs := []models.Document{
		models.NewDocument("a", []float64{1, 0}, nil),
		models.NewDocument("b", []float64{0, 1}, nil),
	}
	s.Store(docs)
	require.Equal(t, 2, s.Len())

	// Store copies, so later changes to the caller's slice are not visible
	docs[0].Title = "changed"
	assert.Equal(t, "a", s.Load()[0].Title)

	s.Store(nil)
	assert.Empty(t, s.Load())
}

func TestSnapshot_ConcurrentReaders(t *testing.T) {
	var s Snapshot
	s.Store([]models.Document{models.NewDocument("v0", nil, nil)})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				docs := s.Load()
				assert.Len(t, docs, 1)
			}
		}()
	}
	for j := 0; j < 200; j++ {
		s.Store([]models.Document{models.NewDocument("v", nil, j)})
	}
	wg.Wait()
}

func TestEmbedDocument(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		embedder := embedFunc(func(_ context.Context, text string) ([]float64, error) {
			return []float64{float64(len(text))}, nil
		})

		doc, err := EmbedDocument(context.Background(), embedder, "weather", "payload")
		require.NoError(t, err)
		assert.Equal(t, "weather", doc.Title)
		assert.Equal(t, []float64{7}, doc.Embedding)
		assert.Equal(t, "payload", doc.Payload)
	})

	t.Run("embedder error", func(t *testing.T) {
		boom := errors.New("boom")
		embedder := embedFunc(func(context.Context, string) ([]float64, error) {
			return nil, boom
		})

		_, err := EmbedDocument(context.Background(), embedder, "weather", nil)
		assert.ErrorIs(t, err, boom)
	})
}

func TestSnapshot_Publish(t *testing.T) {
	var s Snapshot
	s.Store([]models.Document{models.NewDocument("old", nil, nil)})

	require.NoError(t, s.Publish(context.Background(), []models.Document{models.NewDocument("new", nil, nil)}))
	assert.Equal(t, "new", s.Load()[0].Title)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	err := s.Publish(ctx, []models.Document{models.NewDocument("late", nil, nil)})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "new", s.Load()[0].Title)
}
