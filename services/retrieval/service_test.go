package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/upb/context-engine/models"
	"github.com/upb/context-engine/services"
	"github.com/upb/context-engine/services/prompt"
	"github.com/upb/context-engine/services/providers"
	"github.com/upb/context-engine/services/providers/providerstest"
	"github.com/upb/context-engine/services/ranking"
)

type mockEmbedder struct {
	mock.Mock
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	args := m.Called(ctx, text)
	if v := args.Get(0); v != nil {
		return v.([]float64), args.Error(1)
	}
	return nil, args.Error(1)
}

func newService(registry *providers.Registry, embedder providers.Embedder, opts Options) *RetrievalService {
	return NewRetrievalService(
		registry,
		embedder,
		ranking.NewRanker(2, nil),
		prompt.NewComposer(time.Second, nil, nil),
		opts,
		nil,
		nil,
	)
}

// homeRegistry has a global calendar and weather provider plus a tenant
// override of the weather provider for "alice".
func homeRegistry(t *testing.T) *providers.Registry {
	t.Helper()

	calendar := providerstest.New(providerstest.Doc("calendar", 1, 0)).
		WithFragment("calendar", "Calendar events for the next week:\n- Dentist at 03:00 PM on Tuesday, March 05")
	weather := providerstest.New(providerstest.Doc("weather", 0, 1)).
		WithFragment("weather", "Current weather conditions: sunny")
	aliceWeather := providerstest.New(providerstest.Doc("weather", 0, 1)).
		WithFragment("weather", "Alice's weather station: raining", models.Example{Question: "umbrella?", Answer: "yes"})

	r := providers.NewRegistry()
	require.NoError(t, r.Register(providers.GlobalScope, "calendar", calendar))
	require.NoError(t, r.Register(providers.GlobalScope, "weather", weather))
	require.NoError(t, r.Register(providers.TenantScope("alice"), "weather", aliceWeather))
	return r
}

func TestNewRetrievalService(t *testing.T) {
	s := newService(providers.NewRegistry(), new(mockEmbedder), Options{NumberOfResults: 1})

	assert.NotNil(t, s)
	assert.NotNil(t, s.metrics)
	assert.NotNil(t, s.logger)
}

func TestBuildPrompt(t *testing.T) {
	tests := []struct {
		name          string
		req           PromptRequest
		queryVec      []float64
		opts          Options
		wantPrompt    string
		wantProviders []string
		wantSelected  []string
	}{
		{
			name:          "calendar question selects calendar",
			req:           PromptRequest{Query: "when is my dentist appointment?"},
			queryVec:      []float64{0.9, 0.1},
			opts:          Options{NumberOfResults: 1},
			wantPrompt:    "Calendar events for the next week:\n- Dentist at 03:00 PM on Tuesday, March 05",
			wantProviders: []string{"calendar", "weather"},
			wantSelected:  []string{"calendar"},
		},
		{
			name:          "weather question selects weather",
			req:           PromptRequest{Query: "do I need a jacket?"},
			queryVec:      []float64{0.1, 0.9},
			opts:          Options{NumberOfResults: 1},
			wantPrompt:    "Current weather conditions: sunny",
			wantProviders: []string{"calendar", "weather"},
			wantSelected:  []string{"weather"},
		},
		{
			name:          "tenant override with examples",
			req:           PromptRequest{Query: "will it rain?", TenantID: "alice"},
			queryVec:      []float64{0.1, 0.9},
			opts:          Options{NumberOfResults: 2, IncludeExamples: true},
			wantPrompt:    "Alice's weather station: raining\n\n\nCalendar events for the next week:\n- Dentist at 03:00 PM on Tuesday, March 05\n\n\n" + prompt.ExamplesHeader + "\n\nQ:umbrella?\nA:yes",
			wantProviders: []string{"weather", "calendar"},
			wantSelected:  []string{"weather", "calendar"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			embedder := new(mockEmbedder)
			embedder.On("Embed", mock.Anything, tt.req.Query).Return(tt.queryVec, nil)

			s := newService(homeRegistry(t), embedder, tt.opts)
			resp, err := s.BuildPrompt(context.Background(), &tt.req)

			require.NoError(t, err)
			assert.Equal(t, tt.wantPrompt, resp.Prompt)
			assert.Equal(t, tt.wantProviders, resp.Providers)

			var selected []string
			for _, sd := range resp.Selected {
				selected = append(selected, sd.Provider)
			}
			assert.Equal(t, tt.wantSelected, selected)
			embedder.AssertExpectations(t)
		})
	}
}

func TestBuildPrompt_Errors(t *testing.T) {
	tests := []struct {
		name     string
		registry func(t *testing.T) *providers.Registry
		query    string
		embedErr error
		check    func(*testing.T, error)
	}{
		{
			name:     "empty query",
			registry: homeRegistry,
			query:    "   ",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, services.ErrEmptyQuery)
				assert.True(t, services.IsValidationError(err))
			},
		},
		{
			name:     "no providers",
			registry: func(*testing.T) *providers.Registry { return providers.NewRegistry() },
			query:    "hello",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, services.ErrNoProviders)
			},
		},
		{
			name:     "embedding timeout passes through",
			registry: homeRegistry,
			query:    "hello",
			embedErr: services.WrapTimeout("embedding request timed out", context.DeadlineExceeded),
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, services.ErrEmbeddingTimeout)
			},
		},
		{
			name:     "caller cancellation is not an upstream failure",
			registry: homeRegistry,
			query:    "hello",
			embedErr: context.Canceled,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, services.ErrEmbeddingCanceled)
				assert.False(t, services.IsExternalError(err))
				assert.Equal(t, "canceled", statusLabel(err))
			},
		},
		{
			name:     "untyped embedding error becomes external",
			registry: homeRegistry,
			query:    "hello",
			embedErr: errors.New("dial tcp: connection refused"),
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, services.ErrEmbeddingFailed)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			embedder := new(mockEmbedder)
			embedder.On("Embed", mock.Anything, mock.Anything).Return(nil, tt.embedErr)

			s := newService(tt.registry(t), embedder, Options{NumberOfResults: 1})
			resp, err := s.BuildPrompt(context.Background(), &PromptRequest{Query: tt.query})

			require.Error(t, err)
			assert.Nil(t, resp)
			tt.check(t, err)
		})
	}
}

func TestBuildPrompt_NoDocumentsYieldsEmptyPrompt(t *testing.T) {
	r := providers.NewRegistry()
	require.NoError(t, r.Register(providers.GlobalScope, "empty", providerstest.New()))

	embedder := new(mockEmbedder)
	embedder.On("Embed", mock.Anything, "hello").Return([]float64{1, 0}, nil)

	resp, err := newService(r, embedder, Options{NumberOfResults: 3}).
		BuildPrompt(context.Background(), &PromptRequest{Query: "hello"})

	require.NoError(t, err)
	assert.Equal(t, "", resp.Prompt)
	assert.Empty(t, resp.Selected)
}

func TestProviders(t *testing.T) {
	s := newService(homeRegistry(t), new(mockEmbedder), Options{NumberOfResults: 1})

	assert.Equal(t, []ProviderStatus{
		{Name: "calendar", Scope: "global", Documents: 1},
		{Name: "weather", Scope: "global", Documents: 1},
	}, s.Providers(""))

	alice := s.Providers("alice")
	require.Len(t, alice, 2)
	assert.Equal(t, ProviderStatus{Name: "weather", Scope: "tenant", Documents: 1}, alice[0])
}
