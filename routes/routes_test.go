package routes_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/upb/context-engine/app"
	"github.com/upb/context-engine/config"
	"github.com/upb/context-engine/routes"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	embed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"embedding": []float64{0, 1}}},
		})
	}))
	t.Cleanup(embed.Close)

	return &config.Config{
		Environment: "test",
		Embedding: config.EmbeddingConfig{
			BaseURL:   embed.URL,
			Model:     "test-embedding",
			Timeout:   2 * time.Second,
			CacheSize: 16,
		},
		Engine: config.EngineConfig{
			NumberOfResults:    3,
			IncludeExamples:    true,
			RefreshInterval:    time.Hour,
			RefreshTimeout:     2 * time.Second,
			RefreshConcurrency: 2,
			FragmentTimeout:    time.Second,
		},
		Auth:          config.AuthConfig{AdminTenants: []string{"ops"}},
		Observability: config.ObservabilityConfig{LogLevel: "debug", MetricsEnabled: true},
		Providers: &config.ProvidersFile{
			Providers: []config.ProviderConfig{{
				Name: "house",
				Kind: config.ProviderKindStatic,
				Static: &config.StaticConfig{Documents: []config.StaticDocument{{
					Title: "House rules",
					Text:  "Shoes off at the door.",
					Examples: []config.StaticExample{
						{Question: "Can I wear shoes?", Answer: "Please take them off."},
					},
				}}},
			}},
			Tenants: []config.TenantConfig{
				{ID: "alice", Token: "alice-token"},
				{ID: "ops", Token: "ops-token"},
			},
		},
	}
}

func newServer(t *testing.T, cfg *config.Config) (*httptest.Server, *app.Dependencies) {
	t.Helper()
	ctx := context.Background()

	deps, err := app.NewDependencies(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close(ctx) })

	ts := httptest.NewServer(routes.SetupRoutes(deps))
	t.Cleanup(ts.Close)
	return ts, deps
}

func do(t *testing.T, method, url, token, body string) (*http.Response, map[string]interface{}) {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]interface{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func TestHealthEndpoints(t *testing.T) {
	ts, deps := newServer(t, testConfig(t))

	t.Run("health check returns healthy", func(t *testing.T) {
		resp, body := do(t, http.MethodGet, ts.URL+"/healthz", "", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		data := body["data"].(map[string]interface{})
		assert.Equal(t, "healthy", data["status"])
	})

	t.Run("not ready before the first refresh", func(t *testing.T) {
		resp, body := do(t, http.MethodGet, ts.URL+"/readyz", "", "")
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		data := body["data"].(map[string]interface{})
		assert.Equal(t, "pending", data["checks"].(map[string]interface{})["refresh"])
	})

	t.Run("ready after a refresh", func(t *testing.T) {
		deps.Scheduler.RefreshNow(context.Background())

		resp, body := do(t, http.MethodGet, ts.URL+"/readyz", "", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		data := body["data"].(map[string]interface{})
		assert.Equal(t, "healthy", data["status"])
		assert.NotNil(t, data["last_refresh"])
	})

	t.Run("metrics are exposed", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(raw), "context_engine_provider_refresh_total")
	})
}

func TestAuthentication(t *testing.T) {
	ts, _ := newServer(t, testConfig(t))

	testCases := []struct {
		name           string
		method         string
		path           string
		token          string
		expectedStatus int
	}{
		{"legacy prompt without token", http.MethodPost, "/prompt", "", http.StatusUnauthorized},
		{"legacy update without token", http.MethodPost, "/update", "", http.StatusUnauthorized},
		{"prompt with unknown token", http.MethodPost, "/api/v1/prompt", "nope", http.StatusUnauthorized},
		{"providers without token", http.MethodGet, "/api/v1/providers", "", http.StatusUnauthorized},
		{"refresh without token", http.MethodPost, "/api/v1/refresh", "", http.StatusUnauthorized},
		{"runs as non-admin", http.MethodGet, "/api/v1/refresh/runs", "alice-token", http.StatusForbidden},
		{"runs as admin", http.MethodGet, "/api/v1/refresh/runs", "ops-token", http.StatusOK},
		{"providers as tenant", http.MethodGet, "/api/v1/providers", "alice-token", http.StatusOK},
		{"other tenant as non-admin", http.MethodGet, "/api/v1/providers?tenant_id=ops", "alice-token", http.StatusForbidden},
		{"other tenant as admin", http.MethodGet, "/api/v1/providers?tenant_id=alice", "ops-token", http.StatusOK},
		{"not found", http.MethodGet, "/api/v1/nonexistent", "alice-token", http.StatusNotFound},
		{"wrong method", http.MethodGet, "/prompt", "alice-token", http.StatusMethodNotAllowed},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp, _ := do(t, tc.method, ts.URL+tc.path, tc.token, "")
			assert.Equal(t, tc.expectedStatus, resp.StatusCode, "endpoint: %s %s", tc.method, tc.path)
		})
	}
}

func TestLegacyEndpoints(t *testing.T) {
	ts, _ := newServer(t, testConfig(t))

	resp, body := do(t, http.MethodPost, ts.URL+"/update", "alice-token", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	resp, body = do(t, http.MethodPost, ts.URL+"/prompt", "alice-token", `{"user_prompt":"can I keep my shoes on?"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t,
		"Shoes off at the door.\n\n\n"+
			"Find examples below. Reword the answers to fit your personality. Prompts are given as Q: and the example answers are given as A:\n\n"+
			"Q:Can I wear shoes?\nA:Please take them off.",
		body["prompt"])

	resp, _ = do(t, http.MethodPost, ts.URL+"/prompt", "alice-token", `{"user_prompt":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIEndpoints(t *testing.T) {
	ts, _ := newServer(t, testConfig(t))

	resp, body := do(t, http.MethodPost, ts.URL+"/api/v1/refresh", "alice-token", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := body["data"].(map[string]interface{})
	assert.Equal(t, true, report["success"])
	assert.Equal(t, "manual", report["trigger"])
	assert.Len(t, report["results"], 1)

	resp, body = do(t, http.MethodPost, ts.URL+"/api/v1/prompt", "alice-token", `{"query":"shoes?"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]interface{})
	assert.Contains(t, data["prompt"], "Shoes off at the door.")
	assert.Equal(t, []interface{}{"house"}, data["providers"])
	selected := data["selected"].([]interface{})
	require.Len(t, selected, 1)
	assert.Equal(t, "House rules", selected[0].(map[string]interface{})["title"])

	resp, body = do(t, http.MethodGet, ts.URL+"/api/v1/providers", "alice-token", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := body["data"].([]interface{})
	require.Len(t, list, 1)
	assert.Equal(t, float64(1), list[0].(map[string]interface{})["documents"])

	require.Eventually(t, func() bool {
		resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/refresh/runs?limit=5", "ops-token", "")
		if resp.StatusCode != http.StatusOK {
			return false
		}
		runs, _ := body["data"].([]interface{})
		return len(runs) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAnonymousAccess(t *testing.T) {
	cfg := testConfig(t)
	cfg.Providers.Tenants = nil
	ts, _ := newServer(t, cfg)

	resp, _ := do(t, http.MethodGet, ts.URL+"/api/v1/providers", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Without authentication every caller may use admin routes
	resp, _ = do(t, http.MethodGet, ts.URL+"/api/v1/refresh/runs", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORSMiddleware(t *testing.T) {
	ts, _ := newServer(t, testConfig(t))

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/prompt", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
