// Package weather serves current conditions and the daily forecast from an
// Environment Canada citypage feed.
package weather

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/upb/context-engine/config"
	"github.com/upb/context-engine/models"
	"github.com/upb/context-engine/services/providers"
)

const (
	// DocumentTitle is the single document this provider publishes
	DocumentTitle = "The current weather conditions and weather forecast for the next week."

	defaultTimeout = 30 * time.Second
)

// Provider implements providers.ContextProvider for weather data
type Provider struct {
	url        string
	embedder   providers.Embedder
	httpClient *http.Client

	docs providers.Snapshot
	data atomic.Pointer[siteData]
}

// Option configures a Provider
type Option func(*Provider)

// WithHTTPClient sets the client used to download the feed
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// New creates a weather provider
func New(cfg config.WeatherConfig, embedder providers.Embedder, opts ...Option) (*Provider, error) {
	url, err := cfg.FeedURL()
	if err != nil {
		return nil, err
	}
	p := &Provider{
		url:        url,
		embedder:   embedder,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Refresh downloads and parses the feed
func (p *Provider) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create weather request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch weather: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to fetch weather: status %d", resp.StatusCode)
	}

	data, err := decodeSiteData(resp.Body)
	if err != nil {
		return err
	}

	doc, err := providers.EmbedDocument(ctx, p.embedder, DocumentTitle, nil)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("weather refresh abandoned: %w", err)
	}
	p.data.Store(data)
	return p.docs.Publish(ctx, []models.Document{doc})
}

// Documents returns the published documents
func (p *Provider) Documents() []models.Document {
	return p.docs.Load()
}

// PromptFragment renders current conditions followed by each forecast period
func (p *Provider) PromptFragment(_ context.Context, _ models.Document, _ string) (*models.PromptFragment, error) {
	data := p.data.Load()
	if data == nil {
		return nil, fmt.Errorf("no weather data available")
	}

	var b strings.Builder
	b.WriteString("Current weather conditions: ")
	b.WriteString(conditionsSummary(data))
	for _, f := range data.Forecasts {
		fmt.Fprintf(&b, "\nWeather forecast for %s: %s Expected temperature: %s",
			f.Period.Label(), strings.TrimSpace(f.TextSummary), strings.TrimSpace(f.Temperature.Value))
	}
	return &models.PromptFragment{Text: b.String()}, nil
}

// conditionsSummary leads with the first forecast text and lists the
// temperature, condition and wind readings that are present
func conditionsSummary(data *siteData) string {
	cc := data.CurrentConditions
	readings := []struct {
		label string
		value string
	}{
		{"Temperature", cc.Temperature.String()},
		{"Wind Chill", cc.WindChill.String()},
		{"Condition", strings.TrimSpace(cc.Condition)},
		{"Wind Speed", cc.WindSpeed.String()},
		{"Wind Gust", cc.WindGust.String()},
	}

	parts := make([]string, 0, len(readings))
	for _, r := range readings {
		if r.value != "" {
			parts = append(parts, r.label+": "+r.value)
		}
	}

	lead := ""
	if len(data.Forecasts) > 0 {
		lead = strings.TrimSpace(data.Forecasts[0].TextSummary)
	}
	return lead + " " + strings.Join(parts, ", ") + ". "
}
