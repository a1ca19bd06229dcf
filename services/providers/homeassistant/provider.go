// Package homeassistant exposes Home Assistant areas and the shopping list as
// context documents. Titles and live summaries are rendered by Home Assistant
// itself through its template API.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/upb/context-engine/config"
	"github.com/upb/context-engine/models"
	"github.com/upb/context-engine/services/providers"
)

const (
	// ShoppingListTitle is the title of the household shopping list document
	ShoppingListTitle = "Shopping list for the entire household"

	defaultTimeout = 30 * time.Second
	maxBodySize    = 4 << 20
)

type documentKind string

const (
	kindArea         documentKind = "area"
	kindShoppingList documentKind = "shopping_list"
)

// area is the payload of an area document
type area struct {
	ID   string       `json:"area_id"`
	Name string       `json:"area_name"`
	Kind documentKind `json:"type"`
}

type shoppingItem struct {
	Name     string `json:"name"`
	Complete bool   `json:"complete"`
}

// Provider implements providers.ContextProvider for a Home Assistant instance
type Provider struct {
	baseURL    string
	token      string
	ignored    []string
	embedder   providers.Embedder
	httpClient *http.Client
	logger     *zap.Logger

	docs providers.Snapshot
}

// Option configures a Provider
type Option func(*Provider)

// WithHTTPClient sets the client used to call Home Assistant
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithLogger sets the provider logger
func WithLogger(l *zap.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// New creates a Home Assistant provider
func New(cfg config.HomeAssistantConfig, embedder providers.Embedder, opts ...Option) (*Provider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("homeassistant base_url is required")
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("homeassistant access_token is required")
	}

	p := &Provider{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.AccessToken,
		ignored:    append(append([]string(nil), defaultIgnoredEntities...), cfg.IgnoreEntities...),
		embedder:   embedder,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Refresh lists the areas, renders a title for each and embeds the titles of
// areas that contain at least one entity. The shopping list is always published.
func (p *Provider) Refresh(ctx context.Context) error {
	areas, err := p.areas(ctx)
	if err != nil {
		return err
	}

	docs := make([]models.Document, 0, len(areas)+1)
	for _, a := range areas {
		title, err := p.renderTemplate(ctx, p.titleTemplate(a))
		if err != nil {
			return fmt.Errorf("failed to render title for area %s: %w", a.ID, err)
		}
		title = strings.TrimSpace(title)
		if len(strings.Split(title, "\n")) <= 1 {
			p.logger.Debug("skipping area without entities", zap.String("area_id", a.ID))
			continue
		}

		doc, err := providers.EmbedDocument(ctx, p.embedder, title, a)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}

	doc, err := providers.EmbedDocument(ctx, p.embedder, ShoppingListTitle, area{Kind: kindShoppingList})
	if err != nil {
		return err
	}
	docs = append(docs, doc)

	return p.docs.Publish(ctx, docs)
}

// areas renders the area listing and parses it as a JSON array
func (p *Provider) areas(ctx context.Context) ([]area, error) {
	out, err := p.renderTemplate(ctx, areasTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to list areas: %w", err)
	}

	body := strings.TrimSuffix(strings.TrimSpace(out), ",")
	var areas []area
	if err := json.Unmarshal([]byte("["+body+"]"), &areas); err != nil {
		return nil, fmt.Errorf("failed to parse areas: %w", err)
	}
	return areas, nil
}

// Documents returns the published documents
func (p *Provider) Documents() []models.Document {
	return p.docs.Load()
}

// PromptFragment renders the live state of an area or the shopping list
func (p *Provider) PromptFragment(ctx context.Context, doc models.Document, _ string) (*models.PromptFragment, error) {
	a, ok := doc.Payload.(area)
	if !ok {
		return nil, fmt.Errorf("document %q does not belong to this provider", doc.Title)
	}

	switch a.Kind {
	case kindShoppingList:
		list, err := p.shoppingList(ctx)
		if err != nil {
			return nil, err
		}
		return &models.PromptFragment{Text: "\n" + list + "\n"}, nil
	case kindArea:
		summary, err := p.renderTemplate(ctx, p.summaryTemplate(a))
		if err != nil {
			return nil, fmt.Errorf("failed to render summary for area %s: %w", a.ID, err)
		}
		text := fmt.Sprintf("\n%s (Area ID: %s):\n\n%s\n", a.Name, a.ID, strings.TrimSpace(summary))
		return &models.PromptFragment{Text: text}, nil
	default:
		return nil, fmt.Errorf("unknown document type %q", a.Kind)
	}
}

func (p *Provider) shoppingList(ctx context.Context) (string, error) {
	body, err := p.do(ctx, http.MethodGet, "/api/shopping_list", nil)
	if err != nil {
		return "", fmt.Errorf("failed to fetch shopping list: %w", err)
	}

	var items []shoppingItem
	if err := json.Unmarshal(body, &items); err != nil {
		return "", fmt.Errorf("failed to parse shopping list: %w", err)
	}

	var b strings.Builder
	b.WriteString("Shopping list contents:\n")
	for _, item := range items {
		fmt.Fprintf(&b, "- %s\n", item.Name)
	}
	return b.String(), nil
}

// renderTemplate renders a Jinja template on the Home Assistant side
func (p *Provider) renderTemplate(ctx context.Context, tmpl string) (string, error) {
	payload, err := json.Marshal(map[string]string{"template": tmpl})
	if err != nil {
		return "", err
	}
	body, err := p.do(ctx, http.MethodPost, "/api/template", payload)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (p *Provider) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %s returned status %d", method, path, resp.StatusCode)
	}
	return body, nil
}
