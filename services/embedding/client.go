package embedding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/upb/context-engine/config"
	"github.com/upb/context-engine/internal/observability"
	"github.com/upb/context-engine/services"
)

const (
	defaultTimeout = 10 * time.Second
	defaultBackoff = 200 * time.Millisecond

	maxErrorBody = 512
)

// Result is the outcome of an asynchronous embedding request
type Result struct {
	Embedding []float64
	Err       error
}

// Client calls an OpenAI-compatible embeddings endpoint
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration

	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *lru.Cache[string, []float64]
	metrics    observability.Metrics
	logger     *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMetrics sets the metrics recorder
func WithMetrics(m observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithBackoff sets the base delay between retries
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// NewClient creates a new embedding client
func NewClient(cfg config.EmbeddingConfig, opts ...Option) *Client {
	c := &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		backoff:    defaultBackoff,
		httpClient: &http.Client{},
		metrics:    &observability.NopMetrics{},
		logger:     zap.NewNop(),
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if cfg.CacheSize > 0 {
		// lru.New only fails for a non-positive size
		c.cache, _ = lru.New[string, []float64](cfg.CacheSize)
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the embedding model name
func (c *Client) Model() string {
	return c.model
}

// Embed returns the embedding vector for text. The whole call, including
// retries and rate limiting, is bounded by the configured timeout.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	key := c.cacheKey(text)
	if c.cache != nil {
		if vec, ok := c.cache.Get(key); ok {
			c.metrics.RecordEmbeddingCache(ctx, true)
			return vec, nil
		}
		c.metrics.RecordEmbeddingCache(ctx, false)
	}

	start := time.Now()
	vec, err := c.embed(ctx, text)
	if err != nil && services.IsCanceledError(err) {
		// The caller went away; the embedding service did nothing wrong
		c.metrics.RecordEmbedding(ctx, "embed", time.Since(start), nil)
		c.logger.Debug("embedding request canceled", zap.String("model", c.model), zap.Error(err))
		return nil, err
	}
	c.metrics.RecordEmbedding(ctx, "embed", time.Since(start), err)
	if err != nil {
		c.logger.Warn("embedding request failed",
			zap.String("model", c.model),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return nil, err
	}

	if c.cache != nil {
		c.cache.Add(key, vec)
	}
	return vec, nil
}

// EmbedAsync starts an embedding request and returns a channel that receives
// exactly one Result
func (c *Client) EmbedAsync(ctx context.Context, text string) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		vec, err := c.Embed(ctx, text)
		out <- Result{Embedding: vec, Err: err}
	}()
	return out
}

func (c *Client) embed(ctx context.Context, text string) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, c.classify(err)
		}
	}

	var vec []float64
	b := retry.WithMaxRetries(uint64(c.maxRetries), retry.NewExponential(c.backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		v, err := c.call(ctx, text)
		if err != nil {
			var re *retryableError
			if errors.As(err, &re) {
				c.logger.Debug("retrying embedding request", zap.Error(err))
				return retry.RetryableError(re.err)
			}
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, c.classify(err)
	}
	return vec, nil
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// retryableError marks failures worth another attempt: transport errors, 5xx and 429
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// statusError is a non-200 answer from the embedding service
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, e.body)
}

func (c *Client) call(ctx context.Context, text string) ([]float64, error) {
	reqBody, err := json.Marshal(embeddingRequest{Model: c.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &retryableError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		serr := &statusError{status: resp.StatusCode, body: string(bytes.TrimSpace(body))}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, &retryableError{err: serr}
		}
		return nil, serr
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, errors.New("response contained no embedding")
	}
	return parsed.Data[0].Embedding, nil
}

// classify maps a failure onto the embedding timeout, canceled or failure domain errors
func (c *Client) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return services.NewDomainError(services.ErrorTypeTimeout, "embedding request timed out", err).
			WithDetail("timeout", c.timeout.String())
	}
	if errors.Is(err, context.Canceled) {
		return services.NewDomainError(services.ErrorTypeCanceled, "embedding request canceled", err)
	}

	derr := services.NewDomainError(services.ErrorTypeExternal, "embedding request failed", err).
		WithDetail("model", c.model)
	var serr *statusError
	if errors.As(err, &serr) {
		derr.WithDetail("status", serr.status)
	}
	return derr
}

func (c *Client) cacheKey(text string) string {
	h := sha256.Sum256([]byte(c.model + "\x00" + text))
	return hex.EncodeToString(h[:])
}
