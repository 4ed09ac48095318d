package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"aura-gateway/internal/config"
	"aura-gateway/internal/models"

	"go.uber.org/zap"
)

const scoringPath = "/scoring"

// ScoringError covers every way a forward can fail: a non-2xx reply, a
// timeout or a transport error. StatusCode is zero when no response arrived.
type ScoringError struct {
	StatusCode int
	Err        error
}

func (e *ScoringError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("scoring engine rejected event: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("scoring engine unreachable: %v", e.Err)
}

func (e *ScoringError) Unwrap() error { return e.Err }

// Client relays telemetry to the scoring engine's intake.
type Client struct {
	endpoint   string
	token      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the underlying transport, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("scoring base url is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		endpoint: baseURL + scoringPath,
		timeout:  timeout,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger.Named("scoring"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewClientFromConfig builds a client from the scoring section of cfg.
func NewClientFromConfig(cfg *config.Config, logger *zap.Logger) (*Client, error) {
	return NewClient(cfg.Scoring.BaseURL, cfg.Scoring.Timeout, logger, WithToken(cfg.Scoring.APIToken))
}

func (c *Client) Endpoint() string { return c.endpoint }

// Forward posts the event verbatim. Any 2xx means the scoring engine has
// accepted it; the alert arrives later through alert ingestion.
func (c *Client) Forward(ctx context.Context, event models.TelemetryEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return &ScoringError{Err: fmt.Errorf("encode event: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return &ScoringError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ScoringError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &ScoringError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(snippet))),
		}
	}

	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return nil
}
