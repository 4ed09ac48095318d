package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"aura-gateway/internal/models"
	"aura-gateway/internal/util"
)

// StatusError is returned when the gateway answers anything but 202.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Body)
}

// Client posts telemetry to the gateway the way an endpoint agent does.
type Client struct {
	url        string
	username   string
	password   string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(gatewayURL, username, password string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("gateway url is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		url:        gatewayURL,
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("agent_client"),
	}, nil
}

// SendTelemetry posts one event and succeeds only on 202 Accepted.
func (c *Client) SendTelemetry(ctx context.Context, event models.TelemetryEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}
	io.Copy(io.Discard, resp.Body)

	c.logger.Debug("Telemetry sent",
		util.String("event_id", event.EventID),
		util.String("event_type", event.EventType),
	)
	return nil
}
