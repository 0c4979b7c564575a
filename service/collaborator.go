package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AnTengye/sigscan/config"
)

// maxResponseBytes bounds how much of a collaborator response is read.
const maxResponseBytes = 8 << 20

// endpointClient is the HTTP plumbing shared by both collaborators.
type endpointClient struct {
	stage      string
	setting    string
	config     *config.EndpointConfig
	httpClient *http.Client
}

// newEndpointClient bounds each request by timeout, or by
// config.DefaultCallTimeout when timeout is not positive.
func newEndpointClient(stage, setting string, cfg *config.EndpointConfig, timeout time.Duration) endpointClient {
	if timeout <= 0 {
		timeout = config.DefaultCallTimeout
	}
	return endpointClient{
		stage:   stage,
		setting: setting,
		config:  cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Ready reports a ConfigurationError when the endpoint URL is missing.
func (c *endpointClient) Ready() error {
	if c.config == nil || c.config.URL == "" {
		return &ConfigurationError{Setting: c.setting}
	}
	return nil
}

// postJSON sends body and returns the raw 2xx response body.
func (c *endpointClient) postJSON(ctx context.Context, body any) ([]byte, error) {
	if err := c.Ready(); err != nil {
		return nil, err
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(c.stage, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(c.stage, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &NetworkError{
			Stage:      c.stage,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(respBody, 256)),
		}
	}

	return respBody, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
