package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/AnTengye/sigscan/config"
)

// ExtractRequest is the body sent to the extraction service.
type ExtractRequest struct {
	Image string `json:"image"`
}

// ExtractResponse is the extraction service reply. Status and Error are set
// by services that report failures in the body.
type ExtractResponse struct {
	Text   string `json:"text"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ExtractionClient calls the OCR collaborator.
type ExtractionClient struct {
	endpointClient
}

func NewExtractionClient(cfg *config.EndpointConfig, timeout time.Duration) *ExtractionClient {
	return &ExtractionClient{
		endpointClient: newEndpointClient(StageExtract, "EXTRACT_ENDPOINT_URL", cfg, timeout),
	}
}

// Extract sends the data-URI encoded image and returns the recognized text.
// Whitespace-only text yields an EmptyResultError wrapping ErrNoText.
func (c *ExtractionClient) Extract(ctx context.Context, imageDataURI string) (string, error) {
	body, err := c.postJSON(ctx, ExtractRequest{Image: imageDataURI})
	if err != nil {
		return "", err
	}

	var result ExtractResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse extract response: %w, body: %s", err, truncate(body, 256))
	}

	if result.Status == "error" {
		return "", &NetworkError{Stage: StageExtract, Err: fmt.Errorf("extract service error: %s", result.Error)}
	}

	if strings.TrimSpace(result.Text) == "" {
		return "", &EmptyResultError{Stage: StageExtract, Err: ErrNoText}
	}

	return result.Text, nil
}
