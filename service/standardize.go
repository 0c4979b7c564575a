package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/AnTengye/sigscan/config"
	"github.com/AnTengye/sigscan/model"
	"github.com/AnTengye/sigscan/pkg/logger"
)

// StandardizeRequest is the body sent to the standardization service.
type StandardizeRequest struct {
	Text string `json:"text"`
}

// StandardizeResponse is the standardization service reply. Text is kept raw
// because its shape changed over time (see decodeMedications).
type StandardizeResponse struct {
	Success       *bool           `json:"success,omitempty"`
	Text          json.RawMessage `json:"text"`
	NoMedications bool            `json:"noMedications,omitempty"`
	Status        string          `json:"status,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// StandardizationClient calls the SIG standardization collaborator.
type StandardizationClient struct {
	endpointClient
}

func NewStandardizationClient(cfg *config.EndpointConfig, timeout time.Duration) *StandardizationClient {
	return &StandardizationClient{
		endpointClient: newEndpointClient(StageStandardize, "STANDARDIZE_ENDPOINT_URL", cfg, timeout),
	}
}

// Standardize turns extracted text into medication records. A reply with no
// usable records yields an EmptyResultError wrapping ErrNoMedications.
func (c *StandardizationClient) Standardize(ctx context.Context, text string) (*model.StandardizedResult, error) {
	body, err := c.postJSON(ctx, StandardizeRequest{Text: text})
	if err != nil {
		return nil, err
	}

	var resp StandardizeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse standardize response: %w, body: %s", err, truncate(body, 256))
	}

	if resp.NoMedications {
		return nil, &EmptyResultError{Stage: StageStandardize, Err: ErrNoMedications}
	}
	if resp.Status == "error" || (resp.Success != nil && !*resp.Success) {
		return nil, &NetworkError{Stage: StageStandardize, Err: fmt.Errorf("standardize service error: %s", resp.Error)}
	}

	records, err := decodeMedications(ctx, resp.Text)
	if err != nil {
		return nil, err
	}

	valid := records[:0]
	for _, r := range records {
		if !r.IsEmpty() {
			valid = append(valid, r)
		}
	}
	if len(valid) == 0 {
		return nil, &EmptyResultError{Stage: StageStandardize, Err: ErrNoMedications}
	}

	return &model.StandardizedResult{Medications: valid}, nil
}

// decodeMedications accepts the canonical {"medications": [...]} object, the
// older flat array, and either of those encoded as a JSON string.
func decodeMedications(ctx context.Context, raw json.RawMessage) ([]model.MedicationRecord, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	switch raw[0] {
	case '{':
		var result model.StandardizedResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("invalid standardize payload: %w", err)
		}
		return result.Medications, nil
	case '[':
		logger.Warn(ctx, "standardize service returned legacy array payload")
		var records []model.MedicationRecord
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("invalid standardize payload: %w", err)
		}
		return records, nil
	case '"':
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("invalid standardize payload: %w", err)
		}
		if inner == "" {
			return nil, nil
		}
		return decodeMedications(ctx, json.RawMessage(inner))
	default:
		return nil, fmt.Errorf("invalid standardize payload: unexpected %q", truncate(raw, 32))
	}
}

// ParseStandardized decodes a stored standardized text back into records.
func ParseStandardized(ctx context.Context, text string) (*model.StandardizedResult, error) {
	records, err := decodeMedications(ctx, json.RawMessage(text))
	if err != nil {
		return nil, err
	}
	return &model.StandardizedResult{Medications: records}, nil
}
