// Package generation calls the external ad-content generation service. The
// server never interprets variant contents beyond counting and storing them.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gorm.io/datatypes"
)

// ErrNoCredits is returned when the caller has no generation credits left.
// It is a distinct, redirect-worthy condition, not a generic failure.
var ErrNoCredits = errors.New("no generation credits")

// Request carries the wizard data the generator needs.
type Request struct {
	BusinessIdea     datatypes.JSON `json:"businessIdea"`
	TargetAudience   datatypes.JSON `json:"targetAudience"`
	AudienceAnalysis datatypes.JSON `json:"audienceAnalysis,omitempty"`
	Hooks            datatypes.JSON `json:"hooks,omitempty"`
	Platform         string         `json:"platform,omitempty"`
}

// Client produces ad variants for wizard data.
type Client interface {
	Generate(ctx context.Context, req Request) ([]json.RawMessage, error)
}

// HTTPClient talks to the generation service over JSON HTTP.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client for the service at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Generate posts the request and decodes the variant list.
func (c *HTTPClient) Generate(ctx context.Context, req Request) ([]json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		return nil, ErrNoCredits
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("generation service returned status %d", resp.StatusCode)
	}

	var out struct {
		Variants []json.RawMessage `json:"variants"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode generation response: %w", err)
	}
	return out.Variants, nil
}

var _ Client = (*HTTPClient)(nil)
