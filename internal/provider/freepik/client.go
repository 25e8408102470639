// Package freepik is the HTTP client for the asynchronous text-to-icon
// provider. Dispatch is fire-and-forget: the provider acknowledges with
// a task id and reports progress through the webhook callback.
package freepik

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"iconforge/internal/keypool"
)

const ProviderName = "freepik"

type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

type Client struct {
	httpClient *http.Client
	baseURL    string
}

func NewClient(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://api.freepik.com"
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Client{httpClient: client, baseURL: base}
}

// DispatchRequest is the text-to-icon submission payload.
type DispatchRequest struct {
	Prompt            string `json:"prompt"`
	WebhookURL        string `json:"webhook_url"`
	Format            string `json:"format"`
	Style             string `json:"style"`
	NumInferenceSteps int    `json:"num_inference_steps"`
	GuidanceScale     int    `json:"guidance_scale"`
}

type dispatchResponse struct {
	Data struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
	Message string `json:"message"`
}

// Dispatch submits a generation task and returns the provider task id.
// Upstream HTTP failures are reported as *keypool.StatusError so the
// caller can classify auth and quota problems.
func (c *Client) Dispatch(ctx context.Context, apiKey string, req DispatchRequest) (string, error) {
	if c == nil {
		return "", errors.New("freepik client not configured")
	}
	if strings.TrimSpace(apiKey) == "" {
		return "", errors.New("freepik: api key is required")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	endpoint := c.baseURL + "/v1/ai/text-to-icon"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-freepik-api-key", apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("freepik: dispatch: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("freepik: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &keypool.StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	var parsed dispatchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("freepik: decode response: %w", err)
	}
	if parsed.Data.TaskID == "" {
		return "", errors.New("freepik: response missing task_id")
	}
	return parsed.Data.TaskID, nil
}
