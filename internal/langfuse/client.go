// Package langfuse sends assembled traces to the Langfuse public
// ingestion API.
package langfuse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/user/langfuse-hook/internal/types"
)

const (
	DefaultBaseURL = "https://cloud.langfuse.com"
	ingestionPath  = "/api/public/ingestion"
	userAgent      = "opencode-langfuse-hook"
)

// Config holds the connection settings for a Client.
type Config struct {
	BaseURL   string
	PublicKey string
	SecretKey string
	// Timeout bounds one HTTP attempt. Zero means no timeout.
	Timeout     time.Duration
	MaxAttempts int
}

// Client implements types.Sink over the ingestion endpoint.
type Client struct {
	config     Config
	httpClient *http.Client
	retry      *RetryPolicy
	now        func() time.Time
}

var _ types.Sink = (*Client)(nil)

// New creates a Client with the given configuration.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	retry := DefaultRetryPolicy()
	if config.MaxAttempts > 0 {
		retry.MaxAttempts = config.MaxAttempts
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		retry:      retry,
		now:        time.Now,
	}
}

// Send posts the trace and all of its observations as one batch.
func (c *Client) Send(ctx context.Context, trace *types.Trace) error {
	body, err := json.Marshal(c.batch(trace))
	if err != nil {
		return fmt.Errorf("marshaling batch: %w", err)
	}
	return c.retry.Execute(ctx, func() error {
		return c.post(ctx, body)
	})
}

func (c *Client) post(ctx context.Context, body []byte) error {
	url := c.config.BaseURL + ingestionPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.SetBasicAuth(c.config.PublicKey, c.config.SecretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var result ingestionResponse
	if len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	if len(result.Errors) > 0 {
		return &IngestionError{Items: result.Errors}
	}
	return nil
}

type ingestionResponse struct {
	Successes []struct {
		ID     string `json:"id"`
		Status int    `json:"status"`
	} `json:"successes"`
	Errors []ItemError `json:"errors"`
}
