// Package cloudflare is a client for the Cloudflare REST API endpoints the
// ingestion pipeline uses: Queues (send, pull, ack) and Workers AI.
package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/assessment-ingest/internal/resilience"
)

const defaultBaseURL = "https://api.cloudflare.com/client/v4"

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRetry overrides the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// Client talks to one Cloudflare account.
type Client struct {
	accountID string
	apiToken  string
	baseURL   string
	http      *http.Client
	retry     resilience.RetryConfig
}

// NewClient creates a Cloudflare API client.
func NewClient(accountID, apiToken string, opts ...Option) *Client {
	c := &Client{
		accountID: accountID,
		apiToken:  apiToken,
		baseURL:   defaultBaseURL,
		http:      &http.Client{Timeout: 60 * time.Second},
		retry:     resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Configured reports whether account and token are set.
func (c *Client) Configured() bool {
	return c != nil && c.accountID != "" && c.apiToken != ""
}

// envelope is the standard v4 response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Errors  []apiError      `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// call POSTs payload to path and decodes the envelope's result into out.
func (c *Client) call(ctx context.Context, op, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrapf(err, "cloudflare: marshal %s", op)
	}

	retry := c.retry
	retry.OnRetry = resilience.RetryLogger("cloudflare", op)
	raw, err := resilience.DoVal(ctx, retry, func(ctx context.Context) ([]byte, error) {
		return c.post(ctx, c.baseURL+"/accounts/"+c.accountID+path, body)
	})
	if err != nil {
		return eris.Wrapf(err, "cloudflare: %s", op)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return eris.Wrapf(err, "cloudflare: decode %s", op)
	}
	if !env.Success {
		msgs := make([]string, 0, len(env.Errors))
		for _, e := range env.Errors {
			msgs = append(msgs, e.Message)
		}
		return eris.Errorf("cloudflare: %s: %s", op, strings.Join(msgs, "; "))
	}
	if out == nil || len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	return eris.Wrapf(json.Unmarshal(env.Result, out), "cloudflare: decode %s result", op)
}

func (c *Client) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "cloudflare: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "cloudflare: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "cloudflare: read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resilience.StatusError("cloudflare", resp, respBody)
	}
	return respBody, nil
}
