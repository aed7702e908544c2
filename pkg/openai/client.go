// Package openai is a minimal client for the OpenAI chat completions API
// with vision and file inputs.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sells-group/assessment-ingest/internal/resilience"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client performs chat completion calls.
type Client interface {
	ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ChatRequest is our own request type for chat/completions.
type ChatRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
	// JSONSchema, when set, requests a json_schema response format.
	JSONSchema *JSONSchema
}

// Message is one chat turn. Attachments are sent as image_url or file
// content parts ahead of the text.
type Message struct {
	Role        string
	Text        string
	Attachments []Attachment
}

// Attachment is inline document bytes.
type Attachment struct {
	MIMEType string
	Filename string
	Data     []byte
}

// JSONSchema names a structured output contract.
type JSONSchema struct {
	Name   string
	Schema map[string]any
	Strict bool
}

// ChatResponse holds the first choice and usage.
type ChatResponse struct {
	Model        string
	Content      string
	FinishReason string
	Usage        TokenUsage
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetry overrides the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewClient creates an OpenAI API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	c.retry.OnRetry = resilience.RetryLogger("openai", "chat_completion")
	return c
}

type wireRequest struct {
	Model          string         `json:"model"`
	Messages       []wireMessage  `json:"messages"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	Temperature    *float64       `json:"temperature,omitempty"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type wireResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage TokenUsage `json:"usage"`
}

func (c *httpClient) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, err := json.Marshal(toWire(req))
	if err != nil {
		return nil, eris.Wrap(err, "openai: marshal request")
	}

	raw, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.post(ctx, c.baseURL+"/chat/completions", body)
	})
	if err != nil {
		return nil, err
	}

	var wr wireResponse
	if err := json.Unmarshal(raw, &wr); err != nil {
		return nil, eris.Wrap(err, "openai: unmarshal response")
	}
	if len(wr.Choices) == 0 {
		return nil, eris.New("openai: no choices in response")
	}
	return &ChatResponse{
		Model:        wr.Model,
		Content:      strings.TrimSpace(wr.Choices[0].Message.Content),
		FinishReason: wr.Choices[0].FinishReason,
		Usage:        wr.Usage,
	}, nil
}

func (c *httpClient) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "openai: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "openai: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "openai: read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resilience.StatusError("openai", resp, respBody)
	}
	return respBody, nil
}

func toWire(req ChatRequest) wireRequest {
	wr := wireRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Messages:    make([]wireMessage, len(req.Messages)),
	}
	for i, m := range req.Messages {
		wr.Messages[i] = wireMessage{Role: m.Role, Content: toContent(m)}
	}
	if req.JSONSchema != nil {
		wr.ResponseFormat = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   req.JSONSchema.Name,
				"schema": req.JSONSchema.Schema,
				"strict": req.JSONSchema.Strict,
			},
		}
	}
	return wr
}

// toContent keeps plain-text messages as a string and switches to content
// parts when attachments are present.
func toContent(m Message) any {
	if len(m.Attachments) == 0 {
		return m.Text
	}
	parts := make([]map[string]any, 0, len(m.Attachments)+1)
	for _, a := range m.Attachments {
		dataURL := "data:" + a.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
		if strings.HasPrefix(strings.ToLower(a.MIMEType), "image/") {
			parts = append(parts, map[string]any{
				"type":      "image_url",
				"image_url": map[string]any{"url": dataURL},
			})
			continue
		}
		filename := a.Filename
		if filename == "" {
			filename = "document.pdf"
		}
		parts = append(parts, map[string]any{
			"type": "file",
			"file": map[string]any{"filename": filename, "file_data": dataURL},
		})
	}
	if m.Text != "" {
		parts = append(parts, map[string]any{"type": "text", "text": m.Text})
	}
	return parts
}
