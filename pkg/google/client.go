// Package google wraps the Gemini API for document extraction.
package google

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sells-group/assessment-ingest/internal/resilience"
	"google.golang.org/genai"
)

// Client performs Gemini generate-content calls.
type Client interface {
	GenerateContent(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// GenerateRequest is one single-turn generation.
type GenerateRequest struct {
	Model           string
	System          string
	Prompt          string
	Attachment      *Attachment
	MaxOutputTokens int32
	Temperature     *float32
	// ResponseSchema is a JSON Schema document. When set the reply is
	// constrained to JSON matching it.
	ResponseSchema map[string]any
}

// Attachment is inline document bytes.
type Attachment struct {
	MIMEType string
	Data     []byte
}

// GenerateResponse holds the reply text and token counts.
type GenerateResponse struct {
	Text  string
	Usage TokenUsage
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}

// Option configures the client.
type Option func(*genai.ClientConfig)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *genai.ClientConfig) {
		c.HTTPOptions.BaseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *genai.ClientConfig) {
		c.HTTPClient = hc
	}
}

type sdkClient struct {
	client *genai.Client
}

// NewClient creates a Gemini API client.
func NewClient(ctx context.Context, apiKey string, opts ...Option) (Client, error) {
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(cfg)
	}
	c, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "google: new client")
	}
	return &sdkClient{client: c}, nil
}

func (c *sdkClient) GenerateContent(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	parts := make([]*genai.Part, 0, 2)
	if req.Attachment != nil {
		parts = append(parts, genai.NewPartFromBytes(req.Attachment.Data, req.Attachment.MIMEType))
	}
	if req.Prompt != "" {
		parts = append(parts, genai.NewPartFromText(req.Prompt))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	cfg := &genai.GenerateContentConfig{
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxOutputTokens,
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.ResponseSchema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = ToSchema(req.ResponseSchema)
	}

	resp, err := c.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, classify(eris.Wrap(err, "google: generate content"), err)
	}

	out := &GenerateResponse{Text: resp.Text()}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = TokenUsage{
			InputTokens:  int64(u.PromptTokenCount),
			OutputTokens: int64(u.CandidatesTokenCount),
		}
	}
	return out, nil
}

// classify marks rate limits and server errors as transient.
func classify(wrapped, cause error) error {
	var apiErr genai.APIError
	if errors.As(cause, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.Code) {
		return resilience.NewTransientError(wrapped, apiErr.Code)
	}
	return wrapped
}

var schemaTypes = map[string]genai.Type{
	"object":  genai.TypeObject,
	"array":   genai.TypeArray,
	"string":  genai.TypeString,
	"number":  genai.TypeNumber,
	"integer": genai.TypeInteger,
	"boolean": genai.TypeBoolean,
}

// ToSchema converts a JSON Schema document to the Gemini schema subset.
// Objects without declared properties (free-form maps) are dropped since
// Gemini rejects empty OBJECT schemas.
func ToSchema(doc map[string]any) *genai.Schema {
	s := &genai.Schema{}
	if t, ok := doc["type"].(string); ok {
		s.Type = schemaTypes[t]
	}
	if d, ok := doc["description"].(string); ok {
		s.Description = d
	}
	if v, ok := number(doc["minimum"]); ok {
		s.Minimum = genai.Ptr(v)
	}
	if v, ok := number(doc["maximum"]); ok {
		s.Maximum = genai.Ptr(v)
	}
	if items, ok := doc["items"].(map[string]any); ok {
		s.Items = ToSchema(items)
	}
	if props, ok := doc["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			p, ok := raw.(map[string]any)
			if !ok || isFreeFormObject(p) {
				continue
			}
			s.Properties[name] = ToSchema(p)
		}
	}
	for _, r := range requiredList(doc["required"]) {
		if _, ok := s.Properties[r]; ok {
			s.Required = append(s.Required, r)
		}
	}
	return s
}

func isFreeFormObject(p map[string]any) bool {
	if p["type"] != "object" {
		return false
	}
	props, _ := p["properties"].(map[string]any)
	return len(props) == 0
}

func requiredList(v any) []string {
	switch r := v.(type) {
	case []string:
		return r
	case []any:
		out := make([]string, 0, len(r))
		for _, x := range r {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
