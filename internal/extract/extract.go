// Package extract turns an assessment document into a structured result
// using one AI provider and a ladder of progressively weaker strategies.
package extract

import (
	"context"
	"strings"

	"github.com/sells-group/assessment-ingest/internal/model"
	"github.com/sells-group/assessment-ingest/internal/schema"
)

// ProviderID names an extraction provider.
type ProviderID string

const (
	ProviderGoogle    ProviderID = "google"
	ProviderOpenAI    ProviderID = "openai"
	ProviderAnthropic ProviderID = "anthropic"
)

// KnownProviders is the fallback order appended to every chain.
var KnownProviders = []ProviderID{ProviderGoogle, ProviderOpenAI, ProviderAnthropic}

// ParseProvider maps a configured name to a known provider.
func ParseProvider(s string) (ProviderID, bool) {
	id := ProviderID(strings.ToLower(strings.TrimSpace(s)))
	for _, p := range KnownProviders {
		if p == id {
			return id, true
		}
	}
	return "", false
}

// Step identifies the ladder rung that produced a result.
type Step string

const (
	StepNone       Step = ""
	StepDirect     Step = "direct"
	StepTranscribe Step = "transcribe"
	StepScrape     Step = "scrape"
)

// Input is one document to extract.
type Input struct {
	Bytes    []byte
	MIMEType string
	TypeSlug string
}

// Result is the outcome of one Extract call. A failed extraction has empty
// Results and zero confidence.
type Result struct {
	Results       map[string]any
	ConfidencePct int
	Usage         *model.Usage
	Model         string
	Step          Step
}

// Empty reports whether no data was extracted.
func (r Result) Empty() bool {
	return len(r.Results) == 0
}

// Extractor produces a Result for a document. Implementations never return
// an error: every failure degrades to a zero-confidence Result.
type Extractor interface {
	Extract(ctx context.Context, in Input) Result
}

// Attachment is document bytes sent alongside a prompt.
type Attachment struct {
	Data     []byte
	MIMEType string
}

// IsImage reports whether the attachment should be sent as an image part.
func (a *Attachment) IsImage() bool {
	return a != nil && strings.HasPrefix(strings.ToLower(a.MIMEType), "image/")
}

// IsPDF reports whether the attachment is a PDF.
func (a *Attachment) IsPDF() bool {
	return a != nil && strings.EqualFold(a.MIMEType, "application/pdf")
}

// ObjectRequest asks a backend for schema-conformant JSON.
type ObjectRequest struct {
	System     string
	Prompt     string
	Attachment *Attachment
	Schema     *schema.Schema
	MaxTokens  int
}

// ObjectResponse carries the decoded object.
type ObjectResponse struct {
	Object map[string]any
	Usage  model.Usage
}

// TextRequest asks a backend for free text.
type TextRequest struct {
	System     string
	Prompt     string
	Attachment *Attachment
	MaxTokens  int
}

// TextResponse carries the model's reply.
type TextResponse struct {
	Text  string
	Usage model.Usage
}

// Backend is the provider-specific transport the ladder drives.
type Backend interface {
	Model() string
	GenerateObject(ctx context.Context, req ObjectRequest) (*ObjectResponse, error)
	GenerateText(ctx context.Context, req TextRequest) (*TextResponse, error)
}
