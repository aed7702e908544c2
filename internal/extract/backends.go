package extract

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/sells-group/assessment-ingest/internal/model"
	"github.com/sells-group/assessment-ingest/pkg/anthropic"
	"github.com/sells-group/assessment-ingest/pkg/google"
	"github.com/sells-group/assessment-ingest/pkg/openai"
)

const toolName = "record_assessment"

// decodeObject parses a structured reply, falling back to scraping the
// first JSON object when the model wrapped it in prose or fences.
func decodeObject(raw string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &obj); err == nil {
		return obj, nil
	}
	if obj, ok := ScrapeJSON(raw); ok {
		return obj, nil
	}
	return nil, eris.New("extract: reply is not a JSON object")
}

// AnthropicBackend drives Claude through forced tool use.
type AnthropicBackend struct {
	client anthropic.Client
	model  string
}

// NewAnthropicBackend wraps an Anthropic client for the ladder.
func NewAnthropicBackend(client anthropic.Client, model string) *AnthropicBackend {
	return &AnthropicBackend{client: client, model: model}
}

func (b *AnthropicBackend) Model() string { return b.model }

func (b *AnthropicBackend) GenerateObject(ctx context.Context, req ObjectRequest) (*ObjectResponse, error) {
	resp, err := b.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       b.model,
		MaxTokens:   int64(req.MaxTokens),
		System:      req.System,
		Messages:    []anthropic.Message{anthropicUser(req.Prompt, req.Attachment)},
		Temperature: zeroTemp(),
		Tool: &anthropic.Tool{
			Name:        toolName,
			Description: "Record the structured assessment result.",
			InputSchema: req.Schema.Document,
		},
	})
	if err != nil {
		return nil, err
	}
	usage := model.Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens}

	var obj map[string]any
	if input, ok := resp.ToolInput(toolName); ok {
		if err := json.Unmarshal(input, &obj); err != nil {
			return &ObjectResponse{Usage: usage}, eris.Wrap(err, "extract: anthropic tool input")
		}
	} else if obj, err = decodeObject(resp.Text()); err != nil {
		return &ObjectResponse{Usage: usage}, err
	}
	return &ObjectResponse{Object: obj, Usage: usage}, nil
}

func (b *AnthropicBackend) GenerateText(ctx context.Context, req TextRequest) (*TextResponse, error) {
	resp, err := b.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       b.model,
		MaxTokens:   int64(req.MaxTokens),
		System:      req.System,
		Messages:    []anthropic.Message{anthropicUser(req.Prompt, req.Attachment)},
		Temperature: zeroTemp(),
	})
	if err != nil {
		return nil, err
	}
	return &TextResponse{
		Text:  resp.Text(),
		Usage: model.Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
	}, nil
}

func anthropicUser(prompt string, att *Attachment) anthropic.Message {
	msg := anthropic.Message{Role: "user", Content: prompt}
	if att != nil && len(att.Data) > 0 {
		msg.Attachments = []anthropic.Attachment{{MediaType: att.MIMEType, Data: att.Data}}
	}
	return msg
}

// OpenAIBackend drives chat completions with a json_schema response format.
type OpenAIBackend struct {
	client openai.Client
	model  string
}

// NewOpenAIBackend wraps an OpenAI client for the ladder.
func NewOpenAIBackend(client openai.Client, model string) *OpenAIBackend {
	return &OpenAIBackend{client: client, model: model}
}

func (b *OpenAIBackend) Model() string { return b.model }

func (b *OpenAIBackend) GenerateObject(ctx context.Context, req ObjectRequest) (*ObjectResponse, error) {
	resp, err := b.client.ChatCompletion(ctx, openai.ChatRequest{
		Model:       b.model,
		Messages:    openAIMessages(req.System, req.Prompt, req.Attachment),
		MaxTokens:   req.MaxTokens,
		Temperature: zeroTemp(),
		JSONSchema:  &openai.JSONSchema{Name: "assessment_result", Schema: req.Schema.Document},
	})
	if err != nil {
		return nil, err
	}
	usage := model.Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}
	obj, err := decodeObject(resp.Content)
	if err != nil {
		return &ObjectResponse{Usage: usage}, err
	}
	return &ObjectResponse{Object: obj, Usage: usage}, nil
}

func (b *OpenAIBackend) GenerateText(ctx context.Context, req TextRequest) (*TextResponse, error) {
	resp, err := b.client.ChatCompletion(ctx, openai.ChatRequest{
		Model:       b.model,
		Messages:    openAIMessages(req.System, req.Prompt, req.Attachment),
		MaxTokens:   req.MaxTokens,
		Temperature: zeroTemp(),
	})
	if err != nil {
		return nil, err
	}
	return &TextResponse{
		Text:  resp.Content,
		Usage: model.Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens},
	}, nil
}

func openAIMessages(system, prompt string, att *Attachment) []openai.Message {
	var msgs []openai.Message
	if system != "" {
		msgs = append(msgs, openai.Message{Role: "system", Text: system})
	}
	user := openai.Message{Role: "user", Text: prompt}
	if att != nil && len(att.Data) > 0 {
		user.Attachments = []openai.Attachment{{MIMEType: att.MIMEType, Data: att.Data}}
	}
	return append(msgs, user)
}

// GoogleBackend drives Gemini with a response schema.
type GoogleBackend struct {
	client google.Client
	model  string
}

// NewGoogleBackend wraps a Gemini client for the ladder.
func NewGoogleBackend(client google.Client, model string) *GoogleBackend {
	return &GoogleBackend{client: client, model: model}
}

func (b *GoogleBackend) Model() string { return b.model }

func (b *GoogleBackend) GenerateObject(ctx context.Context, req ObjectRequest) (*ObjectResponse, error) {
	resp, err := b.client.GenerateContent(ctx, google.GenerateRequest{
		Model:           b.model,
		System:          req.System,
		Prompt:          req.Prompt,
		Attachment:      googleAttachment(req.Attachment),
		MaxOutputTokens: int32(req.MaxTokens),
		Temperature:     new(float32),
		ResponseSchema:  req.Schema.Document,
	})
	if err != nil {
		return nil, err
	}
	usage := model.Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens}
	obj, err := decodeObject(resp.Text)
	if err != nil {
		return &ObjectResponse{Usage: usage}, err
	}
	return &ObjectResponse{Object: obj, Usage: usage}, nil
}

func (b *GoogleBackend) GenerateText(ctx context.Context, req TextRequest) (*TextResponse, error) {
	resp, err := b.client.GenerateContent(ctx, google.GenerateRequest{
		Model:           b.model,
		System:          req.System,
		Prompt:          req.Prompt,
		Attachment:      googleAttachment(req.Attachment),
		MaxOutputTokens: int32(req.MaxTokens),
		Temperature:     new(float32),
	})
	if err != nil {
		return nil, err
	}
	return &TextResponse{
		Text:  resp.Text,
		Usage: model.Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
	}, nil
}

func googleAttachment(att *Attachment) *google.Attachment {
	if att == nil || len(att.Data) == 0 {
		return nil
	}
	return &google.Attachment{MIMEType: att.MIMEType, Data: att.Data}
}

func zeroTemp() *float64 {
	t := 0.0
	return &t
}
