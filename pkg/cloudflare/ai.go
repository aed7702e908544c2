package cloudflare

import (
	"context"
	"strings"
)

// DefaultVisionModel is the Workers AI model used for edge extraction.
const DefaultVisionModel = "@cf/llama-3.2-11b-vision-instruct"

// AIMessage is one chat turn for a Workers AI text-generation model.
// Content is a string or a list of content parts.
type AIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// AIRequest is the text-generation input.
type AIRequest struct {
	Messages  []AIMessage `json:"messages"`
	MaxTokens int         `json:"max_tokens,omitempty"`
}

// AIUsage reports token consumption when the model returns it.
type AIUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// AIResponse is the text-generation output.
type AIResponse struct {
	Response string   `json:"response"`
	Text     string   `json:"text"`
	Usage    *AIUsage `json:"usage,omitempty"`
}

// Output returns whichever text field the model filled.
func (r *AIResponse) Output() string {
	if r == nil {
		return ""
	}
	if r.Response != "" {
		return r.Response
	}
	return r.Text
}

// ImagePart builds the input_image content part. Bytes are sent as a list
// of integers, which is the form the vision models accept.
func ImagePart(data []byte, mime string) map[string]any {
	ints := make([]int, len(data))
	for i, b := range data {
		ints[i] = int(b)
	}
	return map[string]any{"type": "input_image", "image": ints, "mime_type": mime}
}

// TextPart builds a text content part.
func TextPart(text string) map[string]any {
	return map[string]any{"type": "text", "text": text}
}

// RunAI invokes a Workers AI model.
func (c *Client) RunAI(ctx context.Context, model string, req AIRequest) (*AIResponse, error) {
	if model == "" {
		model = DefaultVisionModel
	}
	var res AIResponse
	if err := c.call(ctx, "ai_run", "/ai/run/"+strings.TrimPrefix(model, "/"), req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
