package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messageServer(t *testing.T, capture *map[string]any, reply map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if capture != nil {
			require.NoError(t, json.Unmarshal(body, capture))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(reply) //nolint:errcheck
	}))
}

func TestCreateMessage_ToolUse(t *testing.T) {
	var sent map[string]any
	ts := messageServer(t, &sent, map[string]any{
		"id":   "msg_tool",
		"type": "message",
		"role": "assistant",
		"content": []map[string]any{
			{"type": "tool_use", "id": "toolu_1", "name": "record_result", "input": map[string]any{"type": "ENFP-T"}},
		},
		"model":       "claude-3-5-sonnet-20240620",
		"stop_reason": "tool_use",
		"usage":       map[string]any{"input_tokens": 1200, "output_tokens": 40},
	})
	defer ts.Close()

	client := NewClient("test-key", WithBaseURL(ts.URL))
	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-3-5-sonnet-20240620",
		MaxTokens: 400,
		System:    "extract",
		Messages: []Message{{
			Role:        "user",
			Content:     "Type slug: 16p",
			Attachments: []Attachment{{MediaType: "image/png", Data: []byte{0x89, 0x50}}},
		}},
		Tool: &Tool{
			Name: "record_result",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"type": map[string]any{"type": "string"}},
				"required":   []any{"type"},
			},
		},
	})
	require.NoError(t, err)

	input, ok := resp.ToolInput("record_result")
	require.True(t, ok)
	assert.JSONEq(t, `{"type":"ENFP-T"}`, string(input))
	assert.Equal(t, int64(1200), resp.Usage.InputTokens)
	assert.Equal(t, int64(40), resp.Usage.OutputTokens)

	choice, _ := sent["tool_choice"].(map[string]any)
	assert.Equal(t, "tool", choice["type"])
	assert.Equal(t, "record_result", choice["name"])

	msgs, _ := sent["messages"].([]any)
	require.Len(t, msgs, 1)
	content := msgs[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)
	assert.Equal(t, "image", content[0].(map[string]any)["type"])
	assert.Equal(t, "text", content[1].(map[string]any)["type"])
}

func TestCreateMessage_PDFDocumentBlock(t *testing.T) {
	var sent map[string]any
	ts := messageServer(t, &sent, map[string]any{
		"id":          "msg_pdf",
		"type":        "message",
		"role":        "assistant",
		"content":     []map[string]any{{"type": "text", "text": "Your type: INTJ"}},
		"model":       "claude-3-5-sonnet-20240620",
		"stop_reason": "end_turn",
		"usage":       map[string]any{"input_tokens": 10, "output_tokens": 5},
	})
	defer ts.Close()

	client := NewClient("test-key", WithBaseURL(ts.URL))
	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-3-5-sonnet-20240620",
		MaxTokens: 500,
		Messages: []Message{{
			Role:        "user",
			Attachments: []Attachment{{MediaType: "application/pdf", Data: []byte("%PDF-1.7")}},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Your type: INTJ", resp.Text())

	_, hasTools := sent["tools"]
	assert.False(t, hasTools)
	msgs := sent["messages"].([]any)
	content := msgs[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 1)
	block := content[0].(map[string]any)
	assert.Equal(t, "document", block["type"])
	source := block["source"].(map[string]any)
	assert.Equal(t, "application/pdf", source["media_type"])
}

func TestCreateMessage_APIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad image"}}`)) //nolint:errcheck
	}))
	defer ts.Close()

	client := NewClient("test-key", WithBaseURL(ts.URL))
	_, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-3-5-sonnet-20240620",
		MaxTokens: 10,
		Messages:  []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: create message")
}

func TestMessageResponse_Helpers(t *testing.T) {
	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "a"},
		{Type: "tool_use", Name: "other", Input: json.RawMessage(`{}`)},
		{Type: "text", Text: "b"},
	}}
	assert.Equal(t, "a\nb", resp.Text())
	_, ok := resp.ToolInput("record_result")
	assert.False(t, ok)
}
