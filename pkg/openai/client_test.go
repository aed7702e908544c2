package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sells-group/assessment-ingest/internal/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestChatCompletion_ImageWithSchema(t *testing.T) {
	var sent map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sent))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-4o-mini",
			"choices": []map[string]any{{
				"message":       map[string]any{"role": "assistant", "content": ` {"type":"ENTP-A"} `},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 812, "completion_tokens": 21},
		})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL+"/"))
	resp, err := client.ChatCompletion(context.Background(), ChatRequest{
		Model: "gpt-4o-mini",
		Messages: []Message{
			{Role: "system", Text: "extract"},
			{Role: "user", Text: "Type slug: 16p", Attachments: []Attachment{{MIMEType: "image/png", Data: []byte("png")}}},
		},
		MaxTokens:  1000,
		JSONSchema: &JSONSchema{Name: "assessment", Schema: map[string]any{"type": "object"}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"ENTP-A"}`, resp.Content)
	assert.Equal(t, int64(812), resp.Usage.PromptTokens)
	assert.Equal(t, int64(21), resp.Usage.CompletionTokens)

	format := sent["response_format"].(map[string]any)
	assert.Equal(t, "json_schema", format["type"])

	msgs := sent["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "extract", msgs[0].(map[string]any)["content"])
	parts := msgs[1].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	img := parts[0].(map[string]any)
	assert.Equal(t, "image_url", img["type"])
	assert.Equal(t, "data:image/png;base64,cG5n", img["image_url"].(map[string]any)["url"])
}

func TestChatCompletion_PDFFilePart(t *testing.T) {
	var sent map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "text"}}},
		})
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	_, err := client.ChatCompletion(context.Background(), ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []Message{{Role: "user", Attachments: []Attachment{{MIMEType: "application/pdf", Data: []byte("%PDF")}}}},
	})
	require.NoError(t, err)

	_, hasFormat := sent["response_format"]
	assert.False(t, hasFormat)
	parts := sent["messages"].([]any)[0].(map[string]any)["content"].([]any)
	require.Len(t, parts, 1)
	file := parts[0].(map[string]any)
	assert.Equal(t, "file", file["type"])
	assert.Equal(t, "document.pdf", file["file"].(map[string]any)["filename"])
}

func TestChatCompletion_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("overloaded"))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "ok"}}},
		})
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL), WithRetry(fastRetry()))
	resp, err := client.ChatCompletion(context.Background(), ChatRequest{Model: "m", Messages: []Message{{Role: "user", Text: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestChatCompletion_PermanentErrorSurfacesBody(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid image"}}`))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL), WithRetry(fastRetry()))
	_, err := client.ChatCompletion(context.Background(), ChatRequest{Model: "m", Messages: []Message{{Role: "user", Text: "hi"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Contains(t, err.Error(), "invalid image")
	assert.Equal(t, int32(1), calls.Load())
}

func TestChatCompletion_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	_, err := client.ChatCompletion(context.Background(), ChatRequest{Model: "m"})
	assert.ErrorContains(t, err, "no choices")
}
