package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/assessment-ingest/internal/extract"
	"github.com/sells-group/assessment-ingest/internal/ingest"
)

type mockIngestor struct{ mock.Mock }

func (m *mockIngestor) Process(ctx context.Context, id int64) (*ingest.Outcome, error) {
	args := m.Called(ctx, id)
	out, _ := args.Get(0).(*ingest.Outcome)
	return out, args.Error(1)
}

func (m *mockIngestor) Meta(ctx context.Context, id int64) (*ingest.Meta, error) {
	args := m.Called(ctx, id)
	meta, _ := args.Get(0).(*ingest.Meta)
	return meta, args.Error(1)
}

func (m *mockIngestor) Complete(ctx context.Context, req ingest.CompleteRequest) (*ingest.CompleteResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*ingest.CompleteResult)
	return res, args.Error(1)
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

const secret = "s3cret"

func do(t *testing.T, h http.Handler, method, path, body string, withSecret bool) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if withSecret {
		req.Header.Set(SecretHeader, secret)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestSecretRequired(t *testing.T) {
	ing := &mockIngestor{}
	h := New(ing, nil, secret).Router()

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/internal/ingest/1"},
		{http.MethodGet, "/internal/ingest/meta/1"},
		{http.MethodPost, "/internal/ingest/complete"},
	} {
		rec, body := do(t, h, tc.method, tc.path, "", false)
		assert.Equal(t, http.StatusForbidden, rec.Code, tc.path)
		assert.Equal(t, "FORBIDDEN", body["error"])

		req := httptest.NewRequest(tc.method, tc.path, nil)
		req.Header.Set(SecretHeader, "wrong")
		wrong := httptest.NewRecorder()
		h.ServeHTTP(wrong, req)
		assert.Equal(t, http.StatusForbidden, wrong.Code, tc.path)
	}
	ing.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
}

func TestEmptySecretRejectsAll(t *testing.T) {
	h := New(&mockIngestor{}, nil, "").Router()
	req := httptest.NewRequest(http.MethodPost, "/internal/ingest/1", nil)
	req.Header.Set(SecretHeader, "")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestProcess(t *testing.T) {
	ing := &mockIngestor{}
	ing.On("Process", mock.Anything, int64(42)).Return(&ingest.Outcome{
		ResultID: 7, ConfidencePct: 75, Provider: extract.ProviderGoogle, AttemptCount: 1,
	}, nil)
	h := New(ing, nil, secret).Router()

	rec, body := do(t, h, http.MethodPost, "/internal/ingest/42", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
	assert.EqualValues(t, 7, body["resultId"])
	assert.Equal(t, "google", body["provider"])
	ing.AssertExpectations(t)
}

func TestProcess_OutlivesCallerCancel(t *testing.T) {
	ing := &mockIngestor{}
	live := mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil })
	ing.On("Process", live, int64(42)).Return(&ingest.Outcome{ResultID: 7}, nil)
	h := New(ing, nil, secret).Router()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/internal/ingest/42", nil).WithContext(ctx)
	req.Header.Set(SecretHeader, secret)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	ing.AssertExpectations(t)
}

func TestProcess_JobTimeout(t *testing.T) {
	ing := &mockIngestor{}
	bounded := mock.MatchedBy(func(ctx context.Context) bool {
		deadline, ok := ctx.Deadline()
		return ok && time.Until(deadline) <= time.Minute
	})
	ing.On("Process", bounded, int64(3)).Return(nil, nil)

	rec, _ := do(t, New(ing, nil, secret, WithJobTimeout(time.Minute)).Router(), http.MethodPost, "/internal/ingest/3", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	ing.AssertExpectations(t)
}

func TestProcess_MissingUploadStillOK(t *testing.T) {
	ing := &mockIngestor{}
	ing.On("Process", mock.Anything, int64(5)).Return(nil, nil)

	rec, body := do(t, New(ing, nil, secret).Router(), http.MethodPost, "/internal/ingest/5", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, body["resultId"])
}

func TestProcess_Failure(t *testing.T) {
	ing := &mockIngestor{}
	ing.On("Process", mock.Anything, int64(5)).Return(nil, errors.New("boom"))

	rec, body := do(t, New(ing, nil, secret).Router(), http.MethodPost, "/internal/ingest/5", "", true)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INGEST_FAILED", body["error"])
}

func TestProcess_InvalidID(t *testing.T) {
	h := New(&mockIngestor{}, nil, secret).Router()
	for _, path := range []string{"/internal/ingest/abc", "/internal/ingest/0", "/internal/ingest/-3"} {
		rec, _ := do(t, h, http.MethodPost, path, "", true)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestMeta(t *testing.T) {
	ing := &mockIngestor{}
	ing.On("Meta", mock.Anything, int64(1)).Return(&ingest.Meta{UploadID: 1, StorageKey: "k", MIME: "image/png", TypeID: 2, TypeSlug: "big5"}, nil)
	ing.On("Meta", mock.Anything, int64(2)).Return(nil, ingest.ErrUploadNotFound)
	ing.On("Meta", mock.Anything, int64(3)).Return(nil, ingest.ErrTypeNotFound)
	ing.On("Meta", mock.Anything, int64(4)).Return(nil, errors.New("db down"))
	h := New(ing, nil, secret).Router()

	rec, body := do(t, h, http.MethodGet, "/internal/ingest/meta/1", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "k", body["storageKey"])
	assert.Equal(t, "big5", body["typeSlug"])
	assert.EqualValues(t, 2, body["typeId"])

	rec, body = do(t, h, http.MethodGet, "/internal/ingest/meta/2", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", body["error"])

	rec, body = do(t, h, http.MethodGet, "/internal/ingest/meta/3", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "TYPE_NOT_FOUND", body["error"])

	rec, _ = do(t, h, http.MethodGet, "/internal/ingest/meta/4", "", true)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestComplete(t *testing.T) {
	ing := &mockIngestor{}
	ing.On("Complete", mock.Anything, mock.MatchedBy(func(req ingest.CompleteRequest) bool {
		return req.UploadID == 9 && req.TypeSlug == "16p" && req.RawText == `{"type":"INFP-T"}` && req.Provider == "cloudflare-workers-ai"
	})).Return(&ingest.CompleteResult{ResultID: 11, ConfidencePct: 70}, nil)
	h := New(ing, nil, secret).Router()

	rec, body := do(t, h, http.MethodPost, "/internal/ingest/complete",
		`{"uploadId":9,"typeId":1,"typeSlug":"16p","rawText":"{\"type\":\"INFP-T\"}","provider":"cloudflare-workers-ai","model":"@cf/x","status":"succeeded"}`, true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
	assert.EqualValues(t, 11, body["resultId"])
	ing.AssertExpectations(t)
}

func TestComplete_Invalid(t *testing.T) {
	ing := &mockIngestor{}
	h := New(ing, nil, secret).Router()

	for name, payload := range map[string]string{
		"malformed":      `{`,
		"missing upload": `{"typeId":1,"typeSlug":"16p","provider":"p"}`,
		"missing slug":   `{"uploadId":1,"typeId":1,"provider":"p"}`,
		"bad status":     `{"uploadId":1,"typeId":1,"typeSlug":"16p","provider":"p","status":"maybe"}`,
		"negative usage": `{"uploadId":1,"typeId":1,"typeSlug":"16p","provider":"p","usage":{"tokensIn":-1}}`,
	} {
		rec, body := do(t, h, http.MethodPost, "/internal/ingest/complete", payload, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
		assert.Equal(t, "INVALID", body["error"], name)
	}
	ing.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestComplete_PersistFailure(t *testing.T) {
	ing := &mockIngestor{}
	ing.On("Complete", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	rec, _ := do(t, New(ing, nil, secret).Router(), http.MethodPost, "/internal/ingest/complete",
		`{"uploadId":1,"typeId":1,"typeSlug":"16p","provider":"p"}`, true)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealth(t *testing.T) {
	rec, body := do(t, New(nil, nil, secret).Router(), http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	down := pingFunc(func(context.Context) error { return errors.New("no db") })
	rec, body = do(t, New(nil, down, secret).Router(), http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	h := New(nil, nil, secret).Router()
	do(t, h, http.MethodGet, "/health", "", false)

	rec, _ := do(t, h, http.MethodGet, "/metrics", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "assessment_ingest_http_requests_total")
}

func TestCORS(t *testing.T) {
	h := New(&mockIngestor{}, nil, secret, WithCORSOrigins("https://app.example.com, ")).Router()

	req := httptest.NewRequest(http.MethodOptions, "/internal/ingest/complete", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestNoCORSByDefault(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	New(nil, nil, secret).Router().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
