package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves a single bucket from a map, enough for path-style requests.
func fakeS3(t *testing.T, objects map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/uploads/")
		switch r.Method {
		case http.MethodGet:
			body, ok := objects[key]
			if !ok {
				w.Header().Set("Content-Type", "application/xml")
				w.WriteHeader(http.StatusNotFound)
				_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message><Key>`+key+`</Key></Error>`)
				return
			}
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
			w.Header().Set("ETag", `"abc"`)
			_, _ = io.WriteString(w, body)
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			objects[key] = string(data)
			w.Header().Set("ETag", `"abc"`)
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			delete(objects, key)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestMinio(t *testing.T, srv *httptest.Server, maxBytes int64) *MinioStore {
	t.Helper()
	st, err := NewMinio(Config{
		Endpoint:  srv.URL,
		Bucket:    "uploads",
		AccessKey: "key",
		SecretKey: "secret",
		Region:    "us-east-1",
		MaxBytes:  maxBytes,
	})
	require.NoError(t, err)
	return st
}

func TestMinioStore_GetBytes(t *testing.T) {
	srv := fakeS3(t, map[string]string{"a/doc.png": "png-bytes"})
	st := newTestMinio(t, srv, 0)

	data, err := st.GetBytes(context.Background(), "a/doc.png")
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
}

func TestMinioStore_GetBytes_NotFound(t *testing.T) {
	srv := fakeS3(t, map[string]string{})
	st := newTestMinio(t, srv, 0)

	_, err := st.GetBytes(context.Background(), "missing.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMinioStore_GetBytes_TooLarge(t *testing.T) {
	srv := fakeS3(t, map[string]string{"big": strings.Repeat("x", 64)})
	st := newTestMinio(t, srv, 16)

	_, err := st.GetBytes(context.Background(), "big")
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestMinioStore_PutAndDelete(t *testing.T) {
	objects := map[string]string{}
	srv := fakeS3(t, objects)
	st := newTestMinio(t, srv, 0)
	ctx := context.Background()

	require.NoError(t, st.Put(ctx, "b/new.pdf", []byte("%PDF-1.7"), "application/pdf"))
	assert.Equal(t, "%PDF-1.7", objects["b/new.pdf"])

	require.NoError(t, st.Delete(ctx, "b/new.pdf"))
	assert.NotContains(t, objects, "b/new.pdf")
}

func TestMinioStore_SignedURL(t *testing.T) {
	srv := fakeS3(t, map[string]string{})
	st := newTestMinio(t, srv, 0)

	u, err := st.SignedURL(context.Background(), "a/doc.png", time.Minute)
	require.NoError(t, err)
	assert.Contains(t, u, "/uploads/a/doc.png")
	assert.Contains(t, u, "X-Amz-Signature=")
	assert.Contains(t, u, "X-Amz-Expires=60")
}

func TestNewMinio_RequiresBucket(t *testing.T) {
	_, err := NewMinio(Config{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.GetBytes(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Put(ctx, "k", []byte("v"), "text/plain"))
	data, err := m.GetBytes(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(data))

	u, err := m.SignedURL(ctx, "/k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "memory://k", u)

	require.NoError(t, m.Delete(ctx, "k"))
	_, err = m.GetBytes(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}
