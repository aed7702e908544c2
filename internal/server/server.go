// Package server exposes the internal ingestion contract over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sells-group/assessment-ingest/internal/ingest"
	"github.com/sells-group/assessment-ingest/internal/metrics"
)

// SecretHeader carries the shared internal secret.
const SecretHeader = "x-internal-secret"

// maxBodyBytes bounds the complete body; raw model text is small.
const maxBodyBytes = 1 << 20

// Ingestor is the job surface the routes call. *ingest.Job satisfies it.
type Ingestor interface {
	Process(ctx context.Context, uploadID int64) (*ingest.Outcome, error)
	Meta(ctx context.Context, uploadID int64) (*ingest.Meta, error)
	Complete(ctx context.Context, req ingest.CompleteRequest) (*ingest.CompleteResult, error)
}

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the handlers' dependencies.
type Server struct {
	ingestor Ingestor
	pinger   Pinger
	secret   string
	origins  []string
	jobLimit time.Duration
	validate *validator.Validate
}

// Option configures a Server.
type Option func(*Server)

// WithCORSOrigins allows browser calls from a comma list of origins.
func WithCORSOrigins(list string) Option {
	return func(s *Server) {
		for _, o := range strings.Split(list, ",") {
			if o = strings.TrimSpace(o); o != "" {
				s.origins = append(s.origins, o)
			}
		}
	}
}

// WithJobTimeout bounds a job started by /internal/ingest. Jobs outlive
// the request that started them, so this is their only deadline.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Server) { s.jobLimit = d }
}

// New creates a Server. An empty secret rejects every internal request.
func New(ingestor Ingestor, pinger Pinger, secret string, opts ...Option) *Server {
	s := &Server{
		ingestor: ingestor,
		pinger:   pinger,
		secret:   secret,
		validate: validator.New(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", SecretHeader},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/internal/ingest", func(r chi.Router) {
		r.Use(s.requireSecret)
		r.Post("/complete", s.complete)
		r.Get("/meta/{id}", s.meta)
		r.Post("/{id}", s.process)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			zap.L().Warn("server: health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(SecretHeader)
		if s.secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) != 1 {
			writeError(w, http.StatusForbidden, "FORBIDDEN")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) process(w http.ResponseWriter, r *http.Request) {
	id, ok := uploadID(w, r)
	if !ok {
		return
	}

	// A caller that gives up must not abort a job halfway through the
	// ladder; the job still records its result or failure.
	ctx := context.WithoutCancel(r.Context())
	if s.jobLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.jobLimit)
		defer cancel()
	}

	out, err := s.ingestor.Process(ctx, id)
	if err != nil {
		zap.L().Error("server: process upload failed", zap.Int64("upload_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INGEST_FAILED")
		return
	}

	resp := map[string]any{"ok": true, "resultId": nil}
	if out != nil {
		resp["resultId"] = out.ResultID
		resp["confidencePct"] = out.ConfidencePct
		resp["provider"] = out.Provider
		resp["attempts"] = out.AttemptCount
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) meta(w http.ResponseWriter, r *http.Request) {
	id, ok := uploadID(w, r)
	if !ok {
		return
	}

	meta, err := s.ingestor.Meta(r.Context(), id)
	switch {
	case errors.Is(err, ingest.ErrUploadNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND")
	case errors.Is(err, ingest.ErrTypeNotFound):
		writeError(w, http.StatusNotFound, "TYPE_NOT_FOUND")
	case err != nil:
		zap.L().Error("server: meta lookup failed", zap.Int64("upload_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL")
	default:
		writeJSON(w, http.StatusOK, meta)
	}
}

func (s *Server) complete(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID")
		return
	}
	req, err := ingest.DecodeCompleteRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		zap.L().Debug("server: complete body rejected", zap.Error(err))
		writeError(w, http.StatusBadRequest, "INVALID")
		return
	}

	res, err := s.ingestor.Complete(r.Context(), *req)
	if err != nil {
		zap.L().Error("server: complete failed", zap.Int64("upload_id", req.UploadID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "PERSIST_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "resultId": res.ResultID})
}

func uploadID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
