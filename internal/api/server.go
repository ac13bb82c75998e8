// Package api exposes the extraction pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/cookcard/ingest/internal/budget"
	"github.com/cookcard/ingest/internal/ladder"
	"github.com/cookcard/ingest/internal/model"
	"github.com/cookcard/ingest/internal/pipeline"
)

const maxBodyBytes = 64 << 10

// Extractor is the pipeline surface the server needs.
type Extractor interface {
	Extract(ctx context.Context, req pipeline.Request) (*pipeline.Response, error)
	Usage(ctx context.Context, userID string) (*budget.Usage, error)
}

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config tunes the HTTP surface.
type Config struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// Server routes HTTP requests to the pipeline.
type Server struct {
	router    chi.Router
	extractor Extractor
	pinger    Pinger
	cfg       Config
}

// NewServer builds the router. pinger may be nil.
func NewServer(ext Extractor, pinger Pinger, cfg Config) *Server {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	s := &Server{
		router:    chi.NewRouter(),
		extractor: ext,
		pinger:    pinger,
		cfg:       cfg,
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))
	s.router.Use(requestLogger)

	s.router.Get("/health", s.handleHealth)
	s.router.Post("/v1/extract", s.handleExtract)
	s.router.Get("/v1/usage/{user_id}", s.handleUsage)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			zap.L().Warn("api: health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "invalid request body"})
		return
	}
	if req.RequestID == "" {
		req.RequestID = middleware.GetReqID(r.Context())
	}

	ctx := r.Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	resp, err := s.extractor.Extract(ctx, req)
	if err != nil {
		s.writeExtractError(w, resp, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "user_id"))
	u, err := s.extractor.Usage(r.Context(), userID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, u)
	case errors.Is(err, pipeline.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "user_id is required"})
	default:
		zap.L().Error("api: usage lookup failed", zap.String("user_id", userID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal_error"})
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type quotaBody struct {
	Error    string          `json:"error"`
	Fallback string          `json:"fallback"`
	Tier     model.Tier      `json:"tier"`
	Used     int64           `json:"used"`
	Limit    int64           `json:"limit"`
	CookCard *model.CookCard `json:"cook_card,omitempty"`
}

type rateLimitBody struct {
	Error             string `json:"error"`
	Scope             string `json:"scope"`
	Fallback          string `json:"fallback"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

// writeExtractError maps pipeline errors to status codes. Unknown errors
// never leak their text to the client.
func (s *Server) writeExtractError(w http.ResponseWriter, resp *pipeline.Response, err error) {
	var (
		quota *budget.QuotaError
		rl    *budget.RateLimitError
	)
	switch {
	case errors.As(err, &quota):
		body := quotaBody{
			Error:    "quota_exceeded",
			Fallback: "link_only",
			Tier:     quota.Tier,
			Used:     quota.Used,
			Limit:    quota.Limit,
		}
		if resp != nil {
			body.CookCard = resp.CookCard
		}
		writeJSON(w, http.StatusPaymentRequired, body)
	case errors.As(err, &rl):
		secs := rl.RetryAfterSeconds()
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, rateLimitBody{
			Error:             "rate_limited",
			Scope:             rl.Scope,
			Fallback:          "retry_later",
			RetryAfterSeconds: secs,
		})
	case errors.Is(err, pipeline.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: err.Error()})
	case errors.Is(err, ladder.ErrMetadataUnavailable):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "metadata_unavailable", Message: "source metadata could not be fetched"})
	default:
		zap.L().Error("api: extraction failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal_error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
