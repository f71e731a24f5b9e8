// Package api serves the idolboard HTTP interface and the MCP tool surface.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/idolboard/internal/library"
	"github.com/kalambet/idolboard/internal/metrics"
	"github.com/kalambet/idolboard/internal/profile"
	"github.com/kalambet/idolboard/internal/recognize"
	"github.com/kalambet/idolboard/internal/storage"
)

// DefaultMaxUploadBytes caps request bodies when Deps.MaxUploadBytes is unset.
const DefaultMaxUploadBytes = 16 << 20 // 16MB

const maxJSONBodySize = 1 << 20 // 1MB

// Transcriber converts recorded speech into text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, r io.Reader) (string, error)
}

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Library    *library.Library
	Profiles   *profile.Manager
	Recognizer *recognize.Service
	Store      *storage.Store // optional; nil disables /history

	Transcriber Transcriber      // optional; nil rejects audio recognition
	Metrics     *metrics.Metrics // optional

	Identity       Identity
	MaxUploadBytes int64
	Token          string // optional bearer token
}

func (d Deps) maxUpload() int64 {
	if d.MaxUploadBytes > 0 {
		return d.MaxUploadBytes
	}
	return DefaultMaxUploadBytes
}

// NewHandler returns the idolboard HTTP API. /health and /metrics stay open;
// every other route requires the bearer token when one is configured.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusNotFound, "no route for %s", r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusMethodNotAllowed, "method %s not allowed", r.Method)
	})

	r.Get("/health", handleHealth)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}

		r.Post("/upload", handleUpload(deps))
		r.Post("/recognize", handleRecognize(deps))
		r.Get("/commands", handleListCommands(deps))
		r.Get("/get_commands", handleListCommands(deps))
		r.Delete("/commands/{name}", handleDeleteCommand(deps))
		r.Get("/play/{name}", handlePlay(deps))

		r.Get("/config", handleGetConfig(deps))
		r.Post("/config", handleUpdateConfig(deps))
		r.Post("/update_config", handleUpdateConfig(deps))
		r.Post("/profile_image", handleProfileImage(deps))
		r.Post("/upload_profile", handleProfileImage(deps))
		r.Get("/profile_images/{user}/{file}", handleServeProfileImage(deps))

		if deps.Store != nil {
			r.Get("/history", handleListHistory(deps))
			r.Delete("/history", handleClearHistory(deps))
			r.Delete("/history/{id}", handleDeleteHistory(deps))
		}
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
