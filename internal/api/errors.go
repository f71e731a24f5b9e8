package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kalambet/idolboard/internal/library"
	"github.com/kalambet/idolboard/internal/profile"
	"github.com/kalambet/idolboard/internal/recognize"
	"github.com/kalambet/idolboard/internal/storage"
	"github.com/kalambet/idolboard/internal/transcribe"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]any{"error": fmt.Sprintf(format, args...)})
}

// failWith reports err under the status its sentinel maps to.
func failWith(w http.ResponseWriter, err error, action string) {
	code := statusFor(err)
	switch code {
	case http.StatusRequestEntityTooLarge:
		httpError(w, code, "request body too large")
		return
	case http.StatusInternalServerError:
		slog.Error(action, "error", err)
	}
	httpError(w, code, "%s: %v", action, err)
}

func statusFor(err error) int {
	switch {
	case isTooLarge(err):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, library.ErrInvalidName),
		errors.Is(err, library.ErrUnsupportedFormat),
		errors.Is(err, profile.ErrInvalidColor),
		errors.Is(err, profile.ErrUnknownField),
		errors.Is(err, recognize.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, library.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, transcribe.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	// mime/multipart does not always wrap the reader error.
	return err != nil && strings.Contains(err.Error(), "request body too large")
}
