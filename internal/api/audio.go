package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/idolboard/internal/library"
	"github.com/kalambet/idolboard/internal/recognize"
	"github.com/kalambet/idolboard/internal/storage"
)

const multipartMemory = 8 << 20 // 8MB; larger parts spill to temp files

type uploadResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Command string `json:"command"`
	Queued  bool   `json:"queued"`
}

type recognizeRequest struct {
	Command string `json:"command"`
	UserID  string `json:"user_id"`
}

type recognizeResponse struct {
	Success  bool    `json:"success"`
	ID       string  `json:"id,omitempty"`
	Command  string  `json:"command"`
	Action   string  `json:"action"`
	FileName string  `json:"file_name,omitempty"`
	Score    float64 `json:"score,omitempty"`
	Error    string  `json:"error,omitempty"`
}

type playResponse struct {
	Success   bool   `json:"success"`
	FileName  string `json:"file_name"`
	AudioData string `json:"audio_data"`
	MIMEType  string `json:"mime_type"`
	Pending   bool   `json:"pending,omitempty"`
}

// parseMultipart caps the body at the upload limit and parses it.
func parseMultipart(w http.ResponseWriter, r *http.Request, limit int64) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isTooLarge(err) {
			httpError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		httpError(w, http.StatusBadRequest, "invalid multipart form: %v", err)
		return false
	}
	return true
}

func handleUpload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !parseMultipart(w, r, deps.maxUpload()) {
			return
		}
		defer r.MultipartForm.RemoveAll()

		userID, err := deps.Identity.resolve(w, r, "")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid user id: %v", err)
			return
		}

		file, header, err := r.FormFile("audio")
		if err != nil {
			httpError(w, http.StatusBadRequest, "audio file is required")
			return
		}
		defer file.Close()

		ext := filepath.Ext(header.Filename)
		format := library.NormalizeExt(ext)
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			command = strings.TrimSuffix(header.Filename, ext)
		}
		if strings.TrimSpace(command) == "" {
			httpError(w, http.StatusBadRequest, "command is required")
			return
		}

		res, err := deps.Library.SaveAudio(r.Context(), userID, command, ext, file)
		if err != nil {
			if deps.Metrics != nil {
				outcome := "error"
				if statusFor(err) == http.StatusBadRequest {
					outcome = "rejected"
				}
				deps.Metrics.RecordUpload(format, outcome, header.Size)
			}
			failWith(w, err, "saving audio")
			return
		}
		if deps.Metrics != nil {
			deps.Metrics.RecordUpload(format, "ok", header.Size)
		}

		slog.Info("audio uploaded", "user_id", userID, "command", res.Command, "format", format, "queued", res.Queued)
		writeJSON(w, http.StatusOK, uploadResponse{
			Success: true,
			Message: fmt.Sprintf("uploaded %s", res.Command),
			Command: res.Command,
			Queued:  res.Queued,
		})
	}
}

// handleRecognize accepts either a JSON body {command, user_id} or a
// multipart form whose "audio" part is transcribed first.
func handleRecognize(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			userID string
			query  string
			source = recognize.SourceText
			err    error
		)

		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
			if !parseMultipart(w, r, deps.maxUpload()) {
				return
			}
			defer r.MultipartForm.RemoveAll()

			if userID, err = deps.Identity.resolve(w, r, ""); err != nil {
				httpError(w, http.StatusBadRequest, "invalid user id: %v", err)
				return
			}

			file, header, ferr := r.FormFile("audio")
			switch {
			case ferr == nil:
				defer file.Close()
				if deps.Transcriber == nil {
					httpError(w, http.StatusServiceUnavailable, "speech recognition is not configured")
					return
				}
				query, err = deps.Transcriber.Transcribe(r.Context(), header.Filename, file)
				if err != nil {
					slog.Warn("transcription failed", "user_id", userID, "error", err)
					httpError(w, http.StatusBadGateway, "transcription failed: %v", err)
					return
				}
				source = recognize.SourceAudio
			case errors.Is(ferr, http.ErrMissingFile):
				query = r.FormValue("command")
			default:
				httpError(w, http.StatusBadRequest, "reading audio: %v", ferr)
				return
			}
		} else {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
			defer r.Body.Close()

			var req recognizeRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				if isTooLarge(err) {
					httpError(w, http.StatusRequestEntityTooLarge, "request body too large")
					return
				}
				httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
				return
			}
			if userID, err = deps.Identity.resolve(w, r, req.UserID); err != nil {
				httpError(w, http.StatusBadRequest, "invalid user id: %v", err)
				return
			}
			query = req.Command
		}

		out, err := deps.Recognizer.Recognize(r.Context(), userID, query, source)
		if err != nil {
			failWith(w, err, "recognizing command")
			return
		}

		resp := recognizeResponse{
			Success:  out.Action != storage.ActionNotFound,
			ID:       out.ID,
			Command:  out.Query,
			Action:   out.Action,
			FileName: out.FileName,
			Score:    out.Score,
		}
		code := http.StatusOK
		if out.Action == storage.ActionNotFound {
			code = http.StatusNotFound
			resp.Error = fmt.Sprintf("no clip matches %q", out.Query)
		}
		writeJSON(w, code, resp)
	}
}

func handleListCommands(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := deps.Identity.resolve(w, r, "")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid user id: %v", err)
			return
		}

		commands, err := deps.Library.ListCommands(userID)
		if err != nil {
			failWith(w, err, "listing commands")
			return
		}
		if commands == nil {
			commands = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"commands": commands,
		})
	}
}

func handleDeleteCommand(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := deps.Identity.resolve(w, r, "")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid user id: %v", err)
			return
		}

		name := pathParam(r, "name")
		if err := deps.Library.Delete(userID, name); err != nil {
			failWith(w, err, "deleting command")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": fmt.Sprintf("deleted %s", name),
		})
	}
}

// handlePlay returns the clip as base64 JSON, or streams it when
// format=raw is given.
func handlePlay(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := deps.Identity.resolve(w, r, "")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid user id: %v", err)
			return
		}

		clip, err := deps.Library.Lookup(userID, pathParam(r, "name"))
		if err != nil {
			failWith(w, err, "finding clip")
			return
		}

		if r.URL.Query().Get("format") == "raw" {
			serveFile(w, r, clip.Path, clip.MIMEType)
			return
		}

		data, err := os.ReadFile(clip.Path)
		if err != nil {
			failWith(w, err, "reading clip")
			return
		}
		writeJSON(w, http.StatusOK, playResponse{
			Success:   true,
			FileName:  clip.Name,
			AudioData: base64.StdEncoding.EncodeToString(data),
			MIMEType:  clip.MIMEType,
			Pending:   clip.Pending,
		})
	}
}

func serveFile(w http.ResponseWriter, r *http.Request, path, mimeType string) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		httpError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		failWith(w, err, "opening file")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		failWith(w, err, "reading file")
		return
	}
	if mimeType != "" {
		w.Header().Set("Content-Type", mimeType)
	}
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}

// pathParam returns a URL parameter, unescaped when the router matched on
// the raw path.
func pathParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if r.URL.RawPath != "" {
		if u, err := url.PathUnescape(v); err == nil {
			return u
		}
	}
	return v
}
