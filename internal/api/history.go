package api

import (
	"net/http"
	"strconv"

	"github.com/kalambet/idolboard/internal/storage"
)

func handleListHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := deps.Identity.resolve(w, r, "")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid user id: %v", err)
			return
		}

		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		entries, err := deps.Store.ListRecognitions(userID, limit, offset)
		if err != nil {
			failWith(w, err, "listing history")
			return
		}
		if entries == nil {
			entries = []storage.Recognition{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"history": entries,
		})
	}
}

func handleDeleteHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := deps.Identity.resolve(w, r, "")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid user id: %v", err)
			return
		}

		if err := deps.Store.DeleteRecognition(userID, pathParam(r, "id")); err != nil {
			failWith(w, err, "deleting history entry")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func handleClearHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := deps.Identity.resolve(w, r, "")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid user id: %v", err)
			return
		}

		n, err := deps.Store.ClearRecognitions(userID)
		if err != nil {
			failWith(w, err, "clearing history")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"deleted": n,
		})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
