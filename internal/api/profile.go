package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/kalambet/idolboard/internal/library"
	"github.com/kalambet/idolboard/internal/profile"
)

type configRequest struct {
	profile.Update
	UserID string `json:"user_id"`
}

func handleGetConfig(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := deps.Identity.resolve(w, r, "")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid user id: %v", err)
			return
		}

		p, err := deps.Profiles.Get(userID)
		if err != nil {
			failWith(w, err, "loading profile")
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// handleUpdateConfig merges the supplied fields into the user's profile. It
// takes JSON or a multipart form; the form may carry a "profile_image" file
// that replaces the current picture.
func handleUpdateConfig(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			userID string
			u      profile.Update
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
			u = updateFromForm(r.MultipartForm)

			file, header, ferr := r.FormFile("profile_image")
			switch {
			case ferr == nil:
				defer file.Close()
				// The old picture is replaced on save, so reject bad fields first.
				if err := deps.Profiles.Check(userID, u); err != nil {
					failWith(w, err, "updating profile")
					return
				}
				name, err := deps.Library.SaveProfileImage(userID, filepath.Ext(header.Filename), file)
				if err != nil {
					failWith(w, err, "saving profile image")
					return
				}
				imageURL := profileImageURL(userID, name)
				u.ProfileImage = &imageURL
			case !errors.Is(ferr, http.ErrMissingFile):
				httpError(w, http.StatusBadRequest, "reading profile image: %v", ferr)
				return
			}
		} else {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
			defer r.Body.Close()

			var req configRequest
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
			u = req.Update
		}

		p, err := deps.Profiles.Apply(userID, u)
		if err != nil {
			failWith(w, err, "updating profile")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "settings updated",
			"config":  p,
		})
	}
}

func updateFromForm(form *multipart.Form) profile.Update {
	field := func(key string) *string {
		vs, ok := form.Value[key]
		if !ok || len(vs) == 0 {
			return nil
		}
		v := strings.TrimSpace(vs[0])
		return &v
	}
	return profile.Update{
		IdolName:       field("idol_name"),
		ProfileImage:   field("profile_image"),
		ThemeColor:     field("theme_color"),
		SecondaryColor: field("secondary_color"),
		ButtonColor:    field("button_color"),
	}
}

func handleProfileImage(deps Deps) http.HandlerFunc {
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

		file, header, err := r.FormFile("profile")
		if err != nil {
			httpError(w, http.StatusBadRequest, "profile image is required")
			return
		}
		defer file.Close()

		name, err := deps.Library.SaveProfileImage(userID, filepath.Ext(header.Filename), file)
		if err != nil {
			failWith(w, err, "saving profile image")
			return
		}

		imageURL := profileImageURL(userID, name)
		if _, err := deps.Profiles.Apply(userID, profile.Update{ProfileImage: &imageURL}); err != nil {
			failWith(w, err, "updating profile")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"message":   "profile image updated",
			"image_url": imageURL,
		})
	}
}

func handleServeProfileImage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := pathParam(r, "user")
		if err := library.ValidateUserID(userID); err != nil {
			httpError(w, http.StatusBadRequest, "invalid user id: %v", err)
			return
		}

		path, err := deps.Library.ProfileImagePath(userID, pathParam(r, "file"))
		if err != nil {
			failWith(w, err, "finding profile image")
			return
		}
		serveFile(w, r, path, "")
	}
}

func profileImageURL(userID, filename string) string {
	return fmt.Sprintf("/profile_images/%s/%s", userID, filename)
}
