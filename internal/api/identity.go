package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/idolboard/internal/library"
)

// Identity modes.
const (
	IdentityQuery   = "query"
	IdentitySession = "session"
)

const sessionMaxAge = 365 * 24 * time.Hour

// Identity decides which user a request acts for.
//
// In query mode the user id comes from the request itself (JSON body field,
// form field or query parameter) and falls back to DefaultUser. In session
// mode it is a random id kept in a cookie, issued on first contact; ids in
// the request are ignored.
type Identity struct {
	Mode        string
	CookieName  string
	DefaultUser string
}

func (id Identity) cookieName() string {
	if id.CookieName != "" {
		return id.CookieName
	}
	return "idolboard_uid"
}

func (id Identity) defaultUser() string {
	if id.DefaultUser != "" {
		return id.DefaultUser
	}
	return "default"
}

// resolve returns the validated user id. explicit is a user_id already
// decoded from a JSON body; form and query values are read from r. Multipart
// bodies must be parsed before calling.
func (id Identity) resolve(w http.ResponseWriter, r *http.Request, explicit string) (string, error) {
	if id.Mode == IdentitySession {
		return id.session(w, r), nil
	}

	userID := strings.TrimSpace(explicit)
	if userID == "" {
		userID = strings.TrimSpace(r.FormValue("user_id"))
	}
	if userID == "" {
		userID = id.defaultUser()
	}
	if err := library.ValidateUserID(userID); err != nil {
		return "", err
	}
	return userID, nil
}

func (id Identity) session(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(id.cookieName()); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil && len(c.Value) == 36 {
			return c.Value
		}
	}

	userID := uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     id.cookieName(),
		Value:    userID,
		Path:     "/",
		MaxAge:   int(sessionMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return userID
}
