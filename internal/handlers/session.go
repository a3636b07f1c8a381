package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"media-converter/internal/middleware"
)

const (
	sessionCookie = "mc_session"
	sessionMaxAge = 30 * 24 * 60 * 60
)

// sessionKey returns the caller's session cookie value. A request without a
// valid cookie is issued one, and its job is keyed by the new value so the
// client's next job lands on the same slot.
func sessionKey(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			return id.String()
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   sessionMaxAge,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func clientAddress(r *http.Request) string {
	return middleware.ClientIP(r)
}
