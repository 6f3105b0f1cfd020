package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lox/kasselweather/internal/store"
)

const sessionCookie = "kasselweather_session"

// sessionID returns the visitor's session id, issuing a new cookie when the
// request carries none or an invalid one.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  s.now().Add(24 * time.Hour),
	})
	return id
}

// currentSession loads the session named by the request cookie. It returns
// nil when the visitor has not loaded any data yet.
func (s *Server) currentSession(r *http.Request) (*store.Session, error) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil, nil
	}
	if _, err := uuid.Parse(c.Value); err != nil {
		return nil, nil
	}
	return s.store.GetSession(c.Value)
}
