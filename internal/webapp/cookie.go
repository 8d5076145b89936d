package webapp

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/blackbee/ai-forensics/internal/session"
)

// SessionCookie names the cookie carrying the browser's session ID.
const SessionCookie = "forensics_session"

// MsgUnavailable is shown when session state cannot be loaded or saved.
const MsgUnavailable = "服务暂时不可用，请稍后重试。"

// machineFor returns the caller's session, creating one when the request
// has no cookie or an expired one. The cookie is re-issued on every call so
// its lifetime follows the server-side idle expiry. On a store failure it
// writes a 503 and returns ok=false.
func (s *Server) machineFor(w http.ResponseWriter, r *http.Request) (id string, m *session.Machine, ok bool) {
	if c, err := r.Cookie(SessionCookie); err == nil {
		id = c.Value
	}

	id, m, _, err := s.sessions.Acquire(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load session")
		httpError(w, http.StatusServiceUnavailable, MsgUnavailable)
		return "", nil, false
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(s.sessions.TTL().Seconds()),
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return id, m, true
}

// existingMachine looks up the caller's machine without creating one.
func (s *Server) existingMachine(r *http.Request) (*session.Machine, bool) {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return nil, false
	}
	m, ok, err := s.sessions.Lookup(r.Context(), c.Value)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load session")
		return nil, false
	}
	return m, ok
}

// save commits m. A conflict means a concurrent request changed the
// session first; this request's change is dropped.
func (s *Server) save(ctx context.Context, id string, m *session.Machine) error {
	err := s.sessions.Commit(ctx, id, m)
	switch {
	case errors.Is(err, session.ErrConflict):
		log.Info().Str("session_id", id).Msg("Session changed concurrently, dropping update")
	case err != nil:
		log.Error().Err(err).Str("session_id", id).Msg("Failed to save session")
	}
	return err
}

// saveFailed answers an API call whose save failed.
func saveFailed(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrConflict) {
		httpError(w, http.StatusConflict, MsgBusy)
		return
	}
	httpError(w, http.StatusServiceUnavailable, MsgUnavailable)
}
