package webapp

import (
	"errors"
	"net/http"

	"github.com/blackbee/ai-forensics/internal/session"
)

// GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": ServiceName,
		"model":   s.model,
	})
}

// GET /api/state
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	id, m, ok := s.machineFor(w, r)
	if !ok {
		return
	}
	_ = s.save(r.Context(), id, m)
	respondJSON(w, http.StatusOK, newStateResponse(m.Snapshot()))
}

// POST /api/upload (multipart field "image")
func (s *Server) handleAPIUpload(w http.ResponseWriter, r *http.Request) {
	id, m, ok := s.machineFor(w, r)
	if !ok {
		return
	}

	p, uerr := s.readUpload(w, r)
	if uerr != nil {
		m.Reject(uerr.message)
		_ = s.save(r.Context(), id, m)
		httpError(w, uerr.status, uerr.message)
		return
	}
	if !m.Select(p) {
		p.Release()
		httpError(w, http.StatusConflict, MsgBusy)
		return
	}
	if err := s.save(r.Context(), id, m); err != nil {
		saveFailed(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newStateResponse(m.Snapshot()))
}

// POST /api/analyze
func (s *Server) handleAPIAnalyze(w http.ResponseWriter, r *http.Request) {
	id, m, ok := s.machineFor(w, r)
	if !ok {
		return
	}

	switch err := s.startAnalysis(r.Context(), id, m); {
	case errors.Is(err, session.ErrBusy):
		httpError(w, http.StatusConflict, MsgBusy)
	case errors.Is(err, session.ErrNoImage):
		httpError(w, http.StatusConflict, MsgNoImage)
	case err != nil:
		httpError(w, http.StatusServiceUnavailable, MsgUnavailable)
	default:
		respondJSON(w, http.StatusAccepted, newStateResponse(m.Snapshot()))
	}
}

// POST /api/reset
func (s *Server) handleAPIReset(w http.ResponseWriter, r *http.Request) {
	id, m, ok := s.machineFor(w, r)
	if !ok {
		return
	}
	if !m.Reset() {
		httpError(w, http.StatusConflict, MsgBusy)
		return
	}
	if err := s.save(r.Context(), id, m); err != nil {
		saveFailed(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newStateResponse(m.Snapshot()))
}
