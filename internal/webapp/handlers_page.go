package webapp

import (
	"bytes"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/blackbee/ai-forensics/internal/filehandler"
	"github.com/blackbee/ai-forensics/internal/session"
)

//go:embed templates/index.html
var templateFS embed.FS

var pageTemplate = template.Must(template.New("index.html").ParseFS(templateFS, "templates/index.html"))

// GET /
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	id, m, ok := s.machineFor(w, r)
	if !ok {
		return
	}
	_ = s.save(r.Context(), id, m)
	view := newPageView(m.Snapshot(), s.maxUpload)

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, view); err != nil {
		log.Error().Err(err).Msg("Failed to render page")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

// POST /upload
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id, m, ok := s.machineFor(w, r)
	if !ok {
		return
	}

	p, uerr := s.readUpload(w, r)
	switch {
	case uerr != nil:
		m.Reject(uerr.message)
	case !m.Select(p):
		p.Release()
		m.Reject(MsgBusy)
	}
	_ = s.save(r.Context(), id, m)
	redirectHome(w, r)
}

// POST /analyze
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	id, m, ok := s.machineFor(w, r)
	if !ok {
		return
	}
	if err := s.startAnalysis(r.Context(), id, m); errors.Is(err, session.ErrNoImage) {
		m.Reject(MsgNoImage)
		_ = s.save(r.Context(), id, m)
	}
	redirectHome(w, r)
}

// POST /reset
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id, m, ok := s.machineFor(w, r)
	if !ok {
		return
	}
	if m.Reset() {
		_ = s.save(r.Context(), id, m)
	}
	redirectHome(w, r)
}

// GET /preview/{id}
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	m, ok := s.existingMachine(r)
	if !ok {
		httpError(w, http.StatusNotFound, "not found")
		return
	}
	p, data, ok := m.Preview(chi.URLParam(r, "id"))
	if !ok {
		httpError(w, http.StatusNotFound, "not found")
		return
	}

	mimeType := p.MIMEType
	if raw := r.URL.Query().Get("max"); raw != "" {
		maxDim, err := strconv.Atoi(raw)
		if err != nil || maxDim <= 0 {
			httpError(w, http.StatusBadRequest, "invalid max dimension")
			return
		}
		thumb, thumbType, err := filehandler.Thumbnail(data, p.MIMEType, maxDim)
		if err != nil {
			log.Debug().Err(err).Str("payload_id", p.ID).Msg("Thumbnail failed, serving original")
		} else {
			data, mimeType = thumb, thumbType
		}
	}

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "private, no-store")
	w.Write(data)
}
