package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/memeq/internal/domain"
	"github.com/you/memeq/internal/lifecycle"
)

const busyDetail = "Server is currently busy. Please try again later."

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	for _, o := range s.origins {
		if o == origin {
			s.respondJSON(w, http.StatusOK, map[string]string{"message": "Accepted"})
			return
		}
	}
	if s.dev {
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Accepted"})
		return
	}
	s.respondJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid origin"})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req domain.MemeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.httpError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		s.httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.admitter.Admit(r.Context(), req)
	if errors.Is(err, lifecycle.ErrBusy) {
		s.log.Warn("admission rejected: at capacity")
		s.httpError(w, http.StatusServiceUnavailable, busyDetail)
		return
	}
	if err != nil {
		s.log.Error("admission failed", zap.Error(err))
		s.httpError(w, http.StatusInternalServerError, "Failed to start job")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{
		"job_id": job.ID,
		"status": string(job.Status),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	job, ok, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		s.log.Error("status lookup failed", zap.String("job_id", id), zap.Error(err))
		s.httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		s.httpError(w, http.StatusNotFound, "Job not found")
		return
	}
	s.respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleMeme(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "memeID")
	art, ok, err := s.store.GetArtifact(r.Context(), id)
	if err != nil {
		s.log.Error("meme lookup failed", zap.String("meme_id", id), zap.Error(err))
		s.httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		s.httpError(w, http.StatusNotFound, "Meme not found")
		return
	}
	s.respondJSON(w, http.StatusOK, art)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	redisStatus := "ok"
	status := "ok"
	if err := s.store.Ping(r.Context()); err != nil {
		redisStatus = err.Error()
		status = "degraded"
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "backend",
		"redis":     redisStatus,
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(rootPage))
}

func (s *Server) handleInflight(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.InflightCount(r.Context())
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	depth, err := s.queue.Depth(r.Context())
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"inflight":    count,
		"queue_depth": depth,
	})
}

func (s *Server) handleReap(w http.ResponseWriter, r *http.Request) {
	cleaned, err := s.reaper.Sweep(r.Context())
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"cleaned": cleaned})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	cleared, err := s.store.ClearJobs(r.Context())
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Info("jobs force-cleared", zap.Int("cleared", cleared))
	s.respondJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	memes, err := s.archive.RecentMemes(r.Context(), 50)
	if err != nil {
		s.httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, memes)
}

const rootPage = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8">
    <title>Meme Generator API</title>
</head>
<body>
    <h1>Meme Generator API</h1>
    <p>API is running. POST /api/generate-meme to create a meme.</p>
</body>
</html>
`
