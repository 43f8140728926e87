package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/you/memeq/internal/lifecycle"
	"github.com/you/memeq/internal/queue"
	"github.com/you/memeq/internal/storage"
)

// Server is the HTTP surface: thin request/response mapping over the
// admission controller, job store, and reaper.
type Server struct {
	store    *storage.Store
	admitter *lifecycle.Admitter
	reaper   *lifecycle.Reaper
	queue    *queue.RedisQ
	archive  *storage.Archive // nil when no archive is configured
	origins  []string
	dev      bool
	log      *zap.Logger
}

type ServerDeps struct {
	Store    *storage.Store
	Admitter *lifecycle.Admitter
	Reaper   *lifecycle.Reaper
	Queue    *queue.RedisQ
	Archive  *storage.Archive
	Origins  []string
	AppEnv   string
	Log      *zap.Logger
}

func NewServer(d ServerDeps) *Server {
	return &Server{
		store:    d.Store,
		admitter: d.Admitter,
		reaper:   d.Reaper,
		queue:    d.Queue,
		archive:  d.Archive,
		origins:  d.Origins,
		dev:      d.AppEnv == "development",
		log:      d.Log,
	}
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(CORS(s.origins, s.dev))

	r.Get("/", s.handleRoot)
	r.Get("/favicon.ico", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Options("/api/generate-meme", s.handlePreflight)
	r.Post("/api/generate-meme", s.handleGenerate)
	r.Get("/api/meme-status/{jobID}", s.handleStatus)
	r.Get("/api/meme/{memeID}", s.handleMeme)
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/test", func(w http.ResponseWriter, _ *http.Request) {
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "API is working"})
	})

	r.Get("/share/{memeID}", s.handleShare)

	r.Route("/api/admin", func(r chi.Router) {
		r.Get("/inflight", s.handleInflight)
		r.Post("/reap", s.handleReap)
		r.Post("/clear", s.handleClear)
		if s.archive != nil {
			r.Get("/archive", s.handleArchive)
		}
	})

	return r
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("response encode failed", zap.Error(err))
	}
}

// httpError writes the {"detail": ...} error shape clients expect.
func (s *Server) httpError(w http.ResponseWriter, status int, detail string) {
	s.respondJSON(w, status, map[string]string{"detail": detail})
}
