package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mindnexus/internal/types"
	"mindnexus/pkg/auth"
	"mindnexus/pkg/chat"
	"mindnexus/pkg/ingest"
	"mindnexus/pkg/voice"
)

// Server is the HTTP/WS surface over the chat engine: login, library
// management, chat, history, and voice transcription.
type Server struct {
	creds       *auth.CredentialStore
	tokens      *auth.TokenIssuer
	engine      *chat.Engine
	pipeline    *ingest.Pipeline
	library     types.Library
	history     types.HistoryStore
	transcriber types.Transcriber
	speaker     *voice.Speaker
	listener    *voice.Listener

	uploadDir     string
	listenTimeout time.Duration
}

type Config struct {
	UploadDir     string
	ListenTimeout time.Duration
}

func New(
	creds *auth.CredentialStore,
	tokens *auth.TokenIssuer,
	engine *chat.Engine,
	pipeline *ingest.Pipeline,
	library types.Library,
	history types.HistoryStore,
	transcriber types.Transcriber,
	speaker *voice.Speaker,
	listener *voice.Listener,
	config Config,
) *Server {
	if config.UploadDir == "" {
		config.UploadDir = "temp_uploads"
	}
	if config.ListenTimeout == 0 {
		config.ListenTimeout = 5 * time.Second
	}
	return &Server{
		creds:         creds,
		tokens:        tokens,
		engine:        engine,
		pipeline:      pipeline,
		library:       library,
		history:       history,
		transcriber:   transcriber,
		speaker:       speaker,
		listener:      listener,
		uploadDir:     config.UploadDir,
		listenTimeout: config.ListenTimeout,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/login", s.handleLogin)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/libraries", s.handleListLibraries)
			r.Get("/history", s.handleHistory)
			r.Post("/chat", s.handleChat)
			r.Post("/voice/transcribe", s.handleTranscribe)

			// Admin-only library management
			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Post("/libraries", s.handleUpload)
				r.Delete("/libraries/{name}", s.handleDeleteLibrary)
			})
		})
	})

	r.Get("/ws", s.handleWebSocket)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
