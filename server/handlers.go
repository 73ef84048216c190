package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"mindnexus/internal/models"
	"mindnexus/pkg/chat"
	"mindnexus/pkg/ingest"
	"mindnexus/pkg/llm"
	"mindnexus/pkg/store"
)

type contextKey string

const userContextKey contextKey = "user"

func userFrom(r *http.Request) models.User {
	user, _ := r.Context().Value(userContextKey).(models.User)
	return user
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, http.StatusUnauthorized, "authorization header is required")
			return
		}

		user, err := s.tokens.Parse(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !userFrom(r).IsAdmin() {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string      `json:"token"`
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.creds.Authenticate(req.Username, req.Password)
	if err != nil {
		// Same message for unknown user and wrong password.
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		log.Printf("failed to issue token for %s: %v", user.Username, err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:    token,
		Username: user.Username,
		Role:     user.Role,
	})
}

func (s *Server) handleListLibraries(w http.ResponseWriter, r *http.Request) {
	infos, err := s.library.List(r.Context())
	if err != nil {
		log.Printf("failed to list libraries: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list knowledge bases")
		return
	}
	if infos == nil {
		infos = []models.LibraryInfo{}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "a PDF file upload is required")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		writeError(w, http.StatusBadRequest, "only PDF uploads are supported")
		return
	}

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		log.Printf("failed to create upload dir: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	path := filepath.Join(s.uploadDir, filename)
	dst, err := os.Create(path)
	if err != nil {
		log.Printf("failed to store upload %s: %v", filename, err)
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(path)
		log.Printf("failed to store upload %s: %v", filename, err)
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	dst.Close()
	defer os.Remove(path)

	kbName := ingest.BaseName(filename)
	if err := s.pipeline.Ingest(r.Context(), path, kbName); err != nil {
		log.Printf("ingestion failed: %v", err)
		var ingErr *ingest.Error
		if errors.As(err, &ingErr) {
			writeError(w, http.StatusUnprocessableEntity, "could not process "+ingErr.File)
			return
		}
		writeError(w, http.StatusInternalServerError, "ingestion failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"name": kbName})
}

func (s *Server) handleDeleteLibrary(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.library.Delete(r.Context(), name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "knowledge base not found")
			return
		}
		log.Printf("failed to delete library %s: %v", name, err)
		writeError(w, http.StatusInternalServerError, "failed to delete knowledge base")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	messages, err := s.history.Load(user.Username)
	if err != nil {
		log.Printf("failed to load history for %s: %v", user.Username, err)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

type chatRequest struct {
	KnowledgeBase string `json:"knowledge_base"`
	Question      string `json:"question"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" || req.KnowledgeBase == "" {
		writeError(w, http.StatusBadRequest, "knowledge_base and question are required")
		return
	}

	session, err := s.engine.NewSession(userFrom(r), s.speaker, s.listener)
	if err != nil {
		log.Printf("failed to start session: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to start session")
		return
	}
	defer session.Close()

	if err := session.SelectLibrary(r.Context(), req.KnowledgeBase); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "knowledge base not found")
			return
		}
		log.Printf("failed to select library %s: %v", req.KnowledgeBase, err)
		writeError(w, http.StatusInternalServerError, "failed to open knowledge base")
		return
	}

	answer, err := session.Ask(r.Context(), req.Question)
	if err != nil {
		// The question is already in history; only the answer failed.
		var upstream *llm.UpstreamError
		var retrieval *chat.RetrievalError
		switch {
		case errors.As(err, &upstream):
			log.Printf("upstream failure for %s: %v", req.KnowledgeBase, err)
			writeError(w, http.StatusBadGateway, "couldn't get an answer, please try again")
		case errors.As(err, &retrieval):
			log.Printf("retrieval failure for %s: %v", req.KnowledgeBase, err)
			writeError(w, http.StatusBadGateway, "couldn't search the knowledge base")
		default:
			log.Printf("chat failure: %v", err)
			writeError(w, http.StatusInternalServerError, "chat failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.transcriber == nil {
		// No transcription endpoint configured for this deployment.
		writeError(w, http.StatusBadGateway, "voice input unavailable")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "an audio file upload is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read audio")
		return
	}

	text, err := s.transcriber.Transcribe(r.Context(), audio)
	if err != nil {
		// Voice failures are non-fatal notices, never session killers.
		log.Printf("transcription failed: %v", err)
		writeError(w, http.StatusBadGateway, "voice input unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
