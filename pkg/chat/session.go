package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"mindnexus/internal/models"
	"mindnexus/internal/types"
	"mindnexus/pkg/voice"
)

// ErrNoLibrary is returned when a question arrives before a knowledge base
// has been selected.
var ErrNoLibrary = errors.New("no knowledge base selected")

// RetrievalError marks a failure to open or query the selected knowledge
// base, as opposed to a failed language-model call.
type RetrievalError struct {
	KB  string
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval from %s failed: %v", e.KB, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// Engine bundles the collaborators every session shares.
type Engine struct {
	embedder types.Embedder
	answerer types.Answerer
	library  types.Library
	history  types.HistoryStore
	topK     int
}

func NewEngine(embedder types.Embedder, answerer types.Answerer, library types.Library, history types.HistoryStore, topK int) *Engine {
	if topK <= 0 {
		topK = 3
	}
	return &Engine{
		embedder: embedder,
		answerer: answerer,
		library:  library,
		history:  history,
		topK:     topK,
	}
}

func (e *Engine) Library() types.Library { return e.library }

// NewSession creates the per-login session object: authenticated user,
// their persisted transcript, the selected knowledge base, and the voice
// handle. It lives from login to logout and is passed around explicitly.
func (e *Engine) NewSession(user models.User, speaker *voice.Speaker, listener *voice.Listener) (*Session, error) {
	messages, err := e.history.Load(user.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return &Session{
		engine:   e,
		user:     user,
		messages: messages,
		speaker:  speaker,
		listener: listener,
	}, nil
}

// Session is one user's conversation state.
type Session struct {
	engine   *Engine
	user     models.User
	speaker  *voice.Speaker
	listener *voice.Listener

	mu       sync.Mutex
	selected string
	messages []models.ChatMessage
}

func (s *Session) User() models.User { return s.user }

func (s *Session) Engine() *Engine { return s.engine }

// SelectLibrary switches the session to the named knowledge base after
// verifying it exists.
func (s *Session) SelectLibrary(ctx context.Context, name string) error {
	if _, err := s.engine.library.Open(ctx, name); err != nil {
		return err
	}
	s.mu.Lock()
	s.selected = name
	s.mu.Unlock()
	return nil
}

func (s *Session) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Messages returns a copy of the in-memory transcript.
func (s *Session) Messages() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// Ask runs one retrieval-augmented turn: embed the question, fetch the most
// similar chunks from the selected base, and have the model answer grounded
// in them. The user's turn is persisted before the model is called, so an
// upstream failure never discards the question.
func (s *Session) Ask(ctx context.Context, question string) (models.ChatMessage, error) {
	s.mu.Lock()
	kb := s.selected
	s.mu.Unlock()
	if kb == "" {
		return models.ChatMessage{}, ErrNoLibrary
	}

	userMsg := models.ChatMessage{
		ID:        uuid.NewString(),
		Role:      models.MessageRoleUser,
		Content:   question,
		CreatedAt: time.Now(),
	}
	if err := s.engine.history.Append(s.user.Username, userMsg); err != nil {
		return models.ChatMessage{}, fmt.Errorf("failed to persist question: %w", err)
	}
	s.mu.Lock()
	s.messages = append(s.messages, userMsg)
	s.mu.Unlock()

	collection, err := s.engine.library.Open(ctx, kb)
	if err != nil {
		return models.ChatMessage{}, &RetrievalError{KB: kb, Err: err}
	}

	queryVector, err := s.engine.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return models.ChatMessage{}, &RetrievalError{KB: kb, Err: err}
	}

	chunks, err := collection.Search(ctx, queryVector, s.engine.topK)
	if err != nil {
		return models.ChatMessage{}, &RetrievalError{KB: kb, Err: err}
	}

	answer, err := s.engine.answerer.Answer(ctx, question, chunks)
	if err != nil {
		return models.ChatMessage{}, err
	}

	assistantMsg := models.ChatMessage{
		ID:        uuid.NewString(),
		Role:      models.MessageRoleAssistant,
		Content:   answer,
		CreatedAt: time.Now(),
	}
	if err := s.engine.history.Append(s.user.Username, assistantMsg); err != nil {
		return models.ChatMessage{}, fmt.Errorf("failed to persist answer: %w", err)
	}
	s.mu.Lock()
	s.messages = append(s.messages, assistantMsg)
	s.mu.Unlock()

	return assistantMsg, nil
}

// CanSpeak reports whether voice output is configured for this session.
func (s *Session) CanSpeak() bool { return s.speaker != nil }

// Speak reads the given text aloud, interrupting any current utterance.
func (s *Session) Speak(text string) {
	if s.speaker != nil {
		s.speaker.Start(text)
	}
}

func (s *Session) StopSpeaking() {
	if s.speaker != nil {
		s.speaker.Stop()
	}
}

func (s *Session) IsSpeaking() bool {
	return s.speaker != nil && s.speaker.IsSpeaking()
}

// Listen blocks while capturing a spoken question from the microphone.
func (s *Session) Listen(ctx context.Context, timeout time.Duration) (string, error) {
	if s.listener == nil {
		return "", voice.ErrNoInputDevice
	}
	return s.listener.Listen(ctx, timeout)
}

// Close stops any in-flight speech. History is already durable.
func (s *Session) Close() {
	s.StopSpeaking()
}
