package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"mindnexus/internal/models"
)

// Store keeps one JSON file per username under a root directory, holding the
// ordered ChatMessage sequence. Appends re-read, extend, and rewrite the
// whole file; a per-user mutex serializes writers and the rewrite goes
// through a temp file + rename so a crash mid-write never loses messages
// that were already persisted.
type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history root: %w", err)
	}
	return &Store{
		root:  root,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

func (s *Store) userLock(username string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[username]
	if !ok {
		l = &sync.Mutex{}
		s.locks[username] = l
	}
	return l
}

func (s *Store) path(username string) string {
	return filepath.Join(s.root, sanitizeUsername(username)+".json")
}

// Load returns the user's full message history in append order, or an empty
// slice if the user has no history yet.
func (s *Store) Load(username string) ([]models.ChatMessage, error) {
	l := s.userLock(username)
	l.Lock()
	defer l.Unlock()
	return s.load(username)
}

func (s *Store) load(username string) ([]models.ChatMessage, error) {
	data, err := os.ReadFile(s.path(username))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []models.ChatMessage{}, nil
		}
		return nil, fmt.Errorf("failed to read history for %s: %w", username, err)
	}

	var messages []models.ChatMessage
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("failed to parse history for %s: %w", username, err)
	}
	return messages, nil
}

// Append adds one message to the end of the user's history, creating the
// history file on first write.
func (s *Store) Append(username string, msg models.ChatMessage) error {
	l := s.userLock(username)
	l.Lock()
	defer l.Unlock()

	messages, err := s.load(username)
	if err != nil {
		return err
	}
	messages = append(messages, msg)

	data, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode history for %s: %w", username, err)
	}

	path := s.path(username)
	tmp, err := os.CreateTemp(s.root, ".history-*")
	if err != nil {
		return fmt.Errorf("failed to create temp history file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write history for %s: %w", username, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to flush history for %s: %w", username, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace history for %s: %w", username, err)
	}
	return nil
}

// sanitizeUsername keeps history filenames inside the root no matter what
// the login surface passes in.
func sanitizeUsername(username string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, username)
	clean = strings.Trim(clean, ".")
	if clean == "" {
		clean = "_"
	}
	return clean
}
