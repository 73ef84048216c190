package models

import "time"

// Role controls access to the admin-only library operations.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// User is an authenticated identity. Credentials live in the config file,
// not here.
type User struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// ChatMessage is one turn of a conversation. Messages are append-only: once
// written to a user's history they are never mutated or deleted.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
)

// Chunk is the atomic unit of retrieval: a bounded span of source text
// produced by splitting a document. A chunk belongs to exactly one knowledge
// base and is only removed when the whole base is deleted.
type Chunk struct {
	Source  string `json:"source"`  // originating document name
	Ordinal int    `json:"ordinal"` // position within the document
	Text    string `json:"text"`
}

// ScoredChunk is a retrieval hit with its similarity to the query.
type ScoredChunk struct {
	Chunk
	Score float32 `json:"score"`
}

// LibraryInfo describes one named knowledge base.
type LibraryInfo struct {
	Name      string `json:"name"`
	Chunks    int    `json:"chunks"`
	Dimension int    `json:"dimension"`
}
