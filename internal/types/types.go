package types

import (
	"context"
	"time"

	"mindnexus/internal/models"
)

// Embedder converts text into fixed-dimension vectors. The same embedder
// must be used at ingestion and at query time; mixing models silently
// degrades retrieval with no error signal.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Collection is one opened knowledge base.
type Collection interface {
	Add(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error
	// Search returns up to k chunks ordered by descending similarity.
	// Ties break on chunk ordinal so results are deterministic.
	Search(ctx context.Context, vector []float32, k int) ([]models.ScoredChunk, error)
}

// Library manages named knowledge bases on durable storage. Creating a name
// that already exists replaces it; deletion is destructive and immediate.
// Callers are expected to be the only writer for a given name.
type Library interface {
	Create(ctx context.Context, name string, dimension int) (Collection, error)
	Open(ctx context.Context, name string) (Collection, error)
	List(ctx context.Context) ([]models.LibraryInfo, error)
	Delete(ctx context.Context, name string) error
	Close() error
}

// Answerer produces a grounded answer to a question given retrieved chunks.
type Answerer interface {
	Answer(ctx context.Context, question string, chunks []models.ScoredChunk) (string, error)
}

// Synthesizer turns text into playable audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Transcriber turns captured audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// HistoryStore is the durable per-user chat log.
type HistoryStore interface {
	Load(username string) ([]models.ChatMessage, error)
	Append(username string, msg models.ChatMessage) error
}

// Recorder captures audio from the default input device for up to the given
// duration.
type Recorder interface {
	Record(ctx context.Context, d time.Duration) ([]byte, error)
}
