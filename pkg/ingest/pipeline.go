package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
	"golang.org/x/time/rate"

	"mindnexus/internal/models"
	"mindnexus/internal/types"
)

// Error wraps any ingestion failure together with the offending filename so
// the admin surface can report which upload broke.
type Error struct {
	File string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ingestion of %s failed: %v", e.File, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

const embedBatchSize = 16

type Config struct {
	ChunkSize    int
	ChunkOverlap int
	RateLimit    float64            // embedding requests per second
	OnProgress   func(done, total int)
}

// Pipeline turns a document file into a named knowledge base: extract text,
// split into overlapping chunks, embed, persist. Re-ingesting an existing
// name replaces the base.
type Pipeline struct {
	embedder   types.Embedder
	library    types.Library
	splitter   textsplitter.TextSplitter
	limiter    *rate.Limiter
	onProgress func(done, total int)
}

func NewPipeline(embedder types.Embedder, library types.Library, config Config) *Pipeline {
	if config.ChunkSize == 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = 150
	}
	if config.RateLimit == 0 {
		config.RateLimit = 10.0
	}
	onProgress := config.OnProgress
	if onProgress == nil {
		onProgress = func(done, total int) {}
	}

	// The recursive splitter prefers paragraph, then sentence, then word
	// boundaries before falling back to a hard character cut.
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(config.ChunkSize),
		textsplitter.WithChunkOverlap(config.ChunkOverlap),
	)

	return &Pipeline{
		embedder:   embedder,
		library:    library,
		splitter:   splitter,
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		onProgress: onProgress,
	}
}

// Ingest loads the file at path, chunks and embeds it, and persists the
// result under kbName.
func (p *Pipeline) Ingest(ctx context.Context, path, kbName string) error {
	docs, err := p.loadAndSplit(ctx, path)
	if err != nil {
		return &Error{File: filepath.Base(path), Err: err}
	}
	if len(docs) == 0 {
		return &Error{File: filepath.Base(path), Err: fmt.Errorf("no text extracted")}
	}

	source := filepath.Base(path)
	chunks := make([]models.Chunk, len(docs))
	texts := make([]string, len(docs))
	for i, doc := range docs {
		chunks[i] = models.Chunk{Source: source, Ordinal: i, Text: doc.PageContent}
		texts[i] = doc.PageContent
	}

	vectors, err := p.embedAll(ctx, texts)
	if err != nil {
		return &Error{File: source, Err: err}
	}

	collection, err := p.library.Create(ctx, kbName, len(vectors[0]))
	if err != nil {
		return &Error{File: source, Err: err}
	}
	if err := collection.Add(ctx, chunks, vectors); err != nil {
		return &Error{File: source, Err: err}
	}
	return nil
}

func (p *Pipeline) loadAndSplit(ctx context.Context, path string) ([]schema.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unreadable file: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		info, err := f.Stat()
		if err != nil {
			return nil, err
		}
		return documentloaders.NewPDF(f, info.Size()).LoadAndSplit(ctx, p.splitter)
	case ".txt", ".md":
		return documentloaders.NewText(f).LoadAndSplit(ctx, p.splitter)
	default:
		return nil, fmt.Errorf("unsupported document type %q", filepath.Ext(path))
	}
}

// embedAll embeds texts in small batches behind the rate limiter so slow
// embedding backends are not flooded.
func (p *Pipeline) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		batch, err := p.embedder.EmbedTexts(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding failed: %w", err)
		}
		vectors = append(vectors, batch...)
		p.onProgress(end, len(texts))
	}
	return vectors, nil
}

// BaseName derives a knowledge-base name from an uploaded filename, the same
// way the admin upload panel does: extension stripped, spaces replaced.
func BaseName(filename string) string {
	name := filepath.Base(filename)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.ReplaceAll(name, " ", "_")
	return name
}
