// Package disk persists each knowledge base as its own directory under a
// root: a meta.json describing the collection and a chunks.jsonl holding one
// chunk+vector record per line. Search is brute-force cosine similarity,
// which is plenty for per-document collections.
package disk

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mindnexus/internal/models"
	"mindnexus/internal/types"
	"mindnexus/pkg/store"
)

const (
	metaFile   = "meta.json"
	chunksFile = "chunks.jsonl"
)

type meta struct {
	Dimension int `json:"dimension"`
	Chunks    int `json:"chunks"`
}

type record struct {
	models.Chunk
	Vector []float32 `json:"vector"`
}

// Store implements types.Library on the local filesystem. A given name must
// have a single writer at a time; concurrent ingestion into the same name is
// not guarded.
type Store struct {
	root string
}

func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create library root: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) dir(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", store.ErrInvalidName, name)
	}
	return filepath.Join(s.root, name), nil
}

// Create makes a fresh collection, replacing any existing one of the same
// name. Replacement instead of merge: appending a second ingestion run to an
// existing base duplicates chunks and skews retrieval.
func (s *Store) Create(ctx context.Context, name string, dimension int) (types.Collection, error) {
	if dimension < 1 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	dir, err := s.dir(name)
	if err != nil {
		return nil, err
	}

	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("failed to clear existing base %s: %w", name, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base %s: %w", name, err)
	}

	c := &collection{dir: dir, meta: meta{Dimension: dimension}}
	if err := c.writeMeta(); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) Open(ctx context.Context, name string) (types.Collection, error) {
	dir, err := s.dir(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to open base %s: %w", name, err)
	}

	var m meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("corrupt metadata for base %s: %w", name, err)
	}
	return &collection{dir: dir, meta: m}, nil
}

func (s *Store) List(ctx context.Context) ([]models.LibraryInfo, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate libraries: %w", err)
	}

	var infos []models.LibraryInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.root, entry.Name(), metaFile))
		if err != nil {
			continue // not a knowledge base directory
		}
		var m meta
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		infos = append(infos, models.LibraryInfo{
			Name:      entry.Name(),
			Chunks:    m.Chunks,
			Dimension: m.Dimension,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Delete irreversibly removes the whole persisted base.
func (s *Store) Delete(ctx context.Context, name string) error {
	dir, err := s.dir(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(dir, metaFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", store.ErrNotFound, name)
		}
		return fmt.Errorf("failed to stat base %s: %w", name, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete base %s: %w", name, err)
	}
	return nil
}

func (s *Store) Close() error { return nil }

type collection struct {
	dir  string
	meta meta
}

func (c *collection) writeMeta() error {
	data, err := json.Marshal(c.meta)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(c.dir, metaFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

func (c *collection) Add(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk/vector count mismatch: %d vs %d", len(chunks), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != c.meta.Dimension {
			return fmt.Errorf("vector %d has dimension %d, collection expects %d", i, len(v), c.meta.Dimension)
		}
	}

	f, err := os.OpenFile(filepath.Join(c.dir, chunksFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open chunk log: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i, chunk := range chunks {
		if err := enc.Encode(record{Chunk: chunk, Vector: vectors[i]}); err != nil {
			return fmt.Errorf("failed to append chunk: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush chunk log: %w", err)
	}

	c.meta.Chunks += len(chunks)
	return c.writeMeta()
}

func (c *collection) Search(ctx context.Context, vector []float32, k int) ([]models.ScoredChunk, error) {
	if len(vector) != c.meta.Dimension {
		return nil, fmt.Errorf("query vector has dimension %d, collection expects %d", len(vector), c.meta.Dimension)
	}
	if k <= 0 {
		k = 3
	}

	f, err := os.Open(filepath.Join(c.dir, chunksFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil // empty collection
		}
		return nil, fmt.Errorf("failed to open chunk log: %w", err)
	}
	defer f.Close()

	var scored []models.ScoredChunk
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var rec record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("corrupt chunk record: %w", err)
		}
		scored = append(scored, models.ScoredChunk{
			Chunk: rec.Chunk,
			Score: cosineSimilarity(vector, rec.Vector),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chunk log: %w", err)
	}

	// Descending score; ties break on chunk ordinal so results stay
	// deterministic.
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Ordinal < scored[j].Ordinal
	})

	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k], nil
}

func cosineSimilarity(a, b []float32) float32 {
	var dot, magA, magB float32
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(magA))) * float32(math.Sqrt(float64(magB))))
}
