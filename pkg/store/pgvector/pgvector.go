// Package pgvector keeps every knowledge base in a single Postgres table
// with a kb column, using the pgvector extension for cosine similarity
// search. Suited to deployments where the chat service and ingestion run on
// different hosts.
package pgvector

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"mindnexus/internal/models"
	"mindnexus/internal/types"
	"mindnexus/pkg/store"
)

type Config struct {
	ConnString string
	TableName  string
	VectorDim  int
}

type Store struct {
	config Config
	pool   *pgxpool.Pool
}

func NewStore(config Config) (*Store, error) {
	if config.TableName == "" {
		config.TableName = "library_chunks"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768 // nomic-embed-text
	}

	pool, err := pgxpool.New(context.Background(), config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	s := &Store{config: config, pool: pool}
	if err := s.initialize(); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	ctx := context.Background()

	_, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %v", err)
	}

	_, err = s.pool.Exec(ctx, createTableSQL(s.config.TableName, s.config.VectorDim))
	if err != nil {
		return fmt.Errorf("failed to create table: %v", err)
	}

	_, err = s.pool.Exec(ctx, createIndexSQL(s.config.TableName))
	if err != nil {
		return fmt.Errorf("failed to create index: %v", err)
	}

	return nil
}

func createTableSQL(table string, dim int) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			kb TEXT NOT NULL,
			source TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d),
			PRIMARY KEY (kb, source, ordinal)
		)`, table, dim)
}

func createIndexSQL(table string) string {
	return fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		table, table)
}

func upsertSQL(table string) string {
	return fmt.Sprintf(`
		INSERT INTO %s (kb, source, ordinal, content, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kb, source, ordinal) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding`,
		table)
}

func searchSQL(table string) string {
	// Cosine distance; the secondary ordinal sort keeps ties deterministic.
	return fmt.Sprintf(`
		SELECT source, ordinal, content, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE kb = $2
		ORDER BY embedding <=> $1, ordinal
		LIMIT $3`,
		table)
}

// Create clears any rows already stored under the name and returns a
// collection to fill. Same replace-not-merge policy as the disk backend.
func (s *Store) Create(ctx context.Context, name string, dimension int) (types.Collection, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty", store.ErrInvalidName)
	}
	if dimension != s.config.VectorDim {
		return nil, fmt.Errorf("dimension %d does not match table dimension %d", dimension, s.config.VectorDim)
	}

	del := fmt.Sprintf("DELETE FROM %s WHERE kb = $1", s.config.TableName)
	if _, err := s.pool.Exec(ctx, del, name); err != nil {
		return nil, fmt.Errorf("failed to clear existing base %s: %v", name, err)
	}
	return &collection{store: s, kb: name}, nil
}

func (s *Store) Open(ctx context.Context, name string) (types.Collection, error) {
	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE kb = $1)", s.config.TableName)
	var exists bool
	if err := s.pool.QueryRow(ctx, query, name).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to look up base %s: %v", name, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, name)
	}
	return &collection{store: s, kb: name}, nil
}

func (s *Store) List(ctx context.Context) ([]models.LibraryInfo, error) {
	query := fmt.Sprintf("SELECT kb, COUNT(*) FROM %s GROUP BY kb ORDER BY kb", s.config.TableName)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate libraries: %v", err)
	}
	defer rows.Close()

	var infos []models.LibraryInfo
	for rows.Next() {
		var info models.LibraryInfo
		if err := rows.Scan(&info.Name, &info.Chunks); err != nil {
			return nil, fmt.Errorf("failed to scan library row: %v", err)
		}
		info.Dimension = s.config.VectorDim
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (s *Store) Delete(ctx context.Context, name string) error {
	del := fmt.Sprintf("DELETE FROM %s WHERE kb = $1", s.config.TableName)
	tag, err := s.pool.Exec(ctx, del, name)
	if err != nil {
		return fmt.Errorf("failed to delete base %s: %v", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, name)
	}
	return nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

type collection struct {
	store *Store
	kb    string
}

func (c *collection) Add(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk/vector count mismatch: %d vs %d", len(chunks), len(vectors))
	}

	tx, err := c.store.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	stmt := upsertSQL(c.store.config.TableName)

	for i, chunk := range chunks {
		_, err := tx.Exec(ctx, stmt,
			c.kb,
			chunk.Source,
			chunk.Ordinal,
			sanitizeUTF8(chunk.Text),
			pgvector.NewVector(vectors[i]),
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk: %v", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %v", err)
	}
	return nil
}

func (c *collection) Search(ctx context.Context, vector []float32, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		k = 3
	}

	query := searchSQL(c.store.config.TableName)

	rows, err := c.store.pool.Query(ctx, query, pgvector.NewVector(vector), c.kb, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %v", err)
	}
	defer rows.Close()

	var results []models.ScoredChunk
	for rows.Next() {
		var sc models.ScoredChunk
		if err := rows.Scan(&sc.Source, &sc.Ordinal, &sc.Text, &sc.Score); err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %v", err)
		}
		results = append(results, sc)
	}
	return results, rows.Err()
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
