// Package postgres provides a PostgreSQL-backed qa.Index using a pgvector
// HNSW index for approximate nearest-neighbour search over transcript
// chunks.
//
// The pgvector extension must be available in the target database;
// [New] installs it automatically via CREATE EXTENSION IF NOT EXISTS.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/omniglot-dev/dubbler/internal/qa"
)

// Compile-time interface check.
var _ qa.Index = (*Index)(nil)

// Index is the pgvector-backed transcript chunk index. All methods are safe
// for concurrent use.
type Index struct {
	pool *pgxpool.Pool
}

// New connects to the PostgreSQL database at dsn, registers pgvector types
// on every connection, and ensures the chunk table and indexes exist.
//
// embeddingDimensions must match the output dimension of the embedding model
// producing [qa.Chunk.Embedding] values (e.g., 1536 for OpenAI
// text-embedding-3-small). Changing it after the first migration requires a
// manual schema change.
func New(ctx context.Context, dsn string, embeddingDimensions int) (*Index, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("qa index: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("qa index: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("qa index: ping: %w", err)
	}

	idx := &Index{pool: pool}
	if err := idx.migrate(ctx, embeddingDimensions); err != nil {
		pool.Close()
		return nil, err
	}
	return idx, nil
}

// Close releases the connection pool.
func (i *Index) Close() {
	i.pool.Close()
}

// migrate installs the pgvector extension and creates the chunk table with
// an HNSW index for cosine search.
func (i *Index) migrate(ctx context.Context, dims int) error {
	ddl := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS transcript_chunks (
    video_id      TEXT        NOT NULL,
    chunk_index   INT         NOT NULL,
    first_segment INT         NOT NULL,
    last_segment  INT         NOT NULL,
    content       TEXT        NOT NULL,
    embedding     VECTOR(%d)  NOT NULL,
    PRIMARY KEY (video_id, chunk_index)
)`, dims),
		`CREATE INDEX IF NOT EXISTS idx_transcript_chunks_video
    ON transcript_chunks (video_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transcript_chunks_embedding
    ON transcript_chunks USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range ddl {
		if _, err := i.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("qa index: migrate: %w", err)
		}
	}
	return nil
}

// IndexChunks implements qa.Index.
func (i *Index) IndexChunks(ctx context.Context, chunks []qa.Chunk) error {
	const q = `
		INSERT INTO transcript_chunks
		    (video_id, chunk_index, first_segment, last_segment, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (video_id, chunk_index) DO UPDATE SET
		    first_segment = EXCLUDED.first_segment,
		    last_segment  = EXCLUDED.last_segment,
		    content       = EXCLUDED.content,
		    embedding     = EXCLUDED.embedding`

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(q,
			c.VideoID,
			c.ChunkIndex,
			c.FirstSegment,
			c.LastSegment,
			c.Text,
			pgvector.NewVector(c.Embedding),
		)
	}
	if err := i.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("qa index: index chunks: %w", err)
	}
	return nil
}

// Search implements qa.Index. Results are ordered by ascending cosine
// distance (most similar first).
func (i *Index) Search(ctx context.Context, videoID string, embedding []float32, topK int) ([]qa.Result, error) {
	const q = `
		SELECT video_id, chunk_index, first_segment, last_segment, content, embedding,
		       embedding <=> $2 AS distance
		FROM   transcript_chunks
		WHERE  video_id = $1
		ORDER  BY distance
		LIMIT  $3`

	rows, err := i.pool.Query(ctx, q, videoID, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("qa index: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (qa.Result, error) {
		var (
			r   qa.Result
			vec pgvector.Vector
		)
		if err := row.Scan(
			&r.Chunk.VideoID,
			&r.Chunk.ChunkIndex,
			&r.Chunk.FirstSegment,
			&r.Chunk.LastSegment,
			&r.Chunk.Text,
			&vec,
			&r.Distance,
		); err != nil {
			return qa.Result{}, err
		}
		r.Chunk.Embedding = vec.Slice()
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("qa index: scan rows: %w", err)
	}
	if results == nil {
		results = []qa.Result{}
	}
	return results, nil
}

// HasVideo implements qa.Index.
func (i *Index) HasVideo(ctx context.Context, videoID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM transcript_chunks WHERE video_id = $1)`
	var exists bool
	if err := i.pool.QueryRow(ctx, q, videoID).Scan(&exists); err != nil {
		return false, fmt.Errorf("qa index: has video: %w", err)
	}
	return exists, nil
}
