// Package postgres provides the optional PostgreSQL memory backend: the same
// long-term and core stores as jsonfile, plus pgvector embeddings over
// long-term entries so the prompt assembler can recall facts semantically
// related to the current task.
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it via CREATE EXTENSION IF NOT EXISTS and is safe to run on every
// application start.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlLongTerm returns the long-term memory DDL with the embedding dimension
// substituted. The dimension is baked into the column type at schema
// creation; changing it later requires a manual migration.
func ddlLongTerm(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS long_term_memories (
    id          BIGSERIAL    PRIMARY KEY,
    text        TEXT         NOT NULL UNIQUE,
    embedding   vector(%d),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_long_term_memories_embedding
    ON long_term_memories USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

const ddlCoreMemories = `
CREATE TABLE IF NOT EXISTS core_memories (
    id               BIGSERIAL    PRIMARY KEY,
    memory_text      TEXT         NOT NULL,
    importance_level TEXT         NOT NULL,
    category         TEXT         NOT NULL,
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// Migrate ensures all required tables and extensions exist. It is idempotent
// and safe to call on every start. embeddingDimensions must match the
// configured embedding model (e.g. 1536 for text-embedding-3-small, 768 for
// nomic-embed-text).
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	for _, stmt := range []string{ddlLongTerm(embeddingDimensions), ddlCoreMemories} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
