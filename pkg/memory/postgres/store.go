package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/moksori-live/moksori/pkg/memory"
	"github.com/moksori-live/moksori/pkg/provider/embeddings"
)

const (
	defaultMaxEntries  = 100
	defaultSearchLimit = 5
)

// Store is the PostgreSQL-backed memory store. It implements both store
// interfaces plus [memory.Searcher]; long-term entries are embedded on
// insert so Search can rank them by cosine distance to a query.
//
// All operations are safe for concurrent use.
type Store struct {
	pool  *pgxpool.Pool
	embed embeddings.Provider
	max   int
	log   *slog.Logger
}

// Option is a functional option for Store.
type Option func(*Store)

// WithMaxEntries caps the number of long-term memories. Defaults to 100.
func WithMaxEntries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.max = n
		}
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// NewStore connects to the database at dsn, registers pgvector types on
// every connection, and runs [Migrate] with the embedder's dimension.
func NewStore(ctx context.Context, dsn string, embedder embeddings.Provider, opts ...Option) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("postgres memory: embedder must not be nil")
	}
	dims := embedder.Dimensions()
	if dims <= 0 {
		return nil, fmt.Errorf("postgres memory: embedding dimension unknown for model %q", embedder.ModelID())
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres memory: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres memory: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres memory: ping: %w", err)
	}
	if err := Migrate(ctx, pool, dims); err != nil {
		pool.Close()
		return nil, err
	}

	s := &Store{pool: pool, embed: embedder, max: defaultMaxEntries, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// ---- memory.LongTermStore ----------------------------------------------------

// Add inserts text unless it is empty or already stored, evicting the oldest
// entries beyond the cap. A failed embedding is logged and the text stored
// without a vector; it simply stays invisible to Search.
func (s *Store) Add(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	var vecArg any
	if vec, err := s.embed.Embed(ctx, text); err != nil {
		s.log.Warn("failed to embed long-term memory, storing without vector",
			"error", err)
	} else {
		vecArg = pgvector.NewVector(vec)
	}

	const insert = `
		INSERT INTO long_term_memories (text, embedding)
		VALUES ($1, $2)
		ON CONFLICT (text) DO NOTHING`
	if _, err := s.pool.Exec(ctx, insert, text, vecArg); err != nil {
		return fmt.Errorf("postgres memory: add: %w", err)
	}

	const trim = `
		DELETE FROM long_term_memories
		WHERE id NOT IN (
			SELECT id FROM long_term_memories ORDER BY id DESC LIMIT $1
		)`
	if _, err := s.pool.Exec(ctx, trim, s.max); err != nil {
		return fmt.Errorf("postgres memory: trim: %w", err)
	}
	return nil
}

// Recent returns up to limit of the newest entries in chronological order.
// A non-positive limit returns everything.
func (s *Store) Recent(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return s.All(ctx)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT text FROM long_term_memories ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres memory: recent: %w", err)
	}
	texts, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres memory: recent: %w", err)
	}
	slices.Reverse(texts)
	return texts, nil
}

// All returns every entry in chronological order.
func (s *Store) All(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT text FROM long_term_memories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres memory: all: %w", err)
	}
	texts, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres memory: all: %w", err)
	}
	return texts, nil
}

// ---- memory.Searcher ---------------------------------------------------------

// Search returns up to limit entries ranked by cosine distance between the
// query embedding and stored vectors, nearest first.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	vec, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres memory: embed query: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT text
		FROM   long_term_memories
		WHERE  embedding IS NOT NULL
		ORDER  BY embedding <=> $1
		LIMIT  $2`, pgvector.NewVector(vec), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres memory: search: %w", err)
	}
	texts, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres memory: search: %w", err)
	}
	return texts, nil
}

// ---- memory.CoreStore --------------------------------------------------------

// Append stores one core entry. A zero Timestamp is stamped with the current
// local time; an unparseable one is logged and replaced.
func (s *Store) Append(ctx context.Context, e memory.CoreEntry) error {
	ts := time.Now()
	if e.Timestamp != "" {
		parsed, err := time.ParseInLocation(memory.TimestampLayout, e.Timestamp, time.Local)
		if err != nil {
			s.log.Warn("core entry timestamp is malformed, using current time",
				"timestamp", e.Timestamp, "error", err)
		} else {
			ts = parsed
		}
	}

	const insert = `
		INSERT INTO core_memories (memory_text, importance_level, category, created_at)
		VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, insert, e.MemoryText, e.ImportanceLevel, e.Category, ts); err != nil {
		return fmt.Errorf("postgres memory: append core: %w", err)
	}
	return nil
}

// Entries returns all core entries in insertion order.
func (s *Store) Entries(ctx context.Context) ([]memory.CoreEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT memory_text, importance_level, category, created_at
		FROM   core_memories
		ORDER  BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres memory: entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.CoreEntry, error) {
		var (
			e  memory.CoreEntry
			ts time.Time
		)
		if err := row.Scan(&e.MemoryText, &e.ImportanceLevel, &e.Category, &ts); err != nil {
			return memory.CoreEntry{}, err
		}
		e.Timestamp = ts.Local().Format(memory.TimestampLayout)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres memory: scan entries: %w", err)
	}
	return entries, nil
}

// Ensure Store implements the memory contracts at compile time.
var (
	_ memory.LongTermStore = (*Store)(nil)
	_ memory.CoreStore     = (*Store)(nil)
	_ memory.Searcher      = (*Store)(nil)
)
