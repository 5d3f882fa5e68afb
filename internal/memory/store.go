package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrMemoryUnavailable is returned by Add when the embedding backend or
// the on-disk index cannot be reached. Add fails loudly: silently
// dropping a dialogue turn from long-term memory is a data-loss risk the
// caller must decide about. Retrieve never returns this error; it
// degrades to an empty result set instead.
var ErrMemoryUnavailable = errors.New("memory backend unavailable")

// seedText is inserted when the index is empty so similarity search
// never operates on an empty table.
const seedText = "This is the first record of Nox's long-term memory."

// Embedder turns text into a fixed-length vector. Satisfied by
// embeddings.Client.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

// Result is one retrieved memory record. Score is cosine similarity:
// higher means more similar, 1.0 is identical.
type Result struct {
	Text  string
	Score float64
}

// Record is a stored vector record.
type Record struct {
	ID        string
	Text      string
	Metadata  string
	CreatedAt time.Time
}

// StoreConfig configures a Store.
type StoreConfig struct {
	// Path is the sqlite database file. Parent directories are created.
	Path string

	// Embedder generates vectors at insert and query time.
	Embedder Embedder

	// MinSimilarity is the relevance cutoff. Matches scoring below it
	// are discarded even if fewer than k results remain; stuffing
	// irrelevant context into the prompt degrades answers more than
	// missing context does.
	MinSimilarity float64

	ChunkSize    int
	ChunkOverlap int

	Logger *slog.Logger
}

// Store is the persistent long-term memory: a sqlite-backed vector index
// over past dialogue. Reads run concurrently; writes are serialized
// behind a mutex (single-writer discipline for the on-disk index).
type Store struct {
	db            *sql.DB
	embedder      Embedder
	minSimilarity float64
	chunkSize     int
	chunkOverlap  int
	logger        *slog.Logger

	writeMu sync.Mutex
}

// NewStore opens (or creates) the vector index at cfg.Path.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("memory: embedder is required")
	}
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = 0.3
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = DefaultChunkOverlap
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{
		db:            db,
		embedder:      cfg.Embedder,
		minSimilarity: cfg.MinSimilarity,
		chunkSize:     cfg.ChunkSize,
		chunkOverlap:  cfg.ChunkOverlap,
		logger:        cfg.Logger,
	}

	if err := s.configure(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	// Bootstrap an empty index with one seed record so nearest-neighbor
	// search never runs over zero rows. An unreachable embedder here is
	// not fatal; seeding is retried on the next Add.
	if err := s.ensureSeed(context.Background()); err != nil {
		s.logger.Warn("memory seed deferred", "error", err)
	}

	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			embedding BLOB NOT NULL,
			metadata TEXT,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_records_created ON records(created_at);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add splits text into chunks, embeds each, and persists them
// immediately. If the embedding backend is unavailable the whole call
// fails with ErrMemoryUnavailable and nothing is written.
func (s *Store) Add(ctx context.Context, text string) error {
	return s.AddWithMetadata(ctx, text, "")
}

// AddWithMetadata is Add with an opaque metadata string stored alongside
// each chunk (e.g. a source label for ingested documents).
func (s *Store) AddWithMetadata(ctx context.Context, text, metadata string) error {
	chunks := SplitText(text, s.chunkSize, s.chunkOverlap)
	if len(chunks) == 0 {
		return nil
	}

	// Embed outside the write lock; only the inserts need serializing.
	embedded := make([][]byte, len(chunks))
	for i, chunk := range chunks {
		vec, err := s.embedder.Generate(ctx, chunk)
		if err != nil {
			return fmt.Errorf("%w: embed chunk %d: %v", ErrMemoryUnavailable, i, err)
		}
		blob, err := EncodeVector(vec)
		if err != nil {
			return fmt.Errorf("encode chunk %d: %w", i, err)
		}
		embedded[i] = blob
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.ensureSeedLocked(ctx); err != nil {
		s.logger.Warn("memory seed deferred", "error", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrMemoryUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339)
	for i, chunk := range chunks {
		id, _ := uuid.NewV7()
		_, err := tx.Exec(`
			INSERT INTO records (id, text, embedding, metadata, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, id.String(), chunk, embedded[i], metadata, now)
		if err != nil {
			return fmt.Errorf("%w: insert chunk %d: %v", ErrMemoryUnavailable, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrMemoryUnavailable, err)
	}

	s.logger.Debug("memory updated", "chunks", len(chunks), "bytes", len(text))
	return nil
}

// Retrieve embeds the query and returns up to k records passing the
// relevance cutoff, most similar first. A naive top-k search always
// returns k rows even when nothing is relevant, so results below
// MinSimilarity are filtered out; zero results is a valid outcome.
//
// If the embedding backend is unavailable, Retrieve logs and returns an
// empty set: a turn without long-term context beats a failed turn.
func (s *Store) Retrieve(ctx context.Context, query string, k int) []Result {
	if k <= 0 {
		return nil
	}

	queryVec, err := s.embedder.Generate(ctx, query)
	if err != nil {
		s.logger.Warn("memory retrieval degraded: embedding backend unavailable", "error", err)
		return nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT text, embedding FROM records`)
	if err != nil {
		s.logger.Warn("memory retrieval degraded: index unreadable", "error", err)
		return nil
	}
	defer rows.Close()

	var scored []Result
	for rows.Next() {
		var text string
		var blob []byte
		if err := rows.Scan(&text, &blob); err != nil {
			continue
		}
		vec, err := DecodeVector(blob)
		if err != nil {
			s.logger.Warn("skipping undecodable memory record", "error", err)
			continue
		}

		score := CosineSimilarity(queryVec, vec)
		if score < s.minSimilarity {
			continue
		}
		scored = append(scored, Result{Text: text, Score: score})
	}
	if err := rows.Err(); err != nil {
		// A mid-iteration failure truncates the candidate set; the
		// results so far are still usable.
		s.logger.Warn("memory retrieval degraded: index scan interrupted", "error", err)
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}

	return scored
}

// Count returns the number of stored records.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Stats returns memory statistics for the API.
func (s *Store) Stats() map[string]any {
	n, _ := s.Count()
	var oldest sql.NullString
	_ = s.db.QueryRow(`SELECT MIN(created_at) FROM records`).Scan(&oldest)

	stats := map[string]any{
		"records":        n,
		"min_similarity": s.minSimilarity,
		"storage":        "sqlite",
	}
	if oldest.Valid {
		stats["oldest_record"] = oldest.String
	}
	return stats
}

func (s *Store) ensureSeed(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.ensureSeedLocked(ctx)
}

func (s *Store) ensureSeedLocked(ctx context.Context) error {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return fmt.Errorf("count records: %w", err)
	}
	if n > 0 {
		return nil
	}

	vec, err := s.embedder.Generate(ctx, seedText)
	if err != nil {
		return fmt.Errorf("embed seed record: %w", err)
	}
	blob, err := EncodeVector(vec)
	if err != nil {
		return fmt.Errorf("encode seed record: %w", err)
	}

	id, _ := uuid.NewV7()
	_, err = s.db.Exec(`
		INSERT INTO records (id, text, embedding, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id.String(), seedText, blob, "seed", time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert seed record: %w", err)
	}

	s.logger.Info("memory index bootstrapped with seed record")
	return nil
}
