package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/deusflow/dailynews/internal/news"
	"github.com/deusflow/dailynews/internal/summary"
)

// PostgresStore keeps analyses in the analysis_cache table.
type PostgresStore struct {
	db  *sql.DB
	ttl time.Duration
	log *slog.Logger
	now func() time.Time
}

// NewPostgresStore connects to the database and creates the schema.
func NewPostgresStore(ctx context.Context, connectionString string, ttl time.Duration, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store, err := newPostgresStore(ctx, db, ttl, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("postgres analysis store connected")
	return store, nil
}

// newPostgresStore wraps an open database and creates the schema.
func newPostgresStore(ctx context.Context, db *sql.DB, ttl time.Duration, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store := &PostgresStore{db: db, ttl: ttl, log: logger, now: time.Now}
	if err := store.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS analysis_cache (
		id SERIAL PRIMARY KEY,
		link_hash VARCHAR(64) UNIQUE NOT NULL,
		link TEXT NOT NULL,
		title TEXT NOT NULL,
		source VARCHAR(100),
		category VARCHAR(50),
		analysis JSONB NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		last_used_at TIMESTAMP NOT NULL DEFAULT NOW(),
		use_count INTEGER DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_analysis_cache_created_at ON analysis_cache(created_at);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) cutoff() time.Time {
	if s.ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(-s.ttl)
}

// Get returns the stored analysis of link and counts the use.
func (s *PostgresStore) Get(ctx context.Context, link string) (*summary.Analysis, bool, error) {
	query := `
		UPDATE analysis_cache
		SET last_used_at = NOW(), use_count = use_count + 1
		WHERE link_hash = $1 AND created_at > $2
		RETURNING analysis
	`

	var raw []byte
	err := s.db.QueryRowContext(ctx, query, HashLink(link), s.cutoff()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get analysis: %w", err)
	}

	var analysis summary.Analysis
	if err := json.Unmarshal(raw, &analysis); err != nil {
		return nil, false, fmt.Errorf("failed to decode analysis: %w", err)
	}
	return &analysis, true, nil
}

// Put stores the analysis of article, replacing an older one.
func (s *PostgresStore) Put(ctx context.Context, article news.Article, analysis *summary.Analysis) error {
	if analysis == nil {
		return nil
	}
	raw, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("failed to encode analysis: %w", err)
	}

	query := `
		INSERT INTO analysis_cache (link_hash, link, title, source, category, analysis, created_at, last_used_at, use_count)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW(), 1)
		ON CONFLICT (link_hash) DO UPDATE SET
			title = EXCLUDED.title,
			analysis = EXCLUDED.analysis,
			created_at = NOW(),
			last_used_at = NOW(),
			use_count = analysis_cache.use_count + 1
	`
	_, err = s.db.ExecContext(ctx, query,
		HashLink(article.Link), article.Link, article.Title, article.SourceName, string(article.Category), string(raw))
	if err != nil {
		return fmt.Errorf("failed to store analysis: %w", err)
	}
	return nil
}

// Cleanup removes expired records.
func (s *PostgresStore) Cleanup(ctx context.Context) (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM analysis_cache WHERE created_at < $1`, s.cutoff())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		s.log.Info("cleaned up expired analyses", "rows", rows)
	}
	return rows, nil
}

func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
