package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ircarchive/ircview/pkg/domain"
	"github.com/ircarchive/ircview/pkg/store"
)

// Store implements ArtifactStore using SQLite.
type Store struct {
	db *sql.DB
}

// Verify interface compliance at compile time.
var _ store.ArtifactStore = (*Store)(nil)

// New opens (or creates) a SQLite database at the given path and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS artifacts (
		slug TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		query TEXT NOT NULL DEFAULT '',
		channel TEXT NOT NULL DEFAULT '',
		path TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_created ON artifacts(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) SaveArtifact(ctx context.Context, a *domain.Artifact) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (slug, title, query, channel, path, url, size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(slug) DO UPDATE SET
			title=excluded.title, query=excluded.query, channel=excluded.channel,
			path=excluded.path, url=excluded.url, size=excluded.size, created_at=excluded.created_at`,
		a.Slug, a.Title, a.Query, a.Channel, a.Path, a.URL, a.Size, a.CreatedAt,
	)
	return err
}

func (s *Store) GetArtifact(ctx context.Context, slug string) (*domain.Artifact, error) {
	a := &domain.Artifact{}
	err := s.db.QueryRowContext(ctx,
		`SELECT slug, title, query, channel, path, url, size, created_at
		 FROM artifacts WHERE slug = ?`, slug,
	).Scan(&a.Slug, &a.Title, &a.Query, &a.Channel, &a.Path, &a.URL, &a.Size, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("artifact %s: %w", slug, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) ListArtifacts(ctx context.Context, limit int) ([]domain.Artifact, error) {
	query := `SELECT slug, title, query, channel, path, url, size, created_at
		FROM artifacts ORDER BY created_at DESC, slug`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		if err := rows.Scan(&a.Slug, &a.Title, &a.Query, &a.Channel, &a.Path, &a.URL, &a.Size, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
