// Package storage persists dataset metadata in SQLite: the schema, the
// document sources and the operational counters. The working index is
// never persisted; it is rebuilt from the sources after a restart.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/tansaku/internal/core"
)

// DatasetMeta is one persisted dataset row.
type DatasetMeta struct {
	Name        string
	SchemaYAML  string
	SourcePath  string
	DocCount    int64
	SearchCount int64
	LastBuildAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SQLiteStorage implements the metadata store using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and
// initializes the schema. Parent directories are created if they do not
// exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS datasets (
		name TEXT PRIMARY KEY,
		schema_yaml TEXT NOT NULL DEFAULT '',
		source_path TEXT NOT NULL DEFAULT '',
		doc_count INTEGER NOT NULL DEFAULT 0,
		search_count INTEGER NOT NULL DEFAULT 0,
		last_build_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_datasets_updated_at ON datasets(updated_at);
	`
	_, err := db.Exec(schema)
	return err
}

// UpsertDataset inserts or replaces a dataset row.
func (s *SQLiteStorage) UpsertDataset(ctx context.Context, meta *DatasetMeta) error {
	now := time.Now()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	meta.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO datasets (name, schema_yaml, source_path, doc_count, search_count, last_build_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			schema_yaml = excluded.schema_yaml,
			source_path = excluded.source_path,
			doc_count = excluded.doc_count,
			search_count = excluded.search_count,
			last_build_at = excluded.last_build_at,
			updated_at = excluded.updated_at`,
		meta.Name, meta.SchemaYAML, meta.SourcePath, meta.DocCount, meta.SearchCount,
		nullableTime(meta.LastBuildAt), meta.CreatedAt, meta.UpdatedAt,
	)
	return err
}

// GetDataset returns a dataset row by name.
func (s *SQLiteStorage) GetDataset(ctx context.Context, name string) (*DatasetMeta, error) {
	var meta DatasetMeta
	var lastBuild sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT name, schema_yaml, source_path, doc_count, search_count, last_build_at, created_at, updated_at
		 FROM datasets WHERE name = ?`, name,
	).Scan(&meta.Name, &meta.SchemaYAML, &meta.SourcePath, &meta.DocCount, &meta.SearchCount,
		&lastBuild, &meta.CreatedAt, &meta.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: dataset %q", core.ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	if lastBuild.Valid {
		meta.LastBuildAt = lastBuild.Time
	}
	return &meta, nil
}

// ListDatasets returns every dataset row, most recently updated first.
func (s *SQLiteStorage) ListDatasets(ctx context.Context) ([]*DatasetMeta, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, schema_yaml, source_path, doc_count, search_count, last_build_at, created_at, updated_at
		 FROM datasets ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metas []*DatasetMeta
	for rows.Next() {
		var meta DatasetMeta
		var lastBuild sql.NullTime
		if err := rows.Scan(&meta.Name, &meta.SchemaYAML, &meta.SourcePath, &meta.DocCount,
			&meta.SearchCount, &lastBuild, &meta.CreatedAt, &meta.UpdatedAt); err != nil {
			return nil, err
		}
		if lastBuild.Valid {
			meta.LastBuildAt = lastBuild.Time
		}
		metas = append(metas, &meta)
	}
	return metas, rows.Err()
}

// DeleteDataset removes a dataset row.
func (s *SQLiteStorage) DeleteDataset(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM datasets WHERE name = ?`, name)
	return err
}

// RecordBuild stamps a completed index build on the dataset row.
func (s *SQLiteStorage) RecordBuild(ctx context.Context, name string, docCount int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE datasets SET doc_count = ?, last_build_at = ?, updated_at = ? WHERE name = ?`,
		docCount, time.Now(), time.Now(), name,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: dataset %q", core.ErrNotFound, name)
	}
	return nil
}

// RecordSearches adds to the dataset's search counter.
func (s *SQLiteStorage) RecordSearches(ctx context.Context, name string, n int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE datasets SET search_count = search_count + ?, updated_at = ? WHERE name = ?`,
		n, time.Now(), name,
	)
	return err
}

// CountDatasets returns the dataset row count.
func (s *SQLiteStorage) CountDatasets(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM datasets`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
