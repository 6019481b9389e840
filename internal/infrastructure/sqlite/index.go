// Package sqlite persists the cache range index in an SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/domain/repository"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Index implements repository.RangeIndex.
type Index struct {
	db   *sql.DB
	path string
}

var _ repository.RangeIndex = (*Index)(nil)

// Open opens (or creates) the index database at path and migrates it to the
// latest schema. An unreadable database yields an error wrapping
// repository.ErrIndexCorrupted.
func Open(ctx context.Context, path string) (*Index, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	// All mutations are serialized by the cache manager; one connection keeps
	// SQLite from ever seeing concurrent writers.
	db.SetMaxOpenConns(1)

	idx := &Index{db: db, path: path}
	if err := idx.checkIntegrity(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := idx.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

// Path returns the database file path.
func (i *Index) Path() string {
	return i.path
}

func (i *Index) checkIntegrity(ctx context.Context) error {
	var result string
	if err := i.db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return classify("integrity check", err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: quick_check: %s", repository.ErrIndexCorrupted, result)
	}
	return nil
}

func (i *Index) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, i.db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return classify("migrate", err)
	}
	return nil
}

// Load reads every span, its segments and the resource metadata.
func (i *Index) Load(ctx context.Context) (*repository.IndexSnapshot, error) {
	spans, err := i.loadSpans(ctx)
	if err != nil {
		return nil, err
	}
	resources, err := i.loadResources(ctx)
	if err != nil {
		return nil, err
	}
	return &repository.IndexSnapshot{Spans: spans, Resources: resources}, nil
}

type spanID struct {
	key    model.ResourceKey
	offset int64
}

func (i *Index) loadSpans(ctx context.Context) ([]model.Span, error) {
	const spanQuery = `
		SELECT resource_key, byte_offset, length, last_access
		FROM spans
		ORDER BY resource_key, byte_offset
	`
	rows, err := i.db.QueryContext(ctx, spanQuery)
	if err != nil {
		return nil, classify("query spans", err)
	}
	defer rows.Close()

	var spans []model.Span
	pos := make(map[spanID]int)
	for rows.Next() {
		var (
			s   model.Span
			key string
		)
		if err := rows.Scan(&key, &s.Offset, &s.Length, &s.LastAccess); err != nil {
			return nil, fmt.Errorf("%w: scan span: %v", repository.ErrIndexCorrupted, err)
		}
		s.Key = model.ResourceKey(key)
		pos[spanID{s.Key, s.Offset}] = len(spans)
		spans = append(spans, s)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate spans", err)
	}

	const segmentQuery = `
		SELECT resource_key, span_offset, byte_offset, length, blob_id, blob_offset
		FROM segments
		ORDER BY resource_key, byte_offset
	`
	segRows, err := i.db.QueryContext(ctx, segmentQuery)
	if err != nil {
		return nil, classify("query segments", err)
	}
	defer segRows.Close()

	for segRows.Next() {
		var (
			key        string
			spanOffset int64
			seg        model.Segment
		)
		if err := segRows.Scan(&key, &spanOffset, &seg.Offset, &seg.Length, &seg.BlobID, &seg.BlobOffset); err != nil {
			return nil, fmt.Errorf("%w: scan segment: %v", repository.ErrIndexCorrupted, err)
		}
		idx, ok := pos[spanID{model.ResourceKey(key), spanOffset}]
		if !ok {
			return nil, fmt.Errorf("%w: segment %s@%d has no span", repository.ErrIndexCorrupted, key, seg.Offset)
		}
		spans[idx].Segments = append(spans[idx].Segments, seg)
	}
	if err := segRows.Err(); err != nil {
		return nil, classify("iterate segments", err)
	}

	for _, s := range spans {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", repository.ErrIndexCorrupted, err)
		}
	}
	return spans, nil
}

func (i *Index) loadResources(ctx context.Context) ([]model.ResourceMeta, error) {
	const query = `SELECT resource_key, content_length, content_type FROM resources`
	rows, err := i.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classify("query resources", err)
	}
	defer rows.Close()

	var out []model.ResourceMeta
	for rows.Next() {
		var (
			m   model.ResourceMeta
			key string
		)
		if err := rows.Scan(&key, &m.ContentLength, &m.ContentType); err != nil {
			return nil, fmt.Errorf("%w: scan resource: %v", repository.ErrIndexCorrupted, err)
		}
		m.Key = model.ResourceKey(key)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate resources", err)
	}
	return out, nil
}

// Apply commits the batch in one transaction.
func (i *Index) Apply(ctx context.Context, batch repository.IndexBatch) error {
	if batch.Empty() {
		return nil
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, ref := range batch.DeleteSpans {
		if err := deleteSpan(ctx, tx, ref.Key, ref.Offset); err != nil {
			return err
		}
	}
	for _, s := range batch.PutSpans {
		if err := deleteSpan(ctx, tx, s.Key, s.Offset); err != nil {
			return err
		}
		if err := insertSpan(ctx, tx, s); err != nil {
			return err
		}
	}
	for _, ref := range batch.TouchSpans {
		const query = `UPDATE spans SET last_access = ? WHERE resource_key = ? AND byte_offset = ?`
		if _, err := tx.ExecContext(ctx, query, ref.LastAccess, string(ref.Key), ref.Offset); err != nil {
			return fmt.Errorf("failed to touch span: %w", err)
		}
	}
	for _, m := range batch.PutResources {
		const query = `
			INSERT INTO resources (resource_key, content_length, content_type)
			VALUES (?, ?, ?)
			ON CONFLICT (resource_key) DO UPDATE
			SET content_length = excluded.content_length, content_type = excluded.content_type
		`
		if _, err := tx.ExecContext(ctx, query, string(m.Key), m.ContentLength, m.ContentType); err != nil {
			return fmt.Errorf("failed to put resource: %w", err)
		}
	}
	for _, key := range batch.DeleteResources {
		if _, err := tx.ExecContext(ctx, `DELETE FROM resources WHERE resource_key = ?`, string(key)); err != nil {
			return fmt.Errorf("failed to delete resource: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func deleteSpan(ctx context.Context, tx *sql.Tx, key model.ResourceKey, offset int64) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM segments WHERE resource_key = ? AND span_offset = ?`, string(key), offset); err != nil {
		return fmt.Errorf("failed to delete segments: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM spans WHERE resource_key = ? AND byte_offset = ?`, string(key), offset); err != nil {
		return fmt.Errorf("failed to delete span: %w", err)
	}
	return nil
}

func insertSpan(ctx context.Context, tx *sql.Tx, s model.Span) error {
	const spanQuery = `
		INSERT INTO spans (resource_key, byte_offset, length, last_access)
		VALUES (?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, spanQuery, string(s.Key), s.Offset, s.Length, s.LastAccess); err != nil {
		return fmt.Errorf("failed to insert span: %w", err)
	}

	const segmentQuery = `
		INSERT INTO segments (resource_key, span_offset, byte_offset, length, blob_id, blob_offset)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	for _, seg := range s.Segments {
		if _, err := tx.ExecContext(ctx, segmentQuery,
			string(s.Key), s.Offset, seg.Offset, seg.Length, seg.BlobID, seg.BlobOffset); err != nil {
			return fmt.Errorf("failed to insert segment: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (i *Index) Close() error {
	return i.db.Close()
}

// classify marks SQLite corruption errors with repository.ErrIndexCorrupted.
func classify(op string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrCorrupt, sqlite3.ErrNotADB:
			return fmt.Errorf("%w: %s: %v", repository.ErrIndexCorrupted, op, err)
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
