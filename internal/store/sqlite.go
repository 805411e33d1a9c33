package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/conneroisu/helpdeck/internal/errors"
	"github.com/conneroisu/helpdeck/internal/fingerprint"
	"github.com/conneroisu/helpdeck/internal/validation"
)

const schema = `
CREATE TABLE IF NOT EXISTS artifacts (
	cache_key    TEXT PRIMARY KEY,
	digest       TEXT NOT NULL,
	content_type TEXT NOT NULL,
	payload      BLOB NOT NULL,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS artifacts_digest ON artifacts (digest);
`

// SQLiteStore keeps artifacts in a single SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.NewValidationError(errors.ErrCodeInvalidPath, "sqlite path is required").
			WithComponent("store")
	}
	if err := validation.ValidatePath(path); err != nil {
		return nil, errors.NewValidationError(errors.ErrCodeInvalidPath,
			fmt.Sprintf("sqlite path rejected: %v", err)).WithComponent("store")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeStoreIO, "open sqlite db", err).WithComponent("store")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.NewIOError(errors.ErrCodeStoreIO, "ping sqlite db", err).WithComponent("store")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.NewIOError(errors.ErrCodeStoreIO, "create schema", err).WithComponent("store")
	}
	return &SQLiteStore{db: db}, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key fingerprint.Key) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}

	var (
		digest, contentType string
		payload             []byte
		createdAt           int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT digest, content_type, payload, created_at
FROM artifacts
WHERE cache_key = ?
`, key.String()).Scan(&digest, &contentType, &payload, &createdAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, errors.NewIOError(errors.ErrCodeStoreIO, "get artifact", err).
			WithComponent("store").WithContext("key", key.Short())
	}

	d, err := fingerprint.ParseDigest(digest)
	if err != nil {
		return Record{}, false, errors.NewIOError(errors.ErrCodeStoreIO, "corrupt artifact row", err).
			WithComponent("store").WithContext("key", key.Short())
	}

	return Record{
		Key:         key,
		Digest:      d,
		ContentType: contentType,
		Data:        payload,
		CreatedAt:   time.UnixMilli(createdAt).UTC(),
	}, true, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	data := rec.Data
	if data == nil {
		data = []byte{}
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO artifacts (cache_key, digest, content_type, payload, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(cache_key) DO UPDATE SET
	digest = excluded.digest,
	content_type = excluded.content_type,
	payload = excluded.payload,
	created_at = excluded.created_at
`,
		rec.Key.String(),
		rec.Digest.String(),
		rec.ContentType,
		data,
		rec.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return errors.NewIOError(errors.ErrCodeStoreIO, "put artifact", err).
			WithComponent("store").WithContext("key", rec.Key.Short())
	}
	return nil
}

// Prune implements Store.
func (s *SQLiteStore) Prune(ctx context.Context, keep fingerprint.Digest) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE digest <> ?`, keep.String())
	if err != nil {
		return 0, errors.NewIOError(errors.ErrCodeStoreIO, "prune artifacts", err).WithComponent("store")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.NewIOError(errors.ErrCodeStoreIO, "prune artifacts", err).WithComponent("store")
	}
	return int(n), nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
