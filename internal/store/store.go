// Package store persists rendered artifacts across restarts. A record is
// only ever trusted by its reader when the content digest it was rendered
// from matches the live content, so a stale file on disk can never be
// served after the menu changed.
package store

import (
	"context"
	"mime"
	"strings"
	"time"

	"github.com/conneroisu/helpdeck/internal/fingerprint"
)

// Record is one persisted artifact.
type Record struct {
	Key         fingerprint.Key
	Digest      fingerprint.Digest
	ContentType string
	Data        []byte
	CreatedAt   time.Time
}

// Store is a persistent key/value store for artifacts.
type Store interface {
	// Get returns the record for key. A missing key is not an error.
	Get(ctx context.Context, key fingerprint.Key) (Record, bool, error)
	// Put writes rec, replacing any previous record for the same key.
	Put(ctx context.Context, rec Record) error
	// Prune removes every record whose digest differs from keep and
	// returns how many were removed.
	Prune(ctx context.Context, keep fingerprint.Digest) (int, error)
	Close() error
}

// Nop is a Store that keeps nothing.
type Nop struct{}

// Get implements Store.
func (Nop) Get(context.Context, fingerprint.Key) (Record, bool, error) { return Record{}, false, nil }

// Put implements Store.
func (Nop) Put(context.Context, Record) error { return nil }

// Prune implements Store.
func (Nop) Prune(context.Context, fingerprint.Digest) (int, error) { return 0, nil }

// Close implements Store.
func (Nop) Close() error { return nil }

var knownExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"text/html":  ".html",
	"text/plain": ".txt",
}

// Extension returns the file extension used for a content type.
func Extension(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.TrimSpace(strings.ToLower(contentType))
	}
	if ext, ok := knownExtensions[mt]; ok {
		return ext
	}
	return ".bin"
}
