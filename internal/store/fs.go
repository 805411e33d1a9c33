package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/helpdeck/internal/errors"
	"github.com/conneroisu/helpdeck/internal/fingerprint"
	"github.com/conneroisu/helpdeck/internal/logging"
	"github.com/conneroisu/helpdeck/internal/validation"
)

const (
	filePrefix  = "help_"
	sidecarExt  = ".json"
	tempSuffix  = ".tmp"
	sidecarMode = 0o644
)

// sidecar describes the artifact file next to it.
type sidecar struct {
	Key         string    `json:"key"`
	Digest      string    `json:"digest"`
	ContentType string    `json:"content_type"`
	File        string    `json:"file"`
	Size        int       `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// FSStore keeps each artifact as help_<key>.<ext> with a JSON sidecar
// holding its metadata. Writes go to a temp file and are renamed into
// place, and the sidecar is written last, so a reader never sees metadata
// for a partial artifact.
type FSStore struct {
	dir    string
	logger logging.Logger
	mu     sync.Mutex
}

// NewFSStore creates dir if needed and returns a store rooted there.
func NewFSStore(dir string, logger logging.Logger) (*FSStore, error) {
	if err := validation.ValidatePath(dir); err != nil {
		return nil, errors.NewValidationError(errors.ErrCodeInvalidPath,
			fmt.Sprintf("store directory rejected: %v", err)).WithComponent("store")
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.NewIOError(errors.ErrCodeStoreIO, "failed to create store directory", err).
			WithComponent("store").WithContext("dir", dir)
	}
	return &FSStore{dir: dir, logger: logger.WithComponent("store")}, nil
}

// Dir returns the store directory.
func (s *FSStore) Dir() string { return s.dir }

func (s *FSStore) sidecarPath(key fingerprint.Key) string {
	return filepath.Join(s.dir, filePrefix+key.String()+sidecarExt)
}

// Get implements Store.
func (s *FSStore) Get(ctx context.Context, key fingerprint.Key) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}

	meta, err := readSidecar(s.sidecarPath(key))
	if stderrors.Is(err, fs.ErrNotExist) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, errors.NewIOError(errors.ErrCodeStoreIO, "failed to read sidecar", err).
			WithComponent("store").WithContext("key", key.Short())
	}

	digest, err := fingerprint.ParseDigest(meta.Digest)
	if err != nil {
		return Record{}, false, errors.NewIOError(errors.ErrCodeStoreIO, "corrupt sidecar", err).
			WithComponent("store").WithContext("key", key.Short())
	}

	// The sidecar names its file; refuse anything that escapes the directory.
	if meta.File != filepath.Base(meta.File) || !strings.HasPrefix(meta.File, filePrefix) {
		return Record{}, false, errors.NewIOError(errors.ErrCodeStoreIO, "corrupt sidecar", nil).
			WithComponent("store").WithContext("file", meta.File)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, meta.File))
	if stderrors.Is(err, fs.ErrNotExist) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, errors.NewIOError(errors.ErrCodeStoreIO, "failed to read artifact", err).
			WithComponent("store").WithContext("key", key.Short())
	}
	if len(data) != meta.Size {
		s.logger.Warn(ctx, nil, "Artifact size does not match sidecar, ignoring",
			"key", key.Short(), "expected", meta.Size, "actual", len(data))
		return Record{}, false, nil
	}

	return Record{
		Key:         key,
		Digest:      digest,
		ContentType: meta.ContentType,
		Data:        data,
		CreatedAt:   meta.CreatedAt,
	}, true, nil
}

// Put implements Store.
func (s *FSStore) Put(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	name := filePrefix + rec.Key.String() + Extension(rec.ContentType)
	meta := sidecar{
		Key:         rec.Key.String(),
		Digest:      rec.Digest.String(),
		ContentType: rec.ContentType,
		File:        name,
		Size:        len(rec.Data),
		CreatedAt:   rec.CreatedAt.UTC(),
	}
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return errors.NewInternalError(errors.ErrCodeInternalError, "failed to encode sidecar", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeAtomic(filepath.Join(s.dir, name), rec.Data); err != nil {
		return errors.NewIOError(errors.ErrCodeStoreIO, "failed to write artifact", err).
			WithComponent("store").WithContext("key", rec.Key.Short())
	}
	if err := writeAtomic(s.sidecarPath(rec.Key), metaBytes); err != nil {
		return errors.NewIOError(errors.ErrCodeStoreIO, "failed to write sidecar", err).
			WithComponent("store").WithContext("key", rec.Key.Short())
	}
	return nil
}

// Prune implements Store. Temp files left behind by an interrupted write
// are removed as well.
func (s *FSStore) Prune(ctx context.Context, keep fingerprint.Digest) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, errors.NewIOError(errors.ErrCodeStoreIO, "failed to list store directory", err).
			WithComponent("store")
	}

	removed := 0
	var errs []error
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) {
			continue
		}
		if strings.HasSuffix(name, tempSuffix) {
			_ = os.Remove(filepath.Join(s.dir, name))
			continue
		}
		if !strings.HasSuffix(name, sidecarExt) {
			continue
		}

		path := filepath.Join(s.dir, name)
		meta, err := readSidecar(path)
		if err == nil && meta.Digest == keep.String() {
			continue
		}

		// Unreadable sidecars are dropped together with their artifact.
		if err == nil && meta.File == filepath.Base(meta.File) {
			if rmErr := os.Remove(filepath.Join(s.dir, meta.File)); rmErr != nil && !stderrors.Is(rmErr, fs.ErrNotExist) {
				errs = append(errs, rmErr)
			}
		}
		if rmErr := os.Remove(path); rmErr != nil && !stderrors.Is(rmErr, fs.ErrNotExist) {
			errs = append(errs, rmErr)
			continue
		}
		removed++
	}

	if len(errs) > 0 {
		return removed, errors.NewIOError(errors.ErrCodeStoreIO, "failed to prune some artifacts",
			errors.Combine(errs...)).WithComponent("store")
	}
	return removed, nil
}

// Close implements Store.
func (s *FSStore) Close() error { return nil }

func readSidecar(path string) (sidecar, error) {
	var meta sidecar
	data, err := os.ReadFile(path)
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, err
	}
	return meta, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + tempSuffix
	if err := os.WriteFile(tmp, data, sidecarMode); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
