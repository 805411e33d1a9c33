package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/helpdeck/internal/fingerprint"
	"github.com/conneroisu/helpdeck/internal/logging"
)

func digestOf(s string) fingerprint.Digest {
	w := fingerprint.NewWriter("store-test")
	w.String(s)
	return w.Sum()
}

func keyOf(s string) fingerprint.Key {
	return fingerprint.Compute(digestOf(s), fingerprint.FullMenu(), nil, "test")
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	fsStore, err := NewFSStore(filepath.Join(dir, "fs"), logging.Discard())
	require.NoError(t, err)

	sqlStore, err := OpenSQLite(filepath.Join(dir, "helpdeck.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlStore.Close() })

	return map[string]Store{"fs": fsStore, "sqlite": sqlStore}
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			key := keyOf("a")
			_, ok, err := s.Get(ctx, key)
			require.NoError(t, err)
			assert.False(t, ok)

			rec := Record{
				Key:         key,
				Digest:      digestOf("a"),
				ContentType: "image/png",
				Data:        []byte("\x89PNG fake"),
				CreatedAt:   created,
			}
			require.NoError(t, s.Put(ctx, rec))

			got, ok, err := s.Get(ctx, key)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, rec.Data, got.Data)
			assert.Equal(t, rec.Digest, got.Digest)
			assert.Equal(t, "image/png", got.ContentType)
			assert.True(t, created.Equal(got.CreatedAt))

			rec.Data = []byte("replaced")
			require.NoError(t, s.Put(ctx, rec))
			got, ok, err = s.Get(ctx, key)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte("replaced"), got.Data)
		})
	}
}

func TestStore_Prune(t *testing.T) {
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			oldKey, newKey := keyOf("old"), keyOf("new")
			require.NoError(t, s.Put(ctx, Record{Key: oldKey, Digest: digestOf("old"), ContentType: "image/png", Data: []byte("o")}))
			require.NoError(t, s.Put(ctx, Record{Key: newKey, Digest: digestOf("new"), ContentType: "image/png", Data: []byte("n")}))

			n, err := s.Prune(ctx, digestOf("new"))
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			_, ok, err := s.Get(ctx, oldKey)
			require.NoError(t, err)
			assert.False(t, ok)

			_, ok, err = s.Get(ctx, newKey)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, _, err := s.Get(ctx, keyOf("x"))
			assert.ErrorIs(t, err, context.Canceled)
			assert.ErrorIs(t, s.Put(ctx, Record{Key: keyOf("x")}), context.Canceled)
		})
	}
}

func TestFSStore_Layout(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFSStore(dir, nil)
	require.NoError(t, err)

	key := keyOf("layout")
	require.NoError(t, s.Put(context.Background(), Record{
		Key: key, Digest: digestOf("layout"), ContentType: "image/png", Data: []byte("png"),
	}))

	_, err = os.Stat(filepath.Join(dir, "help_"+key.String()+".png"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "help_"+key.String()+".json"))
	assert.NoError(t, err)

	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFSStore_IgnoresTruncatedArtifact(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFSStore(dir, nil)
	require.NoError(t, err)

	key := keyOf("trunc")
	require.NoError(t, s.Put(context.Background(), Record{
		Key: key, Digest: digestOf("trunc"), ContentType: "image/png", Data: []byte("complete"),
	}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "help_"+key.String()+".png"), []byte("comp"), 0o644))

	_, ok, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFSStore_CorruptSidecar(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFSStore(dir, nil)
	require.NoError(t, err)

	key := keyOf("corrupt")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "help_"+key.String()+".json"), []byte("{not json"), 0o644))

	_, _, err = s.Get(context.Background(), key)
	require.Error(t, err)

	// Prune drops the unreadable sidecar and stray temp files.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "help_x.png.tmp"), []byte("partial"), 0o644))
	n, err := s.Prune(context.Background(), digestOf("anything"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNewFSStore_RejectsTraversal(t *testing.T) {
	_, err := NewFSStore("../outside", nil)
	assert.Error(t, err)

	_, err = OpenSQLite("")
	assert.Error(t, err)
}

func TestExtension(t *testing.T) {
	assert.Equal(t, ".png", Extension("image/png"))
	assert.Equal(t, ".html", Extension("text/html; charset=utf-8"))
	assert.Equal(t, ".jpg", Extension("IMAGE/JPEG"))
	assert.Equal(t, ".bin", Extension("application/x-unknown"))
}

func TestNop(t *testing.T) {
	var s Store = Nop{}
	require.NoError(t, s.Put(context.Background(), Record{}))
	_, ok, err := s.Get(context.Background(), keyOf("x"))
	require.NoError(t, err)
	assert.False(t, ok)
	n, err := s.Prune(context.Background(), fingerprint.Digest{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, s.Close())
}
