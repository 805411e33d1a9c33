package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	helpdeckerrors "github.com/conneroisu/helpdeck/internal/errors"
	"github.com/conneroisu/helpdeck/internal/fingerprint"
)

func keyOf(s string) fingerprint.Key {
	w := fingerprint.NewWriter("cache-test")
	w.String(s)
	return fingerprint.Key(w.Sum())
}

// countingProducer returns a producer that counts its invocations and
// returns data.
func countingProducer(calls *int64, data string) Producer {
	return func(ctx context.Context) (*Artifact, error) {
		atomic.AddInt64(calls, 1)
		return &Artifact{Data: []byte(data), ContentType: "image/png"}, nil
	}
}

func TestRenderCache_MissThenHit(t *testing.T) {
	c := New(Options{})
	ctx := context.Background()
	key := keyOf("menu")
	var calls int64

	first, err := c.GetOrRender(ctx, 1, key, countingProducer(&calls, "png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), first.Data)
	assert.Equal(t, key, first.Key)
	assert.Equal(t, uint64(1), first.Generation)
	assert.Equal(t, int64(3), first.Size)
	assert.False(t, first.CreatedAt.IsZero())

	second, err := c.GetOrRender(ctx, 1, key, countingProducer(&calls, "other"))
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Renders)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(3), stats.Bytes)
	assert.Equal(t, 0, stats.InFlight)
	assert.InDelta(t, 0.5, stats.HitRate(), 0.001)

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestRenderCache_ConcurrentDedup(t *testing.T) {
	c := New(Options{})
	key := keyOf("menu")

	const n = 50
	var calls int64
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once

	produce := func(ctx context.Context) (*Artifact, error) {
		atomic.AddInt64(&calls, 1)
		once.Do(func() { close(started) })
		<-release
		return &Artifact{Data: []byte("menu")}, nil
	}

	results := make([]*Artifact, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrRender(context.Background(), 1, key, produce)
		}(i)
	}

	<-started
	require.Eventually(t, func() bool {
		s := c.GetStats()
		return s.Misses+s.Joins == n
	}, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(n-1), stats.Joins)
}

func TestRenderCache_FailureSharedAndRetryable(t *testing.T) {
	c := New(Options{})
	key := keyOf("menu")

	const n = 10
	var calls int64
	release := make(chan struct{})
	boom := errors.New("browser crashed")

	failing := func(ctx context.Context) (*Artifact, error) {
		atomic.AddInt64(&calls, 1)
		<-release
		return nil, boom
	}

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.GetOrRender(context.Background(), 1, key, failing)
		}(i)
	}
	require.Eventually(t, func() bool {
		s := c.GetStats()
		return s.Misses+s.Joins == n
	}, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	for i := 0; i < n; i++ {
		require.Error(t, errs[i])
		assert.Same(t, errs[0], errs[i], "every waiter sees the same failure")
		assert.True(t, helpdeckerrors.IsRenderError(errs[i]))
		assert.ErrorIs(t, errs[i], boom)
	}
	assert.Equal(t, 0, c.GetStats().InFlight)
	assert.Equal(t, 0, c.GetStats().Entries)

	a, err := c.GetOrRender(context.Background(), 1, key, countingProducer(&calls, "ok"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), a.Data)
	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
}

func TestRenderCache_TimeoutReleasesKey(t *testing.T) {
	c := New(Options{RenderTimeout: 20 * time.Millisecond})
	key := keyOf("menu")

	hang := make(chan struct{})
	defer close(hang)

	_, err := c.GetOrRender(context.Background(), 1, key, func(ctx context.Context) (*Artifact, error) {
		<-hang // ignores ctx on purpose
		return &Artifact{Data: []byte("late")}, nil
	})
	require.Error(t, err)
	assert.True(t, helpdeckerrors.IsRenderError(err))
	assert.Equal(t, helpdeckerrors.ErrCodeRenderTimeout, helpdeckerrors.CodeOf(err))
	assert.True(t, helpdeckerrors.IsRecoverable(err))

	var calls int64
	a, err := c.GetOrRender(context.Background(), 1, key, countingProducer(&calls, "fresh"))
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), a.Data)
	assert.Equal(t, int64(1), calls)
}

func TestRenderCache_TimeoutHonouredByProducer(t *testing.T) {
	c := New(Options{RenderTimeout: 10 * time.Millisecond})

	_, err := c.GetOrRender(context.Background(), 1, keyOf("x"), func(ctx context.Context) (*Artifact, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	assert.Equal(t, helpdeckerrors.ErrCodeRenderTimeout, helpdeckerrors.CodeOf(err))
}

func TestRenderCache_CallerCancelDoesNotFailOthers(t *testing.T) {
	c := New(Options{})
	key := keyOf("menu")
	release := make(chan struct{})
	var calls int64

	produce := func(ctx context.Context) (*Artifact, error) {
		atomic.AddInt64(&calls, 1)
		select {
		case <-release:
			return &Artifact{Data: []byte("menu")}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	impatient, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrRender(impatient, 1, key, produce)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return c.GetStats().InFlight == 1 }, time.Second, time.Millisecond)

	patient := make(chan *Artifact, 1)
	go func() {
		a, _ := c.GetOrRender(context.Background(), 1, key, produce)
		patient <- a
	}()
	require.Eventually(t, func() bool { return c.GetStats().Joins == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	a := <-patient
	require.NotNil(t, a)
	assert.Equal(t, []byte("menu"), a.Data)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))

	_, ok := c.Get(key)
	assert.True(t, ok, "the detached render still fills the cache")
}

func TestRenderCache_PanicBecomesRenderError(t *testing.T) {
	c := New(Options{})
	key := keyOf("menu")

	_, err := c.GetOrRender(context.Background(), 1, key, func(ctx context.Context) (*Artifact, error) {
		panic("template exploded")
	})
	require.Error(t, err)
	assert.Equal(t, helpdeckerrors.ErrCodeRenderPanic, helpdeckerrors.CodeOf(err))
	assert.Contains(t, err.Error(), "template exploded")
	assert.Equal(t, 0, c.GetStats().InFlight)

	var calls int64
	_, err = c.GetOrRender(context.Background(), 1, key, countingProducer(&calls, "ok"))
	assert.NoError(t, err)
}

func TestRenderCache_NilArtifactIsError(t *testing.T) {
	c := New(Options{})
	_, err := c.GetOrRender(context.Background(), 1, keyOf("x"), func(ctx context.Context) (*Artifact, error) {
		return nil, nil
	})
	assert.True(t, helpdeckerrors.IsRenderError(err))
}

func TestRenderCache_AdvanceInvalidates(t *testing.T) {
	c := New(Options{})
	ctx := context.Background()
	var calls int64

	_, err := c.GetOrRender(ctx, 1, keyOf("a"), countingProducer(&calls, "a1"))
	require.NoError(t, err)
	_, err = c.GetOrRender(ctx, 1, keyOf("b"), countingProducer(&calls, "b1"))
	require.NoError(t, err)

	assert.Equal(t, 2, c.Advance(2))
	assert.Equal(t, uint64(2), c.Generation())
	assert.Equal(t, 0, c.GetStats().Entries)
	assert.Equal(t, int64(2), c.GetStats().Invalidations)

	_, ok := c.Get(keyOf("a"))
	assert.False(t, ok)

	// Same key, new generation: re-rendered, never the old artifact.
	a, err := c.GetOrRender(ctx, 2, keyOf("a"), countingProducer(&calls, "a2"))
	require.NoError(t, err)
	assert.Equal(t, []byte("a2"), a.Data)
	assert.Equal(t, uint64(2), a.Generation)

	assert.Equal(t, 0, c.Advance(2), "advance is idempotent")
	assert.Equal(t, 0, c.Advance(1), "advance never goes backwards")
	assert.Equal(t, uint64(2), c.Generation())
}

func TestRenderCache_NewerGenerationAdvances(t *testing.T) {
	c := New(Options{})
	ctx := context.Background()
	var calls int64

	_, err := c.GetOrRender(ctx, 1, keyOf("a"), countingProducer(&calls, "a1"))
	require.NoError(t, err)

	_, err = c.GetOrRender(ctx, 3, keyOf("b"), countingProducer(&calls, "b3"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), c.Generation())

	_, ok := c.Get(keyOf("a"))
	assert.False(t, ok)
}

func TestRenderCache_StaleGenerationNotStored(t *testing.T) {
	c := New(Options{})
	ctx := context.Background()
	c.Advance(5)

	var calls int64
	a, err := c.GetOrRender(ctx, 4, keyOf("a"), countingProducer(&calls, "old"))
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), a.Data)
	assert.Equal(t, uint64(4), a.Generation)

	_, ok := c.Get(keyOf("a"))
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.GetStats().StaleRenders)
	assert.Equal(t, uint64(5), c.Generation())
}

func TestRenderCache_StaleReadersShareOneRender(t *testing.T) {
	c := New(Options{})
	c.Advance(2)
	key := keyOf("menu")

	var calls int64
	release := make(chan struct{})
	producer := func(ctx context.Context) (*Artifact, error) {
		atomic.AddInt64(&calls, 1)
		<-release
		return &Artifact{Data: []byte("gen1")}, nil
	}

	const readers = 10
	var wg sync.WaitGroup
	results := make([]*Artifact, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := c.GetOrRender(context.Background(), 1, key, producer)
			assert.NoError(t, err)
			results[i] = a
		}(i)
	}
	require.Eventually(t, func() bool {
		return c.GetStats().Joins == readers-1
	}, 2*time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	for _, a := range results {
		require.NotNil(t, a)
		assert.Equal(t, []byte("gen1"), a.Data)
	}
	_, ok := c.Get(key)
	assert.False(t, ok, "stale renders are never stored")

	// Once finished, the next stale reader renders afresh.
	_, err := c.GetOrRender(context.Background(), 1, key, countingProducer(&calls, "again"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
}

func TestRenderCache_StaleReaderJoinsDetachedRender(t *testing.T) {
	c := New(Options{})
	key := keyOf("menu")
	release := make(chan struct{})

	var calls int64
	producer := func(ctx context.Context) (*Artifact, error) {
		atomic.AddInt64(&calls, 1)
		<-release
		return &Artifact{Data: []byte("old")}, nil
	}

	first := make(chan *Artifact, 1)
	go func() {
		a, _ := c.GetOrRender(context.Background(), 1, key, producer)
		first <- a
	}()
	require.Eventually(t, func() bool { return c.GetStats().InFlight == 1 }, time.Second, time.Millisecond)
	c.Advance(2)

	second := make(chan *Artifact, 1)
	go func() {
		a, _ := c.GetOrRender(context.Background(), 1, key, producer)
		second <- a
	}()
	require.Eventually(t, func() bool { return c.GetStats().Joins == 1 }, time.Second, time.Millisecond)

	close(release)
	assert.Equal(t, []byte("old"), (<-first).Data)
	assert.Equal(t, []byte("old"), (<-second).Data)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestRenderCache_AdvanceDuringRenderDetaches(t *testing.T) {
	c := New(Options{})
	key := keyOf("menu")
	release := make(chan struct{})

	done := make(chan *Artifact, 1)
	go func() {
		a, _ := c.GetOrRender(context.Background(), 1, key, func(ctx context.Context) (*Artifact, error) {
			<-release
			return &Artifact{Data: []byte("old")}, nil
		})
		done <- a
	}()
	require.Eventually(t, func() bool { return c.GetStats().InFlight == 1 }, time.Second, time.Millisecond)

	c.Advance(2)
	assert.Equal(t, 0, c.GetStats().InFlight)

	close(release)
	old := <-done
	require.NotNil(t, old)
	assert.Equal(t, []byte("old"), old.Data)

	_, ok := c.Get(key)
	assert.False(t, ok, "a render from an older generation must not resurrect")

	var calls int64
	fresh, err := c.GetOrRender(context.Background(), 2, key, countingProducer(&calls, "new"))
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), fresh.Data)
}

func TestRenderCache_MaxBytesEvictsLRU(t *testing.T) {
	c := New(Options{MaxBytes: 10})
	ctx := context.Background()
	var calls int64

	for _, k := range []string{"a", "b"} {
		_, err := c.GetOrRender(ctx, 1, keyOf(k), countingProducer(&calls, "xxxx"))
		require.NoError(t, err)
	}
	// Touch a so b becomes least recently used.
	_, ok := c.Get(keyOf("a"))
	require.True(t, ok)

	_, err := c.GetOrRender(ctx, 1, keyOf("c"), countingProducer(&calls, "xxxx"))
	require.NoError(t, err)

	_, ok = c.Get(keyOf("b"))
	assert.False(t, ok)
	_, ok = c.Get(keyOf("a"))
	assert.True(t, ok)
	_, ok = c.Get(keyOf("c"))
	assert.True(t, ok)

	stats := c.GetStats()
	assert.Equal(t, int64(8), stats.Bytes)
	assert.Equal(t, int64(1), stats.Evictions)

	big, err := c.GetOrRender(ctx, 1, keyOf("big"), countingProducer(&calls, "0123456789ABC"))
	require.NoError(t, err)
	assert.Len(t, big.Data, 13)
	_, ok = c.Get(keyOf("big"))
	assert.False(t, ok, "artifacts larger than the bound are served but not kept")
}

func TestRenderCache_TTL(t *testing.T) {
	c := New(Options{TTL: time.Minute})
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()
	var calls int64

	_, err := c.GetOrRender(ctx, 1, keyOf("a"), countingProducer(&calls, "a"))
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	_, err = c.GetOrRender(ctx, 1, keyOf("a"), countingProducer(&calls, "a"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls)

	now = now.Add(2 * time.Minute)
	_, err = c.GetOrRender(ctx, 1, keyOf("a"), countingProducer(&calls, "a"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls)
	assert.Equal(t, int64(1), c.GetStats().Evictions)
}

func TestRenderCache_ProducerCreatedAtKept(t *testing.T) {
	c := New(Options{})
	stamp := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	a, err := c.GetOrRender(context.Background(), 1, keyOf("a"), func(ctx context.Context) (*Artifact, error) {
		return &Artifact{Data: []byte("a"), CreatedAt: stamp}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, stamp, a.CreatedAt)
}

func TestRenderCache_ManyKeysConcurrently(t *testing.T) {
	c := New(Options{MaxBytes: 64})
	var calls int64

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := keyOf(fmt.Sprint(i % 8))
			gen := uint64(1 + i%3)
			a, err := c.GetOrRender(context.Background(), gen, key, countingProducer(&calls, "0123456789"))
			if assert.NoError(t, err) {
				assert.Len(t, a.Data, 10)
			}
		}(i)
	}
	wg.Wait()

	stats := c.GetStats()
	assert.LessOrEqual(t, stats.Bytes, int64(64))
	assert.Equal(t, 0, stats.InFlight)
}
