//go:build property

package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestRenderCacheProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1234)
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("one render per key for any burst", prop.ForAll(
		func(callers, keys int) bool {
			c := New(Options{})
			renders := make([]int64, keys)
			release := make(chan struct{})

			var wg sync.WaitGroup
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					k := i % keys
					_, _ = c.GetOrRender(context.Background(), 1, keyOf(fmt.Sprint(k)), func(ctx context.Context) (*Artifact, error) {
						atomic.AddInt64(&renders[k], 1)
						<-release
						return &Artifact{Data: []byte{byte(k)}}, nil
					})
				}(i)
			}
			for {
				s := c.GetStats()
				if s.Misses+s.Joins == int64(callers) {
					break
				}
			}
			close(release)
			wg.Wait()

			for k := 0; k < keys && k < callers; k++ {
				if atomic.LoadInt64(&renders[k]) != 1 {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 64),
		gen.IntRange(1, 8),
	))

	properties.Property("size never exceeds the bound", prop.ForAll(
		func(sizes []int, bound int) bool {
			c := New(Options{MaxBytes: int64(bound)})
			for i, n := range sizes {
				data := make([]byte, n)
				_, err := c.GetOrRender(context.Background(), 1, keyOf(fmt.Sprint(i)), func(ctx context.Context) (*Artifact, error) {
					return &Artifact{Data: data}, nil
				})
				if err != nil || c.GetStats().Bytes > int64(bound) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 100)),
		gen.IntRange(1, 200),
	))

	properties.TestingRun(t)
}
