package gen

import (
	"sync"

	"golang.org/x/sync/errgroup"
)

// ParallelBands splits [0,n) into contiguous bands, and runs fn on each band.
// With workers <= 1, or with too little work to split, fn runs once on the
// calling goroutine. fn must only touch state that belongs to its band.
func ParallelBands(n, workers int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	if workers <= 1 || n < 2*workers {
		fn(0, n)
		return
	}
	band := (n + workers - 1) / workers
	var g errgroup.Group
	g.SetLimit(workers)
	var panicOnce sync.Once
	var panicValue any
	for start := 0; start < n; start += band {
		end := min(start+band, n)
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					panicOnce.Do(func() { panicValue = r })
				}
			}()
			fn(start, end)
			return nil
		})
	}
	g.Wait()
	// A panic in any band is raised again on the calling goroutine
	if panicValue != nil {
		panic(panicValue)
	}
}
