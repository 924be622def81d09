package runner

import (
	"context"
	"sync"

	"github.com/zeka-hazinesi/jobboard-data/internal/harvest"
)

// runSources fans the configured sources over a bounded set of workers and
// blocks until every source has been handled. The queue is always drained to
// completion: after cancellation each remaining source still gets its call,
// now with the cancelled context, so its harvest aborts on the first wait
// and flushes whatever it gathered. No queued source can strand the caller
// behind a worker that stopped consuming.
func runSources(ctx context.Context, workers, queueSize int, profiles []*harvest.Profile, fn func(context.Context, *harvest.Profile) error) []error {
	if workers <= 0 {
		workers = 1
	}
	if workers > len(profiles) {
		workers = len(profiles)
	}
	if queueSize <= 0 {
		queueSize = 1
	}

	queue := make(chan *harvest.Profile, queueSize)
	go func() {
		defer close(queue)
		for _, profile := range profiles {
			queue <- profile
		}
	}()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for profile := range queue {
				if err := fn(ctx, profile); err != nil {
					mu.Lock()
					failures = append(failures, err)
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	return failures
}
