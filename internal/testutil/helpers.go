package testutil

import (
	"sync"
	"testing"
)

// RunConcurrent executes fn on n goroutines released together from a shared
// barrier and waits for all of them. Panics are reported as test failures.
func RunConcurrent(t *testing.T, n int, fn func(workerID int)) {
	t.Helper()

	CollectConcurrent(t, n, func(workerID int) struct{} {
		fn(workerID)
		return struct{}{}
	})
}

// CollectConcurrent is RunConcurrent for functions that produce a value.
// Results are indexed by worker id.
func CollectConcurrent[T any](t *testing.T, n int, fn func(workerID int) T) []T {
	t.Helper()

	results := make([]T, n)
	start := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(n)

	for i := range n {
		go func(workerID int) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("worker %d panicked: %v", workerID, r)
				}
			}()

			<-start
			results[workerID] = fn(workerID)
		}(i)
	}

	close(start)
	wg.Wait()

	return results
}

// AssertNoRaces runs fn concurrently to surface data races under `go test -race`
func AssertNoRaces(t *testing.T, fn func(), iterations int) {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping race detection test in short mode")
	}

	RunConcurrent(t, iterations, func(_ int) {
		fn()
	})
}
