// Package fanout issues the same operation against every registered
// router concurrently, with isolated failure domains: one router's
// error or panic never cancels the others, and every target gets a
// slot in the result list.
package fanout

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/hericahyadi/isp-provisioning-worker/internal/db"
)

// Result is the per-target outcome of a fan-out
type Result struct {
	RouterID   uuid.UUID
	RouterName string
	Err        error
}

// OK reports whether the target succeeded
func (r Result) OK() bool { return r.Err == nil }

// Run invokes fn once per router, concurrently. Results are index
// aligned with the input. A panic inside fn is captured as that
// target's error.
func Run(routers []db.Router, fn func(i int, router db.Router) error) []Result {
	results := make([]Result, len(routers))

	var wg sync.WaitGroup
	for i, router := range routers {
		wg.Add(1)
		go func(i int, router db.Router) {
			defer wg.Done()
			results[i].RouterID = router.ID
			results[i].RouterName = router.Name

			defer func() {
				if r := recover(); r != nil {
					results[i].Err = fmt.Errorf("panic: %v", r)
				}
			}()

			results[i].Err = fn(i, router)
		}(i, router)
	}
	wg.Wait()

	return results
}

// Failed filters the results down to the targets that errored
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.OK() {
			failed = append(failed, r)
		}
	}
	return failed
}
