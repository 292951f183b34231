package resilience

import (
	"context"

	"github.com/pkg/errors"
)

// ErrBulkheadFull is returned when Run's context is done before a
// concurrency slot frees up.
var ErrBulkheadFull = errors.New("bulkhead is full")

// Bulkhead bounds how many calls to a guarded operation may be in
// flight at once. The acquire path uses one of size 1 to turn the
// spec's "at most one outstanding acquire" backpressure note into an
// enforced invariant rather than a convention upheld by caller discipline.
type Bulkhead struct {
	sem chan struct{}
}

// NewBulkhead creates a bulkhead allowing maxConcurrent calls at once.
func NewBulkhead(maxConcurrent int) *Bulkhead {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Bulkhead{sem: make(chan struct{}, maxConcurrent)}
}

// Run executes fn holding one concurrency slot, blocking until one is
// free or ctx is done.
func (b *Bulkhead) Run(ctx context.Context, fn func() error) error {
	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		return ErrBulkheadFull
	}
	defer func() { <-b.sem }()
	return fn()
}
