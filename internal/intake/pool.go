package intake

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many file pipelines run at once. Submit never blocks the
// caller: each job gets its own goroutine that waits for a slot, so intake can
// return while work is still queued.
type Pool struct {
	sem      *semaphore.Weighted
	wg       sync.WaitGroup
	inFlight atomic.Int64
}

func NewPool(maxWorkers int) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(maxWorkers))}
}

// Submit schedules fn without waiting for it to start or finish.
func (p *Pool) Submit(fn func()) {
	p.wg.Add(1)
	p.inFlight.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inFlight.Add(-1)
		if err := p.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		fn()
	}()
}

// InFlight reports submitted jobs that have not finished yet.
func (p *Pool) InFlight() int64 { return p.inFlight.Load() }

// Wait blocks until every submitted job has finished.
func (p *Pool) Wait() { p.wg.Wait() }
