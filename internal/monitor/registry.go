package monitor

import (
	"context"
	"sync"
	"sync/atomic"
)

// registry tracks live sessions so shutdown can drain them. Once draining,
// no new session is admitted.
//
// mu makes the draining check and wg.Add in admit atomic, so a session can
// never be admitted after drain has started waiting.
type registry struct {
	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
	active   atomic.Int64
}

// admit registers a session. It returns false while draining.
func (r *registry) admit() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.draining {
		return false
	}
	r.wg.Add(1)
	r.active.Add(1)
	return true
}

// release must be called exactly once per successful admit.
func (r *registry) release() {
	r.active.Add(-1)
	r.wg.Done()
}

func (r *registry) startDraining() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.draining = true
}

func (r *registry) isDraining() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.draining
}

func (r *registry) activeCount() int64 {
	return r.active.Load()
}

// wait blocks until every admitted session is released or ctx is done.
func (r *registry) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
