package downloader

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// pool owns the live worker set and reconciles it against a target size.
// The target is stored atomically so it can be changed from any goroutine;
// membership only changes under mu.
type pool struct {
	target atomic.Int32
	active atomic.Int32

	mu      sync.Mutex
	workers []*worker
	nextID  int

	logger *slog.Logger
}

func newPool(target int, logger *slog.Logger) *pool {
	p := &pool{logger: logger}
	p.setTarget(target)
	return p
}

// setTarget stores max(n, 1) and returns the stored value. The pool
// converges on the next reconcile.
func (p *pool) setTarget(n int) int {
	n = max(n, 1)
	p.target.Store(int32(n))
	return n
}

func (p *pool) getTarget() int {
	return int(p.target.Load())
}

// size returns the number of live workers.
func (p *pool) size() int {
	return int(p.active.Load())
}

// reap drops workers that have exited and returns how many were removed.
func (p *pool) reap() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	live := p.workers[:0]
	for _, w := range p.workers {
		if !w.finished() {
			live = append(live, w)
		}
	}
	removed := len(p.workers) - len(live)
	clear(p.workers[len(live):])
	p.workers = live
	p.active.Store(int32(len(live)))
	return removed
}

// reconcile starts or retires workers until the live count equals the
// target. Workers are not started once j's allocator is exhausted or ctx is
// done. Retiring waits for the retired worker to finish its current chunk.
func (p *pool) reconcile(ctx context.Context, j *job) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		target := p.getTarget()
		n := len(p.workers)

		switch {
		case n > target:
			w := p.workers[n-1]
			p.workers[n-1] = nil
			p.workers = p.workers[:n-1]
			p.active.Store(int32(len(p.workers)))

			close(w.retire)
			<-w.done
			p.logger.Debug("worker stopped", "worker", w.id, "active", len(p.workers), "target", target)

		case n < target:
			if ctx.Err() != nil || j.alloc.Exhausted() {
				return
			}
			w := newWorker(p.nextID, j)
			p.nextID++
			p.workers = append(p.workers, w)
			p.active.Store(int32(len(p.workers)))

			go w.run(ctx)
			p.logger.Debug("worker started", "worker", w.id, "active", len(p.workers), "target", target)

		default:
			return
		}
	}
}

// wait blocks until every live worker has exited. Callers cancel the run
// context first.
func (p *pool) wait() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, w := range p.workers {
		<-w.done
	}
	clear(p.workers)
	p.workers = p.workers[:0]
	p.active.Store(0)
}
