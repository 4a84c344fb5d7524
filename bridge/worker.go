package bridge

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/wippyai/shader-bridge/errors"
)

// Worker confines a Context to one goroutine so it can be shared by a
// multi-threaded host. Closures run serially in submission order, so a
// cascade started by one caller is never observed half done by another.
//
// Thread safety: Worker is safe for concurrent use.
type Worker struct {
	c     *Context
	queue chan job
	done  chan struct{}
	wg    sync.WaitGroup

	running atomic.Bool
	closeMu sync.Mutex
}

type job struct {
	ctx   context.Context
	fn    func(context.Context, *Context) error
	reply chan result
	last  bool
}

// ownerKey marks the ctx handed to closures running on a Worker.
type ownerKey struct{}

type result struct {
	err   error
	panic any
}

// NewWorker starts the owner goroutine for c.
func NewWorker(c *Context) *Worker {
	w := &Worker{
		c:     c,
		queue: make(chan job),
		done:  make(chan struct{}),
	}
	w.running.Store(true)
	w.wg.Add(1)
	go w.loop()
	return w
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case j := <-w.queue:
			j.reply <- w.run(j)
			if j.last {
				return
			}
		}
	}
}

func (w *Worker) run(j job) (r result) {
	defer func() {
		if p := recover(); p != nil {
			r.panic = p
		}
	}()
	r.err = j.fn(context.WithValue(j.ctx, ownerKey{}, w), w.c)
	return r
}

// Do runs fn on the owner goroutine and waits for it. A panic inside fn is
// re-raised in the caller. Once submitted, fn runs to completion even if ctx
// is cancelled; ctx only bounds the wait for the owner to accept the job.
//
// fn must not call Do on the same Worker: the owner goroutine is busy
// running fn, so the nested call could never be accepted. A nested call made
// with the ctx passed to fn fails with KindInvalidInput; one made with any
// other ctx deadlocks. Use the *Context passed to fn directly instead.
func (w *Worker) Do(ctx context.Context, fn func(context.Context, *Context) error) error {
	if !w.running.Load() {
		return errors.NotInitialized(errors.PhaseBoundary, "bridge worker")
	}
	if ctx.Value(ownerKey{}) == w {
		return errors.InvalidInput(errors.PhaseBoundary, "Do called from a closure running on the same worker")
	}

	j := job{ctx: ctx, fn: fn, reply: make(chan result, 1)}
	select {
	case w.queue <- j:
	case <-w.done:
		return errors.NotInitialized(errors.PhaseBoundary, "bridge worker")
	case <-ctx.Done():
		return ctx.Err()
	}
	return j.wait()
}

func (j job) wait() error {
	r := <-j.reply
	if r.panic != nil {
		panic(r.panic)
	}
	return r.err
}

// Close closes the Context on the owner goroutine and stops the worker.
// The close job is always accepted, waiting for a closure already running;
// ctx is only handed to Context.Close. Later calls return nil.
func (w *Worker) Close(ctx context.Context) error {
	w.closeMu.Lock()
	defer w.closeMu.Unlock()
	if !w.running.Load() {
		return nil
	}
	w.running.Store(false)

	j := job{
		ctx: ctx,
		fn: func(ctx context.Context, c *Context) error {
			return c.Close(ctx)
		},
		reply: make(chan result, 1),
		last:  true,
	}
	w.queue <- j
	defer func() {
		close(w.done)
		w.wg.Wait()
	}()
	return j.wait()
}
