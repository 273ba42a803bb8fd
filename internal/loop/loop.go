// ABOUTME: Single-threaded event loop for stream processing
// ABOUTME: Serializes buffer-ready callbacks and supports lock-free quit
package loop

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrRunning is returned when Run is called on a loop that is already running
var ErrRunning = errors.New("loop already running")

type call struct {
	fn   func()
	done chan struct{}
}

// run holds the state of one Run invocation
type run struct {
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
	fail     chan error
}

// Loop executes invoked functions one at a time on the goroutine that
// called Run. Quit, Invoke and Fail are safe from any goroutine.
type Loop struct {
	calls chan call
	state atomic.Pointer[run]
}

// New creates an idle loop
func New() *Loop {
	return &Loop{
		calls: make(chan call),
	}
}

// Run processes invocations until Quit, Fail or ctx cancellation.
// The calling goroutine is locked to its OS thread for the duration.
func (l *Loop) Run(ctx context.Context) error {
	r := &run{
		quit: make(chan struct{}),
		done: make(chan struct{}),
		fail: make(chan error, 1),
	}
	if !l.state.CompareAndSwap(nil, r) {
		return ErrRunning
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	defer func() {
		close(r.done)
		l.state.CompareAndSwap(r, nil)
	}()

	for {
		select {
		case <-r.quit:
			return nil
		case err := <-r.fail:
			return err
		case <-ctx.Done():
			return ctx.Err()
		case c := <-l.calls:
			c.fn()
			close(c.done)
		}
	}
}

// Quit asks the active Run to return at its next iteration.
// It is idempotent and a no-op when the loop is not running.
func (l *Loop) Quit() {
	r := l.state.Load()
	if r == nil {
		return
	}
	r.quitOnce.Do(func() { close(r.quit) })
}

// Running reports whether Run is active
func (l *Loop) Running() bool {
	return l.state.Load() != nil
}

// Invoke runs fn on the loop goroutine and waits for it to finish.
// It returns false without running fn if the loop is idle or stopping.
func (l *Loop) Invoke(fn func()) bool {
	r := l.state.Load()
	if r == nil {
		return false
	}

	c := call{fn: fn, done: make(chan struct{})}
	select {
	case l.calls <- c:
	case <-r.quit:
		return false
	case <-r.done:
		return false
	}

	<-c.done
	return true
}

// Fail makes the active Run return err. Only the first failure of a run is kept.
func (l *Loop) Fail(err error) {
	r := l.state.Load()
	if r == nil {
		return
	}
	if err == nil {
		err = errors.New("unspecified loop failure")
	}
	select {
	case r.fail <- err:
	default:
	}
}
