package activation

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Future resolves once with a ready sink or a load error. It is written by
// one loader goroutine and polled from the tick loop; the closed done channel
// publishes the result.
type Future struct {
	done chan struct{}
	sink Sink
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Ready returns an already resolved future.
func Ready(s Sink) *Future {
	f := newFuture()
	f.resolve(s, nil)
	return f
}

// Failed returns a future that resolved with err.
func Failed(err error) *Future {
	f := newFuture()
	f.resolve(nil, err)
	return f
}

func (f *Future) resolve(s Sink, err error) {
	if err == nil && s == nil {
		err = fmt.Errorf("loader returned no sink")
	}
	f.sink, f.err = s, err
	close(f.done)
}

// Poll never blocks. It returns ErrSinkNotReady until the future resolves.
func (f *Future) Poll() (Sink, error) {
	select {
	case <-f.done:
		return f.sink, f.err
	default:
		return nil, ErrSinkNotReady
	}
}

// Wait blocks until the future resolves or ctx ends.
func (f *Future) Wait(ctx context.Context) (Sink, error) {
	select {
	case <-f.done:
		return f.sink, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Future) Done() <-chan struct{} { return f.done }

// LoadFunc prepares a sink, typically waiting for media metadata.
type LoadFunc func(ctx context.Context) (Sink, error)

// Loader runs sink construction in the background. Each load resolves its
// own future; a failed load does not cancel the others.
type Loader struct {
	ctx context.Context
	g   errgroup.Group
}

func NewLoader(ctx context.Context) *Loader {
	return &Loader{ctx: ctx}
}

// Load starts fn and returns its future immediately.
func (l *Loader) Load(fn LoadFunc) *Future {
	f := newFuture()
	l.g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("sink loader panicked: %v", r)
				f.resolve(nil, err)
			}
		}()
		s, loadErr := fn(l.ctx)
		f.resolve(s, loadErr)
		return f.err
	})
	return f
}

// Wait blocks until every started load has resolved and returns the first
// load error.
func (l *Loader) Wait() error {
	return l.g.Wait()
}
