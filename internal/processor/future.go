package processor

import (
	"context"
	"sync"

	"github.com/tendant/simple-proxyprep/internal/img"
)

// Future is the pending outcome of a Process call. It settles exactly once.
type Future struct {
	key  string
	done chan struct{}
	once sync.Once
	res  *img.Result
	err  error
}

func newFuture(key string) *Future {
	return &Future{key: key, done: make(chan struct{})}
}

// Key returns the content key the future was created for.
func (f *Future) Key() string { return f.key }

// Done is closed once the future settles.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the future settles or ctx is done. Abandoning the wait
// does not cancel the underlying task.
func (f *Future) Wait(ctx context.Context) (*img.Result, error) {
	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Settled reports whether the future has settled, and its outcome if so.
func (f *Future) Settled() (bool, *img.Result, error) {
	select {
	case <-f.done:
		return true, f.res, f.err
	default:
		return false, nil, nil
	}
}

func (f *Future) resolve(res *img.Result) { f.settle(res, nil) }

func (f *Future) reject(err error) { f.settle(nil, err) }

func (f *Future) settle(res *img.Result, err error) {
	f.once.Do(func() {
		f.res, f.err = res, err
		close(f.done)
	})
}
