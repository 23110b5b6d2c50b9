package authsvc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nlesc/mdstudio/pkg/router"
)

// ErrDBNotReady is returned by DBWaiter.Await when the db-online event
// never arrived within the bound.
var ErrDBNotReady = errors.New("authsvc: database did not come online before the deadline")

// DBWaiter defers a store action until the db component has announced
// itself online. The source platform combined an event subscription with
// a 250ms poll of a readiness flag, which is racy: the poll can observe
// "not yet" in the same window the event fires. This keeps a single
// mechanism — subscribe once, then block on that signal with a bounded
// context timeout — per the deduplication call-out against that design.
type DBWaiter struct {
	timeout time.Duration

	once   sync.Once
	online chan struct{}
}

// NewDBWaiter subscribes to topic on transport and returns a DBWaiter that
// unblocks the first time an event arrives on it.
func NewDBWaiter(ctx context.Context, transport router.Router, topic string, timeout time.Duration) (*DBWaiter, error) {
	events, err := transport.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}

	w := &DBWaiter{timeout: timeout, online: make(chan struct{})}
	go func() {
		select {
		case <-events:
			w.markOnline()
		case <-ctx.Done():
		}
	}()
	return w, nil
}

func (w *DBWaiter) markOnline() {
	w.once.Do(func() { close(w.online) })
}

// Await blocks until the db-online event has been observed, then runs
// action. action must be idempotent: Await may be called many times
// concurrently once the signal has fired, and each caller runs action
// independently.
func (w *DBWaiter) Await(ctx context.Context, action func(ctx context.Context) error) error {
	select {
	case <-w.online:
		return action(ctx)
	default:
	}

	waitCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	select {
	case <-w.online:
		return action(ctx)
	case <-waitCtx.Done():
		return ErrDBNotReady
	}
}
