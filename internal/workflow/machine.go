package workflow

import (
	"context"
	"time"

	"github.com/example/face-auth/internal/capture"
	"github.com/example/face-auth/internal/failure"
	"github.com/example/face-auth/internal/gateway"
)

// DefaultTimeout bounds each gateway round-trip.
const DefaultTimeout = 30 * time.Second

// Gateway sends a request to the remote verification endpoint.
type Gateway interface {
	Call(ctx context.Context, req gateway.Request) (*gateway.Response, error)
}

// Camera is the part of capture.Controller the machines use.
type Camera interface {
	Acquire(ctx context.Context) (*capture.Handle, error)
	Release(h *capture.Handle) error
	CaptureFrame(h *capture.Handle) (capture.Frame, error)
}

var _ Camera = (*capture.Controller)(nil)

// call performs req and folds transport errors and success=false bodies into
// a single *failure.Error.
func call(ctx context.Context, gw Gateway, req gateway.Request) (*gateway.Response, *failure.Error) {
	resp, err := gw.Call(ctx, req)
	if err != nil {
		return nil, failure.Normalize(err)
	}
	if resp == nil {
		return nil, failure.New(failure.TransportFailure, "empty gateway response")
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = string(req.Action) + " failed"
		}
		return resp, failure.New(failure.ParseKind(resp.Kind), msg)
	}
	return resp, nil
}

func copyError(err *failure.Error) *failure.Error {
	if err == nil {
		return nil
	}
	c := *err
	return &c
}

// broadcaster lets waiters block until the next change. Callers hold the
// owning machine's lock around notify and current.
type broadcaster struct {
	ch chan struct{}
}

func newBroadcaster() broadcaster {
	return broadcaster{ch: make(chan struct{})}
}

func (b *broadcaster) notify() {
	close(b.ch)
	b.ch = make(chan struct{})
}

func (b *broadcaster) current() <-chan struct{} {
	return b.ch
}

// waitFor blocks until pred holds for the value read by snap or ctx ends.
func waitFor[S any](ctx context.Context, snap func() (S, <-chan struct{}), pred func(S) bool) (S, error) {
	for {
		s, changed := snap()
		if pred(s) {
			return s, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return s, ctx.Err()
		}
	}
}
