package workflow

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/face-auth/internal/capture"
	"github.com/example/face-auth/internal/gateway"
)

const waitTimeout = 2 * time.Second

type fakeSource struct {
	stops atomic.Int32
}

func (s *fakeSource) Current() (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 4, 3)), nil
}

func (s *fakeSource) Stop() error {
	s.stops.Add(1)
	return nil
}

// fakeDevice hands out fakeSources. When gate is set, Open blocks until it
// receives, ignoring context cancellation, so a late handle can be observed.
type fakeDevice struct {
	mu      sync.Mutex
	err     error
	gate    chan struct{}
	sources []*fakeSource
}

func (d *fakeDevice) Open(ctx context.Context, c capture.Constraints) (capture.Source, error) {
	if d.gate != nil {
		<-d.gate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	src := &fakeSource{}
	d.sources = append(d.sources, src)
	return src, nil
}

func (d *fakeDevice) stopCounts() []int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	counts := make([]int32, len(d.sources))
	for i, s := range d.sources {
		counts[i] = s.stops.Load()
	}
	return counts
}

type gatewayFunc func(ctx context.Context, req gateway.Request) (*gateway.Response, error)

type stubGateway struct {
	mu       sync.Mutex
	requests []gateway.Request
	handler  gatewayFunc
}

func (g *stubGateway) Call(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	h := g.handler
	g.mu.Unlock()
	if h == nil {
		return &gateway.Response{Success: true}, nil
	}
	return h(ctx, req)
}

func (g *stubGateway) setHandler(h gatewayFunc) {
	g.mu.Lock()
	g.handler = h
	g.mu.Unlock()
}

func (g *stubGateway) sent() []gateway.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.Request(nil), g.requests...)
}

func fail(msg string) gatewayFunc {
	return func(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
		return &gateway.Response{Success: false, Error: msg}, nil
	}
}

// blocking returns a handler that signals started and then waits for release
// or context cancellation.
func blocking(started chan<- struct{}, release <-chan struct{}) gatewayFunc {
	return func(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
		started <- struct{}{}
		select {
		case <-release:
			return &gateway.Response{Success: true, Match: &gateway.Match{FaceID: "face-1", Similarity: 97}}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

var errPermissionDenied = errors.New("NotAllowedError: Permission denied")

func testFrame(n byte) capture.Frame {
	return capture.Frame(gateway.EncodeDataURL("image/jpeg", []byte{0xff, 0xd8, n}))
}

func photo(t *testing.T, n byte) PhotoCaptured {
	t.Helper()
	ev, err := NewPhotoCaptured(testFrame(n))
	require.NoError(t, err)
	return ev
}

func waitEnrollment(t *testing.T, e *Enrollment, pred func(EnrollmentSnapshot) bool) EnrollmentSnapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	s, err := e.WaitFor(ctx, pred)
	require.NoError(t, err, "enrollment stuck in %s", s.State)
	return s
}

func inEnrollmentState(state EnrollmentState) func(EnrollmentSnapshot) bool {
	return func(s EnrollmentSnapshot) bool { return s.State == state }
}

func settled(s EnrollmentSnapshot) bool {
	return s.State != StartingCamera && s.State != ValidatingPose && s.State != Submitting
}

func waitAuthentication(t *testing.T, a *Authentication, state AuthenticationState) AuthenticationSnapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	s, err := a.WaitFor(ctx, func(s AuthenticationSnapshot) bool { return s.State == state })
	require.NoError(t, err, "authentication stuck in %s", s.State)
	return s
}
