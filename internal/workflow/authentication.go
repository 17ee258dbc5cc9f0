package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-auth/internal/capture"
	"github.com/example/face-auth/internal/failure"
	"github.com/example/face-auth/internal/gateway"
)

// AuthenticationState is a state of the sign-in wizard.
type AuthenticationState int

const (
	Ready AuthenticationState = iota
	AcquiringCamera
	AwaitingCapture
	Verifying
	Succeeded
	Failed
)

var authenticationStateNames = [...]string{
	Ready:           "ready",
	AcquiringCamera: "acquiring-camera",
	AwaitingCapture: "awaiting-capture",
	Verifying:       "verifying",
	Succeeded:       "succeeded",
	Failed:          "failed",
}

func (s AuthenticationState) String() string {
	if s < 0 || int(s) >= len(authenticationStateNames) {
		return fmt.Sprintf("authentication-state(%d)", int(s))
	}
	return authenticationStateNames[s]
}

// Capturing reports whether s holds, or is acquiring, the camera.
func (s AuthenticationState) Capturing() bool {
	return s >= AcquiringCamera && s <= Verifying
}

// AuthenticationSnapshot is a copy of an Authentication's state and context.
type AuthenticationSnapshot struct {
	State         AuthenticationState
	Frame         capture.Frame
	CameraLoading bool
	CameraActive  bool
	Match         *gateway.Match
	Token         string
	Err           *failure.Error
}

// Authentication captures a single frame and verifies it against the
// enrolled faces.
type Authentication struct {
	gw     Gateway
	camera Camera
	cfg    settings
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	state         AuthenticationState
	handle        *capture.Handle
	frame         capture.Frame
	cameraLoading bool
	match         *gateway.Match
	token         string
	err           *failure.Error
	attempt       uint64
	closed        bool
	welcome       *time.Timer
	changes       broadcaster
}

// NewAuthentication builds an authentication workflow in Ready.
func NewAuthentication(gw Gateway, camera Camera, opts ...Option) (*Authentication, error) {
	if gw == nil {
		return nil, errors.New("workflow: gateway is required")
	}
	if camera == nil {
		return nil, errors.New("workflow: camera is required")
	}
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(&cfg)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Authentication{
		gw:      gw,
		camera:  camera,
		cfg:     cfg,
		logger:  cfg.logger.Named("authentication"),
		ctx:     ctx,
		cancel:  cancel,
		state:   Ready,
		changes: newBroadcaster(),
	}, nil
}

// Send delivers ev. Errors are as for Enrollment.Send.
func (a *Authentication) Send(ev AuthenticationEvent) error {
	a.mu.Lock()
	after, err := a.dispatch(ev)
	a.mu.Unlock()
	if after != nil {
		after()
	}
	return err
}

// Capture samples a frame from the held camera and delivers it as PhotoCaptured.
func (a *Authentication) Capture() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	if a.state != AwaitingCapture {
		return rejected(a.state, "capture")
	}
	frame, err := a.camera.CaptureFrame(a.handle)
	if err != nil {
		return err
	}
	_, err = a.dispatch(PhotoCaptured{Frame: frame})
	return err
}

// Close abandons the workflow, releasing the camera and cancelling a pending
// welcome notification.
func (a *Authentication) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.attempt++
	if a.welcome != nil {
		a.welcome.Stop()
	}
	err := a.releaseCamera()
	a.cameraLoading = false
	a.cancel()
	a.logger.Debug("closed", zap.Stringer("state", a.state))
	a.changes.notify()
	return err
}

// Snapshot returns the current state and context.
func (a *Authentication) Snapshot() AuthenticationSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// WaitFor blocks until pred holds for the workflow's snapshot or ctx ends.
func (a *Authentication) WaitFor(ctx context.Context, pred func(AuthenticationSnapshot) bool) (AuthenticationSnapshot, error) {
	return waitFor(ctx, func() (AuthenticationSnapshot, <-chan struct{}) {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.snapshotLocked(), a.changes.current()
	}, pred)
}

func (a *Authentication) dispatch(ev AuthenticationEvent) (func(), error) {
	if a.closed {
		return nil, ErrClosed
	}
	var (
		after func()
		err   error
	)
	switch ev := ev.(type) {
	case StartCamera:
		err = a.startCamera()
	case PhotoCaptured:
		err = a.photoCaptured(ev)
	case Cancel:
		err = a.cancelCapture()
	case Retry:
		err = a.retry()
	case Back:
		after, err = a.back()
	default:
		err = fmt.Errorf("%w: unsupported authentication event %T", ErrInvalidEvent, ev)
	}
	if err != nil {
		a.logger.Debug("event rejected", zap.Stringer("state", a.state), zap.Error(err))
		return nil, err
	}
	a.changes.notify()
	return after, nil
}

func (a *Authentication) startCamera() error {
	if a.state != Ready {
		return rejected(a.state, StartCamera{}.Name())
	}
	a.cameraLoading = true
	a.transition(AcquiringCamera, "start-camera")
	go a.acquire(a.nextAttempt())
	return nil
}

func (a *Authentication) photoCaptured(ev PhotoCaptured) error {
	if err := ev.validate(); err != nil {
		return err
	}
	if a.state != AwaitingCapture {
		return rejected(a.state, ev.Name())
	}
	a.frame = ev.Frame
	a.transition(Verifying, ev.Name())
	go a.verify(a.nextAttempt(), ev.Frame)
	return nil
}

func (a *Authentication) cancelCapture() error {
	if a.state != AwaitingCapture {
		return rejected(a.state, Cancel{}.Name())
	}
	if err := a.releaseCamera(); err != nil {
		a.logger.Warn("release camera", zap.Error(err))
	}
	a.attempt++
	a.transition(Ready, "cancel")
	return nil
}

func (a *Authentication) retry() error {
	if a.state != Failed {
		return rejected(a.state, Retry{}.Name())
	}
	a.transition(Ready, "retry")
	return nil
}

func (a *Authentication) back() (func(), error) {
	if a.state != Failed {
		return nil, rejected(a.state, Back{}.Name())
	}
	return a.cfg.onBack, nil
}

func (a *Authentication) acquire(attempt uint64) {
	h, err := a.camera.Acquire(a.ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.current(attempt) || a.state != AcquiringCamera {
		if rerr := a.camera.Release(h); rerr != nil {
			a.logger.Warn("release stale camera", zap.Error(rerr))
		}
		return
	}
	a.cameraLoading = false
	if err != nil {
		// Sign-in needs a live camera, so a failure goes back to Ready.
		a.err = failure.Normalize(err)
		a.transition(Ready, "camera-failed")
	} else {
		a.handle = h
		a.err = nil
		a.transition(AwaitingCapture, "camera-started")
	}
	a.changes.notify()
}

func (a *Authentication) verify(attempt uint64, frame capture.Frame) {
	ctx, cancel := context.WithTimeout(a.ctx, a.cfg.timeout)
	defer cancel()
	resp, ferr := call(ctx, a.gw, gateway.Request{
		Action:       gateway.ActionAuthenticate,
		Photo:        string(frame),
		CollectionID: a.cfg.collectionID,
	})

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.current(attempt) || a.state != Verifying {
		a.logger.Debug("stale verification result dropped", zap.Uint64("attempt", attempt))
		return
	}
	if err := a.releaseCamera(); err != nil {
		a.logger.Warn("release camera", zap.Error(err))
	}
	if ferr == nil && resp.Match == nil {
		ferr = failure.New(failure.NoMatchFound, "No matching face found.")
	}
	if ferr != nil {
		a.err = ferr
		a.transition(Failed, "verification-failed")
		a.changes.notify()
		return
	}
	a.err = nil
	a.match = resp.Match
	a.token = resp.Token
	a.transition(Succeeded, "verified")
	a.changes.notify()
	if a.cfg.onSuccess != nil {
		snap := a.snapshotLocked()
		fn := a.cfg.onSuccess
		a.welcome = time.AfterFunc(a.cfg.welcomeDelay, func() { fn(snap) })
	}
}

func (a *Authentication) nextAttempt() uint64 {
	a.attempt++
	return a.attempt
}

func (a *Authentication) current(attempt uint64) bool {
	return !a.closed && attempt == a.attempt
}

func (a *Authentication) releaseCamera() error {
	if a.handle == nil {
		return nil
	}
	h := a.handle
	a.handle = nil
	return a.camera.Release(h)
}

func (a *Authentication) transition(to AuthenticationState, cause string) {
	from := a.state
	a.state = to
	a.logger.Debug("transition",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.String("cause", cause),
	)
}

func (a *Authentication) snapshotLocked() AuthenticationSnapshot {
	var match *gateway.Match
	if a.match != nil {
		m := *a.match
		match = &m
	}
	return AuthenticationSnapshot{
		State:         a.state,
		Frame:         a.frame,
		CameraLoading: a.cameraLoading,
		CameraActive:  a.handle != nil,
		Match:         match,
		Token:         a.token,
		Err:           copyError(a.err),
	}
}
