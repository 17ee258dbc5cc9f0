package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/example/face-auth/internal/capture"
	"github.com/example/face-auth/internal/failure"
	"github.com/example/face-auth/internal/gateway"
)

// EnrollmentState is a state of the enrollment wizard. StartingCamera,
// CameraActive and ValidatingPose are the substates of capturing-pose.
type EnrollmentState int

const (
	CollectingIdentity EnrollmentState = iota
	StartingCamera
	CameraActive
	ValidatingPose
	AllPosesComplete
	Submitting
	Done
)

var enrollmentStateNames = [...]string{
	CollectingIdentity: "collecting-identity",
	StartingCamera:     "capturing-pose.starting-camera",
	CameraActive:       "capturing-pose.camera-active",
	ValidatingPose:     "capturing-pose.validating-pose",
	AllPosesComplete:   "all-poses-complete",
	Submitting:         "submitting",
	Done:               "done",
}

func (s EnrollmentState) String() string {
	if s < 0 || int(s) >= len(enrollmentStateNames) {
		return fmt.Sprintf("enrollment-state(%d)", int(s))
	}
	return enrollmentStateNames[s]
}

// CapturingPose reports whether s is inside the capturing-pose superstate.
func (s EnrollmentState) CapturingPose() bool {
	return s >= StartingCamera && s <= ValidatingPose
}

// Identity is the user being enrolled.
type Identity struct {
	DisplayName  string
	EmailAddress string
}

// Complete reports whether both fields are set.
func (i Identity) Complete() bool {
	return i.DisplayName != "" && i.EmailAddress != ""
}

// EnrollmentSnapshot is a copy of an Enrollment's state and context.
type EnrollmentSnapshot struct {
	State      EnrollmentState
	Identity   Identity
	Poses      []Pose
	PoseIndex  int
	Accepted   []capture.Frame
	Submitting bool
	// CameraActive is true while the workflow holds a camera handle.
	CameraActive bool
	Err          *failure.Error
}

// CurrentPose returns the pose to capture next, if any remain.
func (s EnrollmentSnapshot) CurrentPose() (Pose, bool) {
	if s.PoseIndex >= len(s.Poses) {
		return Pose{}, false
	}
	return s.Poses[s.PoseIndex], true
}

// Enrollment collects an identity and one validated photo per required pose,
// then indexes them in a single batch.
type Enrollment struct {
	gw     Gateway
	camera Camera
	cfg    settings
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    EnrollmentState
	identity Identity
	handle   *capture.Handle
	// accepted doubles as the pose index: len(accepted) is the index of the
	// pose being captured.
	accepted   []capture.Frame
	submitting bool
	err        *failure.Error
	attempt    uint64
	closed     bool
	changes    broadcaster
}

// NewEnrollment builds an enrollment workflow in CollectingIdentity.
func NewEnrollment(gw Gateway, camera Camera, opts ...Option) (*Enrollment, error) {
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
	if len(cfg.poses) == 0 {
		return nil, errors.New("workflow: at least one pose is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Enrollment{
		gw:      gw,
		camera:  camera,
		cfg:     cfg,
		logger:  cfg.logger.Named("enrollment"),
		ctx:     ctx,
		cancel:  cancel,
		state:   CollectingIdentity,
		changes: newBroadcaster(),
	}, nil
}

// Send delivers ev. It returns ErrEventRejected if the current state does not
// accept ev, ErrInvalidEvent for a malformed payload and ErrClosed after Close.
func (e *Enrollment) Send(ev EnrollmentEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dispatch(ev)
}

// Capture samples a frame from the held camera and delivers it as PhotoCaptured.
func (e *Enrollment) Capture() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.state != CameraActive {
		return rejected(e.state, "capture")
	}
	if e.handle == nil {
		return failure.New(failure.FrameCaptureUnavailable, "no active camera stream")
	}
	frame, err := e.camera.CaptureFrame(e.handle)
	if err != nil {
		return err
	}
	return e.dispatch(PhotoCaptured{Frame: frame})
}

// Close abandons the workflow. The camera is released, outstanding results
// are discarded and every later event is rejected with ErrClosed.
func (e *Enrollment) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.attempt++
	err := e.releaseCamera()
	e.cancel()
	e.logger.Debug("closed", zap.Stringer("state", e.state))
	e.changes.notify()
	return err
}

// Snapshot returns the current state and context.
func (e *Enrollment) Snapshot() EnrollmentSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// WaitFor blocks until pred holds for the workflow's snapshot or ctx ends.
func (e *Enrollment) WaitFor(ctx context.Context, pred func(EnrollmentSnapshot) bool) (EnrollmentSnapshot, error) {
	return waitFor(ctx, func() (EnrollmentSnapshot, <-chan struct{}) {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.snapshotLocked(), e.changes.current()
	}, pred)
}

func (e *Enrollment) dispatch(ev EnrollmentEvent) error {
	if e.closed {
		return ErrClosed
	}
	var err error
	switch ev := ev.(type) {
	case UpdateIdentity:
		err = e.updateIdentity(ev)
	case Start:
		err = e.start()
	case PhotoCaptured:
		err = e.photoCaptured(ev)
	case Retake:
		err = e.retake()
	case Submit:
		err = e.submit()
	default:
		err = fmt.Errorf("%w: unsupported enrollment event %T", ErrInvalidEvent, ev)
	}
	if err != nil {
		e.logger.Debug("event rejected", zap.Stringer("state", e.state), zap.Error(err))
		return err
	}
	e.changes.notify()
	return nil
}

func (e *Enrollment) updateIdentity(ev UpdateIdentity) error {
	if err := ev.validate(); err != nil {
		return err
	}
	if e.state != CollectingIdentity {
		return rejected(e.state, ev.Name())
	}
	switch ev.Field {
	case FieldDisplayName:
		e.identity.DisplayName = ev.Value
	case FieldEmailAddress:
		e.identity.EmailAddress = ev.Value
	}
	return nil
}

func (e *Enrollment) start() error {
	if e.state != CollectingIdentity {
		return rejected(e.state, Start{}.Name())
	}
	if !e.identity.Complete() {
		return fmt.Errorf("%w: identity incomplete", ErrEventRejected)
	}
	e.transition(StartingCamera, "start")
	go e.acquire(e.nextAttempt())
	return nil
}

func (e *Enrollment) photoCaptured(ev PhotoCaptured) error {
	if err := ev.validate(); err != nil {
		return err
	}
	if e.state != CameraActive {
		return rejected(e.state, ev.Name())
	}
	e.transition(ValidatingPose, ev.Name())
	go e.validate(e.nextAttempt(), ev.Frame)
	return nil
}

func (e *Enrollment) retake() error {
	if e.state != CameraActive || len(e.accepted) == 0 {
		return rejected(e.state, Retake{}.Name())
	}
	e.accepted = e.accepted[:len(e.accepted)-1]
	e.attempt++
	e.logger.Debug("photo removed", zap.Int("pose_index", len(e.accepted)))
	return nil
}

func (e *Enrollment) submit() error {
	if e.state != AllPosesComplete {
		return rejected(e.state, Submit{}.Name())
	}
	e.submitting = true
	e.transition(Submitting, "submit")
	photos := make([]string, len(e.accepted))
	for i, f := range e.accepted {
		photos[i] = string(f)
	}
	go e.index(e.nextAttempt(), photos)
	return nil
}

func (e *Enrollment) acquire(attempt uint64) {
	h, err := e.camera.Acquire(e.ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.current(attempt) || e.state != StartingCamera {
		if rerr := e.camera.Release(h); rerr != nil {
			e.logger.Warn("release stale camera", zap.Error(rerr))
		}
		return
	}
	if err != nil {
		// The wizard continues without a preview rather than dead-ending.
		e.err = failure.Normalize(err)
		e.logger.Warn("camera unavailable, continuing without preview", zap.Error(err))
	} else {
		e.handle = h
	}
	e.transition(CameraActive, "camera-started")
	e.changes.notify()
}

func (e *Enrollment) validate(attempt uint64, frame capture.Frame) {
	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.timeout)
	defer cancel()
	_, ferr := call(ctx, e.gw, gateway.Request{Action: gateway.ActionValidate, Photo: string(frame)})

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.current(attempt) || e.state != ValidatingPose {
		e.logger.Debug("stale validation result dropped", zap.Uint64("attempt", attempt))
		return
	}
	if ferr != nil {
		e.err = ferr
		e.transition(CameraActive, "validation-failed")
		e.changes.notify()
		return
	}
	e.accepted = append(e.accepted, frame)
	e.err = nil
	if len(e.accepted) == len(e.cfg.poses) {
		if err := e.releaseCamera(); err != nil {
			e.logger.Warn("release camera", zap.Error(err))
		}
		e.transition(AllPosesComplete, "validated")
	} else {
		e.transition(CameraActive, "validated")
	}
	e.changes.notify()
}

func (e *Enrollment) index(attempt uint64, photos []string) {
	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.timeout)
	defer cancel()
	_, ferr := call(ctx, e.gw, gateway.Request{
		Action:       gateway.ActionIndex,
		Photos:       photos,
		CollectionID: e.cfg.collectionID,
	})

	e.mu.Lock()
	if !e.current(attempt) || e.state != Submitting {
		e.mu.Unlock()
		e.logger.Debug("stale index result dropped", zap.Uint64("attempt", attempt))
		return
	}
	e.submitting = false
	if ferr != nil {
		e.err = ferr
		e.transition(AllPosesComplete, "index-failed")
		e.changes.notify()
		e.mu.Unlock()
		return
	}
	e.err = nil
	e.transition(Done, "indexed")
	e.changes.notify()
	snap := e.snapshotLocked()
	e.mu.Unlock()

	if e.cfg.onComplete != nil {
		e.cfg.onComplete(snap)
	}
}

func (e *Enrollment) nextAttempt() uint64 {
	e.attempt++
	return e.attempt
}

func (e *Enrollment) current(attempt uint64) bool {
	return !e.closed && attempt == e.attempt
}

func (e *Enrollment) releaseCamera() error {
	if e.handle == nil {
		return nil
	}
	h := e.handle
	e.handle = nil
	return e.camera.Release(h)
}

func (e *Enrollment) transition(to EnrollmentState, cause string) {
	from := e.state
	e.state = to
	e.logger.Debug("transition",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.String("cause", cause),
		zap.Int("pose_index", len(e.accepted)),
	)
}

func (e *Enrollment) snapshotLocked() EnrollmentSnapshot {
	return EnrollmentSnapshot{
		State:        e.state,
		Identity:     e.identity,
		Poses:        append([]Pose(nil), e.cfg.poses...),
		PoseIndex:    len(e.accepted),
		Accepted:     append([]capture.Frame(nil), e.accepted...),
		Submitting:   e.submitting,
		CameraActive: e.handle != nil,
		Err:          copyError(e.err),
	}
}
