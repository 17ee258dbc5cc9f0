package workflow

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/face-auth/internal/capture"
	"github.com/example/face-auth/internal/failure"
	"github.com/example/face-auth/internal/gateway"
)

func newTestEnrollment(t *testing.T, gw Gateway, device *fakeDevice, opts ...Option) (*Enrollment, *capture.Controller) {
	t.Helper()
	ctl := capture.NewController(device)
	e, err := NewEnrollment(gw, ctl, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, ctl
}

func startCapturing(t *testing.T, e *Enrollment) EnrollmentSnapshot {
	t.Helper()
	require.NoError(t, e.Send(UpdateIdentity{Field: FieldDisplayName, Value: "Ada"}))
	require.NoError(t, e.Send(UpdateIdentity{Field: FieldEmailAddress, Value: "ada@example.com"}))
	require.NoError(t, e.Send(Start{}))
	return waitEnrollment(t, e, inEnrollmentState(CameraActive))
}

func capturePose(t *testing.T, e *Enrollment, n byte) EnrollmentSnapshot {
	t.Helper()
	require.NoError(t, e.Send(photo(t, n)))
	return waitEnrollment(t, e, settled)
}

func TestStartRequiresCompleteIdentity(t *testing.T) {
	e, ctl := newTestEnrollment(t, &stubGateway{}, &fakeDevice{})

	require.NoError(t, e.Send(UpdateIdentity{Field: FieldEmailAddress, Value: "x@y.com"}))
	err := e.Send(Start{})

	require.ErrorIs(t, err, ErrEventRejected)
	s := e.Snapshot()
	require.Equal(t, CollectingIdentity, s.State)
	require.Equal(t, Identity{EmailAddress: "x@y.com"}, s.Identity)
	require.Zero(t, ctl.Stats().Acquired)
}

func TestAllPosesAcceptedReachesComplete(t *testing.T) {
	device := &fakeDevice{}
	gw := &stubGateway{}
	e, ctl := newTestEnrollment(t, gw, device)

	s := startCapturing(t, e)
	require.True(t, s.CameraActive)
	pose, ok := s.CurrentPose()
	require.True(t, ok)
	require.Equal(t, "Front", pose.Name)

	for i := 0; i < len(DefaultPoses); i++ {
		s = capturePose(t, e, byte(i))
		require.Equal(t, i+1, s.PoseIndex)
		require.Len(t, s.Accepted, i+1)
	}

	require.Equal(t, AllPosesComplete, s.State)
	require.Len(t, s.Accepted, 5)
	require.False(t, s.CameraActive)
	require.Nil(t, s.Err)
	require.Equal(t, capture.Stats{Acquired: 1, Released: 1}, ctl.Stats())
	require.Equal(t, []int32{1}, device.stopCounts())

	for _, req := range gw.sent() {
		require.Equal(t, gateway.ActionValidate, req.Action)
	}
}

func TestValidationFailureKeepsPose(t *testing.T) {
	gw := &stubGateway{}
	e, _ := newTestEnrollment(t, gw, &fakeDevice{})
	startCapturing(t, e)
	capturePose(t, e, 1)

	gw.setHandler(fail("no face detected"))
	s := capturePose(t, e, 2)

	require.Equal(t, CameraActive, s.State)
	require.Equal(t, 1, s.PoseIndex)
	require.Equal(t, []capture.Frame{testFrame(1)}, s.Accepted)
	require.NotNil(t, s.Err)
	require.Equal(t, "no face detected", s.Err.Message)

	s.Err.Message = "edited"
	s.Accepted[0] = testFrame(9)
	snap := e.Snapshot()
	require.Equal(t, "no face detected", snap.Err.Message)
	require.Equal(t, []capture.Frame{testFrame(1)}, snap.Accepted)

	gw.setHandler(nil)
	s = capturePose(t, e, 3)
	require.Equal(t, 2, s.PoseIndex)
	require.Nil(t, s.Err)
}

func TestRetakeRemovesLastPhoto(t *testing.T) {
	e, _ := newTestEnrollment(t, &stubGateway{}, &fakeDevice{})
	startCapturing(t, e)

	require.ErrorIs(t, e.Send(Retake{}), ErrEventRejected)

	capturePose(t, e, 1)
	capturePose(t, e, 2)
	require.NoError(t, e.Send(Retake{}))

	s := e.Snapshot()
	require.Equal(t, CameraActive, s.State)
	require.Equal(t, 1, s.PoseIndex)
	require.Equal(t, []capture.Frame{testFrame(1)}, s.Accepted)
	pose, _ := s.CurrentPose()
	require.Equal(t, "Left Profile", pose.Name)
}

func TestCameraFailureStillReachesCameraActive(t *testing.T) {
	e, ctl := newTestEnrollment(t, &stubGateway{}, &fakeDevice{err: capture.ErrPermissionDenied})

	s := startCapturing(t, e)
	require.Equal(t, CameraActive, s.State)
	require.False(t, s.CameraActive)
	require.NotNil(t, s.Err)
	require.Equal(t, failure.CameraUnavailable, s.Err.Kind)
	require.Zero(t, ctl.Stats().Acquired)

	err := e.Capture()
	require.Equal(t, failure.FrameCaptureUnavailable, failure.KindOf(err))

	s = capturePose(t, e, 1)
	require.Equal(t, 1, s.PoseIndex)
	require.Nil(t, s.Err)
}

func TestPhotoCapturedRejectedWhileValidating(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	gw := &stubGateway{}
	e, _ := newTestEnrollment(t, gw, &fakeDevice{})
	startCapturing(t, e)

	gw.setHandler(blocking(started, release))
	require.NoError(t, e.Send(photo(t, 1)))
	<-started

	require.ErrorIs(t, e.Send(photo(t, 2)), ErrEventRejected)
	require.ErrorIs(t, e.Send(Retake{}), ErrEventRejected)
	require.Equal(t, ValidatingPose, e.Snapshot().State)

	close(release)
	s := waitEnrollment(t, e, settled)
	require.Equal(t, []capture.Frame{testFrame(1)}, s.Accepted)
	require.Len(t, gw.sent(), 1)
}

func TestCaptureUsesHeldCamera(t *testing.T) {
	gw := &stubGateway{}
	e, _ := newTestEnrollment(t, gw, &fakeDevice{})
	startCapturing(t, e)

	require.NoError(t, e.Capture())
	s := waitEnrollment(t, e, settled)

	require.Equal(t, 1, s.PoseIndex)
	require.NoError(t, s.Accepted[0].Validate())
	require.Equal(t, string(s.Accepted[0]), gw.sent()[0].Photo)
}

func TestInvalidFrameIsRejected(t *testing.T) {
	e, _ := newTestEnrollment(t, &stubGateway{}, &fakeDevice{})
	startCapturing(t, e)

	_, err := NewPhotoCaptured("not-a-frame")
	require.ErrorIs(t, err, ErrInvalidEvent)
	require.ErrorIs(t, e.Send(PhotoCaptured{}), ErrInvalidEvent)
	require.Equal(t, CameraActive, e.Snapshot().State)

	_, err = NewUpdateIdentity("phone", "123")
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestSubmitIndexesAllPhotos(t *testing.T) {
	completed := make(chan EnrollmentSnapshot, 1)
	gw := &stubGateway{}
	e, _ := newTestEnrollment(t, gw, &fakeDevice{},
		WithPoses(DefaultPoses[:2]),
		WithCollection("staff"),
		WithOnComplete(func(s EnrollmentSnapshot) { completed <- s }),
	)
	startCapturing(t, e)
	capturePose(t, e, 1)
	s := capturePose(t, e, 2)
	require.Equal(t, AllPosesComplete, s.State)

	require.ErrorIs(t, e.Send(Retake{}), ErrEventRejected)
	require.NoError(t, e.Send(Submit{}))
	s = waitEnrollment(t, e, inEnrollmentState(Done))
	require.False(t, s.Submitting)
	require.Nil(t, s.Err)

	done := <-completed
	require.Equal(t, Done, done.State)

	reqs := gw.sent()
	last := reqs[len(reqs)-1]
	require.Equal(t, gateway.ActionIndex, last.Action)
	require.Equal(t, "staff", last.CollectionID)
	require.Equal(t, []string{string(testFrame(1)), string(testFrame(2))}, last.Photos)

	require.ErrorIs(t, e.Send(Submit{}), ErrEventRejected)
}

func TestSubmitFailureAllowsRetry(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	gw := &stubGateway{}
	e, _ := newTestEnrollment(t, gw, &fakeDevice{}, WithPoses(DefaultPoses[:1]))
	startCapturing(t, e)
	capturePose(t, e, 1)

	gw.setHandler(blocking(started, release))
	require.NoError(t, e.Send(Submit{}))
	<-started
	s := e.Snapshot()
	require.Equal(t, Submitting, s.State)
	require.True(t, s.Submitting)
	require.ErrorIs(t, e.Send(Submit{}), ErrEventRejected)
	close(release)
	waitEnrollment(t, e, inEnrollmentState(Done))

	gw2 := &stubGateway{}
	e2, _ := newTestEnrollment(t, gw2, &fakeDevice{}, WithPoses(DefaultPoses[:1]))
	startCapturing(t, e2)
	capturePose(t, e2, 1)
	gw2.setHandler(func(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
		return nil, failure.New(failure.PartialBatchFailure, "1 of 1 photos could not be indexed")
	})
	require.NoError(t, e2.Send(Submit{}))
	s = waitEnrollment(t, e2, settled)
	require.Equal(t, AllPosesComplete, s.State)
	require.False(t, s.Submitting)
	require.Equal(t, failure.PartialBatchFailure, s.Err.Kind)

	gw2.setHandler(nil)
	require.NoError(t, e2.Send(Submit{}))
	s = waitEnrollment(t, e2, settled)
	require.Equal(t, Done, s.State)
	require.Nil(t, s.Err)
}

func TestCloseDuringValidationDropsLateResult(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	device := &fakeDevice{}
	gw := &stubGateway{}
	e, ctl := newTestEnrollment(t, gw, device)
	startCapturing(t, e)

	gw.setHandler(blocking(started, release))
	require.NoError(t, e.Send(photo(t, 1)))
	<-started

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	close(release)

	s := waitEnrollment(t, e, func(EnrollmentSnapshot) bool { return true })
	require.Empty(t, s.Accepted)
	require.False(t, s.CameraActive)
	require.Equal(t, capture.Stats{Acquired: 1, Released: 1}, ctl.Stats())
	require.Equal(t, []int32{1}, device.stopCounts())
	require.ErrorIs(t, e.Send(Retake{}), ErrClosed)
}

func TestCloseDuringAcquireReleasesLateHandle(t *testing.T) {
	device := &fakeDevice{gate: make(chan struct{})}
	e, ctl := newTestEnrollment(t, &stubGateway{}, device)

	require.NoError(t, e.Send(UpdateIdentity{Field: FieldDisplayName, Value: "Ada"}))
	require.NoError(t, e.Send(UpdateIdentity{Field: FieldEmailAddress, Value: "ada@example.com"}))
	require.NoError(t, e.Send(Start{}))
	require.Equal(t, StartingCamera, e.Snapshot().State)

	require.NoError(t, e.Close())
	device.gate <- struct{}{}

	require.Eventually(t, func() bool {
		return ctl.Stats() == capture.Stats{Acquired: 1, Released: 1}
	}, waitTimeout, 5*time.Millisecond)
	require.Equal(t, StartingCamera, e.Snapshot().State)
}

// Random interleavings of captures, failures and retakes must keep the pose
// index equal to the accepted count and reach AllPosesComplete only after
// exactly len(poses) net acceptances.
func TestPoseIndexTracksAcceptedPhotos(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 20; run++ {
		gw := &stubGateway{}
		device := &fakeDevice{}
		e, ctl := newTestEnrollment(t, gw, device)
		s := startCapturing(t, e)

		accepted := 0
		for s.State == CameraActive {
			switch rng.Intn(3) {
			case 0:
				err := e.Send(Retake{})
				if accepted == 0 {
					require.ErrorIs(t, err, ErrEventRejected)
				} else {
					require.NoError(t, err)
					accepted--
				}
				s = e.Snapshot()
			case 1:
				gw.setHandler(fail("Invalid photo"))
				s = capturePose(t, e, byte(rng.Intn(255)))
			default:
				gw.setHandler(nil)
				s = capturePose(t, e, byte(rng.Intn(255)))
				accepted++
			}
			require.Equal(t, accepted, s.PoseIndex)
			require.Len(t, s.Accepted, s.PoseIndex)
			if s.State == AllPosesComplete {
				require.Equal(t, len(DefaultPoses), accepted)
			}
		}
		require.Equal(t, AllPosesComplete, s.State)
		require.Equal(t, capture.Stats{Acquired: 1, Released: 1}, ctl.Stats())
		require.NoError(t, e.Close())
	}
}

func TestNewEnrollmentValidatesDependencies(t *testing.T) {
	ctl := capture.NewController(&fakeDevice{})
	_, err := NewEnrollment(nil, ctl)
	require.Error(t, err)
	_, err = NewEnrollment(&stubGateway{}, nil)
	require.Error(t, err)
	_, err = NewEnrollment(&stubGateway{}, ctl, WithPoses(nil))
	require.Error(t, err)
}

func TestEnrollmentStateNames(t *testing.T) {
	require.Equal(t, "collecting-identity", CollectingIdentity.String())
	require.Equal(t, "capturing-pose.validating-pose", ValidatingPose.String())
	require.True(t, CameraActive.CapturingPose())
	require.False(t, AllPosesComplete.CapturingPose())
}
