package workflow

import (
	"time"

	"go.uber.org/zap"
)

// DefaultWelcomeDelay is how long a successful authentication is displayed
// before the welcome notification fires.
const DefaultWelcomeDelay = 2 * time.Second

type settings struct {
	logger       *zap.Logger
	timeout      time.Duration
	collectionID string

	poses      []Pose
	onComplete func(EnrollmentSnapshot)

	welcomeDelay time.Duration
	onSuccess    func(AuthenticationSnapshot)
	onBack       func()
}

func defaultSettings() settings {
	return settings{
		logger:       zap.NewNop(),
		timeout:      DefaultTimeout,
		poses:        DefaultPoses,
		welcomeDelay: DefaultWelcomeDelay,
	}
}

// Option configures an Enrollment or Authentication. Options that do not
// apply to a machine are ignored by it.
type Option func(*settings)

// WithLogger sets the logger transitions are reported on.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTimeout bounds each gateway round-trip.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithCollection sends collectionID with index and authenticate requests.
func WithCollection(collectionID string) Option {
	return func(s *settings) { s.collectionID = collectionID }
}

// WithPoses replaces DefaultPoses for enrollment.
func WithPoses(poses []Pose) Option {
	return func(s *settings) { s.poses = append([]Pose(nil), poses...) }
}

// WithOnComplete is called once enrollment reaches Done.
func WithOnComplete(fn func(EnrollmentSnapshot)) Option {
	return func(s *settings) { s.onComplete = fn }
}

// WithOnSuccess is called delay after authentication succeeds.
func WithOnSuccess(delay time.Duration, fn func(AuthenticationSnapshot)) Option {
	return func(s *settings) {
		if delay >= 0 {
			s.welcomeDelay = delay
		}
		s.onSuccess = fn
	}
}

// WithOnBack is called when a failed authentication receives Back.
func WithOnBack(fn func()) Option {
	return func(s *settings) { s.onBack = fn }
}
