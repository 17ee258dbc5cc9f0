package workflow

import (
	"errors"
	"fmt"

	"github.com/example/face-auth/internal/capture"
)

var (
	// ErrEventRejected is returned when the current state does not accept an
	// event or a guard fails. The machine is left unchanged.
	ErrEventRejected = errors.New("event rejected")
	// ErrInvalidEvent is returned for events whose payload fails validation.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrClosed is returned for events sent after Close.
	ErrClosed = errors.New("workflow closed")
)

// EnrollmentEvent is one of Start, UpdateIdentity, PhotoCaptured, Retake, Submit.
type EnrollmentEvent interface {
	Name() string
	enrollmentEvent()
}

// AuthenticationEvent is one of StartCamera, PhotoCaptured, Cancel, Retry, Back.
type AuthenticationEvent interface {
	Name() string
	authenticationEvent()
}

// IdentityField names an editable identity field.
type IdentityField string

const (
	FieldDisplayName  IdentityField = "name"
	FieldEmailAddress IdentityField = "email"
)

// Start begins capture once the identity is complete.
type Start struct{}

// UpdateIdentity sets one identity field.
type UpdateIdentity struct {
	Field IdentityField
	Value string
}

// NewUpdateIdentity validates the field name.
func NewUpdateIdentity(field IdentityField, value string) (UpdateIdentity, error) {
	ev := UpdateIdentity{Field: field, Value: value}
	return ev, ev.validate()
}

func (e UpdateIdentity) validate() error {
	switch e.Field {
	case FieldDisplayName, FieldEmailAddress:
		return nil
	}
	return fmt.Errorf("%w: unknown identity field %q", ErrInvalidEvent, e.Field)
}

// PhotoCaptured delivers a captured frame.
type PhotoCaptured struct {
	Frame capture.Frame
}

// NewPhotoCaptured validates that frame is an image data URL.
func NewPhotoCaptured(frame capture.Frame) (PhotoCaptured, error) {
	ev := PhotoCaptured{Frame: frame}
	return ev, ev.validate()
}

func (e PhotoCaptured) validate() error {
	if err := e.Frame.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}

// Retake discards the most recently accepted photo.
type Retake struct{}

// Submit commits the accepted photos.
type Submit struct{}

// StartCamera opens the camera for authentication.
type StartCamera struct{}

// Cancel leaves the capture step.
type Cancel struct{}

// Retry returns a failed authentication to the start.
type Retry struct{}

// Back asks the host to navigate away.
type Back struct{}

func (Start) Name() string          { return "start" }
func (UpdateIdentity) Name() string { return "update-identity" }
func (PhotoCaptured) Name() string  { return "photo-captured" }
func (Retake) Name() string         { return "retake" }
func (Submit) Name() string         { return "submit" }
func (StartCamera) Name() string    { return "start-camera" }
func (Cancel) Name() string         { return "cancel" }
func (Retry) Name() string          { return "retry" }
func (Back) Name() string           { return "back" }

func (Start) enrollmentEvent()          {}
func (UpdateIdentity) enrollmentEvent() {}
func (PhotoCaptured) enrollmentEvent()  {}
func (Retake) enrollmentEvent()         {}
func (Submit) enrollmentEvent()         {}

func (StartCamera) authenticationEvent()   {}
func (PhotoCaptured) authenticationEvent() {}
func (Cancel) authenticationEvent()        {}
func (Retry) authenticationEvent()         {}
func (Back) authenticationEvent()          {}

func rejected(state fmt.Stringer, event string) error {
	return fmt.Errorf("%w: %s in state %s", ErrEventRejected, event, state)
}
