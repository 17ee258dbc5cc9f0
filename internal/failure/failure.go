// Package failure defines the error values the capture and workflow layers
// store and surface to the user. Every error a workflow keeps is normalized to
// an *Error carrying a Kind and a human-readable message.
package failure

import (
	"context"
	"errors"
)

// Kind classifies a failure.
type Kind string

const (
	Unknown                 Kind = "unknown"
	CameraUnavailable       Kind = "camera_unavailable"
	FrameCaptureUnavailable Kind = "frame_capture_unavailable"
	NoFaceOrMultipleFaces   Kind = "no_face_or_multiple_faces"
	NoMatchFound            Kind = "no_match_found"
	TransportFailure        Kind = "transport_failure"
	PartialBatchFailure     Kind = "partial_batch_failure"
	InvalidRequest          Kind = "invalid_request"
)

// ParseKind maps a wire name back to a Kind. Unrecognized names yield Unknown.
func ParseKind(s string) Kind {
	switch k := Kind(s); k {
	case CameraUnavailable, FrameCaptureUnavailable, NoFaceOrMultipleFaces,
		NoMatchFound, TransportFailure, PartialBatchFailure, InvalidRequest:
		return k
	default:
		return Unknown
	}
}

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: NoMatchFound}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// New returns a failure of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies err. The message defaults to err's text when empty.
func Wrap(kind Kind, message string, err error) *Error {
	if message == "" && err != nil {
		message = err.Error()
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// Normalize converts any error into an *Error. Already classified errors are
// returned as is; context cancellation and deadlines become TransportFailure.
// A nil err yields nil.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Wrap(TransportFailure, "", err)
	}
	return Wrap(Unknown, "", err)
}

// KindOf returns the kind of err, Unknown for unclassified errors and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return Normalize(err).Kind
}
