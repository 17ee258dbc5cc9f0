package capture

import (
	"context"
	"errors"
	"image"
	"strings"
)

// Frame is an encoded still image as a data URL ("data:image/jpeg;base64,...").
type Frame string

// ErrInvalidFrame is returned by Frame.Validate.
var ErrInvalidFrame = errors.New("frame is not an image data url")

// Validate checks that f looks like an image data URL.
func (f Frame) Validate() error {
	s := string(f)
	if !strings.HasPrefix(s, "data:image/") || !strings.Contains(s, ",") {
		return ErrInvalidFrame
	}
	return nil
}

// Constraints describe the stream a Device is asked for.
type Constraints struct {
	// FacingMode is "user" for the front camera.
	FacingMode string
	// Width and Height are the ideal resolution; devices may deliver less.
	Width  int
	Height int
}

// DefaultConstraints request the front camera at 640x480.
var DefaultConstraints = Constraints{FacingMode: "user", Width: 640, Height: 480}

// Source is a live video stream.
type Source interface {
	// Current returns the frame the stream is showing now.
	Current() (image.Image, error)
	// Stop ends every underlying track.
	Stop() error
}

// Device opens sources. Open should return ErrPermissionDenied or ErrNoDevice
// (possibly wrapped) when the stream cannot be had.
type Device interface {
	Open(ctx context.Context, c Constraints) (Source, error)
}

var (
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrNoDevice         = errors.New("no camera device found")
	ErrStopped          = errors.New("source stopped")
)
