// Package capture owns camera acquisition, release and still-frame
// extraction. It is the only package that touches a live stream.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/example/face-auth/internal/failure"
	"github.com/example/face-auth/internal/gateway"
)

// DefaultQuality is the JPEG quality frames are encoded at.
const DefaultQuality = 80

// Handle is an acquired stream. It is released at most once.
type Handle struct {
	id       uint64
	source   Source
	once     sync.Once
	released atomic.Bool
}

// ID identifies the acquisition the handle came from.
func (h *Handle) ID() uint64 { return h.id }

// Released reports whether the handle has been released.
func (h *Handle) Released() bool { return h.released.Load() }

// Stats counts acquisitions and releases made through a Controller.
type Stats struct {
	Acquired uint64
	Released uint64
}

// Controller acquires and releases streams from a Device and samples frames.
type Controller struct {
	device      Device
	constraints Constraints
	quality     int
	logger      *zap.Logger

	nextID   atomic.Uint64
	acquired atomic.Uint64
	released atomic.Uint64
}

// Option configures a Controller.
type Option func(*Controller)

// WithConstraints overrides DefaultConstraints.
func WithConstraints(c Constraints) Option {
	return func(ctl *Controller) { ctl.constraints = c }
}

// WithQuality sets the JPEG quality (1-100).
func WithQuality(q int) Option {
	return func(ctl *Controller) {
		if q >= 1 && q <= 100 {
			ctl.quality = q
		}
	}
}

// WithLogger sets the logger used for acquisition events.
func WithLogger(logger *zap.Logger) Option {
	return func(ctl *Controller) { ctl.logger = logger }
}

// NewController builds a Controller over device.
func NewController(device Device, opts ...Option) *Controller {
	c := &Controller{
		device:      device,
		constraints: DefaultConstraints,
		quality:     DefaultQuality,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("capture")
	return c
}

// Acquire opens a stream. Device failures are reported as CameraUnavailable.
func (c *Controller) Acquire(ctx context.Context) (*Handle, error) {
	src, err := c.device.Open(ctx, c.constraints)
	if err != nil {
		c.logger.Warn("camera acquisition failed", zap.Error(err))
		return nil, failure.Wrap(failure.CameraUnavailable, fmt.Sprintf("camera unavailable: %v", err), err)
	}
	if src == nil {
		return nil, failure.New(failure.CameraUnavailable, "camera unavailable: device returned no stream")
	}
	h := &Handle{id: c.nextID.Add(1), source: src}
	c.acquired.Add(1)
	c.logger.Debug("camera acquired", zap.Uint64("handle", h.id))
	return h, nil
}

// Release stops the handle's stream. Repeated calls and nil handles are no-ops.
func (c *Controller) Release(h *Handle) error {
	if h == nil {
		return nil
	}
	var err error
	h.once.Do(func() {
		h.released.Store(true)
		c.released.Add(1)
		err = h.source.Stop()
		c.logger.Debug("camera released", zap.Uint64("handle", h.id), zap.Error(err))
	})
	return err
}

// CaptureFrame samples the current frame of h as a JPEG data URL.
func (c *Controller) CaptureFrame(h *Handle) (Frame, error) {
	if h == nil || h.Released() {
		return "", failure.New(failure.FrameCaptureUnavailable, "no active camera stream")
	}
	img, err := h.source.Current()
	if err != nil {
		return "", failure.Wrap(failure.FrameCaptureUnavailable, fmt.Sprintf("frame capture unavailable: %v", err), err)
	}
	if img == nil || img.Bounds().Empty() {
		return "", failure.New(failure.FrameCaptureUnavailable, "frame capture unavailable: video has no dimensions")
	}
	return EncodeJPEG(img, c.quality)
}

// Stats returns acquisition counters.
func (c *Controller) Stats() Stats {
	return Stats{Acquired: c.acquired.Load(), Released: c.released.Load()}
}

// EncodeJPEG encodes img as a JPEG data URL.
func EncodeJPEG(img image.Image, quality int) (Frame, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", failure.Wrap(failure.FrameCaptureUnavailable, "encode frame", err)
	}
	return Frame(gateway.EncodeDataURL("image/jpeg", buf.Bytes())), nil
}
