package capture

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true}

// DirectoryDevice serves the still images of a directory as a stream. Each
// Current call advances to the next file in lexical order; the last file
// repeats once the directory is exhausted.
type DirectoryDevice struct {
	dir string
}

// NewDirectoryDevice returns a device reading from dir.
func NewDirectoryDevice(dir string) *DirectoryDevice {
	return &DirectoryDevice{dir: dir}
}

// Open lists the directory. A missing or empty directory is ErrNoDevice.
func (d *DirectoryDevice) Open(ctx context.Context, c Constraints) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(d.dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no images in %s", ErrNoDevice, d.dir)
	}
	sort.Strings(files)
	return &directorySource{files: files, constraints: c}, nil
}

type directorySource struct {
	mu          sync.Mutex
	files       []string
	pos         int
	constraints Constraints
	stopped     bool
}

func (s *directorySource) Current() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrStopped
	}
	path := s.files[s.pos]
	if s.pos < len(s.files)-1 {
		s.pos++
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return Fit(img, s.constraints.Width, s.constraints.Height), nil
}

func (s *directorySource) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return nil
}

// Fit scales img down, keeping its aspect ratio, so it fits in maxW x maxH.
// Images already inside the box, or a non-positive box, are returned unchanged.
func Fit(img image.Image, maxW, maxH int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxW <= 0 || maxH <= 0 || (w <= maxW && h <= maxH) {
		return img
	}
	scale := min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	dw := max(1, int(float64(w)*scale))
	dh := max(1, int(float64(h)*scale))
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
