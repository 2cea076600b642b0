package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
)

var (
	// ErrSourceExhausted is returned by a non-looping source after its last frame.
	ErrSourceExhausted = errors.New("frame source exhausted")
	// ErrNoCameraSupport is returned when the binary was built without gocv.
	ErrNoCameraSupport = errors.New("camera support not built in (build with -tags gocv)")
)

// DefaultCameraIndices are tried in order when opening a camera.
var DefaultCameraIndices = []int{0, 1, 2}

// Source yields camera frames.
type Source interface {
	Read(ctx context.Context) (image.Image, error)
	Close() error
}

// Frames is an in-memory Source.
type Frames struct {
	mu     sync.Mutex
	frames []image.Image
	next   int
	loop   bool
}

// NewFrames returns a source that yields frames in order.
func NewFrames(loop bool, frames ...image.Image) *Frames {
	return &Frames{frames: frames, loop: loop}
}

// Read implements Source.
func (f *Frames) Read(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.next >= len(f.frames) {
		if !f.loop || len(f.frames) == 0 {
			return nil, ErrSourceExhausted
		}
		f.next = 0
	}
	img := f.frames[f.next]
	f.next++
	return img, nil
}

// Close implements Source.
func (f *Frames) Close() error { return nil }

// DirSource replays image files from a directory in name order.
type DirSource struct {
	mu    sync.Mutex
	paths []string
	next  int
	loop  bool
}

// NewDirSource lists the PNG and JPEG files in dir.
func NewDirSource(dir string, loop bool) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no images in %s", dir)
	}
	sort.Strings(paths)
	return &DirSource{paths: paths, loop: loop}, nil
}

// Len returns the number of frames in the directory.
func (d *DirSource) Len() int { return len(d.paths) }

// Read implements Source.
func (d *DirSource) Read(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	if d.next >= len(d.paths) {
		if !d.loop {
			d.mu.Unlock()
			return nil, ErrSourceExhausted
		}
		d.next = 0
	}
	path := d.paths[d.next]
	d.next++
	d.mu.Unlock()

	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load frame: %w", err)
	}
	return img, nil
}

// Close implements Source.
func (d *DirSource) Close() error { return nil }
