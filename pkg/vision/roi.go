// Package vision detects a cup inside a region of interest of a camera
// frame and debounces the result into single trigger events.
package vision

import (
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
)

// ROI is a rectangular pixel region of a frame.
type ROI struct {
	X int `json:"x" validate:"min=0"`
	Y int `json:"y" validate:"min=0"`
	W int `json:"w" validate:"min=1"`
	H int `json:"h" validate:"min=1"`
}

// FromRect converts an image rectangle to an ROI.
func FromRect(r image.Rectangle) ROI {
	r = r.Canon()
	return ROI{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}
}

// ParseROI parses "x,y,w,h".
func ParseROI(s string) (ROI, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return ROI{}, fmt.Errorf("roi %q: want x,y,w,h", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return ROI{}, fmt.Errorf("roi %q: %w", s, err)
		}
		v[i] = n
	}
	r := ROI{X: v[0], Y: v[1], W: v[2], H: v[3]}
	if !r.Valid() {
		return ROI{}, fmt.Errorf("roi %q: negative origin or empty size", s)
	}
	return r, nil
}

// Valid reports whether the ROI has a non-negative origin and a non-empty size.
func (r ROI) Valid() bool {
	return r.X >= 0 && r.Y >= 0 && r.W > 0 && r.H > 0
}

// Rect returns the ROI as an image rectangle.
func (r ROI) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

func (r ROI) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", r.X, r.Y, r.W, r.H)
}

// Clamp intersects the ROI with bounds. The result is at least 1x1 and
// always lies inside bounds (bounds itself must be non-empty).
func (r ROI) Clamp(bounds image.Rectangle) image.Rectangle {
	rect := r.Rect().Add(bounds.Min).Intersect(bounds)
	if rect.Empty() {
		x := min(max(bounds.Min.X+r.X, bounds.Min.X), bounds.Max.X-1)
		y := min(max(bounds.Min.Y+r.Y, bounds.Min.Y), bounds.Max.Y-1)
		return image.Rect(x, y, x+1, y+1)
	}
	return rect
}

// Crop returns the ROI of frame as a new image whose bounds start at (0,0).
func Crop(frame image.Image, r ROI) (*image.NRGBA, image.Rectangle) {
	rect := r.Clamp(frame.Bounds())
	return imaging.Crop(frame, rect), rect
}
