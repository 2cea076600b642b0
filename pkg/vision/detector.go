package vision

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Detection is the result of checking one ROI frame.
type Detection struct {
	Present bool
	Ratio   float64     // matching pixels / ROI pixels
	Pixels  int         // matching pixel count
	Center  image.Point // centroid of matching pixels, ROI-relative
}

// Detector decides whether a cup is present in an ROI image.
type Detector interface {
	Detect(img image.Image) Detection
}

// BackgroundCapturer is implemented by detectors that compare against a
// stored empty-scene frame.
type BackgroundCapturer interface {
	Capture(img image.Image)
	HasBackground() bool
}

// ColorDetector reports a cup when enough pixels fall in a color range.
type ColorDetector struct {
	Range        ColorRange
	MinAreaRatio float64
	Blur         float64 // gaussian sigma, 0 disables
}

// Detect implements Detector.
func (d *ColorDetector) Detect(img image.Image) Detection {
	if d.Blur > 0 {
		img = imaging.Blur(img, d.Blur)
	}
	return measure(img, d.MinAreaRatio, func(x, y int) bool {
		return d.Range.Contains(img.At(x, y))
	})
}

const defaultPixelThreshold = 25

// BackgroundDetector reports a cup when enough pixels differ from a
// captured background. Not safe for concurrent use.
type BackgroundDetector struct {
	MinAreaRatio   float64
	PixelThreshold int // grey-level difference counted as changed

	bg   []uint8
	w, h int
}

// Capture stores img as the empty-scene reference.
func (d *BackgroundDetector) Capture(img image.Image) {
	d.bg, d.w, d.h = grey(img)
}

// HasBackground reports whether Capture has been called.
func (d *BackgroundDetector) HasBackground() bool {
	return d.bg != nil
}

// Detect implements Detector. Without a background, or when the frame size
// changed since Capture, nothing is present.
func (d *BackgroundDetector) Detect(img image.Image) Detection {
	b := img.Bounds()
	if d.bg == nil || b.Dx() != d.w || b.Dy() != d.h {
		return Detection{}
	}
	thr := d.PixelThreshold
	if thr <= 0 {
		thr = defaultPixelThreshold
	}
	return measure(img, d.MinAreaRatio, func(x, y int) bool {
		g := color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
		i := (y-b.Min.Y)*d.w + (x - b.Min.X)
		diff := int(g) - int(d.bg[i])
		if diff < 0 {
			diff = -diff
		}
		return diff > thr
	})
}

func grey(img image.Image) ([]uint8, int, int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out[y*w+x] = color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y
		}
	}
	return out, w, h
}

func measure(img image.Image, minRatio float64, match func(x, y int) bool) Detection {
	b := img.Bounds()
	total := b.Dx() * b.Dy()
	if total <= 0 {
		return Detection{}
	}
	var n, sx, sy int
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if match(x, y) {
				n++
				sx += x - b.Min.X
				sy += y - b.Min.Y
			}
		}
	}
	det := Detection{
		Pixels: n,
		Ratio:  float64(n) / float64(total),
	}
	if n > 0 {
		det.Center = image.Pt(sx/n, sy/n)
		det.Present = det.Ratio >= minRatio
	}
	return det
}
