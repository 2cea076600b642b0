package vision

import (
	"image"
	"image/color"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// ColorRange is an HSV box on the OpenCV scale: H 0-179, S and V 0-255.
// When HMin > HMax the hue range wraps through 0 (reds).
type ColorRange struct {
	HMin int `json:"h_min" validate:"min=0,max=179"`
	HMax int `json:"h_max" validate:"min=0,max=179"`
	SMin int `json:"s_min" validate:"min=0,max=255"`
	SMax int `json:"s_max" validate:"min=0,max=255,gtefield=SMin"`
	VMin int `json:"v_min" validate:"min=0,max=255"`
	VMax int `json:"v_max" validate:"min=0,max=255,gtefield=VMin"`
}

// DefaultCupColor matches a white paper cup under workshop lighting.
func DefaultCupColor() ColorRange {
	return ColorRange{HMin: 0, HMax: 179, SMin: 0, SMax: 60, VMin: 170, VMax: 255}
}

// DirtColor is the brown residue range used by DirtEstimate.
func DirtColor() ColorRange {
	return ColorRange{HMin: 10, HMax: 20, SMin: 100, SMax: 255, VMin: 100, VMax: 255}
}

// HSV converts c to OpenCV-scaled hue, saturation and value.
func HSV(c color.Color) (h, s, v int) {
	cf, _ := colorful.MakeColor(c)
	hf, sf, vf := cf.Hsv()
	h = int(math.Round(hf/2)) % 180
	s = int(math.Round(sf * 255))
	v = int(math.Round(vf * 255))
	return h, s, v
}

// Contains reports whether c lies in the range.
func (r ColorRange) Contains(c color.Color) bool {
	h, s, v := HSV(c)
	if s < r.SMin || s > r.SMax || v < r.VMin || v > r.VMax {
		return false
	}
	if r.HMin <= r.HMax {
		return h >= r.HMin && h <= r.HMax
	}
	return h >= r.HMin || h <= r.HMax
}

// Dirt is a cleanliness estimate.
type Dirt struct {
	Detected    bool
	Percentage  float64
	Cleanliness float64
}

const dirtThresholdPercent = 15

// DirtEstimate reports the share of img inside the dirt color range.
func DirtEstimate(img image.Image, dirt ColorRange) Dirt {
	b := img.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return Dirt{Cleanliness: 100}
	}
	n := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if dirt.Contains(img.At(x, y)) {
				n++
			}
		}
	}
	pct := float64(n) / float64(total) * 100
	return Dirt{
		Detected:    pct > dirtThresholdPercent,
		Percentage:  pct,
		Cleanliness: math.Max(0, 100-pct),
	}
}
