//go:build !gocv

package vision

import (
	"context"
	"image"
)

// CameraSource is unavailable without the gocv build tag.
type CameraSource struct{}

// OpenCamera always fails without gocv.
func OpenCamera(indices []int, width, height int) (*CameraSource, error) {
	return nil, ErrNoCameraSupport
}

func (c *CameraSource) Index() int { return -1 }

func (c *CameraSource) Read(ctx context.Context) (image.Image, error) {
	return nil, ErrNoCameraSupport
}

func (c *CameraSource) Close() error { return nil }

// SelectROI needs a gocv window.
func SelectROI(img image.Image) (ROI, error) {
	return ROI{}, ErrNoCameraSupport
}
