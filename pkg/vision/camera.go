//go:build gocv

package vision

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// CameraSource reads frames from a local camera through OpenCV.
type CameraSource struct {
	vc    *gocv.VideoCapture
	mat   gocv.Mat
	index int
}

// OpenCamera opens the first camera index that works. A zero width or
// height keeps the driver default.
func OpenCamera(indices []int, width, height int) (*CameraSource, error) {
	if len(indices) == 0 {
		indices = DefaultCameraIndices
	}
	for _, id := range indices {
		vc, err := gocv.OpenVideoCapture(id)
		if err != nil {
			continue
		}
		if !vc.IsOpened() {
			vc.Close()
			continue
		}
		if width > 0 && height > 0 {
			vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
			vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
		}
		return &CameraSource{vc: vc, mat: gocv.NewMat(), index: id}, nil
	}
	return nil, fmt.Errorf("no camera opened at indices %v", indices)
}

// Index returns the camera index that was opened.
func (c *CameraSource) Index() int { return c.index }

// Read implements Source.
func (c *CameraSource) Read(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, fmt.Errorf("camera %d: frame read failed", c.index)
	}
	img, err := c.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("camera %d: convert frame: %w", c.index, err)
	}
	return img, nil
}

// Close implements Source.
func (c *CameraSource) Close() error {
	c.mat.Close()
	return c.vc.Close()
}

const roiWindow = "Select cup ROI - drag, then Enter"

// SelectROI shows img and lets the operator drag the ROI with the mouse.
func SelectROI(img image.Image) (ROI, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return ROI{}, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()

	w := gocv.NewWindow(roiWindow)
	defer w.Close()

	r := FromRect(gocv.SelectROI(roiWindow, mat))
	if !r.Valid() {
		return ROI{}, fmt.Errorf("selection cancelled")
	}
	return r, nil
}
