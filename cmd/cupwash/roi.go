package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/zkbot/cupwash/pkg/vision"
)

type ROICommand struct {
	ROI  string `long:"roi" description:"Region as x,y,w,h; without it a camera window opens for mouse selection"`
	Show bool   `long:"show" description:"Print the configured region and exit"`
}

func (c *ROICommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if c.Show {
		fmt.Printf("ROI: %s (%dx%d frame)\n", cfg.Vision.ROI, cfg.Vision.Width, cfg.Vision.Height)
		return nil
	}

	var roi vision.ROI
	if c.ROI != "" {
		roi, err = vision.ParseROI(c.ROI)
		if err != nil {
			return err
		}
	} else {
		roi, err = selectFromCamera(cfg.Vision.Camera, cfg.Vision.Width, cfg.Vision.Height)
		if errors.Is(err, vision.ErrNoCameraSupport) {
			return fmt.Errorf("%w; pass --roi x,y,w,h instead", err)
		}
		if err != nil {
			return err
		}
	}

	if roi.X+roi.W > cfg.Vision.Width || roi.Y+roi.H > cfg.Vision.Height {
		fmt.Println(warnStyle.Render(fmt.Sprintf("ROI %s extends past the %dx%d frame and will be clipped", roi, cfg.Vision.Width, cfg.Vision.Height)))
	}

	cfg.Vision.ROI = roi
	if err := cfg.SaveTo(opts.Config); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Println(successStyle.Render(fmt.Sprintf("ROI set to %s", roi)))
	return nil
}

func selectFromCamera(index, width, height int) (vision.ROI, error) {
	cam, err := vision.OpenCamera(append([]int{index}, vision.DefaultCameraIndices...), width, height)
	if err != nil {
		return vision.ROI{}, err
	}
	defer cam.Close()

	frame, err := cam.Read(context.Background())
	if err != nil {
		return vision.ROI{}, err
	}
	fmt.Println("Drag a rectangle around the pickup spot, then press Enter or Space.")
	return vision.SelectROI(frame)
}
