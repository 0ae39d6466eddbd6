package types

import (
	"fmt"
	"math"
)

// RegionOfInterest is the caller-facing framing request.
//
// ZoomFactor >= 1 means "more zoomed in". PanFactor and TiltFactor are in
// [-1, 1] and move the ROI centre by up to half of the base frame. FromInput
// selects the base frame: the full sensor when true, the current output
// framing when false.
type RegionOfInterest struct {
	ZoomFactor float64 `json:"zoom_factor" yaml:"zoom_factor"`
	PanFactor  float64 `json:"pan_factor" yaml:"pan_factor"`
	TiltFactor float64 `json:"tilt_factor" yaml:"tilt_factor"`
	FromInput  bool    `json:"from_input" yaml:"from_input"`
}

// Validate reports whether the factors are usable at all.
func (r RegionOfInterest) Validate() error {
	if math.IsNaN(r.ZoomFactor) || math.IsInf(r.ZoomFactor, 0) || r.ZoomFactor < 1.0 {
		return fmt.Errorf("%w: zoom factor %v must be >= 1", ErrInvalidRoi, r.ZoomFactor)
	}
	for _, f := range []float64{r.PanFactor, r.TiltFactor} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: pan/tilt factor %v is not finite", ErrInvalidRoi, f)
		}
	}
	return nil
}

// Centered returns a copy with pan and tilt cleared.
func (r RegionOfInterest) Centered() RegionOfInterest {
	r.PanFactor = 0
	r.TiltFactor = 0
	return r
}

// SensorRoi is a rectangle in sensor pixels in crop-margin form.
// CropLeft+Width+CropRight equals the sensor width, likewise vertically.
type SensorRoi struct {
	Width      uint32 `json:"width"`
	Height     uint32 `json:"height"`
	CropLeft   uint32 `json:"crop_left"`
	CropRight  uint32 `json:"crop_right"`
	CropTop    uint32 `json:"crop_top"`
	CropBottom uint32 `json:"crop_bottom"`
}

// FullSensorRoi returns the identity ROI for a sensor of the given size.
func FullSensorRoi(width, height uint32) SensorRoi {
	return SensorRoi{Width: width, Height: height}
}

// FrameWidth is the width of the frame the margins are relative to.
func (s SensorRoi) FrameWidth() uint32 {
	return s.CropLeft + s.Width + s.CropRight
}

// FrameHeight is the height of the frame the margins are relative to.
func (s SensorRoi) FrameHeight() uint32 {
	return s.CropTop + s.Height + s.CropBottom
}

// IsIdentity reports whether no margin is cropped.
func (s SensorRoi) IsIdentity() bool {
	return s.CropLeft == 0 && s.CropRight == 0 && s.CropTop == 0 && s.CropBottom == 0
}

func (s SensorRoi) String() string {
	return fmt.Sprintf("%dx%d [l=%d r=%d t=%d b=%d]",
		s.Width, s.Height, s.CropLeft, s.CropRight, s.CropTop, s.CropBottom)
}

// ResolutionRoi is a rectangle in the coordinate space of one stage, using
// the same margin convention as SensorRoi.
type ResolutionRoi struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
	Left   uint32 `json:"left"`
	Right  uint32 `json:"right"`
	Top    uint32 `json:"top"`
	Bottom uint32 `json:"bottom"`
}

func (r ResolutionRoi) String() string {
	return fmt.Sprintf("%dx%d [l=%d r=%d t=%d b=%d]",
		r.Width, r.Height, r.Left, r.Right, r.Top, r.Bottom)
}
