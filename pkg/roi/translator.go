// Package roi converts caller framing requests into pixel rectangles in
// sensor space and in the coordinate space of individual stages.
package roi

import (
	"fmt"
	"math"

	"github.com/menta2k/isp-configurator/internal/logging"
	"github.com/menta2k/isp-configurator/pkg/graph"
	"github.com/menta2k/isp-configurator/pkg/types"
)

// DefaultSensorAlignment keeps ROI sizes on whole Bayer quads.
const DefaultSensorAlignment = 2

// Translator maps between caller rectangles and sensor rectangles for one
// pipeline instance. It remembers the last committed sensor ROI so relative
// requests compose with the crop already in effect.
type Translator struct {
	g       *graph.Graph
	align   int
	current types.SensorRoi
}

// New creates a translator for g. The graph pointer is kept; windows recorded
// by later propagation passes are visible without re-creating the translator.
func New(g *graph.Graph, sensorAlignment int) *Translator {
	if sensorAlignment < 1 {
		sensorAlignment = DefaultSensorAlignment
	}
	t := &Translator{g: g, align: sensorAlignment}
	t.Reset()
	return t
}

// Reset drops any committed crop.
func (t *Translator) Reset() {
	t.current = types.FullSensorRoi(uint32(t.g.Sensor.Width), uint32(t.g.Sensor.Height))
}

// Current returns the last committed sensor ROI.
func (t *Translator) Current() types.SensorRoi {
	return t.current
}

// Commit makes sr the base for the next relative request.
func (t *Translator) Commit(sr types.SensorRoi) {
	t.current = sr
}

// SensorRoi computes the sensor rectangle for a framing request without
// changing translator state.
func (t *Translator) SensorRoi(r types.RegionOfInterest) (types.SensorRoi, error) {
	if err := r.Validate(); err != nil {
		return types.SensorRoi{}, err
	}
	sw, sh := t.g.Sensor.Width, t.g.Sensor.Height

	x0, y0, bw, bh := 0, 0, sw, sh
	if !r.FromInput && t.current.Width > 0 && t.current.Height > 0 {
		x0, y0 = int(t.current.CropLeft), int(t.current.CropTop)
		bw, bh = int(t.current.Width), int(t.current.Height)
	}

	w := graph.AlignDown(int(float64(bw)/r.ZoomFactor), t.align)
	h := graph.AlignDown(int(float64(bh)/r.ZoomFactor), t.align)
	if w <= 0 || h <= 0 {
		return types.SensorRoi{}, fmt.Errorf("%w: zoom %.3f leaves %dx%d of a %dx%d base",
			types.ErrInvalidRoi, r.ZoomFactor, w, h, bw, bh)
	}

	left := x0 + (bw-w)/2 + int(math.Round(clampUnit(r.PanFactor)*float64(bw)/2))
	top := y0 + (bh-h)/2 + int(math.Round(clampUnit(r.TiltFactor)*float64(bh)/2))
	left = clampInt(left, 0, sw-w)
	top = clampInt(top, 0, sh-h)

	sr := types.SensorRoi{
		Width:      uint32(w),
		Height:     uint32(h),
		CropLeft:   uint32(left),
		CropRight:  uint32(sw - left - w),
		CropTop:    uint32(top),
		CropBottom: uint32(sh - top - h),
	}
	logging.L().Debug("roi: sensor roi", "zoom", r.ZoomFactor, "pan", r.PanFactor,
		"tilt", r.TiltFactor, "from_input", r.FromInput, "roi", sr.String())
	return sr, nil
}

// InputRoiForOutput maps a rectangle given in the output space of sink back to
// sensor space through the area the sink currently covers.
func (t *Translator) InputRoiForOutput(res types.ResolutionRoi, sink graph.StageID) (types.SensorRoi, error) {
	s := t.g.Stage(sink)
	if s == nil || s.Role != graph.RoleOutput {
		return types.SensorRoi{}, fmt.Errorf("%w: %s is not a sink", types.ErrInvalidRoi, sink)
	}
	if err := t.checkWindow(s); err != nil {
		return types.SensorRoi{}, err
	}
	if int(res.Left+res.Width+res.Right) != s.Output.Width ||
		int(res.Top+res.Height+res.Bottom) != s.Output.Height {
		return types.SensorRoi{}, fmt.Errorf("%w: %s does not tile sink %s output %s",
			types.ErrInvalidRoi, res, sink, s.Output)
	}
	sx := s.Window.Width / float64(s.Output.Width)
	sy := s.Window.Height / float64(s.Output.Height)
	x0 := s.Window.Left + float64(res.Left)*sx
	y0 := s.Window.Top + float64(res.Top)*sy
	x1 := x0 + float64(res.Width)*sx
	y1 := y0 + float64(res.Height)*sy
	return t.sensorRect(x0, y0, x1, y1)
}

// StatsRoiFromSensorRoi expresses a sensor rectangle in the coordinates the
// statistics stages see, which is the downscaler output.
func (t *Translator) StatsRoiFromSensorRoi(sr types.SensorRoi) (types.ResolutionRoi, error) {
	if err := t.checkSensorFrame(sr); err != nil {
		return types.ResolutionRoi{}, err
	}
	ds := t.g.DownScaler()
	if ds == nil {
		return types.ResolutionRoi{}, fmt.Errorf("%w: no downscaler", types.ErrGraphConsistency)
	}
	if err := t.checkWindow(ds); err != nil {
		return types.ResolutionRoi{}, err
	}
	ow, oh := float64(ds.Output.Width), float64(ds.Output.Height)
	toX := func(x float64) int {
		v := (x - ds.Window.Left) * ow / ds.Window.Width
		return clampInt(int(math.Round(v)), 0, ds.Output.Width)
	}
	toY := func(y float64) int {
		v := (y - ds.Window.Top) * oh / ds.Window.Height
		return clampInt(int(math.Round(v)), 0, ds.Output.Height)
	}
	x0, x1 := toX(float64(sr.CropLeft)), toX(float64(sr.CropLeft+sr.Width))
	y0, y1 := toY(float64(sr.CropTop)), toY(float64(sr.CropTop+sr.Height))
	if x1 <= x0 || y1 <= y0 {
		return types.ResolutionRoi{}, fmt.Errorf("%w: %s lies outside the statistics area",
			types.ErrInvalidRoi, sr)
	}
	return types.ResolutionRoi{
		Width:  uint32(x1 - x0),
		Height: uint32(y1 - y0),
		Left:   uint32(x0),
		Right:  uint32(ds.Output.Width - x1),
		Top:    uint32(y0),
		Bottom: uint32(ds.Output.Height - y1),
	}, nil
}

// UndoSensorCropAndScale maps a rectangle given in main sink coordinates back
// to sensor coordinates. The margins of sr are relative to the sink frame.
func (t *Translator) UndoSensorCropAndScale(sr types.SensorRoi) (types.SensorRoi, error) {
	s := t.g.MainOutput()
	if s == nil {
		return types.SensorRoi{}, fmt.Errorf("%w: no main sink", types.ErrGraphConsistency)
	}
	return t.InputRoiForOutput(types.ResolutionRoi{
		Width: sr.Width, Height: sr.Height,
		Left: sr.CropLeft, Right: sr.CropRight,
		Top: sr.CropTop, Bottom: sr.CropBottom,
	}, s.ID)
}

// UndoPoint maps a point of the main sink output to sensor coordinates.
func (t *Translator) UndoPoint(x, y float64) (float64, float64, error) {
	s := t.g.MainOutput()
	if s == nil {
		return 0, 0, fmt.Errorf("%w: no main sink", types.ErrGraphConsistency)
	}
	if err := t.checkWindow(s); err != nil {
		return 0, 0, err
	}
	sx := s.Window.Width / float64(s.Output.Width)
	sy := s.Window.Height / float64(s.Output.Height)
	return s.Window.Left + x*sx, s.Window.Top + y*sy, nil
}

// ForwardPoint maps a sensor point into main sink output coordinates. Points
// outside the covered area map outside the output frame.
func (t *Translator) ForwardPoint(x, y float64) (float64, float64, error) {
	s := t.g.MainOutput()
	if s == nil {
		return 0, 0, fmt.Errorf("%w: no main sink", types.ErrGraphConsistency)
	}
	if err := t.checkWindow(s); err != nil {
		return 0, 0, err
	}
	return (x - s.Window.Left) * float64(s.Output.Width) / s.Window.Width,
		(y - s.Window.Top) * float64(s.Output.Height) / s.Window.Height, nil
}

// SensorCropOrScaleExists reports whether the main sink shows anything other
// than the untouched full sensor frame.
func (t *Translator) SensorCropOrScaleExists() bool {
	s := t.g.MainOutput()
	if s == nil {
		return false
	}
	full := graph.Window{Width: float64(t.g.Sensor.Width), Height: float64(t.g.Sensor.Height)}
	if !windowNear(s.Window, full) {
		return true
	}
	return s.Output != t.g.Sensor
}

func (t *Translator) checkWindow(s *graph.StageDescriptor) error {
	if s.Window.Width <= 0 || s.Window.Height <= 0 || s.Output.IsZero() {
		return fmt.Errorf("%w: stage %s has not been configured", types.ErrGraphConsistency, s.ID)
	}
	return nil
}

func (t *Translator) checkSensorFrame(sr types.SensorRoi) error {
	if int(sr.FrameWidth()) != t.g.Sensor.Width || int(sr.FrameHeight()) != t.g.Sensor.Height {
		return fmt.Errorf("%w: %s does not tile sensor %s", types.ErrInvalidRoi, sr, t.g.Sensor)
	}
	if sr.Width == 0 || sr.Height == 0 {
		return fmt.Errorf("%w: empty sensor roi", types.ErrInvalidRoi)
	}
	return nil
}

// sensorRect rounds a float sensor rectangle to pixels, clamps it to the
// sensor and converts it to margin form.
func (t *Translator) sensorRect(x0, y0, x1, y1 float64) (types.SensorRoi, error) {
	sw, sh := t.g.Sensor.Width, t.g.Sensor.Height
	l := clampInt(int(math.Round(x0)), 0, sw)
	r := clampInt(int(math.Round(x1)), 0, sw)
	tp := clampInt(int(math.Round(y0)), 0, sh)
	b := clampInt(int(math.Round(y1)), 0, sh)
	if r <= l || b <= tp {
		return types.SensorRoi{}, fmt.Errorf("%w: rectangle collapses after clamping", types.ErrInvalidRoi)
	}
	return types.SensorRoi{
		Width:      uint32(r - l),
		Height:     uint32(b - tp),
		CropLeft:   uint32(l),
		CropRight:  uint32(sw - r),
		CropTop:    uint32(tp),
		CropBottom: uint32(sh - b),
	}, nil
}

func windowNear(a, b graph.Window) bool {
	const eps = 1e-6
	return math.Abs(a.Left-b.Left) < eps && math.Abs(a.Top-b.Top) < eps &&
		math.Abs(a.Width-b.Width) < eps && math.Abs(a.Height-b.Height) < eps
}

func clampUnit(f float64) float64 {
	return math.Max(-1, math.Min(1, f))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
