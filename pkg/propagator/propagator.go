// Package propagator recomputes the per-stage geometry of a pipeline graph for
// a sensor region of interest.
//
// A pass walks the graph in topological order: the downscaler takes the
// sensor ROI, the cropper fixes the main sink aspect ratio, the upscaler
// covers the main sink and every output stage trims and scales to its own
// resolution. Statistics stages are resolved last from the cropper decision.
// Reference history is written once per slot after the forward walk.
//
// Propagate never mutates the graph it is given. It returns a scratch copy
// that the caller commits.
package propagator

import (
	"fmt"
	"math"

	"github.com/menta2k/isp-configurator/internal/logging"
	"github.com/menta2k/isp-configurator/pkg/graph"
	"github.com/menta2k/isp-configurator/pkg/history"
	"github.com/menta2k/isp-configurator/pkg/types"
)

// Config replaces process-wide debug switches.
type Config struct {
	// BypassUpscaler makes the upscaler an identity stage.
	BypassUpscaler bool `json:"bypass_upscaler" yaml:"bypass_upscaler"`
	// DisableHistory feeds reference stages the current producer geometry
	// and skips history writes.
	DisableHistory bool `json:"disable_history" yaml:"disable_history"`
	// LogStages logs the resolved geometry of every stage at debug level.
	LogStages bool `json:"log_stages" yaml:"log_stages"`
}

// Propagator resolves geometry for one pipeline variant.
type Propagator struct {
	variant Variant
	cfg     Config
}

// New creates a propagator for a variant.
func New(v Variant, cfg Config) (*Propagator, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return &Propagator{variant: v, cfg: cfg}, nil
}

// Variant returns the limits in use.
func (p *Propagator) Variant() Variant { return p.variant }

// Propagate resolves every stage of a clone of g for the sensor ROI sr and
// stages the history writes in pass. On error the clone is discarded and
// neither g nor the registry behind pass is touched.
func (p *Propagator) Propagate(g *graph.Graph, sr types.SensorRoi, pass *history.Pass) (*graph.Graph, error) {
	if int(sr.FrameWidth()) != g.Sensor.Width || int(sr.FrameHeight()) != g.Sensor.Height {
		return nil, fmt.Errorf("%w: %s does not tile sensor %s", types.ErrInvalidRoi, sr, g.Sensor)
	}
	if sr.Width == 0 || sr.Height == 0 {
		return nil, fmt.Errorf("%w: empty sensor roi", types.ErrInvalidRoi)
	}

	scratch := g.Clone()
	r := &run{p: p, g: scratch, sr: sr, pass: pass}
	if err := r.forward(); err != nil {
		return nil, err
	}
	if err := r.statistics(); err != nil {
		return nil, err
	}
	if err := r.writeHistory(); err != nil {
		return nil, err
	}
	return scratch, nil
}

// run is the state of one pass.
type run struct {
	p    *Propagator
	g    *graph.Graph
	sr   types.SensorRoi
	pass *history.Pass
}

func (r *run) forward() error {
	for i := range r.g.Stages {
		s := &r.g.Stages[i]
		var err error
		switch s.Role {
		case graph.RoleInput:
			s.Input, s.Output, s.Crop = r.g.Sensor, r.g.Sensor, graph.Crop{}
			s.Window = graph.Window{Width: float64(r.g.Sensor.Width), Height: float64(r.g.Sensor.Height)}
		case graph.RolePassThrough, graph.RoleReferenceProducer:
			err = r.passThrough(s)
		case graph.RoleDownScaler:
			err = r.downScaler(s)
		case graph.RoleReferenceFeeder:
			err = r.feeder(s)
		case graph.RoleCropper:
			err = r.cropper(s)
		case graph.RoleUpScaler:
			err = r.upScaler(s)
		case graph.RoleOutput:
			err = r.output(s)
		case graph.RoleStatistics:
			continue
		default:
			err = fmt.Errorf("%w: stage %s has unknown role %s", types.ErrGraphConsistency, s.ID, s.Role)
		}
		if err != nil {
			return fmt.Errorf("propagating %s (%s): %w", s.Name, s.ID, err)
		}
		r.trace(s)
	}
	return nil
}

func (r *run) upstream(s *graph.StageDescriptor) (*graph.StageDescriptor, error) {
	up := r.g.Stage(s.Upstream)
	if up == nil {
		return nil, fmt.Errorf("%w: upstream %s missing", types.ErrGraphConsistency, s.Upstream)
	}
	if up.Output.IsZero() {
		return nil, fmt.Errorf("%w: upstream %s not resolved", types.ErrGraphConsistency, up.ID)
	}
	return up, nil
}

func (r *run) passThrough(s *graph.StageDescriptor) error {
	up, err := r.upstream(s)
	if err != nil {
		return err
	}
	s.Input, s.Crop = up.Output, graph.Crop{}
	s.Output = up.Output
	// Pass-through stages with a catalog resolution are fixed-geometry blocks.
	if s.Role == graph.RolePassThrough && !s.Baseline.IsZero() {
		s.Output = s.Baseline
	}
	s.Window = project(up.Window, s)
	return nil
}

// downScaler shrinks the sensor ROI onto the stage's fixed output target.
// The ratio is kept as the integer pair num/den so that round trips through
// the scale are exact.
func (r *run) downScaler(s *graph.StageDescriptor) error {
	up, err := r.upstream(s)
	if err != nil {
		return err
	}
	s.Input = up.Output
	if s.Input != r.g.Sensor {
		return fmt.Errorf("%w: downscaler input %s differs from sensor %s",
			types.ErrGraphConsistency, s.Input, r.g.Sensor)
	}
	f, err := r.g.StageFormat(s)
	if err != nil {
		return err
	}

	v := r.p.variant
	roiW, roiH := int(r.sr.Width), int(r.sr.Height)
	tw, th := s.Baseline.Width, s.Baseline.Height

	num, den := roiW, tw
	if roiW*th < roiH*tw {
		num, den = roiH, th
	}
	if num < den {
		num, den = 1, 1
	}

	winW, winH := roiW, roiH
	if shrink := float64(num) / float64(den); shrink > v.MaxDownscale {
		excess := shrink / v.MaxDownscale
		if excess > v.MaxCropAbsorb {
			return fmt.Errorf("%w: roi %dx%d needs %.2fx reduction onto %s, limit is %.2fx scale by %.2fx crop",
				types.ErrUnsupportedRoi, roiW, roiH, shrink, s.Baseline, v.MaxDownscale, v.MaxCropAbsorb)
		}
		num, den = int(math.Round(v.MaxDownscale*1000)), 1000
		winW = min(roiW, tw*num/den)
		winH = min(roiH, th*num/den)
		logging.L().Debug("propagator: downscale limit reached, cropping input",
			"stage", s.Name, "shrink", shrink, "excess", excess, "window_w", winW, "window_h", winH)
	}

	out := graph.Resolution{
		Width:  graph.AlignDown(winW*den/num, f.PixelAlignment()),
		Height: graph.AlignDown(winH*den/num, f.Alignment),
	}
	if out.IsZero() {
		return fmt.Errorf("%w: downscaler output rounds to %s", types.ErrUnsupportedRoi, out)
	}

	inW := graph.AlignDown(roundDiv(out.Width*num, den), 2)
	inH := graph.AlignDown(roundDiv(out.Height*num, den), 2)
	left := int(r.sr.CropLeft) + graph.AlignDown((roiW-inW)/2, 2)
	top := int(r.sr.CropTop) + graph.AlignDown((roiH-inH)/2, 2)
	s.Crop = graph.Crop{
		Left:   left,
		Top:    top,
		Right:  s.Input.Width - left - inW,
		Bottom: s.Input.Height - top - inH,
	}
	s.Output = out
	s.Window = project(up.Window, s)
	return nil
}

// feeder resolves a temporal reference reader. Its input is the reference
// written in the previous frame, its output matches the current producer.
func (r *run) feeder(s *graph.StageDescriptor) error {
	src := r.g.Stage(s.HistorySource)
	if src == nil || src.Output.IsZero() {
		return fmt.Errorf("%w: history source %s not resolved before feeder",
			types.ErrGraphConsistency, s.HistorySource)
	}
	s.Input, s.Crop = src.Output, graph.Crop{}
	if !r.p.cfg.DisableHistory && r.pass != nil {
		if prev, ok := r.pass.Read(s.HistorySlot); ok {
			s.Input = prev.Resolution
		}
	}
	s.Output = src.Output
	s.Window = src.Window
	return nil
}

// cropper trims the downscaler output to the main sink aspect ratio.
func (r *run) cropper(s *graph.StageDescriptor) error {
	up, err := r.upstream(s)
	if err != nil {
		return err
	}
	s.Input = up.Output
	if ds := r.g.DownScaler(); ds == nil || s.Input != ds.Output {
		return fmt.Errorf("%w: cropper input %s differs from downscaler output",
			types.ErrGraphConsistency, s.Input)
	}
	f, err := r.g.StageFormat(s)
	if err != nil {
		return err
	}
	main := r.g.MainOutput()
	if main == nil {
		return fmt.Errorf("%w: no main sink", types.ErrGraphConsistency)
	}
	align := f.PixelAlignment()
	aw, ah := main.Baseline.Width, main.Baseline.Height
	in := s.Input

	w, h := in.Width, in.Height
	if in.Width*ah > in.Height*aw {
		w = graph.AlignDown(in.Height*aw/ah, align)
	} else {
		h = graph.AlignDown(in.Width*ah/aw, 2)
	}
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: cropper output rounds to %dx%d", types.ErrUnsupportedRoi, w, h)
	}
	left := graph.AlignDown((in.Width-w)/2, align)
	top := graph.AlignDown((in.Height-h)/2, 2)
	s.Crop = graph.Crop{Left: left, Top: top, Right: in.Width - left - w, Bottom: in.Height - top - h}
	s.Output = graph.Resolution{Width: w, Height: h}
	s.Window = project(up.Window, s)
	return nil
}

// upScaler scales the cropped frame up until it covers the main sink. The
// hardware phase is a fixed-point step, so the input it really consumes can
// be a little narrower than requested; the difference is cropped evenly.
func (r *run) upScaler(s *graph.StageDescriptor) error {
	up, err := r.upstream(s)
	if err != nil {
		return err
	}
	s.Input = up.Output
	in := s.Input
	if r.p.cfg.BypassUpscaler {
		s.Crop, s.Output = graph.Crop{}, in
		s.Window = project(up.Window, s)
		r.g.Upscaler = graph.UpscalerState{
			RequestedInput: in, RequestedOutput: in, ActualInput: in, ActualOutput: in,
		}
		return nil
	}
	main := r.g.MainOutput()
	if main == nil {
		return fmt.Errorf("%w: no main sink", types.ErrGraphConsistency)
	}
	v := r.p.variant
	sw, sh := main.Baseline.Width, main.Baseline.Height

	out := in
	if in.Width < sw || in.Height < sh {
		if in.Width*sh >= in.Height*sw {
			out = graph.Resolution{Width: ceilDiv(in.Width*sh, in.Height), Height: sh}
		} else {
			out = graph.Resolution{Width: sw, Height: ceilDiv(in.Height*sw, in.Width)}
		}
	}

	capped := false
	if maxW, maxH := int(float64(in.Width)*v.MaxUpscale), int(float64(in.Height)*v.MaxUpscale); out.Width > maxW || out.Height > maxH {
		out = graph.Resolution{Width: maxW, Height: maxH}
		capped = true
	}
	if out.Width > v.MaxUpscalerOutputWidth {
		out.Height = out.Height * v.MaxUpscalerOutputWidth / out.Width
		out.Width = v.MaxUpscalerOutputWidth
		capped = true
	}
	if capped {
		out.Width = graph.AlignDown(out.Width, v.UpscalerStepWidth)
		out.Height = graph.AlignDown(out.Height, v.UpscalerStepHeight)
	} else {
		out.Width = min(graph.AlignUp(out.Width, v.UpscalerStepWidth),
			graph.AlignDown(v.MaxUpscalerOutputWidth, v.UpscalerStepWidth))
		out.Height = graph.AlignUp(out.Height, v.UpscalerStepHeight)
	}
	if out.IsZero() {
		return fmt.Errorf("%w: upscaler output rounds to %s", types.ErrUnsupportedRoi, out)
	}

	prec := v.ScalePrecision
	phaseX := in.Width * prec / out.Width
	phaseY := in.Height * prec / out.Height
	actual := graph.Resolution{
		Width:  ceilDiv(out.Width*phaseX, prec),
		Height: ceilDiv(out.Height*phaseY, prec),
	}
	if actual.IsZero() {
		return fmt.Errorf("%w: upscale %s -> %s exceeds phase precision", types.ErrUnsupportedRoi, in, out)
	}
	hx, hy := in.Width-actual.Width, in.Height-actual.Height
	s.Crop = graph.Crop{Left: hx / 2, Right: hx - hx/2, Top: hy / 2, Bottom: hy - hy/2}
	s.Output = out
	s.Window = project(up.Window, s)

	r.g.Upscaler = graph.UpscalerState{
		RequestedInput:  in,
		RequestedOutput: out,
		ActualInput:     actual,
		ActualOutput:    out,
	}
	if capped {
		logging.L().Debug("propagator: upscaler capped", "stage", s.Name, "input", in.String(), "output", out.String())
	}
	return nil
}

// output trims the upstream frame to the sink aspect and scales it down to the
// sink resolution. The crop and window recorded here drive the undo path.
func (r *run) output(s *graph.StageDescriptor) error {
	up, err := r.upstream(s)
	if err != nil {
		return err
	}
	f, err := r.g.StageFormat(s)
	if err != nil {
		return err
	}
	s.Input = up.Output
	in := s.Input
	sw, sh := s.Baseline.Width, s.Baseline.Height

	cw, ch := in.Width, in.Height
	if in.Width*sh >= in.Height*sw {
		cw = roundDiv(sw*in.Height, sh)
	} else {
		ch = roundDiv(sh*in.Width, sw)
	}
	if cw < sw || ch < sh {
		return fmt.Errorf("%w: sink %s needs %dx%d but only %s reaches it",
			types.ErrUnsupportedRoi, s.Name, sw, sh, in)
	}
	left := graph.AlignDown((in.Width-cw)/2, 2)
	top := graph.AlignDown((in.Height-ch)/2, 2)
	s.Crop = graph.Crop{Left: left, Top: top, Right: in.Width - left - cw, Bottom: in.Height - top - ch}

	s.Output = graph.Resolution{
		Width:  graph.AlignDown(sw, f.PixelAlignment()),
		Height: graph.AlignDown(sh, f.Alignment),
	}
	if s.Output.IsZero() {
		return fmt.Errorf("%w: sink %s output rounds to %s", types.ErrUnsupportedRoi, s.Name, s.Output)
	}
	s.Window = project(up.Window, s)
	return nil
}

// statistics gives every statistics stage the cropper decision applied to
// the downscaler output.
func (r *run) statistics() error {
	ds, cr := r.g.DownScaler(), r.g.Cropper()
	for _, s := range r.g.ByRole(graph.RoleStatistics) {
		up, err := r.upstream(s)
		if err != nil {
			return fmt.Errorf("propagating %s (%s): %w", s.Name, s.ID, err)
		}
		s.Input = up.Output
		if s.Input != ds.Output {
			return fmt.Errorf("propagating %s (%s): %w: statistics input %s differs from downscaler output %s",
				s.Name, s.ID, types.ErrGraphConsistency, s.Input, ds.Output)
		}
		s.Crop = cr.Crop
		s.Output = cr.Output
		s.Window = project(up.Window, s)
		r.trace(s)
	}
	return nil
}

// writeHistory stores the geometry of each slot's source exactly once,
// however many feeders alias the slot.
func (r *run) writeHistory() error {
	if r.pass == nil || r.p.cfg.DisableHistory {
		return nil
	}
	for i := 0; i < r.pass.Slots(); i++ {
		id := graph.SlotID(i)
		src := r.g.Stage(r.pass.Source(id))
		if src == nil {
			return fmt.Errorf("%w: history slot %d has no source stage", types.ErrGraphConsistency, id)
		}
		if err := r.pass.Write(id, history.Slot{Resolution: src.Output, Crop: src.Crop}); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) trace(s *graph.StageDescriptor) {
	if !r.p.cfg.LogStages {
		return
	}
	logging.L().Debug("propagator: stage resolved",
		"stage", s.Name, "id", s.ID.String(), "role", s.Role.String(),
		"input", s.Input.String(), "crop", s.Crop.String(), "output", s.Output.String())
}

// project maps the sensor window of an upstream stage through the crop of s.
func project(up graph.Window, s *graph.StageDescriptor) graph.Window {
	if s.Input.IsZero() {
		return up
	}
	kx := up.Width / float64(s.Input.Width)
	ky := up.Height / float64(s.Input.Height)
	c := s.CroppedInput()
	return graph.Window{
		Left:   up.Left + float64(s.Crop.Left)*kx,
		Top:    up.Top + float64(s.Crop.Top)*ky,
		Width:  float64(c.Width) * kx,
		Height: float64(c.Height) * ky,
	}
}

func roundDiv(a, b int) int {
	return (2*a + b) / (2 * b)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
