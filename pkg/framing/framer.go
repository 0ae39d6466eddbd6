// Package framing turns a vision model's subject box into a zoom, pan and
// tilt request that keeps the subject in frame.
package framing

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/menta2k/isp-configurator/internal/logging"
	"github.com/menta2k/isp-configurator/pkg/client"
	"github.com/menta2k/isp-configurator/pkg/types"
)

// DefaultPrompt asks for the dominant subject in normalized coordinates.
const DefaultPrompt = `You are an image subject locator.

Return JSON only:
{
  "primary": {
    "label": "string",
    "confidence": 0.0,
    "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0},
    "cx": 0.0,
    "cy": 0.0
  },
  "description": "short neutral sentence (max 20 words)",
  "tags": ["tag1", "tag2", "tag3"]
}

RULES
- All coordinates are normalized to [0,1] (NOT pixels).
- The box should tightly include the visually dominant subject (prefer people/vehicles/animals; else the most central salient object).
- If no subject is found, return label "none" with the box {"x":0.25,"y":0.25,"w":0.5,"h":0.5}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// Config controls how a subject box becomes a framing request.
type Config struct {
	// Padding is added around the subject on every side, as a fraction of
	// the subject size.
	Padding float64 `json:"padding" yaml:"padding"`
	// MaxZoom caps the zoom factor of a suggestion.
	MaxZoom float64 `json:"max_zoom" yaml:"max_zoom"`
	// MinConfidence below which the full frame is suggested.
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`
}

// DefaultConfig returns the stock framing settings.
func DefaultConfig() Config {
	return Config{Padding: 0.15, MaxZoom: 4, MinConfidence: 0.3}
}

// Validate checks the ranges.
func (c Config) Validate() error {
	if c.Padding < 0 || c.Padding > 1 {
		return fmt.Errorf("framing.padding must be between 0 and 1")
	}
	if c.MaxZoom < 1 {
		return fmt.Errorf("framing.max_zoom must be at least 1")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("framing.min_confidence must be between 0 and 1")
	}
	return nil
}

// Framer suggests framing requests from camera frames.
type Framer struct {
	client client.VisionClient
	model  string
	prompt string
	cfg    Config
}

// New creates a framer backed by a vision client.
func New(c client.VisionClient, model string, cfg Config) (*Framer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Framer{client: c, model: model, prompt: DefaultPrompt, cfg: cfg}, nil
}

// WithPrompt replaces the detection prompt.
func (f *Framer) WithPrompt(prompt string) *Framer {
	f.prompt = prompt
	return f
}

// Suggest detects the subject of a full-sensor frame and returns the request
// that frames it. imgB64 is the base64 encoded frame.
func (f *Framer) Suggest(ctx context.Context, imgB64 string) (types.RegionOfInterest, *types.Detection, error) {
	d, err := f.client.DetectSubject(ctx, f.model, f.prompt, imgB64)
	if err != nil {
		return types.RegionOfInterest{}, nil, fmt.Errorf("subject detection failed: %w", err)
	}
	d.Primary.Box = normalizeBox(d.Primary.Box)

	if isFallback(d) || d.Primary.Confidence < f.cfg.MinConfidence {
		logging.L().Debug("framing: no usable subject, keeping full frame",
			"label", d.Primary.Label, "confidence", d.Primary.Confidence)
		return types.RegionOfInterest{ZoomFactor: 1, FromInput: true}, d, nil
	}

	r := RoiForBox(d.Primary.Box, f.cfg)
	logging.L().Debug("framing: suggestion", "label", d.Primary.Label,
		"zoom", r.ZoomFactor, "pan", r.PanFactor, "tilt", r.TiltFactor)
	return r, d, nil
}

// RoiForBox returns the request whose frame covers box plus padding. The
// request is relative to the full sensor. Pan and tilt move the centre by
// half a frame at +-1, which is how the ROI translator interprets them.
func RoiForBox(box types.Box, cfg Config) types.RegionOfInterest {
	box = normalizeBox(box)
	extent := math.Max(box.W, box.H) * (1 + 2*cfg.Padding)

	zoom := 1.0
	if extent > 0 {
		zoom = clamp(1/extent, 1, math.Max(cfg.MaxZoom, 1))
	}
	cx, cy := box.Center()
	return types.RegionOfInterest{
		ZoomFactor: zoom,
		PanFactor:  clamp(2*(cx-0.5), -1, 1),
		TiltFactor: clamp(2*(cy-0.5), -1, 1),
		FromInput:  true,
	}
}

func isFallback(d *types.Detection) bool {
	if strings.EqualFold(d.Primary.Label, "none") {
		return true
	}
	for _, tag := range d.Tags {
		if tag == "fallback" {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeBox clamps a box into the unit square.
func normalizeBox(b types.Box) types.Box {
	x0, y0 := clamp(b.X, 0, 1), clamp(b.Y, 0, 1)
	return types.Box{
		X: x0,
		Y: y0,
		W: math.Max(0, clamp(b.X+b.W, 0, 1)-x0),
		H: math.Max(0, clamp(b.Y+b.H, 0, 1)-y0),
	}
}
