// Package vision locates the most salient region of a frame without a model
// server. It implements client.VisionClient so the framer can use it as an
// offline backend.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"

	"github.com/menta2k/isp-configurator/internal/logging"
	"github.com/menta2k/isp-configurator/pkg/client"
	"github.com/menta2k/isp-configurator/pkg/types"
)

// Label of every subject found by the detector.
const Label = "salient region"

// Config holds configuration for subject detection
type Config struct {
	EdgeWeight       float64 `json:"edge_weight" yaml:"edge_weight"`
	BrightnessWeight float64 `json:"brightness_weight" yaml:"brightness_weight"`
	// MinSubjectRatio is the smallest window area considered, as a fraction
	// of the frame.
	MinSubjectRatio float64 `json:"min_subject_ratio" yaml:"min_subject_ratio"`
	// MaxDim is the long side the frame is reduced to before analysis.
	MaxDim int `json:"max_dim" yaml:"max_dim"`
}

// DefaultConfig returns the stock detector settings.
func DefaultConfig() Config {
	return Config{
		EdgeWeight:       0.7,
		BrightnessWeight: 0.3,
		MinSubjectRatio:  0.01,
		MaxDim:           256,
	}
}

// Detector finds salient regions by edge strength and brightness.
type Detector struct {
	cfg Config
}

var _ client.VisionClient = (*Detector)(nil)

// New creates a Detector with default configuration
func New() *Detector {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a Detector with custom configuration
func NewWithConfig(cfg Config) *Detector {
	if cfg.MaxDim <= 0 {
		cfg.MaxDim = DefaultConfig().MaxDim
	}
	return &Detector{cfg: cfg}
}

// Region is a window of the analysed frame.
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
	Score  float64
}

// Area returns the area of the region
func (r Region) Area() int {
	return r.Width * r.Height
}

func (r Region) overlaps(o Region) bool {
	return r.X < o.X+o.Width && o.X < r.X+r.Width &&
		r.Y < o.Y+o.Height && o.Y < r.Y+r.Height
}

func (r Region) union(o Region) Region {
	x0, y0 := min(r.X, o.X), min(r.Y, o.Y)
	x1, y1 := max(r.X+r.Width, o.X+o.Width), max(r.Y+r.Height, o.Y+o.Height)
	return Region{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0, Score: max(r.Score, o.Score)}
}

// DetectSubject decodes a base64 frame and returns its most salient region.
// Model and prompt are ignored.
func (d *Detector) DetectSubject(ctx context.Context, model, prompt, imgB64 string) (*types.Detection, error) {
	data, err := base64.StdEncoding.DecodeString(imgB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image data: %w", err)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.Detect(img), nil
}

// SimpleQuery returns the detection as JSON.
func (d *Detector) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	det, err := d.DetectSubject(ctx, model, prompt, imgB64)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(det)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Detect locates the most salient region of img. The box is normalized to
// the frame; the confidence is how far the region stands out from the frame
// average, 0 for a uniform frame.
func (d *Detector) Detect(img image.Image) *types.Detection {
	small := imaging.Fit(img, d.cfg.MaxDim, d.cfg.MaxDim, imaging.Box)
	w, h := small.Bounds().Dx(), small.Bounds().Dy()
	if w < 3 || h < 3 {
		return types.FallbackDetection("none", "frame too small for saliency analysis")
	}

	sum := newIntegral(d.saliencyMap(small), w, h)
	mean := sum.rect(0, 0, w, h) / float64(w*h)
	regions := d.regions(sum, w, h)
	if len(regions) == 0 {
		return types.FallbackDetection("none", "no region large enough")
	}

	best := regions[0]
	subject := best
	for _, r := range regions[1:] {
		if r.Score < 0.8*best.Score {
			break
		}
		if r.overlaps(subject) {
			subject = subject.union(r)
		}
	}

	conf := 0.0
	if best.Score > 0 {
		conf = math.Max(0, (best.Score-mean)/best.Score)
	}
	box := types.Box{
		X: float64(subject.X) / float64(w),
		Y: float64(subject.Y) / float64(h),
		W: float64(subject.Width) / float64(w),
		H: float64(subject.Height) / float64(h),
	}
	cx, cy := box.Center()
	logging.L().Debug("vision: salient region", "box", fmt.Sprintf("%.3fx%.3f@%.3f,%.3f", box.W, box.H, box.X, box.Y),
		"confidence", conf, "candidates", len(regions))

	return &types.Detection{
		Primary: types.Subject{
			Label:      Label,
			Confidence: conf,
			Box:        box,
			Cx:         cx,
			Cy:         cy,
		},
		Description: fmt.Sprintf("salient region covering %.0f%% of the frame", 100*box.W*box.H),
		Tags:        dominantColors(small, subject, 3),
	}
}

// saliencyMap combines the mean colour distance to the eight neighbours with
// brightness. Border pixels stay zero.
func (d *Detector) saliencyMap(img *image.NRGBA) []float64 {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	sal := make([]float64, w*h)
	maxDist := 255 * math.Sqrt(3)

	px := func(x, y int) (float64, float64, float64) {
		i := y*img.Stride + 4*x
		p := img.Pix[i : i+3 : i+3]
		return float64(p[0]), float64(p[1]), float64(p[2])
	}
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			r1, g1, b1 := px(x, y)
			var edge float64
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					r2, g2, b2 := px(x+dx, y+dy)
					dr, dg, db := r1-r2, g1-g2, b1-b2
					edge += math.Sqrt(dr*dr + dg*dg + db*db)
				}
			}
			edge /= 8 * maxDist
			brightness := (r1 + g1 + b1) / (3 * 255)
			sal[y*w+x] = d.cfg.EdgeWeight*edge + d.cfg.BrightnessWeight*brightness
		}
	}
	return sal
}

// regions scores square sliding windows of several sizes and returns those
// above the minimum area, best first.
func (d *Detector) regions(sum integral, w, h int) []Region {
	side := min(w, h)
	minArea := int(d.cfg.MinSubjectRatio * float64(w*h))

	var out []Region
	for _, div := range []int{8, 6, 4, 3, 2} {
		size := side / div
		if size < 4 || size*size < minArea {
			continue
		}
		step := max(1, size/4)
		for y := 0; y+size <= h; y += step {
			for x := 0; x+size <= w; x += step {
				out = append(out, Region{
					X: x, Y: y, Width: size, Height: size,
					Score: sum.rect(x, y, size, size) / float64(size*size),
				})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// integral is a summed-area table with one row and column of padding.
type integral struct {
	w   int
	sum []float64
}

func newIntegral(v []float64, w, h int) integral {
	t := integral{w: w + 1, sum: make([]float64, (w+1)*(h+1))}
	for y := 0; y < h; y++ {
		row := 0.0
		for x := 0; x < w; x++ {
			row += v[y*w+x]
			t.sum[(y+1)*t.w+x+1] = t.sum[y*t.w+x+1] + row
		}
	}
	return t
}

func (t integral) rect(x, y, w, h int) float64 {
	a := t.sum[y*t.w+x]
	b := t.sum[y*t.w+x+w]
	c := t.sum[(y+h)*t.w+x]
	e := t.sum[(y+h)*t.w+x+w]
	return e - b - c + a
}

// dominantColors returns the most frequent quantized colours of r as hex
// tags, most frequent first.
func dominantColors(img *image.NRGBA, r Region, n int) []string {
	counts := make(map[uint32]int)
	for y := r.Y; y < r.Y+r.Height; y++ {
		for x := r.X; x < r.X+r.Width; x++ {
			i := y*img.Stride + 4*x
			key := uint32(img.Pix[i]&0xf0)<<16 | uint32(img.Pix[i+1]&0xf0)<<8 | uint32(img.Pix[i+2]&0xf0)
			counts[key]++
		}
	}
	keys := make([]uint32, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	tags := make([]string, len(keys))
	for i, k := range keys {
		tags[i] = fmt.Sprintf("#%06x", k)
	}
	return tags
}
