// Package preview renders what a configured sink would show, stripe by
// stripe, from a still frame that stands in for the full sensor.
package preview

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/isp-configurator/internal/logging"
	"github.com/menta2k/isp-configurator/pkg/graph"
)

// Options tune rendering.
type Options struct {
	// Boundaries draws a line at every stripe edge.
	Boundaries bool
	// Interpolator defaults to Catmull-Rom.
	Interpolator draw.Interpolator
}

// Renderer renders sink previews.
type Renderer struct {
	opts Options
}

// NewRenderer creates a renderer.
func NewRenderer(opts Options) *Renderer {
	if opts.Interpolator == nil {
		opts.Interpolator = draw.CatmullRom
	}
	return &Renderer{opts: opts}
}

// LoadImage loads a frame from a file with WebP support.
func LoadImage(path string) (image.Image, error) {
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.HasSuffix(strings.ToLower(path), ".webp") {
		if img, err := webp.Decode(f); err == nil {
			return img, nil
		}
	}
	if _, err := f.Seek(0, 0); err == nil {
		if img, _, err := image.Decode(f); err == nil {
			return img, nil
		}
	}
	return nil, fmt.Errorf("image: unknown format for %s", path)
}

// Sink renders the output of sink in g. The frame is stretched over the full
// sensor, then every non-vanished stripe of the sink is sampled from the
// sensor area its output columns cover.
func (r *Renderer) Sink(frame image.Image, g *graph.Graph, sink graph.StageID) (*image.NRGBA, error) {
	s := g.Stage(sink)
	if s == nil || s.Role != graph.RoleOutput {
		return nil, fmt.Errorf("stage %s is not a sink", sink)
	}
	if s.Output.IsZero() || s.Window.Width <= 0 || s.Window.Height <= 0 {
		return nil, fmt.Errorf("sink %s is not configured", s.Name)
	}
	stripes := s.Fragments.Descriptors()
	if len(stripes) == 0 {
		return nil, fmt.Errorf("sink %s has no fragments", s.Name)
	}

	fb := frame.Bounds()
	kx := float64(fb.Dx()) / float64(g.Sensor.Width)
	ky := float64(fb.Dy()) / float64(g.Sensor.Height)
	colScale := s.Window.Width / float64(s.Output.Width)

	dst := image.NewNRGBA(image.Rect(0, 0, s.Output.Width, s.Output.Height))
	srcY0 := fb.Min.Y + int(math.Round(s.Window.Top*ky))
	srcY1 := fb.Min.Y + int(math.Round((s.Window.Top+s.Window.Height)*ky))

	x := 0
	for i, frag := range stripes {
		if frag.OutputWidth <= 0 {
			continue
		}
		dr := image.Rect(x, 0, x+frag.OutputWidth, s.Output.Height)
		sx0 := s.Window.Left + float64(x)*colScale
		sx1 := s.Window.Left + float64(x+frag.OutputWidth)*colScale
		sr := image.Rect(
			fb.Min.X+int(math.Round(sx0*kx)), srcY0,
			fb.Min.X+int(math.Round(sx1*kx)), srcY1,
		).Intersect(fb)
		if sr.Empty() {
			return nil, fmt.Errorf("stripe %d of %s samples outside the frame", i, s.Name)
		}
		r.opts.Interpolator.Scale(dst, dr, frame, sr, draw.Src, nil)
		x += frag.OutputWidth
	}
	if x != s.Output.Width {
		return nil, fmt.Errorf("stripes of %s cover %d of %d columns", s.Name, x, s.Output.Width)
	}

	if r.opts.Boundaries {
		edge := color.NRGBA{255, 0, 255, 255}
		x = 0
		for _, frag := range stripes[:len(stripes)-1] {
			x += frag.OutputWidth
			drawVLine(dst, x, 0, s.Output.Height, edge)
		}
	}
	logging.L().Debug("preview: sink rendered", "sink", s.Name, "size", s.Output.String(), "stripes", len(stripes))
	return dst, nil
}

// Overview draws the sensor areas of the downscaler and of every sink on the
// full frame, with the downscaler stripe edges.
func (r *Renderer) Overview(frame image.Image, g *graph.Graph) *image.NRGBA {
	out := imaging.Clone(frame)
	w, h := out.Bounds().Dx(), out.Bounds().Dy()
	kx := float64(w) / float64(g.Sensor.Width)
	ky := float64(h) / float64(g.Sensor.Height)
	stroke := int(math.Max(2, 0.004*float64(min(w, h))))

	gold := color.NRGBA{255, 204, 0, 255}
	green := color.NRGBA{0, 255, 0, 255}
	blue := color.NRGBA{0, 170, 255, 255}

	if ds := g.DownScaler(); ds != nil {
		drawWindow(out, ds.Window, kx, ky, gold, stroke)
		y0 := int(ds.Window.Top*ky + 0.5)
		y1 := int((ds.Window.Top+ds.Window.Height)*ky + 0.5)
		for i, frag := range ds.Fragments.Descriptors() {
			if i > 0 {
				drawVLine(out, int(float64(frag.StartOffset)*kx+0.5), y0, y1, blue)
			}
		}
	}
	for _, s := range g.ByRole(graph.RoleOutput) {
		drawWindow(out, s.Window, kx, ky, green, stroke)
	}
	return out
}

// EncodeBase64 downsizes a frame and encodes it for a vision model.
func EncodeBase64(img image.Image, format string, maxDim, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		if w, h := b.Dx(), b.Dy(); w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return "", err
		}
	default:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// SaveImage saves an image to a file with the specified format and quality
func SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return webp.Encode(f, img, &webp.Options{Lossless: lossless, Quality: float32(quality)})
	case "png":
		return imaging.Save(img, path)
	default:
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

func drawWindow(img *image.NRGBA, w graph.Window, kx, ky float64, c color.NRGBA, stroke int) {
	x0 := int(w.Left*kx + 0.5)
	y0 := int(w.Top*ky + 0.5)
	x1 := int((w.Left+w.Width)*kx + 0.5)
	y1 := int((w.Top+w.Height)*ky + 0.5)
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, c)
		drawHLine(img, y1-1-s, x0, x1, c)
		drawVLine(img, x0+s, y0, y1, c)
		drawVLine(img, x1-1-s, y0, y1, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	b := img.Bounds()
	if y < 0 || y >= b.Dy() {
		return
	}
	x0, x1 = max(x0, 0), min(x1, b.Dx())
	for x := x0; x < x1; x++ {
		img.SetNRGBA(b.Min.X+x, b.Min.Y+y, c)
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	b := img.Bounds()
	if x < 0 || x >= b.Dx() {
		return
	}
	y0, y1 = max(y0, 0), min(y1, b.Dy())
	for y := y0; y < y1; y++ {
		img.SetNRGBA(b.Min.X+x, b.Min.Y+y, c)
	}
}
