package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	ispconfig "github.com/menta2k/isp-configurator"
	"github.com/menta2k/isp-configurator/internal/config"
	"github.com/menta2k/isp-configurator/internal/utils"
	"github.com/menta2k/isp-configurator/pkg/catalog"
	"github.com/menta2k/isp-configurator/pkg/client"
	"github.com/menta2k/isp-configurator/pkg/framing"
	"github.com/menta2k/isp-configurator/pkg/graph"
	"github.com/menta2k/isp-configurator/pkg/llamacpp"
	"github.com/menta2k/isp-configurator/pkg/ollama"
	"github.com/menta2k/isp-configurator/pkg/preview"
	"github.com/menta2k/isp-configurator/pkg/types"
	"github.com/menta2k/isp-configurator/pkg/vision"
)

func main() {
	var configPath, catalogPath, key, baseKey, variant string
	var zoom, pan, tilt float64
	var relative, centered, bypass bool
	var fragments, frames int
	var in, outDir, ext string
	var boundaries bool
	var autoframe bool
	var backend, url, model string
	var compile string
	var debug bool

	flag.StringVar(&configPath, "config", "", "config file (json|yaml), defaults to "+config.GetConfigPath()+" when present")
	flag.StringVar(&catalogPath, "catalog", "", "pipeline catalog (yaml or compiled blob)")
	flag.StringVar(&key, "key", "", "catalog key WxH[/attributes]")
	flag.StringVar(&baseKey, "base-key", "", "catalog key of the pipeline whose sink purposes to keep")
	flag.StringVar(&variant, "variant", "", "override the pipeline variant")

	flag.Float64Var(&zoom, "zoom", 1.0, "zoom factor (>= 1)")
	flag.Float64Var(&pan, "pan", 0, "horizontal pan (-1..1)")
	flag.Float64Var(&tilt, "tilt", 0, "vertical tilt (-1..1)")
	flag.BoolVar(&relative, "relative", false, "apply zoom/pan/tilt relative to the current framing")
	flag.BoolVar(&centered, "centered", false, "ignore pan and tilt")
	flag.BoolVar(&bypass, "bypass-upscaler", false, "run the upscaler as an identity stage")
	flag.IntVar(&fragments, "fragments", 0, "requested stripe count (0 = config)")
	flag.IntVar(&frames, "frames", 2, "frames to configure with the request, so temporal references settle")

	flag.StringVar(&in, "in", "", "frame to render sink previews from (jpg/png/webp)")
	flag.StringVar(&outDir, "out", "", "preview output directory (default from config)")
	flag.StringVar(&ext, "ext", "", "preview format: jpg|png|webp (default from config)")
	flag.BoolVar(&boundaries, "boundaries", false, "draw stripe boundaries in sink previews")

	flag.BoolVar(&autoframe, "autoframe", false, "ask a vision model to frame the subject of -in")
	flag.StringVar(&backend, "backend", "", "vision backend: ollama, llamacpp or saliency")
	flag.StringVar(&url, "url", "", "vision server URL")
	flag.StringVar(&model, "model", "", "vision model name")

	flag.StringVar(&compile, "compile", "", "compile -catalog into a binary blob at this path and exit")
	flag.BoolVar(&debug, "debug", false, "log per-stage geometry")

	flag.Parse()

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	ispconfig.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}

	// Flags given on the command line override the config file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "catalog":
			cfg.Catalog.Path = catalogPath
		case "key":
			cfg.Catalog.Key = key
		case "base-key":
			cfg.Catalog.BaseKey = baseKey
		case "variant":
			cfg.Pipeline.Variant = variant
		case "bypass-upscaler":
			cfg.Pipeline.Propagator.BypassUpscaler = bypass
		case "fragments":
			cfg.Pipeline.FragmentCount = fragments
		case "debug":
			cfg.Pipeline.Propagator.LogStages = debug
		case "out":
			cfg.Output.OutputDir = outDir
		case "ext":
			cfg.Output.DefaultFormat = ext
		case "boundaries":
			cfg.Output.Boundaries = boundaries
		case "backend":
			cfg.Framing.Backend = backend
		case "url":
			cfg.Framing.URL = url
		case "model":
			cfg.Framing.Model = model
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	if compile != "" {
		if err := compileCatalog(cfg.Catalog.Path, compile); err != nil {
			log.Fatal(err)
		}
		log.Printf("wrote %s", compile)
		return
	}

	cat, err := catalog.LoadFile(cfg.Catalog.Path)
	if err != nil {
		log.Fatal(err)
	}
	g, err := selectPipeline(cat, cfg.Catalog.Key, cfg.Catalog.BaseKey)
	if err != nil {
		log.Fatalf("%v (available: %v)", err, cat.Keys())
	}

	c, err := ispconfig.NewWithConfig(g, cfg.Options())
	if err != nil {
		log.Fatal(err)
	}

	var frame image.Image
	if in != "" {
		if !utils.IsImageFile(in) {
			log.Printf("%s does not look like an image, trying anyway", in)
		}
		frame, err = preview.LoadImage(in)
		if err != nil {
			log.Fatal(err)
		}
	}

	req := ispconfig.Request{
		Roi:          types.RegionOfInterest{ZoomFactor: zoom, PanFactor: pan, TiltFactor: tilt, FromInput: !relative},
		CenteredZoom: centered,
	}
	if autoframe {
		if frame == nil {
			log.Fatal("-autoframe needs a frame given with -in")
		}
		req.Roi, err = suggestRoi(cfg, frame)
		if err != nil {
			log.Fatal(err)
		}
		req.CenteredZoom = false
	}

	if frames < 1 {
		frames = 1
	}
	var res ispconfig.Result
	for i := 0; i < frames; i++ {
		res, err = c.Apply(req)
		if err != nil {
			if errors.Is(err, types.ErrInvalidRoi) || errors.Is(err, types.ErrUnsupportedRoi) {
				log.Fatalf("request rejected: %v", err)
			}
			log.Fatal(err)
		}
		log.Printf("frame %d: roi=%s reconfigure=%v", i+1, res.SensorRoi, res.KeyResolutionChanged)
		if !req.Roi.FromInput {
			// Hold the new framing instead of compounding the relative request.
			req.Roi = types.RegionOfInterest{ZoomFactor: 1}
		}
	}
	fmt.Print(renderReport(c, res))

	if frame != nil {
		if err := writePreviews(cfg, c.Graph(), in, frame); err != nil {
			log.Fatal(err)
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if def := config.GetConfigPath(); utils.FileExists(def) {
			path = def
		}
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFromFile(path)
}

// selectPipeline picks the pipeline for key. With a base key the sinks are
// remapped so every purpose keeps the resolution it has in the base pipeline.
func selectPipeline(cat *catalog.Catalog, key, baseKey string) (*graph.Graph, error) {
	k, err := catalog.ParseKey(key)
	if err != nil {
		return nil, err
	}
	g, err := cat.Select(k)
	if err != nil {
		return nil, err
	}
	if baseKey == "" {
		return g, nil
	}
	bk, err := catalog.ParseKey(baseKey)
	if err != nil {
		return nil, fmt.Errorf("base key: %w", err)
	}
	base, err := cat.Select(bk)
	if err != nil {
		return nil, fmt.Errorf("base key: %w", err)
	}
	before := make(map[graph.Purpose]graph.StageID, len(g.Sinks))
	for p, id := range g.Sinks {
		before[p] = id
	}
	catalog.RemapSinks(base, g)
	for _, p := range g.Purposes() {
		if g.Sinks[p] != before[p] {
			log.Printf("sink %s remapped from %s to %s", p, before[p], g.Sinks[p])
		}
	}
	return g, nil
}

func compileCatalog(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	blob, err := catalog.Compile(data)
	if err != nil {
		return err
	}
	if err := utils.EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	return os.WriteFile(dst, blob, 0o644)
}

func newVisionClient(cfg *config.Config) (client.VisionClient, error) {
	switch cfg.Framing.Backend {
	case "ollama":
		return ollama.NewClient(cfg.Framing.URL)
	case "llamacpp":
		u := cfg.Framing.URL
		if u == "" {
			u = llamacpp.DefaultURL
		}
		return llamacpp.NewClient(u)
	case "saliency":
		return vision.New(), nil
	default:
		return nil, fmt.Errorf("unknown backend: %s (use 'ollama', 'llamacpp' or 'saliency')", cfg.Framing.Backend)
	}
}

func suggestRoi(cfg *config.Config, frame image.Image) (types.RegionOfInterest, error) {
	vc, err := newVisionClient(cfg)
	if err != nil {
		return types.RegionOfInterest{}, err
	}
	f, err := framing.New(vc, cfg.Framing.Model, cfg.Framing.Settings)
	if err != nil {
		return types.RegionOfInterest{}, err
	}
	imgB64, err := preview.EncodeBase64(frame, "jpg", cfg.Framing.MaxDim, cfg.Framing.Quality)
	if err != nil {
		return types.RegionOfInterest{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	r, det, err := f.Suggest(ctx, imgB64)
	if err != nil {
		return types.RegionOfInterest{}, err
	}
	log.Printf("primary=%q conf=%.2f box=%.3fx%.3f@%.3f,%.3f -> zoom=%.2f pan=%.2f tilt=%.2f",
		det.Primary.Label, det.Primary.Confidence, det.Primary.Box.W, det.Primary.Box.H,
		det.Primary.Box.X, det.Primary.Box.Y, r.ZoomFactor, r.PanFactor, r.TiltFactor)
	if det.Description != "" {
		log.Printf("description: %s", det.Description)
	}
	return r, nil
}

func writePreviews(cfg *config.Config, g *graph.Graph, in string, frame image.Image) error {
	out := cfg.Output
	if err := utils.EnsureDir(out.OutputDir); err != nil {
		return err
	}
	format := strings.ToLower(out.DefaultFormat)
	r := preview.NewRenderer(preview.Options{Boundaries: out.Boundaries})

	save := func(img image.Image, name string) error {
		path := utils.GenerateOutputFilename(in, name, out.OutputDir, out.Prefix, out.Suffix, format)
		if err := preview.SaveImage(img, path, format, out.Quality, out.Lossless); err != nil {
			return fmt.Errorf("save %s: %w", path, err)
		}
		if st, err := os.Stat(path); err == nil {
			log.Printf("wrote %s (%s)", path, utils.FormatFileSize(st.Size()))
		}
		return nil
	}

	if err := save(r.Overview(frame, g), "overview"); err != nil {
		return err
	}
	for _, s := range g.ByRole(graph.RoleOutput) {
		img, err := r.Sink(frame, g, s.ID)
		if err != nil {
			log.Printf("preview %s skipped: %v", s.Name, err)
			continue
		}
		if err := save(img, s.Name); err != nil {
			return err
		}
	}
	return nil
}
