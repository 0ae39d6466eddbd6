// Package ispconfig computes the geometry of a fixed image signal processing
// pipeline for a requested framing.
//
// A pipeline instance is a graph of hardware stages taken from a catalog. For
// every framing change the configurator translates the zoom, pan and tilt
// request into a sensor rectangle, propagates resolution, crop and scale
// through the graph, carries temporal reference geometry to the next frame
// and splits every stage into the horizontal stripes the hardware iterates.
//
// Basic usage:
//
//	package main
//
//	import (
//		"fmt"
//		"log"
//
//		ispconfig "github.com/menta2k/isp-configurator"
//		"github.com/menta2k/isp-configurator/pkg/catalog"
//		"github.com/menta2k/isp-configurator/pkg/types"
//	)
//
//	func main() {
//		cat, err := catalog.LoadFile("pipelines.yaml")
//		if err != nil {
//			log.Fatal(err)
//		}
//		g, err := cat.Select(catalog.Key{Width: 4000, Height: 3000})
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		c, err := ispconfig.New(g)
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		res, err := c.Apply(ispconfig.Request{
//			Roi: types.RegionOfInterest{ZoomFactor: 2, FromInput: true},
//		})
//		if err != nil {
//			log.Fatal(err)
//		}
//		fmt.Printf("sensor roi %s, reconfigure=%v\n", res.SensorRoi, res.KeyResolutionChanged)
//	}
//
// The package consists of five components:
//
// 1. Graph (pkg/graph): the stage descriptors of one pipeline instance
// 2. History (pkg/history): reference geometry carried between frames
// 3. ROI translator (pkg/roi): framing requests to pixel rectangles and back
// 4. Propagator (pkg/propagator): per-stage resolution, crop and scale
// 5. Partitioner (pkg/fragment): stripe boundaries per stage
//
// A Configurator belongs to one capture session and is not safe for
// concurrent use. Frames must be configured strictly one after another.
package ispconfig

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/menta2k/isp-configurator/internal/logging"
	"github.com/menta2k/isp-configurator/pkg/fragment"
	"github.com/menta2k/isp-configurator/pkg/graph"
	"github.com/menta2k/isp-configurator/pkg/history"
	"github.com/menta2k/isp-configurator/pkg/propagator"
	"github.com/menta2k/isp-configurator/pkg/roi"
	"github.com/menta2k/isp-configurator/pkg/types"
)

// Version of the configurator library
const Version = "1.0.0"

// ErrSessionFailed is returned by every call after a graph consistency
// error ended the session.
var ErrSessionFailed = errors.New("configuration session failed")

// DefaultFragmentCount is the stripe count used when none is configured.
const DefaultFragmentCount = 4

// Options configures a Configurator.
type Options struct {
	// Variant overrides the pipeline variant named by the catalog.
	Variant string

	Propagator propagator.Config
	Fragments  fragment.Config

	// FragmentCount is the number of stripes requested from the partitioner.
	FragmentCount int
}

// DefaultOptions returns the stock options.
func DefaultOptions() Options {
	return Options{
		Fragments:     fragment.DefaultConfig(),
		FragmentCount: DefaultFragmentCount,
	}
}

// Request is one framing change.
type Request struct {
	Roi types.RegionOfInterest
	// Previous is the request applied for the last frame, if the caller
	// tracks it. An identical request is not recomputed once the temporal
	// references have caught up with the last resolution change.
	Previous *types.RegionOfInterest
	// CenteredZoom ignores pan and tilt.
	CenteredZoom bool
}

// Result describes one configuration pass.
type Result struct {
	TraceID   string
	SensorRoi types.SensorRoi

	// KeyResolutionChanged tells the caller a stage resolution or stripe
	// count changed and the hardware needs a full reconfiguration rather
	// than a parameter update.
	KeyResolutionChanged bool

	// Unchanged is set when the request matched the previous one and
	// nothing was recomputed.
	Unchanged bool

	Fragments *fragment.Result
}

// Configurator owns the geometry state of one pipeline instance.
type Configurator struct {
	id      uuid.UUID
	graph   *graph.Graph
	history *history.Registry

	translator  *roi.Translator
	propagator  *propagator.Propagator
	partitioner *fragment.Partitioner

	count      int
	configured bool
	failed     error
	last       *fragment.Result
}

// New creates a Configurator for g with default options.
func New(g *graph.Graph) (*Configurator, error) {
	return NewWithConfig(g, DefaultOptions())
}

// NewWithConfig creates a Configurator and configures the unzoomed full
// sensor frame. The graph is owned by the Configurator from then on.
func NewWithConfig(g *graph.Graph, opts Options) (*Configurator, error) {
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline graph: %w", err)
	}
	name := opts.Variant
	if name == "" {
		name = g.Variant
	}
	v, err := propagator.VariantFor(name)
	if err != nil {
		return nil, err
	}
	prop, err := propagator.New(v, opts.Propagator)
	if err != nil {
		return nil, err
	}
	if opts.FragmentCount == 0 {
		opts.FragmentCount = DefaultFragmentCount
	}

	reg := history.New()
	if err := reg.Bind(g); err != nil {
		return nil, err
	}

	c := &Configurator{
		id:          uuid.New(),
		graph:       g,
		history:     reg,
		translator:  roi.New(g, v.SensorAlignment),
		propagator:  prop,
		partitioner: fragment.New(opts.Fragments),
		count:       opts.FragmentCount,
	}
	logging.L().Info("configurator: session started", "session", c.id.String(),
		"graph", g.Name, "variant", v.Name, "sensor", g.Sensor.String(), "stages", len(g.Stages))

	if _, err := c.run(types.FullSensorRoi(uint32(g.Sensor.Width), uint32(g.Sensor.Height))); err != nil {
		return nil, fmt.Errorf("initial configuration failed: %w", err)
	}
	return c, nil
}

// Apply configures the pipeline for a framing request.
func (c *Configurator) Apply(req Request) (Result, error) {
	if c.failed != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrSessionFailed, c.failed)
	}
	r := req.Roi
	if req.CenteredZoom {
		r = r.Centered()
	}
	if req.Previous != nil {
		prev := *req.Previous
		if req.CenteredZoom {
			prev = prev.Centered()
		}
		if prev == r {
			return c.hold()
		}
	}
	sr, err := c.translator.SensorRoi(r)
	if err != nil {
		return Result{}, err
	}
	return c.run(sr)
}

// ApplyResolutionRoi configures the pipeline so that sink shows res, a
// rectangle given in the sink's current output coordinates.
func (c *Configurator) ApplyResolutionRoi(res types.ResolutionRoi, sink graph.StageID, previous *types.ResolutionRoi) (Result, error) {
	if c.failed != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrSessionFailed, c.failed)
	}
	if previous != nil && *previous == res {
		return c.hold()
	}
	sr, err := c.translator.InputRoiForOutput(res, sink)
	if err != nil {
		return Result{}, err
	}
	return c.run(sr)
}

// hold answers a request that repeats the previous one. The configuration is
// reused only once every reference feeder reads the geometry its producer
// committed; until then the current ROI is propagated again.
func (c *Configurator) hold() (Result, error) {
	if c.historySettled() {
		return Result{SensorRoi: c.translator.Current(), Unchanged: true, Fragments: c.last}, nil
	}
	return c.run(c.translator.Current())
}

func (c *Configurator) historySettled() bool {
	for _, f := range c.graph.ByRole(graph.RoleReferenceFeeder) {
		slot, ok := c.history.Get(f.HistorySlot)
		if !ok {
			continue
		}
		if f.Input != slot.Resolution || f.Fragments.InputSum() != slot.Fragments.InputSum() {
			return false
		}
	}
	return true
}

// run propagates and partitions into a scratch graph and commits only when
// both succeed.
func (c *Configurator) run(sr types.SensorRoi) (Result, error) {
	trace := uuid.New().String()
	pass := c.history.Begin()

	scratch, err := c.propagator.Propagate(c.graph, sr, pass)
	if err != nil {
		return Result{}, c.fail(trace, err)
	}
	frags, err := c.partitioner.ConfigureWithHistory(scratch, c.count, pass)
	if err != nil {
		return Result{}, c.fail(trace, err)
	}

	changed := !c.configured || !scratch.KeyResolutionEqual(c.graph)
	c.graph.Adopt(scratch)
	pass.Commit()
	c.translator.Commit(sr)
	c.configured = true
	c.last = frags

	logging.L().Info("configurator: pass committed", "session", c.id.String(), "trace", trace,
		"sensor_roi", sr.String(), "key_changed", changed, "fragments", frags.Count)
	return Result{
		TraceID:              trace,
		SensorRoi:            sr,
		KeyResolutionChanged: changed,
		Fragments:            frags,
	}, nil
}

func (c *Configurator) fail(trace string, err error) error {
	if types.IsFatal(err) {
		c.failed = err
		logging.L().Error("configurator: session failed", "session", c.id.String(), "trace", trace, "error", err)
		return err
	}
	logging.L().Debug("configurator: request rejected", "session", c.id.String(), "trace", trace, "error", err)
	return err
}

// SessionID identifies the capture session in logs.
func (c *Configurator) SessionID() string { return c.id.String() }

// Graph returns the committed graph. Callers must treat it as read-only.
func (c *Configurator) Graph() *graph.Graph { return c.graph }

// SensorRoi returns the sensor rectangle currently configured.
func (c *Configurator) SensorRoi() types.SensorRoi { return c.translator.Current() }

// Fragments returns the partitioning of the last committed pass.
func (c *Configurator) Fragments() *fragment.Result { return c.last }

// Err returns the error that ended the session, if any.
func (c *Configurator) Err() error { return c.failed }

// UndoSensorCropAndScale maps a rectangle in main sink coordinates back to
// sensor coordinates.
func (c *Configurator) UndoSensorCropAndScale(sr types.SensorRoi) (types.SensorRoi, error) {
	return c.translator.UndoSensorCropAndScale(sr)
}

// SensorCropOrScaleExists reports whether the main sink shows anything but
// the untouched sensor frame.
func (c *Configurator) SensorCropOrScaleExists() bool {
	return c.translator.SensorCropOrScaleExists()
}

// StatsRoi expresses a sensor rectangle in statistics coordinates.
func (c *Configurator) StatsRoi(sr types.SensorRoi) (types.ResolutionRoi, error) {
	return c.translator.StatsRoiFromSensorRoi(sr)
}

// Translator exposes the ROI translator bound to the committed graph.
func (c *Configurator) Translator() *roi.Translator { return c.translator }
