package roi

import (
	"errors"
	"math"
	"testing"

	"github.com/menta2k/isp-configurator/pkg/graph"
	"github.com/menta2k/isp-configurator/pkg/graph/graphtest"
	"github.com/menta2k/isp-configurator/pkg/propagator"
	"github.com/menta2k/isp-configurator/pkg/types"
)

// configure resolves g for a zoom request and commits the result.
func configure(t *testing.T, g *graph.Graph, tr *Translator, r types.RegionOfInterest) types.SensorRoi {
	t.Helper()
	v, _ := propagator.VariantFor("default")
	p, err := propagator.New(v, propagator.Config{})
	if err != nil {
		t.Fatalf("propagator.New() error = %v", err)
	}
	sr, err := tr.SensorRoi(r)
	if err != nil {
		t.Fatalf("SensorRoi(%+v) error = %v", r, err)
	}
	scratch, err := p.Propagate(g, sr, nil)
	if err != nil {
		t.Fatalf("Propagate(%s) error = %v", sr, err)
	}
	g.Adopt(scratch)
	tr.Commit(sr)
	return sr
}

func TestSensorRoiScenario(t *testing.T) {
	g := graphtest.Standard()
	tr := New(g, DefaultSensorAlignment)

	sr, err := tr.SensorRoi(types.RegionOfInterest{ZoomFactor: 2, FromInput: true})
	if err != nil {
		t.Fatalf("SensorRoi() error = %v", err)
	}
	want := types.SensorRoi{Width: 2000, Height: 1500, CropLeft: 1000, CropRight: 1000, CropTop: 750, CropBottom: 750}
	if sr != want {
		t.Fatalf("zoom 2 from input: got %s, want %s", sr, want)
	}
	tr.Commit(sr)

	sr, err = tr.SensorRoi(types.RegionOfInterest{ZoomFactor: 2, FromInput: false})
	if err != nil {
		t.Fatalf("SensorRoi() error = %v", err)
	}
	want = types.SensorRoi{Width: 1000, Height: 750, CropLeft: 1500, CropRight: 1500, CropTop: 1125, CropBottom: 1125}
	if sr != want {
		t.Errorf("zoom 2 relative: got %s, want %s", sr, want)
	}

	// Not committed: a relative request still composes with the first crop.
	again, _ := tr.SensorRoi(types.RegionOfInterest{ZoomFactor: 2})
	if again != sr {
		t.Errorf("SensorRoi must not change translator state, got %s", again)
	}
}

func TestSensorRoiTilesSensor(t *testing.T) {
	g := graphtest.Standard()
	tr := New(g, DefaultSensorAlignment)

	for zoom := 1.0; zoom < 12; zoom += 0.37 {
		for pan := -1.5; pan <= 1.5; pan += 0.25 {
			for _, fromInput := range []bool{true, false} {
				r := types.RegionOfInterest{ZoomFactor: zoom, PanFactor: pan, TiltFactor: -pan, FromInput: fromInput}
				sr, err := tr.SensorRoi(r)
				if err != nil {
					t.Fatalf("SensorRoi(%+v) error = %v", r, err)
				}
				if sr.FrameWidth() != 4000 || sr.FrameHeight() != 3000 {
					t.Fatalf("SensorRoi(%+v) = %s does not tile the sensor", r, sr)
				}
				if sr.Width == 0 || sr.Height == 0 || sr.Width%2 != 0 || sr.Height%2 != 0 {
					t.Fatalf("SensorRoi(%+v) = %s has a bad size", r, sr)
				}
			}
		}
		sr, _ := tr.SensorRoi(types.RegionOfInterest{ZoomFactor: 1.1})
		tr.Commit(sr)
	}
}

func TestSensorRoiClampsPan(t *testing.T) {
	g := graphtest.Standard()
	tr := New(g, DefaultSensorAlignment)

	sr, err := tr.SensorRoi(types.RegionOfInterest{ZoomFactor: 2, PanFactor: 1, TiltFactor: 1, FromInput: true})
	if err != nil {
		t.Fatalf("SensorRoi() error = %v", err)
	}
	if sr.CropRight != 0 || sr.CropLeft != 2000 || sr.CropBottom != 0 || sr.CropTop != 1500 {
		t.Errorf("full pan right/down: got %s", sr)
	}

	sr, _ = tr.SensorRoi(types.RegionOfInterest{ZoomFactor: 2, PanFactor: -3, FromInput: true})
	if sr.CropLeft != 0 || sr.CropRight != 2000 {
		t.Errorf("pan beyond the left edge: got %s", sr)
	}
}

func TestSensorRoiInvalid(t *testing.T) {
	g := graphtest.Standard()
	tr := New(g, DefaultSensorAlignment)

	for _, r := range []types.RegionOfInterest{
		{ZoomFactor: 0.5, FromInput: true},
		{ZoomFactor: 0, FromInput: true},
		{ZoomFactor: math.NaN(), FromInput: true},
		{ZoomFactor: math.Inf(1), FromInput: true},
		{ZoomFactor: 1e6, FromInput: true},
		{ZoomFactor: 2, PanFactor: math.NaN(), FromInput: true},
	} {
		if _, err := tr.SensorRoi(r); !errors.Is(err, types.ErrInvalidRoi) {
			t.Errorf("SensorRoi(%+v) = %v, want invalid roi", r, err)
		}
	}
}

func TestUndoSensorCropAndScale(t *testing.T) {
	g := graphtest.Standard()
	tr := New(g, DefaultSensorAlignment)
	configure(t, g, tr, types.RegionOfInterest{ZoomFactor: 2, FromInput: true})

	full := types.SensorRoi{Width: 1920, Height: 1080}
	sr, err := tr.UndoSensorCropAndScale(full)
	if err != nil {
		t.Fatalf("UndoSensorCropAndScale() error = %v", err)
	}
	if sr.Width != 2000 || sr.CropLeft != 1000 || sr.CropRight != 1000 {
		t.Errorf("horizontal undo: got %s", sr)
	}
	if sr.Height < 1124 || sr.Height > 1126 || sr.FrameHeight() != 3000 {
		t.Errorf("vertical undo: got %s", sr)
	}

	if _, err := tr.UndoSensorCropAndScale(types.SensorRoi{Width: 100, Height: 100}); !errors.Is(err, types.ErrInvalidRoi) {
		t.Errorf("rectangle not tiling the sink: err = %v", err)
	}
}

func TestPointRoundTrip(t *testing.T) {
	g := graphtest.Standard()
	tr := New(g, DefaultSensorAlignment)

	for _, r := range []types.RegionOfInterest{
		{ZoomFactor: 1, FromInput: true},
		{ZoomFactor: 2.5, PanFactor: 0.3, TiltFactor: -0.2, FromInput: true},
		{ZoomFactor: 4, FromInput: true},
	} {
		sr := configure(t, g, tr, r)
		for _, p := range [][2]float64{{0, 0}, {960, 540}, {1919, 1079}, {123, 987}} {
			sx, sy, err := tr.UndoPoint(p[0], p[1])
			if err != nil {
				t.Fatalf("UndoPoint() error = %v", err)
			}
			if sx < float64(sr.CropLeft)-1 || sx > float64(sr.CropLeft+sr.Width)+1 {
				t.Errorf("zoom %v: point %v undone to x=%.1f outside %s", r.ZoomFactor, p, sx, sr)
			}
			ox, oy, err := tr.ForwardPoint(sx, sy)
			if err != nil {
				t.Fatalf("ForwardPoint() error = %v", err)
			}
			if math.Abs(ox-p[0]) > 1 || math.Abs(oy-p[1]) > 1 {
				t.Errorf("zoom %v: %v -> (%.2f, %.2f) -> (%.2f, %.2f)", r.ZoomFactor, p, sx, sy, ox, oy)
			}
		}
	}
}

func TestForwardPointCentre(t *testing.T) {
	g := graphtest.Standard()
	tr := New(g, DefaultSensorAlignment)
	configure(t, g, tr, types.RegionOfInterest{ZoomFactor: 2, FromInput: true})

	x, y, err := tr.ForwardPoint(2000, 1500)
	if err != nil {
		t.Fatalf("ForwardPoint() error = %v", err)
	}
	if math.Abs(x-960) > 1 || math.Abs(y-540) > 1 {
		t.Errorf("sensor centre maps to (%.1f, %.1f), want (960, 540)", x, y)
	}
}

func TestStatsRoiFromSensorRoi(t *testing.T) {
	g := graphtest.Standard()
	tr := New(g, DefaultSensorAlignment)
	configure(t, g, tr, types.RegionOfInterest{ZoomFactor: 1, FromInput: true})

	got, err := tr.StatsRoiFromSensorRoi(types.SensorRoi{
		Width: 2000, Height: 1500, CropLeft: 1000, CropRight: 1000, CropTop: 750, CropBottom: 750,
	})
	if err != nil {
		t.Fatalf("StatsRoiFromSensorRoi() error = %v", err)
	}
	want := types.ResolutionRoi{Width: 960, Height: 720, Left: 480, Right: 480, Top: 360, Bottom: 360}
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}

	if _, err := tr.StatsRoiFromSensorRoi(types.SensorRoi{Width: 10, Height: 10}); !errors.Is(err, types.ErrInvalidRoi) {
		t.Errorf("non-tiling roi: err = %v", err)
	}
}

func TestInputRoiForOutput(t *testing.T) {
	g := graphtest.Standard()
	tr := New(g, DefaultSensorAlignment)
	configure(t, g, tr, types.RegionOfInterest{ZoomFactor: 1, FromInput: true})

	// Left half of the 720p video sink.
	got, err := tr.InputRoiForOutput(types.ResolutionRoi{Width: 640, Height: 720, Right: 640}, graphtest.VideoSink)
	if err != nil {
		t.Fatalf("InputRoiForOutput() error = %v", err)
	}
	want := types.SensorRoi{Width: 2000, Height: 2250, CropLeft: 0, CropRight: 2000, CropTop: 375, CropBottom: 375}
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}

	if _, err := tr.InputRoiForOutput(types.ResolutionRoi{Width: 640, Height: 720}, graphtest.VideoSink); !errors.Is(err, types.ErrInvalidRoi) {
		t.Errorf("non-tiling rectangle: err = %v", err)
	}
	if _, err := tr.InputRoiForOutput(types.ResolutionRoi{Width: 1, Height: 1}, graphtest.Cropper); !errors.Is(err, types.ErrInvalidRoi) {
		t.Errorf("non-sink stage: err = %v", err)
	}
}

func TestSensorCropOrScaleExists(t *testing.T) {
	o := graphtest.DefaultOptions()
	o.Sensor = graph.Resolution{Width: 1920, Height: 1080}
	o.DownScalerTarget = graph.Resolution{Width: 1920, Height: 1080}
	g := graphtest.Build(o)
	tr := New(g, DefaultSensorAlignment)

	configure(t, g, tr, types.RegionOfInterest{ZoomFactor: 1, FromInput: true})
	if tr.SensorCropOrScaleExists() {
		t.Error("identity configuration reports a transform")
	}

	configure(t, g, tr, types.RegionOfInterest{ZoomFactor: 2, FromInput: true})
	if !tr.SensorCropOrScaleExists() {
		t.Error("zoomed configuration reports no transform")
	}

	std := graphtest.Standard()
	str := New(std, DefaultSensorAlignment)
	configure(t, std, str, types.RegionOfInterest{ZoomFactor: 1, FromInput: true})
	if !str.SensorCropOrScaleExists() {
		t.Error("4:3 sensor on a 16:9 sink is always cropped")
	}
}

func TestUnconfiguredGraph(t *testing.T) {
	g := graphtest.Standard()
	tr := New(g, DefaultSensorAlignment)
	if _, _, err := tr.UndoPoint(10, 10); !errors.Is(err, types.ErrGraphConsistency) {
		t.Errorf("UndoPoint() on unresolved graph: err = %v", err)
	}
	if tr.Current() != types.FullSensorRoi(4000, 3000) {
		t.Errorf("Current() = %s", tr.Current())
	}
}

func BenchmarkSensorRoi(b *testing.B) {
	tr := New(graphtest.Standard(), DefaultSensorAlignment)
	r := types.RegionOfInterest{ZoomFactor: 2.3, PanFactor: 0.1, TiltFactor: -0.4, FromInput: true}
	for i := 0; i < b.N; i++ {
		_, _ = tr.SensorRoi(r)
	}
}
