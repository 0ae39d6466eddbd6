package propagator

import (
	"errors"
	"reflect"
	"testing"

	"github.com/menta2k/isp-configurator/pkg/graph"
	"github.com/menta2k/isp-configurator/pkg/graph/graphtest"
	"github.com/menta2k/isp-configurator/pkg/history"
	"github.com/menta2k/isp-configurator/pkg/types"
)

var (
	fullSensor = types.FullSensorRoi(4000, 3000)
	zoom2      = types.SensorRoi{Width: 2000, Height: 1500, CropLeft: 1000, CropRight: 1000, CropTop: 750, CropBottom: 750}
	zoom4      = types.SensorRoi{Width: 1000, Height: 750, CropLeft: 1500, CropRight: 1500, CropTop: 1125, CropBottom: 1125}
)

func createTestPropagator(t *testing.T, cfg Config) *Propagator {
	t.Helper()
	v, err := VariantFor("default")
	if err != nil {
		t.Fatalf("VariantFor() error = %v", err)
	}
	p, err := New(v, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func res(w, h int) graph.Resolution { return graph.Resolution{Width: w, Height: h} }

func TestPropagateFullSensor(t *testing.T) {
	g := graphtest.Standard()
	p := createTestPropagator(t, Config{})

	out, err := p.Propagate(g, fullSensor, nil)
	if err != nil {
		t.Fatalf("Propagate() error = %v", err)
	}

	tests := []struct {
		id      graph.StageID
		in, out graph.Resolution
		crop    graph.Crop
	}{
		{graphtest.Input, res(4000, 3000), res(4000, 3000), graph.Crop{}},
		{graphtest.BlackLevel, res(4000, 3000), res(4000, 3000), graph.Crop{}},
		{graphtest.DownScaler, res(4000, 3000), res(1920, 1440), graph.Crop{}},
		{graphtest.TnrBlend, res(1920, 1440), res(1920, 1440), graph.Crop{}},
		{graphtest.TnrRefLuma, res(1920, 1440), res(1920, 1440), graph.Crop{}},
		{graphtest.Cropper, res(1920, 1440), res(1920, 1080), graph.Crop{Top: 180, Bottom: 180}},
		{graphtest.UpScaler, res(1920, 1080), res(1920, 1080), graph.Crop{}},
		{graphtest.MainSink, res(1920, 1080), res(1920, 1080), graph.Crop{}},
		{graphtest.VideoSink, res(1920, 1080), res(1280, 720), graph.Crop{}},
		{graphtest.AeStats, res(1920, 1440), res(1920, 1080), graph.Crop{Top: 180, Bottom: 180}},
	}
	for _, tt := range tests {
		s := out.Stage(tt.id)
		if s.Input != tt.in || s.Output != tt.out || s.Crop != tt.crop {
			t.Errorf("%s: got in=%s out=%s crop=%s, want in=%s out=%s crop=%s",
				s.Name, s.Input, s.Output, s.Crop, tt.in, tt.out, tt.crop)
		}
	}

	up := out.Upscaler
	if up.ActualInput != up.RequestedInput || up.ActualOutput != res(1920, 1080) {
		t.Errorf("1:1 upscale should be exact, got %+v", up)
	}
}

func TestPropagateZoom(t *testing.T) {
	g := graphtest.Standard()
	p := createTestPropagator(t, Config{})

	out, err := p.Propagate(g, zoom2, nil)
	if err != nil {
		t.Fatalf("Propagate() error = %v", err)
	}
	ds := out.Stage(graphtest.DownScaler)
	if ds.Crop != (graph.Crop{Left: 1000, Top: 750, Right: 1000, Bottom: 750}) {
		t.Errorf("downscaler crop = %s", ds.Crop)
	}
	if ds.Output != res(1920, 1440) {
		t.Errorf("downscaler output = %s", ds.Output)
	}
	if w := ds.Window; w.Left != 1000 || w.Top != 750 || w.Width != 2000 || w.Height != 1500 {
		t.Errorf("downscaler window = %+v", w)
	}

	// A ROI smaller than the target is never upscaled by the downscaler.
	out, err = p.Propagate(g, zoom4, nil)
	if err != nil {
		t.Fatalf("Propagate(zoom4) error = %v", err)
	}
	ds = out.Stage(graphtest.DownScaler)
	if ds.Output != res(1000, 748) || ds.CroppedInput() != ds.Output {
		t.Errorf("zoom 4 downscaler: in=%s crop=%s out=%s", ds.Input, ds.Crop, ds.Output)
	}
	if cr := out.Stage(graphtest.Cropper); cr.Output != res(1000, 562) {
		t.Errorf("zoom 4 cropper output = %s", cr.Output)
	}
	if up := out.Stage(graphtest.UpScaler); up.Output.Width < 1920 || up.Output.Height < 1080 {
		t.Errorf("upscaler must cover the main sink, got %s", up.Output)
	}
}

func TestPropagateDoesNotMutateInput(t *testing.T) {
	g := graphtest.Standard()
	before := g.Clone()
	p := createTestPropagator(t, Config{})

	if _, err := p.Propagate(g, zoom2, nil); err != nil {
		t.Fatalf("Propagate() error = %v", err)
	}
	if !reflect.DeepEqual(g.Stages, before.Stages) {
		t.Error("Propagate mutated the source graph")
	}

	bad := types.SensorRoi{Width: 10, Height: 10}
	if _, err := p.Propagate(g, bad, nil); !errors.Is(err, types.ErrInvalidRoi) {
		t.Errorf("non-tiling roi: err = %v", err)
	}
	if !reflect.DeepEqual(g.Stages, before.Stages) {
		t.Error("failed Propagate mutated the source graph")
	}
}

func TestPropagateIdempotent(t *testing.T) {
	g := graphtest.Standard()
	reg := history.New()
	if err := reg.Bind(g); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	p := createTestPropagator(t, Config{})

	run := func() *graph.Graph {
		pass := reg.Begin()
		out, err := p.Propagate(g, zoom2, pass)
		if err != nil {
			t.Fatalf("Propagate() error = %v", err)
		}
		pass.Commit()
		g.Adopt(out)
		return g.Clone()
	}
	first := run()
	second := run()
	if !reflect.DeepEqual(first.Stages, second.Stages) || first.Upscaler != second.Upscaler {
		t.Error("same roi twice produced different stage fields")
	}
}

func TestExcessShrinkRoutedToCrop(t *testing.T) {
	o := graphtest.DefaultOptions()
	o.DownScalerTarget = res(640, 480)
	o.MainSink = res(640, 360)
	o.VideoSink = res(320, 180)
	g := graphtest.Build(o)
	p := createTestPropagator(t, Config{})

	// 4000/640 = 6.25x, beyond the 4x scaler: the rest becomes input crop.
	out, err := p.Propagate(g, fullSensor, nil)
	if err != nil {
		t.Fatalf("Propagate() error = %v", err)
	}
	ds := out.Stage(graphtest.DownScaler)
	if ds.Output != res(640, 480) {
		t.Errorf("downscaler output = %s", ds.Output)
	}
	want := graph.Crop{Left: 720, Top: 540, Right: 720, Bottom: 540}
	if ds.Crop != want {
		t.Errorf("downscaler crop = %s, want %s", ds.Crop, want)
	}
	if ds.ScaleX() > 4 {
		t.Errorf("downscaler scale %.2f exceeds hardware limit", ds.ScaleX())
	}
}

func TestCombinedCapabilityExceeded(t *testing.T) {
	o := graphtest.DefaultOptions()
	o.DownScalerTarget = res(160, 120)
	o.MainSink = res(160, 120)
	o.VideoSink = res(80, 60)
	o.SinkFormat = "YUV_INTERNAL"
	g := graphtest.Build(o)
	p := createTestPropagator(t, Config{})

	// 25x reduction: 4x scale times 6.25x crop, over the 4x crop limit.
	_, err := p.Propagate(g, fullSensor, nil)
	if !errors.Is(err, types.ErrUnsupportedRoi) {
		t.Fatalf("full sensor onto 160x120: err = %v, want unsupported roi", err)
	}
	if types.IsFatal(err) {
		t.Error("unsupported roi must not be fatal")
	}

	// Zooming in lowers the reduction to 12.5x, within 4x * 4x.
	out, err := p.Propagate(g, zoom2, nil)
	if err != nil {
		t.Fatalf("Propagate(zoom2) error = %v", err)
	}
	ds := out.Stage(graphtest.DownScaler)
	if ds.Output != res(160, 120) || ds.CroppedInput() != res(640, 480) {
		t.Errorf("downscaler: consumed %s out %s", ds.CroppedInput(), ds.Output)
	}
	if ds.Crop.Left != 1680 || ds.Crop.Top != 1260 {
		t.Errorf("excess crop not centred in the roi: %s", ds.Crop)
	}
}

func TestCropperInputMismatch(t *testing.T) {
	o := graphtest.DefaultOptions()
	o.WithoutTnr = true
	base := graphtest.Build(o)

	const fixedID graph.StageID = 0x0025
	stages := append([]graph.StageDescriptor(nil), base.Stages...)
	pos := base.Position(graphtest.DownScaler) + 1
	fixed := graph.StageDescriptor{
		ID: fixedID, Name: "fixed_fmt", Role: graph.RolePassThrough, Upstream: graphtest.DownScaler,
		Baseline: res(1280, 960), Format: "YUV_INTERNAL",
	}
	stages = append(stages[:pos], append([]graph.StageDescriptor{fixed}, stages[pos:]...)...)
	for i := range stages {
		if stages[i].ID == graphtest.Cropper {
			stages[i].Upstream = fixedID
		}
	}
	g := graph.New("broken", base.Sensor, stages)
	g.MainSink = graphtest.MainSink
	g.Sinks[graph.PurposePreview] = graphtest.MainSink

	p := createTestPropagator(t, Config{})
	_, err := p.Propagate(g, fullSensor, nil)
	if !errors.Is(err, types.ErrGraphConsistency) {
		t.Fatalf("err = %v, want graph consistency error", err)
	}
	if !types.IsFatal(err) {
		t.Error("graph consistency errors are fatal")
	}
}

func TestUpscalerActualDiffersFromRequested(t *testing.T) {
	v, _ := VariantFor("default")
	v.ScalePrecision = 16
	p, err := New(v, Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	out, err := p.Propagate(graphtest.Standard(), zoom4, nil)
	if err != nil {
		t.Fatalf("Propagate() error = %v", err)
	}
	st := out.Upscaler
	if st.RequestedInput != res(1000, 562) || st.RequestedOutput != res(1924, 1080) {
		t.Errorf("requested = %s -> %s", st.RequestedInput, st.RequestedOutput)
	}
	if st.ActualInput != res(962, 540) {
		t.Errorf("actual input = %s, want 962x540", st.ActualInput)
	}
	up := out.Stage(graphtest.UpScaler)
	if up.CroppedInput() != st.ActualInput {
		t.Errorf("upscaler consumes %s, hardware reads %s", up.CroppedInput(), st.ActualInput)
	}
	if up.Crop != (graph.Crop{Left: 19, Right: 19, Top: 11, Bottom: 11}) {
		t.Errorf("phase crop = %s", up.Crop)
	}
}

func TestUpscalerLimit(t *testing.T) {
	v, _ := VariantFor("default")
	v.MaxUpscale = 1.5
	p, err := New(v, Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = p.Propagate(graphtest.Standard(), zoom4, nil)
	if !errors.Is(err, types.ErrUnsupportedRoi) {
		t.Errorf("err = %v, want unsupported roi", err)
	}
}

func TestBypassUpscaler(t *testing.T) {
	p := createTestPropagator(t, Config{BypassUpscaler: true})
	out, err := p.Propagate(graphtest.Standard(), fullSensor, nil)
	if err != nil {
		t.Fatalf("Propagate() error = %v", err)
	}
	up := out.Stage(graphtest.UpScaler)
	if up.Input != up.Output || !up.Crop.IsZero() {
		t.Errorf("bypassed upscaler: in=%s crop=%s out=%s", up.Input, up.Crop, up.Output)
	}
	if _, err := p.Propagate(graphtest.Standard(), zoom4, nil); !errors.Is(err, types.ErrUnsupportedRoi) {
		t.Errorf("zoom without upscaler should not reach the sink: err = %v", err)
	}
}

func TestHistoryWrittenOncePerSlot(t *testing.T) {
	g := graphtest.Standard()
	reg := history.New()
	if err := reg.Bind(g); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	p := createTestPropagator(t, Config{})

	apply := func(sr types.SensorRoi) *graph.Graph {
		pass := reg.Begin()
		out, err := p.Propagate(g, sr, pass)
		if err != nil {
			t.Fatalf("Propagate(%s) error = %v", sr, err)
		}
		if pass.Writes() != reg.Len() {
			t.Errorf("writes = %d, slots = %d", pass.Writes(), reg.Len())
		}
		pass.Commit()
		g.Adopt(out)
		return g
	}

	apply(fullSensor)
	slot, ok := reg.Get(g.Stage(graphtest.TnrRefLuma).HistorySlot)
	if !ok || slot.Resolution != res(1920, 1440) {
		t.Fatalf("slot after first frame = %+v, %v", slot, ok)
	}

	apply(zoom4)
	for _, id := range []graph.StageID{graphtest.TnrRefLuma, graphtest.TnrRefChrom} {
		s := g.Stage(id)
		if s.Input != res(1920, 1440) {
			t.Errorf("%s reads %s, want previous frame 1920x1440", s.Name, s.Input)
		}
		if s.Output != res(1000, 748) {
			t.Errorf("%s output = %s, want producer geometry", s.Name, s.Output)
		}
	}

	apply(zoom4)
	if s := g.Stage(graphtest.TnrRefChrom); s.Input != res(1000, 748) {
		t.Errorf("history not carried to the next frame: %s", s.Input)
	}
}

func TestDisableHistory(t *testing.T) {
	g := graphtest.Standard()
	reg := history.New()
	_ = reg.Bind(g)
	p := createTestPropagator(t, Config{DisableHistory: true})

	pass := reg.Begin()
	out, err := p.Propagate(g, zoom4, pass)
	if err != nil {
		t.Fatalf("Propagate() error = %v", err)
	}
	if pass.Writes() != 0 {
		t.Errorf("writes = %d with history disabled", pass.Writes())
	}
	if s := out.Stage(graphtest.TnrRefLuma); s.Input != s.Output {
		t.Errorf("feeder should read the current producer, got %s -> %s", s.Input, s.Output)
	}
}

func TestVariantFor(t *testing.T) {
	for _, name := range []string{"", "default", "COMPACT"} {
		v, err := VariantFor(name)
		if err != nil {
			t.Errorf("VariantFor(%q) error = %v", name, err)
			continue
		}
		if err := v.Validate(); err != nil {
			t.Errorf("%s: Validate() error = %v", v.Name, err)
		}
	}
	if _, err := VariantFor("mystery"); err == nil {
		t.Error("expected error for unknown variant")
	}
	if _, err := New(Variant{Name: "broken"}, Config{}); err == nil {
		t.Error("expected error for empty variant")
	}
	if got := Variants(); len(got) != 2 || got[0] != "compact" {
		t.Errorf("Variants() = %v", got)
	}
}

func TestCompactVariantNeedsMoreCrop(t *testing.T) {
	g := graphtest.Standard()
	v, _ := VariantFor("compact")
	p, err := New(v, Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	out, err := p.Propagate(g, fullSensor, nil)
	if err != nil {
		t.Fatalf("Propagate() error = %v", err)
	}
	if ds := out.Stage(graphtest.DownScaler); ds.ScaleX() > v.MaxDownscale+0.01 {
		t.Errorf("compact scaler ratio %.3f over its limit", ds.ScaleX())
	}
}

func BenchmarkPropagate(b *testing.B) {
	g := graphtest.Standard()
	v, _ := VariantFor("default")
	p, _ := New(v, Config{})
	for i := 0; i < b.N; i++ {
		if _, err := p.Propagate(g, zoom2, nil); err != nil {
			b.Fatal(err)
		}
	}
}
