// Package graphtest builds pipeline graphs for tests.
package graphtest

import "github.com/menta2k/isp-configurator/pkg/graph"

// Stage identities of the standard pipeline.
const (
	Input       graph.StageID = 0x0001
	BlackLevel  graph.StageID = 0x0010
	DownScaler  graph.StageID = 0x0020
	TnrBlend    graph.StageID = 0x0030
	TnrRefLuma  graph.StageID = 0x0031
	TnrRefChrom graph.StageID = 0x0032
	Cropper     graph.StageID = 0x0040
	UpScaler    graph.StageID = 0x0050
	MainSink    graph.StageID = 0x0060
	VideoSink   graph.StageID = 0x0061
	AeStats     graph.StageID = 0x0070
)

// Options tweak the standard pipeline.
type Options struct {
	Sensor           graph.Resolution
	DownScalerTarget graph.Resolution
	MainSink         graph.Resolution
	VideoSink        graph.Resolution
	SinkFormat       string
	WithoutUpScaler  bool
	WithoutTnr       bool
}

// DefaultOptions describe a 4000x3000 sensor feeding a 1080p preview and a
// 720p video sink.
func DefaultOptions() Options {
	return Options{
		Sensor:           graph.Resolution{Width: 4000, Height: 3000},
		DownScalerTarget: graph.Resolution{Width: 1920, Height: 1440},
		MainSink:         graph.Resolution{Width: 1920, Height: 1080},
		VideoSink:        graph.Resolution{Width: 1280, Height: 720},
		SinkFormat:       "NV12",
	}
}

// Standard returns the standard pipeline with default options.
func Standard() *graph.Graph {
	return Build(DefaultOptions())
}

// Build returns a pipeline:
//
//	isys -> blc -> b2i_ds -> tnr_blend -> espa_crop -> up_scaler -> ofs_mp
//	                  |          |-> tnr_ref_luma             |-> ofs_dp
//	                  |          '-> tnr_ref_chroma
//	                  '-> aestat
func Build(o Options) *graph.Graph {
	stages := []graph.StageDescriptor{
		{ID: Input, Name: "isys", Role: graph.RoleInput, Baseline: o.Sensor},
		{ID: BlackLevel, Name: "bxt_blc", Role: graph.RolePassThrough, Upstream: Input, Format: "RAW10", BitDepth: []int{10}},
		{ID: DownScaler, Name: "b2i_ds", Role: graph.RoleDownScaler, Upstream: BlackLevel, Baseline: o.DownScalerTarget, Format: "YUV_INTERNAL", BitDepth: []int{12}},
	}
	cropperUpstream := DownScaler
	if !o.WithoutTnr {
		stages = append(stages,
			graph.StageDescriptor{ID: TnrBlend, Name: "tnr_blend", Role: graph.RoleReferenceProducer, Upstream: DownScaler, Format: "YUV_INTERNAL", BitDepth: []int{12}},
			graph.StageDescriptor{ID: TnrRefLuma, Name: "tnr_ref_luma", Role: graph.RoleReferenceFeeder, Upstream: TnrBlend, HistorySource: TnrBlend, Format: "YUV_INTERNAL", BitDepth: []int{12}},
			graph.StageDescriptor{ID: TnrRefChrom, Name: "tnr_ref_chroma", Role: graph.RoleReferenceFeeder, Upstream: TnrBlend, HistorySource: TnrBlend, Format: "YUV_INTERNAL", BitDepth: []int{12}},
		)
		cropperUpstream = TnrBlend
	}
	stages = append(stages,
		graph.StageDescriptor{ID: Cropper, Name: "espa_crop", Role: graph.RoleCropper, Upstream: cropperUpstream, Format: "YUV_INTERNAL", BitDepth: []int{12}},
	)
	sinkUpstream := Cropper
	if !o.WithoutUpScaler {
		stages = append(stages,
			graph.StageDescriptor{ID: UpScaler, Name: "up_scaler", Role: graph.RoleUpScaler, Upstream: Cropper, Format: "YUV_INTERNAL", BitDepth: []int{12}},
		)
		sinkUpstream = UpScaler
	}
	stages = append(stages,
		graph.StageDescriptor{ID: MainSink, Name: "ofs_mp", Role: graph.RoleOutput, Upstream: sinkUpstream, Baseline: o.MainSink, Format: o.SinkFormat, BitDepth: []int{8, 8}},
		graph.StageDescriptor{ID: VideoSink, Name: "ofs_dp", Role: graph.RoleOutput, Upstream: sinkUpstream, Baseline: o.VideoSink, Format: o.SinkFormat, BitDepth: []int{8, 8}},
		graph.StageDescriptor{ID: AeStats, Name: "aestat", Role: graph.RoleStatistics, Upstream: DownScaler, Format: "GRID_STATS", BitDepth: []int{32}},
	)

	g := graph.New("standard", o.Sensor, stages)
	g.Variant = "default"
	g.MainSink = MainSink
	g.Sinks[graph.PurposePreview] = MainSink
	g.Sinks[graph.PurposeVideo] = VideoSink
	return g
}
