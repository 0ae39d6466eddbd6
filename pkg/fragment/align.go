package fragment

import "github.com/menta2k/isp-configurator/pkg/graph"

// AlignToFormatRestrictions returns the byte offset in plane at which a
// stripe starting at column offset may begin. The column is first rounded
// down to the coarsest alignment that suits every plane of f, so luma and
// chroma start addresses land on their stride boundaries together.
func AlignToFormatRestrictions(offset int, f graph.Format, plane int) int {
	return f.PlaneBytes(graph.AlignDown(offset, f.PixelAlignment()), plane)
}

// planeOffsets computes the start address of a stripe in every plane of f.
func planeOffsets(offset int, f graph.Format) []int {
	out := make([]int, len(f.Planes))
	for p := range f.Planes {
		out[p] = AlignToFormatRestrictions(offset, f, p)
	}
	return out
}
