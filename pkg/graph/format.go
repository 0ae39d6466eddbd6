package graph

import "fmt"

// Plane describes one plane of a pixel format. HorizontalSubsampling is the
// number of luma columns sharing one sample of this plane.
type Plane struct {
	BitsPerPixel          int `json:"bits_per_pixel" yaml:"bits_per_pixel" msgpack:"bpp"`
	HorizontalSubsampling int `json:"horizontal_subsampling" yaml:"horizontal_subsampling" msgpack:"hsub"`
}

func (p Plane) subsampling() int {
	if p.HorizontalSubsampling <= 0 {
		return 1
	}
	return p.HorizontalSubsampling
}

// Format is a pixel format together with the hardware restrictions that come
// with it.
type Format struct {
	Name   string  `json:"name" yaml:"name" msgpack:"name"`
	Planes []Plane `json:"planes" yaml:"planes" msgpack:"planes"`

	// Alignment is the pixel-group alignment for widths and stripe starts.
	Alignment int `json:"alignment" yaml:"alignment" msgpack:"align"`

	// StrideAlignment is the byte alignment every plane start address must
	// honour. Zero for formats that never reach memory.
	StrideAlignment int `json:"stride_alignment" yaml:"stride_alignment" msgpack:"stride"`

	// MaxFragments bounds the stripe count the descriptor can carry.
	MaxFragments int `json:"max_fragments" yaml:"max_fragments" msgpack:"maxfrag"`
}

// Validate checks the format description for impossible values.
func (f Format) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("format name is required")
	}
	if len(f.Planes) == 0 {
		return fmt.Errorf("format %s: at least one plane is required", f.Name)
	}
	if f.Alignment < 1 {
		return fmt.Errorf("format %s: alignment must be positive", f.Name)
	}
	if f.MaxFragments < 1 {
		return fmt.Errorf("format %s: max_fragments must be positive", f.Name)
	}
	for i, p := range f.Planes {
		if p.BitsPerPixel <= 0 {
			return fmt.Errorf("format %s: plane %d has no bit depth", f.Name, i)
		}
	}
	return nil
}

// PixelAlignment returns the coarsest column alignment that satisfies the
// format alignment and, for memory formats, the stride alignment of every
// plane at once.
func (f Format) PixelAlignment() int {
	align := max(f.Alignment, 1)
	if f.StrideAlignment <= 0 {
		return align
	}
	strideBits := 8 * f.StrideAlignment
	for _, p := range f.Planes {
		sub := p.subsampling()
		// n columns of this plane cost n*bpp/sub bits; find the smallest n
		// that is a multiple of sub and lands on a stride boundary.
		groupBits := p.BitsPerPixel
		n := sub * strideBits / GCD(strideBits, groupBits)
		align = LCM(align, n)
	}
	return align
}

// PlaneBytes returns the byte size of columns luma columns in plane index.
func (f Format) PlaneBytes(columns, plane int) int {
	p := f.Planes[plane]
	return columns * p.BitsPerPixel / (p.subsampling() * 8)
}

// GCD returns the greatest common divisor of two non-negative integers.
func GCD(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

// LCM returns the least common multiple, built on GCD.
func LCM(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a / GCD(a, b) * b
}

// AlignDown rounds v down to a multiple of align.
func AlignDown(v, align int) int {
	if align <= 1 {
		return v
	}
	if v < 0 {
		return -AlignUp(-v, align)
	}
	return v - v%align
}

// AlignUp rounds v up to a multiple of align.
func AlignUp(v, align int) int {
	if align <= 1 {
		return v
	}
	if v < 0 {
		return -AlignDown(-v, align)
	}
	return (v + align - 1) / align * align
}

// builtinFormats is loaded once and never mutated. Catalog formats with the
// same name take precedence.
var builtinFormats = map[string]Format{
	"RAW10": {Name: "RAW10", Planes: []Plane{{16, 1}}, Alignment: 2, MaxFragments: 8},
	"RAW12": {Name: "RAW12", Planes: []Plane{{16, 1}}, Alignment: 2, MaxFragments: 8},
	"YUV_INTERNAL": {
		Name: "YUV_INTERNAL", Planes: []Plane{{16, 1}}, Alignment: 4, MaxFragments: 8,
	},
	"NV12": {
		Name: "NV12", Planes: []Plane{{8, 1}, {16, 2}},
		Alignment: 2, StrideAlignment: 64, MaxFragments: 8,
	},
	"P010": {
		Name: "P010", Planes: []Plane{{16, 1}, {32, 2}},
		Alignment: 2, StrideAlignment: 64, MaxFragments: 8,
	},
	"YUV420": {
		Name: "YUV420", Planes: []Plane{{8, 1}, {8, 2}, {8, 2}},
		Alignment: 2, StrideAlignment: 32, MaxFragments: 4,
	},
	"GRID_STATS": {Name: "GRID_STATS", Planes: []Plane{{32, 1}}, Alignment: 2, MaxFragments: 8},
}

// BuiltinFormat looks up one of the formats compiled into the module.
func BuiltinFormat(name string) (Format, bool) {
	f, ok := builtinFormats[name]
	return f, ok
}
