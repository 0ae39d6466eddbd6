package graph

import "testing"

func TestPixelAlignment(t *testing.T) {
	tests := []struct {
		format string
		want   int
	}{
		{"RAW10", 2},
		{"YUV_INTERNAL", 4},
		{"NV12", 64},
		{"P010", 32},
		{"YUV420", 64},
		{"GRID_STATS", 2},
	}
	for _, tt := range tests {
		f, ok := BuiltinFormat(tt.format)
		if !ok {
			t.Fatalf("builtin format %s missing", tt.format)
		}
		if got := f.PixelAlignment(); got != tt.want {
			t.Errorf("%s: PixelAlignment() = %d, want %d", tt.format, got, tt.want)
		}
		if err := f.Validate(); err != nil {
			t.Errorf("%s: Validate() error = %v", tt.format, err)
		}
	}
}

func TestPlaneBytes(t *testing.T) {
	nv12, _ := BuiltinFormat("NV12")
	if got := nv12.PlaneBytes(640, 0); got != 640 {
		t.Errorf("luma bytes = %d, want 640", got)
	}
	// Interleaved UV: one 16-bit pair every two columns.
	if got := nv12.PlaneBytes(640, 1); got != 640 {
		t.Errorf("chroma bytes = %d, want 640", got)
	}
	p010, _ := BuiltinFormat("P010")
	if got := p010.PlaneBytes(32, 0); got != 64 {
		t.Errorf("P010 luma bytes = %d, want 64", got)
	}
}

func TestAlign(t *testing.T) {
	tests := []struct {
		v, align, down, up int
	}{
		{0, 4, 0, 0},
		{5, 4, 4, 8},
		{8, 4, 8, 8},
		{7, 1, 7, 7},
		{-5, 4, -8, -4},
	}
	for _, tt := range tests {
		if got := AlignDown(tt.v, tt.align); got != tt.down {
			t.Errorf("AlignDown(%d, %d) = %d, want %d", tt.v, tt.align, got, tt.down)
		}
		if got := AlignUp(tt.v, tt.align); got != tt.up {
			t.Errorf("AlignUp(%d, %d) = %d, want %d", tt.v, tt.align, got, tt.up)
		}
	}
	if GCD(48, 64) != 16 || LCM(48, 64) != 192 || LCM(0, 3) != 0 {
		t.Error("gcd/lcm helpers")
	}
}

func TestFormatValidate(t *testing.T) {
	bad := []Format{
		{},
		{Name: "x"},
		{Name: "x", Planes: []Plane{{8, 1}}},
		{Name: "x", Planes: []Plane{{8, 1}}, Alignment: 2},
		{Name: "x", Planes: []Plane{{0, 1}}, Alignment: 2, MaxFragments: 1},
	}
	for i, f := range bad {
		if err := f.Validate(); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}
