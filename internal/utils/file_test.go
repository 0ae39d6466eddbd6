package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateOutputFilename(t *testing.T) {
	tests := []struct {
		input, sink, prefix, suffix, format string
		want                                string
	}{
		{"frames/scene.png", "main", "", "_preview", "jpg", "out/scene_main_preview.jpg"},
		{"scene.webp", "", "p_", "", "", "out/p_scene.webp"},
		{"scene", "ofs mp/0x60", "", "", "", "out/scene_ofs_mp_0x60.jpg"},
	}
	for _, tt := range tests {
		got := GenerateOutputFilename(tt.input, tt.sink, "out", tt.prefix, tt.suffix, tt.format)
		if got != filepath.FromSlash(tt.want) {
			t.Errorf("GenerateOutputFilename(%q, %q) = %q, want %q", tt.input, tt.sink, got, tt.want)
		}
	}
}

func TestIsImageFile(t *testing.T) {
	for name, want := range map[string]bool{
		"a.JPG":          true,
		"a.webp":         true,
		"pipelines.yaml": false,
		"noext":          false,
	} {
		if got := IsImageFile(name); got != want {
			t.Errorf("IsImageFile(%q) = %v", name, got)
		}
	}
}

func TestEnsureDirAndFileExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if err := EnsureDir(dir); err != nil {
		t.Fatalf("EnsureDir() error = %v", err)
	}
	if FileExists(dir) {
		t.Error("directory reported as file")
	}
	f := filepath.Join(dir, "x.txt")
	if err := os.WriteFile(f, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if !FileExists(f) {
		t.Error("file not found")
	}
	if FileExists(filepath.Join(dir, "missing")) {
		t.Error("missing file found")
	}
}

func TestFormatFileSize(t *testing.T) {
	for size, want := range map[int64]string{
		512:             "512 B",
		2048:            "2.0 KB",
		5 * 1024 * 1024: "5.0 MB",
	} {
		if got := FormatFileSize(size); got != want {
			t.Errorf("FormatFileSize(%d) = %q, want %q", size, got, want)
		}
	}
}
