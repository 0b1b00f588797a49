package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "c")
	if err := EnsureDir(dir); err != nil {
		t.Fatalf("EnsureDir failed: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("directory not created: %v", err)
	}
	// Idempotent on an existing directory
	if err := EnsureDir(dir); err != nil {
		t.Errorf("EnsureDir on existing dir failed: %v", err)
	}
}

func TestGetFileExtension(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"photo.JPG", "jpg"},
		{"site.webp", "webp"},
		{"archive.tar.gz", "gz"},
		{"noext", ""},
	}
	for _, tt := range tests {
		if got := GetFileExtension(tt.in); got != tt.want {
			t.Errorf("GetFileExtension(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsImageFile(t *testing.T) {
	for _, name := range []string{"a.jpg", "b.PNG", "c.webp"} {
		if !IsImageFile(name) {
			t.Errorf("IsImageFile(%q) = false", name)
		}
	}
	for _, name := range []string{"a.txt", "b.onnx", "c"} {
		if IsImageFile(name) {
			t.Errorf("IsImageFile(%q) = true", name)
		}
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	if FileExists(path) {
		t.Error("missing file should not exist")
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !FileExists(path) {
		t.Error("written file should exist")
	}
	if FileExists(dir) {
		t.Error("directories are not files")
	}
}
