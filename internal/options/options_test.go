package options

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_PartialFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "options.yaml")
	data := "max_concurrent_downloads: 4\ntraverse_mode: flat\n"
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	o, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if o.MaxConcurrentDownloads != 4 {
		t.Fatalf("max_concurrent_downloads: %d", o.MaxConcurrentDownloads)
	}
	if o.TraverseMode != TraverseFlat {
		t.Fatalf("traverse_mode: %q", o.TraverseMode)
	}
	// Unset fields fall back to defaults.
	if o.MaxTexelToPixelScale != 1.2 {
		t.Fatalf("max_texel_to_pixel_scale: %v", o.MaxTexelToPixelScale)
	}
	if o.MaxResourcesMemory() != 512*1024*1024 {
		t.Fatalf("memory budget: %d", o.MaxResourcesMemory())
	}
}

func TestLoad_BadTraverseMode(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "options.yaml")
	if err := os.WriteFile(p, []byte("traverse_mode: spiral\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error for unknown traverse mode")
	}
}
