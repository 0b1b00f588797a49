package hazardanalysis

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/altSeneca/HH-v0-clean-sub001/internal/config"
	"github.com/altSeneca/HH-v0-clean-sub001/pkg/types"
)

func TestNew(t *testing.T) {
	analyzer, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if analyzer.Taxonomy() == nil {
		t.Error("analyzer should carry the built-in taxonomy")
	}
	if analyzer.Orchestrator() == nil {
		t.Error("analyzer should expose its orchestrator")
	}
}

func TestGetVersion(t *testing.T) {
	if GetVersion() != Version {
		t.Errorf("GetVersion = %s, want %s", GetVersion(), Version)
	}
	if Version == "" {
		t.Error("version should not be empty")
	}
}

func TestNewWithConfigInvalid(t *testing.T) {
	cfg := config.Default()
	cfg.Fusion.IoUThreshold = 2.0

	if _, err := NewWithConfig(cfg); err == nil {
		t.Fatal("expected error for invalid configuration")
	}
}

func TestNewWithConfigCustomTaxonomy(t *testing.T) {
	content := `tags:
  - id: ppe-hard-hat-required
    name: Hard Hat Required
    category: ppe
    codes: ["29 CFR 1926.100"]
    priority: 1
hazards:
  MISSING_HARD_HAT:
    severity: critical
    tags: [ppe-hard-hat-required]
`
	path := filepath.Join(t.TempDir(), "taxonomy.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.TaxonomyPath = path

	analyzer, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewWithConfig failed: %v", err)
	}

	// The file overrides the built-in severity ranking
	if got := analyzer.Taxonomy().Severity("MISSING_HARD_HAT"); got != types.SeverityCritical {
		t.Errorf("severity = %s, want critical", got)
	}
}

func TestNewWithConfigMissingTaxonomy(t *testing.T) {
	cfg := config.Default()
	cfg.TaxonomyPath = "/nonexistent/taxonomy.yaml"

	if _, err := NewWithConfig(cfg); err == nil {
		t.Fatal("expected error for missing taxonomy file")
	}
}

func TestLoadPhoto(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{180, 160, 120, 255})
		}
	}
	path := filepath.Join(t.TempDir(), "site.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	f.Close()

	analyzer, err := New()
	if err != nil {
		t.Fatal(err)
	}

	in, err := analyzer.LoadPhoto(path)
	if err != nil {
		t.Fatalf("LoadPhoto failed: %v", err)
	}
	if in.Width != 64 || in.Height != 48 {
		t.Errorf("dimensions = %dx%d, want 64x48", in.Width, in.Height)
	}
	if len(in.Data) == 0 {
		t.Error("photo data should not be empty")
	}
	if in.CapturedAt.IsZero() {
		t.Error("capture time should be stamped")
	}
}

func TestLoadPhotoMissing(t *testing.T) {
	analyzer, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := analyzer.LoadPhoto("/nonexistent/site.jpg"); err == nil {
		t.Fatal("expected error for missing photo")
	}
}

func TestSaveHealth(t *testing.T) {
	cfg := config.Default()
	analyzer, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}

	// No health file configured: saving is a no-op
	if err := analyzer.SaveHealth(); err != nil {
		t.Errorf("SaveHealth without a file should be a no-op: %v", err)
	}

	path := filepath.Join(t.TempDir(), "health.json")
	cfg = config.Default()
	cfg.Orchestrator.HealthFile = path
	analyzer, err = NewWithConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}

	if err := analyzer.SaveHealth(); err != nil {
		t.Fatalf("SaveHealth failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("health file not written: %v", err)
	}
}
