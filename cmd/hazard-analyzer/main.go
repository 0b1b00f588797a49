package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	hazardanalysis "github.com/altSeneca/HH-v0-clean-sub001"
	"github.com/altSeneca/HH-v0-clean-sub001/internal/config"
	"github.com/altSeneca/HH-v0-clean-sub001/internal/utils"
	"github.com/altSeneca/HH-v0-clean-sub001/pkg/backend"
	"github.com/altSeneca/HH-v0-clean-sub001/pkg/imageprep"
	"github.com/altSeneca/HH-v0-clean-sub001/pkg/orchestrator"
)

// report is the JSON document written next to the analyzed photo
type report struct {
	Session         string   `json:"session"`
	Degraded        bool     `json:"degraded"`
	BackendChain    []string `json:"backend_chain"`
	LatencyMs       int64    `json:"latency_ms"`
	Hazards         any      `json:"hazards"`
	Recommendations any      `json:"recommendations"`
	AutoSelectTags  []string `json:"auto_select_tags"`
}

func main() {
	var in, cfgPath, taxonomyPath, outDir, model, ollamaURL, remoteURL, ext string
	var hybrid, overlay bool
	var quality int

	flag.StringVar(&in, "in", "", "input photo path or URL (jpg/png/webp)")
	flag.StringVar(&cfgPath, "config", "", "config file path (JSON), default "+config.GetConfigPath())
	flag.StringVar(&taxonomyPath, "taxonomy", "", "taxonomy file path (YAML), overrides config")
	flag.StringVar(&outDir, "out", "out", "output directory")
	flag.StringVar(&model, "model", "", "ollama model name, overrides config")
	flag.StringVar(&ollamaURL, "ollama-url", "", "ollama server URL, overrides config")
	flag.StringVar(&remoteURL, "remote-url", "", "remote vision service URL, enables the remote backend")
	flag.BoolVar(&hybrid, "hybrid", false, "run local and remote backends concurrently")
	flag.BoolVar(&overlay, "overlay", false, "write an annotated image with hazard boxes")
	flag.StringVar(&ext, "ext", "jpg", "overlay output format: jpg|png|webp")
	flag.IntVar(&quality, "quality", 90, "overlay JPEG/WebP quality (1-100)")
	flag.Parse()

	if in == "" {
		log.Fatalf("usage: %s -in photo.jpg|URL [-config config.json] [-hybrid] [-overlay]", filepath.Base(os.Args[0]))
	}
	if !strings.HasPrefix(in, "http://") && !strings.HasPrefix(in, "https://") {
		if !utils.FileExists(in) {
			log.Fatalf("input file not found: %s", in)
		}
		if !utils.IsImageFile(in) {
			log.Fatalf("unsupported input type %q: expected an image file", utils.GetFileExtension(in))
		}
	}

	// Fall back to the user-level config file when present
	if cfgPath == "" {
		if p := config.GetConfigPath(); utils.FileExists(p) {
			cfgPath = p
		}
	}

	cfg := config.Default()
	if cfgPath != "" {
		loaded, err := config.LoadFromFile(cfgPath)
		if err != nil {
			log.Fatal(err)
		}
		cfg = loaded
	}
	if taxonomyPath != "" {
		cfg.TaxonomyPath = taxonomyPath
	}
	if model != "" {
		cfg.Backends.Ollama.Model = model
	}
	if ollamaURL != "" {
		cfg.Backends.Ollama.URL = ollamaURL
	}
	if remoteURL != "" {
		cfg.Backends.Remote.Enabled = true
		cfg.Backends.Remote.BaseURL = remoteURL
	}
	if hybrid {
		cfg.Orchestrator.Hybrid = true
	}

	if err := utils.EnsureDir(outDir); err != nil {
		log.Fatal(err)
	}

	analyzer, err := hazardanalysis.NewWithConfig(cfg)
	if err != nil {
		log.Fatal(err)
	}

	img, err := analyzer.LoadPhoto(in)
	if err != nil {
		log.Fatal(err)
	}

	session, err := analyzer.SubmitPhoto(context.Background(), img)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrNoBackendAvailable):
			log.Printf("analysis temporarily unavailable: %v", err)
			log.Fatal("no recommendations produced; tag the photo manually")
		case backend.KindOf(err) == backend.KindMalformedInput:
			log.Printf("could not analyze this image: %v", err)
			log.Fatal("the photo appears unusable; retake it and try again")
		default:
			log.Fatal(err)
		}
	}

	hazards := session.FusedHazards()
	recs := session.Recommendations()

	log.Printf("session %s: %d hazards, %d recommendations (degraded=%v, %s, backends=%v)",
		session.ID(), len(hazards), len(recs), session.Degraded(),
		session.Latency().Round(1e6), session.BackendChain())

	for _, hz := range hazards {
		log.Printf("  hazard %-24s conf=%.2f severity=%-8s box=%.3fx%.3f@%.3f,%.3f sources=%v",
			hz.Type, hz.Confidence, hz.Severity, hz.Box.W, hz.Box.H, hz.Box.X, hz.Box.Y, hz.Sources)
	}
	for _, r := range recs {
		log.Printf("  tag    %-24s conf=%.2f %-13s %s", r.Tag.ID, r.Confidence, r.Reason, strings.Join(r.Tag.Codes, ", "))
	}
	if len(hazards) == 0 {
		log.Printf("  no hazards detected; scene looks clear")
	}

	// Write the machine-readable report
	rep := report{
		Session:         session.ID(),
		Degraded:        session.Degraded(),
		BackendChain:    session.BackendChain(),
		LatencyMs:       session.Latency().Milliseconds(),
		Hazards:         hazards,
		Recommendations: recs,
		AutoSelectTags:  session.AutoSelectTags(),
	}
	js, _ := json.MarshalIndent(rep, "", "  ")
	reportPath := filepath.Join(outDir, "report.json")
	if err := os.WriteFile(reportPath, js, 0o644); err != nil {
		log.Printf("report save failed: %v", err)
	} else {
		log.Printf("wrote %s", reportPath)
	}

	if overlay && len(hazards) > 0 {
		proc := imageprep.NewProcessor()
		decoded, err := proc.DecodeBytes(img.Data)
		if err == nil {
			annotated := proc.DrawHazards(decoded, hazards)
			overlayPath := filepath.Join(outDir, fmt.Sprintf("hazards.%s", strings.ToLower(ext)))
			if err := proc.SaveImage(annotated, overlayPath, ext, quality); err != nil {
				log.Printf("overlay save failed: %v", err)
			} else {
				log.Printf("wrote %s", overlayPath)
			}
		}
	}

	if err := analyzer.SaveHealth(); err != nil {
		log.Printf("health save failed: %v", err)
	}
}
