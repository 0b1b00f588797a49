// Package hazardanalysis analyzes construction-site photos and video
// frames for safety hazards.
//
// It coordinates one or more independent analysis backends (an
// on-device multimodal model served by Ollama, a lightweight local
// ONNX detector, and a remote vision service), fuses their
// overlapping detections into a single confidence-ranked hazard list,
// and translates that list into compliance-tag recommendations.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		hazardanalysis "github.com/altSeneca/HH-v0-clean-sub001"
//	)
//
//	func main() {
//		analyzer, err := hazardanalysis.New()
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		img, err := analyzer.LoadPhoto("site.jpg")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		session, err := analyzer.SubmitPhoto(context.Background(), img)
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		for _, hz := range session.FusedHazards() {
//			fmt.Printf("%s (%.0f%%, %s)\n", hz.Type, hz.Confidence*100, hz.Severity)
//		}
//		fmt.Println("auto-selected tags:", session.AutoSelectTags())
//	}
//
// The package consists of five main components:
//
//  1. Backends (pkg/backend): adapters wrapping each analysis engine
//     behind a uniform contract with classified failures
//  2. Fusion (pkg/fusion): merges overlapping detections across
//     backends with confidence weighting and agreement boosting
//  3. Recommendation (pkg/recommend): maps fused hazards to
//     compliance tags via the hazard taxonomy (pkg/taxonomy)
//  4. Throttling (pkg/throttle): caps streaming submission rate
//     independently of display refresh
//  5. Orchestration (pkg/orchestrator): backend selection, hybrid
//     concurrency, retry/fallback, and the session state machine
package hazardanalysis

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/altSeneca/HH-v0-clean-sub001/internal/config"
	"github.com/altSeneca/HH-v0-clean-sub001/pkg/backend"
	"github.com/altSeneca/HH-v0-clean-sub001/pkg/fusion"
	"github.com/altSeneca/HH-v0-clean-sub001/pkg/imageprep"
	"github.com/altSeneca/HH-v0-clean-sub001/pkg/orchestrator"
	"github.com/altSeneca/HH-v0-clean-sub001/pkg/recommend"
	"github.com/altSeneca/HH-v0-clean-sub001/pkg/taxonomy"
	"github.com/altSeneca/HH-v0-clean-sub001/pkg/throttle"
	"github.com/altSeneca/HH-v0-clean-sub001/pkg/types"
)

// Version of the hazard analysis library
const Version = "1.0.0"

// Analyzer provides a high-level interface for hazard analysis
type Analyzer struct {
	cfg      *config.Config
	taxonomy *taxonomy.Taxonomy
	orch     *orchestrator.Orchestrator
	proc     *imageprep.Processor
}

// New creates an Analyzer with the default configuration
func New() (*Analyzer, error) {
	return NewWithConfig(config.Default())
}

// NewWithConfig creates an Analyzer from an explicit configuration
func NewWithConfig(cfg *config.Config) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	tax := taxonomy.Default()
	if cfg.TaxonomyPath != "" {
		loaded, err := taxonomy.LoadFromFile(cfg.TaxonomyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load taxonomy: %w", err)
		}
		tax = loaded
	}

	backends, err := buildBackends(cfg, tax)
	if err != nil {
		return nil, err
	}

	fusionEngine := fusion.NewWithConfig(fusion.Config{
		IoUThreshold:   cfg.Fusion.IoUThreshold,
		Weights:        cfg.Fusion.Weights,
		AgreementBoost: cfg.Fusion.AgreementBoost,
		SeverityOf:     tax.Severity,
	})

	recommender := recommend.NewWithConfig(tax, recommend.Config{
		AutoSelectThreshold: cfg.Recommend.AutoSelectThreshold,
		DisplayThreshold:    cfg.Recommend.DisplayThreshold,
	})

	health := orchestrator.NewHealthTrackerWith(
		cfg.Orchestrator.HealthWindow,
		time.Duration(cfg.Orchestrator.HealthCooldownMs)*time.Millisecond,
	)
	if cfg.Orchestrator.HealthFile != "" {
		if err := health.Load(cfg.Orchestrator.HealthFile); err != nil {
			return nil, err
		}
	}

	orch := orchestrator.New(orchestrator.Options{
		Backends:     backends,
		Fusion:       fusionEngine,
		Recommender:  recommender,
		Throttler:    throttle.NewWithInterval(time.Duration(cfg.Throttle.MinIntervalMs) * time.Millisecond),
		Health:       health,
		Hybrid:       cfg.Orchestrator.Hybrid,
		RetryTimeout: time.Duration(cfg.Orchestrator.RetryTimeoutMs) * time.Millisecond,
	})

	return &Analyzer{
		cfg:      cfg,
		taxonomy: tax,
		orch:     orch,
		proc:     imageprep.NewProcessor(),
	}, nil
}

// buildBackends constructs the enabled backend adapters in preference order
func buildBackends(cfg *config.Config, tax *taxonomy.Taxonomy) ([]backend.Backend, error) {
	hazards := tax.HazardTypes()

	var backends []backend.Backend
	if cfg.Backends.Ollama.Enabled {
		b, err := backend.NewOllama(backend.OllamaConfig{
			URL:     cfg.Backends.Ollama.URL,
			Model:   cfg.Backends.Ollama.Model,
			Timeout: time.Duration(cfg.Backends.Ollama.TimeoutMs) * time.Millisecond,
			Hazards: hazards,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama backend: %w", err)
		}
		backends = append(backends, b)
	}

	if cfg.Backends.Remote.Enabled {
		backends = append(backends, backend.NewRemote(backend.RemoteConfig{
			BaseURL:       cfg.Backends.Remote.BaseURL,
			APIKey:        os.Getenv(cfg.Backends.Remote.APIKeyEnv),
			Timeout:       time.Duration(cfg.Backends.Remote.TimeoutMs) * time.Millisecond,
			MaxConcurrent: int64(cfg.Backends.Remote.MaxConcurrent),
			MaxDim:        cfg.Backends.Remote.MaxDim,
			Hazards:       hazards,
		}))
	}

	if cfg.Backends.ONNX.Enabled {
		backends = append(backends, backend.NewONNX(backend.ONNXConfig{
			BundleDir:      cfg.Backends.ONNX.BundleDir,
			InputSize:      cfg.Backends.ONNX.InputSize,
			ScoreThreshold: float32(cfg.Backends.ONNX.ScoreThreshold),
			NMSThreshold:   cfg.Backends.ONNX.NMSThreshold,
			Timeout:        time.Duration(cfg.Backends.ONNX.TimeoutMs) * time.Millisecond,
		}))
	}

	return backends, nil
}

// Taxonomy returns the loaded hazard taxonomy
func (a *Analyzer) Taxonomy() *taxonomy.Taxonomy { return a.taxonomy }

// Orchestrator exposes the underlying coordinator for advanced use
func (a *Analyzer) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// LoadPhoto loads an image file or URL into the pipeline input type
func (a *Analyzer) LoadPhoto(source string) (types.Image, error) {
	img, err := a.proc.LoadImageSmart(source)
	if err != nil {
		return types.Image{}, fmt.Errorf("failed to load image: %w", err)
	}
	return a.proc.ToInput(img, time.Now())
}

// SubmitPhoto analyzes a captured photo, always running to completion
// or failure
func (a *Analyzer) SubmitPhoto(ctx context.Context, img types.Image) (*orchestrator.AnalysisSession, error) {
	return a.orch.SubmitPhoto(ctx, img)
}

// SubmitFrame submits one streaming frame; nil means the frame was
// throttled and dropped
func (a *Analyzer) SubmitFrame(ctx context.Context, img types.Image) *orchestrator.AnalysisSession {
	return a.orch.SubmitFrame(ctx, img)
}

// SaveHealth persists backend reliability records when a health file
// is configured
func (a *Analyzer) SaveHealth() error {
	if a.cfg.Orchestrator.HealthFile == "" {
		return nil
	}
	return a.orch.Health().Save(a.cfg.Orchestrator.HealthFile)
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
