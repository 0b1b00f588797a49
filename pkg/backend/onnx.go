package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/altSeneca/HH-v0-clean-sub001/pkg/imageprep"
	"github.com/altSeneca/HH-v0-clean-sub001/pkg/types"
)

// ONNXConfig configures the lightweight local detector adapter
type ONNXConfig struct {
	// BundleDir holds model.onnx and label_map.json
	BundleDir string
	// InputSize is the square detector input, default 640
	InputSize int
	// ScoreThreshold drops low-confidence rows, default 0.25
	ScoreThreshold float32
	// NMSThreshold is the IoU above which same-class boxes are merged, default 0.45
	NMSThreshold float64
	Timeout      time.Duration
}

// ONNXBackend runs a YOLO-style PPE/hazard detector through
// onnxruntime. It is the degraded-capability fallback tier: fast and
// always local, but limited to the classes the small model was
// trained on.
type ONNXBackend struct {
	id  string
	cfg ONNXConfig

	proc *imageprep.Processor

	// mu guards the session and its preallocated tensors; at most one
	// local inference runs at a time
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	labels  []string
	loadErr error
}

// NewONNX creates the lightweight detector adapter. A model that
// fails to load does not fail construction: the adapter reports
// ModelNotLoaded from Analyze and can be reloaded via Warmup.
func NewONNX(cfg ONNXConfig) *ONNXBackend {
	if cfg.InputSize <= 0 {
		cfg.InputSize = 640
	}
	if cfg.ScoreThreshold <= 0 {
		cfg.ScoreThreshold = 0.25
	}
	if cfg.NMSThreshold <= 0 {
		cfg.NMSThreshold = 0.45
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 1 * time.Second
	}

	b := &ONNXBackend{
		id:   "onnx-lite",
		cfg:  cfg,
		proc: imageprep.NewProcessor(),
	}
	b.loadErr = b.load()
	return b
}

// load initializes the ONNX session, labels, and preallocated tensors
func (b *ONNXBackend) load() error {
	modelPath := filepath.Join(b.cfg.BundleDir, "model.onnx")
	labelsPath := filepath.Join(b.cfg.BundleDir, "label_map.json")

	if _, err := os.Stat(modelPath); err != nil {
		return fmt.Errorf("model file missing at %s: %w", modelPath, err)
	}

	labels, err := loadLabels(labelsPath)
	if err != nil {
		return fmt.Errorf("load labels: %w", err)
	}

	if lib := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); lib != "" {
		ort.SetSharedLibraryPath(lib)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}

	size := int64(b.cfg.InputSize)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return fmt.Errorf("allocate input tensor: %w", err)
	}

	// YOLOv8 output layout: [1, 4+numClasses, anchors]
	anchors := int64(8400)
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+len(labels)), anchors))
	if err != nil {
		input.Destroy()
		return fmt.Errorf("allocate output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.Value{input},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return fmt.Errorf("create onnx session: %w", err)
	}

	b.mu.Lock()
	b.session = session
	b.input = input
	b.output = output
	b.labels = labels
	b.mu.Unlock()
	return nil
}

// loadLabels reads the class index to hazard type mapping
func loadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var labels []string
	if err := json.Unmarshal(data, &labels); err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("label map is empty")
	}
	return labels, nil
}

// ID implements Backend
func (b *ONNXBackend) ID() string { return b.id }

// Cost implements Backend
func (b *ONNXBackend) Cost() CostClass { return LocalFree }

// Capabilities implements Backend
func (b *ONNXBackend) Capabilities() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.labels...)
}

// Available implements Backend
func (b *ONNXBackend) Available(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session != nil
}

// Warmup retries the model load after an earlier failure. It runs on
// a background goroutine concurrently with Analyze, so the load error
// is only ever touched under the mutex.
func (b *ONNXBackend) Warmup(ctx context.Context) error {
	b.mu.Lock()
	loaded := b.session != nil
	b.mu.Unlock()
	if loaded {
		return nil
	}

	err := b.load()
	b.mu.Lock()
	b.loadErr = err
	b.mu.Unlock()
	return err
}

// Close releases the ONNX session and tensors
func (b *ONNXBackend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		b.session.Destroy()
		b.session = nil
	}
	if b.input != nil {
		b.input.Destroy()
		b.input = nil
	}
	if b.output != nil {
		b.output.Destroy()
		b.output = nil
	}
}

// Analyze implements Backend
func (b *ONNXBackend) Analyze(ctx context.Context, img types.Image) ([]types.HazardDetection, error) {
	if len(img.Data) == 0 {
		return nil, NewError(KindMalformedInput, b.id, fmt.Errorf("empty image"))
	}

	decoded, err := b.proc.DecodeBytes(img.Data)
	if err != nil {
		return nil, NewError(KindMalformedInput, b.id, err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return nil, NewError(KindModelNotLoaded, b.id, b.loadErr)
	}

	// The slot queue above us bounds the wait; re-check the deadline
	// before committing to the run.
	if err := ctx.Err(); err != nil {
		if cerr := classifyCtxErr(ctx, b.id, err); cerr != nil {
			return nil, cerr
		}
	}

	lb := b.proc.LetterboxTensor(decoded, b.cfg.InputSize)
	copy(b.input.GetData(), lb.Tensor)

	if err := b.session.Run(); err != nil {
		return nil, NewError(KindUnavailable, b.id, fmt.Errorf("onnx run: %w", err))
	}

	return b.decode(lb, img.CapturedAt), nil
}

// candidate is one thresholded detector row before NMS
type candidate struct {
	box   types.Box
	score float64
	class int
}

// decode converts the raw YOLO output tensor into hazard detections,
// applying the score threshold and per-class greedy NMS
func (b *ONNXBackend) decode(lb *imageprep.Letterbox, at time.Time) []types.HazardDetection {
	raw := b.output.GetData()
	nc := len(b.labels)
	anchors := len(raw) / (4 + nc)
	if anchors == 0 {
		return nil
	}

	var cands []candidate
	for j := 0; j < anchors; j++ {
		bestClass := -1
		bestScore := float32(0)
		for c := 0; c < nc; c++ {
			if s := raw[(4+c)*anchors+j]; s > bestScore {
				bestScore = s
				bestClass = c
			}
		}
		if bestClass < 0 || bestScore < b.cfg.ScoreThreshold {
			continue
		}

		cx := float64(raw[0*anchors+j])
		cy := float64(raw[1*anchors+j])
		w := float64(raw[2*anchors+j])
		h := float64(raw[3*anchors+j])

		cands = append(cands, candidate{
			box:   lb.ToNormalized(cx, cy, w, h),
			score: float64(bestScore),
			class: bestClass,
		})
	}

	kept := nonMaxSuppress(cands, b.cfg.NMSThreshold)

	out := make([]types.HazardDetection, 0, len(kept))
	for _, c := range kept {
		out = append(out, types.HazardDetection{
			Type:       b.labels[c.class],
			Confidence: c.score,
			Box:        c.box,
			Backend:    b.id,
			At:         at,
		})
	}
	return out
}

// nonMaxSuppress keeps the highest-scoring box per overlapping
// same-class group
func nonMaxSuppress(cands []candidate, iouThreshold float64) []candidate {
	sort.Slice(cands, func(i, j int) bool { return cands[i].score > cands[j].score })

	var kept []candidate
	for _, c := range cands {
		suppressed := false
		for _, k := range kept {
			if k.class == c.class && k.box.IoU(c.box) >= iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, c)
		}
	}
	return kept
}
