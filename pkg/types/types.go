package types

import "time"

// Box represents a normalized bounding region with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Area returns the normalized area of the box
func (b Box) Area() float64 {
	if b.W <= 0 || b.H <= 0 {
		return 0
	}
	return b.W * b.H
}

// Clamp returns the box constrained to the [0,1] coordinate space
func (b Box) Clamp() Box {
	x0 := clamp(b.X, 0, 1)
	y0 := clamp(b.Y, 0, 1)
	x1 := clamp(b.X+b.W, 0, 1)
	y1 := clamp(b.Y+b.H, 0, 1)
	return Box{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// IoU returns the intersection-over-union of two boxes.
// Overlapping regions reported by different backends are treated as
// the same physical hazard when the IoU clears the fusion threshold.
func (b Box) IoU(o Box) float64 {
	ix0 := max(b.X, o.X)
	iy0 := max(b.Y, o.Y)
	ix1 := min(b.X+b.W, o.X+o.W)
	iy1 := min(b.Y+b.H, o.Y+o.H)

	if ix1 <= ix0 || iy1 <= iy0 {
		return 0
	}

	inter := (ix1 - ix0) * (iy1 - iy0)
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Severity ranks how dangerous a hazard type is considered
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the lowercase severity name
func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityHigh:
		return "high"
	case SeverityMedium:
		return "medium"
	default:
		return "low"
	}
}

// ParseSeverity maps a severity name to its rank, defaulting to medium
func ParseSeverity(name string) Severity {
	switch name {
	case "critical":
		return SeverityCritical
	case "high":
		return SeverityHigh
	case "low":
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// HazardDetection is one backend's raw output identifying a potential
// safety issue. Detections are short-lived: they exist between the
// backend call and fusion, then are discarded.
type HazardDetection struct {
	Type       string    `json:"type"`
	Confidence float64   `json:"confidence"`
	Box        Box       `json:"box"`
	Backend    string    `json:"backend"`
	At         time.Time `json:"at"`
}

// FusedHazard is a hazard believed to represent the same physical
// condition, merged across one or more backend detections. It persists
// for the lifetime of the analysis session.
type FusedHazard struct {
	Type       string   `json:"type"`
	Confidence float64  `json:"confidence"`
	Severity   Severity `json:"severity"`
	Box        Box      `json:"box"`
	Sources    []string `json:"sources"`
}

// Image is a captured or streamed frame handed to the analysis
// pipeline, with the capture metadata the backends may use.
type Image struct {
	Data       []byte
	Width      int
	Height     int
	CapturedAt time.Time
	Latitude   *float64
	Longitude  *float64
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
