package types

import (
	"math"
	"testing"
)

func TestBoxIoU(t *testing.T) {
	tests := []struct {
		name string
		a, b Box
		want float64
	}{
		{
			"identical",
			Box{X: 0.1, Y: 0.1, W: 0.4, H: 0.4},
			Box{X: 0.1, Y: 0.1, W: 0.4, H: 0.4},
			1.0,
		},
		{
			"disjoint",
			Box{X: 0.0, Y: 0.0, W: 0.2, H: 0.2},
			Box{X: 0.7, Y: 0.7, W: 0.2, H: 0.2},
			0.0,
		},
		{
			"touching edges",
			Box{X: 0.0, Y: 0.0, W: 0.5, H: 0.5},
			Box{X: 0.5, Y: 0.0, W: 0.5, H: 0.5},
			0.0,
		},
		{
			"half overlap",
			Box{X: 0.0, Y: 0.0, W: 0.2, H: 0.2},
			Box{X: 0.1, Y: 0.0, W: 0.2, H: 0.2},
			// inter 0.1*0.2=0.02, union 0.04+0.04-0.02=0.06
			1.0 / 3.0,
		},
	}

	for _, tt := range tests {
		got := tt.a.IoU(tt.b)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: IoU = %v, want %v", tt.name, got, tt.want)
		}
		// IoU is symmetric
		if rev := tt.b.IoU(tt.a); math.Abs(rev-got) > 1e-9 {
			t.Errorf("%s: IoU not symmetric: %v vs %v", tt.name, got, rev)
		}
	}
}

func TestBoxClamp(t *testing.T) {
	b := Box{X: -0.2, Y: 0.9, W: 0.5, H: 0.5}.Clamp()

	if b.X != 0 {
		t.Errorf("X = %v, want 0", b.X)
	}
	if b.X+b.W > 1+1e-9 || b.Y+b.H > 1+1e-9 {
		t.Errorf("clamped box exceeds unit square: %+v", b)
	}
	if b.W < 0 || b.H < 0 {
		t.Errorf("clamped box has negative extent: %+v", b)
	}

	in := Box{X: 0.2, Y: 0.3, W: 0.4, H: 0.5}
	if got := in.Clamp(); got != in {
		t.Errorf("in-range box should be unchanged: %+v", got)
	}
}

func TestBoxArea(t *testing.T) {
	if got := (Box{W: 0.5, H: 0.4}).Area(); math.Abs(got-0.2) > 1e-9 {
		t.Errorf("Area = %v, want 0.2", got)
	}
	if got := (Box{W: -0.1, H: 0.4}).Area(); got != 0 {
		t.Errorf("degenerate box area = %v, want 0", got)
	}
}

func TestSeverityOrdering(t *testing.T) {
	if !(SeverityLow < SeverityMedium && SeverityMedium < SeverityHigh && SeverityHigh < SeverityCritical) {
		t.Fatal("severity ranks must be ordered low < medium < high < critical")
	}
}

func TestParseSeverityRoundTrip(t *testing.T) {
	for _, s := range []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		if got := ParseSeverity(s.String()); got != s {
			t.Errorf("ParseSeverity(%q) = %v, want %v", s.String(), got, s)
		}
	}
	if got := ParseSeverity("bogus"); got != SeverityMedium {
		t.Errorf("unknown severity should default to medium, got %v", got)
	}
}
