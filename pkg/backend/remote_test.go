package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/altSeneca/HH-v0-clean-sub001/pkg/types"
)

func testImage() types.Image {
	return types.Image{
		Data:       []byte{0xFF, 0xD8, 0xFF, 0xE0},
		Width:      1920,
		Height:     1080,
		CapturedAt: time.Now(),
	}
}

func newTestRemote(serverURL string) *RemoteBackend {
	return NewRemote(RemoteConfig{
		BaseURL: serverURL,
		APIKey:  "test-key",
		Timeout: 2 * time.Second,
		Hazards: []string{"MISSING_HARD_HAT", "UNPROTECTED_EDGE"},
	})
}

func TestRemoteAnalyzeSuccess(t *testing.T) {
	var gotAuth string
	var gotReq analyzeRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/analyze" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"hazards": []map[string]any{
				{"type": "missing_hard_hat", "confidence": 0.78, "box": map[string]float64{"x": 0.4, "y": 0.2, "w": 0.2, "h": 0.3}},
			},
		})
	}))
	defer server.Close()

	b := newTestRemote(server.URL)
	dets, err := b.Analyze(context.Background(), testImage())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotReq.Image == "" {
		t.Error("request should carry the base64 image payload")
	}
	if len(gotReq.Categories) != 2 {
		t.Errorf("request should list the hazard categories, got %v", gotReq.Categories)
	}

	if len(dets) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(dets))
	}
	if dets[0].Type != "MISSING_HARD_HAT" {
		t.Errorf("type should be normalized upper case: %s", dets[0].Type)
	}
	if dets[0].Backend != "remote-vision" {
		t.Errorf("backend id not stamped: %s", dets[0].Backend)
	}
}

func TestRemoteStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{http.StatusUnauthorized, KindUnauthorized},
		{http.StatusForbidden, KindUnauthorized},
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusBadRequest, KindMalformedInput},
		{http.StatusUnsupportedMediaType, KindMalformedInput},
		{http.StatusInternalServerError, KindUnavailable},
		{http.StatusBadGateway, KindUnavailable},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		b := newTestRemote(server.URL)
		_, err := b.Analyze(context.Background(), testImage())
		server.Close()

		if err == nil {
			t.Errorf("HTTP %d: expected error", tt.status)
			continue
		}
		if got := KindOf(err); got != tt.want {
			t.Errorf("HTTP %d classified as %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestRemoteTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	b := NewRemote(RemoteConfig{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Timeout: 50 * time.Millisecond,
	})

	_, err := b.Analyze(context.Background(), testImage())
	if KindOf(err) != KindTimeout {
		t.Errorf("slow server should classify as timeout, got %v", err)
	}
}

func TestRemoteCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	b := newTestRemote(server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := b.Analyze(ctx, testImage())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("caller cancellation should surface as context.Canceled, got %v", err)
	}
}

func TestRemoteUnconfigured(t *testing.T) {
	b := NewRemote(RemoteConfig{})

	if b.Available(context.Background()) {
		t.Error("unconfigured adapter should report unavailable")
	}

	_, err := b.Analyze(context.Background(), testImage())
	if KindOf(err) != KindUnavailable {
		t.Errorf("expected unavailable, got %v", err)
	}
}

func TestRemoteEmptyImage(t *testing.T) {
	b := newTestRemote("http://example.invalid")

	_, err := b.Analyze(context.Background(), types.Image{})
	if KindOf(err) != KindMalformedInput {
		t.Errorf("empty image should classify as malformed input, got %v", err)
	}
}

func TestRemoteDownscalesUpload(t *testing.T) {
	var gotReq analyzeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		json.NewEncoder(w).Encode(analyzeResponse{})
	}))
	defer server.Close()

	b := NewRemote(RemoteConfig{
		BaseURL: server.URL,
		APIKey:  "test-key",
		MaxDim:  64,
	})

	src := image.NewRGBA(image.Rect(0, 0, 200, 100))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, nil); err != nil {
		t.Fatal(err)
	}

	_, err := b.Analyze(context.Background(), types.Image{Data: buf.Bytes(), Width: 200, Height: 100, CapturedAt: time.Now()})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(gotReq.Image)
	if err != nil {
		t.Fatalf("payload is not valid base64: %v", err)
	}
	uploaded, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("payload is not a decodable image: %v", err)
	}
	bounds := uploaded.Bounds()
	if bounds.Dx() != 64 || bounds.Dy() != 32 {
		t.Errorf("uploaded image is %dx%d, want the long side capped at 64", bounds.Dx(), bounds.Dy())
	}
}

func TestRemoteSendsUndecodableBytesAsIs(t *testing.T) {
	var gotReq analyzeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		json.NewEncoder(w).Encode(analyzeResponse{})
	}))
	defer server.Close()

	b := newTestRemote(server.URL)

	img := testImage()
	if _, err := b.Analyze(context.Background(), img); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	// Bytes this process cannot decode still go up; the service may
	// handle formats we do not
	if want := base64.StdEncoding.EncodeToString(img.Data); gotReq.Image != want {
		t.Errorf("undecodable frame should be uploaded unmodified")
	}
}

func TestRemoteShorterRetryDeadline(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(analyzeResponse{})
	}))
	defer server.Close()

	b := newTestRemote(server.URL)

	dets, err := b.AnalyzeWithTimeout(context.Background(), testImage(), 500*time.Millisecond)
	if err != nil {
		t.Fatalf("AnalyzeWithTimeout failed: %v", err)
	}
	if len(dets) != 0 {
		t.Errorf("expected empty detections, got %d", len(dets))
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 call, got %d", calls)
	}
}
