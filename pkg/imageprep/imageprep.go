// Package imageprep prepares captured frames for the analysis
// backends: decoding raw bytes, downscaling and encoding for model
// submission, and letterboxing into the tensor layout the local ONNX
// detector expects.
package imageprep

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/altSeneca/HH-v0-clean-sub001/pkg/types"
)

// Processor handles image preparation for the analysis backends
type Processor struct{}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{}
}

// DecodeBytes decodes an image from byte data with WebP fallback
func (p *Processor) DecodeBytes(data []byte) (image.Image, error) {
	reader := bytes.NewReader(data)
	if img, _, err := image.Decode(reader); err == nil {
		return img, nil
	}

	reader = bytes.NewReader(data)
	if img, err := webp.Decode(reader); err == nil {
		return img, nil
	}

	return nil, fmt.Errorf("image: unknown or unsupported format")
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return p.DecodeBytes(data)
}

// LoadImageFromURL downloads and loads an image from a URL
func (p *Processor) LoadImageFromURL(imageURL string) (image.Image, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	client := &http.Client{Timeout: 30 * time.Second}

	req, err := http.NewRequest("GET", imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("User-Agent", "HazardAnalysis/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	imageData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %v", err)
	}

	return p.DecodeBytes(imageData)
}

// LoadImageSmart loads an image from either a file path or URL
func (p *Processor) LoadImageSmart(source string) (image.Image, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return p.LoadImageFromURL(source)
	}
	return p.LoadImage(source)
}

// ToInput converts a decoded image into the pipeline input type,
// re-encoding the pixels as JPEG for backend submission.
func (p *Processor) ToInput(img image.Image, capturedAt time.Time) (types.Image, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return types.Image{}, fmt.Errorf("failed to encode image: %w", err)
	}
	b := img.Bounds()
	return types.Image{
		Data:       buf.Bytes(),
		Width:      b.Dx(),
		Height:     b.Dy(),
		CapturedAt: capturedAt,
	}, nil
}

// EncodeBase64 converts an image to base64 for sending to vision
// models, downscaling the long side to maxDim first when set.
func (p *Processor) EncodeBase64(img image.Image, format string, maxDim, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return "", err
		}
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Letterbox is an image fitted onto a square canvas for detector
// input, with the mapping needed to project boxes back onto the
// original frame.
type Letterbox struct {
	Tensor []float32 // CHW, RGB, [0,1]
	Size   int
	Scale  float64
	PadX   float64
	PadY   float64
	SrcW   int
	SrcH   int
}

// LetterboxTensor fits an image onto a size x size gray canvas
// preserving aspect ratio, and converts it into a CHW float32 tensor.
func (p *Processor) LetterboxTensor(img image.Image, size int) *Letterbox {
	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()

	scale := float64(size) / float64(srcW)
	if s := float64(size) / float64(srcH); s < scale {
		scale = s
	}
	if scale > 1 {
		scale = 1
	}

	fitted := imaging.Fit(img, size, size, imaging.Lanczos)
	canvas := imaging.New(size, size, color.NRGBA{114, 114, 114, 255})
	canvas = imaging.PasteCenter(canvas, fitted)

	fw, fh := fitted.Bounds().Dx(), fitted.Bounds().Dy()
	padX := float64(size-fw) / 2
	padY := float64(size-fh) / 2

	tensor := make([]float32, 3*size*size)
	plane := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := canvas.PixOffset(x, y)
			idx := y*size + x
			tensor[idx] = float32(canvas.Pix[i]) / 255.0
			tensor[plane+idx] = float32(canvas.Pix[i+1]) / 255.0
			tensor[2*plane+idx] = float32(canvas.Pix[i+2]) / 255.0
		}
	}

	return &Letterbox{
		Tensor: tensor,
		Size:   size,
		Scale:  scale,
		PadX:   padX,
		PadY:   padY,
		SrcW:   srcW,
		SrcH:   srcH,
	}
}

// ToNormalized maps a center-form box in letterbox pixel coordinates
// back onto the original frame as a normalized box.
func (l *Letterbox) ToNormalized(cx, cy, w, h float64) types.Box {
	x0 := ((cx - w/2) - l.PadX) / l.Scale
	y0 := ((cy - h/2) - l.PadY) / l.Scale
	bw := w / l.Scale
	bh := h / l.Scale

	return types.Box{
		X: x0 / float64(l.SrcW),
		Y: y0 / float64(l.SrcH),
		W: bw / float64(l.SrcW),
		H: bh / float64(l.SrcH),
	}.Clamp()
}
