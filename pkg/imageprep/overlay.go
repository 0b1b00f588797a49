package imageprep

import (
	"image"
	"image/color"
	"math"
	"os"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/altSeneca/HH-v0-clean-sub001/pkg/types"
)

// severityColor maps severity ranks to overlay stroke colors
func severityColor(s types.Severity) color.NRGBA {
	switch s {
	case types.SeverityCritical:
		return color.NRGBA{255, 0, 0, 255}
	case types.SeverityHigh:
		return color.NRGBA{255, 140, 0, 255}
	case types.SeverityMedium:
		return color.NRGBA{255, 204, 0, 255}
	default:
		return color.NRGBA{0, 170, 255, 255}
	}
}

// DrawHazards renders fused hazard boxes onto a copy of the image,
// stroke color keyed by severity. Used by the CLI to produce an
// annotated review image.
func (p *Processor) DrawHazards(img image.Image, hazards []types.FusedHazard) image.Image {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()

	stroke := int(math.Max(2, 0.004*float64(min(w, h)))) // ~0.4% of min side

	// Draw lowest severity first so critical boxes stay on top
	for s := types.SeverityLow; s <= types.SeverityCritical; s++ {
		for _, hz := range hazards {
			if hz.Severity != s {
				continue
			}
			drawBox(nrgba, hz.Box, w, h, severityColor(s), stroke)
		}
	}

	return nrgba
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Quality: float32(quality)}
		return webp.Encode(f, img, opts)
	case "png":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

func boxToPixels(box types.Box, w, h int) (int, int, int, int) {
	b := box.Clamp()
	x0 := int(b.X*float64(w) + 0.5)
	y0 := int(b.Y*float64(h) + 0.5)
	x1 := int((b.X+b.W)*float64(w) + 0.5)
	y1 := int((b.Y+b.H)*float64(h) + 0.5)
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	return x0, y0, x1, y1
}

func drawBox(img *image.NRGBA, box types.Box, w, h int, c color.NRGBA, stroke int) {
	x0, y0, x1, y1 := boxToPixels(box, w, h)
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, c)
		drawHLine(img, y1-1-s, x0, x1, c)
		drawVLine(img, x0+s, y0, y1, c)
		drawVLine(img, x1-1-s, y0, y1, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if x1 > img.Bounds().Dx() {
		x1 = img.Bounds().Dx()
	}
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	if y0 < 0 {
		y0 = 0
	}
	if y1 > img.Bounds().Dy() {
		y1 = img.Bounds().Dy()
	}
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
