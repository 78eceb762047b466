// Package render draws annotated and heatmap overlays for a page.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/fogleman/gg"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/entity"
)

// DefaultOpacity is the heatmap blend weight where the field is non-zero.
const DefaultOpacity = 0.6

// qrWeight is the heat contributed by each decoded QR polygon.
const qrWeight = 0.9

var labelColors = map[string]color.RGBA{
	constants.LabelSignature: {R: 0, G: 200, B: 0, A: 255},
	constants.LabelStamp:     {R: 0, G: 64, B: 255, A: 255},
	constants.LabelQR:        {R: 255, G: 128, B: 0, A: 255},
}

var fallbackColor = color.RGBA{R: 255, G: 200, B: 0, A: 255}

// Renderer produces the two overlay images of a page.
// Output depends only on the inputs.
type Renderer struct {
	opacity float64
	heatmap bool
	palette [256]color.RGBA
	logger  *slog.Logger
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithOpacity sets the heatmap blend weight in [0, 1].
func WithOpacity(a float64) Option {
	return func(r *Renderer) { r.opacity = a }
}

// WithHeatmap toggles heatmap generation. When off Render returns a nil heatmap.
func WithHeatmap(enabled bool) Option {
	return func(r *Renderer) { r.heatmap = enabled }
}

func NewRenderer(logger *slog.Logger, opts ...Option) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Renderer{
		opacity: DefaultOpacity,
		heatmap: true,
		palette: buildPalette(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render returns the annotated page and, when enabled, the heatmap.
// Neither output aliases src.
func (r *Renderer) Render(src image.Image, dets []entity.Detection, qrs []entity.QRDetection) (annotated, heat image.Image, err error) {
	if src == nil || src.Bounds().Empty() {
		return nil, nil, errors.New("render: empty source image")
	}
	base := toRGBA(src)
	annotated = r.annotate(base, dets, qrs)
	if r.heatmap {
		heat = r.Heatmap(base, dets, qrs)
	}
	return annotated, heat, nil
}

func (r *Renderer) annotate(base *image.RGBA, dets []entity.Detection, qrs []entity.QRDetection) image.Image {
	dc := gg.NewContextForRGBA(cloneRGBA(base))
	dc.SetLineWidth(2)

	for _, d := range dets {
		c := colorFor(d.Label)
		dc.SetColor(c)
		x1, y1 := float64(d.BBox[0]), float64(d.BBox[1])
		dc.DrawRectangle(x1, y1, float64(d.BBox.Width()), float64(d.BBox.Height()))
		dc.Stroke()
		drawCaption(dc, detectionCaption(d), x1, y1, c)
	}

	qrColor := colorFor(constants.LabelQR)
	for _, q := range qrs {
		if len(q.Polygon) < 3 {
			continue
		}
		dc.SetColor(qrColor)
		dc.MoveTo(float64(q.Polygon[0][0]), float64(q.Polygon[0][1]))
		for _, p := range q.Polygon[1:] {
			dc.LineTo(float64(p[0]), float64(p[1]))
		}
		dc.ClosePath()
		dc.Stroke()
		b := q.Bounds()
		drawCaption(dc, qrCaption(q), float64(b[0]), float64(b[1]), qrColor)
	}
	return dc.Image()
}

const maxQRCaption = 32

func detectionCaption(d entity.Detection) string {
	return fmt.Sprintf("%s %.0f%%", d.Label, d.Confidence*100)
}

// qrCaption is the decoded payload, cut to maxQRCaption runes. Empty payloads fall back to "QR".
func qrCaption(q entity.QRDetection) string {
	text := strings.Join(strings.Fields(q.Text), " ")
	if text == "" {
		return "QR"
	}
	if utf8.RuneCountInString(text) <= maxQRCaption {
		return text
	}
	r := []rune(text)
	return string(r[:maxQRCaption-3]) + "..."
}

// drawCaption writes text above (x, y), or just inside the box when there is no room.
func drawCaption(dc *gg.Context, text string, x, y float64, c color.Color) {
	w, h := dc.MeasureString(text)
	ty := y - 4
	if ty-h < 0 {
		ty = y + h + 2
	}
	dc.SetColor(color.RGBA{A: 160})
	dc.DrawRectangle(x, ty-h-1, w+4, h+3)
	dc.Fill()
	dc.SetColor(c)
	dc.DrawString(text, x+2, ty)
}

func colorFor(label string) color.RGBA {
	if c, ok := labelColors[label]; ok {
		return c
	}
	return fallbackColor
}

func toRGBA(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Rect)
	copy(dst.Pix, src.Pix)
	return dst
}

// EncodePNG serializes img with fixed settings so equal images give equal bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, errors.Wrap(err, "encode png")
	}
	return buf.Bytes(), nil
}
