package render

import (
	"image"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/joseph-ayodele/docscan/internal/entity"
)

// jet-like ramp from cold to hot.
var heatStops = []colorful.Color{
	{R: 0, G: 0, B: 0.5},
	{R: 0, G: 0, B: 1},
	{R: 0, G: 1, B: 1},
	{R: 1, G: 1, B: 0},
	{R: 1, G: 0, B: 0},
	{R: 0.5, G: 0, B: 0},
}

func buildPalette() [256]color.RGBA {
	var lut [256]color.RGBA
	segments := float64(len(heatStops) - 1)
	for i := range lut {
		t := float64(i) / 255 * segments
		k := int(t)
		if k >= len(heatStops)-1 {
			k = len(heatStops) - 2
		}
		c := heatStops[k].BlendRgb(heatStops[k+1], t-float64(k)).Clamped()
		r, g, b := c.RGB255()
		lut[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return lut
}

// Field accumulates confidence over every pixel covered by a detection box
// and qrWeight over every pixel inside a decoded QR polygon's bounds.
func Field(w, h int, dets []entity.Detection, qrs []entity.QRDetection) []float64 {
	// 2D difference array, then prefix sums.
	diff := make([]float64, (w+1)*(h+1))
	add := func(b entity.BBox, v float64) {
		x1, y1 := max(b[0], 0), max(b[1], 0)
		x2, y2 := min(b[2], w-1), min(b[3], h-1)
		if x2 < x1 || y2 < y1 || v <= 0 {
			return
		}
		stride := w + 1
		diff[y1*stride+x1] += v
		diff[y1*stride+x2+1] -= v
		diff[(y2+1)*stride+x1] -= v
		diff[(y2+1)*stride+x2+1] += v
	}
	for _, d := range dets {
		add(d.BBox, d.Confidence)
	}
	for _, q := range qrs {
		if len(q.Polygon) >= 3 {
			add(q.Bounds(), qrWeight)
		}
	}

	field := make([]float64, w*h)
	stride := w + 1
	for y := 0; y < h; y++ {
		row := 0.0
		for x := 0; x < w; x++ {
			row += diff[y*stride+x]
			v := row
			if y > 0 {
				v += field[(y-1)*w+x]
			}
			field[y*w+x] = v
		}
	}
	return field
}

// Heatmap overlays the normalized field on base. Pixels with no heat keep
// the source value exactly.
func (r *Renderer) Heatmap(base *image.RGBA, dets []entity.Detection, qrs []entity.QRDetection) image.Image {
	b := base.Bounds()
	w, h := b.Dx(), b.Dy()
	out := cloneRGBA(base)

	field := Field(w, h, dets, qrs)
	peak := 0.0
	for _, v := range field {
		peak = max(peak, v)
	}
	if peak <= 0 {
		return out
	}

	a := r.opacity
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := field[y*w+x]
			if v <= 1e-12 {
				continue
			}
			c := r.palette[int(v/peak*255+0.5)]
			i := out.PixOffset(x+b.Min.X, y+b.Min.Y)
			px := out.Pix[i : i+4 : i+4]
			px[0] = blend(px[0], c.R, a)
			px[1] = blend(px[1], c.G, a)
			px[2] = blend(px[2], c.B, a)
			px[3] = 255
		}
	}
	return out
}

func blend(src, over uint8, a float64) uint8 {
	v := float64(src)*(1-a) + float64(over)*a
	return uint8(v + 0.5)
}
