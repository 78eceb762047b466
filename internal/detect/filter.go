package detect

import (
	"math"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/entity"
)

// Signatures drawn inside a stamp are usually part of the stamp artwork.
const (
	signatureCoverageMax = 0.9
	signatureIoUMax      = 0.6
)

// QR geometry bounds applied when strict filtering is on.
const (
	qrMinTextLength = 4
	qrMinSidePx     = 48
	qrMinAreaRatio  = 1e-3
	qrMaxAreaRatio  = 3e-2
	qrAspectMin     = 0.7
	qrAspectMax     = 1.3
	qrEdgeRatioMax  = 1.25
)

// clampBox fits b inside a w x h page and orders its corners.
// ok is false when nothing of the box is left.
func clampBox(b entity.BBox, w, h int) (entity.BBox, bool) {
	x1, y1, x2, y2 := b[0], b[1], b[2], b[3]
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	x1 = clamp(x1, 0, w-1)
	x2 = clamp(x2, 0, w-1)
	y1 = clamp(y1, 0, h-1)
	y2 = clamp(y2, 0, h-1)
	if x2 <= x1 || y2 <= y1 {
		return entity.BBox{}, false
	}
	return entity.BBox{x1, y1, x2, y2}, true
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	return max(lo, min(v, hi))
}

func intersectionArea(a, b entity.BBox) float64 {
	w := min(a[2], b[2]) - max(a[0], b[0])
	h := min(a[3], b[3]) - max(a[1], b[1])
	if w <= 0 || h <= 0 {
		return 0
	}
	return float64(w) * float64(h)
}

// suppressSignaturesInStamps drops signatures mostly covered by a stamp.
func suppressSignaturesInStamps(dets []entity.Detection) []entity.Detection {
	var stamps []entity.BBox
	for _, d := range dets {
		if d.Label == constants.LabelStamp {
			stamps = append(stamps, d.BBox)
		}
	}
	if len(stamps) == 0 {
		return dets
	}
	out := dets[:0:0]
	for _, d := range dets {
		if d.Label == constants.LabelSignature && insideAnyStamp(d.BBox, stamps) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func insideAnyStamp(sig entity.BBox, stamps []entity.BBox) bool {
	sigArea := sig.Area()
	if sigArea == 0 {
		return false
	}
	for _, st := range stamps {
		inter := intersectionArea(sig, st)
		if inter == 0 {
			continue
		}
		if inter/sigArea >= signatureCoverageMax {
			return true
		}
		if union := sigArea + st.Area() - inter; union > 0 && inter/union >= signatureIoUMax {
			return true
		}
	}
	return false
}

// plausibleQR rejects decodes whose geometry does not look like a printed QR code.
func plausibleQR(q entity.QRDetection, pageW, pageH int) bool {
	if len([]rune(q.Text)) < qrMinTextLength || len(q.Polygon) < 3 {
		return false
	}
	b := q.Bounds()
	w, h := float64(b.Width()), float64(b.Height())
	if w <= 0 || h <= 0 || w < qrMinSidePx || h < qrMinSidePx {
		return false
	}
	ratio := w * h / math.Max(1, float64(pageW)*float64(pageH))
	if ratio < qrMinAreaRatio || ratio > qrMaxAreaRatio {
		return false
	}
	if aspect := w / h; aspect < qrAspectMin || aspect > qrAspectMax {
		return false
	}
	minEdge, maxEdge := math.Inf(1), 0.0
	for i, p := range q.Polygon {
		n := q.Polygon[(i+1)%len(q.Polygon)]
		e := math.Hypot(float64(p[0]-n[0]), float64(p[1]-n[1]))
		minEdge = math.Min(minEdge, e)
		maxEdge = math.Max(maxEdge, e)
	}
	return minEdge > 0 && maxEdge/minEdge <= qrEdgeRatioMax
}
