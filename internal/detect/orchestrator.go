package detect

import (
	"context"
	"image"
	"log/slog"
	"math"

	"github.com/cockroachdb/errors"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/entity"
)

// DefaultMinConfidence is the floor below which model output is discarded.
const DefaultMinConfidence = 0.25

// qrCropMargin widens model QR boxes before decoding so the quiet zone survives.
const qrCropMargin = 0.15

// Analysis is the normalized outcome for one page.
type Analysis struct {
	Detections []entity.Detection
	QRCodes    []entity.QRDetection
}

// Orchestrator runs the model and the QR decoder on a page and normalizes
// the combined output.
type Orchestrator struct {
	detector      Detector
	qr            QRDecoder
	minConfidence float64
	qrStrict      bool
	logger        *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMinConfidence sets the detection floor.
func WithMinConfidence(c float64) Option {
	return func(o *Orchestrator) { o.minConfidence = c }
}

// WithQRStrict enables geometric plausibility checks on decoded QR codes.
func WithQRStrict(strict bool) Option {
	return func(o *Orchestrator) { o.qrStrict = strict }
}

// NewOrchestrator wires a detector and a QR decoder. qr may be nil.
func NewOrchestrator(detector Detector, qr QRDecoder, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		detector:      detector,
		qr:            qr,
		minConfidence: DefaultMinConfidence,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Analyze detects signatures, stamps and QR regions on img and decodes QR codes.
// It fails only when the model backend fails.
func (o *Orchestrator) Analyze(ctx context.Context, img image.Image) (Analysis, error) {
	if o.detector == nil {
		return Analysis{}, errors.Mark(errors.New("no detector configured"), ErrSystemic)
	}
	raw, err := o.detector.Detect(ctx, img)
	if err != nil {
		return Analysis{}, errors.Wrap(err, "detect")
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	dets := make([]entity.Detection, 0, len(raw))
	for _, d := range raw {
		if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
			o.logger.Warn("detect.invalid_confidence", "label", d.Label, "confidence", d.Confidence)
			continue
		}
		if d.Confidence < o.minConfidence {
			continue
		}
		box, ok := clampBox(d.BBox, w, h)
		if !ok {
			continue
		}
		dets = append(dets, entity.Detection{
			Label:      constants.CanonicalLabel(d.Label),
			Confidence: d.Confidence,
			BBox:       box,
		})
	}
	dets = suppressSignaturesInStamps(dets)

	return Analysis{Detections: dets, QRCodes: o.decodeQR(img, dets)}, nil
}

// decodeQR reads the whole page first, then each model QR box that the
// page-level pass did not already cover.
func (o *Orchestrator) decodeQR(img image.Image, dets []entity.Detection) []entity.QRDetection {
	if o.qr == nil {
		return []entity.QRDetection{}
	}
	b := img.Bounds()
	out := []entity.QRDetection{}
	seen := map[string]bool{}
	add := func(qs []entity.QRDetection) {
		for _, q := range qs {
			if q.Text == "" || seen[q.Text] || len(q.Polygon) < 3 {
				continue
			}
			if o.qrStrict && !plausibleQR(q, b.Dx(), b.Dy()) {
				continue
			}
			seen[q.Text] = true
			out = append(out, q)
		}
	}

	page, err := o.qr.Decode(img)
	if err != nil {
		o.logger.Warn("detect.qr.page_decode_failed", "error", err)
	}
	add(page)

	for _, d := range dets {
		if d.Label != constants.LabelQR {
			continue
		}
		mx := int(float64(d.BBox.Width()) * qrCropMargin)
		my := int(float64(d.BBox.Height()) * qrCropMargin)
		r := image.Rect(d.BBox[0]-mx, d.BBox[1]-my, d.BBox[2]+mx, d.BBox[3]+my).Add(b.Min).Intersect(b)
		if r.Empty() {
			continue
		}
		region, err := o.qr.Decode(cropRGBA(img, r))
		if err != nil {
			o.logger.Warn("detect.qr.region_decode_failed", "bbox", d.BBox, "error", err)
			continue
		}
		for i := range region {
			for j, p := range region[i].Polygon {
				region[i].Polygon[j] = entity.Point{p[0] + r.Min.X - b.Min.X, p[1] + r.Min.Y - b.Min.Y}
			}
		}
		add(region)
	}
	return out
}
