// Package detect turns a page image into normalized detections and
// decoded QR codes.
package detect

import (
	"context"
	"image"

	"github.com/cockroachdb/errors"

	"github.com/joseph-ayodele/docscan/internal/entity"
)

var (
	// ErrBackendUnavailable means the model could not be reached for this page.
	ErrBackendUnavailable = errors.New("detection backend unavailable")
	// ErrSystemic means the backend is misconfigured and no page can succeed.
	ErrSystemic = errors.New("detection backend misconfigured")
	// ErrInvalidResponse means the backend answered with something we cannot use.
	ErrInvalidResponse = errors.New("invalid detection response")
)

// Detector runs the object-detection model on one page.
// Returned detections are raw: labels and boxes are normalized by the Orchestrator.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]entity.Detection, error)
}

// QRDecoder finds and decodes QR codes in an image.
// Finding nothing is not an error.
type QRDecoder interface {
	Decode(img image.Image) ([]entity.QRDetection, error)
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(ctx context.Context, img image.Image) ([]entity.Detection, error)

func (f DetectorFunc) Detect(ctx context.Context, img image.Image) ([]entity.Detection, error) {
	return f(ctx, img)
}
