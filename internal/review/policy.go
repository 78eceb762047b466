// Package review decides which pages need a human look and folds pages
// into the document summary.
package review

import (
	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/entity"
)

const (
	DefaultLowConfidence    = 0.5
	DefaultDisplayThreshold = 0.35
)

// Policy holds the thresholds used by Classify and Summarize.
type Policy struct {
	// LowConfidence: any detection below it flags the page for review.
	LowConfidence float64
	// DisplayThreshold: minimum confidence for a class to count in the summary.
	DisplayThreshold float64
	// TreatEmptyAsClear leaves pages with no evidence at all unflagged.
	TreatEmptyAsClear bool
}

// DefaultPolicy returns the production thresholds.
func DefaultPolicy() Policy {
	return Policy{
		LowConfidence:     DefaultLowConfidence,
		DisplayThreshold:  DefaultDisplayThreshold,
		TreatEmptyAsClear: true,
	}
}

// Classify reports whether a page needs human review. It is a pure
// function of its inputs.
func (p Policy) Classify(dets []entity.Detection, qrs []entity.QRDetection) bool {
	if len(dets) == 0 && len(qrs) == 0 {
		return !p.TreatEmptyAsClear
	}
	for _, d := range dets {
		if d.Confidence < p.LowConfidence {
			return true
		}
	}
	// A QR region the model saw but that no decoded code overlaps.
	for _, d := range dets {
		if d.Label != constants.LabelQR {
			continue
		}
		if !decodedInside(d.BBox, qrs) {
			return true
		}
	}
	return false
}

func decodedInside(box entity.BBox, qrs []entity.QRDetection) bool {
	for _, q := range qrs {
		if overlaps(box, q.Bounds()) {
			return true
		}
	}
	return false
}

func overlaps(a, b entity.BBox) bool {
	return a[0] <= b[2] && b[0] <= a[2] && a[1] <= b[3] && b[1] <= a[3]
}

// PageSummary reports class presence on a single page.
func (p Policy) PageSummary(page entity.Page) entity.Summary {
	var s entity.Summary
	for _, d := range page.Detections {
		if d.Confidence < p.DisplayThreshold {
			continue
		}
		switch d.Label {
		case constants.LabelSignature:
			s.Signature = true
		case constants.LabelStamp:
			s.Stamp = true
		case constants.LabelQR:
			s.QR = true
		}
	}
	if len(page.QRCodes) > 0 {
		s.QR = true
	}
	return s
}

// Summarize is the OR of PageSummary over pages.
func (p Policy) Summarize(pages []entity.Page) entity.Summary {
	var s entity.Summary
	for _, page := range pages {
		ps := p.PageSummary(page)
		s.Signature = s.Signature || ps.Signature
		s.Stamp = s.Stamp || ps.Stamp
		s.QR = s.QR || ps.QR
	}
	return s
}
