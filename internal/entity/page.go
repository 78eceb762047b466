package entity

// BBox is an axis-aligned box in page pixels: x1, y1, x2, y2.
type BBox [4]int

func (b BBox) Width() int  { return b[2] - b[0] }
func (b BBox) Height() int { return b[3] - b[1] }

// Area is the box area in square pixels, zero for degenerate boxes.
func (b BBox) Area() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return float64(w) * float64(h)
}

// Point is an x, y pixel coordinate.
type Point [2]int

// Detection is one region found by the model on a page.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}

// QRDetection is a decoded QR code with the polygon it was read from.
type QRDetection struct {
	Text    string  `json:"text"`
	Polygon []Point `json:"polygon"`
}

// Bounds returns the axis-aligned box enclosing the polygon.
func (q QRDetection) Bounds() BBox {
	if len(q.Polygon) == 0 {
		return BBox{}
	}
	b := BBox{q.Polygon[0][0], q.Polygon[0][1], q.Polygon[0][0], q.Polygon[0][1]}
	for _, p := range q.Polygon[1:] {
		b[0] = min(b[0], p[0])
		b[1] = min(b[1], p[1])
		b[2] = max(b[2], p[0])
		b[3] = max(b[3], p[1])
	}
	return b
}

// Page is the analysis result for one page of a document.
type Page struct {
	Name           string        `json:"page_name"`
	SourceURL      *string       `json:"source_url"`
	AnnotatedURL   *string       `json:"annotated_url"`
	HeatmapURL     *string       `json:"heatmap_url"`
	Detections     []Detection   `json:"detections"`
	QRCodes        []QRDetection `json:"qr_codes"`
	RequiresReview bool          `json:"requires_review"`
	Error          string        `json:"error,omitempty"`
}

// Clone returns a deep copy of p.
func (p Page) Clone() Page {
	out := p
	out.SourceURL = cloneString(p.SourceURL)
	out.AnnotatedURL = cloneString(p.AnnotatedURL)
	out.HeatmapURL = cloneString(p.HeatmapURL)
	out.Detections = append(make([]Detection, 0, len(p.Detections)), p.Detections...)
	out.QRCodes = make([]QRDetection, len(p.QRCodes))
	for i, q := range p.QRCodes {
		out.QRCodes[i] = QRDetection{Text: q.Text, Polygon: append([]Point(nil), q.Polygon...)}
	}
	return out
}

// Failed reports whether the page could not be fully analyzed.
func (p Page) Failed() bool {
	return p.Error != ""
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr is a small helper for optional URL fields.
func StringPtr(s string) *string {
	return &s
}
