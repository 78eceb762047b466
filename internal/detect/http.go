package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/joseph-ayodele/docscan/internal/entity"
)

const maxResponseBytes = 8 << 20

// HTTPDetector posts page images to an inference service as multipart
// form data and parses {"detections": [...]} from the reply.
type HTTPDetector struct {
	url       string
	healthURL string
	client    *http.Client
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// HTTPOption configures an HTTPDetector.
type HTTPOption func(*HTTPDetector)

// WithHTTPClient overrides the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(d *HTTPDetector) { d.client = c }
}

// WithRateLimit caps outgoing requests per second; rps <= 0 disables it.
func WithRateLimit(rps float64) HTTPOption {
	return func(d *HTTPDetector) {
		if rps > 0 {
			d.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithHealthURL overrides the probe URL derived from the predict URL.
func WithHealthURL(u string) HTTPOption {
	return func(d *HTTPDetector) { d.healthURL = u }
}

// NewHTTPDetector builds a client for the given predict endpoint.
func NewHTTPDetector(predictURL string, timeout time.Duration, logger *slog.Logger, opts ...HTTPOption) (*HTTPDetector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(predictURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Mark(errors.Newf("invalid detector url %q", predictURL), ErrSystemic)
	}
	health := *u
	health.Path = "/health"
	health.RawQuery = ""

	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	d := &HTTPDetector{
		url:       predictURL,
		healthURL: health.String(),
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

type wireDetection struct {
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"`
}

type wireResponse struct {
	Detections []wireDetection `json:"detections"`
}

// Detect encodes img as PNG and sends it to the model.
func (d *HTTPDetector) Detect(ctx context.Context, img image.Image) ([]entity.Detection, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "rate limiter"), ErrBackendUnavailable)
		}
	}

	reqID := uuid.New().String()
	start := time.Now()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "page.png")
	if err != nil {
		return nil, errors.Wrap(err, "create form file")
	}
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(part, img); err != nil {
		return nil, errors.Wrap(err, "encode page")
	}
	if err := writer.Close(); err != nil {
		return nil, errors.Wrap(err, "close multipart")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, body)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Request-ID", reqID)

	d.logger.Debug("detect.http.request", "req_id", reqID, "url", d.url, "content_length", body.Len())

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn("detect.http.send_error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, errors.Mark(errors.Wrap(err, "send request"), ErrBackendUnavailable)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			d.logger.Warn("detect.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "read response"), ErrBackendUnavailable)
	}

	d.logger.Debug("detect.http.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}
	if err := ValidateResponse(raw); err != nil {
		return nil, err
	}

	var wr wireResponse
	if err := json.Unmarshal(raw, &wr); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode response"), ErrInvalidResponse)
	}
	out := make([]entity.Detection, 0, len(wr.Detections))
	for _, w := range wr.Detections {
		out = append(out, entity.Detection{
			Label:      w.Label,
			Confidence: w.Confidence,
			BBox: entity.BBox{
				int(math.Floor(w.BBox[0])),
				int(math.Floor(w.BBox[1])),
				int(math.Ceil(w.BBox[2])),
				int(math.Ceil(w.BBox[3])),
			},
		})
	}
	return out, nil
}

func classifyStatus(code int) error {
	switch {
	case code/100 == 2:
		return nil
	case code == http.StatusNotFound, code == http.StatusGone, code == http.StatusNotImplemented,
		code == http.StatusUnauthorized, code == http.StatusForbidden:
		return errors.Mark(errors.Newf("detector returned status %d", code), ErrSystemic)
	case code >= 500, code == http.StatusTooManyRequests:
		return errors.Mark(errors.Newf("detector returned status %d", code), ErrBackendUnavailable)
	}
	return errors.Mark(errors.Newf("detector returned status %d", code), ErrInvalidResponse)
}

// Probe checks the backend health endpoint.
func (d *HTTPDetector) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.healthURL, nil)
	if err != nil {
		return errors.Wrap(err, "build health request")
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "health request"), ErrBackendUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Mark(errors.Newf("detector unhealthy: %d", resp.StatusCode), ErrBackendUnavailable)
	}
	return nil
}
