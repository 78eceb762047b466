// Package pipeline drives one job from its uploaded document to a terminal state.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/detect"
	"github.com/joseph-ayodele/docscan/internal/entity"
	"github.com/joseph-ayodele/docscan/internal/ingest"
	"github.com/joseph-ayodele/docscan/internal/registry"
	"github.com/joseph-ayodele/docscan/internal/storage"
)

// Analyzer finds regions of interest on a page.
type Analyzer interface {
	Analyze(ctx context.Context, img image.Image) (detect.Analysis, error)
}

// Renderer draws the overlays of a page. heat may be nil when heatmaps are off.
type Renderer interface {
	Render(src image.Image, dets []entity.Detection, qrs []entity.QRDetection) (annotated, heat image.Image, err error)
}

// Classifier decides whether a page needs a human look.
type Classifier interface {
	Classify(dets []entity.Detection, qrs []entity.QRDetection) bool
}

// Encoder serializes an artifact image.
type Encoder func(img image.Image) ([]byte, error)

// Processor coordinates ingestion, then per page detection, rendering and
// review, appending results to the registry as it goes.
type Processor struct {
	Logger     *slog.Logger
	Registry   *registry.Registry
	Layout     *storage.Layout
	Rasterizer ingest.Rasterizer
	Analyzer   Analyzer
	Renderer   Renderer
	Classifier Classifier
	Encode     Encoder
}

func NewProcessor(
	logger *slog.Logger,
	reg *registry.Registry,
	layout *storage.Layout,
	rasterizer ingest.Rasterizer,
	analyzer Analyzer,
	renderer Renderer,
	classifier Classifier,
	encode Encoder,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		Logger:     logger,
		Registry:   reg,
		Layout:     layout,
		Rasterizer: rasterizer,
		Analyzer:   analyzer,
		Renderer:   renderer,
		Classifier: classifier,
		Encode:     encode,
	}
}

// ProcessJob runs a pending job to completed or failed. The returned error
// is informational: the job record already reflects the outcome.
func (p *Processor) ProcessJob(ctx context.Context, jobID string) (err error) {
	logger := common.LoggerFrom(common.WithJobID(ctx, jobID), p.Logger)
	start := time.Now()

	// a panic outside the per-page guards must still leave the job terminal
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err = errors.Newf("pipeline panic: %v", r)
		logger.Error("pipeline.job.panic", "error", err)
		if cur, gerr := p.Registry.Get(jobID); gerr == nil && !cur.Terminal() {
			err = p.fail(ctx, logger, jobID, err)
		}
	}()

	job, err := p.Registry.Get(jobID)
	if err != nil {
		return errors.Wrap(err, "load job")
	}
	if job.Status != constants.JobStatusPending {
		logger.Warn("pipeline.job.skipped", "status", job.Status)
		return nil
	}

	// 1) ingestion happens before the job is marked running, so a bad upload goes pending -> failed
	stage, err := p.Layout.StagingDir(jobID)
	if err != nil {
		return p.fail(ctx, logger, jobID, err)
	}
	defer p.Layout.RemoveStaging(jobID)

	pages, err := p.Rasterizer.Rasterize(ctx, job.Document.Path, job.Document.Kind, stage)
	if err != nil {
		logger.Error("pipeline.ingest.failed", "document", job.Document.Filename, "error", err)
		return p.fail(ctx, logger, jobID, err)
	}

	if _, err := p.Registry.Transition(ctx, jobID, constants.JobStatusRunning); err != nil {
		return err
	}
	if err := p.Registry.SetExpectedPages(jobID, len(pages)); err != nil {
		return err
	}
	logger.Info("pipeline.job.running", "document", job.Document.Filename, "pages", len(pages))

	// 2) pages in ingestion order
	succeeded := 0
	for i, src := range pages {
		if err := ctx.Err(); err != nil {
			return p.fail(ctx, logger, jobID, errors.Wrapf(err, "stopped at page %d of %d", i+1, len(pages)))
		}
		page, perr := p.processPage(ctx, logger, jobID, src)
		if perr != nil {
			if errors.Is(perr, detect.ErrSystemic) && succeeded == 0 {
				logger.Error("pipeline.detector.systemic", "page", src.Name, "error", perr)
				return p.fail(ctx, logger, jobID, perr)
			}
			logger.Warn("pipeline.page.failed", "page", src.Name, "index", i+1, "error", perr)
		} else {
			succeeded++
		}
		if err := p.Registry.AppendPage(jobID, page); err != nil {
			return err
		}
	}

	// 3) summary is recomputed by the registry from the final pages
	done, err := p.Registry.Complete(ctx, jobID)
	if err != nil {
		return err
	}
	logger.Info("pipeline.job.completed",
		"pages", len(done.Pages),
		"failed_pages", len(done.Pages)-succeeded,
		"signature", done.Summary.Signature,
		"stamp", done.Summary.Stamp,
		"qr", done.Summary.QR,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (p *Processor) fail(ctx context.Context, logger *slog.Logger, jobID string, cause error) error {
	// a fresh context: the job context may be the reason we are failing
	fctx := context.WithoutCancel(ctx)
	if _, err := p.Registry.Fail(fctx, jobID, common.Sanitize(cause, p.Layout.Root)); err != nil {
		logger.Error("pipeline.job.fail_failed", "error", err)
		return errors.CombineErrors(cause, err)
	}
	return cause
}

// processPage always returns a page that can be appended. A non-nil error
// means the page was recorded as failed.
func (p *Processor) processPage(ctx context.Context, logger *slog.Logger, jobID string, src ingest.PageImage) (entity.Page, error) {
	page := entity.Page{
		Name:       src.Name,
		Detections: []entity.Detection{},
		QRCodes:    []entity.QRDetection{},
	}

	img, err := ingest.DecodeImage(src.Path)
	if err != nil {
		return p.failPage(page, err)
	}
	sourceURL, err := p.writeArtifact(jobID, src.Name, constants.ArtifactSource, img)
	if err != nil {
		return p.failPage(page, errors.Wrap(err, "store source page"))
	}
	page.SourceURL = &sourceURL

	t0 := time.Now()
	analysis, err := p.analyze(ctx, img)
	if err != nil {
		return p.failPage(page, err)
	}
	logger.Debug("pipeline.page.analyzed",
		"page", src.Name,
		"detections", len(analysis.Detections),
		"qr_codes", len(analysis.QRCodes),
		"elapsed_ms", time.Since(t0).Milliseconds(),
	)

	annotated, heat, err := p.render(img, analysis)
	if err != nil {
		return p.failPage(page, err)
	}
	annotatedURL, err := p.writeArtifact(jobID, src.Name, constants.ArtifactAnnotated, annotated)
	if err != nil {
		p.Layout.RemoveArtifact(jobID, src.Name, constants.ArtifactAnnotated)
		return p.failPage(page, errors.Wrap(err, "store annotated page"))
	}
	var heatURL *string
	if heat != nil {
		u, err := p.writeArtifact(jobID, src.Name, constants.ArtifactHeatmap, heat)
		if err != nil {
			p.Layout.RemoveArtifact(jobID, src.Name, constants.ArtifactAnnotated)
			p.Layout.RemoveArtifact(jobID, src.Name, constants.ArtifactHeatmap)
			return p.failPage(page, errors.Wrap(err, "store heatmap"))
		}
		heatURL = &u
	}

	page.AnnotatedURL = &annotatedURL
	page.HeatmapURL = heatURL
	page.Detections = analysis.Detections
	page.QRCodes = analysis.QRCodes
	if page.Detections == nil {
		page.Detections = []entity.Detection{}
	}
	if page.QRCodes == nil {
		page.QRCodes = []entity.QRDetection{}
	}
	review, err := p.classify(page.Detections, page.QRCodes)
	if err != nil {
		p.Layout.RemoveArtifact(jobID, src.Name, constants.ArtifactAnnotated)
		p.Layout.RemoveArtifact(jobID, src.Name, constants.ArtifactHeatmap)
		return p.failPage(page, err)
	}
	page.RequiresReview = review
	return page, nil
}

// analyze converts detector panics into page failures.
func (p *Processor) analyze(ctx context.Context, img image.Image) (a detect.Analysis, err error) {
	defer func() {
		if r := recover(); r != nil {
			a, err = detect.Analysis{}, errors.Newf("detector panic: %v", r)
		}
	}()
	return p.Analyzer.Analyze(ctx, img)
}

// classify converts review policy panics into page failures.
func (p *Processor) classify(dets []entity.Detection, qrs []entity.QRDetection) (review bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			review, err = true, errors.Newf("review policy panic: %v", r)
		}
	}()
	return p.Classifier.Classify(dets, qrs), nil
}

// render converts renderer panics into page failures.
func (p *Processor) render(img image.Image, a detect.Analysis) (annotated, heat image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			annotated, heat = nil, nil
			err = errors.Newf("render panic: %v", r)
		}
	}()
	annotated, heat, err = p.Renderer.Render(img, a.Detections, a.QRCodes)
	if err == nil && annotated == nil {
		err = errors.New("renderer returned no annotated image")
	}
	return annotated, heat, err
}

func (p *Processor) writeArtifact(jobID, pageName string, kind constants.ArtifactKind, img image.Image) (string, error) {
	data, err := p.Encode(img)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", kind, err)
	}
	return p.Layout.WriteArtifact(jobID, pageName, kind, data)
}

func (p *Processor) failPage(page entity.Page, cause error) (entity.Page, error) {
	page.Detections = []entity.Detection{}
	page.QRCodes = []entity.QRDetection{}
	page.AnnotatedURL = nil
	page.HeatmapURL = nil
	page.RequiresReview = true
	page.Error = common.Sanitize(cause, p.Layout.Root)
	return page, cause
}
