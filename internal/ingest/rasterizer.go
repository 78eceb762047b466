package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/joseph-ayodele/docscan/constants"
)

// ErrIngestion marks failures to turn an upload into page images.
var ErrIngestion = errors.New("ingestion failed")

// PageImage is one rasterized page waiting for analysis.
type PageImage struct {
	Name string
	Path string
}

// Rasterizer splits a document into ordered page images. Intermediate files
// go under stageDir, which the caller owns and removes.
type Rasterizer interface {
	Rasterize(ctx context.Context, src string, kind constants.DocumentKind, stageDir string) ([]PageImage, error)
}

type Config struct {
	Pdftoppm string // binary name or absolute path; if empty -> "pdftoppm"
	DPI      int    // default 200
	MaxPages int    // per PDF, 0 = no limit
}

// FileRasterizer handles PDFs (through pdftoppm), single images and zip archives.
type FileRasterizer struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

type Option func(*FileRasterizer)

// WithRunner replaces the command runner, mostly for tests.
func WithRunner(r Runner) Option {
	return func(f *FileRasterizer) { f.runner = r }
}

func NewFileRasterizer(cfg Config, logger *slog.Logger, opts ...Option) *FileRasterizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 200
	}
	f := &FileRasterizer{cfg: cfg, runner: execRunner{logger: logger}, logger: logger}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Rasterize returns the pages of src in document order.
func (f *FileRasterizer) Rasterize(ctx context.Context, src string, kind constants.DocumentKind, stageDir string) ([]PageImage, error) {
	if _, err := os.Stat(src); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "document missing"), ErrIngestion)
	}
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create staging dir")
	}

	names := nameSet{}
	var pages []PageImage
	var err error
	switch kind {
	case constants.KindPDF:
		pages, err = f.rasterizePDF(ctx, src, stem(src), filepath.Join(stageDir, "pdf"), names)
	case constants.KindImage:
		pages, err = f.singleImage(src, stem(src), names)
	case constants.KindArchive:
		pages, err = f.rasterizeArchive(ctx, src, stageDir, names)
	default:
		err = errors.Newf("unsupported file type: %s", filepath.Ext(src))
	}
	if err != nil {
		return nil, errors.Mark(err, ErrIngestion)
	}
	f.logger.Info("ingest.rasterized", "document", filepath.Base(src), "kind", kind, "pages", len(pages))
	return pages, nil
}

func (f *FileRasterizer) singleImage(path, name string, names nameSet) ([]PageImage, error) {
	if err := checkImage(path); err != nil {
		return nil, errors.Wrapf(err, "unreadable image %s", filepath.Base(path))
	}
	return []PageImage{{Name: names.unique(SanitizeName(name)), Path: path}}, nil
}
