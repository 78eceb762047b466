package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ledongthuc/pdf"
	"github.com/maruel/natural"
)

var pdfMagic = []byte("%PDF-")

// inspectPDF checks the header and, when the parser copes with the file,
// returns its page count. A parse failure is not fatal: pdftoppm gets the last word.
func inspectPDF(path string) (pages int, parseErr error, err error) {
	fh, err := os.Open(path)
	if err != nil {
		return 0, nil, errors.Wrap(err, "open pdf")
	}
	head := make([]byte, 1024)
	n, _ := io.ReadFull(fh, head)
	_ = fh.Close()
	if !bytes.Contains(head[:n], pdfMagic) {
		return 0, nil, errors.Newf("%s is not a PDF (missing header)", filepath.Base(path))
	}

	defer func() {
		if r := recover(); r != nil {
			pages, parseErr = -1, errors.Newf("pdf parser panic: %v", r)
		}
	}()
	f, r, perr := pdf.Open(path)
	if perr != nil {
		return -1, perr, nil
	}
	defer f.Close()
	return r.NumPage(), nil, nil
}

func (f *FileRasterizer) rasterizePDF(ctx context.Context, path, stemName, outDir string, names nameSet) ([]PageImage, error) {
	count, parseErr, err := inspectPDF(path)
	if err != nil {
		return nil, err
	}
	if parseErr != nil {
		f.logger.Warn("ingest.pdf.parse_failed", "document", filepath.Base(path), "error", parseErr)
	}
	if count == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create pdf output dir")
	}
	prefix := filepath.Join(outDir, "page")

	// pdftoppm -r 200 -png [-l N] <in.pdf> <out/page>
	args := []string{"-r", strconv.Itoa(f.cfg.DPI), "-png"}
	if f.cfg.MaxPages > 0 {
		args = append(args, "-l", strconv.Itoa(f.cfg.MaxPages))
	}
	args = append(args, path, prefix)
	_, errb, err := f.runner.Run(ctx, f.cfg.Pdftoppm, args...)
	if err != nil {
		msg := strings.TrimSpace(string(errb))
		if parseErr != nil {
			return nil, errors.Wrapf(parseErr, "corrupt pdf %s: %s", filepath.Base(path), msg)
		}
		return nil, errors.Wrapf(err, "rasterize %s: %s", filepath.Base(path), msg)
	}

	// pdftoppm writes page-1.png, page-2.png ... (zero padded for long documents)
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Slice(matches, func(i, j int) bool { return natural.Less(matches[i], matches[j]) })
	if f.cfg.MaxPages > 0 && len(matches) > f.cfg.MaxPages {
		matches = matches[:f.cfg.MaxPages]
	}
	if len(matches) == 0 {
		if count < 0 && parseErr != nil {
			return nil, errors.Wrapf(parseErr, "corrupt pdf %s", filepath.Base(path))
		}
		return nil, errors.Newf("pdftoppm produced no images for %s", filepath.Base(path))
	}
	if count > 0 && len(matches) != count && (f.cfg.MaxPages == 0 || len(matches) < f.cfg.MaxPages) {
		f.logger.Warn("ingest.pdf.page_count_mismatch", "document", filepath.Base(path), "parsed", count, "rendered", len(matches))
	}

	pages := make([]PageImage, 0, len(matches))
	for i, m := range matches {
		pages = append(pages, PageImage{Name: names.unique(pdfPageName(stemName, i+1)), Path: m})
	}
	return pages, nil
}

// pdfOutDir keeps each archive member's pages apart.
func pdfOutDir(stageDir string, idx int) string {
	return filepath.Join(stageDir, fmt.Sprintf("pdf_%03d", idx))
}
