package ingest

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/maruel/natural"

	"github.com/joseph-ayodele/docscan/constants"
)

const (
	maxArchiveMembers = 10000
	maxArchiveBytes   = 2 << 30
)

// rasterizeArchive extracts supported members in natural order and expands
// PDFs in place.
func (f *FileRasterizer) rasterizeArchive(ctx context.Context, src, stageDir string, names nameSet) ([]PageImage, error) {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return nil, errors.Wrapf(err, "corrupt archive %s", filepath.Base(src))
	}
	defer zr.Close()

	members := make([]*zip.File, 0, len(zr.File))
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() || skipMember(zf.Name) {
			continue
		}
		if !AllowedExt(path.Ext(zf.Name)) || constants.KindForExt(path.Ext(zf.Name)) == constants.KindArchive {
			continue
		}
		members = append(members, zf)
	}
	if len(members) > maxArchiveMembers {
		return nil, errors.Newf("archive has too many documents (%d)", len(members))
	}
	sort.SliceStable(members, func(i, j int) bool {
		return natural.Less(strings.ToLower(members[i].Name), strings.ToLower(members[j].Name))
	})

	extractDir := filepath.Join(stageDir, "archive")
	var total int64
	var pages []PageImage
	for idx, zf := range members {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rel, err := safeMemberPath(zf.Name)
		if err != nil {
			return nil, err
		}
		dst := filepath.Join(extractDir, filepath.FromSlash(rel))
		n, err := extractMember(zf, dst, maxArchiveBytes-total)
		if err != nil {
			return nil, errors.Wrapf(err, "extract %s", zf.Name)
		}
		total += n

		memberStem := strings.TrimSuffix(rel, path.Ext(rel))
		memberStem = strings.ReplaceAll(memberStem, "/", "_")
		switch constants.KindForExt(path.Ext(rel)) {
		case constants.KindPDF:
			pp, err := f.rasterizePDF(ctx, dst, memberStem, pdfOutDir(stageDir, idx), names)
			if err != nil {
				return nil, errors.Wrapf(err, "archive member %s", zf.Name)
			}
			pages = append(pages, pp...)
		case constants.KindImage:
			pp, err := f.singleImage(dst, memberStem, names)
			if err != nil {
				return nil, errors.Wrapf(err, "archive member %s", zf.Name)
			}
			pages = append(pages, pp...)
		}
	}
	return pages, nil
}

func skipMember(name string) bool {
	for _, part := range strings.Split(name, "/") {
		if part == "__MACOSX" || strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}

// safeMemberPath rejects names that would land outside the extraction dir.
func safeMemberPath(name string) (string, error) {
	clean := path.Clean(strings.ReplaceAll(name, `\`, "/"))
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") || clean == "." {
		return "", errors.Newf("unsafe archive member %q", name)
	}
	return clean, nil
}

func extractMember(zf *zip.File, dst string, budget int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	rc, err := zf.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, io.LimitReader(rc, budget+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	if n > budget {
		return n, errors.New("archive expands beyond the size limit")
	}
	return n, nil
}
