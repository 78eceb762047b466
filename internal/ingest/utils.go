package ingest

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/joseph-ayodele/docscan/constants"
)

// AllowedExt checks if a file extension can be submitted as a document.
func AllowedExt(ext string) bool {
	return constants.AllowedExt(ext)
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".")
}

// DecodeImage reads a page image from disk. jpeg, png, bmp and tiff are registered.
func DecodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open page image")
	}
	defer f.Close()
	img, format, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode page image %s", filepath.Base(path))
	}
	if img.Bounds().Empty() {
		return nil, errors.Newf("page image %s (%s) is empty", filepath.Base(path), format)
	}
	return img, nil
}

func checkImage(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return errors.New("image has no pixels")
	}
	return nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeName turns an arbitrary file stem into a safe page-name component.
func SanitizeName(s string) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, "._")
	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", ".")
	}
	if s == "" {
		s = "page"
	}
	return s
}

func stem(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func pdfPageName(stemName string, index int) string {
	return fmt.Sprintf("%s_page_%03d", SanitizeName(stemName), index)
}

// nameSet hands out page names unique within one job.
type nameSet map[string]int

func (s nameSet) unique(name string) string {
	s[name]++
	if n := s[name]; n > 1 {
		candidate := fmt.Sprintf("%s_%d", name, n)
		for s[candidate] > 0 {
			s[name]++
			candidate = fmt.Sprintf("%s_%d", name, s[name])
		}
		s[candidate]++
		return candidate
	}
	return name
}
