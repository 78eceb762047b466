package constants

import "strings"

// DocumentKind is how an upload is split into pages.
type DocumentKind string

const (
	KindPDF     DocumentKind = "pdf"
	KindImage   DocumentKind = "image"
	KindArchive DocumentKind = "zip"
)

// ImageExtensions holds the page image formats we can decode.
var ImageExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"bmp":  {},
	"tif":  {},
	"tiff": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// KindForExt maps a file extension to a document kind; "" when unsupported.
func KindForExt(ext string) DocumentKind {
	ext = NormalizeExt(ext)
	switch {
	case ext == "pdf":
		return KindPDF
	case ext == "zip":
		return KindArchive
	case IsImageExt(ext):
		return KindImage
	}
	return ""
}

// IsImageExt reports whether ext is a supported page image format.
func IsImageExt(ext string) bool {
	_, ok := ImageExtensions[NormalizeExt(ext)]
	return ok
}

// AllowedExt reports whether a file with this extension can be submitted.
func AllowedExt(ext string) bool {
	return KindForExt(ext) != ""
}
