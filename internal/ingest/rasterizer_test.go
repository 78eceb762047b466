package ingest

import (
	"archive/zip"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docscan/constants"
)

// fakePdftoppm writes n blank pages where pdftoppm would.
type fakePdftoppm struct {
	pages int
	calls [][]string
	fail  bool
}

func (f *fakePdftoppm) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.fail {
		return nil, []byte("Syntax Error: Couldn't read xref table"), errors.New("exit status 1")
	}
	prefix := args[len(args)-1]
	for i := 1; i <= f.pages; i++ {
		if err := writePNG(prefix+"-"+strconv.Itoa(i)+".png", 20, 30); err != nil {
			return nil, nil, err
		}
	}
	return nil, nil, nil
}

func writePNG(path string, w, h int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, image.NewRGBA(image.Rect(0, 0, w, h)))
}

// minimalPDF is a syntactically valid one-page document.
const minimalPDF = "%PDF-1.4\n1 0 obj<</Type/Catalog/Pages 2 0 R>>endobj\n" +
	"2 0 obj<</Type/Pages/Kids[3 0 R]/Count 1>>endobj\n" +
	"3 0 obj<</Type/Page/Parent 2 0 R/MediaBox[0 0 612 792]>>endobj\n" +
	"trailer<</Root 1 0 R>>\n%%EOF\n"

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func names(pages []PageImage) []string {
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = p.Name
	}
	return out
}

func TestRasterizePDF(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, filepath.Join(dir, "Contract 2024.pdf"), minimalPDF)
	run := &fakePdftoppm{pages: 12}
	r := NewFileRasterizer(Config{DPI: 150}, nil, WithRunner(run))

	pages, err := r.Rasterize(context.Background(), src, constants.KindPDF, filepath.Join(dir, "stage"))
	require.NoError(t, err)
	require.Len(t, pages, 12)
	assert.Equal(t, "Contract_2024_page_001", pages[0].Name)
	assert.Equal(t, "Contract_2024_page_002", pages[1].Name)
	assert.Equal(t, "Contract_2024_page_012", pages[11].Name)
	assert.True(t, strings.HasSuffix(pages[9].Path, "page-10.png"), "natural order, got %s", pages[9].Path)

	require.Len(t, run.calls, 1)
	assert.Equal(t, []string{"pdftoppm", "-r", "150", "-png"}, run.calls[0][:4])
}

func TestRasterizePDFMaxPages(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, filepath.Join(dir, "a.pdf"), minimalPDF)
	run := &fakePdftoppm{pages: 5}
	r := NewFileRasterizer(Config{MaxPages: 2}, nil, WithRunner(run))

	pages, err := r.Rasterize(context.Background(), src, constants.KindPDF, filepath.Join(dir, "stage"))
	require.NoError(t, err)
	assert.Len(t, pages, 2)
	assert.Contains(t, run.calls[0], "-l")
}

func TestRasterizeCorruptPDF(t *testing.T) {
	dir := t.TempDir()
	r := NewFileRasterizer(Config{}, nil, WithRunner(&fakePdftoppm{fail: true}))

	notPDF := writeFile(t, filepath.Join(dir, "x.pdf"), "this is not a pdf at all")
	_, err := r.Rasterize(context.Background(), notPDF, constants.KindPDF, filepath.Join(dir, "s1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIngestion))
	assert.Contains(t, err.Error(), "not a PDF")

	broken := writeFile(t, filepath.Join(dir, "y.pdf"), "%PDF-1.4\ngarbage")
	_, err = r.Rasterize(context.Background(), broken, constants.KindPDF, filepath.Join(dir, "s2"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIngestion))
}

func TestRasterizeImage(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "scan #1.png")
	require.NoError(t, writePNG(src, 40, 50))

	pages, err := NewFileRasterizer(Config{}, nil).Rasterize(context.Background(), src, constants.KindImage, filepath.Join(dir, "stage"))
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "scan_1", pages[0].Name)
	assert.Equal(t, src, pages[0].Path)

	img, err := DecodeImage(pages[0].Path)
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())
}

func TestRasterizeUnreadableImage(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, filepath.Join(dir, "bad.jpg"), "nope")
	_, err := NewFileRasterizer(Config{}, nil).Rasterize(context.Background(), src, constants.KindImage, filepath.Join(dir, "stage"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIngestion))
}

func TestRasterizeUnsupportedKind(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, filepath.Join(dir, "notes.docx"), "x")
	_, err := NewFileRasterizer(Config{}, nil).Rasterize(context.Background(), src, constants.DocumentKind("docx"), filepath.Join(dir, "stage"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIngestion))
	assert.Contains(t, err.Error(), "unsupported file type: .docx")
}

func buildZip(t *testing.T, path string, members map[string][]byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, data := range members {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	p := filepath.Join(t.TempDir(), "x.png")
	require.NoError(t, writePNG(p, 8, 8))
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	return b
}

func TestRasterizeArchive(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "bundle.zip")
	img := pngBytes(t)
	buildZip(t, src, map[string][]byte{
		"scan10.png":           img,
		"scan2.png":            img,
		"sub/contract.pdf":     []byte(minimalPDF),
		"__MACOSX/._scan2.png": img,
		".hidden.png":          img,
		"readme.txt":           []byte("skip"),
	})
	run := &fakePdftoppm{pages: 2}
	r := NewFileRasterizer(Config{}, nil, WithRunner(run))

	pages, err := r.Rasterize(context.Background(), src, constants.KindArchive, filepath.Join(dir, "stage"))
	require.NoError(t, err)
	assert.Equal(t, []string{"scan2", "scan10", "sub_contract_page_001", "sub_contract_page_002"}, names(pages))
	for _, p := range pages {
		assert.True(t, strings.HasPrefix(p.Path, filepath.Join(dir, "stage")), p.Path)
	}
}

func TestRasterizeEmptyArchive(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "empty.zip")
	buildZip(t, src, map[string][]byte{"notes.txt": []byte("x")})

	pages, err := NewFileRasterizer(Config{}, nil).Rasterize(context.Background(), src, constants.KindArchive, filepath.Join(dir, "stage"))
	require.NoError(t, err)
	assert.Empty(t, pages)
}

func TestRasterizeCorruptArchive(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, filepath.Join(dir, "bad.zip"), "PK not really")
	_, err := NewFileRasterizer(Config{}, nil).Rasterize(context.Background(), src, constants.KindArchive, filepath.Join(dir, "stage"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIngestion))
}

func TestSafeMemberPath(t *testing.T) {
	for _, bad := range []string{"../evil.png", "/abs.png", `..\win.png`, "a/../../b.png"} {
		_, err := safeMemberPath(bad)
		assert.Error(t, err, bad)
	}
	p, err := safeMemberPath("a/./b.png")
	require.NoError(t, err)
	assert.Equal(t, "a/b.png", p)
}

func TestNameSetUnique(t *testing.T) {
	s := nameSet{}
	assert.Equal(t, "scan", s.unique("scan"))
	assert.Equal(t, "scan_2", s.unique("scan"))
	assert.Equal(t, "scan_3", s.unique("scan"))
	assert.Equal(t, "scan_2_2", s.unique("scan_2"))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "a_b.c", SanitizeName("a b.c"))
	assert.Equal(t, "page", SanitizeName("..."))
	assert.Equal(t, "x.y", SanitizeName("x..y"))
}

func TestHeadBufferCapsOutput(t *testing.T) {
	h := &headBuffer{max: 5}
	n, err := h.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, _ = h.Write([]byte("defgh"))
	assert.Equal(t, 5, n)
	_, _ = h.Write([]byte("ij"))

	assert.Equal(t, "abcde", string(h.Bytes()))
	assert.Equal(t, 5, h.dropped)
	assert.Equal(t, "abcde...(truncated)", h.String())
}
