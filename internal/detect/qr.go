package detect

import (
	"image"
	"image/draw"
	"log/slog"
	"math"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/joseph-ayodele/docscan/internal/entity"
)

// ZXingDecoder decodes a single QR code per call with gozxing.
type ZXingDecoder struct {
	hints  map[gozxing.DecodeHintType]interface{}
	logger *slog.Logger
}

// NewZXingDecoder returns a decoder that tries hard on noisy scans.
func NewZXingDecoder(logger *slog.Logger) *ZXingDecoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ZXingDecoder{
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
		logger: logger,
	}
}

// Decode returns at most one QR code; a miss yields an empty slice.
func (z *ZXingDecoder) Decode(img image.Image) (out []entity.QRDetection, err error) {
	defer func() {
		if r := recover(); r != nil {
			z.logger.Warn("detect.qr.decoder_panic", "panic", r)
			out, err = nil, nil
		}
	}()

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, err
	}
	res, err := qrcode.NewQRCodeReader().Decode(bmp, z.hints)
	if err != nil {
		// not found, checksum and format errors all mean "no readable code"
		return nil, nil
	}
	poly := quadFromFinders(res.GetResultPoints())
	if len(poly) < 3 {
		return nil, nil
	}
	return []entity.QRDetection{{Text: res.GetText(), Polygon: poly}}, nil
}

// quadFromFinders turns the finder pattern centers (bottom-left, top-left,
// top-right) into a four-corner polygon by completing the parallelogram.
func quadFromFinders(pts []gozxing.ResultPoint) []entity.Point {
	if len(pts) < 3 {
		return nil
	}
	pt := func(x, y float64) entity.Point {
		return entity.Point{int(math.Round(x)), int(math.Round(y))}
	}
	bl, tl, tr := pts[0], pts[1], pts[2]
	brX := bl.GetX() + tr.GetX() - tl.GetX()
	brY := bl.GetY() + tr.GetY() - tl.GetY()
	return []entity.Point{
		pt(tl.GetX(), tl.GetY()),
		pt(tr.GetX(), tr.GetY()),
		pt(brX, brY),
		pt(bl.GetX(), bl.GetY()),
	}
}

// cropRGBA copies r out of img into a new image anchored at the origin.
func cropRGBA(img image.Image, r image.Rectangle) *image.RGBA {
	r = r.Intersect(img.Bounds())
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}
