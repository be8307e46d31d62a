package sim

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/native"
)

// Simulated page geometry. Small on purpose; the content only needs to
// survive a decode round trip.
const (
	pageWidth  = 64
	pageHeight = 96
)

// encodePage renders one synthetic page as PNG. The fill varies with the
// page number so consumers can tell pages apart.
func encodePage(pageNum, dataType int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, pageWidth, pageHeight))

	var fill color.RGBA
	switch dataType {
	case native.DataGrayscale, native.DataBlackAndWhite:
		v := uint8(40 * (pageNum % 6))
		fill = color.RGBA{R: v, G: v, B: v, A: 255}
	default:
		fill = color.RGBA{
			R: uint8(50 * (pageNum % 5)),
			G: uint8(80 * (pageNum % 3)),
			B: uint8(120 * (pageNum % 2)),
			A: 255,
		}
	}

	for y := 0; y < pageHeight; y++ {
		for x := 0; x < pageWidth; x++ {
			img.SetRGBA(x, y, fill)
		}
	}
	// A one-pixel marker row encodes the page number for assertions.
	for x := 0; x < pageWidth && x < pageNum; x++ {
		img.SetRGBA(x, 0, color.RGBA{R: 255, A: 255})
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		// Encoding an in-memory RGBA image cannot fail.
		panic(err)
	}
	return buf.Bytes()
}
