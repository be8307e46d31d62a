package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"golang.org/x/image/bmp"
)

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 8; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 20), B: 128, A: 255})
		}
	}
	return img
}

func TestDecodePagePNG(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage()); err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	img, err := DecodePage(buf.Bytes())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 12 {
		t.Errorf("bounds = %v, want 8x12", img.Bounds())
	}
}

func TestDecodePageBMP(t *testing.T) {
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, testImage()); err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	img, err := DecodePage(buf.Bytes())
	if err != nil {
		t.Fatalf("BMP payload did not decode: %v", err)
	}
	if img.Bounds().Dx() != 8 {
		t.Errorf("bounds = %v, want width 8", img.Bounds())
	}
}

func TestDecodePageTruncated(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage()); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	truncated := buf.Bytes()[:buf.Len()/2]

	if _, err := DecodePage(truncated); err == nil {
		t.Error("expected error for truncated payload")
	}
}

func TestDecodePageGarbage(t *testing.T) {
	if _, err := DecodePage([]byte("not an image at all")); err == nil {
		t.Error("expected error for garbage payload")
	}
}

func TestEncodePageRoundTrip(t *testing.T) {
	orig := testImage()

	data, err := EncodePage(orig)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	decoded, err := DecodePage(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	// The relay is lossless: every pixel survives.
	b := orig.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			wr, wg, wb, wa := orig.At(x, y).RGBA()
			gr, gg, gb, ga := decoded.At(x, y).RGBA()
			if wr != gr || wg != gg || wb != gb || wa != ga {
				t.Fatalf("pixel (%d,%d) changed in relay", x, y)
			}
		}
	}
}
