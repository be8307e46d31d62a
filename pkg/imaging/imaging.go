// Package imaging decodes page payloads delivered by scanner drivers.
//
// Drivers deliver each page as an encoded raster payload, most commonly
// BMP on Windows-style stacks. The registered formats cover the payloads
// the stock bindings produce: BMP, PNG, JPEG and TIFF. The package also
// re-encodes pages as PNG for relay across the worker process boundary.
package imaging

import (
	"bytes"
	"fmt"
	"image"

	// Registered payload formats.
	_ "image/jpeg"

	"image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// DecodePage decodes one page payload into an image. The caller maps a
// failure here onto its transport-corruption error: a payload that does
// not decode is assumed truncated in transit, not a valid-but-odd image.
func DecodePage(payload []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to decode page payload (%d bytes): %w", len(payload), err)
	}
	return img, nil
}

// EncodePage encodes a decoded page as PNG for relay across a process
// boundary. PNG keeps the relay lossless regardless of the driver's
// original payload format.
func EncodePage(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode page: %w", err)
	}
	return buf.Bytes(), nil
}
