package extractor

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

// maxImageDim caps the longer edge of images sent to the embedding service.
// Face detection quality does not benefit from full-resolution originals.
const maxImageDim = 1600

// PrepareImage decodes the image and downscales it when its longer edge
// exceeds maxImageDim. Images already small enough pass through untouched.
// Returns an error for bytes that do not decode as a supported image.
func PrepareImage(data []byte) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image config: %w", err)
	}

	if cfg.Width <= maxImageDim && cfg.Height <= maxImageDim {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	width, height := cfg.Width, cfg.Height
	if width >= height {
		height = height * maxImageDim / width
		width = maxImageDim
	} else {
		width = width * maxImageDim / height
		height = maxImageDim
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode resized image: %w", err)
	}
	return buf.Bytes(), nil
}
