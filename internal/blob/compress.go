package blob

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
)

const (
	maxImageDim = 1200
	jpegQuality = 60
)

// CompressImage downscales an image so its longest side is at most 1200px and
// re-encodes it as JPEG at quality 60, matching what attachments were stored
// as before. PNG input is accepted; output is always JPEG.
func CompressImage(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width > height && width > maxImageDim {
		height = height * maxImageDim / width
		width = maxImageDim
	} else if height >= width && height > maxImageDim {
		width = width * maxImageDim / height
		height = maxImageDim
	}

	out := src
	if width != bounds.Dx() || height != bounds.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)
		out = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
