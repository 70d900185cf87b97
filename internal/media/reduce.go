package media

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

const defaultJPEGQuality = 85

// Reduce downscales an image so neither dimension exceeds maxDim, preserving
// aspect ratio (Lanczos resampling) and re-encoding as JPEG. Images already
// within bounds are returned unchanged, original bytes and format intact.
// Undecodable input fails with ErrUnsupportedFormat.
func Reduce(data []byte, maxDim int) ([]byte, error) {
	if maxDim <= 0 {
		return data, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrUnsupportedFormat)
	}

	bounds := img.Bounds()
	if bounds.Dx() <= maxDim && bounds.Dy() <= maxDim {
		return data, nil
	}

	resized := imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(defaultJPEGQuality)); err != nil {
		return nil, fmt.Errorf("re-encoding reduced image: %w", err)
	}
	return buf.Bytes(), nil
}
