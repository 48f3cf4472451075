package attachment

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

const (
	maxImageWidth  = 1000
	maxImageHeight = 800
)

// resizeImage fits an image inside the bounding box and encodes it back in
// the format named by mimeType
func resizeImage(data []byte, mimeType string) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	format := imaging.JPEG
	if mimeType == MimePNG {
		format = imaging.PNG
	}

	// Fit never upscales; smaller images are re-encoded at their own size
	resized := imaging.Fit(img, maxImageWidth, maxImageHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, format); err != nil {
		return nil, fmt.Errorf("encoding image: %w", err)
	}

	return buf.Bytes(), nil
}
