package compositor

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"memegen/internal/domain"
)

// JPEGQuality is the encoder quality used for rendered memes.
const JPEGQuality = 75

// Decode parses an uploaded image in any registered format and reports the
// format name.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("compositor: %w: empty payload", domain.ErrInvalidImage)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("compositor: %w: %v", domain.ErrInvalidImage, err)
	}
	return img, format, nil
}

// EncodeJPEG writes img as a baseline JPEG.
func EncodeJPEG(w io.Writer, img image.Image) error {
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return fmt.Errorf("compositor: encode jpeg: %w", err)
	}
	return nil
}
