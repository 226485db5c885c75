package storage

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	_ "image/gif" // register gif
	_ "image/png" // register png

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register webp (decode only)
)

// MaxAvatarBytes is the largest accepted upload.
const MaxAvatarBytes = 5 << 20 // 5 MiB

const jpegQuality = 85

var (
	ErrImageTooLarge    = errors.New("image exceeds maximum size")
	ErrUnsupportedImage = errors.New("unsupported image format")
)

// NormalizeAvatar decodes an uploaded image (JPEG, PNG, GIF or WebP),
// downscales its long edge to maxDim when larger, and re-encodes as JPEG.
// Re-encoding also strips whatever metadata the upload carried.
func NormalizeAvatar(data []byte, maxDim int) ([]byte, error) {
	if len(data) > MaxAvatarBytes {
		return nil, ErrImageTooLarge
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, ErrUnsupportedImage
	}

	if width > maxDim || height > maxDim {
		if width >= height {
			height = height * maxDim / width
			width = maxDim
		} else {
			width = width * maxDim / height
			height = maxDim
		}
		if width < 1 {
			width = 1
		}
		if height < 1 {
			height = 1
		}

		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		src = dst
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, src, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encoding avatar: %w", err)
	}
	return out.Bytes(), nil
}
