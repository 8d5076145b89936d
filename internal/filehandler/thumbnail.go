package filehandler

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

// DefaultThumbnailMaxDimension is the longest edge of a page preview.
const DefaultThumbnailMaxDimension = 1280

// MaxThumbnailPixels bounds the images Thumbnail will decode. A decoded
// image costs up to 8 bytes per pixel regardless of its compressed size.
const MaxThumbnailPixels = 50_000_000

// ErrTooManyPixels is returned when an image exceeds MaxThumbnailPixels.
var ErrTooManyPixels = errors.New("image exceeds thumbnail pixel budget")

// Thumbnail downscales an image so neither edge exceeds maxDimension.
// Images already within bounds are returned unchanged with their original
// MIME type. Scaled output is PNG when the source is PNG, JPEG otherwise.
// Only the preview uses this; the analysis always receives the original bytes.
func Thumbnail(data []byte, mimeType string, maxDimension int) ([]byte, string, error) {
	if maxDimension <= 0 {
		return data, mimeType, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image header: %w", err)
	}
	if cfg.Width <= maxDimension && cfg.Height <= maxDimension {
		return data, mimeType, nil
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxThumbnailPixels {
		return nil, "", fmt.Errorf("%w: %dx%d", ErrTooManyPixels, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	newWidth, newHeight := thumbnailDimensions(bounds.Dx(), bounds.Dy(), maxDimension)
	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	outType := "image/jpeg"
	if mimeType == "image/png" {
		outType = "image/png"
		err = png.Encode(&buf, resized)
	} else {
		err = jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85})
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	log.Debug().
		Int("orig_width", bounds.Dx()).
		Int("orig_height", bounds.Dy()).
		Int("new_width", newWidth).
		Int("new_height", newHeight).
		Int("output_size", buf.Len()).
		Msg("Thumbnail generated")

	return buf.Bytes(), outType, nil
}

// thumbnailDimensions keeps the aspect ratio while fitting maxDimension.
func thumbnailDimensions(width, height, maxDimension int) (int, int) {
	if width <= maxDimension && height <= maxDimension {
		return width, height
	}
	if width > height {
		return maxDimension, max(1, height*maxDimension/width)
	}
	return max(1, width*maxDimension/height), maxDimension
}
