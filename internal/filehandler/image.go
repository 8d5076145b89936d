package filehandler

import (
	"bytes"
	"image"
	_ "image/gif"  // register GIF decoder for image.DecodeConfig
	_ "image/jpeg" // register JPEG decoder for image.DecodeConfig
	_ "image/png"  // register PNG decoder for image.DecodeConfig
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/webp" // register WebP decoder for image.DecodeConfig
)

// ImageInfo is the best-effort description shown next to the preview.
// Every field is optional: a missing EXIF block or an undecodable header
// (HEIC, for instance) leaves the zero value in place.
type ImageInfo struct {
	Width  int
	Height int

	CameraMake  string
	CameraModel string

	DateTaken time.Time
	HasDate   bool
}

// HasDimensions reports whether the pixel size could be read from the header.
func (i ImageInfo) HasDimensions() bool {
	return i.Width > 0 && i.Height > 0
}

// Camera joins make and model, e.g. "Apple iPhone 15 Pro".
func (i ImageInfo) Camera() string {
	return strings.TrimSpace(i.CameraMake + " " + i.CameraModel)
}

// ExtractImageInfo reads pixel dimensions from the image header and EXIF
// fields via evanoberholster/imagemeta. It never fails; problems are logged at
// debug level and the corresponding fields stay empty.
func ExtractImageInfo(data []byte) (info ImageInfo) {
	// imagemeta walks untrusted container structures.
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("EXIF decoding panicked, continuing without metadata")
		}
	}()

	if cfg, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		info.Width = cfg.Width
		info.Height = cfg.Height
		log.Debug().Str("format", format).Int("width", cfg.Width).Int("height", cfg.Height).Msg("Image header decoded")
	} else {
		log.Debug().Err(err).Msg("Image header not decodable, dimensions unavailable")
	}

	exifData, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Msg("No EXIF metadata in image")
		return info
	}

	info.CameraMake = strings.TrimSpace(exifData.Make)
	info.CameraModel = strings.TrimSpace(exifData.Model)

	// Priority: DateTimeOriginal > CreateDate > ModifyDate
	switch {
	case !exifData.DateTimeOriginal().IsZero():
		info.DateTaken, info.HasDate = exifData.DateTimeOriginal(), true
	case !exifData.CreateDate().IsZero():
		info.DateTaken, info.HasDate = exifData.CreateDate(), true
	case !exifData.ModifyDate().IsZero():
		info.DateTaken, info.HasDate = exifData.ModifyDate(), true
	}

	return info
}
