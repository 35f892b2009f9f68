package ai

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"objectdetection/internal/model"
)

// MaxDimension bounds either side of an accepted frame.
const MaxDimension = 8192

var supportedMIME = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/bmp":  true,
	"image/tiff": true,
	"image/webp": true,
}

// ImageInfo is what Validate learns from an image header.
type ImageInfo struct {
	MIME   string
	Format string
	Width  int
	Height int
}

// IsImage reports whether data starts with a supported image signature.
func IsImage(data []byte) bool {
	return supportedMIME[DetectMIME(data)]
}

// DetectMIME returns the sniffed MIME type without parameters.
func DetectMIME(data []byte) string {
	return strings.Split(mimetype.Detect(data).String(), ";")[0]
}

// Validate checks that data is a supported image with sane dimensions. It
// reads only the header, so it is cheap and runs outside the engine guard.
func Validate(data []byte) (ImageInfo, error) {
	if len(data) == 0 {
		return ImageInfo{}, model.NewError(model.CodeDecode, "", "empty image buffer")
	}

	mime := DetectMIME(data)
	if !supportedMIME[mime] {
		return ImageInfo{}, model.NewError(model.CodeDecode, "", "unsupported image type %s", mime)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageInfo{}, model.WrapError(model.CodeDecode, "", errors.Wrapf(err, "failed to decode %s header", mime))
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > MaxDimension || cfg.Height > MaxDimension {
		return ImageInfo{}, model.NewError(model.CodeDecode, "", "image dimensions %dx%d out of range", cfg.Width, cfg.Height)
	}

	return ImageInfo{MIME: mime, Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}
