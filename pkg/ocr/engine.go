// Package ocr is the reference extraction collaborator: it turns a data-URI
// encoded prescription image into raw text.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/vincent-petithory/dataurl"
)

// ErrUnavailable is returned by engines that were not compiled in.
var ErrUnavailable = errors.New("ocr engine unavailable")

// Engine recognizes text in a preprocessed image.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, img image.Image) (string, error)
}

// DecodeImageDataURI returns the raw bytes of an image data URI.
func DecodeImageDataURI(s string) ([]byte, error) {
	if s == "" {
		return nil, errors.New("no image data provided")
	}
	du, err := dataurl.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid image data format: %w", err)
	}
	if du.Type != "image" {
		return nil, fmt.Errorf("invalid image data format: unexpected media type %s", du.ContentType())
	}
	if len(du.Data) == 0 {
		return nil, errors.New("no image data provided")
	}
	return du.Data, nil
}
