//go:build !tesseract

package ocr

import (
	"context"
	"image"
)

// TesseractEngine is a placeholder used when the binary is built without the
// tesseract tag. Every call reports ErrUnavailable.
type TesseractEngine struct{}

func NewTesseractEngine(languages ...string) *TesseractEngine {
	return &TesseractEngine{}
}

func (e *TesseractEngine) Name() string { return "tesseract (disabled)" }

func (e *TesseractEngine) Recognize(ctx context.Context, img image.Image) (string, error) {
	return "", ErrUnavailable
}
