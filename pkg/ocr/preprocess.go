package ocr

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

// Preprocessing parameters tuned for printed pharmacy labels.
const (
	contrastPercent = 50
	upscale         = 2
	blurSigma       = 1.0
)

// MaxPixels bounds both the decoded image and the upscaled one. Larger
// images are rejected before their pixels are allocated.
const MaxPixels = 50_000_000

// Preprocess decodes a PNG or JPEG and prepares it for recognition:
// grayscale, contrast boost, 2x Lanczos upscale and a mild Gaussian blur.
func Preprocess(data []byte) (*image.Gray, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > MaxPixels {
		return nil, fmt.Errorf("image too large: %dx%d exceeds %d pixels", cfg.Width, cfg.Height, MaxPixels)
	}

	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	img := imaging.Grayscale(src)
	img = imaging.AdjustContrast(img, contrastPercent)
	if f := scaleFactor(img.Bounds().Dx(), img.Bounds().Dy()); f > 1 {
		img = imaging.Resize(img, img.Bounds().Dx()*f, img.Bounds().Dy()*f, imaging.Lanczos)
	}
	img = imaging.Blur(img, blurSigma)

	return toGray(img), nil
}

// scaleFactor returns the upscale factor, or 1 when upscaling would push the
// image past MaxPixels.
func scaleFactor(w, h int) int {
	if int64(w)*int64(h)*upscale*upscale > MaxPixels {
		return 1
	}
	return upscale
}

func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}
