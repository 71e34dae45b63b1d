package provider

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"leakdetector/internal/pkg/hash"

	"github.com/go-kratos/kratos/v2/log"
)

func gradientPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			gray := uint8((x + y) * 255 / (width + height))
			img.Set(x, y, color.RGBA{gray, gray, gray, 255})
		}
	}
	return encode(t, img)
}

func checkerPNG(t *testing.T, width, height, cell int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if (x/cell+y/cell)%2 == 0 {
				img.Set(x, y, color.White)
			} else {
				img.Set(x, y, color.Black)
			}
		}
	}
	return encode(t, img)
}

func encode(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode failed: %v", err)
	}
	return buf.Bytes()
}

func newTestVerifier(cache ThumbnailCache) *ThumbnailVerifier {
	return NewThumbnailVerifier(hash.NewPerceptualHasher(), hash.DefaultThresholds(), cache, 4, log.DefaultLogger)
}
