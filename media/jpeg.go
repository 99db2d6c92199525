package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

const DefaultJPEGQuality = 70

// JPEGEncoder encodes frames as baseline JPEG at a fixed quality, optionally
// downscaling wide frames first. The output buffer and scaling canvas are
// reused between calls, so an encoder must not be shared between goroutines.
type JPEGEncoder struct {
	quality  int
	maxWidth int
	buf      bytes.Buffer
	canvas   *image.RGBA
}

// NewJPEGEncoder clamps quality to 1..100. maxWidth <= 0 disables scaling.
func NewJPEGEncoder(quality, maxWidth int) *JPEGEncoder {
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}
	if quality > 100 {
		quality = 100
	}
	return &JPEGEncoder{quality: quality, maxWidth: maxWidth}
}

func (e *JPEGEncoder) Quality() int { return e.quality }

func (e *JPEGEncoder) ContentType() string { return "image/jpeg" }

func (e *JPEGEncoder) Encode(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("encode jpeg: nil image")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("encode jpeg: empty image %dx%d", b.Dx(), b.Dy())
	}

	e.buf.Reset()
	if err := jpeg.Encode(&e.buf, e.scale(img), &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	out := make([]byte, e.buf.Len())
	copy(out, e.buf.Bytes())
	return out, nil
}

func (e *JPEGEncoder) scale(img image.Image) image.Image {
	b := img.Bounds()
	if e.maxWidth <= 0 || b.Dx() <= e.maxWidth {
		return img
	}
	h := b.Dy() * e.maxWidth / b.Dx()
	if h < 1 {
		h = 1
	}
	if e.canvas == nil || e.canvas.Bounds().Dx() != e.maxWidth || e.canvas.Bounds().Dy() != h {
		e.canvas = image.NewRGBA(image.Rect(0, 0, e.maxWidth, h))
	}
	draw.ApproxBiLinear.Scale(e.canvas, e.canvas.Bounds(), img, b, draw.Src, nil)
	return e.canvas
}
