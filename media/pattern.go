package media

import (
	"errors"
	"image"
	"image/color"
	"sync"
)

// PatternSource renders a synthetic frame: a colour gradient with a bar that
// moves one step per sample. Useful for soak runs without a camera and as a
// test double.
type PatternSource struct {
	mu     sync.Mutex
	width  int
	height int
	ready  bool
	frame  int
}

func NewPatternSource(width, height int) *PatternSource {
	return &PatternSource{width: width, height: height, ready: true}
}

// SetReady simulates a source that has not decoded its first frame yet.
func (p *PatternSource) SetReady(ready bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = ready
}

// Resize changes the frame size; zero dimensions model a stalled source.
func (p *PatternSource) Resize(width, height int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.width, p.height = width, height
}

func (p *PatternSource) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

func (p *PatternSource) Dimensions() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.width, p.height
}

// Frames returns how many frames have been sampled.
func (p *PatternSource) Frames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frame
}

func (p *PatternSource) Sample() (image.Image, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.ready {
		return nil, errors.New("pattern source not ready")
	}
	if p.width <= 0 || p.height <= 0 {
		return nil, errors.New("pattern source has no size")
	}
	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))

	bar := p.frame % p.width
	barWidth := max(p.width/16, 1)
	for y := 0; y < p.height; y++ {
		for x := 0; x < p.width; x++ {
			if x >= bar && x < bar+barWidth {
				img.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
				continue
			}
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x * 255 / p.width),
				G: uint8(y * 255 / p.height),
				B: uint8(p.frame * 8),
				A: 255,
			})
		}
	}
	p.frame++
	return img, nil
}
