// media/interface.go
package media

import "image"

// Source is anything a frame can be sampled from: a camera, a decoded video,
// a directory of stills, or a synthetic test pattern.
type Source interface {
	// Ready reports whether a decoded frame is available.
	Ready() bool
	// Dimensions of the frame the next Sample will return. Zero means unknown.
	Dimensions() (width, height int)
	Sample() (image.Image, error)
}

// Encoder turns a sampled frame into compact bytes for transmission.
type Encoder interface {
	Encode(img image.Image) ([]byte, error)
	ContentType() string
}
