// Package payload defines the sized values stored by tiercache.
package payload

import "image"

// BytesPerPixel is the accounting cost of one decoded pixel (RGBA, 8 bits
// per channel).
const BytesPerPixel = 4

// Blob is an opaque byte payload; its cost is its length.
type Blob []byte

// Size implements cache.Sizer.
func (b Blob) Size() int64 { return int64(len(b)) }

// Bitmap is a decoded image. Its cost is width×height×BytesPerPixel
// regardless of the in-memory pixel format.
type Bitmap struct {
	image.Image
}

// NewBitmap wraps img.
func NewBitmap(img image.Image) *Bitmap { return &Bitmap{Image: img} }

// Size implements cache.Sizer. A nil Bitmap or one without an image costs 0.
func (b *Bitmap) Size() int64 {
	if b == nil || b.Image == nil {
		return 0
	}
	r := b.Bounds()
	return int64(r.Dx()) * int64(r.Dy()) * BytesPerPixel
}
