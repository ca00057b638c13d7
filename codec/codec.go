// Package codec converts payloads to and from their persisted byte form.
//
// A Decode failure always wraps ErrCorrupt; the disk tier treats such an
// entry as damaged and deletes it.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"

	// Decoders registered with image.Decode.
	_ "image/gif"
	_ "image/jpeg"

	"github.com/IvanBrykalov/tiercache/payload"
)

// ErrCorrupt reports bytes that cannot be decoded into a payload.
var ErrCorrupt = errors.New("codec: corrupt payload")

// Codec encodes and decodes values of type V.
// Implementations must be safe for concurrent use.
type Codec[V any] interface {
	Encode(v V) ([]byte, error)
	Decode(data []byte) (V, error)
}

// Blob stores payload.Blob values verbatim.
type Blob struct{}

// Encode returns a copy of v.
func (Blob) Encode(v payload.Blob) ([]byte, error) {
	return bytes.Clone([]byte(v)), nil
}

// Decode returns a copy of data. It never fails.
func (Blob) Decode(data []byte) (payload.Blob, error) {
	return payload.Blob(bytes.Clone(data)), nil
}

// Bitmap decodes any registered image format (PNG, JPEG, GIF) and encodes
// as PNG.
type Bitmap struct{}

// Encode writes v as PNG.
func (Bitmap) Encode(v *payload.Bitmap) ([]byte, error) {
	if v == nil || v.Image == nil {
		return nil, errors.New("codec: nil bitmap")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, v.Image); err != nil {
		return nil, fmt.Errorf("codec: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses data with image.Decode.
func (Bitmap) Decode(data []byte) (*payload.Bitmap, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return payload.NewBitmap(img), nil
}

var (
	_ Codec[payload.Blob]    = Blob{}
	_ Codec[*payload.Bitmap] = Bitmap{}
)
