package codec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// DefaultMaxDecodedBytes caps the memory a single Zstd decode may use.
const DefaultMaxDecodedBytes = 64 << 20

// Zstd wraps another codec and compresses its output with zstd frames.
// A zstd frame carries a checksum, so truncated or overwritten files are
// detected on Decode even when the inner codec accepts any bytes.
type Zstd[V any] struct {
	inner Codec[V]
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

// NewZstd builds a Zstd codec around inner. EncodeAll and DecodeAll are
// used, so the returned codec is safe for concurrent use.
func NewZstd[V any](inner Codec[V]) (*Zstd[V], error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderConcurrency(1),
		zstd.WithLowerEncoderMem(true),
		zstd.WithEncoderCRC(true),
	)
	if err != nil {
		return nil, fmt.Errorf("codec: create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(0),
		zstd.WithDecoderMaxMemory(DefaultMaxDecodedBytes),
	)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("codec: create zstd decoder: %w", err)
	}
	return &Zstd[V]{inner: inner, enc: enc, dec: dec}, nil
}

// Encode encodes v with the inner codec and compresses the result.
func (z *Zstd[V]) Encode(v V) ([]byte, error) {
	raw, err := z.inner.Encode(v)
	if err != nil {
		return nil, err
	}
	return z.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

// Decode decompresses data and decodes it with the inner codec.
// Empty input is corrupt: Encode always emits at least a frame header.
func (z *Zstd[V]) Decode(data []byte) (V, error) {
	if len(data) == 0 {
		var zero V
		return zero, fmt.Errorf("%w: zstd: empty frame", ErrCorrupt)
	}
	raw, err := z.dec.DecodeAll(data, nil)
	if err != nil {
		var zero V
		return zero, fmt.Errorf("%w: zstd: %w", ErrCorrupt, err)
	}
	return z.inner.Decode(raw)
}

// Close releases encoder and decoder resources.
func (z *Zstd[V]) Close() error {
	z.dec.Close()
	return z.enc.Close()
}
