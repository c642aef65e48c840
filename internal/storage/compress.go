package storage

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// minCompressSize is the smallest value worth compressing before writing
// to the database.
const minCompressSize = 1024

// zstdMagic is the zstd frame header, used to detect compressed values
// on read.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// compressor transparently zstd-compresses large values. Encoders and
// decoders are pooled since construction is expensive.
type compressor struct {
	encoders sync.Pool
	decoders sync.Pool
}

func newCompressor() *compressor {
	return &compressor{
		encoders: sync.Pool{
			New: func() interface{} {
				enc, _ := zstd.NewWriter(nil,
					zstd.WithEncoderLevel(zstd.SpeedDefault),
					zstd.WithEncoderConcurrency(1),
				)
				return enc
			},
		},
		decoders: sync.Pool{
			New: func() interface{} {
				dec, _ := zstd.NewReader(nil,
					zstd.WithDecoderConcurrency(1),
				)
				return dec
			},
		},
	}
}

// compress returns value unchanged below the size threshold, otherwise a
// zstd frame.
func (c *compressor) compress(value []byte) []byte {
	if len(value) < minCompressSize {
		return value
	}

	enc := c.encoders.Get().(*zstd.Encoder)
	defer c.encoders.Put(enc)

	return enc.EncodeAll(value, nil)
}

// decompress sniffs the zstd magic bytes and decodes when present;
// anything else passes through untouched.
func (c *compressor) decompress(value []byte) ([]byte, error) {
	if len(value) < len(zstdMagic) || !bytes.Equal(value[:len(zstdMagic)], zstdMagic) {
		return value, nil
	}

	dec := c.decoders.Get().(*zstd.Decoder)
	defer c.decoders.Put(dec)

	out, err := dec.DecodeAll(value, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing value: %w", err)
	}
	return out, nil
}
