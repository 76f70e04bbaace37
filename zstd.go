// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipcore

import (
	"io"

	"github.com/klauspost/compress/zstd"
)

// ZstdCompressor implements Zstandard compression (method 93).
// Encoders are created with concurrency 1 so that all work happens on the
// calling goroutine.
type ZstdCompressor struct {
	level zstd.EncoderLevel
}

// NewZstdCompressor creates a compressor for a specific level. Levels follow
// the zstd scale (1 fastest, 22 best); out-of-range values are clamped.
func NewZstdCompressor(level int) *ZstdCompressor {
	return &ZstdCompressor{level: zstd.EncoderLevelFromZstd(level)}
}

func (zc *ZstdCompressor) NewWriter(dest io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(dest,
		zstd.WithEncoderLevel(zc.level),
		zstd.WithEncoderConcurrency(1),
	)
}

// ZstdDecompressor implements Zstandard decompression (method 93).
type ZstdDecompressor struct{}

func (zd *ZstdDecompressor) Decompress(src io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(src, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}
