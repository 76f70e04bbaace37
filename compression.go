// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipcore

import (
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
)

// CompressionMethod represents the compression algorithm used for a file in the ZIP archive
type CompressionMethod uint16

// Compression methods according to ZIP specification. Stored, Deflated and
// ZStandard have built-in codecs; the remaining codes are recognized in
// directory listings but need a registered codec before their data can be
// opened.
const (
	Stored    CompressionMethod = 0  // No compression - file stored as-is
	Deflated  CompressionMethod = 8  // DEFLATE compression (most common)
	Deflate64 CompressionMethod = 9  // DEFLATE64(tm) enhanced compression
	BZIP2     CompressionMethod = 12 // BZIP2 compression (more efficient but slower compression)
	LZMA      CompressionMethod = 14 // LZMA compression (high compression ratio)
	ZStandard CompressionMethod = 93 // Zstandard compression (fastest decompression)
)

// Compression levels for DEFLATE algorithm
const (
	DeflateNormal    = 6 // Default compression level (good balance between speed and ratio)
	DeflateMaximum   = 9 // Maximum compression (best ratio, slowest speed)
	DeflateFast      = 3 // Fast compression (lower ratio, faster speed)
	DeflateSuperFast = 1 // Super fast compression (lowest ratio, fastest speed)
)

// CompressorFactory creates a Compressor instance for a specific compression level.
// The level parameter is typically 0-9, but interpretations vary by algorithm.
// Implementations should normalize invalid levels to defaults.
type CompressorFactory func(level int) Compressor

// Compressor transforms raw data into compressed data.
type Compressor interface {
	// NewWriter wraps the destination sink. Bytes written to the returned
	// writer arrive at dest compressed; Close flushes the codec without
	// closing dest. NewWriter itself must not write to dest.
	NewWriter(dest io.Writer) (io.WriteCloser, error)
}

// Decompressor transforms compressed data back into raw data.
type Decompressor interface {
	// Decompress returns a stream of uncompressed data.
	Decompress(src io.Reader) (io.ReadCloser, error)
}

type compressorKey struct {
	method CompressionMethod
	level  int
}

type factoriesMap map[CompressionMethod]CompressorFactory
type compressorsMap map[compressorKey]Compressor
type decompressorsMap map[CompressionMethod]Decompressor

// StoredCompressor implements no compression (STORE method)
type StoredCompressor struct{}

func (sc *StoredCompressor) NewWriter(dest io.Writer) (io.WriteCloser, error) {
	return &nopWriteCloser{dest: dest}, nil
}

// DeflateCompressor implements DEFLATE compression with memory pooling
type DeflateCompressor struct {
	pool sync.Pool
}

// NewDeflateCompressor creates a reusable compressor for a specific level.
// Level 0 (unset) and invalid levels fall back to DeflateNormal; entries
// that should stay uncompressed use the Stored method instead.
func NewDeflateCompressor(level int) *DeflateCompressor {
	if level == 0 || level < flate.HuffmanOnly || level > flate.BestCompression {
		level = DeflateNormal
	}
	return &DeflateCompressor{
		pool: sync.Pool{
			New: func() interface{} {
				w, _ := flate.NewWriter(io.Discard, level)
				return w
			},
		},
	}
}

func (d *DeflateCompressor) NewWriter(dest io.Writer) (io.WriteCloser, error) {
	w := d.pool.Get().(*flate.Writer)
	w.Reset(dest)
	return &pooledFlateWriter{fw: w, pool: &d.pool}, nil
}

// pooledFlateWriter returns its flate.Writer to the pool on Close.
type pooledFlateWriter struct {
	fw   *flate.Writer
	pool *sync.Pool
}

func (w *pooledFlateWriter) Write(p []byte) (int, error) {
	if w.fw == nil {
		return 0, ErrWriterClosed
	}
	return w.fw.Write(p)
}

func (w *pooledFlateWriter) Close() error {
	if w.fw == nil {
		return nil
	}
	err := w.fw.Close()
	w.pool.Put(w.fw)
	w.fw = nil
	return err
}

// StoredDecompressor implements the "Store" method (no compression)
type StoredDecompressor struct{}

func (sd *StoredDecompressor) Decompress(src io.Reader) (io.ReadCloser, error) {
	if rc, ok := src.(io.ReadCloser); ok {
		return rc, nil
	}
	return io.NopCloser(src), nil
}

// DeflateDecompressor implements the "Deflate" method
type DeflateDecompressor struct{}

func (dd *DeflateDecompressor) Decompress(src io.Reader) (io.ReadCloser, error) {
	return flate.NewReader(src), nil
}
