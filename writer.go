// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipcore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"math"
	"time"

	"github.com/lemon4ksan/zipcore/internal"
	"github.com/lemon4ksan/zipcore/internal/sys"
)

// WriterOption configures a Writer at construction time.
type WriterOption func(w *Writer)

// WithComment sets the archive comment stored in the end-of-central-directory
// record. Comments longer than 65535 bytes are rejected by Close.
func WithComment(comment string) WriterOption {
	return func(w *Writer) { w.comment = comment }
}

// WithCompressor registers a codec factory for a method code, replacing the
// built-in Stored, Deflated or ZStandard codec or adding a new method. The
// factory is invoked once per compression level and the result is reused.
func WithCompressor(method CompressionMethod, factory CompressorFactory) WriterOption {
	return func(w *Writer) { w.factories[method] = factory }
}

// Writer produces a ZIP archive by appending entries to a destination
// stream. Entries are written strictly one at a time: StartEntry hands out
// an EntryWriter, and the next entry can begin only after it is closed.
// Close finalizes the archive with the central directory and end record.
//
// When the destination implements io.WriteSeeker each entry's local header
// is patched in place once its sizes are known. Otherwise the writer stays
// strictly sequential and emits a data descriptor after each entry's data,
// which is the layout expected by streaming consumers.
//
// A Writer is single-owner: methods must not be called concurrently.
type Writer struct {
	dest    io.Writer
	seeker  io.WriteSeeker // Non-nil when dest supports in-place header patching
	base    int64          // Position of dest where the archive starts
	comment string

	factories   factoriesMap   // Custom codec factories by method
	compressors compressorsMap // Resolved codec instances by method and level

	entriesNum       int           // Number of entries written to the archive
	sizeOfCentralDir int64         // Cumulative size of central directory records
	headerOffset     int64         // Current write position relative to archive start
	centralDir       *bytes.Buffer // Accumulates central directory records until Close

	current *EntryWriter // Entry being written, nil between entries
	closed  bool
}

// NewWriter returns a Writer that assembles an archive in dest. The
// destination is probed once for io.WriteSeeker support to pick between
// header patching and data descriptors; everything else is decided per
// entry. The Writer never closes dest.
func NewWriter(dest io.Writer, options ...WriterOption) *Writer {
	w := &Writer{
		dest:        dest,
		factories:   make(factoriesMap),
		compressors: make(compressorsMap),
		centralDir:  new(bytes.Buffer),
	}

	if seeker, ok := dest.(io.WriteSeeker); ok {
		// The stream may start mid-file; header patch positions are
		// relative to wherever the archive begins.
		if base, err := seeker.Seek(0, io.SeekCurrent); err == nil {
			w.seeker = seeker
			w.base = base
		}
	}

	for _, option := range options {
		option(w)
	}
	return w
}

// StartEntry begins a new entry with the given name and returns the
// EntryWriter its content must be written through. Names are stored as
// given, byte for byte; a trailing slash marks a directory entry, which
// accepts no content. Only one entry may be open at a time: starting
// another before closing the previous fails with ErrEntryInProgress.
// A failed StartEntry writes nothing to the destination.
func (w *Writer) StartEntry(name string, options ...EntryOption) (*EntryWriter, error) {
	if w.closed {
		return nil, ErrWriterClosed
	}
	if w.current != nil {
		return nil, ErrEntryInProgress
	}
	if len(name) > math.MaxUint16 {
		return nil, ErrFilenameTooLong
	}
	if w.entriesNum >= math.MaxUint16-1 {
		return nil, fmt.Errorf("%w: too many entries", ErrUnsupported)
	}
	if w.headerOffset >= math.MaxUint32 {
		return nil, fmt.Errorf("%w: archive requires ZIP64", ErrUnsupported)
	}

	e := &Entry{
		rawName:    name,
		name:       name,
		mode:       0644,
		method:     Deflated,
		modTime:    time.Now(),
		hostSystem: sys.HostSystemByOS(),
		extraField: make(map[uint16][]byte),
	}
	if e.IsDir() {
		e.mode = fs.ModeDir | 0755
	}
	for _, option := range options {
		option(e)
	}
	if e.IsDir() {
		// Directories carry no data, so compression is meaningless.
		e.method = Stored
	}

	if len(e.comment) > math.MaxUint16 {
		return nil, ErrCommentTooLong
	}
	if internal.ExtraFieldSize(e.extraField) > math.MaxUint16 {
		return nil, ErrExtraFieldTooLong
	}

	var comp Compressor
	if !e.IsDir() {
		var err error
		if comp, err = w.resolveCompressor(e.method, e.level); err != nil {
			return nil, err
		}
		if w.seeker == nil {
			// Sizes and CRC are unknown until the data has been written;
			// without seeking back they go into a trailing descriptor.
			e.flags |= flagDataDescriptor
		}
	}

	// The codec is opened before any header bytes go out; a StartEntry
	// that fails here must leave the stream untouched.
	ew := &EntryWriter{w: w, entry: e}
	if comp != nil {
		ew.count = &byteCountWriter{dest: w.dest}
		var err error
		if ew.comp, err = comp.NewWriter(ew.count); err != nil {
			return nil, fmt.Errorf("open compressor: %w", err)
		}
	}

	if err := w.writeLocalHeader(e); err != nil {
		return nil, err
	}

	w.current = ew
	return ew, nil
}

// Close finalizes the archive: it flushes the buffered central directory,
// then writes the end record carrying the archive comment. It fails with
// ErrEntryInProgress while an entry is still open and does not close the
// destination stream.
func (w *Writer) Close() error {
	if w.closed {
		return ErrWriterClosed
	}
	if w.current != nil {
		return ErrEntryInProgress
	}
	if len(w.comment) > internal.MaxCommentLength {
		return ErrCommentTooLong
	}
	if w.sizeOfCentralDir >= math.MaxUint32 || w.headerOffset >= math.MaxUint32 {
		return fmt.Errorf("%w: archive requires ZIP64", ErrUnsupported)
	}
	w.closed = true

	if _, err := w.dest.Write(w.centralDir.Bytes()); err != nil {
		return fmt.Errorf("write central directory: %w", err)
	}

	endOfCentralDir := internal.EncodeEndOfCentralDirRecord(
		w.entriesNum,
		uint64(w.sizeOfCentralDir),
		uint64(w.headerOffset),
		w.comment,
	)
	if _, err := w.dest.Write(endOfCentralDir); err != nil {
		return fmt.Errorf("write end of central directory: %w", err)
	}

	return nil
}

// Offset returns the number of archive bytes emitted so far, including any
// compressed data of the entry currently being written. After Close it is
// the offset of the central directory.
func (w *Writer) Offset() int64 {
	if w.current != nil && w.current.count != nil {
		return w.headerOffset + w.current.count.bytesWritten
	}
	return w.headerOffset
}

// writeLocalHeader writes the local file header for an entry and updates
// the write position tracker. In patch mode the CRC and size fields hold
// zeros until patchLocalHeader fills them in.
func (w *Writer) writeLocalHeader(e *Entry) error {
	e.localHeaderOffset = uint32(w.headerOffset)
	header := newZipHeaders(e).LocalHeader()

	if n, err := w.dest.Write(header.Encode()); err != nil {
		return fmt.Errorf("write header: %w", err)
	} else {
		w.headerOffset += int64(n)
	}

	return nil
}

// patchLocalHeader rewrites the CRC and size fields of an already written
// local header, then returns to the end of the stream. Requires a seekable
// destination.
func (w *Writer) patchLocalHeader(e *Entry) error {
	// CRC32 sits 14 bytes into the local header, followed by both sizes.
	if _, err := w.seeker.Seek(w.base+int64(e.localHeaderOffset)+14, io.SeekStart); err != nil {
		return fmt.Errorf("seek to CRC position: %w", err)
	}

	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:4], e.crc32)
	binary.LittleEndian.PutUint32(buf[4:8], e.compressedSize)
	binary.LittleEndian.PutUint32(buf[8:12], e.uncompressedSize)

	if _, err := w.seeker.Write(buf[:]); err != nil {
		return fmt.Errorf("write CRC and sizes: %w", err)
	}

	if _, err := w.seeker.Seek(w.base+w.headerOffset, io.SeekStart); err != nil {
		return fmt.Errorf("seek to end of stream: %w", err)
	}
	return nil
}

// addCentralDirEntry buffers the central directory record for a finished
// entry and updates the directory size tracker.
func (w *Writer) addCentralDirEntry(e *Entry) error {
	record := newZipHeaders(e).CentralDirEntry()

	if n, err := w.centralDir.Write(record.Encode()); err != nil {
		return err
	} else {
		w.sizeOfCentralDir += int64(n)
		w.entriesNum++
	}

	return nil
}

// resolveCompressor determines the codec for a method and level. Custom
// factories take precedence, then the built-in Stored, Deflated and
// ZStandard codecs. Resolved instances are cached per method and level so
// their internal pools are shared across entries.
func (w *Writer) resolveCompressor(method CompressionMethod, level int) (Compressor, error) {
	key := compressorKey{method: method, level: level}
	if comp, ok := w.compressors[key]; ok {
		return comp, nil
	}

	if factory, ok := w.factories[method]; ok {
		w.compressors[key] = factory(level)
		return w.compressors[key], nil
	}

	switch method {
	case Stored:
		return new(StoredCompressor), nil
	case Deflated:
		w.compressors[key] = NewDeflateCompressor(level)
		return w.compressors[key], nil
	case ZStandard:
		w.compressors[key] = NewZstdCompressor(level)
		return w.compressors[key], nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrAlgorithm, method)
	}
}

// EntryWriter receives the content of a single archive entry. Bytes written
// to it pass through the entry's codec into the archive while the CRC32 and
// sizes are tracked. Close completes the entry and releases the Writer for
// the next one.
type EntryWriter struct {
	w      *Writer
	entry  *Entry
	comp   io.WriteCloser   // Codec sink; nil for directory entries
	count  *byteCountWriter // Compressed bytes reaching the archive; nil for directory entries
	hash   countHashWriter  // CRC32 and byte count of the uncompressed content
	closed bool
}

// Write compresses p into the archive. Writing to a directory entry fails
// with ErrWriteToDirectory, and writing after Close fails with
// ErrWriterClosed. Entries whose sizes no longer fit the 32-bit header
// fields are refused.
func (ew *EntryWriter) Write(p []byte) (int, error) {
	if ew.closed {
		return 0, ErrWriterClosed
	}
	if ew.comp == nil {
		return 0, ErrWriteToDirectory
	}

	n, err := ew.comp.Write(p)
	ew.hash.Write(p[:n])
	if err != nil {
		return n, fmt.Errorf("compress: %w", err)
	}

	if ew.hash.count >= math.MaxUint32 || ew.count.bytesWritten >= math.MaxUint32 {
		return n, fmt.Errorf("%w: entry requires ZIP64", ErrUnsupported)
	}
	return n, nil
}

// Close flushes the entry's codec, completes its metadata and hands the
// Writer back for the next entry. Depending on the destination the local
// header is patched in place or a data descriptor is appended. Closing an
// already closed EntryWriter is a no-op.
func (ew *EntryWriter) Close() error {
	if ew.closed {
		return nil
	}
	ew.closed = true
	defer func() { ew.w.current = nil }()

	e := ew.entry
	if ew.comp != nil {
		if err := ew.comp.Close(); err != nil {
			return fmt.Errorf("close compressor: %w", err)
		}
		if ew.hash.count >= math.MaxUint32 || ew.count.bytesWritten >= math.MaxUint32 {
			return fmt.Errorf("%w: entry requires ZIP64", ErrUnsupported)
		}

		e.crc32 = ew.hash.crc
		e.uncompressedSize = uint32(ew.hash.count)
		e.compressedSize = uint32(ew.count.bytesWritten)
		ew.w.headerOffset += ew.count.bytesWritten

		if e.flags&flagDataDescriptor != 0 {
			desc := internal.DataDescriptor{
				CRC32:            e.crc32,
				CompressedSize:   e.compressedSize,
				UncompressedSize: e.uncompressedSize,
			}
			if n, err := ew.w.dest.Write(desc.Encode()); err != nil {
				return fmt.Errorf("write data descriptor: %w", err)
			} else {
				ew.w.headerOffset += int64(n)
			}
		} else if err := ew.w.patchLocalHeader(e); err != nil {
			return err
		}
	}

	return ew.w.addCentralDirEntry(e)
}
