// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipcore

import (
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"math"

	"github.com/lemon4ksan/zipcore/internal"
	"github.com/lemon4ksan/zipcore/internal/sys"
)

// ReaderOption configures a Reader before the directory is parsed.
type ReaderOption func(r *Reader)

// WithTextDecoder installs a decoder for entry names and comments stored in
// a legacy 8-bit encoding (entries without the language-encoding flag).
// Without it such names are returned byte-for-byte as stored.
func WithTextDecoder(d TextDecoder) ReaderOption {
	return func(r *Reader) { r.textDecoder = d }
}

// WithDecompressor registers or replaces the decompressor used for a method
// code. Stored, Deflated and ZStandard are available by default.
func WithDecompressor(method CompressionMethod, d Decompressor) ReaderOption {
	return func(r *Reader) { r.decompressors[method] = d }
}

// Reader provides random access to the entries of a ZIP archive. The
// directory is parsed once, in full, by NewReader and is immutable
// afterwards: lookups are safe for concurrent use, and entries may be opened
// concurrently because each open stream positions the source independently.
type Reader struct {
	src           io.ReaderAt      // Source stream for reading archive data
	size          int64            // Total size of the archive
	comment       string           // Archive comment from the end record
	entries       []*Entry         // Parsed entries in storage order
	decompressors decompressorsMap // Registry of available decompressors
	textDecoder   TextDecoder      // Legacy filename and comment decoder
}

// NewReader parses the central directory of the archive in src, which must
// be size bytes long. Parsing is all-or-nothing: a malformed directory
// returns ErrFormat and no partial listing. Archives using multi-disk
// spanning or ZIP64 trailer fields return ErrUnsupported. Entries using
// unsupported per-entry features still appear in the listing; only opening
// them fails.
func NewReader(src io.ReaderAt, size int64, options ...ReaderOption) (*Reader, error) {
	r := &Reader{
		src:  src,
		size: size,
		decompressors: decompressorsMap{
			Stored:    new(StoredDecompressor),
			Deflated:  new(DeflateDecompressor),
			ZStandard: new(ZstdDecompressor),
		},
	}
	for _, option := range options {
		option(r)
	}

	if err := r.readDirectory(); err != nil {
		return nil, err
	}
	return r, nil
}

// Entries returns all entries in storage order. The returned slice is shared
// and must not be modified.
func (r *Reader) Entries() []*Entry { return r.entries }

// Entry returns the first entry whose decoded name matches name. The format
// does not guarantee unique names; with duplicates the earliest entry in
// storage order wins. Use Entries for index-based access.
func (r *Reader) Entry(name string) (*Entry, error) {
	for _, e := range r.entries {
		if e.name == name {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrFileNotFound, name)
}

// Comment returns the archive comment from the end-of-central-directory
// record.
func (r *Reader) Comment() string { return r.comment }

// readDirectory locates the trailer and parses the full central directory.
func (r *Reader) readDirectory() error {
	end, endOffset, err := r.findEndOfCentralDir()
	if err != nil {
		return err
	}

	if end.ThisDiskNum != 0 || end.DiskNumWithTheStartOfCentralDir != 0 ||
		end.TotalNumberOfEntriesOnThisDisk != end.TotalNumberOfEntries {
		return fmt.Errorf("%w: multi-disk archive", ErrUnsupported)
	}
	if end.TotalNumberOfEntries == math.MaxUint16 ||
		end.CentralDirSize == math.MaxUint32 || end.CentralDirOffset == math.MaxUint32 {
		return fmt.Errorf("%w: archive requires ZIP64", ErrUnsupported)
	}

	cdOffset, cdSize := int64(end.CentralDirOffset), int64(end.CentralDirSize)
	if cdOffset+cdSize > endOffset {
		return fmt.Errorf("%w: truncated central directory", ErrFormat)
	}

	entriesNum := int(end.TotalNumberOfEntries)
	entries := make([]*Entry, 0, min(entriesNum, 1024))

	// Bounding the section to the declared directory size turns over-reads
	// into EOF, so oversized records surface as corruption below.
	cdReader := io.NewSectionReader(r.src, cdOffset, cdSize)

	for i := 0; i < entriesNum; i++ {
		if !verifySignature(cdReader, internal.CentralDirectorySignature) {
			return fmt.Errorf("%w: expected central directory signature at entry %d", ErrFormat, i)
		}

		record, err := internal.ReadCentralDirEntry(cdReader)
		if err != nil {
			return fmt.Errorf("%w: decode central directory entry %d: %v", ErrFormat, i, err)
		}

		e := r.newEntryFromCentralDir(record)
		if e.unsupported == nil && int64(e.localHeaderOffset)+internal.LocalFileHeaderLen > cdOffset {
			return fmt.Errorf("%w: entry %d local header offset out of bounds", ErrFormat, i)
		}
		entries = append(entries, e)
	}

	r.comment = end.Comment
	r.entries = entries
	return nil
}

// findEndOfCentralDir scans backward for the end-of-central-directory
// record. The search is bounded to the final 22+65535 bytes of the stream,
// the largest possible trailer. A signature candidate counts only if its
// comment-length field makes the record reach exactly to the end of the
// stream; that is what disambiguates the true trailer from signature bytes
// that merely appear inside the archive comment.
func (r *Reader) findEndOfCentralDir() (internal.EndOfCentralDirectory, int64, error) {
	var end internal.EndOfCentralDirectory

	if r.size < internal.EndOfCentralDirLen {
		return end, 0, fmt.Errorf("%w: file too small", ErrFormat)
	}

	const bufSize = 1024
	buf := make([]byte, bufSize)

	searchLimit := min(int64(internal.MaxCommentLength)+internal.EndOfCentralDirLen, r.size)
	windowStart := r.size - searchLimit

	// Scan backwards in chunks, overlapping by 3 bytes so signatures that
	// cross a chunk boundary are still seen.
	for chunkEnd := r.size; chunkEnd-windowStart >= 4; {
		chunkStart := max(windowStart, chunkEnd-bufSize)
		n := int(chunkEnd - chunkStart)

		if _, err := r.src.ReadAt(buf[:n], chunkStart); err != nil && err != io.EOF {
			return end, 0, fmt.Errorf("read at %d: %w", chunkStart, err)
		}

		for p := n - 4; p >= 0; p-- {
			if binary.LittleEndian.Uint32(buf[p:p+4]) != internal.EndOfCentralDirSignature {
				continue
			}
			recordOffset := chunkStart + int64(p)
			candidate, err := r.readEndOfCentralDirAt(recordOffset)
			if err != nil {
				continue
			}
			return candidate, recordOffset, nil
		}

		if chunkStart == windowStart {
			break
		}
		chunkEnd = chunkStart + 3
	}

	return end, 0, fmt.Errorf("%w: no end of central directory signature found", ErrFormat)
}

// readEndOfCentralDirAt parses a trailer candidate and rejects it unless the
// record terminates exactly at the end of the stream.
func (r *Reader) readEndOfCentralDirAt(offset int64) (internal.EndOfCentralDirectory, error) {
	sr := io.NewSectionReader(r.src, offset+4, r.size-(offset+4))
	end, err := internal.ReadEndOfCentralDir(sr)
	if err != nil {
		return end, err
	}
	if offset+internal.EndOfCentralDirLen+int64(end.CommentLength) != r.size {
		return end, fmt.Errorf("%w: trailer does not reach end of stream", ErrFormat)
	}
	return end, nil
}

// newEntryFromCentralDir creates an Entry from a central directory record.
func (r *Reader) newEntryFromCentralDir(record internal.CentralDirectory) *Entry {
	host := sys.HostSystem(record.VersionMadeBy >> 8)

	e := &Entry{
		rawName:           record.Filename,
		name:              decodeText(record.Filename, record.GeneralPurposeBitFlag, r.textDecoder),
		flags:             record.GeneralPurposeBitFlag,
		method:            CompressionMethod(record.CompressionMethod),
		uncompressedSize:  record.UncompressedSize,
		compressedSize:    record.CompressedSize,
		crc32:             record.CRC32,
		localHeaderOffset: record.LocalHeaderOffset,
		hostSystem:        host,
		externalAttrs:     record.ExternalFileAttributes,
		modTime:           msDosToTime(record.LastModFileDate, record.LastModFileTime),
		comment:           decodeText(record.Comment, record.GeneralPurposeBitFlag, r.textDecoder),
		extraField:        record.ExtraField,
	}
	e.mode = fileModeFromAttrs(host, record.ExternalFileAttributes, e.IsDir())
	e.unsupported = classifyUnsupported(record)
	e.openFunc = func() (io.ReadCloser, error) {
		return r.openEntry(e)
	}

	return e
}

// classifyUnsupported detects per-entry features this package refuses to
// decode. The resulting error is deferred: it surfaces when the entry is
// opened, keeping the rest of the archive accessible.
func classifyUnsupported(record internal.CentralDirectory) error {
	if record.GeneralPurposeBitFlag&flagEncrypted != 0 {
		return fmt.Errorf("%w: encrypted entry", ErrUnsupported)
	}
	if record.CompressedSize == math.MaxUint32 || record.UncompressedSize == math.MaxUint32 ||
		record.LocalHeaderOffset == math.MaxUint32 {
		return fmt.Errorf("%w: entry requires ZIP64", ErrUnsupported)
	}
	if _, ok := record.ExtraField[Zip64ExtraFieldTag]; ok {
		return fmt.Errorf("%w: entry requires ZIP64", ErrUnsupported)
	}
	if record.DiskNumberStart != 0 {
		return fmt.Errorf("%w: entry spans disks", ErrUnsupported)
	}
	return nil
}

// openEntry implements the openFunc for an Entry created from the central
// directory. It re-reads the local header at the recorded offset,
// cross-validates it against the directory copy, and sets up decompression
// with CRC32 verification.
func (r *Reader) openEntry(e *Entry) (io.ReadCloser, error) {
	if e.unsupported != nil {
		return nil, e.unsupported
	}

	headerReader := io.NewSectionReader(r.src, int64(e.localHeaderOffset), r.size-int64(e.localHeaderOffset))
	if !verifySignature(headerReader, internal.LocalFileHeaderSignature) {
		return nil, fmt.Errorf("%w: expected local file header signature", ErrFormat)
	}

	local, err := internal.ReadLocalFileHeader(headerReader)
	if err != nil {
		return nil, fmt.Errorf("%w: read local header: %v", ErrFormat, err)
	}
	if err := validateLocalHeader(local, e); err != nil {
		return nil, err
	}

	// The local extra field may legitimately differ in length from the
	// central copy; the data starts right after it.
	dataOffset := int64(e.localHeaderOffset) + internal.LocalFileHeaderLen +
		int64(local.FilenameLength) + int64(local.ExtraFieldLength)
	if dataOffset+int64(e.compressedSize) > r.size {
		return nil, fmt.Errorf("%w: entry data out of bounds", ErrFormat)
	}

	decompressor, ok := r.decompressors[e.method]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrAlgorithm, e.method)
	}

	dataReader := io.NewSectionReader(r.src, dataOffset, int64(e.compressedSize))
	rc, err := decompressor.Decompress(dataReader)
	if err != nil {
		return nil, fmt.Errorf("decompress data: %w", err)
	}

	cr := &checksumReader{
		rc:       rc,
		hash:     crc32.NewIEEE(),
		want:     e.crc32,
		size:     uint64(e.uncompressedSize),
		compSize: e.compressedSize,
	}
	if local.GeneralPurposeBitFlag&flagDataDescriptor != 0 {
		// Sizes come from the directory, so the descriptor's position is
		// known; it is read back and checked once the data is exhausted.
		descOffset := dataOffset + int64(e.compressedSize)
		cr.desc = io.NewSectionReader(r.src, descOffset, min(r.size-descOffset, internal.DataDescriptorLen))
	}
	return cr, nil
}

// validateLocalHeader guards against divergence between an entry's local
// header and its central directory record, which signals tampering or
// corruption. When the descriptor flag is set the local CRC/size fields may
// be zero placeholders; otherwise they must match the directory exactly.
func validateLocalHeader(local internal.LocalFileHeader, e *Entry) error {
	if local.Filename != e.rawName {
		return fmt.Errorf("%w: local header name does not match directory", ErrFormat)
	}
	if CompressionMethod(local.CompressionMethod) != e.method {
		return fmt.Errorf("%w: local header method does not match directory", ErrFormat)
	}

	if local.GeneralPurposeBitFlag&flagDataDescriptor != 0 {
		if (local.CRC32 != 0 && local.CRC32 != e.crc32) ||
			(local.CompressedSize != 0 && local.CompressedSize != e.compressedSize) ||
			(local.UncompressedSize != 0 && local.UncompressedSize != e.uncompressedSize) {
			return fmt.Errorf("%w: local header fields do not match directory", ErrFormat)
		}
		return nil
	}

	if local.CRC32 != e.crc32 || local.CompressedSize != e.compressedSize ||
		local.UncompressedSize != e.uncompressedSize {
		return fmt.Errorf("%w: local header fields do not match directory", ErrFormat)
	}
	return nil
}

// verifySignature checks whether the next 4 bytes match the given signature.
func verifySignature(r io.Reader, s uint32) bool {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return false
	}
	return binary.LittleEndian.Uint32(buf[:]) == s
}

// checksumReader wraps an entry's decompressed stream to verify its size and
// CRC32. Verification fires exactly once, when the stream is exhausted;
// closing early skips it, and bytes already delivered are never retracted.
type checksumReader struct {
	rc       io.ReadCloser
	hash     hash.Hash32
	want     uint32
	read     uint64
	size     uint64
	compSize uint32    // Declared compressed size, for descriptor cross-check
	desc     io.Reader // Trailing data descriptor region; nil when absent
	err      error     // Sticky result after exhaustion or failure
}

// Read implements io.Reader while calculating CRC32 and tracking bytes read.
func (cr *checksumReader) Read(p []byte) (int, error) {
	if cr.err != nil {
		return 0, cr.err
	}

	n, err := cr.rc.Read(p)
	if n > 0 {
		cr.read += uint64(n)
		cr.hash.Write(p[:n])
		if cr.read > cr.size {
			err = fmt.Errorf("%w: read %d, want %d", ErrSizeMismatch, cr.read, cr.size)
		}
	}

	if err == io.EOF {
		if cr.read != cr.size {
			err = fmt.Errorf("%w: read %d, want %d", ErrSizeMismatch, cr.read, cr.size)
		} else if descErr := cr.verifyDescriptor(); descErr != nil {
			err = descErr
		} else if got := cr.hash.Sum32(); got != cr.want {
			err = fmt.Errorf("%w: got %08x, want %08x", ErrChecksum, got, cr.want)
		}
	}

	cr.err = err
	return n, err
}

// verifyDescriptor reads the trailing data descriptor and checks it against
// the directory's values.
func (cr *checksumReader) verifyDescriptor() error {
	if cr.desc == nil {
		return nil
	}
	desc, err := internal.ReadDataDescriptor(cr.desc)
	if err != nil {
		return fmt.Errorf("%w: read data descriptor: %v", ErrFormat, err)
	}
	if desc.CRC32 != cr.want || desc.CompressedSize != cr.compSize ||
		desc.UncompressedSize != uint32(cr.size) {
		return fmt.Errorf("%w: data descriptor does not match directory", ErrFormat)
	}
	return nil
}

// Close releases the underlying decompressor. It never triggers
// verification; a partially consumed entry closes cleanly.
func (cr *checksumReader) Close() error {
	return cr.rc.Close()
}
