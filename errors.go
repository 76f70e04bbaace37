package zipcore

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat is returned when the input is not a valid ZIP archive:
	// missing or bad signatures, a trailer that cannot be located, truncated
	// records, or local headers that disagree with the central directory.
	ErrFormat = errors.New("zip: not a valid zip file")

	// ErrUnsupported is returned for structurally valid archives that use a
	// feature this package deliberately does not implement: ZIP64 sizes,
	// encryption, or multi-disk spanning.
	ErrUnsupported = errors.New("zip: unsupported feature")

	// ErrAlgorithm is returned when an entry's compression method has no
	// registered decompressor or compressor. It matches ErrUnsupported under
	// errors.Is.
	ErrAlgorithm = fmt.Errorf("%w: compression algorithm", ErrUnsupported)

	// ErrChecksum is returned when an entry has been fully read and the
	// accumulated CRC32 does not match the stored value.
	ErrChecksum = errors.New("zip: checksum error")

	// ErrSizeMismatch is returned when an entry's decompressed data does not
	// match the size declared in the directory.
	ErrSizeMismatch = errors.New("zip: uncompressed size mismatch")

	// ErrFileNotFound is returned when the requested entry is not present in
	// the archive.
	ErrFileNotFound = errors.New("zip: file not found")

	// ErrEntryInProgress is returned by StartEntry while a previous entry
	// has not been closed yet.
	ErrEntryInProgress = errors.New("zip: entry still open")

	// ErrWriterClosed is returned by any mutating call after the archive has
	// been finalized, and by writes through an already-closed entry.
	ErrWriterClosed = errors.New("zip: writer closed")

	// ErrWriteToDirectory is returned when data is written to an entry whose
	// name marks it as a directory.
	ErrWriteToDirectory = errors.New("zip: write to directory entry")

	// ErrFilenameTooLong is returned when a filename exceeds 65535 bytes.
	ErrFilenameTooLong = errors.New("zip: filename too long")

	// ErrCommentTooLong is returned when an archive or file comment exceeds
	// 65535 bytes.
	ErrCommentTooLong = errors.New("zip: comment too long")

	// ErrExtraFieldTooLong is returned when the total size of extra fields
	// exceeds 65535 bytes.
	ErrExtraFieldTooLong = errors.New("zip: extra field too long")
)
