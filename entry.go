// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipcore

import (
	"io"
	"io/fs"
	"math"
	"strings"
	"time"

	"github.com/lemon4ksan/zipcore/internal"
	"github.com/lemon4ksan/zipcore/internal/sys"
)

// Constants defining ZIP format structure and special tag values
const (
	// LatestZipVersion represents the maximum ZIP specification version supported
	// by this implementation. Version 63 corresponds to ZIP 6.3 specification.
	LatestZipVersion uint16 = 63

	// Zip64ExtraFieldTag identifies the extra field that contains 64-bit size
	// and offset information for files exceeding 4GB limits. Entries carrying
	// it are listed but cannot be opened.
	Zip64ExtraFieldTag uint16 = 0x0001

	// NTFSFieldTag identifies the extra field that stores high-precision
	// NTFS file timestamps with 100-nanosecond resolution.
	NTFSFieldTag uint16 = 0x000A
)

// General-purpose bit flags.
const (
	flagEncrypted      uint16 = 0x0001 // Entry data is encrypted
	flagDataDescriptor uint16 = 0x0008 // CRC/sizes follow the data in a descriptor record
	flagUTF8           uint16 = 0x0800 // Filename and comment are UTF-8 (EFS)
)

// Entry represents one file entry within a ZIP archive: the metadata carried
// by a central directory record plus, for entries obtained from a Reader, a
// handle to the decompressed content. An Entry can represent a regular file
// or a directory.
type Entry struct {
	rawName string      // Name bytes exactly as stored in the archive
	name    string      // Display name after text decoding (equals rawName unless a TextDecoder applied)
	mode    fs.FileMode // Unix-style file permissions and type bits
	flags   uint16      // General-purpose bit flags
	method  CompressionMethod
	level   int // Compression level (write side only)

	uncompressedSize uint32 // Size of original content before compression in bytes
	compressedSize   uint32 // Size of compressed data within archive in bytes
	crc32            uint32 // CRC-32 checksum of uncompressed data

	localHeaderOffset uint32         // Byte offset of this entry's local header within archive
	hostSystem        sys.HostSystem // Operating system that created the entry (for attribute mapping)
	externalAttrs     uint32         // Raw external attributes from the central directory

	modTime    time.Time         // Entry modification time (2-second DOS resolution)
	comment    string            // Per-entry comment
	extraField map[uint16][]byte // ZIP extra fields, preserved but not interpreted

	// unsupported records a feature detected during directory parsing that
	// prevents this entry's data from being decoded (ZIP64 sizes, encryption,
	// disk spanning). Listing stays available; Open fails with it.
	unsupported error

	openFunc func() (io.ReadCloser, error) // Factory for reading decompressed content (read side)
}

// Name returns the entry's path within the archive. If the entry's
// language-encoding flag is set the stored bytes are UTF-8 and returned
// as-is; otherwise the Reader's TextDecoder output is returned when one was
// configured, and the stored bytes verbatim when not.
func (e *Entry) Name() string { return e.name }

// RawName returns the name bytes exactly as stored in the archive, with no
// decoding applied. Useful when the archive uses a legacy 8-bit encoding.
func (e *Entry) RawName() []byte { return []byte(e.rawName) }

// IsDir reports whether the entry is a directory, following the format
// convention of a trailing slash in the stored name.
func (e *Entry) IsDir() bool { return strings.HasSuffix(e.rawName, "/") }

// Mode returns the entry's file mode decoded from its external attributes.
func (e *Entry) Mode() fs.FileMode { return e.mode }

// Flags returns the general-purpose bit flags as stored in the directory.
func (e *Entry) Flags() uint16 { return e.flags }

// Method returns the entry's compression method code. Codes without a
// registered decompressor are still listed; opening them fails.
func (e *Entry) Method() CompressionMethod { return e.method }

// UncompressedSize returns the size of the original content before
// compression. The value is authoritative only after the entry's data has
// been fully read back and verified.
func (e *Entry) UncompressedSize() uint32 { return e.uncompressedSize }

// CompressedSize returns the size of the compressed data within the archive.
func (e *Entry) CompressedSize() uint32 { return e.compressedSize }

// CRC32 returns the CRC-32 checksum of the uncompressed entry data.
func (e *Entry) CRC32() uint32 { return e.crc32 }

// ModTime returns the entry's last modification timestamp. The on-disk
// format keeps 2-second resolution.
func (e *Entry) ModTime() time.Time { return e.modTime }

// Comment returns the per-entry comment from the central directory.
func (e *Entry) Comment() string { return e.comment }

// HostSystem returns the system the entry was created on.
func (e *Entry) HostSystem() sys.HostSystem { return e.hostSystem }

// Open returns a ReadCloser streaming the original, uncompressed entry
// content. The stream verifies size and CRC32 when it is fully consumed;
// Close before exhaustion skips verification. Only entries obtained from a
// Reader can be opened.
func (e *Entry) Open() (io.ReadCloser, error) {
	if e.openFunc == nil {
		return nil, ErrFileNotFound
	}
	return e.openFunc()
}

// HasExtraField checks whether an extra field with the specified tag exists.
func (e *Entry) HasExtraField(tag uint16) bool { _, ok := e.extraField[tag]; return ok }

// GetExtraField retrieves the raw bytes of an extra field by its tag ID,
// without the tag/size prefix.
func (e *Entry) GetExtraField(tag uint16) []byte { return e.extraField[tag] }

// SetExtraField adds or replaces an extra field entry.
// Returns an error if adding the field would exceed the maximum extra field length.
func (e *Entry) SetExtraField(tag uint16, data []byte) error {
	if e.extraField == nil {
		e.extraField = make(map[uint16][]byte)
	}
	currentLen := internal.ExtraFieldSize(e.extraField)

	// If replacing, subtract the size of the old field
	if oldData, ok := e.extraField[tag]; ok {
		currentLen -= 4 + len(oldData)
	}

	if currentLen+4+len(data) > math.MaxUint16 {
		return ErrExtraFieldTooLong
	}
	e.extraField[tag] = data
	return nil
}

// EntryOption configures an entry created by Writer.StartEntry.
type EntryOption func(e *Entry)

// WithMethod selects the entry's compression method. The default is
// Deflated; directories are always Stored.
func WithMethod(method CompressionMethod) EntryOption {
	return func(e *Entry) { e.method = method }
}

// WithLevel sets the compression level passed to the codec factory.
// Interpretation is codec-specific; for Deflate use the Deflate* constants.
func WithLevel(level int) EntryOption {
	return func(e *Entry) { e.level = level }
}

// WithModTime sets the entry's modification time. Without this option the
// current time is recorded.
func WithModTime(t time.Time) EntryOption {
	return func(e *Entry) { e.modTime = t }
}

// WithMode sets the permissions and type bits recorded in the entry's
// external attributes.
func WithMode(mode fs.FileMode) EntryOption {
	return func(e *Entry) { e.mode = mode }
}

// WithEntryComment attaches a comment to the entry's central directory
// record. Comments longer than 65535 bytes are rejected by StartEntry.
func WithEntryComment(comment string) EntryOption {
	return func(e *Entry) { e.comment = comment }
}

// WithExtraField attaches an extra field to the entry's records. The data
// must not include the tag/size prefix. Oversized fields are rejected by
// StartEntry.
func WithExtraField(tag uint16, data []byte) EntryOption {
	return func(e *Entry) { e.extraField[tag] = data }
}

// zipHeaders is responsible for generating ZIP format headers from Entry metadata.
type zipHeaders struct {
	entry *Entry
}

func newZipHeaders(e *Entry) *zipHeaders {
	return &zipHeaders{entry: e}
}

// LocalHeader generates the local file header that precedes the entry data.
func (zh *zipHeaders) LocalHeader() internal.LocalFileHeader {
	dosDate, dosTime := timeToMsDos(zh.entry.modTime)
	extra := internal.EncodeExtraField(zh.entry.extraField)

	return internal.LocalFileHeader{
		VersionNeededToExtract: zh.getVersionNeededToExtract(),
		GeneralPurposeBitFlag:  zh.getFileBitFlag(),
		CompressionMethod:      uint16(zh.entry.method),
		LastModFileTime:        dosTime,
		LastModFileDate:        dosDate,
		CRC32:                  zh.entry.crc32,
		CompressedSize:         zh.entry.compressedSize,
		UncompressedSize:       zh.entry.uncompressedSize,
		FilenameLength:         uint16(len(zh.entry.rawName)),
		ExtraFieldLength:       uint16(len(extra)),
		Filename:               zh.entry.rawName,
		ExtraField:             extra,
	}
}

// CentralDirEntry generates the central directory record for this entry.
func (zh *zipHeaders) CentralDirEntry() internal.CentralDirectory {
	dosDate, dosTime := timeToMsDos(zh.entry.modTime)

	return internal.CentralDirectory{
		VersionMadeBy:          zh.getVersionMadeBy(),
		VersionNeededToExtract: zh.getVersionNeededToExtract(),
		GeneralPurposeBitFlag:  zh.getFileBitFlag(),
		CompressionMethod:      uint16(zh.entry.method),
		LastModFileTime:        dosTime,
		LastModFileDate:        dosDate,
		CRC32:                  zh.entry.crc32,
		CompressedSize:         zh.entry.compressedSize,
		UncompressedSize:       zh.entry.uncompressedSize,
		FilenameLength:         uint16(len(zh.entry.rawName)),
		ExtraFieldLength:       uint16(internal.ExtraFieldSize(zh.entry.extraField)),
		FileCommentLength:      uint16(len(zh.entry.comment)),
		DiskNumberStart:        0,
		InternalFileAttributes: 0,
		ExternalFileAttributes: zh.getExternalFileAttributes(),
		LocalHeaderOffset:      zh.entry.localHeaderOffset,
		Filename:               zh.entry.rawName,
		ExtraField:             zh.entry.extraField,
		Comment:                zh.entry.comment,
	}
}

func (zh *zipHeaders) getVersionNeededToExtract() uint16 {
	if zh.entry.method == LZMA || zh.entry.method == ZStandard {
		return 63
	}
	if zh.entry.method == BZIP2 {
		return 46
	}
	if zh.entry.method == Deflate64 {
		return 21
	}
	if zh.entry.method == Deflated {
		return 20
	}
	if zh.entry.IsDir() || strings.Contains(zh.entry.rawName, "/") {
		return 20
	}
	return 10
}

func (zh *zipHeaders) getVersionMadeBy() uint16 {
	host := zh.entry.hostSystem
	// Normalize NTFS to FAT for broader compatibility
	if host == sys.HostSystemNTFS {
		host = sys.HostSystemFAT
	}
	return uint16(host)<<8 | LatestZipVersion
}

func (zh *zipHeaders) getFileBitFlag() uint16 {
	flag := zh.entry.flags

	if zh.entry.method == Deflated {
		flag |= zh.getCompressionLevelBits()
	}

	// Bit 11 (Language encoding flag / EFS) declares both the filename and
	// the comment to be UTF-8. Plain ASCII decodes the same under any code
	// page, so the flag is only set when a string actually needs it;
	// arbitrary non-UTF-8 name bytes stay unflagged and round-trip verbatim.
	nameValid, nameRequire := detectUTF8(zh.entry.rawName)
	commentValid, commentRequire := detectUTF8(zh.entry.comment)
	if (nameRequire || commentRequire) && nameValid && commentValid {
		flag |= flagUTF8
	}

	return flag
}

func (zh *zipHeaders) getExternalFileAttributes() uint32 {
	var externalAttrs uint32

	switch zh.entry.hostSystem {
	case sys.HostSystemUNIX, sys.HostSystemDarwin:
		mode := uint32(zh.entry.mode & fs.ModePerm)
		if zh.entry.mode&fs.ModeSetuid != 0 {
			mode |= sys.S_ISUID
		}
		if zh.entry.mode&fs.ModeSetgid != 0 {
			mode |= sys.S_ISGID
		}
		if zh.entry.mode&fs.ModeSticky != 0 {
			mode |= sys.S_ISVTX
		}
		switch {
		case zh.entry.IsDir():
			mode |= sys.S_IFDIR
		case zh.entry.mode&fs.ModeSymlink != 0:
			mode |= sys.S_IFLNK
		default:
			mode |= sys.S_IFREG
		}
		externalAttrs = mode << 16

	case sys.HostSystemFAT, sys.HostSystemNTFS:
		if zh.entry.IsDir() {
			externalAttrs |= sys.DOSAttrDir
		} else {
			externalAttrs |= sys.DOSAttrArchive
		}
		if zh.entry.mode&0200 == 0 {
			externalAttrs |= sys.DOSAttrReadOnly
		}
	}
	return externalAttrs
}

func (zh *zipHeaders) getCompressionLevelBits() uint16 {
	level := zh.entry.level
	if level == 0 {
		level = DeflateNormal
	}
	switch level {
	case DeflateSuperFast:
		return 0x0006
	case DeflateFast:
		return 0x0004
	case DeflateMaximum:
		return 0x0002
	default:
		return 0x0000
	}
}

// fileModeFromAttrs decodes central directory external attributes into a
// file mode, interpreting the high 16 bits as a Unix mode for UNIX-family
// hosts and the low byte as DOS attributes otherwise.
func fileModeFromAttrs(host sys.HostSystem, attrs uint32, isDir bool) fs.FileMode {
	var mode fs.FileMode

	switch host {
	case sys.HostSystemUNIX, sys.HostSystemDarwin:
		mode = unixModeToFileMode(attrs >> 16)
	default:
		if attrs&sys.DOSAttrDir != 0 {
			mode = fs.ModeDir | 0777
		} else {
			mode = 0666
		}
		if attrs&sys.DOSAttrReadOnly != 0 {
			mode &^= 0222
		}
	}
	if isDir {
		mode |= fs.ModeDir
	}
	return mode
}

func unixModeToFileMode(m uint32) fs.FileMode {
	mode := fs.FileMode(m & 0777)
	switch m & sys.S_IFMT {
	case sys.S_IFDIR:
		mode |= fs.ModeDir
	case sys.S_IFLNK:
		mode |= fs.ModeSymlink
	case sys.S_IFSOCK:
		mode |= fs.ModeSocket
	case sys.S_IFIFO:
		mode |= fs.ModeNamedPipe
	case sys.S_IFBLK:
		mode |= fs.ModeDevice
	case sys.S_IFCHR:
		mode |= fs.ModeDevice | fs.ModeCharDevice
	}
	if m&sys.S_ISUID != 0 {
		mode |= fs.ModeSetuid
	}
	if m&sys.S_ISGID != 0 {
		mode |= fs.ModeSetgid
	}
	if m&sys.S_ISVTX != 0 {
		mode |= fs.ModeSticky
	}
	return mode
}
