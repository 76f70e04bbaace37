// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipcore

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"io/fs"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/lemon4ksan/zipcore/internal"
)

func defaultTime() time.Time {
	return time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
}

func TestWriter_StateMachine(t *testing.T) {
	w := NewWriter(new(bytes.Buffer))

	ew, err := w.StartEntry("first.txt")
	if err != nil {
		t.Fatalf("StartEntry failed: %v", err)
	}

	if _, err := w.StartEntry("second.txt"); !errors.Is(err, ErrEntryInProgress) {
		t.Errorf("expected ErrEntryInProgress from StartEntry, got %v", err)
	}
	if err := w.Close(); !errors.Is(err, ErrEntryInProgress) {
		t.Errorf("expected ErrEntryInProgress from Close, got %v", err)
	}

	if _, err := ew.Write([]byte("data")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := ew.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := ew.Close(); err != nil {
		t.Errorf("second Close must be a no-op, got %v", err)
	}
	if _, err := ew.Write([]byte("late")); !errors.Is(err, ErrWriterClosed) {
		t.Errorf("expected ErrWriterClosed from Write after Close, got %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := w.StartEntry("late.txt"); !errors.Is(err, ErrWriterClosed) {
		t.Errorf("expected ErrWriterClosed from StartEntry, got %v", err)
	}
	if err := w.Close(); !errors.Is(err, ErrWriterClosed) {
		t.Errorf("expected ErrWriterClosed from second Close, got %v", err)
	}
}

func TestWriter_LengthLimits(t *testing.T) {
	tests := []struct {
		name    string
		entry   string
		options []EntryOption
		wantErr error
	}{
		{
			name:    "Filename too long",
			entry:   strings.Repeat("n", math.MaxUint16+1),
			wantErr: ErrFilenameTooLong,
		},
		{
			name:    "Entry comment too long",
			entry:   "c.txt",
			options: []EntryOption{WithEntryComment(strings.Repeat("c", math.MaxUint16+1))},
			wantErr: ErrCommentTooLong,
		},
		{
			name:    "Extra field too long",
			entry:   "x.txt",
			options: []EntryOption{WithExtraField(0xCAFE, make([]byte, math.MaxUint16))},
			wantErr: ErrExtraFieldTooLong,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWriter(new(bytes.Buffer))
			if _, err := w.StartEntry(tt.entry, tt.options...); !errors.Is(err, tt.wantErr) {
				t.Errorf("StartEntry() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	t.Run("Archive comment too long", func(t *testing.T) {
		w := NewWriter(new(bytes.Buffer), WithComment(strings.Repeat("c", math.MaxUint16+1)))
		if err := w.Close(); !errors.Is(err, ErrCommentTooLong) {
			t.Errorf("Close() error = %v, want ErrCommentTooLong", err)
		}
	})
}

func TestWriter_CapacityLimits(t *testing.T) {
	t.Run("Entry count cap", func(t *testing.T) {
		w := NewWriter(new(bytes.Buffer))
		w.entriesNum = math.MaxUint16 - 1

		if _, err := w.StartEntry("overflow.txt"); !errors.Is(err, ErrUnsupported) {
			t.Errorf("expected ErrUnsupported, got %v", err)
		}
	})

	t.Run("Archive offset cap", func(t *testing.T) {
		w := NewWriter(new(bytes.Buffer))
		w.headerOffset = math.MaxUint32

		if _, err := w.StartEntry("overflow.txt"); !errors.Is(err, ErrUnsupported) {
			t.Errorf("expected ErrUnsupported, got %v", err)
		}
	})

	t.Run("Entry size cap", func(t *testing.T) {
		w := NewWriter(new(bytes.Buffer))
		ew, err := w.StartEntry("big.bin", WithMethod(Stored))
		if err != nil {
			t.Fatalf("StartEntry failed: %v", err)
		}

		// Pretend 4 GiB minus one byte were already written.
		ew.hash.count = math.MaxUint32 - 1

		if _, err := ew.Write([]byte("xx")); !errors.Is(err, ErrUnsupported) {
			t.Errorf("expected ErrUnsupported, got %v", err)
		}
	})
}

func TestWriter_PatchMode(t *testing.T) {
	mw := NewMemoryWriteSeeker()
	w := NewWriter(mw)

	ew, err := w.StartEntry("a.txt", WithMethod(Stored), WithModTime(defaultTime()))
	if err != nil {
		t.Fatalf("StartEntry failed: %v", err)
	}
	if _, err := io.WriteString(ew, "hello"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := ew.Close(); err != nil {
		t.Fatalf("entry Close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	out := mw.Bytes()

	// local header 35 + data 5 + central record 51 + end record 22
	if len(out) != 113 {
		t.Fatalf("archive size = %d, want 113", len(out))
	}

	flags := binary.LittleEndian.Uint16(out[6:8])
	if flags&flagDataDescriptor != 0 {
		t.Error("descriptor flag must not be set on a seekable destination")
	}

	// CRC at 14, compressed size at 18, uncompressed size at 22 were zeros
	// when the header went out; Close patches them in place.
	if crc := binary.LittleEndian.Uint32(out[14:18]); crc != 0x3610a686 {
		t.Errorf("patched CRC = %08x, want 3610a686", crc)
	}
	if size := binary.LittleEndian.Uint32(out[18:22]); size != 5 {
		t.Errorf("patched compressed size = %d, want 5", size)
	}
	if size := binary.LittleEndian.Uint32(out[22:26]); size != 5 {
		t.Errorf("patched uncompressed size = %d, want 5", size)
	}

	// The central directory follows the data directly, with no descriptor.
	if sig := binary.LittleEndian.Uint32(out[40:44]); sig != internal.CentralDirectorySignature {
		t.Errorf("expected central directory at offset 40, found %08x", sig)
	}

	// Cross-check with the standard library reader.
	zr, err := zip.NewReader(bytes.NewReader(out), int64(len(out)))
	if err != nil {
		t.Fatalf("archive/zip rejected the output: %v", err)
	}
	if len(zr.File) != 1 || zr.File[0].Name != "a.txt" {
		t.Fatalf("unexpected listing: %v", zr.File)
	}
	rc, err := zr.File[0].Open()
	if err != nil {
		t.Fatalf("archive/zip Open failed: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("archive/zip read failed: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriter_DescriptorMode(t *testing.T) {
	buf := new(bytes.Buffer) // Not a WriteSeeker
	w := NewWriter(buf)

	ew, err := w.StartEntry("a.txt", WithMethod(Stored), WithModTime(defaultTime()))
	if err != nil {
		t.Fatalf("StartEntry failed: %v", err)
	}
	if _, err := io.WriteString(ew, "hello"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := ew.Close(); err != nil {
		t.Fatalf("entry Close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	out := buf.Bytes()

	// local header 35 + data 5 + descriptor 16 + central record 51 + end record 22
	if len(out) != 129 {
		t.Fatalf("archive size = %d, want 129", len(out))
	}

	flags := binary.LittleEndian.Uint16(out[6:8])
	if flags&flagDataDescriptor == 0 {
		t.Error("descriptor flag must be set on a non-seekable destination")
	}

	// The header's CRC and size fields stay zero; real values follow the data.
	for i := 14; i < 26; i++ {
		if out[i] != 0 {
			t.Fatalf("local header byte %d = %02x, want placeholder zero", i, out[i])
		}
	}

	if sig := binary.LittleEndian.Uint32(out[40:44]); sig != internal.DataDescriptorSignature {
		t.Fatalf("expected data descriptor at offset 40, found %08x", sig)
	}
	if crc := binary.LittleEndian.Uint32(out[44:48]); crc != 0x3610a686 {
		t.Errorf("descriptor CRC = %08x, want 3610a686", crc)
	}
	if size := binary.LittleEndian.Uint32(out[48:52]); size != 5 {
		t.Errorf("descriptor compressed size = %d, want 5", size)
	}
	if size := binary.LittleEndian.Uint32(out[52:56]); size != 5 {
		t.Errorf("descriptor uncompressed size = %d, want 5", size)
	}
	if sig := binary.LittleEndian.Uint32(out[56:60]); sig != internal.CentralDirectorySignature {
		t.Errorf("expected central directory at offset 56, found %08x", sig)
	}

	// Both this package and the standard library must read the result back.
	r := newTestReader(t, out)
	rc, err := r.Entries()[0].Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("content mismatch: got %q", got)
	}

	if _, err := zip.NewReader(bytes.NewReader(out), int64(len(out))); err != nil {
		t.Errorf("archive/zip rejected the output: %v", err)
	}
}

func TestWriter_ArchiveBaseOffset(t *testing.T) {
	// An archive appended after existing bytes must keep its internal
	// offsets relative to its own start, and patching must not touch the
	// prefix.
	mw := NewMemoryWriteSeeker()
	prefix := "self-extract stub"
	io.WriteString(mw, prefix)

	w := NewWriter(mw)
	ew, err := w.StartEntry("a.txt", WithMethod(Stored))
	if err != nil {
		t.Fatalf("StartEntry failed: %v", err)
	}
	io.WriteString(ew, "hello")
	if err := ew.Close(); err != nil {
		t.Fatalf("entry Close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	out := mw.Bytes()
	if string(out[:len(prefix)]) != prefix {
		t.Fatal("prefix bytes were overwritten")
	}

	// The patch lands at prefix+14, not at absolute offset 14.
	if crc := binary.LittleEndian.Uint32(out[len(prefix)+14:]); crc != 0x3610a686 {
		t.Errorf("patched CRC = %08x, want 3610a686", crc)
	}

	r := newTestReader(t, out[len(prefix):])
	rc, err := r.Entries()[0].Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriter_Offset(t *testing.T) {
	buf := new(bytes.Buffer)
	w := NewWriter(buf)

	if w.Offset() != 0 {
		t.Errorf("initial offset = %d, want 0", w.Offset())
	}

	ew, err := w.StartEntry("a.txt", WithMethod(Stored))
	if err != nil {
		t.Fatalf("StartEntry failed: %v", err)
	}
	if w.Offset() != 35 {
		t.Errorf("offset after header = %d, want 35", w.Offset())
	}

	io.WriteString(ew, "hello")
	if w.Offset() != 40 {
		t.Errorf("offset after data = %d, want 40", w.Offset())
	}

	ew.Close()
	if w.Offset() != 56 {
		t.Errorf("offset after descriptor = %d, want 56", w.Offset())
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// After Close the offset is where the central directory begins, which
	// must agree with the end record's directory offset field.
	out := buf.Bytes()
	cdOffset := binary.LittleEndian.Uint32(out[len(out)-22+16:])
	if int64(cdOffset) != w.Offset() {
		t.Errorf("end record offset = %d, Offset() = %d", cdOffset, w.Offset())
	}
}

func TestWriter_DirectoryEntries(t *testing.T) {
	buf := new(bytes.Buffer)
	w := NewWriter(buf)

	// Compression options are ignored for directories.
	ew, err := w.StartEntry("docs/", WithMethod(Deflated), WithModTime(defaultTime()))
	if err != nil {
		t.Fatalf("StartEntry failed: %v", err)
	}

	if _, err := ew.Write([]byte("x")); !errors.Is(err, ErrWriteToDirectory) {
		t.Errorf("expected ErrWriteToDirectory, got %v", err)
	}

	if err := ew.Close(); err != nil {
		t.Fatalf("entry Close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	out := buf.Bytes()

	// No data and no descriptor, even on a non-seekable destination:
	// local header 35 + central record 51 + end record 22.
	if len(out) != 108 {
		t.Fatalf("archive size = %d, want 108", len(out))
	}

	r := newTestReader(t, out)
	e := r.Entries()[0]
	if !e.IsDir() {
		t.Error("entry must be a directory")
	}
	if e.Method() != Stored {
		t.Errorf("directory method = %d, want Stored", e.Method())
	}
	if e.Mode()&fs.ModeDir == 0 || e.Mode().Perm() != 0755 {
		t.Errorf("directory mode = %v, want drwxr-xr-x", e.Mode())
	}
	if e.UncompressedSize() != 0 {
		t.Errorf("directory size = %d, want 0", e.UncompressedSize())
	}

	rc, err := e.Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer rc.Close()
	if got, err := io.ReadAll(rc); err != nil || len(got) != 0 {
		t.Errorf("directory content = %q, %v; want empty", got, err)
	}
}

func TestWriter_CustomCompressor(t *testing.T) {
	const customMethod CompressionMethod = 99

	factoryCalls := 0
	buf := new(bytes.Buffer)
	w := NewWriter(buf, WithCompressor(customMethod, func(level int) Compressor {
		factoryCalls++
		return new(StoredCompressor)
	}))

	for _, name := range []string{"one.bin", "two.bin"} {
		ew, err := w.StartEntry(name, WithMethod(customMethod))
		if err != nil {
			t.Fatalf("StartEntry(%q) failed: %v", name, err)
		}
		io.WriteString(ew, "custom codec payload")
		if err := ew.Close(); err != nil {
			t.Fatalf("entry Close failed: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Resolved codecs are cached per method and level.
	if factoryCalls != 1 {
		t.Errorf("factory invoked %d times, want 1", factoryCalls)
	}

	out := buf.Bytes()

	// Without a registered decompressor the entries list but do not open.
	r := newTestReader(t, out)
	if got := r.Entries()[0].Method(); got != customMethod {
		t.Fatalf("method = %d, want %d", got, customMethod)
	}
	if _, err := r.Entries()[0].Open(); !errors.Is(err, ErrAlgorithm) {
		t.Errorf("expected ErrAlgorithm, got %v", err)
	}

	r = newTestReader(t, out, WithDecompressor(customMethod, new(StoredDecompressor)))
	rc, err := r.Entries()[0].Open()
	if err != nil {
		t.Fatalf("Open with registered decompressor failed: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if string(got) != "custom codec payload" {
		t.Errorf("content mismatch: got %q", got)
	}
}

var errBrokenCodec = errors.New("codec out of order")

// brokenCompressor resolves fine but fails when its writer is opened.
type brokenCompressor struct{}

func (bc *brokenCompressor) NewWriter(dest io.Writer) (io.WriteCloser, error) {
	return nil, errBrokenCodec
}

func TestWriter_FailedCompressor(t *testing.T) {
	const brokenMethod CompressionMethod = 77

	buf := new(bytes.Buffer)
	w := NewWriter(buf, WithCompressor(brokenMethod, func(level int) Compressor {
		return new(brokenCompressor)
	}))

	if _, err := w.StartEntry("x.bin", WithMethod(brokenMethod)); !errors.Is(err, errBrokenCodec) {
		t.Fatalf("expected the codec error, got %v", err)
	}

	// No orphaned local header: the failed start must not touch the stream.
	if buf.Len() != 0 {
		t.Errorf("failed StartEntry wrote %d bytes", buf.Len())
	}

	ew, err := w.StartEntry("ok.txt", WithMethod(Stored))
	if err != nil {
		t.Fatalf("writer unusable after failed StartEntry: %v", err)
	}
	io.WriteString(ew, "hello")
	if err := ew.Close(); err != nil {
		t.Fatalf("entry Close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r := newTestReader(t, buf.Bytes())
	if len(r.Entries()) != 1 || r.Entries()[0].Name() != "ok.txt" {
		t.Fatal("archive written after the failure is not intact")
	}
	rc, err := r.Entries()[0].Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer rc.Close()
	if got, err := io.ReadAll(rc); err != nil || string(got) != "hello" {
		t.Errorf("content = %q, %v; want %q", got, err, "hello")
	}
}

func TestWriter_UnknownMethod(t *testing.T) {
	w := NewWriter(new(bytes.Buffer))

	_, err := w.StartEntry("archive.lzma", WithMethod(LZMA))
	if !errors.Is(err, ErrAlgorithm) {
		t.Fatalf("expected ErrAlgorithm, got %v", err)
	}
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("ErrAlgorithm must wrap ErrUnsupported, got %v", err)
	}

	// The failed start must not leave the writer locked.
	ew, err := w.StartEntry("ok.txt")
	if err != nil {
		t.Fatalf("writer unusable after failed StartEntry: %v", err)
	}
	ew.Close()
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestWriter_EmptyArchive(t *testing.T) {
	buf := new(bytes.Buffer)
	w := NewWriter(buf, WithComment("nothing inside"))
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	out := buf.Bytes()
	if len(out) != 22+len("nothing inside") {
		t.Fatalf("archive size = %d, want end record only", len(out))
	}

	r := newTestReader(t, out)
	if len(r.Entries()) != 0 {
		t.Errorf("expected no entries, got %d", len(r.Entries()))
	}
	if r.Comment() != "nothing inside" {
		t.Errorf("comment mismatch: got %q", r.Comment())
	}

	zr, err := zip.NewReader(bytes.NewReader(out), int64(len(out)))
	if err != nil {
		t.Fatalf("archive/zip rejected the output: %v", err)
	}
	if len(zr.File) != 0 || zr.Comment != "nothing inside" {
		t.Errorf("archive/zip sees %d files, comment %q", len(zr.File), zr.Comment)
	}
}

func TestWriter_EntryMetadata(t *testing.T) {
	modTime := time.Date(2024, 6, 15, 10, 30, 42, 0, time.UTC)

	buf := new(bytes.Buffer)
	w := NewWriter(buf)
	ew, err := w.StartEntry("meta.txt",
		WithModTime(modTime),
		WithEntryComment("per-entry note"),
		WithExtraField(0xCAFE, []byte("payload")),
	)
	if err != nil {
		t.Fatalf("StartEntry failed: %v", err)
	}
	io.WriteString(ew, "x")
	if err := ew.Close(); err != nil {
		t.Fatalf("entry Close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r := newTestReader(t, buf.Bytes())
	e := r.Entries()[0]

	if !e.ModTime().Equal(modTime) {
		t.Errorf("modTime = %v, want %v", e.ModTime(), modTime)
	}
	if e.Comment() != "per-entry note" {
		t.Errorf("comment = %q, want %q", e.Comment(), "per-entry note")
	}
	if !e.HasExtraField(0xCAFE) {
		t.Fatal("extra field 0xCAFE missing")
	}
	if got := e.GetExtraField(0xCAFE); !bytes.Equal(got, []byte("payload")) {
		t.Errorf("extra field = %q, want %q", got, "payload")
	}
	if e.Method() != Deflated {
		t.Errorf("default method = %d, want Deflated", e.Method())
	}
}

func TestWriter_DefaultCompression(t *testing.T) {
	// An entry started without options must deflate at DeflateNormal, not
	// pass its data through uncompressed.
	zeros := make([]byte, 10000)

	buf := new(bytes.Buffer)
	w := NewWriter(buf)
	ew, err := w.StartEntry("zeros.bin")
	if err != nil {
		t.Fatalf("StartEntry failed: %v", err)
	}
	if _, err := ew.Write(zeros); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := ew.Close(); err != nil {
		t.Fatalf("entry Close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r := newTestReader(t, buf.Bytes())
	e := r.Entries()[0]
	if e.Method() != Deflated {
		t.Fatalf("method = %d, want Deflated", e.Method())
	}
	if e.UncompressedSize() != 10000 {
		t.Fatalf("uncompressed size = %d, want 10000", e.UncompressedSize())
	}
	if e.CompressedSize() >= e.UncompressedSize() {
		t.Errorf("compressed size %d not smaller than input %d",
			e.CompressedSize(), e.UncompressedSize())
	}

	rc, err := e.Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if !bytes.Equal(got, zeros) {
		t.Error("content mismatch after round trip")
	}
}

// memoryWriteSeeker is an in-memory io.WriteSeeker for exercising the
// header patching path.
type memoryWriteSeeker struct {
	buf []byte
	pos int64
}

func NewMemoryWriteSeeker() *memoryWriteSeeker {
	return &memoryWriteSeeker{
		buf: make([]byte, 0),
		pos: 0,
	}
}

func (m *memoryWriteSeeker) Write(p []byte) (n int, err error) {
	minCap := int(m.pos) + len(p)
	if minCap > cap(m.buf) {
		newBuf := make([]byte, len(m.buf), minCap*2)
		copy(newBuf, m.buf)
		m.buf = newBuf
	}
	if minCap > len(m.buf) {
		m.buf = m.buf[:minCap]
	}
	copy(m.buf[m.pos:], p)
	m.pos += int64(len(p))
	return len(p), nil
}

func (m *memoryWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = m.pos + offset
	case io.SeekEnd:
		newPos = int64(len(m.buf)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if newPos < 0 {
		return 0, errors.New("negative position")
	}
	m.pos = newPos
	return newPos, nil
}

func (m *memoryWriteSeeker) Bytes() []byte {
	return m.buf
}
