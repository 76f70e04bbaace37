// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipcore

import (
	"hash/crc32"
	"io"
	"time"
	"unicode/utf8"
)

// byteCountWriter counts bytes written to a writer.
type byteCountWriter struct {
	dest         io.Writer
	bytesWritten int64
}

func (w *byteCountWriter) Write(p []byte) (int, error) {
	n, err := w.dest.Write(p)
	w.bytesWritten += int64(n)
	return n, err
}

// countHashWriter accumulates a running CRC32 and byte count of everything
// written to it. It never fails and writes nothing anywhere.
type countHashWriter struct {
	crc   uint32
	count int64
}

func (w *countHashWriter) Write(p []byte) (int, error) {
	w.crc = crc32.Update(w.crc, crc32.IEEETable, p)
	w.count += int64(len(p))
	return len(p), nil
}

// nopWriteCloser turns a plain writer into an io.WriteCloser with a no-op
// Close. Used by codecs that have no buffered state to flush.
type nopWriteCloser struct {
	dest io.Writer
}

func (w *nopWriteCloser) Write(p []byte) (int, error) { return w.dest.Write(p) }
func (w *nopWriteCloser) Close() error                { return nil }

// Time conversion functions
func timeToMsDos(t time.Time) (dosDate uint16, dosTime uint16) {
	year := min(max(t.Year()-1980, 0), 127)
	month := uint16(t.Month())
	day := uint16(t.Day())
	hour := uint16(t.Hour())
	minute := uint16(t.Minute())
	second := uint16(t.Second())

	dosDate = uint16(year)<<9 | uint16(month)<<5 | day
	dosTime = uint16(hour)<<11 | uint16(minute)<<5 | uint16(second/2)
	return dosDate, dosTime
}

func msDosToTime(dosDate uint16, dosTime uint16) time.Time {
	day := dosDate & 0x1F
	month := (dosDate >> 5) & 0x0F
	year := int((dosDate>>9)&0x7F) + 1980
	second := (dosTime & 0x1F) * 2
	minute := (dosTime >> 5) & 0x3F
	hour := (dosTime >> 11) & 0x1F

	if month < 1 || month > 12 {
		month = 1
	}
	if day < 1 || day > 31 {
		day = 1
	}

	return time.Date(year, time.Month(month), int(day), int(hour), int(minute), int(second), 0, time.UTC)
}

// detectUTF8 reports whether s is valid UTF-8 and whether it must be flagged
// as such: printable ASCII decodes identically under every legacy code page,
// so only bytes outside 0x20..0x7D (plus 0x5C, special on Shift-JIS systems)
// require the language-encoding flag.
func detectUTF8(s string) (valid, require bool) {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		if r < 0x20 || r > 0x7d || r == 0x5c {
			if !utf8.ValidString(s[i-size:]) {
				return false, false
			}
			require = true
		}
	}
	return true, require
}
