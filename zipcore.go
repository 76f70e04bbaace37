// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package zipcore implements the ZIP container format at the stream level:
// parsing and validating central directories, reading entry content through
// pluggable decompression codecs, and producing structurally valid archives
// entry by entry.
//
// It is designed as a strict, predictable codec for programs that need
// tight control over the wire format, not as a file-archiving tool: it
// never touches the filesystem, treats entry names as uninterpreted bytes,
// and performs no path normalization.
//
// # Key Features
//
// 1. Random Access Reading: NewReader parses the central directory once,
// all-or-nothing, and exposes entries for listing and independent opening.
// Each opened stream verifies declared sizes and CRC32 when fully consumed.
//
// 2. Streaming Writing: NewWriter appends entries strictly one at a time
// through an EntryWriter lease. Seekable destinations get their local
// headers patched in place once sizes are known; pure streams get standard
// trailing data descriptors instead, so archives can be produced directly
// into sockets and pipes.
//
// 3. Pluggable Codecs: Stored, Deflate and Zstandard are built in, and any
// ZIP method code can be mapped to a custom codec on both the reading and
// writing side.
//
// 4. Legacy Compatibility: names stored in DOS code pages (CP437, CP866)
// can be decoded through [golang.org/x/text/encoding/charmap], Unix
// permissions and DOS attributes survive round trips, and MS-DOS timestamps
// are converted transparently.
//
// 5. File System Interface: a parsed archive can be traversed as a
// read-only [fs.FS], integrating with [io/fs] helpers such as fs.WalkDir
// and fs.ReadFile.
//
// # Basic Usage
//
// Reading an archive:
//
//	f, _ := os.Open("input.zip")
//	stat, _ := f.Stat()
//
//	r, err := zipcore.NewReader(f, stat.Size())
//	if err != nil {
//		log.Fatal(err)
//	}
//	for _, e := range r.Entries() {
//		rc, err := e.Open()
//		if err != nil {
//			log.Fatal(err)
//		}
//		io.Copy(os.Stdout, rc)
//		rc.Close()
//	}
//
// Writing an archive:
//
//	f, _ := os.Create("output.zip")
//
//	w := zipcore.NewWriter(f, zipcore.WithComment("nightly build"))
//	ew, _ := w.StartEntry("report.txt", zipcore.WithMethod(zipcore.Deflated))
//	ew.Write([]byte("..."))
//	ew.Close()
//	w.Close()
//
// Decoding names from a legacy DOS archive:
//
//	r, err := zipcore.NewReader(f, stat.Size(),
//		zipcore.WithTextDecoder(zipcore.NewCharmapDecoder(charmap.CodePage437)))
package zipcore

import (
	"golang.org/x/text/encoding/charmap"
)

// TextDecoder converts name and comment bytes stored in a legacy 8-bit
// encoding into UTF-8 text. It is consulted only for entries without the
// language-encoding flag; flagged entries are UTF-8 by definition.
type TextDecoder interface {
	Decode(b []byte) (string, error)
}

// CharmapDecoder adapts an x/text character map to the TextDecoder
// interface. Typical maps for ZIP archives are charmap.CodePage437 (the
// historical default) and charmap.CodePage866 for Cyrillic DOS archives.
type CharmapDecoder struct {
	cm *charmap.Charmap
}

// NewCharmapDecoder returns a TextDecoder backed by the given character map.
func NewCharmapDecoder(cm *charmap.Charmap) *CharmapDecoder {
	return &CharmapDecoder{cm: cm}
}

// Decode converts the stored bytes to UTF-8. Character maps are total, so
// decoding cannot fail; the error return satisfies TextDecoder.
func (d *CharmapDecoder) Decode(b []byte) (string, error) {
	return d.cm.NewDecoder().String(string(b))
}

// decodeText converts a stored name or comment for display. Entries with
// the language-encoding flag set are UTF-8 already and returned as-is;
// everything else goes through the configured decoder when one is present.
// On decode failure the stored bytes are returned unchanged.
func decodeText(raw string, flags uint16, dec TextDecoder) string {
	if dec == nil || flags&flagUTF8 != 0 {
		return raw
	}
	if s, err := dec.Decode([]byte(raw)); err == nil {
		return s
	}
	return raw
}
