package zipcore

import (
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

var (
	_ fs.FS        = (*archiveFS)(nil)
	_ fs.StatFS    = (*archiveFS)(nil)
	_ fs.ReadDirFS = (*archiveFS)(nil)
)

// FS returns a read-only filesystem view of the archive, letting standard
// [io/fs] helpers such as fs.WalkDir and fs.ReadFile traverse it.
// Directories that exist only as path prefixes of entry names are
// synthesized. Fully valid only for archives whose decoded names are
// slash-separated paths; names that are not valid fs paths stay reachable
// through Entries.
func (r *Reader) FS() fs.FS {
	return &archiveFS{r: r}
}

type archiveFS struct {
	r *Reader
}

// Open implements fs.FS.
func (afs *archiveFS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	if name == "." {
		return &fsDir{fsys: afs, path: "."}, nil
	}

	if e := afs.find(name); e != nil {
		if e.IsDir() {
			return &fsDir{fsys: afs, path: name, entry: e}, nil
		}
		rc, err := e.Open()
		if err != nil {
			return nil, &fs.PathError{Op: "open", Path: name, Err: err}
		}
		return &fsFile{entry: e, rc: rc}, nil
	}

	if afs.hasImplicitDir(name) {
		return &fsDir{fsys: afs, path: name}, nil
	}

	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

// Stat implements fs.StatFS.
func (afs *archiveFS) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	if name == "." {
		return dirInfo{name: "."}, nil
	}
	if e := afs.find(name); e != nil {
		return fileInfoAdapter{e}, nil
	}
	if afs.hasImplicitDir(name) {
		return dirInfo{name: name}, nil
	}
	return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
}

// ReadDir implements fs.ReadDirFS.
func (afs *archiveFS) ReadDir(name string) ([]fs.DirEntry, error) {
	file, err := afs.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	dir, ok := file.(fs.ReadDirFile)
	if !ok {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	return dir.ReadDir(-1)
}

// find returns the first entry whose decoded name matches the fs path,
// ignoring the trailing slash directory entries carry.
func (afs *archiveFS) find(name string) *Entry {
	for _, e := range afs.r.entries {
		if strings.TrimSuffix(e.name, "/") == name {
			return e
		}
	}
	return nil
}

// hasImplicitDir reports whether any entry lies below name, making it a
// directory even without an explicit entry of its own.
func (afs *archiveFS) hasImplicitDir(name string) bool {
	prefix := name + "/"
	for _, e := range afs.r.entries {
		if strings.HasPrefix(e.name, prefix) && e.name != prefix {
			return true
		}
	}
	return false
}

// readDirChildren collects the immediate children of a directory, sorted by
// name. Explicit directory entries contribute their stored metadata;
// directories known only as path prefixes get synthetic info.
func (afs *archiveFS) readDirChildren(dir string) []fs.DirEntry {
	prefix := dir + "/"
	if dir == "." {
		prefix = ""
	}

	seen := make(map[string]bool)
	var children []fs.DirEntry

	for _, e := range afs.r.entries {
		if !strings.HasPrefix(e.name, prefix) {
			continue
		}
		rel := strings.TrimSuffix(strings.TrimPrefix(e.name, prefix), "/")
		if rel == "" {
			continue
		}

		childName, _, nested := strings.Cut(rel, "/")
		if seen[childName] {
			continue
		}
		seen[childName] = true

		if !nested && !e.IsDir() {
			children = append(children, fsDirEntry{name: childName, info: fileInfoAdapter{e}})
			continue
		}

		var info fs.FileInfo
		switch {
		case !nested:
			info = fileInfoAdapter{e}
		default:
			if de := afs.find(path.Join(dir, childName)); de != nil && de.IsDir() {
				info = fileInfoAdapter{de}
			} else {
				info = dirInfo{name: childName}
			}
		}
		children = append(children, fsDirEntry{name: childName, info: info})
	}

	sort.SliceStable(children, func(i, j int) bool {
		return children[i].Name() < children[j].Name()
	})
	return children
}

// fsFile wraps an opened regular entry to satisfy fs.File.
type fsFile struct {
	entry *Entry
	rc    io.ReadCloser
}

func (f *fsFile) Stat() (fs.FileInfo, error) { return fileInfoAdapter{f.entry}, nil }
func (f *fsFile) Read(b []byte) (int, error) { return f.rc.Read(b) }
func (f *fsFile) Close() error               { return f.rc.Close() }

// fsDir satisfies fs.ReadDirFile for explicit and synthesized directories.
type fsDir struct {
	fsys  *archiveFS
	path  string // Directory path without trailing slash, "." for root
	entry *Entry // Explicit directory entry, nil when synthesized

	list   []fs.DirEntry
	listed bool
	offset int
}

func (d *fsDir) Stat() (fs.FileInfo, error) {
	if d.entry != nil {
		return fileInfoAdapter{d.entry}, nil
	}
	return dirInfo{name: d.path}, nil
}

func (d *fsDir) Close() error { return nil }

func (d *fsDir) Read(b []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.path, Err: fs.ErrInvalid}
}

// ReadDir lists the directory's children, paging through them across calls
// as fs.ReadDirFile requires.
func (d *fsDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if !d.listed {
		d.list = d.fsys.readDirChildren(d.path)
		d.listed = true
	}

	rest := d.list[d.offset:]
	if n <= 0 {
		d.offset = len(d.list)
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	if n > len(rest) {
		n = len(rest)
	}
	d.offset += n
	return rest[:n], nil
}

type fileInfoAdapter struct{ e *Entry }

func (i fileInfoAdapter) Name() string       { return path.Base(strings.TrimSuffix(i.e.name, "/")) }
func (i fileInfoAdapter) Size() int64        { return int64(i.e.uncompressedSize) }
func (i fileInfoAdapter) Mode() fs.FileMode  { return i.e.mode }
func (i fileInfoAdapter) ModTime() time.Time { return i.e.modTime }
func (i fileInfoAdapter) IsDir() bool        { return i.e.IsDir() }
func (i fileInfoAdapter) Sys() interface{}   { return nil }

// dirInfo describes a directory that has no entry of its own.
type dirInfo struct{ name string }

func (i dirInfo) Name() string       { return path.Base(i.name) }
func (i dirInfo) Size() int64        { return 0 }
func (i dirInfo) Mode() fs.FileMode  { return fs.ModeDir | 0755 }
func (i dirInfo) ModTime() time.Time { return time.Time{} }
func (i dirInfo) IsDir() bool        { return true }
func (i dirInfo) Sys() interface{}   { return nil }

type fsDirEntry struct {
	name string
	info fs.FileInfo
}

func (e fsDirEntry) Name() string               { return e.name }
func (e fsDirEntry) IsDir() bool                { return e.info.IsDir() }
func (e fsDirEntry) Type() fs.FileMode          { return e.info.Mode().Type() }
func (e fsDirEntry) Info() (fs.FileInfo, error) { return e.info, nil }
