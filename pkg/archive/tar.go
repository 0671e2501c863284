// Package archive pulls a single named executable out of a gzip-compressed
// tar stream. It walks the tar headers by hand rather than unpacking the
// whole archive, since only one entry is ever needed.
package archive

import (
	"bytes"
	"fmt"
	"path"
	"strconv"
	"strings"
)

// BlockSize is the tar record size. Headers and payload padding are aligned to it.
const BlockSize = 512

// Tar type flags this package cares about.
const (
	TypeRegular    byte = '0'
	TypeRegularOld byte = 0
	TypeDir        byte = '5'
	TypeGNULong    byte = 'L'
)

// Entry describes one tar member.
type Entry struct {
	Name string
	Size int64
	Type byte
}

// Regular reports whether the entry is a plain file.
func (e Entry) Regular() bool {
	return e.Type == TypeRegular || e.Type == TypeRegularOld
}

// Matcher selects the entry to extract.
type Matcher func(Entry) bool

// TargetMatcher matches a regular file whose name contains target, whose base
// name has no extension, and which is not the bare "target/" directory entry.
// Only the base name is checked for a ".": dots in directory components are
// allowed, so versioned release folders still match. "pixlet", "./pixlet"
// and "pixlet_0.34.0/pixlet" all match "pixlet"; "README.md", "pixlet.sig"
// and "pixlet_0.34.0/pixlet.sig" do not.
func TargetMatcher(target string) Matcher {
	return func(e Entry) bool {
		if !e.Regular() {
			return false
		}
		if e.Name == target+"/" {
			return false
		}
		if !strings.Contains(e.Name, target) {
			return false
		}
		return !strings.Contains(path.Base(e.Name), ".")
	}
}

// readHeader decodes the header block at off. end is true when the block is
// all zeros, which terminates the archive.
func readHeader(buf []byte, off int64) (entry Entry, end bool, err error) {
	if off < 0 || off+BlockSize > int64(len(buf)) {
		return Entry{}, false, fmt.Errorf("header at offset %d: short block", off)
	}
	block := buf[off : off+BlockSize]

	if isZero(block) {
		return Entry{}, true, nil
	}

	name := cString(block[0:100])
	// POSIX ustar only. GNU headers reuse the prefix area for timestamps.
	if string(block[257:263]) == "ustar\x00" {
		if prefix := cString(block[345:500]); prefix != "" {
			name = prefix + "/" + name
		}
	}

	size, err := parseSize(block[124:136])
	if err != nil {
		return Entry{}, false, fmt.Errorf("header at offset %d (%q): %w", off, name, err)
	}

	return Entry{Name: name, Size: size, Type: block[156]}, false, nil
}

// skipToBoundary returns the offset of the next header given the offset where
// a payload of size bytes starts.
func skipToBoundary(off, size int64) int64 {
	blocks := (size + BlockSize - 1) / BlockSize
	return off + blocks*BlockSize
}

func parseSize(field []byte) (int64, error) {
	// GNU base-256 encoding for sizes beyond the octal range.
	if len(field) > 0 && field[0]&0x80 != 0 {
		var n int64
		for i, b := range field {
			if i == 0 {
				b &= 0x7f
			}
			if n > (1<<55)-1 {
				return 0, fmt.Errorf("size field overflows")
			}
			n = n<<8 | int64(b)
		}
		return n, nil
	}

	s := strings.Trim(string(field), "\x00 ")
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 8, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size field %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative size %d", n)
	}
	return n, nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
