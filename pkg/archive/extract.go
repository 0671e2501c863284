package archive

import (
	"compress/gzip"
	stderrors "errors"
	"io"
	"log/slog"
	"os"

	"github.com/mattryanharris/where-is-matt/pkg/errors"
	"github.com/mattryanharris/where-is-matt/pkg/security"
)

// Extract decompresses the gzip archive at archivePath, walks the tar stream
// and writes the payload of the first entry accepted by match to destPath.
//
// Malformed gzip framing fails with KindDecompression. A missing entry, a
// truncated payload or a violated limit fails with KindExtraction.
func Extract(archivePath, destPath string, match Matcher, limits *security.Validator) (*Entry, error) {
	limits.Reset()

	f, err := os.Open(archivePath)
	if err != nil {
		return nil, errors.WithKind(errors.KindExtraction, err, "failed to open archive")
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, errors.WithKind(errors.KindExtraction, err, "failed to stat archive")
	}

	gz, err := gzip.NewReader(f)
	if err != nil {
		slog.Error("archive_gzip_invalid", "path", archivePath, "error", err)
		return nil, errors.WithKind(errors.KindDecompression, err, "invalid gzip header")
	}
	defer gz.Close()

	data, err := io.ReadAll(limits.Reader(gz))
	if err != nil {
		if stderrors.Is(err, security.ErrLimitExceeded) {
			return nil, errors.WithKind(errors.KindExtraction, err, "archive rejected")
		}
		slog.Error("archive_decompress_failed", "path", archivePath, "error", err)
		return nil, errors.WithKind(errors.KindDecompression, err, "failed to decompress archive")
	}

	if err := limits.ValidateCompressionRatio(fi.Size(), int64(len(data))); err != nil {
		return nil, errors.WithKind(errors.KindExtraction, err, "archive rejected")
	}

	slog.Debug("archive_decompressed", "path", archivePath,
		"compressed_bytes", fi.Size(), "tar_bytes", len(data))

	entry, payload, err := find(data, match, limits)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(destPath, payload, 0644); err != nil {
		return nil, errors.WithKind(errors.KindExtraction, err, "failed to write extracted entry")
	}

	slog.Info("archive_entry_extracted", "entry", entry.Name, "size", entry.Size, "dest", destPath)
	return entry, nil
}

// find walks the tar stream in data and returns the first matching entry
// and its payload. Every entry's payload is skipped whatever its type, so
// directories, links and metadata records never desynchronize the walk.
func find(data []byte, match Matcher, limits *security.Validator) (*Entry, []byte, error) {
	var (
		off      int64
		longName string
		seen     int
	)
	total := int64(len(data))

	for off+BlockSize <= total {
		entry, end, err := readHeader(data, off)
		if err != nil {
			return nil, nil, errors.WithKind(errors.KindExtraction, err, "corrupt tar header")
		}
		if end {
			break
		}

		start := off + BlockSize
		if entry.Size > total-start {
			return nil, nil, errors.Newf(errors.KindExtraction,
				"truncated payload for %q: need %d bytes, have %d", entry.Name, entry.Size, total-start)
		}
		payload := data[start : start+entry.Size]
		off = skipToBoundary(start, entry.Size)

		if entry.Type == TypeGNULong {
			longName = cString(payload)
			continue
		}
		if longName != "" {
			entry.Name = longName
			longName = ""
		}
		seen++

		slog.Debug("archive_entry", "entry", entry.Name, "size", entry.Size, "type", string(rune(entry.Type)))

		if !match(entry) {
			continue
		}
		if err := limits.ValidateEntrySize(entry.Name, entry.Size); err != nil {
			return nil, nil, errors.WithKind(errors.KindExtraction, err, "entry rejected")
		}
		return &entry, payload, nil
	}

	return nil, nil, errors.Newf(errors.KindExtraction, "entry not found among %d archive entries", seen)
}
