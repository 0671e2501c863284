package security

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// ErrLimitExceeded is wrapped by every limit violation.
var ErrLimitExceeded = errors.New("security: limit exceeded")

// Validator enforces size limits while a downloaded renderer archive is
// decompressed and walked.
type Validator struct {
	maxEntrySize        int64
	maxArchiveSize      int64
	maxCompressionRatio float64

	mu           sync.Mutex
	decompressed int64
}

// NewValidator creates a validator. A zero or negative limit disables that check.
func NewValidator(maxEntrySize, maxArchiveSize int64, maxCompressionRatio float64) *Validator {
	slog.Debug("archive_limits_init",
		"max_entry_size_mb", maxEntrySize/1024/1024,
		"max_archive_size_mb", maxArchiveSize/1024/1024,
		"max_compression_ratio", maxCompressionRatio)

	return &Validator{
		maxEntrySize:        maxEntrySize,
		maxArchiveSize:      maxArchiveSize,
		maxCompressionRatio: maxCompressionRatio,
	}
}

// ValidateEntrySize rejects a tar entry whose declared size is over the limit.
func (v *Validator) ValidateEntrySize(name string, size int64) error {
	if v == nil || v.maxEntrySize <= 0 {
		return nil
	}
	if size > v.maxEntrySize {
		slog.Error("archive_entry_too_large",
			"entry", name,
			"size_mb", size/1024/1024,
			"max_entry_size_mb", v.maxEntrySize/1024/1024)
		return fmt.Errorf("%w: entry %s size %d exceeds max %d", ErrLimitExceeded, name, size, v.maxEntrySize)
	}
	return nil
}

// AddDecompressed tracks the running decompressed size and checks it against
// the archive limit.
func (v *Validator) AddDecompressed(n int64) error {
	if v == nil {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	v.decompressed += n
	if v.maxArchiveSize > 0 && v.decompressed > v.maxArchiveSize {
		slog.Error("archive_size_exceeded",
			"decompressed_mb", v.decompressed/1024/1024,
			"max_archive_size_mb", v.maxArchiveSize/1024/1024)
		return fmt.Errorf("%w: decompressed size %d exceeds max %d", ErrLimitExceeded, v.decompressed, v.maxArchiveSize)
	}
	return nil
}

// ValidateCompressionRatio checks for compression bombs once the stream has
// been fully decompressed.
func (v *Validator) ValidateCompressionRatio(compressedSize, decompressedSize int64) error {
	if v == nil || v.maxCompressionRatio <= 0 {
		return nil
	}
	if compressedSize == 0 {
		return fmt.Errorf("security: compressed size cannot be zero")
	}

	ratio := float64(decompressedSize) / float64(compressedSize)
	if ratio > v.maxCompressionRatio {
		slog.Error("archive_compression_bomb_detected",
			"ratio", ratio,
			"max_ratio", v.maxCompressionRatio,
			"compressed_bytes", compressedSize,
			"decompressed_bytes", decompressedSize)
		return fmt.Errorf("%w: compression ratio %.2f exceeds max %.2f", ErrLimitExceeded, ratio, v.maxCompressionRatio)
	}
	return nil
}

// Reader wraps a decompressed stream so every read counts against the
// archive limit.
func (v *Validator) Reader(r io.Reader) io.Reader {
	return &countingReader{r: r, v: v}
}

type countingReader struct {
	r io.Reader
	v *Validator
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		if limitErr := c.v.AddDecompressed(int64(n)); limitErr != nil {
			return n, limitErr
		}
	}
	return n, err
}

// Reset clears the decompressed counter before the next archive.
func (v *Validator) Reset() {
	if v == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.decompressed = 0
}

// Decompressed returns the bytes counted since the last Reset.
func (v *Validator) Decompressed() int64 {
	if v == nil {
		return 0
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.decompressed
}
