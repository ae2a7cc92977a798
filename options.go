package rterrain

import (
	"log/slog"

	"github.com/tamirms/rterrain/internal/checksum"
	"github.com/tamirms/rterrain/internal/compress"
)

// Compression selects the codec applied to block payloads.
type Compression = compress.Tag

const (
	CompressionNone = compress.None
	CompressionZstd = compress.Zstd
	CompressionZlib = compress.Zlib
	CompressionLZ4  = compress.LZ4
)

// ParseCompression parses a codec name: none, zstd, zlib or lz4.
func ParseCompression(name string) (Compression, error) {
	return compress.ParseTag(name)
}

// ChecksumAlgorithm selects the 128-bit per-block content digest.
type ChecksumAlgorithm = checksum.Algorithm

const (
	ChecksumXXH3    = checksum.XXH3
	ChecksumMurmur3 = checksum.Murmur3
)

// ParseChecksum parses a digest name: xxh3-128 or murmur3-128.
func ParseChecksum(name string) (ChecksumAlgorithm, error) {
	return checksum.ParseAlgorithm(name)
}

// ProgressFunc is called once per block after the block has been encoded.
// With several workers, calls arrive in completion order but never
// concurrently.
type ProgressFunc func(name string, uncompressed, compressed int)

// WriteOption is a functional option for configuring writes.
type WriteOption func(*writeConfig)

type writeConfig struct {
	workers     int
	compression compress.Tag
	checksum    checksum.Algorithm
	logger      *slog.Logger
	progress    ProgressFunc
}

func defaultWriteConfig() *writeConfig {
	return &writeConfig{
		workers:     0, // Single-threaded; use WithWorkers(n) to parallelize
		compression: compress.Zstd,
		checksum:    checksum.XXH3,
		logger:      slog.New(slog.DiscardHandler),
	}
}

// WithWorkers sets the number of blocks encoded concurrently. The output
// is byte-identical for every worker count.
func WithWorkers(n int) WriteOption {
	return func(c *writeConfig) {
		c.workers = n
	}
}

// WithCompression sets the codec for every block. Default is zstd.
func WithCompression(tag Compression) WriteOption {
	return func(c *writeConfig) {
		c.compression = tag
	}
}

// WithChecksum sets the per-block content digest. Default is xxh3-128.
func WithChecksum(algo ChecksumAlgorithm) WriteOption {
	return func(c *writeConfig) {
		c.checksum = algo
	}
}

// WithLogger routes write diagnostics to l. A nil logger is ignored.
func WithLogger(l *slog.Logger) WriteOption {
	return func(c *writeConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithProgress registers a per-block progress callback.
func WithProgress(fn ProgressFunc) WriteOption {
	return func(c *writeConfig) {
		c.progress = fn
	}
}

// OpenOption is a functional option for configuring Open and its variants.
type OpenOption func(*openConfig)

type openConfig struct {
	verifyDigest bool
	logger       *slog.Logger
}

func defaultOpenConfig() *openConfig {
	return &openConfig{
		logger: slog.New(slog.DiscardHandler),
	}
}

// WithVerifyDigest checks the trailing whole-file digest during open.
// A mismatch fails the open with ErrChecksumFailed. Without it, the digest
// is only checked by Verify.
func WithVerifyDigest() OpenOption {
	return func(c *openConfig) {
		c.verifyDigest = true
	}
}

// WithOpenLogger routes open diagnostics, one warning per failed block,
// to l. A nil logger is ignored.
func WithOpenLogger(l *slog.Logger) OpenOption {
	return func(c *openConfig) {
		if l != nil {
			c.logger = l
		}
	}
}
