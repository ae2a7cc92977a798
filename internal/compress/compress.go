// Package compress implements the block compression codecs.
//
// Every codec runs at its maximum-ratio setting: packages are written once
// and read many times, so encode cost is paid once.
package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	rterrors "github.com/tamirms/rterrain/errors"
)

// Tag identifies the compression algorithm of a block. Tags are stored by
// name in block metadata records; the names are format constants.
type Tag uint8

const (
	// None stores the block bytes unchanged.
	None Tag = iota
	// Zstd is zstd at SpeedBestCompression. Default.
	Zstd
	// Zlib is zlib at level 9, the codec used by the first exporters.
	Zlib
	// LZ4 is LZ4 block mode with the HC compressor at level 9.
	LZ4
)

// String returns the tag name stored in block metadata.
func (t Tag) String() string {
	switch t {
	case None:
		return "none"
	case Zstd:
		return "zstd"
	case Zlib:
		return "zlib"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ParseTag parses a tag from its stored name.
func ParseTag(name string) (Tag, error) {
	switch name {
	case "none":
		return None, nil
	case "zstd":
		return Zstd, nil
	case "zlib":
		return Zlib, nil
	case "lz4":
		return LZ4, nil
	default:
		return 0, fmt.Errorf("%w: %q", rterrors.ErrUnknownCompression, name)
	}
}

// zstd.Encoder and zstd.Decoder are safe for concurrent use with
// EncodeAll/DecodeAll, so one of each serves every worker.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedBestCompression),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress compresses data with the requested codec and returns the
// compressed bytes together with the tag that was actually applied. LZ4
// reports incompressible input, in which case the data is returned
// unchanged with None. The input slice is never modified.
func Compress(data []byte, tag Tag) ([]byte, Tag, error) {
	switch tag {
	case None:
		return data, None, nil
	case Zstd:
		return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2+64)), Zstd, nil
	case Zlib:
		out, err := compressZlib(data)
		if err != nil {
			return nil, 0, err
		}
		return out, Zlib, nil
	case LZ4:
		out, err := compressLZ4(data)
		if err == errIncompressible {
			return data, None, nil
		}
		if err != nil {
			return nil, 0, err
		}
		return out, LZ4, nil
	default:
		return nil, 0, fmt.Errorf("%w: %d", rterrors.ErrUnknownCompression, uint8(tag))
	}
}

// Decompress reverses Compress. uncompressedSize must match the original
// length exactly; a mismatch wraps ErrSizeMismatch.
func Decompress(compressed []byte, tag Tag, uncompressedSize int) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch tag {
	case None:
		out = compressed
	case Zstd:
		out, err = zstdDecoder.DecodeAll(compressed, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
	case Zlib:
		out, err = decompressZlib(compressed, uncompressedSize)
		if err != nil {
			return nil, err
		}
	case LZ4:
		out = make([]byte, uncompressedSize)
		n, err := lz4.UncompressBlock(compressed, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		out = out[:n]
	default:
		return nil, fmt.Errorf("%w: %d", rterrors.ErrUnknownCompression, uint8(tag))
	}

	if len(out) != uncompressedSize {
		return nil, fmt.Errorf("%w: %s produced %d bytes, expected %d",
			rterrors.ErrSizeMismatch, tag, len(out), uncompressedSize)
	}
	return out, nil
}

func compressZlib(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(data)/2 + 64)
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("zlib writer: %w", err)
	}
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("zlib compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zlib close: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressZlib(compressed []byte, uncompressedSize int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("zlib reader: %w", err)
	}
	defer zr.Close()

	// Read one byte past the declared size so an oversized stream is caught
	// by the length check instead of being silently truncated.
	out := bytes.NewBuffer(make([]byte, 0, uncompressedSize))
	if _, err := io.Copy(out, io.LimitReader(zr, int64(uncompressedSize)+1)); err != nil {
		return nil, fmt.Errorf("zlib decompress: %w", err)
	}
	return out.Bytes(), nil
}

// errIncompressible is returned by compressLZ4 when the compressed output
// would not be smaller than the input.
var errIncompressible = fmt.Errorf("data is incompressible")

func compressLZ4(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errIncompressible
	}
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	c := lz4.CompressorHC{Level: lz4.Level9}
	n, err := c.CompressBlock(data, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 when the input is incompressible.
	if n == 0 || n >= len(data) {
		return nil, errIncompressible
	}
	return dst[:n], nil
}

// Ratio returns uncompressed/compressed, or 0 when compressed is empty.
func Ratio(uncompressed, compressed int) float64 {
	if compressed == 0 {
		return 0
	}
	return float64(uncompressed) / float64(compressed)
}
