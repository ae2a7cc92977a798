// Package checksum provides the digests stored in a package: a 128-bit
// content digest per block, a 64-bit checksum per block metadata record
// (carried in the index), and the 256-bit whole-file digest.
//
// Content digests detect accidental corruption; they are not a
// tamper-proof guarantee.
package checksum

import (
	// go-digest resolves SHA-256 through crypto.Hash and needs the
	// implementation registered.
	_ "crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/cespare/xxhash/v2"
	"github.com/opencontainers/go-digest"
	"github.com/spaolacci/murmur3"
	"github.com/zeebo/xxh3"

	rterrors "github.com/tamirms/rterrain/errors"
)

const (
	// ContentSize is the size of a block content digest in bytes.
	ContentSize = 16

	// FileSize is the size of the trailing whole-file digest in bytes.
	FileSize = 32
)

// FileAlgorithm is the whole-file digest algorithm. It is fixed by the
// format version.
const FileAlgorithm = digest.SHA256

// Algorithm identifies a 128-bit content digest function.
type Algorithm uint8

const (
	// XXH3 is xxHash3-128. Default.
	XXH3 Algorithm = iota
	// Murmur3 is MurmurHash3 x64 128-bit.
	Murmur3
)

// String returns the algorithm name stored in block metadata.
func (a Algorithm) String() string {
	switch a {
	case XXH3:
		return "xxh3-128"
	case Murmur3:
		return "murmur3-128"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// ParseAlgorithm parses a stored algorithm name. An empty name selects XXH3.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "xxh3-128", "":
		return XXH3, nil
	case "murmur3-128":
		return Murmur3, nil
	default:
		return 0, fmt.Errorf("%w: %q", rterrors.ErrUnknownChecksum, name)
	}
}

// Content is a 128-bit block content digest (big-endian hi || lo).
type Content [ContentSize]byte

// String returns the lower-case hex encoding stored in block metadata.
func (c Content) String() string {
	return hex.EncodeToString(c[:])
}

// ParseContent decodes a hex-encoded content digest.
func ParseContent(s string) (Content, error) {
	var c Content
	if hex.DecodedLen(len(s)) != ContentSize {
		return c, fmt.Errorf("content digest %q: want %d hex characters", s, 2*ContentSize)
	}
	if _, err := hex.Decode(c[:], []byte(s)); err != nil {
		return c, fmt.Errorf("content digest %q: %w", s, err)
	}
	return c, nil
}

// Sum computes the content digest of data.
func (a Algorithm) Sum(data []byte) (Content, error) {
	var hi, lo uint64
	switch a {
	case XXH3:
		h := xxh3.Hash128(data)
		hi, lo = h.Hi, h.Lo
	case Murmur3:
		hi, lo = murmur3.Sum128(data)
	default:
		return Content{}, fmt.Errorf("%w: %d", rterrors.ErrUnknownChecksum, uint8(a))
	}
	var c Content
	binary.BigEndian.PutUint64(c[0:8], hi)
	binary.BigEndian.PutUint64(c[8:16], lo)
	return c, nil
}

// Meta returns the 64-bit checksum of a block metadata record, stored in the
// index so a random-access reader can validate the record it seeks to.
func Meta(record []byte) uint64 {
	return xxhash.Sum64(record)
}

// NewFile returns a streaming whole-file hasher.
func NewFile() hash.Hash {
	return FileAlgorithm.Hash()
}

// FileDigest converts a raw whole-file digest into its typed form.
func FileDigest(raw []byte) (digest.Digest, error) {
	if len(raw) != FileSize {
		return "", fmt.Errorf("file digest: got %d bytes, want %d", len(raw), FileSize)
	}
	return digest.NewDigestFromBytes(FileAlgorithm, raw), nil
}

// File computes the whole-file digest of data in one call.
func File(data []byte) digest.Digest {
	return FileAlgorithm.FromBytes(data)
}
