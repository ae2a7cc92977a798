package rterrain

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	rterrors "github.com/tamirms/rterrain/errors"
	"github.com/tamirms/rterrain/internal/checksum"
	"github.com/tamirms/rterrain/internal/compress"
)

const (
	// magic tag at offset 0 of every package.
	magic = "RTER"

	// FormatVersion is the only format version this library reads and
	// writes. Version 2 stores an explicit block count after the header.
	FormatVersion = uint32(2)

	// preambleSize covers magic, version and header length.
	preambleSize = 12

	// lengthPrefixSize is the size of every uint32 length/count field.
	lengthPrefixSize = 4

	// digestSize is the size of the trailing whole-file digest.
	digestSize = checksum.FileSize

	// minPackageSize is the smallest structurally valid package:
	// preamble + empty header + block count + index length + digest.
	minPackageSize = preambleSize + lengthPrefixSize + lengthPrefixSize + digestSize

	// maxBlockMetaSize is the sanity threshold for a block metadata record.
	// Legitimate records are a few hundred bytes.
	maxBlockMetaSize = 100_000

	// maxBlockNameLen is the maximum block name length in bytes.
	maxBlockNameLen = 255

	// maxBlocks is the largest block count the uint32 count field holds.
	maxBlocks = 1<<32 - 1

	// maxBlockSize bounds the declared uncompressed size of a block. The
	// metadata record is not covered by the content digest, so the declared
	// size is checked before any buffer is allocated for it.
	maxBlockSize = int64(1) << 34
)

// Layout:
//
//	Offset            Size         Field
//	0                 4            Magic            "RTER"
//	4                 4            FormatVersion    uint32_le
//	8                 4            HeaderLen        uint32_le
//	12                HeaderLen    Header           JSON
//	+0                4            BlockCount       uint32_le
//	                               BlockCount × {
//	                  4              MetaLen        uint32_le (<= 100000)
//	                  MetaLen        Meta           JSON blockMeta
//	                  CompressedLen  Payload        compressed bytes
//	                               }
//	+0                4            IndexLen         uint32_le
//	+4                IndexLen     Index            CBOR []IndexEntry
//	len-32            32           FileDigest       SHA-256 of [0, len-32)

// blockMeta is the per-block metadata record.
type blockMeta struct {
	Name              string `json:"name"`
	Kind              string `json:"kind"`
	DType             string `json:"dtype,omitempty"`
	Shape             []int  `json:"shape,omitempty"`
	UncompressedSize  int64  `json:"uncompressed_size"`
	CompressedSize    int64  `json:"compressed_size"`
	Compression       string `json:"compression"`
	ChecksumAlgorithm string `json:"checksum_algorithm"`
	Checksum          string `json:"checksum"`
}

func (m *blockMeta) encode() ([]byte, error) {
	buf, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode block metadata %q: %w", m.Name, err)
	}
	if len(buf) > maxBlockMetaSize {
		return nil, fmt.Errorf("%w: block %q metadata is %d bytes", rterrors.ErrMetadataTooLarge, m.Name, len(buf))
	}
	return buf, nil
}

// info converts the record to its public form. Unknown tags leave the
// corresponding field at its zero value; decodeBlock reports them.
func (m *blockMeta) info() BlockInfo {
	bi := BlockInfo{
		Name:             m.Name,
		Shape:            m.Shape,
		UncompressedSize: m.UncompressedSize,
		CompressedSize:   m.CompressedSize,
		Checksum:         m.Checksum,
	}
	bi.Kind, _ = parseKind(m.Kind)
	if m.DType != "" {
		bi.DType, _ = ParseDType(m.DType)
	}
	bi.Compression, _ = compress.ParseTag(m.Compression)
	bi.ChecksumAlgorithm, _ = checksum.ParseAlgorithm(m.ChecksumAlgorithm)
	return bi
}

func decodeBlockMeta(buf []byte) (*blockMeta, error) {
	var m blockMeta
	if err := json.Unmarshal(buf, &m); err != nil {
		return nil, fmt.Errorf("%w: metadata record: %v", rterrors.ErrFraming, err)
	}
	if m.Name == "" {
		return nil, fmt.Errorf("%w: metadata record has no name", rterrors.ErrFraming)
	}
	if m.CompressedSize < 0 || m.UncompressedSize < 0 {
		return &m, fmt.Errorf("%w: negative block size", rterrors.ErrFraming)
	}
	return &m, nil
}

// encodePreamble writes magic, version and the header length prefix.
func encodePreamble(buf []byte, headerLen int) {
	copy(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(headerLen))
}

// checkPreamble validates magic and version. It runs before anything else
// is parsed, so a foreign file or a future version is rejected without
// looking at the header.
func checkPreamble(data []byte) error {
	if len(data) >= 4 && string(data[0:4]) != magic {
		return &rterrors.FormatError{
			Reason: rterrors.ErrInvalidMagic,
			Detail: fmt.Sprintf("found %q", data[0:4]),
		}
	}
	if len(data) >= 8 {
		if v := binary.LittleEndian.Uint32(data[4:8]); v != FormatVersion {
			return &rterrors.FormatError{
				Reason: rterrors.ErrInvalidVersion,
				Detail: fmt.Sprintf("found v%d, this library reads v%d", v, FormatVersion),
			}
		}
	}
	if len(data) < minPackageSize {
		return rterrors.ErrTruncatedFile
	}
	return nil
}

func putUint32(buf []byte, v int) []byte {
	return binary.LittleEndian.AppendUint32(buf, uint32(v))
}
