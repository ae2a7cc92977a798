package rterrain

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	rterrors "github.com/tamirms/rterrain/errors"
)

// IndexEntry locates one block in the package. The index is written once,
// after the last block, and is not needed to decode the package.
type IndexEntry struct {
	Name            string `cbor:"name"`
	Offset          int64  `cbor:"offset"` // file offset of the block's length prefix
	Length          int64  `cbor:"length"` // prefix + metadata + payload
	Kind            string `cbor:"kind"`
	CompressedLen   int64  `cbor:"compressed_len"`
	UncompressedLen int64  `cbor:"uncompressed_len"`
	MetaChecksum    uint64 `cbor:"meta_checksum"` // xxHash64 of the metadata record
}

// indexEncMode uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same entries always produce the same bytes.
var (
	indexEncMode cbor.EncMode
	indexDecMode cbor.DecMode
)

func init() {
	var err error
	indexEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("rterrain: CBOR encoder initialization failed: " + err.Error())
	}
	indexDecMode, err = cbor.DecOptions{
		// Bound the entry count a corrupt length can request.
		MaxArrayElements: maxBlocks >> 4,
	}.DecMode()
	if err != nil {
		panic("rterrain: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeIndex(entries []IndexEntry) ([]byte, error) {
	if entries == nil {
		entries = []IndexEntry{}
	}
	buf, err := indexEncMode.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode index: %w", err)
	}
	return buf, nil
}

func decodeIndex(buf []byte) ([]IndexEntry, error) {
	var entries []IndexEntry
	if err := indexDecMode.Unmarshal(buf, &entries); err != nil {
		return nil, fmt.Errorf("%w: index record: %v", rterrors.ErrFraming, err)
	}
	return entries, nil
}
