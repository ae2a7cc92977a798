package rterrain

import (
	"bytes"
	"fmt"

	rterrors "github.com/tamirms/rterrain/errors"
	"github.com/tamirms/rterrain/internal/checksum"
	"github.com/tamirms/rterrain/internal/compress"
)

// encodedBlock is a block after codec encoding, compression and hashing,
// ready to be framed.
type encodedBlock struct {
	meta    []byte // JSON block metadata record
	payload []byte // compressed payload
	info    BlockInfo
}

// size returns the framed size: length prefix, metadata and payload.
func (e *encodedBlock) size() int {
	return lengthPrefixSize + len(e.meta) + len(e.payload)
}

// encodePayload returns the uncompressed byte form of p and fills the
// kind-specific fields of meta.
func encodePayload(p Payload, meta *blockMeta) ([]byte, error) {
	meta.Kind = p.Kind().String()
	switch v := p.(type) {
	case *Grid:
		if err := v.validate(); err != nil {
			return nil, err
		}
		meta.DType = v.DType.String()
		meta.Shape = append([]int{}, v.Shape...)
		return v.Data, nil
	case Blob:
		return v, nil
	case Record:
		if err := v.validate(); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: %T", rterrors.ErrUnknownKind, p)
	}
}

// decodePayload rebuilds a payload from its uncompressed bytes. raw must
// not alias caller-owned memory; it is retained by the result.
func decodePayload(meta *blockMeta, raw []byte) (Payload, error) {
	kind, err := parseKind(meta.Kind)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindGrid:
		dtype, err := ParseDType(meta.DType)
		if err != nil {
			return nil, err
		}
		g := &Grid{DType: dtype, Shape: meta.Shape, Data: raw}
		if err := g.validate(); err != nil {
			return nil, err
		}
		return g, nil
	case KindBytes:
		return Blob(raw), nil
	default:
		r := Record(raw)
		if err := r.validate(); err != nil {
			return nil, err
		}
		return r, nil
	}
}

// encodeBlock runs the full per-block pipeline: codec, compression,
// content digest, metadata record.
func encodeBlock(name string, p Payload, cfg *writeConfig) (*encodedBlock, error) {
	meta := &blockMeta{Name: name}
	raw, err := encodePayload(p, meta)
	if err != nil {
		return nil, fmt.Errorf("encode block %q: %w", name, err)
	}

	compressed, tag, err := compress.Compress(raw, cfg.compression)
	if err != nil {
		return nil, fmt.Errorf("compress block %q: %w", name, err)
	}
	sum, err := cfg.checksum.Sum(compressed)
	if err != nil {
		return nil, fmt.Errorf("digest block %q: %w", name, err)
	}

	meta.UncompressedSize = int64(len(raw))
	meta.CompressedSize = int64(len(compressed))
	meta.Compression = tag.String()
	meta.ChecksumAlgorithm = cfg.checksum.String()
	meta.Checksum = sum.String()

	rec, err := meta.encode()
	if err != nil {
		return nil, err
	}
	return &encodedBlock{
		meta:    rec,
		payload: compressed,
		info:    meta.info(),
	}, nil
}

// decodeBlock verifies and decodes one block whose metadata has already
// been parsed. compressed may alias the package's backing memory.
func decodeBlock(meta *blockMeta, compressed []byte) (Payload, error) {
	algo, err := checksum.ParseAlgorithm(meta.ChecksumAlgorithm)
	if err != nil {
		return nil, err
	}
	want, err := checksum.ParseContent(meta.Checksum)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rterrors.ErrDigestMismatch, err)
	}
	got, err := algo.Sum(compressed)
	if err != nil {
		return nil, err
	}
	if got != want {
		return nil, fmt.Errorf("%w: stored %s, computed %s", rterrors.ErrDigestMismatch, want, got)
	}

	tag, err := compress.ParseTag(meta.Compression)
	if err != nil {
		return nil, err
	}
	if meta.UncompressedSize > maxBlockSize {
		return nil, fmt.Errorf("%w: declared size %d exceeds %d", rterrors.ErrSizeMismatch, meta.UncompressedSize, maxBlockSize)
	}
	raw, err := compress.Decompress(compressed, tag, int(meta.UncompressedSize))
	if err != nil {
		return nil, err
	}
	if tag == compress.None {
		// None hands back its input, which may be mapped file memory.
		raw = bytes.Clone(raw)
	}
	return decodePayload(meta, raw)
}
