package rterrain

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	rterrors "github.com/tamirms/rterrain/errors"
	"github.com/tamirms/rterrain/internal/checksum"
)

func uint32At(data []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(data[off:])
}

// scan parses the preamble and header, then walks exactly blockCount
// blocks. Everything between the header and the digest is bounded by
// end; nothing past it is ever read as block data.
//
// A block whose framing cannot be trusted (oversized or unparseable
// metadata, a payload running past end) stops the walk, because the next
// block cannot be located. A block whose framing is sound but whose
// content fails (digest, decompression, codec) is recorded and skipped
// using its declared length.
func (p *Package) scan() error {
	data := p.data
	if err := checkPreamble(data); err != nil {
		return err
	}
	end := len(data) - digestSize
	d, err := checksum.FileDigest(data[end:])
	if err != nil {
		return err
	}
	p.digest = d

	off := preambleSize
	headerLen := uint64(uint32At(data, 8))
	if headerLen > uint64(end-off-lengthPrefixSize) {
		return fmt.Errorf("%w: header length %d", rterrors.ErrTruncatedFile, headerLen)
	}
	header := data[off : off+int(headerLen)]
	if !json.Valid(header) {
		return &rterrors.FormatError{
			Reason: rterrors.ErrInvalidHeader,
			Detail: fmt.Sprintf("%d bytes", headerLen),
		}
	}
	p.header = cloneHeader(header)
	off += int(headerLen)

	p.blockCount = uint32At(data, off)
	off += lengthPrefixSize

	p.blocks = make(map[string]*decodedBlock)
	p.failed = make(map[string]*rterrors.BlockError)
	p.indexOffset = -1

	for i := range int(p.blockCount) {
		next, ok := p.scanBlock(i, off, end)
		if !ok {
			return nil
		}
		off = next
	}
	p.indexOffset = off
	return nil
}

// scanBlock decodes the block framed at off. It returns the offset of the
// next block, or ok=false if the framing is broken.
func (p *Package) scanBlock(i, off, end int) (next int, ok bool) {
	data := p.data
	if off+lengthPrefixSize > end {
		p.fail(i, "", fmt.Errorf("%w: block length prefix at %d past end of data", rterrors.ErrFraming, off))
		return 0, false
	}
	metaLen := int(uint32At(data, off))
	metaStart := off + lengthPrefixSize
	if metaLen > maxBlockMetaSize {
		p.fail(i, "", fmt.Errorf("%w: metadata length %d exceeds %d", rterrors.ErrFraming, metaLen, maxBlockMetaSize))
		return 0, false
	}
	if metaLen > end-metaStart {
		p.fail(i, "", fmt.Errorf("%w: metadata record at %d runs past end of data", rterrors.ErrFraming, metaStart))
		return 0, false
	}

	meta, err := decodeBlockMeta(data[metaStart : metaStart+metaLen])
	if err != nil {
		name := ""
		if meta != nil {
			name = meta.Name
		}
		p.fail(i, name, err)
		return 0, false
	}
	payloadStart := metaStart + metaLen
	if meta.CompressedSize > int64(end-payloadStart) {
		p.fail(i, meta.Name, fmt.Errorf("%w: payload of %d bytes runs past end of data", rterrors.ErrFraming, meta.CompressedSize))
		return 0, false
	}
	next = payloadStart + int(meta.CompressedSize)

	if _, dup := p.blocks[meta.Name]; dup {
		p.fail(i, meta.Name, rterrors.ErrDuplicateBlock)
		return next, true
	}
	if _, dup := p.failed[meta.Name]; dup {
		p.fail(i, meta.Name, rterrors.ErrDuplicateBlock)
		return next, true
	}

	payload, err := decodeBlock(meta, data[payloadStart:next])
	if err != nil {
		p.fail(i, meta.Name, err)
		return next, true
	}
	info := meta.info()
	info.Offset = int64(off)
	p.blocks[meta.Name] = &decodedBlock{info: info, payload: payload}
	p.order = append(p.order, meta.Name)
	return next, true
}

func (p *Package) fail(i int, name string, err error) {
	be := &rterrors.BlockError{Index: i, Name: name, Err: err}
	p.errs = append(p.errs, be)
	// The first failure for a name is the one Get reports.
	if _, seen := p.failed[name]; name != "" && !seen {
		p.failed[name] = be
	}
	p.logger.Warn("block failed", "index", i, "name", name, "error", err)
}
