package rterrain

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"unicode/utf8"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"

	rterrors "github.com/tamirms/rterrain/errors"
	"github.com/tamirms/rterrain/internal/checksum"
	"github.com/tamirms/rterrain/internal/compress"
)

// writeBufferSize is the bufio buffer in front of the output.
const writeBufferSize = 1 << 20

// Block is a named payload to be written.
type Block struct {
	Name    string
	Payload Payload
}

// BlockInfo describes one block as stored in a package.
type BlockInfo struct {
	Name              string
	Kind              Kind
	DType             DType // zero unless Kind is KindGrid
	Shape             []int // nil unless Kind is KindGrid
	Offset            int64 // file offset of the block's length prefix
	UncompressedSize  int64
	CompressedSize    int64
	Compression       Compression
	ChecksumAlgorithm ChecksumAlgorithm
	Checksum          string // hex content digest of the compressed payload
}

// Ratio returns uncompressed/compressed size, or 0 for an empty payload.
func (bi BlockInfo) Ratio() float64 {
	return compress.Ratio(int(bi.UncompressedSize), int(bi.CompressedSize))
}

// Summary describes a finished package.
type Summary struct {
	Size       int64         // total bytes written
	HeaderSize int           // bytes of the header record
	IndexSize  int           // bytes of the index record
	Digest     digest.Digest // trailing whole-file digest
	Blocks     []BlockInfo   // in write order
}

// Writer assembles a package block by block.
//
// Usage:
//
//	w, err := rterrain.NewWriter(ctx, out, header)
//	if err != nil { return err }
//	defer w.Close() // Clean up on error
//
//	for _, b := range blocks {
//	    if err := w.AddBlock(b.Name, b.Payload); err != nil { return err }
//	}
//	summary, err := w.Finish()
//
// Nothing is written to the output until Finish: the block count precedes
// the blocks, so every block must be known before the first byte is
// emitted. Blocks are encoded as they are added; with WithWorkers(n) up to
// n blocks are encoded concurrently and AddBlock blocks while all workers
// are busy.
type Writer struct {
	ctx    context.Context
	cfg    *writeConfig
	out    io.Writer
	header []byte
	names  map[string]struct{}
	blocks []*pendingBlock
	closed bool

	// Parallel mode fields (when workers > 1)
	group      *errgroup.Group
	groupCtx   context.Context
	cancel     context.CancelFunc
	progressMu sync.Mutex
}

type pendingBlock struct {
	name    string
	payload Payload
	enc     *encodedBlock
}

// layout is the result of sealing a writer: every section is final and the
// total size is known.
type layout struct {
	index   []byte
	entries []IndexEntry
	size    int64
}

// NewWriter creates a writer that emits a package to out on Finish.
//
// header is the package header record. nil is written as an empty object;
// a Record, json.RawMessage or []byte is used as-is after validation; any
// other value is marshaled with encoding/json.
func NewWriter(ctx context.Context, out io.Writer, header any, opts ...WriteOption) (*Writer, error) {
	cfg := defaultWriteConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if _, err := cfg.checksum.Sum(nil); err != nil {
		return nil, err
	}
	if cfg.compression > compress.LZ4 {
		return nil, fmt.Errorf("%w: %d", rterrors.ErrUnknownCompression, uint8(cfg.compression))
	}

	hdr, err := encodeHeader(header)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		ctx:    ctx,
		cfg:    cfg,
		out:    out,
		header: hdr,
		names:  make(map[string]struct{}),
	}
	if cfg.workers > 1 {
		w.groupCtx, w.cancel = context.WithCancel(ctx)
		w.group, w.groupCtx = errgroup.WithContext(w.groupCtx)
		w.group.SetLimit(cfg.workers)
	}
	return w, nil
}

func encodeHeader(header any) ([]byte, error) {
	var buf []byte
	switch h := header.(type) {
	case nil:
		return []byte("{}"), nil
	case Record:
		buf = h
	case json.RawMessage:
		buf = h
	case []byte:
		buf = h
	default:
		var err error
		buf, err = json.Marshal(header)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", rterrors.ErrInvalidHeader, err)
		}
	}
	if !json.Valid(buf) {
		return nil, rterrors.ErrInvalidHeader
	}
	if uint64(len(buf)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes", rterrors.ErrInvalidHeader, len(buf))
	}
	return append([]byte(nil), buf...), nil
}

// AddBlock appends a named block. Names must be unique, non-empty and at
// most 255 bytes of valid UTF-8. The payload must not be modified until
// Finish returns.
func (w *Writer) AddBlock(name string, p Payload) error {
	if w.closed {
		return rterrors.ErrWriterClosed
	}
	if err := w.ctx.Err(); err != nil {
		return err
	}
	if len(name) == 0 || len(name) > maxBlockNameLen || !utf8.ValidString(name) {
		return fmt.Errorf("%w: %q", rterrors.ErrInvalidBlockName, name)
	}
	if _, dup := w.names[name]; dup {
		return fmt.Errorf("%w: %q", rterrors.ErrDuplicateBlock, name)
	}
	if isNilPayload(p) {
		return fmt.Errorf("%w: block %q", rterrors.ErrNilPayload, name)
	}
	if uint64(len(w.blocks)) >= maxBlocks {
		return rterrors.ErrTooManyBlocks
	}

	pb := &pendingBlock{name: name, payload: p}
	if w.group == nil {
		enc, err := encodeBlock(name, p, w.cfg)
		if err != nil {
			return err
		}
		pb.enc = enc
		w.register(pb)
		w.reportProgress(pb)
		return nil
	}

	// Registered before encoding so write order is insertion order
	// regardless of which worker finishes first.
	w.register(pb)
	w.group.Go(func() error {
		if err := w.groupCtx.Err(); err != nil {
			return err
		}
		enc, err := encodeBlock(pb.name, pb.payload, w.cfg)
		if err != nil {
			return err
		}
		pb.enc = enc
		w.reportProgress(pb)
		return nil
	})
	return nil
}

func (w *Writer) register(pb *pendingBlock) {
	w.names[pb.name] = struct{}{}
	w.blocks = append(w.blocks, pb)
}

func isNilPayload(p Payload) bool {
	switch v := p.(type) {
	case nil:
		return true
	case *Grid:
		return v == nil
	case Record:
		return len(v) == 0
	}
	return false
}

func (w *Writer) reportProgress(pb *pendingBlock) {
	if w.cfg.progress == nil {
		return
	}
	w.progressMu.Lock()
	defer w.progressMu.Unlock()
	w.cfg.progress(pb.name, int(pb.enc.info.UncompressedSize), int(pb.enc.info.CompressedSize))
}

// Finish waits for pending encodes, writes the package and returns its
// summary. The writer is closed afterwards, whether or not Finish succeeds.
func (w *Writer) Finish() (*Summary, error) {
	l, err := w.seal()
	if err != nil {
		return nil, err
	}
	return w.emit(w.out, l)
}

// seal waits for workers, closes the writer to further blocks and computes
// the final layout.
func (w *Writer) seal() (*layout, error) {
	if w.closed {
		return nil, rterrors.ErrWriterClosed
	}
	w.closed = true

	if w.group != nil {
		err := w.group.Wait()
		w.cancel()
		if err != nil {
			if ctxErr := w.ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
	}
	if err := w.ctx.Err(); err != nil {
		return nil, err
	}

	offset := int64(preambleSize + len(w.header) + lengthPrefixSize)
	entries := make([]IndexEntry, len(w.blocks))
	for i, pb := range w.blocks {
		size := int64(pb.enc.size())
		pb.enc.info.Offset = offset
		entries[i] = IndexEntry{
			Name:            pb.name,
			Offset:          offset,
			Length:          size,
			Kind:            pb.enc.info.Kind.String(),
			CompressedLen:   pb.enc.info.CompressedSize,
			UncompressedLen: pb.enc.info.UncompressedSize,
			MetaChecksum:    checksum.Meta(pb.enc.meta),
		}
		offset += size
	}

	index, err := encodeIndex(entries)
	if err != nil {
		return nil, err
	}
	if uint64(len(index)) > math.MaxUint32 {
		return nil, fmt.Errorf("encode index: %d bytes exceeds the length field", len(index))
	}
	offset += int64(lengthPrefixSize + len(index) + digestSize)

	return &layout{index: index, entries: entries, size: offset}, nil
}

// emit writes a sealed package to out in one forward pass. The whole-file
// digest is computed by a hasher fed the same bytes, so nothing is re-read.
func (w *Writer) emit(out io.Writer, l *layout) (*Summary, error) {
	hasher := checksum.NewFile()
	bw := bufio.NewWriterSize(io.MultiWriter(out, hasher), writeBufferSize)

	var scratch [preambleSize]byte
	encodePreamble(scratch[:], len(w.header))
	bw.Write(scratch[:])
	bw.Write(w.header)
	bw.Write(putUint32(scratch[:0], len(w.blocks)))

	infos := make([]BlockInfo, len(w.blocks))
	for i, pb := range w.blocks {
		if err := w.ctx.Err(); err != nil {
			return nil, err
		}
		bw.Write(putUint32(scratch[:0], len(pb.enc.meta)))
		bw.Write(pb.enc.meta)
		bw.Write(pb.enc.payload)
		infos[i] = pb.enc.info

		w.cfg.logger.Debug("block written",
			"name", pb.name,
			"kind", pb.enc.info.Kind,
			"uncompressed", pb.enc.info.UncompressedSize,
			"compressed", pb.enc.info.CompressedSize,
			"compression", pb.enc.info.Compression,
			"ratio", pb.enc.info.Ratio())
	}

	bw.Write(putUint32(scratch[:0], len(l.index)))
	bw.Write(l.index)
	// bufio.Writer keeps the first error, so Flush reports any failed Write.
	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("write package: %w", err)
	}

	sum := hasher.Sum(nil)
	if _, err := out.Write(sum); err != nil {
		return nil, fmt.Errorf("write file digest: %w", err)
	}
	d, err := checksum.FileDigest(sum)
	if err != nil {
		return nil, err
	}

	w.cfg.logger.Info("package written",
		"blocks", len(w.blocks),
		"size", l.size,
		"digest", d.String())

	return &Summary{
		Size:       l.size,
		HeaderSize: len(w.header),
		IndexSize:  len(l.index),
		Digest:     d,
		Blocks:     infos,
	}, nil
}

// Close releases the writer. It is a no-op after Finish. Closing an
// unfinished writer cancels pending encodes and discards every block;
// nothing is written.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.group != nil {
		w.cancel()
		if err := w.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}

// Write encodes header and blocks as one package on out.
func Write(ctx context.Context, out io.Writer, header any, blocks []Block, opts ...WriteOption) (*Summary, error) {
	w, err := NewWriter(ctx, out, header, opts...)
	if err != nil {
		return nil, err
	}
	if err := w.addAll(blocks); err != nil {
		return nil, errors.Join(err, w.Close())
	}
	return w.Finish()
}

func (w *Writer) addAll(blocks []Block) error {
	for _, b := range blocks {
		if err := w.AddBlock(b.Name, b.Payload); err != nil {
			return err
		}
	}
	return nil
}
