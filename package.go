package rterrain

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/edsrzf/mmap-go"
	"github.com/opencontainers/go-digest"

	rterrors "github.com/tamirms/rterrain/errors"
	"github.com/tamirms/rterrain/internal/checksum"
)

// Package is a decoded, read-only package.
//
// Every block is verified and decoded during Open. Blocks that fail are
// kept out of the lookup table and reported through BlockErrors and Get;
// they never prevent the remaining blocks from being read.
//
// Thread Safety:
//   - Get, Lookup and other read methods are safe for concurrent use
//   - Returned payloads are shared between callers and must not be modified
//   - Close must only be called after all reads have completed
type Package struct {
	// Backing memory: a read-only mapping for Open/OpenFile, the caller's
	// slice for OpenBytes, a private buffer for OpenReader. Only Verify and
	// Index read it after open; decoded payloads never alias it.
	mmap mmap.MMap
	data []byte

	header      Record
	blocks      map[string]*decodedBlock
	order       []string
	failed      map[string]*rterrors.BlockError
	errs        []*rterrors.BlockError
	blockCount  uint32 // as declared in the package
	indexOffset int    // -1 when block framing failed
	digest      digest.Digest
	logger      *slog.Logger

	closed atomic.Bool // Atomic for lock-free close check
}

type decodedBlock struct {
	info    BlockInfo
	payload Payload
}

// Stats holds package statistics.
type Stats struct {
	Size             int64 // total package bytes
	HeaderSize       int
	DeclaredBlocks   int // block count stored in the package
	Blocks           int // successfully decoded blocks
	FailedBlocks     int
	UncompressedSize int64 // sum over decoded blocks
	CompressedSize   int64 // sum over decoded blocks
}

// Ratio returns the overall compression ratio of the decoded blocks.
func (s *Stats) Ratio() float64 {
	if s.CompressedSize == 0 {
		return 0
	}
	return float64(s.UncompressedSize) / float64(s.CompressedSize)
}

// Open opens and decodes a package file.
// It opens the file, memory-maps it, and closes the file descriptor.
func Open(path string, opts ...OpenOption) (*Package, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open package file: %w", err)
	}
	defer file.Close()
	return OpenFile(file, opts...)
}

// OpenFile decodes a package by memory-mapping the given file.
// The caller is responsible for closing f. Per POSIX mmap(2), f may be
// closed immediately after OpenFile returns.
func OpenFile(f *os.File, opts ...OpenOption) (*Package, error) {
	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat package file: %w", err)
	}
	fileSize := stat.Size()

	if fileSize < int64(minPackageSize) {
		// Too small to map usefully; read it so magic and version errors
		// still take precedence over truncation.
		buf := make([]byte, fileSize)
		if _, err := f.ReadAt(buf, 0); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read package file: %w", err)
		}
		return nil, checkPreamble(buf)
	}

	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap package file: %w", err)
	}
	adviseSequential(mm)

	p := &Package{
		mmap: mm,
		data: []byte(mm),
	}
	if err := p.init(opts); err != nil {
		return nil, errors.Join(err, p.Close())
	}
	return p, nil
}

// OpenBytes decodes a package held in memory. No file is opened or
// memory-mapped; Close is a no-op. The caller must not modify data while
// the Package is in use.
func OpenBytes(data []byte, opts ...OpenOption) (*Package, error) {
	p := &Package{data: data}
	if err := p.init(opts); err != nil {
		return nil, err
	}
	return p, nil
}

// OpenReader reads r to the end and decodes the result.
func OpenReader(r io.Reader, opts ...OpenOption) (*Package, error) {
	if f, ok := r.(*os.File); ok {
		fadviseSequential(f)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read package: %w", err)
	}
	return OpenBytes(data, opts...)
}

func (p *Package) init(opts []OpenOption) error {
	cfg := defaultOpenConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	p.logger = cfg.logger

	if err := p.scan(); err != nil {
		return err
	}
	if cfg.verifyDigest {
		if err := p.verifyDigest(); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the package's memory mapping, if any.
func (p *Package) Close() error {
	if p.closed.Swap(true) {
		return nil // Already closed
	}

	if p.mmap != nil {
		return p.mmap.Unmap()
	}
	return nil
}

// Get returns the payload of a block. It returns an error wrapping
// ErrBlockNotFound if no block has that name, or the block's *BlockError
// if the block is present but could not be decoded.
func (p *Package) Get(name string) (Payload, error) {
	if p.closed.Load() {
		return nil, rterrors.ErrPackageClosed
	}
	if b, ok := p.blocks[name]; ok {
		return b.payload, nil
	}
	if be, ok := p.failed[name]; ok {
		return nil, be
	}
	return nil, fmt.Errorf("%w: %q", rterrors.ErrBlockNotFound, name)
}

// Lookup is Get without the error detail. ok is false for missing and
// failed blocks alike.
func (p *Package) Lookup(name string) (Payload, bool) {
	payload, err := p.Get(name)
	return payload, err == nil
}

// Grid returns a grid block. It fails with ErrWrongKind if the block holds
// another payload kind.
func (p *Package) Grid(name string) (*Grid, error) {
	return getAs[*Grid](p, name)
}

// Blob returns a bytes block.
func (p *Package) Blob(name string) (Blob, error) {
	return getAs[Blob](p, name)
}

// Record returns a record block.
func (p *Package) Record(name string) (Record, error) {
	return getAs[Record](p, name)
}

func getAs[T Payload](p *Package, name string) (T, error) {
	var zero T
	payload, err := p.Get(name)
	if err != nil {
		return zero, err
	}
	v, ok := payload.(T)
	if !ok {
		return zero, fmt.Errorf("%w: block %q is %s, want %s", rterrors.ErrWrongKind, name, payload.Kind(), zero.Kind())
	}
	return v, nil
}

// Has reports whether a block with this name was decoded.
func (p *Package) Has(name string) bool {
	_, ok := p.blocks[name]
	return ok
}

// Header returns the header record.
func (p *Package) Header() Record {
	return p.header
}

// DecodeHeader unmarshals the header record into v.
func (p *Package) DecodeHeader(v any) error {
	return p.header.Decode(v)
}

// BlockNames returns the names of the decoded blocks in write order.
func (p *Package) BlockNames() []string {
	return append([]string(nil), p.order...)
}

// BlockInfo returns the stored description of a decoded block.
func (p *Package) BlockInfo(name string) (BlockInfo, bool) {
	b, ok := p.blocks[name]
	if !ok {
		return BlockInfo{}, false
	}
	return b.info, true
}

// BlockErrors returns the blocks that failed to decode, in package order.
func (p *Package) BlockErrors() []*rterrors.BlockError {
	return append([]*rterrors.BlockError(nil), p.errs...)
}

// Digest returns the trailing whole-file digest as stored. It is not
// checked against the content; see Verify.
func (p *Package) Digest() digest.Digest {
	return p.digest
}

// Stats returns package statistics.
func (p *Package) Stats() *Stats {
	s := &Stats{
		Size:           int64(len(p.data)),
		HeaderSize:     len(p.header),
		DeclaredBlocks: int(p.blockCount),
		Blocks:         len(p.order),
		FailedBlocks:   len(p.errs),
	}
	for _, name := range p.order {
		info := p.blocks[name].info
		s.UncompressedSize += info.UncompressedSize
		s.CompressedSize += info.CompressedSize
	}
	return s
}

// Index parses the trailing index record. The index is not used to decode
// the package; it is exposed for tools that want block offsets. It fails
// with ErrFraming if block framing failed during open, since the index
// cannot then be located.
func (p *Package) Index() ([]IndexEntry, error) {
	if p.closed.Load() {
		return nil, rterrors.ErrPackageClosed
	}
	if p.indexOffset < 0 {
		return nil, fmt.Errorf("%w: index position unknown", rterrors.ErrFraming)
	}
	end := len(p.data) - digestSize
	off := p.indexOffset
	if off+lengthPrefixSize > end {
		return nil, fmt.Errorf("%w: index length prefix past end of data", rterrors.ErrFraming)
	}
	n := uint64(uint32At(p.data, off))
	off += lengthPrefixSize
	if n != uint64(end-off) {
		return nil, fmt.Errorf("%w: index length %d, %d bytes before digest", rterrors.ErrFraming, n, end-off)
	}
	return decodeIndex(p.data[off:end])
}

// Verify recomputes the whole-file digest and checks the index. Per-block
// failures found during open are included. The result joins every
// problem found; nil means the package is intact.
func (p *Package) Verify() error {
	if p.closed.Load() {
		return rterrors.ErrPackageClosed
	}
	var errs []error
	if err := p.verifyDigest(); err != nil {
		errs = append(errs, err)
	}
	if _, err := p.Index(); err != nil {
		errs = append(errs, fmt.Errorf("index: %w", err))
	}
	for _, be := range p.errs {
		errs = append(errs, be)
	}
	return errors.Join(errs...)
}

func (p *Package) verifyDigest() error {
	end := len(p.data) - digestSize
	got := checksum.File(p.data[:end])
	if got != p.digest {
		return fmt.Errorf("%w: stored %s, computed %s", rterrors.ErrChecksumFailed, p.digest, got)
	}
	return nil
}

// cloneHeader copies the header out of the backing memory.
func cloneHeader(raw []byte) Record {
	return Record(bytes.Clone(raw))
}
