package rterrain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/edsrzf/mmap-go"
)

// CreateFile writes a package to path atomically. The package is written
// to a temporary file in the same directory, synced and renamed over path
// only on success; on failure no file is left behind.
//
// The final size is known before the first byte is emitted, so the
// temporary file is preallocated to that size and written through a
// memory map.
func CreateFile(ctx context.Context, path string, header any, blocks []Block, opts ...WriteOption) (*Summary, error) {
	w, err := NewWriter(ctx, nil, header, opts...)
	if err != nil {
		return nil, err
	}
	if err := w.addAll(blocks); err != nil {
		return nil, errors.Join(err, w.Close())
	}
	l, err := w.seal()
	if err != nil {
		return nil, err
	}

	pf, err := newPackageFile(path, l.size)
	if err != nil {
		return nil, err
	}
	summary, err := w.emit(pf, l)
	if err != nil {
		return nil, errors.Join(err, pf.abort())
	}
	if err := pf.commit(); err != nil {
		return nil, err
	}
	return summary, nil
}

// packageFile is a preallocated, memory-mapped temporary file that is
// renamed into place on commit.
type packageFile struct {
	path    string
	tmpPath string
	file    *os.File
	mmap    mmap.MMap
	data    []byte
	off     int
}

var _ io.Writer = (*packageFile)(nil)

func newPackageFile(path string, size int64) (*packageFile, error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	file, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create temporary package file: %w", err)
	}
	pf := &packageFile{path: path, tmpPath: file.Name(), file: file}
	if err := file.Chmod(0o644); err != nil {
		return nil, errors.Join(fmt.Errorf("chmod package file: %w", err), pf.abort())
	}

	// Pre-allocate disk blocks to prevent SIGBUS on disk full
	if err := fallocateFile(file, size); err != nil {
		primaryErr := fmt.Errorf("allocate disk space: %w", err)
		return nil, errors.Join(primaryErr, pf.abort())
	}

	mm, err := mmap.MapRegion(file, int(size), mmap.RDWR, 0, 0)
	if err != nil {
		primaryErr := fmt.Errorf("mmap package file: %w", err)
		return nil, errors.Join(primaryErr, pf.abort())
	}
	pf.mmap = mm
	pf.data = []byte(mm)

	// On Linux 5.14+, uses MADV_POPULATE_WRITE. No-op on other platforms.
	prefaultRegion(pf.data)
	return pf, nil
}

// Write copies p into the mapped region. Writing past the preallocated
// size is an error: the layout computed the size exactly.
func (pf *packageFile) Write(p []byte) (int, error) {
	if len(p) > len(pf.data)-pf.off {
		return 0, fmt.Errorf("write of %d bytes at offset %d exceeds preallocated size %d", len(p), pf.off, len(pf.data))
	}
	n := copy(pf.data[pf.off:], p)
	pf.off += n
	return n, nil
}

// commit flushes, syncs and renames the file into place. On error it
// cleans up like abort.
func (pf *packageFile) commit() error {
	if pf.off != len(pf.data) {
		primaryErr := fmt.Errorf("wrote %d bytes, preallocated %d", pf.off, len(pf.data))
		return errors.Join(primaryErr, pf.abort())
	}

	// Flush dirty pages to file (ensures writes visible before unmap)
	if err := pf.mmap.Flush(); err != nil {
		primaryErr := fmt.Errorf("mmap flush failed: %w", err)
		return errors.Join(primaryErr, pf.abort())
	}
	// Nil mmap regardless of outcome to prevent abort() from retrying.
	unmapErr := pf.mmap.Unmap()
	pf.mmap, pf.data = nil, nil
	if unmapErr != nil {
		primaryErr := fmt.Errorf("mmap unmap failed: %w", unmapErr)
		return errors.Join(primaryErr, pf.abort())
	}

	if err := pf.file.Sync(); err != nil {
		primaryErr := fmt.Errorf("sync package file: %w", err)
		return errors.Join(primaryErr, pf.abort())
	}
	closeErr := pf.file.Close()
	pf.file = nil
	if closeErr != nil {
		return errors.Join(fmt.Errorf("close package file: %w", closeErr), pf.abort())
	}

	if err := os.Rename(pf.tmpPath, pf.path); err != nil {
		return errors.Join(fmt.Errorf("rename package file: %w", err), pf.abort())
	}
	return nil
}

// abort unmaps, closes and removes the temporary file.
// Idempotent: safe to call multiple times.
func (pf *packageFile) abort() error {
	var unmapErr error
	if pf.mmap != nil {
		unmapErr = pf.mmap.Unmap()
		pf.mmap, pf.data = nil, nil
	}
	var closeErr error
	if pf.file != nil {
		closeErr = pf.file.Close()
		pf.file = nil
	}
	var removeErr error
	if pf.tmpPath != "" {
		if err := os.Remove(pf.tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			removeErr = err
		}
		pf.tmpPath = ""
	}
	return errors.Join(unmapErr, closeErr, removeErr)
}
