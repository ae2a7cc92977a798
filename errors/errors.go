// Package errors defines all exported error sentinels and error types for the
// rterrain library.
//
// This is the single source of truth for error values. Both the top-level
// rterrain package and its internal codec packages import from here,
// ensuring errors.Is checks work across package boundaries.
package errors

import (
	"errors"
	"fmt"
)

// Format errors. These are fatal: Open returns no Package.
var (
	ErrInvalidMagic   = errors.New("rterrain: invalid magic number")
	ErrInvalidVersion = errors.New("rterrain: unsupported format version")
	ErrInvalidHeader  = errors.New("rterrain: header record is not valid JSON")
	ErrTruncatedFile  = errors.New("rterrain: package is truncated")
	ErrChecksumFailed = errors.New("rterrain: file checksum verification failed")
)

// Block errors. These are reported per block and never abort Open.
var (
	ErrDigestMismatch     = errors.New("rterrain: block content digest mismatch")
	ErrFraming            = errors.New("rterrain: block framing is corrupted")
	ErrShapeMismatch      = errors.New("rterrain: grid data length does not match dtype and shape")
	ErrUnknownDType       = errors.New("rterrain: unknown grid dtype")
	ErrDTypeMismatch      = errors.New("rterrain: grid dtype does not match the requested element type")
	ErrUnknownKind        = errors.New("rterrain: unknown payload kind")
	ErrUnknownCompression = errors.New("rterrain: unknown compression tag")
	ErrUnknownChecksum    = errors.New("rterrain: unknown checksum algorithm")
	ErrSizeMismatch       = errors.New("rterrain: decompressed size does not match block metadata")
	ErrInvalidRecord      = errors.New("rterrain: record is not valid JSON")
)

// Write errors
var (
	ErrWriterClosed     = errors.New("rterrain: writer is closed")
	ErrDuplicateBlock   = errors.New("rterrain: duplicate block name")
	ErrInvalidBlockName = errors.New("rterrain: block name must be 1-255 bytes")
	ErrNilPayload       = errors.New("rterrain: block payload is nil")
	ErrMetadataTooLarge = errors.New("rterrain: block metadata record exceeds sanity threshold")
	ErrTooManyBlocks    = errors.New("rterrain: block count exceeds maximum")
)

// Query errors
var (
	ErrPackageClosed = errors.New("rterrain: package is closed")
	ErrBlockNotFound = errors.New("rterrain: block not found")
	ErrWrongKind     = errors.New("rterrain: block has a different payload kind")
)

// FormatError reports that the input is not a readable package at all:
// wrong magic, unsupported version or an unparseable header.
type FormatError struct {
	Reason error  // One of ErrInvalidMagic, ErrInvalidVersion, ErrInvalidHeader
	Detail string // Human-readable context, e.g. the bytes that were found
}

func (e *FormatError) Error() string {
	if e.Detail == "" {
		return e.Reason.Error()
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func (e *FormatError) Unwrap() error {
	return e.Reason
}

// BlockError reports a block that was present in the package but could not
// be decoded. Index is the block's position in the package; Name is empty
// when the block's metadata record itself could not be read.
type BlockError struct {
	Index int
	Name  string
	Err   error
}

func (e *BlockError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("rterrain: block #%d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("rterrain: block #%d %q: %v", e.Index, e.Name, e.Err)
}

func (e *BlockError) Unwrap() error {
	return e.Err
}

// IsFormatError reports whether err is or wraps a *FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// IsBlockError reports whether err is or wraps a *BlockError.
func IsBlockError(err error) bool {
	var be *BlockError
	return errors.As(err, &be)
}
