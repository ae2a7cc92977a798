package rterrain

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	rterrors "github.com/tamirms/rterrain/errors"
)

func TestPreambleLayout(t *testing.T) {
	data := writePackage(t, Record(`{"k":"v"}`), nil)

	if string(data[0:4]) != "RTER" {
		t.Errorf("magic = %q", data[0:4])
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != FormatVersion {
		t.Errorf("version = %d", v)
	}
	if n := binary.LittleEndian.Uint32(data[8:12]); n != 9 {
		t.Errorf("header length = %d, want 9", n)
	}
	if string(data[12:21]) != `{"k":"v"}` {
		t.Errorf("header = %q", data[12:21])
	}
	if n := binary.LittleEndian.Uint32(data[21:25]); n != 0 {
		t.Errorf("block count = %d, want 0", n)
	}
}

// TestEmptyPackage checks the smallest package a writer produces.
func TestEmptyPackage(t *testing.T) {
	data := writePackage(t, nil, nil)
	p := mustOpenBytes(t, data)

	if len(p.BlockNames()) != 0 || len(p.BlockErrors()) != 0 {
		t.Errorf("blocks = %v, errors = %v", p.BlockNames(), p.BlockErrors())
	}
	if string(p.Header()) != "{}" {
		t.Errorf("header = %s", p.Header())
	}
	entries, err := p.Index()
	if err != nil || len(entries) != 0 {
		t.Errorf("Index() = %v, %v", entries, err)
	}
	if err := p.Verify(); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

// TestSmallIndexNotReadAsBlock guards the block walk: a package with one
// tiny block has an index whose length prefix is well below the metadata
// threshold, and it must still decode to exactly one block.
func TestSmallIndexNotReadAsBlock(t *testing.T) {
	for _, payload := range []Payload{Blob{}, Blob("x"), MustRecord(1)} {
		data := writePackage(t, nil, []Block{{Name: "a", Payload: payload}})
		p := mustOpenBytes(t, data)

		entries, err := p.Index()
		if err != nil || len(entries) != 1 {
			t.Fatalf("Index() = %v, %v", entries, err)
		}
		indexLen := binary.LittleEndian.Uint32(data[p.indexOffset:])
		if indexLen >= maxBlockMetaSize {
			t.Fatalf("index length %d is not below the threshold", indexLen)
		}

		if names := p.BlockNames(); len(names) != 1 || names[0] != "a" {
			t.Errorf("blocks = %v, want [a]", names)
		}
		if errs := p.BlockErrors(); len(errs) != 0 {
			t.Errorf("block errors = %v", errs)
		}
		if s := p.Stats(); s.DeclaredBlocks != 1 {
			t.Errorf("declared blocks = %d", s.DeclaredBlocks)
		}
	}
}

// TestTrailingBytesIgnored appends bytes between the index and the digest
// position. The walk stops after the declared block count, so the extra
// bytes never surface as blocks.
func TestTrailingBytesIgnored(t *testing.T) {
	data := writePackage(t, nil, []Block{{Name: "a", Payload: Blob("x")}})
	body, digest := data[:len(data)-digestSize], data[len(data)-digestSize:]

	var padded []byte
	padded = append(padded, body...)
	padded = append(padded, bytes.Repeat([]byte{0x07, 0, 0, 0}, 16)...)
	padded = append(padded, digest...)

	p := mustOpenBytes(t, padded)
	if names := p.BlockNames(); len(names) != 1 {
		t.Errorf("blocks = %v", names)
	}
	if _, err := p.Index(); !errors.Is(err, rterrors.ErrFraming) {
		t.Errorf("Index() = %v, want ErrFraming for a mis-sized index", err)
	}
	if err := p.Verify(); !errors.Is(err, rterrors.ErrChecksumFailed) {
		t.Errorf("Verify() = %v, want ErrChecksumFailed", err)
	}
}

// TestDuplicateNameOnRead rewrites the second block's name to collide with
// the first. The first occurrence wins; the second is a block error.
func TestDuplicateNameOnRead(t *testing.T) {
	data := writePackage(t, nil, []Block{
		{Name: "aa", Payload: Blob("first")},
		{Name: "ab", Payload: Blob("second")},
		{Name: "c", Payload: Blob("third")},
	})
	i := bytes.Index(data, []byte(`"name":"ab"`))
	if i < 0 {
		t.Fatal("second block name not found")
	}
	data[i+len(`"name":"a`)] = 'a'

	p := mustOpenBytes(t, data)
	b, err := p.Blob("aa")
	if err != nil || string(b) != "first" {
		t.Errorf("Blob(aa) = %q, %v", b, err)
	}
	if !p.Has("c") {
		t.Error("block after duplicate not decoded")
	}
	errs := p.BlockErrors()
	if len(errs) != 1 || errs[0].Index != 1 || !errors.Is(errs[0], rterrors.ErrDuplicateBlock) {
		t.Errorf("block errors = %v", errs)
	}
}

func TestBlockMetaRecord(t *testing.T) {
	g, _ := NewGrid([]int32{1, 2, 3, 4, 5, 6}, 3, 2)
	data := writePackage(t, nil, []Block{{Name: "g", Payload: g}},
		WithCompression(CompressionZlib), WithChecksum(ChecksumMurmur3))
	p := mustOpenBytes(t, data)
	info, _ := p.BlockInfo("g")

	metaLen := binary.LittleEndian.Uint32(data[info.Offset:])
	start := info.Offset + lengthPrefixSize
	meta, err := decodeBlockMeta(data[start : start+int64(metaLen)])
	if err != nil {
		t.Fatalf("decodeBlockMeta: %v", err)
	}
	if meta.Name != "g" || meta.Kind != "grid" || meta.DType != "int32" {
		t.Errorf("meta = %+v", meta)
	}
	if len(meta.Shape) != 2 || meta.Shape[0] != 3 || meta.Shape[1] != 2 {
		t.Errorf("shape = %v", meta.Shape)
	}
	if meta.UncompressedSize != 24 || meta.Compression != "zlib" || meta.ChecksumAlgorithm != "murmur3-128" {
		t.Errorf("meta = %+v", meta)
	}
	if len(meta.Checksum) != 32 {
		t.Errorf("checksum %q is not 128-bit hex", meta.Checksum)
	}
}

func TestDecodeBlockMetaErrors(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"kind":"bytes"}`,
		`{"name":"a","compressed_size":-1}`,
		`{"name":"a","uncompressed_size":-5}`,
	} {
		if _, err := decodeBlockMeta([]byte(raw)); !errors.Is(err, rterrors.ErrFraming) {
			t.Errorf("decodeBlockMeta(%s) = %v, want ErrFraming", raw, err)
		}
	}
}

// TestOversizedDeclaredSize rewrites uncompressed_size past the allocation
// bound. The block fails without the walk stopping.
func TestOversizedDeclaredSize(t *testing.T) {
	data := writePackage(t, nil, []Block{
		{Name: "big", Payload: Blob("12345")},
		{Name: "next", Payload: Blob("ok")},
	}, WithCompression(CompressionNone))
	p := mustOpenBytes(t, data)
	info, _ := p.BlockInfo("big")

	data = reframeBlockMeta(t, data, int(info.Offset),
		`"uncompressed_size":5,`, `"uncompressed_size":99999999999,`)

	q := mustOpenBytes(t, data)
	errs := q.BlockErrors()
	if len(errs) != 1 || errs[0].Name != "big" || !errors.Is(errs[0], rterrors.ErrSizeMismatch) {
		t.Fatalf("block errors = %v, want ErrSizeMismatch for big", errs)
	}
	if b, err := q.Blob("next"); err != nil || string(b) != "ok" {
		t.Errorf("Blob(next) = %q, %v", b, err)
	}
}
