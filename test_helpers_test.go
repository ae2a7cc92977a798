package rterrain

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/fnv"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
)

// Named seeds for deterministic reproduction.
const (
	testSeed1 = 0x1234567890ABCDEF
	testSeed2 = 0xFEDCBA9876543210
)

// newTestRNG returns a generator seeded from the test name, so every test
// sees its own reproducible stream.
func newTestRNG(t testing.TB) *rand.Rand {
	t.Helper()
	h := fnv.New128a()
	h.Write([]byte(t.Name()))
	sum := h.Sum(nil)
	s1 := binary.LittleEndian.Uint64(sum[:8])
	s2 := binary.LittleEndian.Uint64(sum[8:])
	return rand.New(rand.NewPCG(testSeed1^s1, testSeed2^s2))
}

// fillFromRNG fills buf with pseudo-random bytes from rng.
func fillFromRNG(rng *rand.Rand, buf []byte) {
	for i := 0; i+8 <= len(buf); i += 8 {
		binary.LittleEndian.PutUint64(buf[i:], rng.Uint64())
	}
	if tail := len(buf) % 8; tail > 0 {
		v := rng.Uint64()
		start := len(buf) - tail
		for j := 0; j < tail; j++ {
			buf[start+j] = byte(v >> (j * 8))
		}
	}
}

// randomHeightmap returns a rows×cols float32 grid of smooth-ish terrain
// values, compressible like real elevation data.
func randomHeightmap(t testing.TB, rng *rand.Rand, rows, cols int) *Grid {
	t.Helper()
	values := make([]float32, rows*cols)
	h := float32(500)
	for i := range values {
		h += float32(rng.NormFloat64())
		values[i] = h
	}
	g, err := NewGrid(values, rows, cols)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	return g
}

// randomMask returns a rows×cols uint8 probability mask.
func randomMask(t testing.TB, rng *rand.Rand, rows, cols int) *Grid {
	t.Helper()
	values := make([]uint8, rows*cols)
	for i := range values {
		values[i] = uint8(rng.IntN(4) * 85)
	}
	g, err := NewGrid(values, rows, cols)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	return g
}

// randomBlob returns n incompressible bytes.
func randomBlob(rng *rand.Rand, n int) Blob {
	b := make(Blob, n)
	fillFromRNG(rng, b)
	return b
}

// sampleBlocks returns one block of every payload kind, the way a terrain
// export lays them out.
func sampleBlocks(t testing.TB) []Block {
	t.Helper()
	rng := newTestRNG(t)
	return []Block{
		{Name: "heightmap", Payload: randomHeightmap(t, rng, 32, 48)},
		{Name: "satellite", Payload: randomBlob(rng, 3000)},
		{Name: "material_grass", Payload: randomMask(t, rng, 32, 48)},
		{Name: "osm_data", Payload: MustRecord(map[string]any{
			"objects": []any{
				map[string]any{"type": "building", "height": 12.5, "tags": map[string]any{"levels": 3}},
				map[string]any{"type": "road", "lanes": 2, "oneway": true},
			},
		})},
		{Name: "empty", Payload: Blob{}},
	}
}

var sampleHeader = map[string]any{
	"format":  "test",
	"project": map[string]any{"name": "sample", "bbox": []float64{1, 2, 3, 4}},
}

// writePackage writes blocks to memory and returns the package bytes.
func writePackage(t testing.TB, header any, blocks []Block, opts ...WriteOption) []byte {
	t.Helper()
	var buf bytes.Buffer
	summary, err := Write(context.Background(), &buf, header, blocks, opts...)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if summary.Size != int64(buf.Len()) {
		t.Fatalf("summary size %d, wrote %d bytes", summary.Size, buf.Len())
	}
	return buf.Bytes()
}

// writePackageFile writes blocks to a file in a fresh temp dir.
func writePackageFile(t testing.TB, header any, blocks []Block, opts ...WriteOption) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.rterrain")
	if err := os.WriteFile(path, writePackage(t, header, blocks, opts...), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// mustOpenBytes opens data and registers Close with the test.
func mustOpenBytes(t testing.TB, data []byte, opts ...OpenOption) *Package {
	t.Helper()
	p, err := OpenBytes(data, opts...)
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

// assertPayloadEqual compares two payloads of any kind.
func assertPayloadEqual(t testing.TB, name string, got, want Payload) {
	t.Helper()
	if got.Kind() != want.Kind() {
		t.Fatalf("%s: kind %s, want %s", name, got.Kind(), want.Kind())
	}
	switch w := want.(type) {
	case *Grid:
		if !got.(*Grid).Equal(w) {
			t.Errorf("%s: grid differs", name)
		}
	case Blob:
		if !bytes.Equal(got.(Blob), w) {
			t.Errorf("%s: blob differs (%d vs %d bytes)", name, len(got.(Blob)), len(w))
		}
	case Record:
		if !bytes.Equal(got.(Record), w) {
			t.Errorf("%s: record = %s, want %s", name, got.(Record), w)
		}
	}
}

// blockPayloadOffset returns the file offset of the first payload byte of
// the named block.
func blockPayloadOffset(t testing.TB, p *Package, name string) int {
	t.Helper()
	info, ok := p.BlockInfo(name)
	if !ok {
		t.Fatalf("block %q not found", name)
	}
	metaLen := int(binary.LittleEndian.Uint32(p.data[info.Offset:]))
	return int(info.Offset) + lengthPrefixSize + metaLen
}

// reframeBlockMeta replaces old with new in the metadata record of the
// block framed at off, rewriting its length prefix. Everything after the
// record shifts accordingly.
func reframeBlockMeta(t testing.TB, data []byte, off int, old, new string) []byte {
	t.Helper()
	metaStart := off + lengthPrefixSize
	metaLen := int(binary.LittleEndian.Uint32(data[off:]))
	meta := data[metaStart : metaStart+metaLen]
	if !bytes.Contains(meta, []byte(old)) {
		t.Fatalf("metadata %s has no %s", meta, old)
	}
	meta = bytes.Replace(meta, []byte(old), []byte(new), 1)

	var out []byte
	out = append(out, data[:off]...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(meta)))
	out = append(out, meta...)
	out = append(out, data[metaStart+metaLen:]...)
	return out
}
