package checksum

import (
	"errors"
	"testing"

	rterrors "github.com/tamirms/rterrain/errors"
)

func TestContentDigestStable(t *testing.T) {
	data := []byte("compressed heightmap bytes")
	for _, algo := range []Algorithm{XXH3, Murmur3} {
		a, err := algo.Sum(data)
		if err != nil {
			t.Fatalf("%s: %v", algo, err)
		}
		b, _ := algo.Sum(data)
		if a != b {
			t.Errorf("%s: digest not deterministic", algo)
		}
		flipped := append([]byte(nil), data...)
		flipped[3] ^= 0x01
		c, _ := algo.Sum(flipped)
		if a == c {
			t.Errorf("%s: one-bit flip not detected", algo)
		}
	}
}

func TestAlgorithmsDiffer(t *testing.T) {
	data := []byte("osm_data")
	x, _ := XXH3.Sum(data)
	m, _ := Murmur3.Sum(data)
	if x == m {
		t.Fatal("xxh3 and murmur3 digests unexpectedly equal")
	}
}

func TestContentHexRoundTrip(t *testing.T) {
	c, _ := XXH3.Sum([]byte("satellite"))
	s := c.String()
	if len(s) != 32 {
		t.Fatalf("hex length = %d, want 32", len(s))
	}
	parsed, err := ParseContent(s)
	if err != nil {
		t.Fatal(err)
	}
	if parsed != c {
		t.Fatal("ParseContent did not reproduce the digest")
	}
	if _, err := ParseContent("abcd"); err == nil {
		t.Error("expected error for short digest")
	}
	if _, err := ParseContent("zz" + s[2:]); err == nil {
		t.Error("expected error for non-hex digest")
	}
}

func TestParseAlgorithm(t *testing.T) {
	for _, algo := range []Algorithm{XXH3, Murmur3} {
		got, err := ParseAlgorithm(algo.String())
		if err != nil || got != algo {
			t.Errorf("ParseAlgorithm(%q) = %v, %v", algo.String(), got, err)
		}
	}
	if got, err := ParseAlgorithm(""); err != nil || got != XXH3 {
		t.Errorf("empty name should select xxh3, got %v, %v", got, err)
	}
	if _, err := ParseAlgorithm("md5"); !errors.Is(err, rterrors.ErrUnknownChecksum) {
		t.Errorf("expected ErrUnknownChecksum, got %v", err)
	}
}

func TestFileDigest(t *testing.T) {
	data := []byte("RTER everything before the trailer")
	h := NewFile()
	h.Write(data[:10])
	h.Write(data[10:])
	raw := h.Sum(nil)
	if len(raw) != FileSize {
		t.Fatalf("raw digest size = %d", len(raw))
	}
	d, err := FileDigest(raw)
	if err != nil {
		t.Fatal(err)
	}
	if d != File(data) {
		t.Fatalf("streaming digest %s != one-shot %s", d, File(data))
	}
	if err := d.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if _, err := FileDigest(raw[:5]); err == nil {
		t.Error("expected error for short raw digest")
	}
}
