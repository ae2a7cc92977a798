package rterrain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	rterrors "github.com/tamirms/rterrain/errors"
)

// ---------------------------------------------------------------------------
// Category 1: Open errors
// ---------------------------------------------------------------------------

func TestOpenNonExistentFilePath(t *testing.T) {
	_, err := Open("/nonexistent/path/to/file.rterrain")
	if err == nil {
		t.Error("Expected error for non-existent file path")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected os.ErrNotExist in chain, got %v", err)
	}
}

func TestOpenDirectory(t *testing.T) {
	_, err := Open(t.TempDir())
	if err == nil {
		t.Error("Expected error when opening a directory")
	}
}

func TestOpenEmptyFile(t *testing.T) {
	emptyFile := filepath.Join(t.TempDir(), "empty.rterrain")
	if err := os.WriteFile(emptyFile, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Open(emptyFile)
	if !errors.Is(err, rterrors.ErrTruncatedFile) {
		t.Errorf("Expected ErrTruncatedFile, got %v", err)
	}
}

// TestOpenSmallFilePreambleFirst verifies that a file too small to be a
// package still reports a wrong magic or version before truncation.
func TestOpenSmallFilePreambleFirst(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"foreign", []byte("PK\x03\x04 not a package"), rterrors.ErrInvalidMagic},
		{"future version", []byte("RTER\x03\x00\x00\x00"), rterrors.ErrInvalidVersion},
		{"preamble only", []byte("RTER\x02\x00\x00\x00\x02\x00\x00\x00"), rterrors.ErrTruncatedFile},
		{"magic only", []byte("RTER"), rterrors.ErrTruncatedFile},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "small.rterrain")
			if err := os.WriteFile(path, tc.data, 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Open(path); !errors.Is(err, tc.want) {
				t.Errorf("Open = %v, want %v", err, tc.want)
			}
			if _, err := OpenBytes(tc.data); !errors.Is(err, tc.want) {
				t.Errorf("OpenBytes = %v, want %v", err, tc.want)
			}
		})
	}
}

// TestOpenTruncatedHeader cuts a package inside its header.
func TestOpenTruncatedHeader(t *testing.T) {
	header := map[string]string{"padding": strings.Repeat("x", 200)}
	data := writePackage(t, header, nil)

	_, err := OpenBytes(data[:preambleSize+100])
	if !errors.Is(err, rterrors.ErrTruncatedFile) {
		t.Errorf("Expected ErrTruncatedFile, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Category 2: Writer validation
// ---------------------------------------------------------------------------

func TestAddBlockValidation(t *testing.T) {
	valid := Blob("x")
	tests := []struct {
		name    string
		block   string
		payload Payload
		want    error
	}{
		{"empty name", "", valid, rterrors.ErrInvalidBlockName},
		{"name too long", strings.Repeat("n", maxBlockNameLen+1), valid, rterrors.ErrInvalidBlockName},
		{"invalid utf-8", "bad\xffname", valid, rterrors.ErrInvalidBlockName},
		{"nil payload", "a", nil, rterrors.ErrNilPayload},
		{"nil grid", "a", (*Grid)(nil), rterrors.ErrNilPayload},
		{"empty record", "a", Record(nil), rterrors.ErrNilPayload},
		{"invalid record", "a", Record("{oops"), rterrors.ErrInvalidRecord},
		{"short grid", "a", &Grid{DType: Float32, Shape: []int{2, 2}, Data: make([]byte, 15)}, rterrors.ErrShapeMismatch},
		{"negative dim", "a", &Grid{DType: Uint8, Shape: []int{-1}, Data: nil}, rterrors.ErrShapeMismatch},
		{"unknown dtype", "a", &Grid{DType: DType(200), Shape: []int{1}, Data: []byte{0}}, rterrors.ErrUnknownDType},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w, err := NewWriter(context.Background(), &bytes.Buffer{}, nil)
			if err != nil {
				t.Fatal(err)
			}
			defer w.Close()
			if err := w.AddBlock(tc.block, tc.payload); !errors.Is(err, tc.want) {
				t.Errorf("AddBlock = %v, want %v", err, tc.want)
			}
			// A rejected block leaves nothing behind.
			if err := w.AddBlock("after", valid); err != nil {
				t.Fatalf("AddBlock after rejection: %v", err)
			}
		})
	}
}

func TestMaxLengthBlockName(t *testing.T) {
	name := strings.Repeat("é", maxBlockNameLen/2) // 254 bytes
	data := writePackage(t, nil, []Block{{Name: name, Payload: Blob("v")}})
	p := mustOpenBytes(t, data)
	if !p.Has(name) {
		t.Errorf("block with a %d-byte name not found", len(name))
	}
}

func TestDuplicateBlockName(t *testing.T) {
	var buf bytes.Buffer
	_, err := Write(context.Background(), &buf, nil, []Block{
		{Name: "heightmap", Payload: Blob("a")},
		{Name: "heightmap", Payload: Blob("b")},
	})
	if !errors.Is(err, rterrors.ErrDuplicateBlock) {
		t.Errorf("Write = %v, want ErrDuplicateBlock", err)
	}
	if buf.Len() != 0 {
		t.Errorf("%d bytes written on a failed write", buf.Len())
	}
}

// TestParallelEncodeErrorSurfacesAtFinish checks that a payload rejected
// by a worker fails Finish rather than AddBlock.
func TestParallelEncodeErrorSurfacesAtFinish(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(context.Background(), &buf, nil, WithWorkers(4))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.AddBlock("ok", Blob("fine")); err != nil {
		t.Fatal(err)
	}
	bad := &Grid{DType: Int16, Shape: []int{3}, Data: make([]byte, 5)}
	if err := w.AddBlock("bad", bad); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	if _, err := w.Finish(); !errors.Is(err, rterrors.ErrShapeMismatch) {
		t.Errorf("Finish = %v, want ErrShapeMismatch", err)
	}
	if buf.Len() != 0 {
		t.Errorf("%d bytes written on a failed write", buf.Len())
	}
}

func TestInvalidHeader(t *testing.T) {
	tests := []struct {
		name   string
		header any
	}{
		{"invalid raw", json.RawMessage(`{"a":`)},
		{"invalid bytes", []byte("not json")},
		{"invalid record", Record("[1,2")},
		{"unmarshalable", map[string]any{"ch": make(chan int)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewWriter(context.Background(), &bytes.Buffer{}, tc.header)
			if !errors.Is(err, rterrors.ErrInvalidHeader) {
				t.Errorf("NewWriter = %v, want ErrInvalidHeader", err)
			}
		})
	}
}

func TestInvalidOptions(t *testing.T) {
	if _, err := NewWriter(context.Background(), &bytes.Buffer{}, nil, WithCompression(Compression(99))); !errors.Is(err, rterrors.ErrUnknownCompression) {
		t.Errorf("unknown compression: %v", err)
	}
	if _, err := NewWriter(context.Background(), &bytes.Buffer{}, nil, WithChecksum(ChecksumAlgorithm(99))); !errors.Is(err, rterrors.ErrUnknownChecksum) {
		t.Errorf("unknown checksum: %v", err)
	}
	if _, err := ParseCompression("brotli"); !errors.Is(err, rterrors.ErrUnknownCompression) {
		t.Errorf("ParseCompression: %v", err)
	}
	if _, err := ParseChecksum("crc32"); !errors.Is(err, rterrors.ErrUnknownChecksum) {
		t.Errorf("ParseChecksum: %v", err)
	}
}

func TestFinishAfterClose(t *testing.T) {
	for _, workers := range []int{1, 4} {
		w, err := NewWriter(context.Background(), &bytes.Buffer{}, nil, WithWorkers(workers))
		if err != nil {
			t.Fatal(err)
		}
		if err := w.AddBlock("a", Blob("a")); err != nil {
			t.Fatal(err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if _, err := w.Finish(); !errors.Is(err, rterrors.ErrWriterClosed) {
			t.Errorf("workers=%d: Finish after Close = %v, want ErrWriterClosed", workers, err)
		}
		if err := w.AddBlock("b", Blob("b")); !errors.Is(err, rterrors.ErrWriterClosed) {
			t.Errorf("workers=%d: AddBlock after Close = %v, want ErrWriterClosed", workers, err)
		}
	}
}

func TestFinishTwice(t *testing.T) {
	w, err := NewWriter(context.Background(), &bytes.Buffer{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if _, err := w.Finish(); !errors.Is(err, rterrors.ErrWriterClosed) {
		t.Errorf("second Finish = %v, want ErrWriterClosed", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close after Finish: %v", err)
	}
}

// failingWriter fails every write after limit bytes.
type failingWriter struct {
	limit int
	n     int
}

var errDiskFull = errors.New("disk full")

func (f *failingWriter) Write(p []byte) (int, error) {
	if f.n+len(p) > f.limit {
		return 0, errDiskFull
	}
	f.n += len(p)
	return len(p), nil
}

func TestWriteErrorPropagates(t *testing.T) {
	for _, limit := range []int{0, 100, 1 << 30} {
		_, err := Write(context.Background(), &failingWriter{limit: limit}, sampleHeader, sampleBlocks(t))
		if limit == 1<<30 {
			if err != nil {
				t.Errorf("limit %d: %v", limit, err)
			}
			continue
		}
		if !errors.Is(err, errDiskFull) {
			t.Errorf("limit %d: err = %v, want errDiskFull", limit, err)
		}
	}
}

// ---------------------------------------------------------------------------
// Category 3: Accessor errors
// ---------------------------------------------------------------------------

func TestAccessorErrors(t *testing.T) {
	p := mustOpenBytes(t, writePackage(t, nil, sampleBlocks(t)))

	if _, err := p.Get("missing"); !errors.Is(err, rterrors.ErrBlockNotFound) {
		t.Errorf("Get(missing) = %v", err)
	}
	if _, err := p.Grid("satellite"); !errors.Is(err, rterrors.ErrWrongKind) {
		t.Errorf("Grid(satellite) = %v, want ErrWrongKind", err)
	}
	if _, err := p.Blob("osm_data"); !errors.Is(err, rterrors.ErrWrongKind) {
		t.Errorf("Blob(osm_data) = %v, want ErrWrongKind", err)
	}
	if _, err := p.Record("heightmap"); !errors.Is(err, rterrors.ErrWrongKind) {
		t.Errorf("Record(heightmap) = %v, want ErrWrongKind", err)
	}
	if _, ok := p.BlockInfo("missing"); ok {
		t.Error("BlockInfo(missing) ok")
	}

	g, err := p.Grid("heightmap")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := GridValues[int32](g); !errors.Is(err, rterrors.ErrDTypeMismatch) {
		t.Errorf("GridValues[int32] on float32 grid = %v, want ErrDTypeMismatch", err)
	}
}
