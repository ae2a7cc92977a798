// Package manifest reads the YAML pack manifest used by the rterrain CLI
// to assemble a package from files on disk.
//
// A manifest names every block and the file its payload comes from:
//
//	compression: zstd
//	checksum: xxh3-128
//	workers: 4
//	header:
//	  source: survey-2024
//	blocks:
//	  - name: heightmap
//	    kind: grid
//	    dtype: float32
//	    shape: [1024, 1024]
//	    file: heightmap.f32
//	  - name: satellite
//	    kind: bytes
//	    file: satellite.jpg
//	  - name: osm_data
//	    kind: record
//	    file: osm.jsonc
//
// Relative file paths are resolved against the manifest's directory.
// Record files may contain comments and trailing commas.
//
// With a terrain section instead of a header, the header is the terrain
// exporter's metadata record, built from the reserved blocks.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/tamirms/rterrain"
	"github.com/tamirms/rterrain/terrain"
)

// Manifest is a parsed pack manifest.
type Manifest struct {
	Compression string         `yaml:"compression"`
	Checksum    string         `yaml:"checksum"`
	Workers     int            `yaml:"workers"`
	Header      map[string]any `yaml:"header"`
	Terrain     *Terrain       `yaml:"terrain"`
	Blocks      []Block        `yaml:"blocks"`

	// dir resolves relative block file paths.
	dir string
}

// Terrain is the project description of a terrain export.
type Terrain struct {
	Name        string     `yaml:"name"`
	Profile     string     `yaml:"profile"`
	Location    string     `yaml:"location"`
	BBox        [4]float64 `yaml:"bbox"`
	ResolutionM float64    `yaml:"resolution_m"`
	Created     time.Time  `yaml:"created"`
}

// Block is one manifest block entry.
type Block struct {
	Name  string `yaml:"name"`
	Kind  string `yaml:"kind"`
	DType string `yaml:"dtype"`
	Shape []int  `yaml:"shape"`
	File  string `yaml:"file"`
}

// Load reads and validates the manifest at path. Unknown fields are
// rejected.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

// Parse decodes and validates a manifest. Relative block paths resolve
// against the working directory.
func Parse(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if m.Header != nil && m.Terrain != nil {
		return errors.New("header and terrain are mutually exclusive")
	}
	if m.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", m.Workers)
	}
	if m.Compression != "" {
		if _, err := rterrain.ParseCompression(m.Compression); err != nil {
			return err
		}
	}
	if m.Checksum != "" {
		if _, err := rterrain.ParseChecksum(m.Checksum); err != nil {
			return err
		}
	}

	seen := make(map[string]bool, len(m.Blocks))
	for i, b := range m.Blocks {
		if b.Name == "" {
			return fmt.Errorf("block %d: missing name", i)
		}
		if seen[b.Name] {
			return fmt.Errorf("block %q: listed twice", b.Name)
		}
		seen[b.Name] = true
		if b.File == "" {
			return fmt.Errorf("block %q: missing file", b.Name)
		}
		switch b.Kind {
		case "grid":
			if _, err := rterrain.ParseDType(b.DType); err != nil {
				return fmt.Errorf("block %q: %w", b.Name, err)
			}
			if len(b.Shape) == 0 {
				return fmt.Errorf("block %q: grid needs a shape", b.Name)
			}
		case "bytes", "record":
			if b.DType != "" || b.Shape != nil {
				return fmt.Errorf("block %q: dtype and shape apply to grids only", b.Name)
			}
		default:
			return fmt.Errorf("block %q: unknown kind %q (want grid, bytes or record)", b.Name, b.Kind)
		}
	}
	return nil
}

// WriteOptions returns the writer options the manifest selects.
func (m *Manifest) WriteOptions() []rterrain.WriteOption {
	var opts []rterrain.WriteOption
	if m.Compression != "" {
		c, _ := rterrain.ParseCompression(m.Compression)
		opts = append(opts, rterrain.WithCompression(c))
	}
	if m.Checksum != "" {
		c, _ := rterrain.ParseChecksum(m.Checksum)
		opts = append(opts, rterrain.WithChecksum(c))
	}
	if m.Workers > 0 {
		opts = append(opts, rterrain.WithWorkers(m.Workers))
	}
	return opts
}

func (m *Manifest) path(file string) string {
	if filepath.IsAbs(file) || m.dir == "" {
		return file
	}
	return filepath.Join(m.dir, file)
}

// LoadBlocks reads every block's file and builds its payload, in manifest
// order.
func (m *Manifest) LoadBlocks() ([]rterrain.Block, error) {
	blocks := make([]rterrain.Block, 0, len(m.Blocks))
	for _, b := range m.Blocks {
		payload, err := m.loadPayload(b)
		if err != nil {
			return nil, fmt.Errorf("block %q: %w", b.Name, err)
		}
		blocks = append(blocks, rterrain.Block{Name: b.Name, Payload: payload})
	}
	return blocks, nil
}

func (m *Manifest) loadPayload(b Block) (rterrain.Payload, error) {
	data, err := os.ReadFile(m.path(b.File))
	if err != nil {
		return nil, err
	}
	switch b.Kind {
	case "grid":
		dtype, _ := rterrain.ParseDType(b.DType)
		g := &rterrain.Grid{DType: dtype, Shape: b.Shape, Data: data}
		if g.Len()*dtype.Size() != len(data) {
			return nil, fmt.Errorf("%s is %d bytes, %s%v needs %d", b.File, len(data), dtype, b.Shape, g.Len()*dtype.Size())
		}
		return g, nil
	case "bytes":
		return rterrain.Blob(data), nil
	default:
		stripped := jsonc.ToJSON(data)
		if !json.Valid(stripped) {
			return nil, fmt.Errorf("%s: not valid JSON", b.File)
		}
		return rterrain.Record(stripped), nil
	}
}

// Build loads the blocks and returns them with the header to write. With
// a terrain section the blocks must all use reserved names; they are
// reordered into the exporter's block order.
func (m *Manifest) Build() (any, []rterrain.Block, error) {
	blocks, err := m.LoadBlocks()
	if err != nil {
		return nil, nil, err
	}
	if m.Terrain == nil {
		return m.Header, blocks, nil
	}

	e, err := m.export(blocks)
	if err != nil {
		return nil, nil, err
	}
	meta, err := e.Metadata()
	if err != nil {
		return nil, nil, err
	}
	ordered, err := e.Blocks()
	if err != nil {
		return nil, nil, err
	}
	return meta, ordered, nil
}

func (m *Manifest) export(blocks []rterrain.Block) (*terrain.Export, error) {
	t := m.Terrain
	bbox := terrain.BBox(t.BBox)
	e := &terrain.Export{
		Project: terrain.ProjectInfo{
			Name:        t.Name,
			Profile:     t.Profile,
			Location:    t.Location,
			BBox:        bbox,
			AreaKm2:     bbox.AreaKm2(),
			ResolutionM: t.ResolutionM,
		},
		Created: t.Created,
	}

	for _, b := range blocks {
		var err error
		switch name := b.Name; {
		case name == terrain.BlockHeightmap:
			e.Heightmap, err = asGrid(b)
		case name == terrain.BlockSatellite:
			var blob rterrain.Blob
			blob, err = asKind[rterrain.Blob](b)
			e.Satellite = blob
		case strings.HasPrefix(name, terrain.MaterialPrefix):
			var g *rterrain.Grid
			if g, err = asGrid(b); err == nil {
				if e.Materials == nil {
					e.Materials = make(map[string]*rterrain.Grid)
				}
				e.Materials[strings.TrimPrefix(name, terrain.MaterialPrefix)] = g
			}
		case name == terrain.BlockOSM:
			e.OSM, err = asKind[rterrain.Record](b)
		case name == terrain.BlockVegetation:
			e.Vegetation, err = asKind[rterrain.Record](b)
		case name == terrain.BlockTactical:
			e.Tactical, err = asKind[rterrain.Record](b)
		case name == terrain.BlockProfile:
			e.Profile, err = asKind[rterrain.Record](b)
		default:
			err = errors.New("not a terrain block name")
		}
		if err != nil {
			return nil, fmt.Errorf("block %q: %w", b.Name, err)
		}
	}
	return e, nil
}

func asGrid(b rterrain.Block) (*rterrain.Grid, error) {
	return asKind[*rterrain.Grid](b)
}

func asKind[T rterrain.Payload](b rterrain.Block) (T, error) {
	v, ok := b.Payload.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("terrain block must be %s, got %s", zero.Kind(), b.Payload.Kind())
	}
	return v, nil
}
