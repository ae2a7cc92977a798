package terrain

import (
	"fmt"
	"strings"

	"github.com/tamirms/rterrain"
)

// Package is an opened terrain export. The embedded *rterrain.Package
// gives access to every block, reserved or not.
type Package struct {
	*rterrain.Package
}

// Open opens a terrain package file.
func Open(path string, opts ...rterrain.OpenOption) (*Package, error) {
	p, err := rterrain.Open(path, opts...)
	if err != nil {
		return nil, err
	}
	return &Package{Package: p}, nil
}

// Wrap views an already opened package through the terrain accessors.
func Wrap(p *rterrain.Package) *Package {
	return &Package{Package: p}
}

// Metadata decodes the header.
func (p *Package) Metadata() (*Metadata, error) {
	var m Metadata
	if err := p.DecodeHeader(&m); err != nil {
		return nil, fmt.Errorf("decode terrain metadata: %w", err)
	}
	return &m, nil
}

// Heightmap returns the elevation grid.
func (p *Package) Heightmap() (*rterrain.Grid, error) {
	return p.Grid(BlockHeightmap)
}

// Satellite returns the encoded satellite image.
func (p *Package) Satellite() ([]byte, error) {
	b, err := p.Blob(BlockSatellite)
	if err != nil {
		return nil, err
	}
	return []byte(b), nil
}

// Material returns the mask of one material.
func (p *Package) Material(name string) (*rterrain.Grid, error) {
	return p.Grid(MaterialPrefix + name)
}

// Materials returns every decoded material mask keyed by material name.
// Blocks under the material prefix that are not grids are skipped.
func (p *Package) Materials() map[string]*rterrain.Grid {
	out := make(map[string]*rterrain.Grid)
	for _, name := range p.BlockNames() {
		material, ok := strings.CutPrefix(name, MaterialPrefix)
		if !ok {
			continue
		}
		if g, err := p.Grid(name); err == nil {
			out[material] = g
		}
	}
	return out
}

// MaterialNames returns the names of the decoded material masks in write
// order.
func (p *Package) MaterialNames() []string {
	var names []string
	for _, name := range p.BlockNames() {
		if material, ok := strings.CutPrefix(name, MaterialPrefix); ok {
			names = append(names, material)
		}
	}
	return names
}

// OSM decodes the OSM object data into v.
func (p *Package) OSM(v any) error {
	return p.decode(BlockOSM, v)
}

// Vegetation decodes the vegetation spawn data into v.
func (p *Package) Vegetation(v any) error {
	return p.decode(BlockVegetation, v)
}

// Tactical decodes the tactical analysis into v.
func (p *Package) Tactical(v any) error {
	return p.decode(BlockTactical, v)
}

// Profile decodes the game profile configuration into v.
func (p *Package) Profile(v any) error {
	return p.decode(BlockProfile, v)
}

func (p *Package) decode(name string, v any) error {
	r, err := p.Record(name)
	if err != nil {
		return err
	}
	if err := r.Decode(v); err != nil {
		return fmt.Errorf("block %q: %w", name, err)
	}
	return nil
}
