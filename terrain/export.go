package terrain

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/tamirms/rterrain"
	rterrors "github.com/tamirms/rterrain/errors"
)

// ProjectInfo identifies an export. Zero fields take the package defaults.
type ProjectInfo struct {
	Name        string
	Profile     string
	Location    string
	BBox        BBox
	AreaKm2     float64
	ResolutionM float64
}

// Export is everything one terrain export writes. Nil fields are omitted
// from the package.
//
// OSM, Vegetation, Tactical and Profile may be any JSON-marshalable value
// or an rterrain.Record.
type Export struct {
	Project ProjectInfo

	// Created is recorded in the header. Zero means the time of writing.
	Created time.Time

	Heightmap  *rterrain.Grid
	Satellite  []byte // encoded image, JPEG by convention
	Materials  map[string]*rterrain.Grid
	OSM        any
	Vegetation any
	Tactical   any
	Profile    any
}

// records holds the JSON-valued artifacts once marshaled, so the header
// counts and the stored blocks come from the same bytes.
type records struct {
	osm, vegetation, tactical, profile rterrain.Record
}

func (e *Export) records() (*records, error) {
	var (
		r   records
		err error
	)
	if r.osm, err = toRecord(BlockOSM, e.OSM); err != nil {
		return nil, err
	}
	if r.vegetation, err = toRecord(BlockVegetation, e.Vegetation); err != nil {
		return nil, err
	}
	if r.tactical, err = toRecord(BlockTactical, e.Tactical); err != nil {
		return nil, err
	}
	if r.profile, err = toRecord(BlockProfile, e.Profile); err != nil {
		return nil, err
	}
	return &r, nil
}

func toRecord(name string, v any) (rterrain.Record, error) {
	if v == nil {
		return nil, nil
	}
	if r, ok := v.(rterrain.Record); ok {
		return r, nil
	}
	r, err := rterrain.NewRecord(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return r, nil
}

// countItems returns the length of the array under key in a record whose
// top level is an object, or 0 if there is no such array.
func countItems(r rterrain.Record, key string) int {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(r, &obj); err != nil {
		return 0
	}
	var items []json.RawMessage
	if err := json.Unmarshal(obj[key], &items); err != nil {
		return 0
	}
	return len(items)
}

// materialNames returns the material names in sorted order, which is the
// order their blocks are written in.
func (e *Export) materialNames() []string {
	names := make([]string, 0, len(e.Materials))
	for name := range e.Materials {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Metadata builds the header for this export.
func (e *Export) Metadata() (*Metadata, error) {
	recs, err := e.records()
	if err != nil {
		return nil, err
	}
	return e.metadata(recs), nil
}

func (e *Export) metadata(recs *records) *Metadata {
	p := e.Project
	m := &Metadata{
		Format:        FormatName,
		Version:       rterrain.FormatVersion,
		Created:       e.Created,
		PluginVersion: PluginVersion,
		Project: Project{
			Name:     cmp.Or(p.Name, DefaultName),
			Profile:  cmp.Or(p.Profile, DefaultProfile),
			Location: cmp.Or(p.Location, DefaultLocation),
			BBox:     p.BBox,
			AreaKm2:  p.AreaKm2,
		},
		Terrain: Terrain{
			ResolutionM:      p.ResolutionM,
			CoordinateSystem: CoordinateSystem,
		},
		UE5: UE5{
			RecommendedLODLevels: RecommendedLODLevels,
			NaniteRecommended:    false,
		},
		DataBlocks: []string{},
	}
	if m.Created.IsZero() {
		m.Created = time.Now().UTC()
	}
	if m.Terrain.ResolutionM == 0 {
		m.Terrain.ResolutionM = DefaultResolution
	}

	if e.Heightmap != nil {
		m.Terrain.HeightmapSize = slices.Clone(e.Heightmap.Shape)
		if lo, hi, ok := e.Heightmap.MinMax(); ok {
			m.Terrain.MinElevation = &lo
			m.Terrain.MaxElevation = &hi
		}
		m.Content.Heightmap = true
		m.DataBlocks = append(m.DataBlocks, BlockHeightmap)
	}

	if e.Satellite != nil {
		m.Textures = &Textures{
			SatelliteFormat:    "JPEG",
			SatelliteSizeBytes: len(e.Satellite),
			Compression:        "high",
		}
		m.Content.Satellite = true
		m.DataBlocks = append(m.DataBlocks, BlockSatellite)
	}

	if e.Materials != nil {
		if m.Textures == nil {
			m.Textures = &Textures{}
		}
		names := e.materialNames()
		m.Textures.MaterialLayers = names
		m.Content.Materials = true
		for _, name := range names {
			m.DataBlocks = append(m.DataBlocks, MaterialPrefix+name)
		}
	}

	if recs.osm != nil {
		n := countItems(recs.osm, "objects")
		m.Content.OSMObjects = &n
		m.DataBlocks = append(m.DataBlocks, BlockOSM)
	}
	if recs.vegetation != nil {
		n := countItems(recs.vegetation, "spawns")
		m.Content.VegetationSpawns = &n
		m.DataBlocks = append(m.DataBlocks, BlockVegetation)
	}
	if recs.tactical != nil {
		m.Content.TacticalAnalysis = true
		m.DataBlocks = append(m.DataBlocks, BlockTactical)
	}
	if recs.profile != nil {
		m.DataBlocks = append(m.DataBlocks, BlockProfile)
	}
	return m
}

// Blocks returns the export's blocks in write order: heightmap,
// satellite, materials by name, osm_data, vegetation, tactical, profile.
func (e *Export) Blocks() ([]rterrain.Block, error) {
	recs, err := e.records()
	if err != nil {
		return nil, err
	}
	return e.blocks(recs)
}

func (e *Export) blocks(recs *records) ([]rterrain.Block, error) {
	var blocks []rterrain.Block
	if e.Heightmap != nil {
		blocks = append(blocks, rterrain.Block{Name: BlockHeightmap, Payload: e.Heightmap})
	}
	if e.Satellite != nil {
		blocks = append(blocks, rterrain.Block{Name: BlockSatellite, Payload: rterrain.Blob(e.Satellite)})
	}
	for _, name := range e.materialNames() {
		if name == "" {
			return nil, fmt.Errorf("%w: empty material name", rterrors.ErrInvalidBlockName)
		}
		blocks = append(blocks, rterrain.Block{Name: MaterialPrefix + name, Payload: e.Materials[name]})
	}
	for _, b := range []struct {
		name string
		rec  rterrain.Record
	}{
		{BlockOSM, recs.osm},
		{BlockVegetation, recs.vegetation},
		{BlockTactical, recs.tactical},
		{BlockProfile, recs.profile},
	} {
		if b.rec != nil {
			blocks = append(blocks, rterrain.Block{Name: b.name, Payload: b.rec})
		}
	}
	return blocks, nil
}

func (e *Export) prepare() (*Metadata, []rterrain.Block, error) {
	recs, err := e.records()
	if err != nil {
		return nil, nil, err
	}
	blocks, err := e.blocks(recs)
	if err != nil {
		return nil, nil, err
	}
	return e.metadata(recs), blocks, nil
}

// Write encodes the export as a package on out.
func Write(ctx context.Context, out io.Writer, e *Export, opts ...rterrain.WriteOption) (*rterrain.Summary, error) {
	meta, blocks, err := e.prepare()
	if err != nil {
		return nil, err
	}
	return rterrain.Write(ctx, out, meta, blocks, opts...)
}

// WriteFile writes the export to path atomically.
func WriteFile(ctx context.Context, path string, e *Export, opts ...rterrain.WriteOption) (*rterrain.Summary, error) {
	meta, blocks, err := e.prepare()
	if err != nil {
		return nil, err
	}
	return rterrain.CreateFile(ctx, path, meta, blocks, opts...)
}

// Create is the one-call export: it names the project, computes its area
// from bbox, defaults the location to the project name and writes the
// package to path. Other fields are taken from extra, which may be nil.
func Create(ctx context.Context, path, name string, bbox BBox, heightmap *rterrain.Grid, extra *Export, opts ...rterrain.WriteOption) (*rterrain.Summary, error) {
	var e Export
	if extra != nil {
		e = *extra
	}
	e.Project.Name = name
	e.Project.BBox = bbox
	e.Project.AreaKm2 = bbox.AreaKm2()
	if e.Project.Location == "" {
		e.Project.Location = name
	}
	e.Heightmap = heightmap
	return WriteFile(ctx, path, &e, opts...)
}
