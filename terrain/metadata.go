// Package terrain layers the terrain exporter's conventions on top of the
// rterrain container: a typed metadata header, reserved block names and
// typed accessors for each artifact of an export.
package terrain

import (
	"math"
	"time"
)

const (
	// FormatName is the "format" field of every metadata header.
	FormatName = "RealTerrain Package"

	// PluginVersion is the exporter version recorded in new headers.
	PluginVersion = "1.0.0"

	// CoordinateSystem is the datum of every bounding box and heightmap.
	CoordinateSystem = "WGS84"

	// DefaultResolution is the heightmap cell size in metres when none is
	// given.
	DefaultResolution = 30.0

	// RecommendedLODLevels is the level-of-detail count suggested to the
	// engine importer.
	RecommendedLODLevels = 5
)

// Reserved block names.
const (
	BlockHeightmap  = "heightmap"
	BlockSatellite  = "satellite"
	BlockOSM        = "osm_data"
	BlockVegetation = "vegetation"
	BlockTactical   = "tactical"
	BlockProfile    = "profile"

	// MaterialPrefix is prepended to a material name to form its block
	// name: material "grass" is stored in block "material_grass".
	MaterialPrefix = "material_"
)

// Default project fields.
const (
	DefaultName     = "Unnamed"
	DefaultProfile  = "custom"
	DefaultLocation = "Unknown"
)

// kmPerDegree is the length of one degree of latitude, and of longitude at
// the equator, used for area estimates.
const kmPerDegree = 111.0

// BBox is a geographic bounding box: min_lon, min_lat, max_lon, max_lat.
type BBox [4]float64

// MinLon returns the western edge.
func (b BBox) MinLon() float64 { return b[0] }

// MinLat returns the southern edge.
func (b BBox) MinLat() float64 { return b[1] }

// MaxLon returns the eastern edge.
func (b BBox) MaxLon() float64 { return b[2] }

// MaxLat returns the northern edge.
func (b BBox) MaxLat() float64 { return b[3] }

// AreaKm2 estimates the box area with an equirectangular approximation at
// the box's mid latitude, rounded to two decimals.
func (b BBox) AreaKm2() float64 {
	midLat := (b.MinLat() + b.MaxLat()) / 2
	width := math.Abs(b.MaxLon()-b.MinLon()) * kmPerDegree * math.Cos(midLat*math.Pi/180)
	height := math.Abs(b.MaxLat()-b.MinLat()) * kmPerDegree
	return math.Round(width*height*100) / 100
}

// Metadata is the package header written by the exporter.
type Metadata struct {
	Format        string    `json:"format"`
	Version       uint32    `json:"version"`
	Created       time.Time `json:"created"`
	PluginVersion string    `json:"plugin_version"`
	Project       Project   `json:"project"`
	Terrain       Terrain   `json:"terrain"`
	Textures      *Textures `json:"textures,omitempty"`
	Content       Content   `json:"content"`
	UE5           UE5       `json:"ue5"`
	DataBlocks    []string  `json:"data_blocks"`
}

type Project struct {
	Name     string  `json:"name"`
	Profile  string  `json:"profile"`
	Location string  `json:"location"`
	BBox     BBox    `json:"bbox"`
	AreaKm2  float64 `json:"area_km2"`
}

// Terrain describes the heightmap. Size and elevation range are present
// only when the package has a heightmap; the range is absent when every
// cell is NaN.
type Terrain struct {
	ResolutionM      float64  `json:"resolution_m"`
	CoordinateSystem string   `json:"coordinate_system"`
	HeightmapSize    []int    `json:"heightmap_size,omitempty"`
	MinElevation     *float64 `json:"min_elevation,omitempty"`
	MaxElevation     *float64 `json:"max_elevation,omitempty"`
}

type Textures struct {
	SatelliteFormat    string   `json:"satellite_format,omitempty"`
	SatelliteSizeBytes int      `json:"satellite_size_bytes,omitempty"`
	Compression        string   `json:"compression,omitempty"`
	MaterialLayers     []string `json:"material_layers,omitempty"`
}

// Content flags which artifacts a package carries. Counts are present
// whenever the corresponding block is, even when zero.
type Content struct {
	Heightmap        bool `json:"heightmap,omitempty"`
	Satellite        bool `json:"satellite,omitempty"`
	Materials        bool `json:"materials,omitempty"`
	OSMObjects       *int `json:"osm_objects,omitempty"`
	VegetationSpawns *int `json:"vegetation_spawns,omitempty"`
	TacticalAnalysis bool `json:"tactical_analysis,omitempty"`
}

// UE5 carries import hints for the Unreal Engine plugin.
type UE5 struct {
	RecommendedLODLevels int  `json:"recommended_lod_levels"`
	NaniteRecommended    bool `json:"nanite_recommended"`
}
