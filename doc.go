// Package rterrain reads and writes .rterrain packages: single-file
// containers holding named, independently compressed and checksummed
// blocks behind a JSON header.
//
// A block carries one of three payload kinds: a numeric Grid (raster data
// such as a heightmap or a material mask), an opaque Blob (an encoded
// image) or a JSON Record (object graphs, annotations, configuration).
//
// # Basic Usage
//
// Writing a package:
//
//	heights, err := rterrain.NewGrid(elevations, rows, cols)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	_, err = rterrain.CreateFile(ctx, "valley.rterrain", header, []rterrain.Block{
//	    {Name: "heightmap", Payload: heights},
//	    {Name: "satellite", Payload: rterrain.Blob(jpeg)},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Reading it back:
//
//	pkg, err := rterrain.Open("valley.rterrain")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pkg.Close()
//
//	g, err := pkg.Grid("heightmap")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	values, err := rterrain.GridValues[float32](g)
//
// # Integrity
//
// Each block stores a 128-bit digest of its compressed bytes, checked on
// open. The package ends with a SHA-256 digest of everything before it,
// checked by Verify or at open with WithVerifyDigest. A block that fails
// its checks is reported through BlockErrors and Get and does not affect
// the other blocks.
//
// # Package Structure
//
//   - Public API: writer.go (NewWriter, AddBlock, Finish, Write), create.go
//     (CreateFile), package.go (Open, Get, Verify)
//   - Payloads: payload.go (Grid, Blob, Record), codec.go (per-kind encoding)
//   - Serialization: format.go (preamble, block metadata), scan.go (block
//     walk), index.go (trailing index)
//   - Configuration: options.go (WriteOption, OpenOption)
//   - Codecs: internal/compress, internal/checksum, internal/encoding
//   - Platform: fallocate_*.go, fadvise_*.go, prefault_*.go
//   - Conventions for terrain exports: the terrain subpackage
package rterrain
