// Bench is a benchmarking tool for measuring rterrain package write
// throughput, open and verify speed, compression ratio and memory usage on
// synthetic terrain exports.
//
// Usage:
//
//	go run ./cmd/bench -size 4096 -materials 8 -workers 8 -compression zstd
//
// Flags:
//
//	-size         Heightmap side length in cells (default: 2048)
//	-materials    Number of material masks (default: 8)
//	-workers      Number of parallel encoders (default: 1)
//	-compression  Codec: none, zstd, zlib or lz4 (default: zstd)
//	-checksum     Block digest: xxh3-128 or murmur3-128 (default: xxh3-128)
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"runtime/metrics"
	"runtime/pprof"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/tamirms/rterrain"
	"github.com/tamirms/rterrain/terrain"
)

// getMaxRSS returns the maximum resident set size in bytes.
// Uses getrusage(RUSAGE_SELF) which tracks peak RSS since process start.
func getMaxRSS() uint64 {
	var rusage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &rusage); err != nil {
		return 0
	}
	// On macOS, MaxRss is in bytes. On Linux, it's in kilobytes.
	maxRSS := uint64(rusage.Maxrss)
	if runtime.GOOS == "linux" {
		maxRSS *= 1024 // Convert KB to bytes on Linux
	}
	return maxRSS
}

// lattice returns a pseudo-random value in [0, 1) for grid point (x, y),
// stable for a given seed.
func lattice(x, y int, seed uint32) float64 {
	var key [16]byte
	binary.LittleEndian.PutUint64(key[0:], uint64(x))
	binary.LittleEndian.PutUint64(key[8:], uint64(y))
	return float64(murmur3.Sum32WithSeed(key[:], seed)) / (1 << 32)
}

// valueNoise is bilinear value noise over a lattice of the given cell
// size, summed over octaves for a terrain-like surface.
func valueNoise(x, y int, seed uint32) float64 {
	var v, amp, total float64 = 0, 1, 0
	for cell := 256; cell >= 4; cell /= 2 {
		gx, gy := x/cell, y/cell
		fx, fy := float64(x%cell)/float64(cell), float64(y%cell)/float64(cell)
		a := lattice(gx, gy, seed)
		b := lattice(gx+1, gy, seed)
		c := lattice(gx, gy+1, seed)
		d := lattice(gx+1, gy+1, seed)
		top := a + (b-a)*fx
		bottom := c + (d-c)*fx
		v += amp * (top + (bottom-top)*fy)
		total += amp
		amp /= 2
		seed++
	}
	return v / total
}

func syntheticExport(side, materials int) *terrain.Export {
	heights := make([]float32, side*side)
	for y := range side {
		for x := range side {
			heights[y*side+x] = float32(200 + 1800*valueNoise(x, y, 0x1234))
		}
	}
	heightmap, _ := rterrain.NewGrid(heights, side, side)

	masks := make(map[string]*rterrain.Grid, materials)
	for m := range materials {
		values := make([]uint8, side*side)
		for i, h := range heights {
			// Each material claims an elevation band.
			band := 200 + 1800*float32(m)/float32(max(materials, 1))
			if d := math.Abs(float64(h - band)); d < 300 {
				values[i] = uint8(255 * (1 - d/300))
			}
		}
		masks[fmt.Sprintf("layer%02d", m)], _ = rterrain.NewGrid(values, side, side)
	}

	return &terrain.Export{
		Project: terrain.ProjectInfo{
			Name: "bench",
			BBox: terrain.BBox{10, 45, 10.5, 45.5},
		},
		Heightmap: heightmap,
		Materials: masks,
		OSM:       map[string]any{"objects": []any{}},
	}
}

func main() {
	sizeFlag := flag.Int("size", 2048, "heightmap side length in cells")
	materialsFlag := flag.Int("materials", 8, "number of material masks")
	workersFlag := flag.Int("workers", 1, "number of parallel encoders")
	compressionFlag := flag.String("compression", "zstd", "codec: none, zstd, zlib or lz4")
	checksumFlag := flag.String("checksum", "xxh3-128", "block digest: xxh3-128 or murmur3-128")
	cpuprofile := flag.String("cpuprofile", "", "write cpu profile to file (write phase only)")
	memprofile := flag.String("memprofile", "", "write memory profile to file (write phase only)")
	flag.Parse()

	codec, err := rterrain.ParseCompression(*compressionFlag)
	if err != nil {
		fmt.Printf("%v\n", err)
		return
	}
	algo, err := rterrain.ParseChecksum(*checksumFlag)
	if err != nil {
		fmt.Printf("%v\n", err)
		return
	}

	fmt.Println("Generating terrain...")
	genStart := time.Now()
	export := syntheticExport(*sizeFlag, *materialsFlag)
	genDuration := time.Since(genStart)

	blocks, err := export.Blocks()
	if err != nil {
		fmt.Printf("Blocks failed: %v\n", err)
		return
	}
	var payloadBytes int64
	for _, b := range blocks {
		switch p := b.Payload.(type) {
		case *rterrain.Grid:
			payloadBytes += int64(len(p.Data))
		case rterrain.Record:
			payloadBytes += int64(len(p))
		}
	}

	tmpDir, err := os.MkdirTemp("", "bench-")
	if err != nil {
		fmt.Printf("Failed to create temp dir: %v\n", err)
		return
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()
	pkgPath := filepath.Join(tmpDir, "bench.rterrain")

	runtime.GC()
	time.Sleep(50 * time.Millisecond)
	var baseline runtime.MemStats
	runtime.ReadMemStats(&baseline)
	baselineRSS := getMaxRSS()

	// 10ms sampling for peak memory (both heap and RSS).
	// Uses runtime/metrics instead of ReadMemStats to avoid stop-the-world pauses
	// that cause ~50ms overhead and distort CPU profiles.
	var peakAlloc atomic.Uint64
	var peakRSS atomic.Uint64
	peakAlloc.Store(baseline.Alloc)
	peakRSS.Store(baselineRSS)
	done := make(chan struct{})
	go func() {
		samples := []metrics.Sample{
			{Name: "/memory/classes/heap/objects:bytes"},
		}
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				metrics.Read(samples)
				heapBytes := samples[0].Value.Uint64()
				for {
					old := peakAlloc.Load()
					if heapBytes <= old || peakAlloc.CompareAndSwap(old, heapBytes) {
						break
					}
				}
				rss := getMaxRSS()
				for {
					old := peakRSS.Load()
					if rss <= old || peakRSS.CompareAndSwap(old, rss) {
						break
					}
				}
			}
		}
	}()

	// Start CPU profile for write phase
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Printf("could not create CPU profile: %v\n", err)
			return
		}
		defer func() { _ = f.Close() }()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Printf("could not start CPU profile: %v\n", err)
			return
		}
	}

	fmt.Println("Writing package...")
	writeStart := time.Now()
	summary, err := terrain.WriteFile(context.Background(), pkgPath, export,
		rterrain.WithWorkers(*workersFlag),
		rterrain.WithCompression(codec),
		rterrain.WithChecksum(algo),
	)
	writeDuration := time.Since(writeStart)

	// Stop CPU profile after write phase
	if *cpuprofile != "" {
		pprof.StopCPUProfile()
	}

	// Write memory profile after write phase
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			fmt.Printf("could not create memory profile: %v\n", err)
		} else {
			runtime.GC() // Get up-to-date statistics
			if err := pprof.WriteHeapProfile(f); err != nil {
				fmt.Printf("could not write memory profile: %v\n", err)
			}
			_ = f.Close()
		}
	}

	close(done)

	// Final memory samples
	var final runtime.MemStats
	runtime.ReadMemStats(&final)
	if final.Alloc > peakAlloc.Load() {
		peakAlloc.Store(final.Alloc)
	}
	finalRSS := getMaxRSS()
	if finalRSS > peakRSS.Load() {
		peakRSS.Store(finalRSS)
	}

	peakHeapMem := peakAlloc.Load() - baseline.Alloc
	peakRSSMem := peakRSS.Load() - baselineRSS

	if err != nil {
		fmt.Printf("Write failed: %v\n", err)
		return
	}

	fmt.Println("Opening package...")
	openStart := time.Now()
	pkg, err := terrain.Open(pkgPath)
	if err != nil {
		fmt.Printf("Open failed: %v\n", err)
		return
	}
	defer func() { _ = pkg.Close() }()
	openDuration := time.Since(openStart)

	fmt.Println("Verifying package...")
	verifyStart := time.Now()
	if err := pkg.Verify(); err != nil {
		fmt.Printf("Verify failed: %v\n", err)
		return
	}
	verifyDuration := time.Since(verifyStart)

	mb := func(n int64) float64 { return float64(n) / 1_000_000 }
	ratio := float64(payloadBytes) / float64(summary.Size)

	fmt.Printf("\n")
	fmt.Printf("╔═════════════════════╦════════════════╦══════════════════╗\n")
	fmt.Printf("║ Codec: %-13s║ Workers: %-5d ║ Blocks: %-8d ║\n", codec, *workersFlag, len(summary.Blocks))
	fmt.Printf("╠═════════════════════╬════════════════╬══════════════════╣\n")
	fmt.Printf("║ Metric              ║ Value          ║ Note             ║\n")
	fmt.Printf("╠═════════════════════╬════════════════╬══════════════════╣\n")
	fmt.Printf("║ Payload             ║ %8.1f MB    ║ %5d² cells      ║\n", mb(payloadBytes), *sizeFlag)
	fmt.Printf("║ Package size        ║ %8.1f MB    ║ -                ║\n", mb(summary.Size))
	fmt.Printf("║ Compression ratio   ║ %8.2fx     ║ -                ║\n", ratio)
	fmt.Printf("║ Generate time       ║ %6.2f sec     ║ (not timed)      ║\n", genDuration.Seconds())
	fmt.Printf("║ Write time          ║ %6.2f sec     ║ -                ║\n", writeDuration.Seconds())
	fmt.Printf("║ Write throughput    ║ %8.1f MB/s  ║ payload bytes    ║\n", mb(payloadBytes)/writeDuration.Seconds())
	fmt.Printf("║ Open time           ║ %6.2f sec     ║ decode + digests ║\n", openDuration.Seconds())
	fmt.Printf("║ Open throughput     ║ %8.1f MB/s  ║ payload bytes    ║\n", mb(payloadBytes)/openDuration.Seconds())
	fmt.Printf("║ Verify time         ║ %6.2f sec     ║ SHA-256 of file  ║\n", verifyDuration.Seconds())
	fmt.Printf("║ Peak heap memory    ║ %8.1f MB    ║ write phase      ║\n", float64(peakHeapMem)/1_000_000)
	fmt.Printf("║ Peak RSS memory     ║ %8.1f MB    ║ write phase      ║\n", float64(peakRSSMem)/1_000_000)
	fmt.Printf("╚═════════════════════╩════════════════╩══════════════════╝\n")
}
