package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"voxelterrain/internal/config"
	"voxelterrain/internal/dispatch"
	"voxelterrain/internal/mesher"
	"voxelterrain/internal/terrain"
	"voxelterrain/internal/world"
)

type sample struct {
	coord     world.ChunkCoord
	duration  time.Duration
	triangles int
	err       error
}

func main() {
	var (
		cfgPath = flag.String("config", "", "terrain configuration file (defaults when empty)")
		radius  = flag.Int("radius", 4, "chunks on each side of the origin column")
		minY    = flag.Int("minY", -1, "lowest chunk Y to generate")
		maxY    = flag.Int("maxY", 2, "highest chunk Y to generate")
		workers = flag.Int("workers", 0, "worker count, 0 uses the configured value")
		seed    = flag.Int("seed", 0, "override the world seed when non-zero")
		timeout = flag.Duration("timeout", time.Minute, "overall profiling deadline")
	)
	flag.Parse()

	if *radius < 0 {
		fmt.Fprintln(os.Stderr, "radius cannot be negative")
		os.Exit(1)
	}
	if *minY > *maxY {
		fmt.Fprintln(os.Stderr, "minY must not exceed maxY")
		os.Exit(1)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *workers > 0 {
		cfg.Workers.Count = *workers
	}
	if *seed != 0 {
		cfg.World.Seed = int32(*seed)
	}

	logger := log.New(os.Stderr, "meshprofile ", log.LstdFlags)
	gen, err := terrain.NewChunkGenerator(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create generator: %v\n", err)
		os.Exit(1)
	}
	count := dispatch.WorkerCount(cfg.Workers.Count, cfg.Workers.Headroom)
	disp := dispatch.New[*mesher.Payload](count, logger)

	var coords []world.ChunkCoord
	for y := *minY; y <= *maxY; y++ {
		for z := -*radius; z <= *radius; z++ {
			for x := -*radius; x <= *radius; x++ {
				coords = append(coords, world.ChunkCoord{X: x, Y: y, Z: z})
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		samples = make([]sample, 0, len(coords))
	)
	startWall := time.Now()
	for _, coord := range coords {
		coord := coord
		palette := gen.ResolvePalette(coord)
		var started time.Time
		_, err := disp.Submit(
			func(jobCtx context.Context) (*mesher.Payload, error) {
				mu.Lock()
				started = time.Now()
				mu.Unlock()
				return gen.Generate(jobCtx, coord, palette)
			},
			func(p *mesher.Payload, err error) {
				mu.Lock()
				s := sample{coord: coord, duration: time.Since(started), err: err}
				mu.Unlock()
				if p != nil {
					s.triangles = p.TriangleCount()
				}
				samples = append(samples, s)
			},
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "submit %v: %v\n", coord, err)
			os.Exit(1)
		}
	}

	for len(samples) < len(coords) {
		if ctx.Err() != nil {
			fmt.Fprintf(os.Stderr, "profile timed out with %d of %d chunks done\n", len(samples), len(coords))
			break
		}
		if disp.Drain(0) == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	wall := time.Since(startWall)
	if err := disp.Close(cfg.Streaming.ShutdownTimeout.Duration()); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}

	var (
		totalTriangles int
		meshed         int
		failed         int
		durations      = make([]time.Duration, 0, len(samples))
	)
	for _, s := range samples {
		if s.err != nil {
			failed++
			continue
		}
		if s.triangles > 0 {
			meshed++
		}
		totalTriangles += s.triangles
		durations = append(durations, s.duration)
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	st := gen.Stats()
	fmt.Println("== Chunk Mesh Profile ==")
	fmt.Printf("Seed: %d, mode: %s\n", cfg.World.Seed, gen.Evaluator().Settings().Mode)
	fmt.Printf("Chunk size: %.1f world units (%d points per axis)\n", gen.ChunkWorldSize(), cfg.World.PointsPerAxis)
	fmt.Printf("Chunks: %d (%d meshed, %d empty by probe, %d failed)\n", len(samples), meshed, st.EarlyOuts, failed)
	fmt.Printf("Workers: %d\n", count)
	fmt.Printf("Triangles: %d (%.1f per meshed chunk)\n", totalTriangles, perChunk(totalTriangles, meshed))
	fmt.Printf("Wall clock duration: %s (%.1f chunks/s)\n", wall, float64(len(samples))/wall.Seconds())
	if len(durations) > 0 {
		fmt.Printf("Per-chunk latency: p50 %s, p95 %s, max %s\n",
			percentile(durations, 0.5), percentile(durations, 0.95), durations[len(durations)-1])
	}
}

func perChunk(total, chunks int) float64 {
	if chunks == 0 {
		return 0
	}
	return float64(total) / float64(chunks)
}

func percentile(sorted []time.Duration, q float64) time.Duration {
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}
