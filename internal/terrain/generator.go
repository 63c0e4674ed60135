// Package terrain runs the per-chunk generation job: density sampling,
// iso surface extraction and per-vertex biome channels.
package terrain

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"

	"voxelterrain/internal/biome"
	"voxelterrain/internal/config"
	"voxelterrain/internal/density"
	"voxelterrain/internal/dispatch"
	"voxelterrain/internal/mesher"
	"voxelterrain/internal/world"
)

// Stats counts generation outcomes since construction.
type Stats struct {
	Generated int64 `json:"generated"`
	EarlyOuts int64 `json:"earlyOuts"`
	Failed    int64 `json:"failed"`
	Triangles int64 `json:"triangles"`
}

// ChunkGenerator builds chunk meshes. Generate is safe for concurrent use;
// ResolvePalette is meant for the owner goroutine but only reads.
type ChunkGenerator struct {
	evaluator *density.Evaluator
	field     *biome.Field
	arenas    *ArenaPool
	grid      world.Grid
	bounds    world.VerticalRange
	points    int
	voxel     float64
	logger    *log.Logger
	verbose   bool

	generated atomic.Int64
	earlyOuts atomic.Int64
	failed    atomic.Int64
	triangles atomic.Int64
}

func NewChunkGenerator(cfg *config.Config, logger *log.Logger) (*ChunkGenerator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("terrain: %w: nil config", biome.ErrInvalidConfig)
	}
	if logger == nil {
		logger = log.Default()
	}
	size := cfg.World.ChunkWorldSize()
	field, err := biome.NewField(cfg.Biomes, cfg.World.Seed, size)
	if err != nil {
		return nil, fmt.Errorf("terrain: biome field: %w", err)
	}

	settings := density.Resolve(cfg.Density)
	settings.SeaLevel = cfg.Biomes.SeaLevel

	points := cfg.World.PointsPerAxis
	if points < 3 {
		points = 3
	}
	voxel := cfg.World.VoxelSize
	if voxel <= 0 {
		voxel = 1
	}

	bounds := world.VerticalRange{Min: cfg.World.MinChunkY, Max: cfg.World.MaxChunkY}
	if !bounds.Valid() {
		bounds.Min, bounds.Max = bounds.Max, bounds.Min
	}

	return &ChunkGenerator{
		evaluator: density.NewEvaluator(settings, cfg.World.Seed),
		field:     field,
		arenas:    NewArenaPool(dispatch.WorkerCount(cfg.Workers.Count, cfg.Workers.Headroom)),
		grid:      world.Grid{ChunkSize: size},
		bounds:    bounds,
		points:    points,
		voxel:     voxel,
		logger:    logger,
		verbose:   cfg.Server.Verbose,
	}, nil
}

func (g *ChunkGenerator) ChunkWorldSize() float64                   { return g.grid.ChunkSize }
func (g *ChunkGenerator) ChunkOrigin(c world.ChunkCoord) mgl64.Vec3 { return g.grid.Origin(c) }
func (g *ChunkGenerator) VerticalBounds() world.VerticalRange       { return g.bounds }
func (g *ChunkGenerator) Field() *biome.Field                       { return g.field }
func (g *ChunkGenerator) Evaluator() *density.Evaluator             { return g.evaluator }
func (g *ChunkGenerator) Arenas() *ArenaPool                        { return g.arenas }

func (g *ChunkGenerator) Stats() Stats {
	return Stats{
		Generated: g.generated.Load(),
		EarlyOuts: g.earlyOuts.Load(),
		Failed:    g.failed.Load(),
		Triangles: g.triangles.Load(),
	}
}

// ResolvePalette commits the biome palette for coord from its XZ footprint.
func (g *ChunkGenerator) ResolvePalette(coord world.ChunkCoord) biome.Palette {
	o := g.grid.Origin(coord)
	return g.field.ResolvePalette(o[0], o[2], g.grid.ChunkSize)
}

// Generate produces the mesh for coord. Chunks whose probe lattice does not
// cross the iso level return an empty payload without a full sample pass.
func (g *ChunkGenerator) Generate(ctx context.Context, coord world.ChunkCoord, palette biome.Palette) (*mesher.Payload, error) {
	start := time.Now()
	origin := g.grid.Origin(coord)

	if !g.evaluator.HasCrossing(origin, g.grid.ChunkSize, g.evaluator.ProbeResolution()) {
		g.earlyOuts.Add(1)
		return &mesher.Payload{}, nil
	}

	arena, err := g.arenas.Acquire(ctx)
	if err != nil {
		g.failed.Add(1)
		return nil, fmt.Errorf("chunk %v: acquire arena: %w", coord, err)
	}
	defer g.arenas.Release(arena)

	if err := g.evaluator.Fill(ctx, arena.Grid, origin, g.points, g.voxel); err != nil {
		g.failed.Add(1)
		return nil, fmt.Errorf("chunk %v: sample density: %w", coord, err)
	}

	origin32 := mgl32.Vec3{float32(origin[0]), float32(origin[1]), float32(origin[2])}
	payload := mesher.Generate(arena.Grid, g.evaluator.IsoLevel(), float32(g.voxel), origin32, arena.Scratch)
	g.buildChannels(payload, palette)

	g.generated.Add(1)
	g.triangles.Add(int64(payload.TriangleCount()))
	if g.verbose {
		g.logger.Printf("chunk %v generated on arena %d: %d triangles in %s", coord, arena.ID, payload.TriangleCount(), time.Since(start))
	}
	return payload, nil
}

// buildChannels fills per-vertex color (secondary weight, underwater,
// mountain) and uv2 (primary index, secondary index) from the palette.
func (g *ChunkGenerator) buildChannels(p *mesher.Payload, palette biome.Palette) {
	n := len(p.Vertices)
	p.Colors = make([]mgl32.Vec3, n)
	p.BiomeIndices = make([]mgl32.Vec2, n)
	primary, secondary := palette.TextureIndices()
	uv := mgl32.Vec2{primary, secondary}

	for i, v := range p.Vertices {
		var w float64
		if palette.HasSecondary() {
			warped := g.field.Warp(float64(v[0]), float64(v[2]))
			w = biome.BlendWeight(warped, palette.Sites[0], palette.Sites[1], palette.BlendWidth)
		}
		o := g.field.ResolveOverlay(float64(v[1]))
		if palette.Slots[biome.SlotUnderwater] == nil {
			o.Underwater = 0
		}
		if palette.Slots[biome.SlotMountain] == nil {
			o.Mountain = 0
		}
		p.Colors[i] = mgl32.Vec3{float32(w), float32(o.Underwater), float32(o.Mountain)}
		p.BiomeIndices[i] = uv
	}
}
