// Package biome partitions the XZ plane into weighted Voronoi biome cells and
// layers height based overlays (underwater, mountain) on top.
package biome

import (
	"errors"
	"fmt"
	"image/color"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/mazznoer/csscolorparser"
	"github.com/ojrac/opensimplex-go"

	"voxelterrain/internal/config"
)

// ErrInvalidConfig marks biome settings the field cannot run with.
var ErrInvalidConfig = errors.New("biome: invalid configuration")

// Descriptor is an immutable snapshot of one configured biome.
type Descriptor struct {
	Name          string
	Weight        float64
	StartDistance float64
	HeightOnly    bool
	Material      string
	TextureIndex  int
	MapColor      color.NRGBA
}

// Blend is the horizontal biome pairing at one XZ position.
type Blend struct {
	Primary       *Descriptor
	Secondary     *Descriptor // nil when both nearest sites carry the same biome
	Weight        float64     // secondary influence, 0..0.5
	PrimarySite   mgl64.Vec2
	SecondarySite mgl64.Vec2
	BlendWidth    float64
}

// Overlay holds the height driven weights at one Y.
type Overlay struct {
	Underwater float64
	Mountain   float64
}

// Field resolves biomes for world positions. It is safe for concurrent use
// once constructed.
type Field struct {
	seed        int32
	descriptors []*Descriptor
	horizontal  []*Descriptor
	underwater  *Descriptor
	mountain    *Descriptor

	cellSize   float64
	radius     int
	blendWidth float64

	warpEnabled  bool
	warpX, warpZ opensimplex.Noise
	warpFreq     float64
	warpOctaves  int
	warpStrength float64

	seaLevel        float64
	underwaterBlend float64
	mountainStart   float64
	mountainBlend   float64
	paletteSamples  int
}

// NewField builds a biome field. A configuration without any horizontal
// biome, or naming an overlay biome that does not exist, is rejected.
func NewField(cfg config.BiomeConfig, seed int32, chunkWorldSize float64) (*Field, error) {
	f := &Field{
		seed:            seed,
		cellSize:        cfg.CellSize,
		radius:          cfg.SearchRadius,
		blendWidth:      cfg.BlendWidth,
		seaLevel:        cfg.SeaLevel,
		underwaterBlend: cfg.UnderwaterBlend,
		mountainStart:   cfg.MountainStart,
		mountainBlend:   cfg.MountainBlend,
		paletteSamples:  cfg.PaletteSamples,
	}

	for i, b := range cfg.Biomes {
		d := &Descriptor{
			Name:          b.Name,
			Weight:        math.Max(b.Weight, 0),
			StartDistance: b.StartDistance,
			HeightOnly:    b.HeightOnly,
			Material:      b.Material,
			TextureIndex:  i,
			MapColor:      parseColor(b.MapColor, color.NRGBA{R: 128, G: 128, B: 128, A: 255}),
		}
		f.descriptors = append(f.descriptors, d)
		if !d.HeightOnly {
			f.horizontal = append(f.horizontal, d)
		}
	}
	if len(f.horizontal) == 0 {
		return nil, fmt.Errorf("%w: no horizontal biome configured", ErrInvalidConfig)
	}
	if cfg.UnderwaterBiome != "" {
		if f.underwater = f.ByName(cfg.UnderwaterBiome); f.underwater == nil {
			return nil, fmt.Errorf("%w: underwater biome %q not found", ErrInvalidConfig, cfg.UnderwaterBiome)
		}
	}
	if cfg.MountainBiome != "" {
		if f.mountain = f.ByName(cfg.MountainBiome); f.mountain == nil {
			return nil, fmt.Errorf("%w: mountain biome %q not found", ErrInvalidConfig, cfg.MountainBiome)
		}
	}

	if f.cellSize <= 0 {
		f.cellSize = chunkWorldSize * 4
	}
	if f.cellSize <= 0 {
		f.cellSize = 128
	}
	if f.radius < 1 {
		f.radius = 1
	}
	if f.radius > 4 {
		f.radius = 4
	}
	if f.blendWidth < 1e-3 {
		f.blendWidth = 1e-3
	}
	if f.underwaterBlend < 1e-3 {
		f.underwaterBlend = 1e-3
	}
	if f.mountainBlend < 1e-3 {
		f.mountainBlend = 1e-3
	}
	if f.paletteSamples < 1 {
		f.paletteSamples = 1
	}
	if f.paletteSamples > len(paletteOffsets) {
		f.paletteSamples = len(paletteOffsets)
	}

	if cfg.Warp.Enabled && cfg.Warp.Strength != 0 {
		f.warpEnabled = true
		f.warpX = opensimplex.New(int64(seed))
		f.warpZ = opensimplex.New(int64(seed) ^ 0x5bd1e995)
		f.warpFreq = cfg.Warp.Frequency
		if f.warpFreq <= 0 {
			f.warpFreq = 1e-3
		}
		f.warpOctaves = cfg.Warp.Octaves
		if f.warpOctaves < 1 {
			f.warpOctaves = 1
		}
		if f.warpOctaves > 8 {
			f.warpOctaves = 8
		}
		f.warpStrength = cfg.Warp.Strength
	}
	return f, nil
}

func (f *Field) Seed() int32 { return f.seed }

// Descriptors returns every configured biome in configuration order.
func (f *Field) Descriptors() []*Descriptor { return f.descriptors }

func (f *Field) ByName(name string) *Descriptor {
	for _, d := range f.descriptors {
		if d.Name == name {
			return d
		}
	}
	return nil
}

func (f *Field) Underwater() *Descriptor { return f.underwater }
func (f *Field) Mountain() *Descriptor   { return f.mountain }
func (f *Field) SeaLevel() float64       { return f.seaLevel }

// Warp maps a world XZ position into the space Voronoi sites live in.
func (f *Field) Warp(x, z float64) mgl64.Vec2 {
	p := mgl64.Vec2{x, z}
	if !f.warpEnabled {
		return p
	}
	var wx, wz, norm float64
	freq, amp := f.warpFreq, 1.0
	for i := 0; i < f.warpOctaves; i++ {
		wx += amp * f.warpX.Eval2(x*freq, z*freq)
		wz += amp * f.warpZ.Eval2(x*freq, z*freq)
		norm += amp
		freq *= 2
		amp *= 0.5
	}
	return p.Add(mgl64.Vec2{wx / norm, wz / norm}.Mul(f.warpStrength))
}

type site struct {
	cx, cz int
	pos    mgl64.Vec2
	d2     float64
}

// ResolveBlend returns the two nearest Voronoi sites around (x, z) and the
// biomes they carry.
func (f *Field) ResolveBlend(x, z float64) Blend {
	p := f.Warp(x, z)
	cx := int(math.Floor(p[0] / f.cellSize))
	cz := int(math.Floor(p[1] / f.cellSize))

	first := site{d2: math.Inf(1)}
	second := site{d2: math.Inf(1)}
	for dz := -f.radius; dz <= f.radius; dz++ {
		for dx := -f.radius; dx <= f.radius; dx++ {
			s := f.cellSite(cx+dx, cz+dz)
			s.d2 = p.Sub(s.pos).LenSqr()
			switch {
			case s.d2 < first.d2:
				second = first
				first = s
			case s.d2 < second.d2:
				second = s
			}
		}
	}

	primary := f.cellBiome(first)
	secondary := f.cellBiome(second)
	b := Blend{
		Primary:       primary,
		PrimarySite:   first.pos,
		SecondarySite: second.pos,
		BlendWidth:    f.blendWidth,
	}
	if secondary != primary {
		b.Secondary = secondary
		b.Weight = math.Min(BlendWeight(p, first.pos, second.pos, f.blendWidth), 0.5)
	}
	return b
}

// ResolveOverlay returns the height overlay weights at world height y.
func (f *Field) ResolveOverlay(y float64) Overlay {
	var o Overlay
	if f.underwater != nil {
		o.Underwater = 1 - smoothstep(f.seaLevel-f.underwaterBlend, f.seaLevel+f.underwaterBlend, y)
	}
	if f.mountain != nil {
		o.Mountain = smoothstep(f.mountainStart-f.mountainBlend, f.mountainStart+f.mountainBlend, y)
	}
	return o
}

// BlendWeight is the secondary influence at p given the primary site a and
// secondary site b. It is 0.5 on their bisector and falls to 0 at width/2
// inside the primary cell, so it never exceeds 0.5 while a is the nearer
// site. p must be in warped space.
func BlendWeight(p, a, b mgl64.Vec2, width float64) float64 {
	ab := b.Sub(a)
	l := ab.Len()
	if l < 1e-9 {
		return 0
	}
	if width < 1e-3 {
		width = 1e-3
	}
	mid := a.Add(b).Mul(0.5)
	signed := p.Sub(mid).Dot(ab.Mul(1 / l))
	return smoothstep(0, 1, 0.5+signed/width)
}

func (f *Field) cellSite(cx, cz int) site {
	h := hash3(cx, cz, int(f.seed))
	u := float64(h&0xffff) / 65536
	v := float64(h>>16) / 65536
	return site{
		cx:  cx,
		cz:  cz,
		pos: mgl64.Vec2{(float64(cx) + u) * f.cellSize, (float64(cz) + v) * f.cellSize},
	}
}

func (f *Field) cellBiome(s site) *Descriptor {
	dist := s.pos.Len()
	var eligible []*Descriptor
	var total float64
	for _, d := range f.horizontal {
		if d.StartDistance <= dist {
			eligible = append(eligible, d)
			total += d.Weight
		}
	}
	if len(eligible) == 0 {
		nearest := f.horizontal[0]
		for _, d := range f.horizontal[1:] {
			if d.StartDistance < nearest.StartDistance {
				nearest = d
			}
		}
		return nearest
	}

	h := hash3(s.cx, s.cz, int(f.seed)^0x27d4eb2d)
	r := float64(h) / float64(math.MaxUint32)
	if total <= 0 {
		idx := int(r * float64(len(eligible)))
		if idx >= len(eligible) {
			idx = len(eligible) - 1
		}
		return eligible[idx]
	}
	r *= total
	for _, d := range eligible {
		if r < d.Weight {
			return d
		}
		r -= d.Weight
	}
	return eligible[len(eligible)-1]
}

func hash3(x, y, z int) uint32 {
	h := uint32(x*374761393 + y*668265263 + z*2147483647)
	h = (h ^ (h >> 13)) * 1274126177
	return h ^ (h >> 16)
}

func smoothstep(edge0, edge1, x float64) float64 {
	if edge1 == edge0 {
		if x < edge0 {
			return 0
		}
		return 1
	}
	t := (x - edge0) / (edge1 - edge0)
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return t * t * (3 - 2*t)
}

func parseColor(s string, fallback color.NRGBA) color.NRGBA {
	if s == "" {
		return fallback
	}
	c, err := csscolorparser.Parse(s)
	if err != nil {
		return fallback
	}
	r, g, b, a := c.RGBA255()
	return color.NRGBA{R: r, G: g, B: b, A: a}
}
