// Package density evaluates the terrain scalar field. Positive values are
// solid, compared against an iso level.
package density

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	"voxelterrain/internal/config"
	"voxelterrain/internal/noise"
)

type Mode int

const (
	ModeSurface Mode = iota
	ModeVolumetric
)

func (m Mode) String() string {
	if m == ModeVolumetric {
		return "volumetric"
	}
	return "surface"
}

type TerraceSettings struct {
	Enabled    bool
	StepHeight float64
	Smoothness float64
}

type WarpSettings struct {
	Enabled  bool
	Noise    noise.Params
	Strength float64
}

type OverhangSettings struct {
	Enabled   bool
	Noise     noise.Params
	Strength  float64
	BandWidth float64
}

type IslandSettings struct {
	Enabled           bool
	Noise             noise.Params
	Strength          float64
	Threshold         float64
	Softness          float64
	MinY, MaxY        float64
	EdgeFalloff       float64
	FlatTop           bool
	TopFraction       float64
	Underside         noise.Params
	UndersideStrength float64
	Smoothness        float64
}

type CaveSettings struct {
	Enabled           bool
	Noise             noise.Params
	Strength          float64
	Threshold         float64
	Softness          float64
	MinDepth          float64
	MaxDepth          float64
	BiasBelowSeaLevel bool
}

// Settings is the resolved, sanitized form of config.DensityConfig. It is
// treated as immutable once handed to an Evaluator.
type Settings struct {
	Mode                     Mode
	IsoLevel                 float64
	SurfaceDensityMultiplier float64
	BaseHeight               float64
	HeightMultiplier         float64
	Surface                  noise.Params
	Curve                    *Curve
	Terrace                  TerraceSettings
	Warp                     WarpSettings
	Overhang                 OverhangSettings
	Islands                  IslandSettings
	Caves                    CaveSettings

	ProbeResolution           int
	VolumetricProbeResolution int

	// SeaLevel is shared with the biome overlays.
	SeaLevel float64
}

// Resolve converts configuration into evaluator settings. With simple tuning
// enabled every feature is derived from the sliders instead.
func Resolve(cfg config.DensityConfig) Settings {
	if cfg.Simple.Enabled {
		return fromSimple(cfg)
	}

	s := Settings{
		Mode:                     ModeSurface,
		IsoLevel:                 cfg.IsoLevel,
		SurfaceDensityMultiplier: cfg.SurfaceDensityMultiplier,
		BaseHeight:               cfg.BaseHeight,
		HeightMultiplier:         cfg.HeightMultiplier,
		Surface:                  params(cfg.Surface),
		Curve:                    NewCurve(cfg.HeightCurve),
		Terrace: TerraceSettings{
			Enabled:    cfg.Terrace.Enabled,
			StepHeight: cfg.Terrace.StepHeight,
			Smoothness: cfg.Terrace.Smoothness,
		},
		Warp: WarpSettings{
			Enabled:  cfg.Warp.Enabled,
			Noise:    params(cfg.Warp.Noise),
			Strength: cfg.Warp.Strength,
		},
		Overhang: OverhangSettings{
			Enabled:   cfg.Overhang.Enabled,
			Noise:     params(cfg.Overhang.Noise),
			Strength:  cfg.Overhang.Strength,
			BandWidth: cfg.Overhang.BandWidth,
		},
		Islands: IslandSettings{
			Enabled:           cfg.Islands.Enabled,
			Noise:             params(cfg.Islands.Noise),
			Strength:          cfg.Islands.Strength,
			Threshold:         cfg.Islands.Threshold,
			Softness:          cfg.Islands.Softness,
			MinY:              cfg.Islands.MinY,
			MaxY:              cfg.Islands.MaxY,
			EdgeFalloff:       cfg.Islands.EdgeFalloff,
			FlatTop:           cfg.Islands.FlatTop,
			TopFraction:       cfg.Islands.TopFraction,
			Underside:         params(cfg.Islands.Underside),
			UndersideStrength: cfg.Islands.UndersideStrength,
			Smoothness:        cfg.Islands.Smoothness,
		},
		Caves: CaveSettings{
			Enabled:           cfg.Caves.Enabled,
			Noise:             params(cfg.Caves.Noise),
			Strength:          cfg.Caves.Strength,
			Threshold:         cfg.Caves.Threshold,
			Softness:          cfg.Caves.Softness,
			MinDepth:          cfg.Caves.MinDepth,
			MaxDepth:          cfg.Caves.MaxDepth,
			BiasBelowSeaLevel: cfg.Caves.BiasBelowSeaLevel,
		},
		ProbeResolution:           cfg.Probe.Resolution,
		VolumetricProbeResolution: cfg.Probe.VolumetricResolution,
	}
	if cfg.Mode == "volumetric" {
		s.Mode = ModeVolumetric
	}
	return s.sanitized()
}

func params(n config.NoiseConfig) noise.Params {
	return noise.Params{
		Frequency:   n.Frequency,
		Octaves:     n.Octaves,
		Persistence: n.Persistence,
		Lacunarity:  n.Lacunarity,
		Offset:      mgl64.Vec3(n.Offset),
	}.Sanitized()
}

func (s Settings) sanitized() Settings {
	if s.SurfaceDensityMultiplier <= 0 {
		s.SurfaceDensityMultiplier = 1
	}
	if s.Curve == nil {
		s.Curve = NewCurve(nil)
	}
	if s.Terrace.StepHeight <= 0 {
		s.Terrace.Enabled = false
	}
	s.Terrace.Smoothness = clamp01(s.Terrace.Smoothness)
	if s.Overhang.BandWidth < 1e-3 {
		s.Overhang.BandWidth = 1e-3
	}
	s.Islands.Softness = math.Max(s.Islands.Softness, 1e-3)
	s.Islands.EdgeFalloff = math.Max(s.Islands.EdgeFalloff, 1e-3)
	s.Islands.TopFraction = clamp01(s.Islands.TopFraction)
	s.Islands.Smoothness = math.Max(s.Islands.Smoothness, 1e-3)
	if s.Islands.MaxY < s.Islands.MinY {
		s.Islands.MinY, s.Islands.MaxY = s.Islands.MaxY, s.Islands.MinY
	}
	s.Caves.Softness = math.Max(s.Caves.Softness, 1e-3)
	if s.Caves.MinDepth < 0 {
		s.Caves.MinDepth = 0
	}
	s.ProbeResolution = clampInt(s.ProbeResolution, 2, 6)
	s.VolumetricProbeResolution = clampInt(s.VolumetricProbeResolution, 2, 6)
	return s
}

// Curve approximates the height shaping curve with a fixed lookup table.
type Curve struct {
	lut [256]float64
}

// NewCurve builds the lookup table from keys. Keys are sorted by T; fewer than
// two keys give the identity curve.
func NewCurve(keys []config.CurveKey) *Curve {
	c := &Curve{}
	sorted := append([]config.CurveKey(nil), keys...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].T < sorted[j].T })

	for i := range c.lut {
		t := float64(i) / float64(len(c.lut)-1)
		if len(sorted) < 2 {
			c.lut[i] = t
			continue
		}
		c.lut[i] = evalKeys(sorted, t)
	}
	return c
}

func evalKeys(keys []config.CurveKey, t float64) float64 {
	if t <= keys[0].T {
		return keys[0].V
	}
	last := keys[len(keys)-1]
	if t >= last.T {
		return last.V
	}
	for i := 1; i < len(keys); i++ {
		a, b := keys[i-1], keys[i]
		if t > b.T {
			continue
		}
		span := b.T - a.T
		if span <= 0 {
			return b.V
		}
		return a.V + (b.V-a.V)*(t-a.T)/span
	}
	return last.V
}

// Eval samples the curve at t in [0,1].
func (c *Curve) Eval(t float64) float64 {
	t = clamp01(t) * float64(len(c.lut)-1)
	i := int(t)
	if i >= len(c.lut)-1 {
		return c.lut[len(c.lut)-1]
	}
	f := t - float64(i)
	return c.lut[i] + (c.lut[i+1]-c.lut[i])*f
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func smoothstep(edge0, edge1, x float64) float64 {
	if edge1 == edge0 {
		if x < edge0 {
			return 0
		}
		return 1
	}
	t := clamp01((x - edge0) / (edge1 - edge0))
	return t * t * (3 - 2*t)
}
