package density

import (
	"math"

	"voxelterrain/internal/config"
	"voxelterrain/internal/noise"
)

const featureCutoff = 0.01

// fromSimple derives full settings from the seven sliders. The mapping is a
// tuned preset; iso level, base height, island band and probe resolution are
// still read from cfg.
func fromSimple(cfg config.DensityConfig) Settings {
	sl := cfg.Simple
	rough := clamp01(sl.Roughness)
	mountains := clamp01(sl.Mountains)
	overhangs := clamp01(sl.Overhangs)
	caves := clamp01(sl.Caves)
	islands := clamp01(sl.Islands)
	warp := clamp01(sl.Warp)
	scale := clamp01(sl.Scale)

	// Larger scale stretches every feature horizontally.
	freqScale := 2 - 1.5*scale

	s := Settings{
		Mode:                     ModeSurface,
		IsoLevel:                 cfg.IsoLevel,
		SurfaceDensityMultiplier: cfg.SurfaceDensityMultiplier,
		BaseHeight:               cfg.BaseHeight,
		HeightMultiplier:         8 + 56*mountains,
		Surface: noise.Params{
			Frequency:   0.004 * freqScale,
			Octaves:     3 + int(math.Round(rough*5)),
			Persistence: 0.35 + 0.3*rough,
			Lacunarity:  2,
		},
		Curve: NewCurve([]config.CurveKey{
			{T: 0, V: 0},
			{T: 0.5, V: 0.5 - 0.2*mountains},
			{T: 1, V: 1},
		}),
		Warp: WarpSettings{
			Enabled:  warp > featureCutoff,
			Noise:    noise.Params{Frequency: 0.008 * freqScale, Octaves: 2, Persistence: 0.5, Lacunarity: 2},
			Strength: 24 * warp,
		},
		Overhang: OverhangSettings{
			Enabled:   overhangs > featureCutoff,
			Noise:     noise.Params{Frequency: 0.02 * freqScale, Octaves: 3, Persistence: 0.5, Lacunarity: 2},
			Strength:  16 * overhangs,
			BandWidth: 6 + 14*overhangs,
		},
		Islands: IslandSettings{
			Enabled:           islands > featureCutoff,
			Noise:             noise.Params{Frequency: 0.008 * freqScale, Octaves: 3, Persistence: 0.5, Lacunarity: 2},
			Strength:          8 + 24*islands,
			Threshold:         0.6 - 0.4*islands,
			Softness:          0.15,
			MinY:              cfg.Islands.MinY,
			MaxY:              cfg.Islands.MaxY,
			EdgeFalloff:       math.Max(cfg.Islands.EdgeFalloff, 8),
			FlatTop:           true,
			TopFraction:       0.7,
			Underside:         noise.Params{Frequency: 0.05 * freqScale, Octaves: 2, Persistence: 0.5, Lacunarity: 2},
			UndersideStrength: 2 + 6*islands,
			Smoothness:        4,
		},
		Caves: CaveSettings{
			Enabled:           caves > featureCutoff,
			Noise:             noise.Params{Frequency: 0.03 * freqScale, Octaves: 3, Persistence: 0.5, Lacunarity: 2},
			Strength:          30 * caves,
			Threshold:         0.7 - 0.3*caves,
			Softness:          0.1,
			MinDepth:          4,
			MaxDepth:          64,
			BiasBelowSeaLevel: true,
		},
		ProbeResolution:           cfg.Probe.Resolution,
		VolumetricProbeResolution: cfg.Probe.VolumetricResolution,
	}
	if s.Warp.Enabled || s.Overhang.Enabled || s.Islands.Enabled || s.Caves.Enabled {
		s.Mode = ModeVolumetric
	}
	return s.sanitized()
}
