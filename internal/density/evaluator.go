package density

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"voxelterrain/internal/noise"
)

// Per-feature seed offsets so layers do not share lattice structure.
const (
	saltSurface int32 = iota
	saltWarpX
	saltWarpY
	saltWarpZ
	saltOverhang
	saltIslands
	saltUnderside
	saltCaves
)

// Evaluator samples the density field for one (settings, seed) pair. It holds
// only read-only state and is safe to share between workers.
type Evaluator struct {
	s Settings

	surface   *noise.Table
	warp      [3]*noise.Table
	overhang  *noise.Table
	islands   *noise.Table
	underside *noise.Table
	caves     *noise.Table
}

func NewEvaluator(s Settings, seed int32) *Evaluator {
	s = s.sanitized()
	return &Evaluator{
		s:         s,
		surface:   noise.Permutation(seed + saltSurface),
		warp:      [3]*noise.Table{noise.Permutation(seed + saltWarpX), noise.Permutation(seed + saltWarpY), noise.Permutation(seed + saltWarpZ)},
		overhang:  noise.Permutation(seed + saltOverhang),
		islands:   noise.Permutation(seed + saltIslands),
		underside: noise.Permutation(seed + saltUnderside),
		caves:     noise.Permutation(seed + saltCaves),
	}
}

func (e *Evaluator) Settings() Settings { return e.s }
func (e *Evaluator) IsoLevel() float64  { return e.s.IsoLevel }

// ProbeResolution is the early-out probe grid size for the active mode.
func (e *Evaluator) ProbeResolution() int {
	if e.s.Mode == ModeVolumetric {
		return e.s.VolumetricProbeResolution
	}
	return e.s.ProbeResolution
}

// SurfaceHeight returns the shaped, optionally terraced surface height at
// (x, z).
func (e *Evaluator) SurfaceHeight(x, z float64) float64 {
	n := noise.FBm2(mgl64.Vec2{x, z}, e.surface, e.s.Surface)
	shaped := e.s.Curve.Eval((n + 1) * 0.5)
	h := e.s.BaseHeight + (shaped*2-1)*e.s.HeightMultiplier

	if t := e.s.Terrace; t.Enabled {
		steps := h / t.StepHeight
		level := math.Floor(steps)
		k := smoothstep(1-t.Smoothness, 1, steps-level)
		h = (level + k) * t.StepHeight
	}
	return h
}

// Sample returns the density at world position p.
func (e *Evaluator) Sample(p mgl64.Vec3) float64 {
	h := e.SurfaceHeight(p[0], p[2])
	d := (h - p[1]) * e.s.SurfaceDensityMultiplier
	if e.s.Mode != ModeVolumetric {
		return d
	}

	q := p
	if w := e.s.Warp; w.Enabled && w.Strength != 0 {
		q = p.Add(mgl64.Vec3{
			noise.FBm3(p, e.warp[0], w.Noise),
			noise.FBm3(p, e.warp[1], w.Noise),
			noise.FBm3(p, e.warp[2], w.Noise),
		}.Mul(w.Strength))
	}

	if o := e.s.Overhang; o.Enabled && o.Strength != 0 {
		mask := 1 - smoothstep(0, o.BandWidth, math.Abs(p[1]-h))
		if mask > 0 {
			d += (noise.Ridged3(q, e.overhang, o.Noise)*2 - 1) * o.Strength * mask
		}
	}

	if is := e.s.Islands; is.Enabled && is.Strength != 0 {
		d = smoothMax(d, e.island(q, p[1]), is.Smoothness)
	}

	if c := e.s.Caves; c.Enabled && c.Strength != 0 {
		d -= e.cave(q, p[1], h, d)
	}
	return d
}

// island returns the floating island density, -Strength outside the band.
func (e *Evaluator) island(q mgl64.Vec3, y float64) float64 {
	is := e.s.Islands
	band := smoothstep(is.MinY, is.MinY+is.EdgeFalloff, y) *
		(1 - smoothstep(is.MaxY-is.EdgeFalloff, is.MaxY, y))
	if is.FlatTop {
		capY := is.MinY + is.TopFraction*(is.MaxY-is.MinY)
		soft := math.Max(is.EdgeFalloff*0.25, 0.5)
		band *= 1 - smoothstep(capY-soft, capY+soft, y)
	}
	if band <= 0 {
		return -is.Strength
	}

	v := noise.FBm3(q, e.islands, is.Noise)
	blob := smoothstep(is.Threshold-is.Softness, is.Threshold+is.Softness, v)
	dens := is.Strength * (band*blob*2 - 1)

	if is.UndersideStrength != 0 {
		mid := (is.MinY + is.MaxY) * 0.5
		lower := 1 - smoothstep(is.MinY, mid, y)
		dens -= is.UndersideStrength * noise.Ridged3(q, e.underside, is.Underside) * lower * band
	}
	return dens
}

// cave returns the amount carved at height y below surface h. Carving only
// applies where d is already solid and inside the configured depth band.
func (e *Evaluator) cave(q mgl64.Vec3, y, h, d float64) float64 {
	c := e.s.Caves
	solidRamp := math.Max(c.Strength*c.Softness, 1)
	solid := smoothstep(e.s.IsoLevel, e.s.IsoLevel+solidRamp, d)
	if solid <= 0 {
		return 0
	}

	depth := h - y
	depthRamp := math.Max((c.MaxDepth-c.MinDepth)*0.1, 1)
	band := smoothstep(c.MinDepth, c.MinDepth+depthRamp, depth)
	if c.MaxDepth > c.MinDepth {
		band *= 1 - smoothstep(c.MaxDepth-depthRamp, c.MaxDepth, depth)
	}
	if band <= 0 {
		return 0
	}

	v := noise.FBm3(q, e.caves, c.Noise)
	carve := smoothstep(c.Threshold-c.Softness, c.Threshold+c.Softness, v) * c.Strength
	if c.BiasBelowSeaLevel {
		carve *= 0.5 + 0.5*(1-smoothstep(e.s.SeaLevel-8, e.s.SeaLevel+8, y))
	}
	return carve * solid * band
}

// smoothMax is a polynomial soft union of a and b with blend radius k.
func smoothMax(a, b, k float64) float64 {
	h := math.Max(k-math.Abs(a-b), 0) / k
	return math.Max(a, b) + h*h*k*0.25
}
