package noise

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

const maxOctaves = 16

// Params shapes a fractal sum.
type Params struct {
	Frequency   float64
	Octaves     int
	Persistence float64
	Lacunarity  float64
	Offset      mgl64.Vec3
}

// Sanitized clamps degenerate values so fractal sums stay finite.
func (p Params) Sanitized() Params {
	if p.Frequency <= 0 || math.IsNaN(p.Frequency) {
		p.Frequency = 1e-4
	}
	if p.Octaves < 1 {
		p.Octaves = 1
	}
	if p.Octaves > maxOctaves {
		p.Octaves = maxOctaves
	}
	if p.Lacunarity <= 0 || math.IsNaN(p.Lacunarity) {
		p.Lacunarity = 2
	}
	if p.Persistence < 0 || math.IsNaN(p.Persistence) {
		p.Persistence = 0
	}
	return p
}

// octaveShift moves each octave off the shared lattice origin.
var octaveShift = mgl64.Vec3{17.31, 43.77, 29.03}

// FBm3 sums Perlin3D octaves and divides by the total amplitude, keeping the
// result in [-1, 1].
func FBm3(p mgl64.Vec3, t *Table, prm Params) float64 {
	prm = prm.Sanitized()
	freq, amp := prm.Frequency, 1.0
	var sum, norm float64
	q := p.Add(prm.Offset)
	for i := 0; i < prm.Octaves; i++ {
		sum += amp * Perlin3D(q.Mul(freq).Add(octaveShift.Mul(float64(i))), t)
		norm += amp
		freq *= prm.Lacunarity
		amp *= prm.Persistence
	}
	return clamp(sum/norm, -1, 1)
}

// FBm2 is the planar counterpart of FBm3. Offset X and Z apply.
func FBm2(p mgl64.Vec2, t *Table, prm Params) float64 {
	prm = prm.Sanitized()
	freq, amp := prm.Frequency, 1.0
	var sum, norm float64
	q := p.Add(mgl64.Vec2{prm.Offset[0], prm.Offset[2]})
	shift := mgl64.Vec2{octaveShift[0], octaveShift[2]}
	for i := 0; i < prm.Octaves; i++ {
		sum += amp * Perlin2D(q.Mul(freq).Add(shift.Mul(float64(i))), t)
		norm += amp
		freq *= prm.Lacunarity
		amp *= prm.Persistence
	}
	return clamp(sum/norm, -1, 1)
}

// Ridged3 returns (1-|FBm3|)^2, in [0, 1].
func Ridged3(p mgl64.Vec3, t *Table, prm Params) float64 {
	r := 1 - math.Abs(FBm3(p, t, prm))
	return r * r
}

// Ridged2 returns (1-|FBm2|)^2, in [0, 1].
func Ridged2(p mgl64.Vec2, t *Table, prm Params) float64 {
	r := 1 - math.Abs(FBm2(p, t, prm))
	return r * r
}
