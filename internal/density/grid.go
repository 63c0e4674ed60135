package density

import (
	"context"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
)

var up = mgl32.Vec3{0, 1, 0}

// Grid is reusable scratch holding a padded (points+2)^3 density block and
// normals for the inner points^3 samples. Index arguments are unpadded.
type Grid struct {
	points  int
	stride  int
	values  []float32
	normals []mgl32.Vec3
}

func NewGrid() *Grid { return &Grid{} }

// Reset sizes the grid for points samples per axis, reusing memory when it is
// already large enough.
func (g *Grid) Reset(points int) {
	g.points = points
	g.stride = points + 2
	n := g.stride * g.stride * g.stride
	if cap(g.values) < n {
		g.values = make([]float32, n)
	}
	g.values = g.values[:n]
	m := points * points * points
	if cap(g.normals) < m {
		g.normals = make([]mgl32.Vec3, m)
	}
	g.normals = g.normals[:m]
}

func (g *Grid) Points() int { return g.points }

func (g *Grid) Density(i, j, k int) float64 {
	return float64(g.values[g.padded(i+1, j+1, k+1)])
}

func (g *Grid) Normal(i, j, k int) mgl32.Vec3 {
	return g.normals[(k*g.points+j)*g.points+i]
}

func (g *Grid) padded(i, j, k int) int {
	return (k*g.stride+j)*g.stride + i
}

// Fill samples the field on a padded lattice starting one step before origin
// and computes central difference normals for the inner samples. The context
// is checked between Z slabs.
func (e *Evaluator) Fill(ctx context.Context, g *Grid, origin mgl64.Vec3, points int, step float64) error {
	g.Reset(points)
	n := g.stride
	for k := 0; k < n; k++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		z := origin[2] + float64(k-1)*step
		for j := 0; j < n; j++ {
			y := origin[1] + float64(j-1)*step
			for i := 0; i < n; i++ {
				x := origin[0] + float64(i-1)*step
				g.values[g.padded(i, j, k)] = float32(e.Sample(mgl64.Vec3{x, y, z}))
			}
		}
	}

	for k := 1; k <= points; k++ {
		for j := 1; j <= points; j++ {
			for i := 1; i <= points; i++ {
				grad := mgl32.Vec3{
					g.values[g.padded(i+1, j, k)] - g.values[g.padded(i-1, j, k)],
					g.values[g.padded(i, j+1, k)] - g.values[g.padded(i, j-1, k)],
					g.values[g.padded(i, j, k+1)] - g.values[g.padded(i, j, k-1)],
				}
				nrm := up
				if l := grad.Len(); l > 1e-12 {
					nrm = grad.Mul(-1 / l)
				}
				g.normals[((k-1)*points+(j-1))*points+(i-1)] = nrm
			}
		}
	}
	return nil
}

// HasCrossing probes a res^3 lattice over the cube [origin, origin+size] and
// reports whether samples fall on both sides of the iso level. res is clamped
// to 2..6.
func (e *Evaluator) HasCrossing(origin mgl64.Vec3, size float64, res int) bool {
	res = clampInt(res, 2, 6)
	step := size / float64(res-1)
	iso := e.s.IsoLevel
	var above, below bool
	for k := 0; k < res; k++ {
		for j := 0; j < res; j++ {
			for i := 0; i < res; i++ {
				p := origin.Add(mgl64.Vec3{float64(i) * step, float64(j) * step, float64(k) * step})
				if e.Sample(p) > iso {
					above = true
				} else {
					below = true
				}
				if above && below {
					return true
				}
			}
		}
	}
	return false
}
