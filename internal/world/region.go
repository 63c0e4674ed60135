package world

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// ChunkCoord identifies a cubic chunk in chunk grid space. It is a plain
// comparable value used directly as a map key.
type ChunkCoord struct {
	X int
	Y int
	Z int
}

func (c ChunkCoord) String() string {
	return fmt.Sprintf("(%d,%d,%d)", c.X, c.Y, c.Z)
}

func (c ChunkCoord) Add(dx, dy, dz int) ChunkCoord {
	return ChunkCoord{X: c.X + dx, Y: c.Y + dy, Z: c.Z + dz}
}

// VerticalRange is an inclusive range of chunk Y indices.
type VerticalRange struct {
	Min int
	Max int
}

func (r VerticalRange) Contains(y int) bool {
	return y >= r.Min && y <= r.Max
}

func (r VerticalRange) Valid() bool {
	return r.Min <= r.Max
}

// Grid converts between world space and chunk space for a fixed chunk edge
// length.
type Grid struct {
	ChunkSize float64
}

// ChunkAt returns the chunk containing world position p.
func (g Grid) ChunkAt(p mgl64.Vec3) ChunkCoord {
	return ChunkCoord{
		X: int(math.Floor(p[0] / g.ChunkSize)),
		Y: int(math.Floor(p[1] / g.ChunkSize)),
		Z: int(math.Floor(p[2] / g.ChunkSize)),
	}
}

// Origin returns the minimum corner of coord in world space.
func (g Grid) Origin(coord ChunkCoord) mgl64.Vec3 {
	return mgl64.Vec3{float64(coord.X), float64(coord.Y), float64(coord.Z)}.Mul(g.ChunkSize)
}

// HorizontalDistance is the XZ distance from p to the chunk's footprint, zero
// when p is above or below the chunk.
func (g Grid) HorizontalDistance(coord ChunkCoord, p mgl64.Vec3) float64 {
	o := g.Origin(coord)
	dx := axisGap(p[0], o[0], o[0]+g.ChunkSize)
	dz := axisGap(p[2], o[2], o[2]+g.ChunkSize)
	return math.Hypot(dx, dz)
}

func axisGap(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return lo - v
	case v > hi:
		return v - hi
	default:
		return 0
	}
}
