// Package noise provides seeded gradient noise and fractal sums over it.
//
// Every function here is pure given its inputs. Permutation tables are cached
// per seed and shared read-only between goroutines.
package noise

import (
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

// Table is a permutation of 0..255 repeated twice so lattice lookups never
// need to wrap.
type Table [512]int

var (
	tablesMu sync.RWMutex
	tables   = make(map[int32]*Table)
)

// Permutation returns the permutation table for seed. Tables are built once
// and shared; callers must not modify them.
func Permutation(seed int32) *Table {
	tablesMu.RLock()
	t, ok := tables[seed]
	tablesMu.RUnlock()
	if ok {
		return t
	}

	tablesMu.Lock()
	defer tablesMu.Unlock()
	if t, ok := tables[seed]; ok {
		return t
	}
	t = buildTable(seed)
	tables[seed] = t
	return t
}

func buildTable(seed int32) *Table {
	var p [256]int
	for i := range p {
		p[i] = i
	}

	// Fisher-Yates driven by a 64-bit LCG.
	s := uint64(uint32(seed))
	for i := 255; i > 0; i-- {
		s = s*6364136223846793005 + 1442695040888963407
		j := int((s >> 33) % uint64(i+1))
		p[i], p[j] = p[j], p[i]
	}

	t := new(Table)
	for i := range t {
		t[i] = p[i&255]
	}
	return t
}

// Perlin3D evaluates improved Perlin noise at p. The result is clamped to
// [-1, 1].
func Perlin3D(p mgl64.Vec3, t *Table) float64 {
	xf, yf, zf := math.Floor(p[0]), math.Floor(p[1]), math.Floor(p[2])
	xi, yi, zi := int(xf)&255, int(yf)&255, int(zf)&255
	x, y, z := p[0]-xf, p[1]-yf, p[2]-zf
	u, v, w := fade(x), fade(y), fade(z)

	a := t[xi] + yi
	aa := t[a] + zi
	ab := t[a+1] + zi
	b := t[xi+1] + yi
	ba := t[b] + zi
	bb := t[b+1] + zi

	n := lerp(w,
		lerp(v,
			lerp(u, grad3(t[aa], x, y, z), grad3(t[ba], x-1, y, z)),
			lerp(u, grad3(t[ab], x, y-1, z), grad3(t[bb], x-1, y-1, z))),
		lerp(v,
			lerp(u, grad3(t[aa+1], x, y, z-1), grad3(t[ba+1], x-1, y, z-1)),
			lerp(u, grad3(t[ab+1], x, y-1, z-1), grad3(t[bb+1], x-1, y-1, z-1))))
	return clamp(n, -1, 1)
}

// Perlin2D evaluates 2D gradient noise at p, clamped to [-1, 1].
func Perlin2D(p mgl64.Vec2, t *Table) float64 {
	xf, yf := math.Floor(p[0]), math.Floor(p[1])
	xi, yi := int(xf)&255, int(yf)&255
	x, y := p[0]-xf, p[1]-yf
	u, v := fade(x), fade(y)

	aa := t[t[xi]+yi]
	ab := t[t[xi]+yi+1]
	ba := t[t[xi+1]+yi]
	bb := t[t[xi+1]+yi+1]

	n := lerp(v,
		lerp(u, grad2(aa, x, y), grad2(ba, x-1, y)),
		lerp(u, grad2(ab, x, y-1), grad2(bb, x-1, y-1)))
	return clamp(n*1.4, -1, 1)
}

func fade(t float64) float64 {
	return t * t * t * (t*(t*6-15) + 10)
}

func lerp(t, a, b float64) float64 {
	return a + t*(b-a)
}

func grad3(hash int, x, y, z float64) float64 {
	h := hash & 15
	u := y
	if h < 8 {
		u = x
	}
	var v float64
	switch {
	case h < 4:
		v = y
	case h == 12 || h == 14:
		v = x
	default:
		v = z
	}
	if h&1 != 0 {
		u = -u
	}
	if h&2 != 0 {
		v = -v
	}
	return u + v
}

func grad2(hash int, x, y float64) float64 {
	switch hash & 7 {
	case 0:
		return x + y
	case 1:
		return -x + y
	case 2:
		return x - y
	case 3:
		return -x - y
	case 4:
		return x
	case 5:
		return -x
	case 6:
		return y
	default:
		return -y
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
