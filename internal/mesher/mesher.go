// Package mesher extracts iso surfaces from sampled density grids using
// marching tetrahedra.
package mesher

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"
)

// Field is a cubic lattice of Points()^3 density samples with normals.
type Field interface {
	Points() int
	Density(i, j, k int) float64
	Normal(i, j, k int) mgl32.Vec3
}

// Payload is the mesh produced for one chunk. Colors and BiomeIndices are
// per-vertex channels filled by the caller.
type Payload struct {
	Vertices     []mgl32.Vec3
	Normals      []mgl32.Vec3
	Triangles    []int32
	Colors       []mgl32.Vec3
	BiomeIndices []mgl32.Vec2
}

func (p *Payload) Empty() bool {
	return p == nil || len(p.Triangles) == 0
}

func (p *Payload) TriangleCount() int {
	if p == nil {
		return 0
	}
	return len(p.Triangles) / 3
}

func (p *Payload) VertexCount() int {
	if p == nil {
		return 0
	}
	return len(p.Vertices)
}

// Bounds returns the axis aligned bounds of the vertices. ok is false for an
// empty payload.
func (p *Payload) Bounds() (min, max mgl32.Vec3, ok bool) {
	if p == nil || len(p.Vertices) == 0 {
		return min, max, false
	}
	min, max = p.Vertices[0], p.Vertices[0]
	for _, v := range p.Vertices[1:] {
		for a := 0; a < 3; a++ {
			if v[a] < min[a] {
				min[a] = v[a]
			}
			if v[a] > max[a] {
				max[a] = v[a]
			}
		}
	}
	return min, max, true
}

// Scratch holds build lists reused between Generate calls. A Scratch must not
// be shared by concurrent calls.
type Scratch struct {
	vertices  []mgl32.Vec3
	normals   []mgl32.Vec3
	triangles []int32
}

func NewScratch() *Scratch { return &Scratch{} }

func (s *Scratch) reset() {
	s.vertices = s.vertices[:0]
	s.normals = s.normals[:0]
	s.triangles = s.triangles[:0]
}

// cubeCorners are unit cube corner offsets.
var cubeCorners = [8][3]int{
	{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
}

// cubeTets splits the cube around the 0-6 diagonal. Each cube face is cut
// along the diagonal through corner 0 or 6, so shared faces of neighbouring
// cells are split identically.
var cubeTets = [6][4]int{
	{0, 1, 2, 6},
	{0, 2, 3, 6},
	{0, 3, 7, 6},
	{0, 7, 4, 6},
	{0, 4, 5, 6},
	{0, 5, 1, 6},
}

var tetEdges = [6][2]int{{0, 1}, {0, 2}, {0, 3}, {1, 2}, {1, 3}, {2, 3}}

var up = mgl32.Vec3{0, 1, 0}

// Generate triangulates the iso surface of f. Vertex positions are
// origin + index*cellSize. Inside means density above iso.
func Generate(f Field, iso float64, cellSize float32, origin mgl32.Vec3, scratch *Scratch) *Payload {
	if scratch == nil {
		scratch = NewScratch()
	}
	scratch.reset()

	n := f.Points()
	var (
		pos  [8]mgl32.Vec3
		dens [8]float64
		nrm  [8]mgl32.Vec3
	)
	for k := 0; k < n-1; k++ {
		for j := 0; j < n-1; j++ {
			for i := 0; i < n-1; i++ {
				var in, out bool
				for c, off := range cubeCorners {
					ci, cj, ck := i+off[0], j+off[1], k+off[2]
					dens[c] = f.Density(ci, cj, ck)
					if dens[c] > iso {
						in = true
					} else {
						out = true
					}
				}
				if !in || !out {
					continue
				}
				for c, off := range cubeCorners {
					ci, cj, ck := i+off[0], j+off[1], k+off[2]
					pos[c] = origin.Add(mgl32.Vec3{float32(ci), float32(cj), float32(ck)}.Mul(cellSize))
					nrm[c] = f.Normal(ci, cj, ck)
				}
				for _, tet := range cubeTets {
					scratch.tetrahedron(
						[4]mgl32.Vec3{pos[tet[0]], pos[tet[1]], pos[tet[2]], pos[tet[3]]},
						[4]float64{dens[tet[0]], dens[tet[1]], dens[tet[2]], dens[tet[3]]},
						[4]mgl32.Vec3{nrm[tet[0]], nrm[tet[1]], nrm[tet[2]], nrm[tet[3]]},
						iso,
					)
				}
			}
		}
	}

	return &Payload{
		Vertices:  append([]mgl32.Vec3(nil), scratch.vertices...),
		Normals:   append([]mgl32.Vec3(nil), scratch.normals...),
		Triangles: append([]int32(nil), scratch.triangles...),
	}
}

// tetrahedron emits the cross section of one tetrahedron and returns the
// number of triangles added.
func (s *Scratch) tetrahedron(pos [4]mgl32.Vec3, dens [4]float64, nrm [4]mgl32.Vec3, iso float64) int {
	var inside [4]bool
	count := 0
	for c := range dens {
		if dens[c] > iso {
			inside[c] = true
			count++
		}
	}
	if count == 0 || count == 4 {
		return 0
	}

	var (
		pts [4]mgl32.Vec3
		nms [4]mgl32.Vec3
		m   int
	)
	for _, e := range tetEdges {
		a, b := e[0], e[1]
		if inside[a] == inside[b] {
			continue
		}
		if !inside[a] {
			a, b = b, a
		}
		t := float32(0.5)
		if delta := dens[b] - dens[a]; math.Abs(delta) > 1e-12 {
			t = float32(clamp01((iso - dens[a]) / delta))
		}
		pts[m] = pos[a].Add(pos[b].Sub(pos[a]).Mul(t))
		nms[m] = normalizeOrUp(nrm[a].Add(nrm[b].Sub(nrm[a]).Mul(t)))
		m++
	}

	order := sortAround(pts[:m], nms[:m])
	base := int32(len(s.vertices))
	for _, idx := range order {
		s.vertices = append(s.vertices, pts[idx])
		s.normals = append(s.normals, nms[idx])
	}

	s.triangle(base, base+1, base+2)
	if m == 4 {
		s.triangle(base, base+2, base+3)
		return 2
	}
	return 1
}

// triangle appends a, b, c, flipping the winding when the face normal opposes
// the averaged vertex normal.
func (s *Scratch) triangle(a, b, c int32) {
	pa, pb, pc := s.vertices[a], s.vertices[b], s.vertices[c]
	face := pb.Sub(pa).Cross(pc.Sub(pa))
	avg := s.normals[a].Add(s.normals[b]).Add(s.normals[c])
	if face.Dot(avg) < 0 {
		b, c = c, b
	}
	s.triangles = append(s.triangles, a, b, c)
}

// sortAround orders the points of a planar polygon by angle around their
// centroid and returns the permutation.
func sortAround(pts, nms []mgl32.Vec3) []int {
	order := make([]int, len(pts))
	for i := range order {
		order[i] = i
	}

	var centroid, avg mgl32.Vec3
	for i := range pts {
		centroid = centroid.Add(pts[i])
		avg = avg.Add(nms[i])
	}
	centroid = centroid.Mul(1 / float32(len(pts)))

	plane := pts[1].Sub(pts[0]).Cross(pts[2].Sub(pts[0]))
	if len(pts) == 4 && plane.Len() < 1e-12 {
		plane = pts[2].Sub(pts[0]).Cross(pts[3].Sub(pts[0]))
	}
	if plane.Len() < 1e-12 {
		plane = avg
	}
	if plane.Len() < 1e-12 {
		return order
	}
	plane = plane.Normalize()

	u := mgl32.Vec3{}
	for i := range pts {
		d := pts[i].Sub(centroid)
		d = d.Sub(plane.Mul(d.Dot(plane)))
		if d.Len() > 1e-12 {
			u = d.Normalize()
			break
		}
	}
	if u.Len() == 0 {
		return order
	}
	v := plane.Cross(u)

	angles := make([]float64, len(pts))
	for i := range pts {
		d := pts[i].Sub(centroid)
		angles[i] = math.Atan2(float64(d.Dot(v)), float64(d.Dot(u)))
	}
	sort.Slice(order, func(a, b int) bool { return angles[order[a]] < angles[order[b]] })
	return order
}

func normalizeOrUp(v mgl32.Vec3) mgl32.Vec3 {
	l := v.Len()
	if l < 1e-12 || math.IsNaN(float64(l)) {
		return up
	}
	return v.Mul(1 / l)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
