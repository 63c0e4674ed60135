package world

import (
	"fmt"
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"

	"voxelterrain/internal/biome"
	"voxelterrain/internal/mesher"
)

type (
	MeshID     uint64
	MaterialID uint64
	ColliderID uint64
)

// Backend creates and releases the engine objects a chunk owns. All calls
// come from the scheduler's goroutine.
type Backend interface {
	CreateMesh(coord ChunkCoord, payload *mesher.Payload) (MeshID, error)
	DestroyMesh(id MeshID)
	CreateMaterial(coord ChunkCoord, palette biome.Palette) (MaterialID, error)
	DestroyMaterial(id MaterialID)
	AttachCollider(coord ChunkCoord, mesh MeshID) (ColliderID, error)
	DetachCollider(id ColliderID)
}

// MaterialParams is what a chunk material receives from its palette.
type MaterialParams struct {
	Biomes         [4]string
	TextureIndices [4]int
	Sites          [2]mgl64.Vec2
	BlendWidth     float64
}

// Hit is the result of a downward ray cast against collider surfaces.
type Hit struct {
	Coord  ChunkCoord
	Point  mgl64.Vec3
	Normal mgl64.Vec3
}

type meshRecord struct {
	coord   ChunkCoord
	payload *mesher.Payload
	min     mgl32.Vec3
	max     mgl32.Vec3
}

type colliderRecord struct {
	coord ChunkCoord
	mesh  *meshRecord
}

// MemoryBackend keeps engine objects in process. It also answers downward
// ray casts against attached colliders for the map renderer.
type MemoryBackend struct {
	mu        sync.RWMutex
	next      uint64
	meshes    map[MeshID]*meshRecord
	materials map[MaterialID]MaterialParams
	colliders map[ColliderID]*colliderRecord
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		meshes:    make(map[MeshID]*meshRecord),
		materials: make(map[MaterialID]MaterialParams),
		colliders: make(map[ColliderID]*colliderRecord),
	}
}

func (b *MemoryBackend) CreateMesh(coord ChunkCoord, payload *mesher.Payload) (MeshID, error) {
	if payload.Empty() {
		return 0, fmt.Errorf("mesh for chunk %v: empty payload", coord)
	}
	if len(payload.Triangles)%3 != 0 {
		return 0, fmt.Errorf("mesh for chunk %v: index count %d is not a multiple of 3", coord, len(payload.Triangles))
	}
	min, max, _ := payload.Bounds()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := MeshID(b.next)
	b.meshes[id] = &meshRecord{coord: coord, payload: payload, min: min, max: max}
	return id, nil
}

func (b *MemoryBackend) DestroyMesh(id MeshID) {
	b.mu.Lock()
	delete(b.meshes, id)
	b.mu.Unlock()
}

func (b *MemoryBackend) CreateMaterial(coord ChunkCoord, palette biome.Palette) (MaterialID, error) {
	if palette.Slots[biome.SlotPrimary] == nil {
		return 0, fmt.Errorf("material for chunk %v: palette has no primary biome", coord)
	}
	var params MaterialParams
	for i, d := range palette.Slots {
		params.TextureIndices[i] = -1
		if d != nil {
			params.Biomes[i] = d.Name
			params.TextureIndices[i] = d.TextureIndex
		}
	}
	params.Sites = palette.Sites
	params.BlendWidth = palette.BlendWidth

	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := MaterialID(b.next)
	b.materials[id] = params
	return id, nil
}

func (b *MemoryBackend) DestroyMaterial(id MaterialID) {
	b.mu.Lock()
	delete(b.materials, id)
	b.mu.Unlock()
}

func (b *MemoryBackend) AttachCollider(coord ChunkCoord, mesh MeshID) (ColliderID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.meshes[mesh]
	if !ok {
		return 0, fmt.Errorf("collider for chunk %v: unknown mesh %d", coord, mesh)
	}
	b.next++
	id := ColliderID(b.next)
	b.colliders[id] = &colliderRecord{coord: coord, mesh: rec}
	return id, nil
}

func (b *MemoryBackend) DetachCollider(id ColliderID) {
	b.mu.Lock()
	delete(b.colliders, id)
	b.mu.Unlock()
}

func (b *MemoryBackend) Material(id MaterialID) (MaterialParams, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.materials[id]
	return p, ok
}

// Counts returns the number of live meshes, materials and colliders.
func (b *MemoryBackend) Counts() (meshes, materials, colliders int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.meshes), len(b.materials), len(b.colliders)
}

// RayCastDown casts a ray from (x, top, z) straight down to bottom and
// returns the first collider surface hit.
func (b *MemoryBackend) RayCastDown(x, z, top, bottom float64) (Hit, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	origin := mgl32.Vec3{float32(x), float32(top), float32(z)}
	dir := mgl32.Vec3{0, -1, 0}
	maxT := float32(top - bottom)
	best := Hit{}
	bestT := float32(math.Inf(1))
	found := false

	for _, col := range b.colliders {
		rec := col.mesh
		if origin[0] < rec.min[0] || origin[0] > rec.max[0] || origin[2] < rec.min[2] || origin[2] > rec.max[2] {
			continue
		}
		p := rec.payload
		for i := 0; i+2 < len(p.Triangles); i += 3 {
			a, bb, c := p.Vertices[p.Triangles[i]], p.Vertices[p.Triangles[i+1]], p.Vertices[p.Triangles[i+2]]
			t, ok := intersect(origin, dir, a, bb, c)
			if !ok || t > maxT || t >= bestT {
				continue
			}
			bestT = t
			found = true
			n := bb.Sub(a).Cross(c.Sub(a))
			if n.Len() > 0 {
				n = n.Normalize()
			}
			if n[1] < 0 {
				n = n.Mul(-1)
			}
			hit := origin.Add(dir.Mul(t))
			best = Hit{
				Coord:  col.coord,
				Point:  mgl64.Vec3{float64(hit[0]), float64(hit[1]), float64(hit[2])},
				Normal: mgl64.Vec3{float64(n[0]), float64(n[1]), float64(n[2])},
			}
		}
	}
	return best, found
}

// intersect is the Moller-Trumbore ray/triangle test, double sided.
func intersect(origin, dir, a, b, c mgl32.Vec3) (float32, bool) {
	const eps = 1e-7
	e1 := b.Sub(a)
	e2 := c.Sub(a)
	h := dir.Cross(e2)
	det := e1.Dot(h)
	if det > -eps && det < eps {
		return 0, false
	}
	inv := 1 / det
	s := origin.Sub(a)
	u := inv * s.Dot(h)
	if u < 0 || u > 1 {
		return 0, false
	}
	q := s.Cross(e1)
	v := inv * dir.Dot(q)
	if v < 0 || u+v > 1 {
		return 0, false
	}
	t := inv * e2.Dot(q)
	if t < 0 {
		return 0, false
	}
	return t, true
}
