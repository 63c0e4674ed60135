package world

import (
	"fmt"

	"voxelterrain/internal/biome"
	"voxelterrain/internal/mesher"
)

type ChunkState int

const (
	StatePending ChunkState = iota // generation requested, no result yet
	StateEmpty                     // no surface, or generation failed
	StateMeshed
)

func (s ChunkState) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateMeshed:
		return "meshed"
	default:
		return "pending"
	}
}

// Chunk owns the mesh, material and collider of one coordinate. Only the
// scheduler goroutine touches it.
type Chunk struct {
	Coord ChunkCoord

	stamp     uint64
	state     ChunkState
	palette   biome.Palette
	triangles int
	err       error
	slot      int

	mesh        MeshID
	material    MaterialID
	collider    ColliderID
	hasMesh     bool
	hasMaterial bool
	hasCollider bool
}

func (c *Chunk) State() ChunkState      { return c.state }
func (c *Chunk) Stamp() uint64          { return c.stamp }
func (c *Chunk) Palette() biome.Palette { return c.palette }
func (c *Chunk) Triangles() int         { return c.triangles }
func (c *Chunk) HasCollider() bool      { return c.hasCollider }

// Err is the last generation error, nil after a successful result.
func (c *Chunk) Err() error { return c.err }

// apply swaps in a generation result. The previous mesh and material are
// released only after the replacements exist.
func (c *Chunk) apply(b Backend, payload *mesher.Payload) error {
	c.err = nil
	if payload.Empty() {
		c.release(b)
		c.state = StateEmpty
		c.triangles = 0
		return nil
	}

	mat, err := b.CreateMaterial(c.Coord, c.palette)
	if err != nil {
		return fmt.Errorf("chunk %v: %w", c.Coord, err)
	}
	mesh, err := b.CreateMesh(c.Coord, payload)
	if err != nil {
		b.DestroyMaterial(mat)
		return fmt.Errorf("chunk %v: %w", c.Coord, err)
	}

	hadCollider := c.hasCollider
	c.release(b)
	c.mesh, c.hasMesh = mesh, true
	c.material, c.hasMaterial = mat, true
	c.state = StateMeshed
	c.triangles = payload.TriangleCount()
	if hadCollider {
		return c.setCollider(b, true)
	}
	return nil
}

// setCollider attaches or detaches the physics collider. Only meshed chunks
// can carry one.
func (c *Chunk) setCollider(b Backend, want bool) error {
	switch {
	case want && !c.hasCollider && c.hasMesh:
		id, err := b.AttachCollider(c.Coord, c.mesh)
		if err != nil {
			return fmt.Errorf("chunk %v: %w", c.Coord, err)
		}
		c.collider, c.hasCollider = id, true
	case !want && c.hasCollider:
		b.DetachCollider(c.collider)
		c.collider, c.hasCollider = 0, false
	}
	return nil
}

func (c *Chunk) release(b Backend) {
	if c.hasCollider {
		b.DetachCollider(c.collider)
		c.hasCollider = false
	}
	if c.hasMesh {
		b.DestroyMesh(c.mesh)
		c.hasMesh = false
	}
	if c.hasMaterial {
		b.DestroyMaterial(c.material)
		c.hasMaterial = false
	}
}
