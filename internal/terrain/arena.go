package terrain

import (
	"context"

	"voxelterrain/internal/density"
	"voxelterrain/internal/mesher"
)

// Arena is per-worker scratch: one density grid and one mesh build buffer,
// reused across jobs.
type Arena struct {
	ID      int
	Grid    *density.Grid
	Scratch *mesher.Scratch
}

// ArenaPool hands out a fixed set of arenas. Acquire blocks while all of them
// are in use.
type ArenaPool struct {
	arenas chan *Arena
	size   int
}

func NewArenaPool(size int) *ArenaPool {
	if size < 1 {
		size = 1
	}
	p := &ArenaPool{arenas: make(chan *Arena, size), size: size}
	for i := 0; i < size; i++ {
		p.arenas <- &Arena{ID: i, Grid: density.NewGrid(), Scratch: mesher.NewScratch()}
	}
	return p
}

func (p *ArenaPool) Acquire(ctx context.Context) (*Arena, error) {
	select {
	case a := <-p.arenas:
		return a, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *ArenaPool) Release(a *Arena) {
	if a == nil {
		return
	}
	p.arenas <- a
}

func (p *ArenaPool) Size() int { return p.size }

// Available reports arenas not currently acquired.
func (p *ArenaPool) Available() int { return len(p.arenas) }
