package world

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	"voxelterrain/internal/biome"
	"voxelterrain/internal/config"
	"voxelterrain/internal/dispatch"
	"voxelterrain/internal/mesher"
)

// MeshGenerator builds chunk meshes. Generate runs on worker goroutines,
// ResolvePalette on the scheduler goroutine.
type MeshGenerator interface {
	ChunkWorldSize() float64
	ResolvePalette(coord ChunkCoord) biome.Palette
	Generate(ctx context.Context, coord ChunkCoord, palette biome.Palette) (*mesher.Payload, error)
}

// Dispatcher runs generation jobs off the scheduler goroutine and returns
// their completions through Drain.
type Dispatcher interface {
	Submit(job dispatch.Job[*mesher.Payload], done func(*mesher.Payload, error)) (dispatch.Ticket, error)
	Drain(max int) int
}

type WorldState int

const (
	Steady WorldState = iota
	Loading
)

func (s WorldState) String() string {
	if s == Loading {
		return "loading"
	}
	return "steady"
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	State     string `json:"state"`
	Live      int    `json:"live"`
	Needed    int    `json:"needed"`
	Queued    int    `json:"queued"`
	Barrier   int    `json:"barrier"`
	Meshed    int    `json:"meshed"`
	Empty     int    `json:"empty"`
	Pending   int    `json:"pending"`
	Colliders int    `json:"colliders"`
	Created   int64  `json:"created"`
	Destroyed int64  `json:"destroyed"`
	Discarded int64  `json:"discarded"`
	Failed    int64  `json:"failed"`
}

// Scheduler streams chunks around a viewer. It is not safe for concurrent
// use: every method must be called from the owner goroutine, which is also
// the goroutine that drains the dispatcher.
type Scheduler struct {
	cfg     config.StreamingConfig
	bounds  VerticalRange
	grid    Grid
	gen     MeshGenerator
	disp    Dispatcher
	backend Backend
	logger  *log.Logger

	chunks     map[ChunkCoord]*Chunk
	order      []ChunkCoord
	needed     map[ChunkCoord]struct{}
	queue      []ChunkCoord
	barrier    map[ChunkCoord]struct{}
	state      WorldState
	nextStamp  uint64
	viewer     mgl64.Vec3
	viewerCell ChunkCoord
	started    bool
	warned     bool
	cursor     int

	created, destroyed, discarded, failed int64
}

func NewScheduler(cfg config.StreamingConfig, bounds VerticalRange, gen MeshGenerator, disp Dispatcher, backend Backend, logger *log.Logger) (*Scheduler, error) {
	if gen == nil || disp == nil || backend == nil {
		return nil, fmt.Errorf("scheduler: generator, dispatcher and backend are required")
	}
	if !bounds.Valid() {
		return nil, fmt.Errorf("scheduler: invalid vertical bounds %d..%d", bounds.Min, bounds.Max)
	}
	size := gen.ChunkWorldSize()
	if size <= 0 {
		return nil, fmt.Errorf("scheduler: chunk world size must be positive, got %v", size)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		cfg:     cfg,
		bounds:  bounds,
		grid:    Grid{ChunkSize: size},
		gen:     gen,
		disp:    disp,
		backend: backend,
		logger:  logger,
		chunks:  make(map[ChunkCoord]*Chunk),
		needed:  make(map[ChunkCoord]struct{}),
		barrier: make(map[ChunkCoord]struct{}),
	}, nil
}

// Start computes the initial needed set. With waitForInitial the world stays
// Loading until every chunk in that set has received its first result.
func (s *Scheduler) Start(viewer mgl64.Vec3) {
	s.started = true
	s.computeNeeded(viewer)
	if s.cfg.WaitForInitial && len(s.needed) > 0 {
		s.state = Loading
		for c := range s.needed {
			s.barrier[c] = struct{}{}
		}
		s.logger.Printf("world loading: waiting for %d chunks", len(s.barrier))
	} else {
		s.state = Steady
	}
	s.UpdateVisibleChunks(viewer, true)
}

// UpdateVisibleChunks recomputes the needed set for the viewer, creates up to
// the per-tick budget of missing chunks (nearest first when enabled) and
// sweeps chunks that are no longer needed.
func (s *Scheduler) UpdateVisibleChunks(viewer mgl64.Vec3, force bool) {
	prevCell := s.viewerCell
	s.computeNeeded(viewer)
	moved := prevCell != s.viewerCell

	s.queue = s.queue[:0]
	for c := range s.needed {
		if _, ok := s.chunks[c]; !ok {
			s.queue = append(s.queue, c)
		}
	}
	s.sortQueue()

	budget := s.cfg.CreateBudgetPlay
	if s.cfg.Preview {
		budget = s.cfg.CreateBudgetPreview
	}
	if budget <= 0 || budget > len(s.queue) {
		budget = len(s.queue)
	}
	for _, c := range s.queue[:budget] {
		s.create(c)
	}
	s.queue = append(s.queue[:0], s.queue[budget:]...)

	if force || moved || len(s.chunks) > len(s.needed) {
		s.sweep()
	}
	s.pruneBarrier()
}

// pruneBarrier drops barrier coordinates that left the needed set before a
// chunk was ever created for them. Nothing would report for those.
func (s *Scheduler) pruneBarrier() {
	if s.state != Loading {
		return
	}
	for c := range s.barrier {
		if _, needed := s.needed[c]; needed {
			continue
		}
		if _, live := s.chunks[c]; live {
			continue
		}
		delete(s.barrier, c)
	}
	s.checkReady()
}

// ProcessResults drains at most max generation completions.
func (s *Scheduler) ProcessResults(max int) int {
	return s.disp.Drain(max)
}

// UpdateColliders applies the collider distance policy: the viewer's
// neighbourhood first, then a bounded round robin over the remaining chunks.
func (s *Scheduler) UpdateColliders(viewer mgl64.Vec3) {
	s.viewer = viewer
	vc := s.grid.ChunkAt(viewer)
	checked := make(map[ChunkCoord]struct{}, 18)
	for dy := -1; dy <= 0; dy++ {
		for dz := -1; dz <= 1; dz++ {
			for dx := -1; dx <= 1; dx++ {
				c := vc.Add(dx, dy, dz)
				if ch, ok := s.chunks[c]; ok {
					s.checkCollider(ch)
					checked[c] = struct{}{}
				}
			}
		}
	}

	checks := s.cfg.ColliderChecks
	if checks <= 0 || checks > len(s.order) {
		checks = len(s.order)
	}
	for i := 0; i < checks && len(s.order) > 0; i++ {
		if s.cursor >= len(s.order) {
			s.cursor = 0
		}
		c := s.order[s.cursor]
		s.cursor++
		if _, done := checked[c]; done {
			continue
		}
		s.checkCollider(s.chunks[c])
	}
}

// Rebuild re-issues generation for a live chunk. Results from earlier
// requests for it are discarded when they arrive.
func (s *Scheduler) Rebuild(coord ChunkCoord) error {
	ch, ok := s.chunks[coord]
	if !ok {
		return fmt.Errorf("rebuild %v: chunk not live", coord)
	}
	s.request(ch)
	return nil
}

func (s *Scheduler) State() WorldState     { return s.state }
func (s *Scheduler) Ready() bool           { return s.started && s.state == Steady }
func (s *Scheduler) LiveCount() int        { return len(s.chunks) }
func (s *Scheduler) NeededCount() int      { return len(s.needed) }
func (s *Scheduler) QueuedCount() int      { return len(s.queue) }
func (s *Scheduler) Grid() Grid            { return s.grid }
func (s *Scheduler) Bounds() VerticalRange { return s.bounds }

func (s *Scheduler) Chunk(coord ChunkCoord) (*Chunk, bool) {
	ch, ok := s.chunks[coord]
	return ch, ok
}

// Needed reports whether coord is in the current needed set.
func (s *Scheduler) Needed(coord ChunkCoord) bool {
	_, ok := s.needed[coord]
	return ok
}

// Queued returns a copy of the creation queue in priority order.
func (s *Scheduler) Queued() []ChunkCoord {
	return append([]ChunkCoord(nil), s.queue...)
}

func (s *Scheduler) Stats() Stats {
	st := Stats{
		State:     s.state.String(),
		Live:      len(s.chunks),
		Needed:    len(s.needed),
		Queued:    len(s.queue),
		Barrier:   len(s.barrier),
		Created:   s.created,
		Destroyed: s.destroyed,
		Discarded: s.discarded,
		Failed:    s.failed,
	}
	for _, ch := range s.chunks {
		switch ch.state {
		case StateMeshed:
			st.Meshed++
		case StateEmpty:
			st.Empty++
		default:
			st.Pending++
		}
		if ch.hasCollider {
			st.Colliders++
		}
	}
	return st
}

// Close releases every chunk's engine objects. In-flight results are
// discarded when drained afterwards.
func (s *Scheduler) Close() {
	for c, ch := range s.chunks {
		ch.release(s.backend)
		delete(s.chunks, c)
	}
	s.order = s.order[:0]
	s.queue = s.queue[:0]
	clear(s.needed)
	clear(s.barrier)
}

// VerticalWindow returns the chunk Y range streamed around viewerY.
func (s *Scheduler) VerticalWindow(viewerY int) VerticalRange {
	if s.cfg.VerticalMode == "full" {
		return s.bounds
	}
	band := s.cfg.VerticalBand
	if band < 0 {
		band = 0
	}
	w := VerticalRange{Min: max(viewerY-band, s.bounds.Min), Max: min(viewerY+band, s.bounds.Max)}
	if !w.Valid() {
		if !s.warned {
			s.logger.Printf("vertical window %d..%d inverted for viewer chunk y=%d; using full range %d..%d",
				w.Min, w.Max, viewerY, s.bounds.Min, s.bounds.Max)
			s.warned = true
		}
		return s.bounds
	}
	s.warned = false
	return w
}

func (s *Scheduler) computeNeeded(viewer mgl64.Vec3) {
	s.viewer = viewer
	vc := s.grid.ChunkAt(viewer)
	s.viewerCell = vc
	window := s.VerticalWindow(vc.Y)

	clear(s.needed)
	r := s.cfg.ViewRadius
	for dz := -r; dz <= r; dz++ {
		for dx := -r; dx <= r; dx++ {
			if s.cfg.Circular && dx*dx+dz*dz > r*r {
				continue
			}
			for y := window.Min; y <= window.Max; y++ {
				s.needed[ChunkCoord{X: vc.X + dx, Y: y, Z: vc.Z + dz}] = struct{}{}
			}
		}
	}
}

func (s *Scheduler) sortQueue() {
	vc := s.viewerCell
	weight := s.cfg.VerticalWeight
	if weight <= 0 {
		weight = 1
	}
	key := func(c ChunkCoord) float64 {
		dx := float64(c.X - vc.X)
		dy := float64(c.Y-vc.Y) * weight
		dz := float64(c.Z - vc.Z)
		return dx*dx + dy*dy + dz*dz
	}
	less := func(a, b ChunkCoord) bool {
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		return a.X < b.X
	}
	if !s.cfg.NearFirst {
		sort.Slice(s.queue, func(i, j int) bool { return less(s.queue[i], s.queue[j]) })
		return
	}
	sort.Slice(s.queue, func(i, j int) bool {
		ki, kj := key(s.queue[i]), key(s.queue[j])
		if ki != kj {
			return ki < kj
		}
		return less(s.queue[i], s.queue[j])
	})
}

func (s *Scheduler) create(coord ChunkCoord) {
	ch := &Chunk{Coord: coord, slot: len(s.order)}
	s.chunks[coord] = ch
	s.order = append(s.order, coord)
	s.created++
	s.request(ch)
}

func (s *Scheduler) request(ch *Chunk) {
	s.nextStamp++
	stamp := s.nextStamp
	ch.stamp = stamp
	ch.palette = s.gen.ResolvePalette(ch.Coord)
	if ch.state != StateMeshed {
		ch.state = StatePending
	}

	coord, palette, gen := ch.Coord, ch.palette, s.gen
	_, err := s.disp.Submit(
		func(ctx context.Context) (*mesher.Payload, error) {
			return gen.Generate(ctx, coord, palette)
		},
		func(p *mesher.Payload, err error) {
			s.handleResult(coord, stamp, p, err)
		},
	)
	if err != nil {
		s.handleResult(coord, stamp, nil, fmt.Errorf("submit: %w", err))
	}
}

func (s *Scheduler) handleResult(coord ChunkCoord, stamp uint64, payload *mesher.Payload, err error) {
	ch, ok := s.chunks[coord]
	if !ok || ch.stamp != stamp {
		s.discarded++
		return
	}

	if err == nil {
		err = ch.apply(s.backend, payload)
	}
	if err != nil {
		s.failed++
		ch.err = err
		if ch.state == StatePending {
			ch.state = StateEmpty
		}
		s.logger.Printf("chunk %v generation failed: %v", coord, err)
	} else if ch.state == StateMeshed && !ch.hasCollider && s.withinColliderRadius(ch) {
		if err := ch.setCollider(s.backend, true); err != nil {
			s.logger.Printf("chunk %v collider: %v", coord, err)
		}
	}

	s.releaseBarrier(coord)
}

func (s *Scheduler) releaseBarrier(coord ChunkCoord) {
	if s.state != Loading {
		return
	}
	delete(s.barrier, coord)
	s.checkReady()
}

func (s *Scheduler) checkReady() {
	if s.state == Loading && len(s.barrier) == 0 {
		s.state = Steady
		s.logger.Printf("world ready: %d chunks live", len(s.chunks))
	}
}

func (s *Scheduler) sweep() {
	for c, ch := range s.chunks {
		if _, ok := s.needed[c]; ok {
			continue
		}
		s.destroy(ch)
	}
}

func (s *Scheduler) destroy(ch *Chunk) {
	ch.release(s.backend)
	delete(s.chunks, ch.Coord)

	last := len(s.order) - 1
	if ch.slot != last {
		moved := s.order[last]
		s.order[ch.slot] = moved
		s.chunks[moved].slot = ch.slot
	}
	s.order = s.order[:last]
	s.destroyed++
	s.releaseBarrier(ch.Coord)
}

func (s *Scheduler) withinColliderRadius(ch *Chunk) bool {
	return s.grid.HorizontalDistance(ch.Coord, s.viewer) <= s.cfg.ColliderRadius
}

func (s *Scheduler) checkCollider(ch *Chunk) {
	if ch == nil || ch.state != StateMeshed {
		return
	}
	want := s.withinColliderRadius(ch)
	if !want && s.state == Loading {
		return
	}
	if err := ch.setCollider(s.backend, want); err != nil {
		s.logger.Printf("chunk %v collider: %v", ch.Coord, err)
	}
}
