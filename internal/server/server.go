// Package server hosts the terrain streamer: a fixed-rate main loop that owns
// the scheduler, plus a small debug HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"voxelterrain/internal/biome"
	"voxelterrain/internal/config"
	"voxelterrain/internal/dispatch"
	"voxelterrain/internal/mesher"
	"voxelterrain/internal/terrain"
	"voxelterrain/internal/world"
	"voxelterrain/internal/worldmap"
)

// DispatchStats summarizes the worker pool.
type DispatchStats struct {
	Workers   int `json:"workers"`
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
}

// Snapshot is the state published by the main loop after every frame.
type Snapshot struct {
	ID        string        `json:"id"`
	Ready     bool          `json:"ready"`
	Degraded  string        `json:"degraded,omitempty"`
	Frames    uint64        `json:"frames"`
	Viewer    [3]float64    `json:"viewer"`
	World     world.Stats   `json:"world"`
	Generator terrain.Stats `json:"generator"`
	Dispatch  DispatchStats `json:"dispatch"`
}

type mapRequest struct {
	req   worldmap.Request
	reply chan mapResult
}

type mapResult struct {
	img *image.NRGBA
	err error
}

type Server struct {
	cfg    *config.Config
	logger *log.Logger

	gen     *terrain.ChunkGenerator
	disp    *dispatch.Dispatcher[*mesher.Payload]
	backend *world.MemoryBackend
	sched   *world.Scheduler
	field   *biome.Field

	// degraded is set when the terrain configuration could not be used.
	// The host keeps serving its debug API but generates nothing.
	degraded error

	viewer     viewer
	frames     uint64
	wasReady   bool
	mapOut     string
	mapQueue   chan mapRequest
	newTicker  tickerFactory
	now        timeSource
	httpSrv    *http.Server
	snapshotMu sync.RWMutex
	snapshot   Snapshot
}

// New validates cfg and wires the generator, worker pool and scheduler. A
// configuration the terrain cannot run with yields a degraded server rather
// than an error; only a nil config is rejected.
func New(cfg *config.Config, logger *log.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return NewDegraded(cfg, err, logger), nil
	}
	if logger == nil {
		logger = log.New(log.Writer(), "terrain ", log.LstdFlags|log.Lmicroseconds)
	}

	gen, err := terrain.NewChunkGenerator(cfg, logger)
	if err != nil {
		return NewDegraded(cfg, err, logger), nil
	}
	workers := dispatch.WorkerCount(cfg.Workers.Count, cfg.Workers.Headroom)
	disp := dispatch.New[*mesher.Payload](workers, logger)
	backend := world.NewMemoryBackend()
	sched, err := world.NewScheduler(cfg.Streaming, gen.VerticalBounds(), gen, disp, backend, logger)
	if err != nil {
		disp.Close(cfg.Streaming.ShutdownTimeout.Duration())
		return NewDegraded(cfg, err, logger), nil
	}

	s := newServer(cfg, logger)
	s.gen = gen
	s.disp = disp
	s.backend = backend
	s.sched = sched
	s.field = gen.Field()
	logger.Printf("terrain ready to stream: seed=%d chunk=%.1f workers=%d mode=%s",
		cfg.World.Seed, gen.ChunkWorldSize(), workers, gen.Evaluator().Settings().Mode)
	return s, nil
}

// NewDegraded returns a server that only answers the debug API and reports
// cause on its health endpoint.
func NewDegraded(cfg *config.Config, cause error, logger *log.Logger) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = log.New(log.Writer(), "terrain ", log.LstdFlags|log.Lmicroseconds)
	}
	s := newServer(cfg, logger)
	s.degraded = cause
	logger.Printf("terrain generation disabled: %v", cause)
	s.publish()
	return s
}

func newServer(cfg *config.Config, logger *log.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		viewer: viewer{
			position: mgl64.Vec3(cfg.Viewer.Start),
			velocity: mgl64.Vec3(cfg.Viewer.Velocity),
		},
		mapQueue:  make(chan mapRequest),
		newTicker: defaultTickerFactory(),
		now:       time.Now,
	}
}

// Degraded returns the reason generation is disabled, or nil.
func (s *Server) Degraded() error { return s.degraded }

// Run drives the main loop until ctx is cancelled. The scheduler, dispatcher
// completions and map rendering all run on this goroutine.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	if addr := s.cfg.Server.HTTPListen; addr != "" {
		s.httpSrv = &http.Server{Addr: addr, Handler: s.Handler()}
		go func() {
			s.logger.Printf("HTTP server listening on %s", addr)
			if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.httpSrv.Shutdown(shutdownCtx)
		}()
	}

	if s.degraded != nil {
		for {
			select {
			case <-ctx.Done():
				return nil
			case err := <-errCh:
				return err
			case mr := <-s.mapQueue:
				mr.reply <- mapResult{err: s.degraded}
			}
		}
	}

	defer s.shutdown()
	s.sched.Start(s.viewer.position)
	s.publish()

	tick := s.cfg.Server.TickRate.Duration()
	clock := newFrameClock(tick, s.now())
	frameC, stopFrame := s.newTicker(clock.tick)
	defer stopFrame()

	colliderInterval := s.cfg.Server.ColliderInterval.Duration()
	if colliderInterval <= 0 {
		colliderInterval = 100 * time.Millisecond
	}
	colliderC, stopCollider := s.newTicker(colliderInterval)
	defer stopCollider()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case now := <-frameC:
			s.frame(clock.advance(now))
		case <-colliderC:
			s.sched.UpdateColliders(s.viewer.position)
		case mr := <-s.mapQueue:
			img, err := s.renderMap(mr.req)
			mr.reply <- mapResult{img: img, err: err}
		}
	}
}

// frame advances the viewer, streams chunks and drains a bounded batch of
// generation results.
func (s *Server) frame(delta time.Duration) {
	timeScale := 1.0
	if !s.sched.Ready() {
		timeScale = 0
	}
	s.viewer.advance(delta, timeScale)
	s.sched.UpdateVisibleChunks(s.viewer.position, false)
	s.sched.ProcessResults(s.cfg.Streaming.ResultsPerTick)
	s.frames++

	if ready := s.sched.Ready(); ready != s.wasReady {
		s.wasReady = ready
		if ready {
			st := s.sched.Stats()
			s.logger.Printf("world steady after %d frames: %d chunks live, %d meshed", s.frames, st.Live, st.Meshed)
			if s.mapOut != "" {
				s.writeMap(s.mapOut)
			}
		}
	}
	s.publish()
}

func (s *Server) renderMap(req worldmap.Request) (*image.NRGBA, error) {
	if s.degraded != nil {
		return nil, s.degraded
	}
	return worldmap.Render(s.backend, s.field, req)
}

// SetMapOutput makes the main loop write an overview PNG to path each time
// the world becomes steady. Call before Run.
func (s *Server) SetMapOutput(path string) { s.mapOut = path }

func (s *Server) writeMap(path string) {
	img, err := s.renderMap(s.MapRequest())
	if err == nil {
		err = worldmap.SavePNG(img, path)
	}
	if err != nil {
		s.logger.Printf("map %s: %v", path, err)
		return
	}
	s.logger.Printf("map written to %s", path)
}

// MapRequest returns the configured map request over the world's vertical
// bounds.
func (s *Server) MapRequest() worldmap.Request {
	size := s.cfg.World.ChunkWorldSize()
	top := float64(s.cfg.World.MaxChunkY+1) * size
	bottom := float64(s.cfg.World.MinChunkY) * size
	return worldmap.RequestFromConfig(s.cfg.Map, top, bottom)
}

// RenderMap asks the main loop to render req and waits for the image.
func (s *Server) RenderMap(ctx context.Context, req worldmap.Request) (*image.NRGBA, error) {
	mr := mapRequest{req: req, reply: make(chan mapResult, 1)}
	select {
	case s.mapQueue <- mr:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-mr.reply:
		return res.img, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Server) publish() {
	snap := Snapshot{ID: s.cfg.Server.ID, Frames: s.frames, Viewer: [3]float64(s.viewer.position)}
	if s.degraded != nil {
		snap.Degraded = s.degraded.Error()
	}
	if s.sched != nil {
		snap.Ready = s.sched.Ready()
		snap.World = s.sched.Stats()
	}
	if s.gen != nil {
		snap.Generator = s.gen.Stats()
	}
	if s.disp != nil {
		snap.Dispatch = DispatchStats{Workers: s.disp.Workers(), Pending: s.disp.Pending(), Completed: s.disp.Completed()}
	}
	s.snapshotMu.Lock()
	s.snapshot = snap
	s.snapshotMu.Unlock()
}

// Snapshot returns the state published after the last frame.
func (s *Server) Snapshot() Snapshot {
	s.snapshotMu.RLock()
	defer s.snapshotMu.RUnlock()
	return s.snapshot
}

func (s *Server) shutdown() {
	s.sched.Close()
	if err := s.disp.Close(s.cfg.Streaming.ShutdownTimeout.Duration()); err != nil {
		s.logger.Printf("worker shutdown: %v", err)
	}
	s.publish()
}
