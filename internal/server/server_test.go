package server

import (
	"context"
	"encoding/json"
	"image/png"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"voxelterrain/internal/config"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.HTTPListen = ""
	cfg.World.Seed = 99
	cfg.World.PointsPerAxis = 9
	cfg.World.VoxelSize = 2
	cfg.World.MinChunkY = -1
	cfg.World.MaxChunkY = 1
	cfg.Density.Mode = "surface"
	cfg.Density.BaseHeight = 4
	cfg.Density.HeightMultiplier = 3
	cfg.Streaming.ViewRadius = 1
	cfg.Streaming.VerticalMode = "full"
	cfg.Streaming.ResultsPerTick = 4
	cfg.Workers.Count = 2
	cfg.Map.Resolution = 8
	cfg.Map.Span = 32
	return cfg
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := New(cfg, quietLogger())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if err := s.Degraded(); err != nil {
		t.Fatalf("unexpected degraded server: %v", err)
	}
	return s
}

func TestFrameFreezesViewerWhileLoading(t *testing.T) {
	s := newTestServer(t, testConfig())
	defer s.shutdown()
	start := s.viewer.position
	s.sched.Start(start)

	tick := 16 * time.Millisecond
	s.frame(tick)
	if s.viewer.position != start {
		t.Fatalf("viewer moved while loading: %v", s.viewer.position)
	}

	deadline := time.Now().Add(10 * time.Second)
	for !s.sched.Ready() {
		if time.Now().After(deadline) {
			t.Fatalf("world never became ready: %+v", s.sched.Stats())
		}
		s.frame(tick)
		if !s.sched.Ready() && s.viewer.position != start {
			t.Fatalf("viewer moved before the world was ready")
		}
		time.Sleep(time.Millisecond)
	}

	before := s.viewer.position
	s.frame(tick)
	want := before.Add(mgl64.Vec3{4, 0, 0}.Mul(tick.Seconds()))
	if s.viewer.position.Sub(want).Len() > 1e-9 {
		t.Fatalf("expected viewer at %v, got %v", want, s.viewer.position)
	}
	if snap := s.Snapshot(); !snap.Ready || snap.World.Live == 0 || snap.Frames == 0 {
		t.Fatalf("snapshot not published: %+v", snap)
	}
}

func TestRunServesMapAndShutsDown(t *testing.T) {
	s := newTestServer(t, testConfig())
	frames := make(chan time.Time)
	colliders := make(chan time.Time)
	s.newTicker = func(d time.Duration) (<-chan time.Time, func()) {
		if d == s.cfg.Server.TickRate.Duration() {
			return frames, func() {}
		}
		return colliders, func() {}
	}
	base := time.Unix(0, 0)
	s.now = func() time.Time { return base }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	tick := s.cfg.Server.TickRate.Duration()
	deadline := time.Now().Add(10 * time.Second)
	for i := 1; !s.Snapshot().Ready; i++ {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("world never became ready: %+v", s.Snapshot())
		}
		frames <- base.Add(time.Duration(i) * tick)
		colliders <- base
		time.Sleep(time.Millisecond)
	}

	img, err := s.RenderMap(context.Background(), s.MapRequest())
	if err != nil {
		cancel()
		t.Fatalf("render map: %v", err)
	}
	if img.Bounds().Dx() != 8 {
		t.Fatalf("unexpected map size %v", img.Bounds())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop after cancel")
	}
	if snap := s.Snapshot(); snap.World.Live != 0 {
		t.Fatalf("expected chunks released on shutdown, %d live", snap.World.Live)
	}
}

func TestDegradedServer(t *testing.T) {
	cfg := testConfig()
	cfg.World.PointsPerAxis = 1
	s, err := New(cfg, quietLogger())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if s.Degraded() == nil {
		t.Fatalf("expected invalid configuration to degrade the server")
	}
	h := s.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable || !strings.Contains(rr.Body.String(), "degraded") {
		t.Fatalf("unexpected health response %d %s", rr.Code, rr.Body.String())
	}
	for _, path := range []string{"/biome?x=1&z=2", "/map.png"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: expected status %d, got %d", path, http.StatusServiceUnavailable, rr.Code)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("degraded run returned %v", err)
	}
}

func TestHealthReportsLoading(t *testing.T) {
	s := newTestServer(t, testConfig())
	defer s.shutdown()
	rr := httptest.NewRecorder()
	s.handleHealth(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "loading") {
		t.Fatalf("unexpected health response %d %s", rr.Code, rr.Body.String())
	}
}

func TestHandleBiome(t *testing.T) {
	s := newTestServer(t, testConfig())
	defer s.shutdown()

	t.Run("missing parameters", func(t *testing.T) {
		rr := httptest.NewRecorder()
		s.handleBiome(rr, httptest.NewRequest(http.MethodGet, "/biome?x=1", nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
		}
	})

	t.Run("invalid z", func(t *testing.T) {
		rr := httptest.NewRecorder()
		s.handleBiome(rr, httptest.NewRequest(http.MethodGet, "/biome?x=1&z=bar", nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
		}
	})

	t.Run("resolved", func(t *testing.T) {
		rr := httptest.NewRecorder()
		s.handleBiome(rr, httptest.NewRequest(http.MethodGet, "/biome?x=10&z=-3&y=-20", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
		}
		var resp biomeResponse
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		blend := s.field.ResolveBlend(10, -3)
		if resp.Primary != blend.Primary.Name || resp.Weight != blend.Weight {
			t.Fatalf("response %+v disagrees with field %+v", resp, blend)
		}
		if resp.Underwater == nil || *resp.Underwater != 1 {
			t.Fatalf("expected full underwater overlay deep below sea level, got %+v", resp.Underwater)
		}
	})
}

func TestHandleChunks(t *testing.T) {
	s := newTestServer(t, testConfig())
	defer s.shutdown()
	s.sched.Start(s.viewer.position)
	s.publish()

	rr := httptest.NewRecorder()
	s.handleChunks(rr, httptest.NewRequest(http.MethodGet, "/chunks", nil))
	var snap Snapshot
	if err := json.NewDecoder(rr.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.World.Needed != 5*3 || snap.World.State != "loading" || snap.Dispatch.Workers != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestHandleMapParameters(t *testing.T) {
	s := newTestServer(t, testConfig())
	defer s.shutdown()

	rr := httptest.NewRecorder()
	s.handleMap(rr, httptest.NewRequest(http.MethodGet, "/map.png?resolution=abc", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}

	rr = httptest.NewRecorder()
	s.handleMap(rr, httptest.NewRequest(http.MethodGet, "/map.png?x=1", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d for a lone x, got %d", http.StatusBadRequest, rr.Code)
	}

	// Stand in for the main loop.
	go func() {
		mr := <-s.mapQueue
		img, err := s.renderMap(mr.req)
		mr.reply <- mapResult{img: img, err: err}
	}()
	rr = httptest.NewRecorder()
	s.handleMap(rr, httptest.NewRequest(http.MethodGet, "/map.png?resolution=4&span=16&x=0&z=0", nil))
	if rr.Code != http.StatusOK || rr.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("unexpected map response %d %s", rr.Code, rr.Body.String())
	}
	img, err := png.Decode(rr.Body)
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if img.Bounds().Dx() != 4 {
		t.Fatalf("expected a 4px map, got %v", img.Bounds())
	}
}

func TestMapRequestCoversVerticalBounds(t *testing.T) {
	s := newTestServer(t, testConfig())
	defer s.shutdown()
	req := s.MapRequest()
	if req.Top != 32 || req.Bottom != -16 {
		t.Fatalf("unexpected vertical bounds %v..%v", req.Bottom, req.Top)
	}
}

func TestFrameClockClampsDelta(t *testing.T) {
	tick := 10 * time.Millisecond
	base := time.Unix(0, 0)
	clock := newFrameClock(tick, base)
	cases := []struct {
		now  time.Time
		want time.Duration
	}{
		{base.Add(tick), tick},
		{base.Add(tick), tick},      // zero delta
		{base.Add(20 * tick), tick}, // oversized delta
		{base.Add(23 * tick), 3 * tick},
	}
	for i, tc := range cases {
		if got := clock.advance(tc.now); got != tc.want {
			t.Fatalf("case %d: expected %v, got %v", i, tc.want, got)
		}
	}
}

func TestViewerAdvance(t *testing.T) {
	v := viewer{velocity: mgl64.Vec3{2, 0, -1}}
	v.advance(time.Second, 0)
	if v.position != (mgl64.Vec3{}) {
		t.Fatalf("time scale 0 must freeze the viewer")
	}
	v.advance(500*time.Millisecond, 1)
	if v.position != (mgl64.Vec3{1, 0, -0.5}) {
		t.Fatalf("unexpected position %v", v.position)
	}
}
