package density

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"voxelterrain/internal/config"
)

func flatConfig() config.DensityConfig {
	cfg := config.Default().Density
	cfg.Mode = "surface"
	cfg.BaseHeight = 10
	cfg.HeightMultiplier = 0
	return cfg
}

func TestSurfaceModeIsHeightMinusY(t *testing.T) {
	ev := NewEvaluator(Resolve(flatConfig()), 42)
	for _, y := range []float64{-20, 0, 9.5, 10, 30} {
		got := ev.Sample(mgl64.Vec3{13, y, -7})
		if want := 10 - y; math.Abs(got-want) > 1e-9 {
			t.Fatalf("density at y=%v: got %v want %v", y, got, want)
		}
	}
}

func TestSurfaceModeIgnoresVolumetricFeatures(t *testing.T) {
	cfg := config.Default().Density
	cfg.Mode = "surface"
	cfg.Caves.Strength = 500
	cfg.Overhang.Strength = 500
	ev := NewEvaluator(Resolve(cfg), 42)
	for x := -50.0; x < 50; x += 7 {
		p := mgl64.Vec3{x, 3, x * 0.5}
		want := ev.SurfaceHeight(p[0], p[2]) - p[1]
		if got := ev.Sample(p); math.Abs(got-want) > 1e-9 {
			t.Fatalf("surface mode must not apply 3D terms: got %v want %v", got, want)
		}
	}
}

func TestSurfaceHeightWithinMultiplier(t *testing.T) {
	cfg := config.Default().Density
	cfg.BaseHeight = 16
	cfg.HeightMultiplier = 4
	ev := NewEvaluator(Resolve(cfg), 42)
	for x := -300.0; x < 300; x += 11 {
		for z := -300.0; z < 300; z += 13 {
			h := ev.SurfaceHeight(x, z)
			if h < 12-1e-9 || h > 20+1e-9 {
				t.Fatalf("height %v outside base +- multiplier at (%v,%v)", h, x, z)
			}
		}
	}
}

func TestCurveLookup(t *testing.T) {
	identity := NewCurve(nil)
	for _, v := range []float64{0, 0.25, 0.5, 1} {
		if got := identity.Eval(v); math.Abs(got-v) > 1e-9 {
			t.Fatalf("identity curve at %v: %v", v, got)
		}
	}
	square := NewCurve([]config.CurveKey{{T: 1, V: 1}, {T: 0, V: 0}, {T: 0.5, V: 0.1}})
	if got := square.Eval(0.5); math.Abs(got-0.1) > 0.01 {
		t.Fatalf("expected curve to pass through its key, got %v", got)
	}
	if got := square.Eval(-3); got != 0 {
		t.Fatalf("inputs below zero should clamp, got %v", got)
	}
	if got := square.Eval(7); got != 1 {
		t.Fatalf("inputs above one should clamp, got %v", got)
	}
}

func TestTerraceHardSteps(t *testing.T) {
	cfg := config.Default().Density
	cfg.Mode = "surface"
	cfg.Terrace = config.TerraceConfig{Enabled: true, StepHeight: 5, Smoothness: 0}
	ev := NewEvaluator(Resolve(cfg), 3)
	for x := -100.0; x < 100; x += 9 {
		h := ev.SurfaceHeight(x, 17)
		if r := math.Mod(math.Abs(h), 5); r > 1e-9 && 5-r > 1e-9 {
			t.Fatalf("height %v is not on a terrace step", h)
		}
	}
}

// The field must stay continuous across cave and island boundaries.
func TestDensityContinuousAlongRay(t *testing.T) {
	cfg := config.Default().Density
	cfg.Mode = "volumetric"
	cfg.Islands.Enabled = true
	cfg.Islands.MinY = 20
	cfg.Islands.MaxY = 80
	cfg.Caves.Threshold = 0.0
	cfg.Caves.Strength = 30
	s := Resolve(cfg)
	ev := NewEvaluator(s, 42)

	const step = 0.01
	rays := []struct{ from, dir mgl64.Vec3 }{
		{mgl64.Vec3{5, 90, 5}, mgl64.Vec3{0, -1, 0}},
		{mgl64.Vec3{-40, 0, 12}, mgl64.Vec3{1, 0, 0}},
		{mgl64.Vec3{0, 40, -40}, mgl64.Vec3{0, 0, 1}},
	}
	for _, r := range rays {
		prev := ev.Sample(r.from)
		for i := 1; i < 10000; i++ {
			p := r.from.Add(r.dir.Mul(float64(i) * step))
			d := ev.Sample(p)
			if jump := math.Abs(d - prev); jump > 1.5 {
				t.Fatalf("density jumped by %v at %v", jump, p)
			}
			prev = d
		}
	}
}

func TestSmoothMaxIsUpperBound(t *testing.T) {
	for _, c := range [][2]float64{{0, 0}, {1, -1}, {-5, -4.5}, {3, 10}} {
		v := smoothMax(c[0], c[1], 4)
		if v < math.Max(c[0], c[1]) {
			t.Fatalf("smoothMax(%v) = %v below max", c, v)
		}
		if v > math.Max(c[0], c[1])+1 {
			t.Fatalf("smoothMax(%v) = %v exceeds blend bound", c, v)
		}
	}
	if smoothMax(0, 100, 4) != 100 {
		t.Fatalf("distant inputs should return the hard max")
	}
}

func TestHasCrossing(t *testing.T) {
	ev := NewEvaluator(Resolve(flatConfig()), 42)
	if !ev.HasCrossing(mgl64.Vec3{0, 0, 0}, 32, 4) {
		t.Fatalf("expected the surface at y=10 to cross the chunk")
	}
	if ev.HasCrossing(mgl64.Vec3{0, 64, 0}, 32, 4) {
		t.Fatalf("chunk above the surface should be empty")
	}
	if ev.HasCrossing(mgl64.Vec3{0, -64, 0}, 32, 1) {
		t.Fatalf("chunk below the surface should be solid")
	}
}

func TestFillNormalsPointUpOnFlatGround(t *testing.T) {
	ev := NewEvaluator(Resolve(flatConfig()), 42)
	g := NewGrid()
	if err := ev.Fill(context.Background(), g, mgl64.Vec3{0, 0, 0}, 5, 4); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if g.Points() != 5 {
		t.Fatalf("unexpected points %d", g.Points())
	}
	for k := 0; k < 5; k++ {
		for j := 0; j < 5; j++ {
			for i := 0; i < 5; i++ {
				n := g.Normal(i, j, k)
				if math.Abs(float64(n[1])-1) > 1e-6 {
					t.Fatalf("expected up normal at (%d,%d,%d), got %v", i, j, k, n)
				}
				if want := 10 - float64(j)*4; math.Abs(g.Density(i, j, k)-want) > 1e-5 {
					t.Fatalf("density at (%d,%d,%d): got %v want %v", i, j, k, g.Density(i, j, k), want)
				}
			}
		}
	}
}

func TestFillHonoursCancellation(t *testing.T) {
	ev := NewEvaluator(Resolve(flatConfig()), 42)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ev.Fill(ctx, NewGrid(), mgl64.Vec3{}, 9, 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestResolveSimpleTuning(t *testing.T) {
	cfg := config.Default().Density
	cfg.Simple = config.SimpleTuning{Enabled: true, Roughness: 1, Mountains: 0.5, Scale: 0.5}
	s := Resolve(cfg)
	if s.Mode != ModeSurface {
		t.Fatalf("sliders without 3D features should select surface mode, got %v", s.Mode)
	}
	if s.Surface.Octaves != 8 {
		t.Fatalf("expected 8 octaves at full roughness, got %d", s.Surface.Octaves)
	}
	if s.HeightMultiplier != 36 {
		t.Fatalf("unexpected height multiplier %v", s.HeightMultiplier)
	}

	cfg.Simple.Caves = 0.8
	s = Resolve(cfg)
	if s.Mode != ModeVolumetric || !s.Caves.Enabled {
		t.Fatalf("caves slider should enable volumetric caves: %+v", s.Caves)
	}
}

func TestResolveSanitizesDegenerateInputs(t *testing.T) {
	cfg := config.Default().Density
	cfg.SurfaceDensityMultiplier = 0
	cfg.Probe = config.ProbeConfig{Resolution: 0, VolumetricResolution: 40}
	cfg.Terrace = config.TerraceConfig{Enabled: true, StepHeight: 0}
	cfg.Islands.MinY, cfg.Islands.MaxY = 100, 20
	s := Resolve(cfg)
	if s.SurfaceDensityMultiplier != 1 {
		t.Fatalf("multiplier not defaulted: %v", s.SurfaceDensityMultiplier)
	}
	if s.ProbeResolution != 2 || s.VolumetricProbeResolution != 6 {
		t.Fatalf("probe resolution not clamped: %d %d", s.ProbeResolution, s.VolumetricProbeResolution)
	}
	if s.Terrace.Enabled {
		t.Fatalf("terracing with zero step height must be disabled")
	}
	if s.Islands.MinY != 20 || s.Islands.MaxY != 100 {
		t.Fatalf("island band not reordered: %v..%v", s.Islands.MinY, s.Islands.MaxY)
	}
}
