package biome

import (
	"errors"
	"image/color"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"voxelterrain/internal/config"
)

func newTestField(t *testing.T, mutate func(*config.BiomeConfig)) *Field {
	t.Helper()
	cfg := config.Default().Biomes
	if mutate != nil {
		mutate(&cfg)
	}
	f, err := NewField(cfg, 42, 32)
	if err != nil {
		t.Fatalf("new field: %v", err)
	}
	return f
}

func TestResolveBlendDeterministic(t *testing.T) {
	a := newTestField(t, nil)
	b := newTestField(t, nil)
	for i := 0; i < 500; i++ {
		x := float64(i*37%1013) - 500
		z := float64(i*91%997) - 480
		ra := a.ResolveBlend(x, z)
		rb := b.ResolveBlend(x, z)
		if ra.Primary.Name != rb.Primary.Name || ra.Weight != rb.Weight {
			t.Fatalf("blend differs at (%v,%v): %+v vs %+v", x, z, ra, rb)
		}
		if (ra.Secondary == nil) != (rb.Secondary == nil) {
			t.Fatalf("secondary presence differs at (%v,%v)", x, z)
		}
		if ra.Secondary != nil && ra.Secondary.Name != rb.Secondary.Name {
			t.Fatalf("secondary differs at (%v,%v)", x, z)
		}
	}
}

func TestResolveBlendWeightRange(t *testing.T) {
	f := newTestField(t, nil)
	for x := -1000.0; x < 1000; x += 13 {
		for z := -1000.0; z < 1000; z += 17 {
			b := f.ResolveBlend(x, z)
			if b.Primary == nil || b.Primary.HeightOnly {
				t.Fatalf("primary must be a horizontal biome at (%v,%v): %+v", x, z, b.Primary)
			}
			if b.Weight < 0 || b.Weight > 0.5 {
				t.Fatalf("weight out of range at (%v,%v): %v", x, z, b.Weight)
			}
			if b.Secondary == nil && b.Weight != 0 {
				t.Fatalf("weight must be zero without a secondary biome")
			}
		}
	}
}

func TestBlendWeightOnBisector(t *testing.T) {
	a := mgl64.Vec2{0, 0}
	b := mgl64.Vec2{10, 0}
	if w := BlendWeight(mgl64.Vec2{5, 3}, a, b, 4); math.Abs(w-0.5) > 1e-12 {
		t.Fatalf("expected 0.5 on the bisector, got %v", w)
	}
	if w := BlendWeight(mgl64.Vec2{1, 0}, a, b, 4); w != 0 {
		t.Fatalf("expected zero deep in the primary cell, got %v", w)
	}
	if w := BlendWeight(mgl64.Vec2{4, 0}, a, b, 4); w <= 0 || w >= 0.5 {
		t.Fatalf("expected partial weight near the bisector, got %v", w)
	}
	if w := BlendWeight(a, a, a, 4); w != 0 {
		t.Fatalf("coincident sites should not blend, got %v", w)
	}
}

func TestStartDistanceEligibility(t *testing.T) {
	f := newTestField(t, func(cfg *config.BiomeConfig) {
		cfg.Warp.Enabled = false
		cfg.Biomes[2].StartDistance = 1e9
		cfg.Biomes[3].StartDistance = 1e9
	})
	for x := -800.0; x < 800; x += 23 {
		for z := -800.0; z < 800; z += 29 {
			b := f.ResolveBlend(x, z)
			if b.Primary.Name == "desert" || b.Primary.Name == "tundra" {
				t.Fatalf("biome %s should not be eligible at (%v,%v)", b.Primary.Name, x, z)
			}
		}
	}
}

func TestNewFieldConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.BiomeConfig)
	}{
		{
			name: "only height biomes",
			mutate: func(cfg *config.BiomeConfig) {
				for i := range cfg.Biomes {
					cfg.Biomes[i].HeightOnly = true
				}
			},
		},
		{
			name:   "missing underwater biome",
			mutate: func(cfg *config.BiomeConfig) { cfg.UnderwaterBiome = "lava" },
		},
		{
			name:   "missing mountain biome",
			mutate: func(cfg *config.BiomeConfig) { cfg.MountainBiome = "peak" },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default().Biomes
			tt.mutate(&cfg)
			_, err := NewField(cfg, 1, 32)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestResolveOverlay(t *testing.T) {
	f := newTestField(t, nil)
	deep := f.ResolveOverlay(-100)
	if deep.Underwater != 1 || deep.Mountain != 0 {
		t.Fatalf("unexpected deep overlay: %+v", deep)
	}
	sea := f.ResolveOverlay(f.SeaLevel())
	if math.Abs(sea.Underwater-0.5) > 1e-9 {
		t.Fatalf("expected half underwater weight at sea level, got %v", sea.Underwater)
	}
	high := f.ResolveOverlay(500)
	if high.Underwater != 0 || high.Mountain != 1 {
		t.Fatalf("unexpected high overlay: %+v", high)
	}
	prev := -1.0
	for y := 0.0; y < 100; y++ {
		m := f.ResolveOverlay(y).Mountain
		if m < prev {
			t.Fatalf("mountain weight must not decrease with height")
		}
		prev = m
	}
}

func TestOverlayDisabledWithoutBiomes(t *testing.T) {
	f := newTestField(t, func(cfg *config.BiomeConfig) {
		cfg.UnderwaterBiome = ""
		cfg.MountainBiome = ""
	})
	if o := f.ResolveOverlay(-100); o.Underwater != 0 || o.Mountain != 0 {
		t.Fatalf("expected no overlay weights, got %+v", o)
	}
}

func TestResolvePaletteSingleBiome(t *testing.T) {
	f := newTestField(t, func(cfg *config.BiomeConfig) {
		cfg.Biomes = []config.BiomeDescriptor{
			{Name: "plains", Weight: 1, MapColor: "#00ff00"},
			{Name: "ocean", HeightOnly: true},
			{Name: "mountain", HeightOnly: true},
		}
	})
	p := f.ResolvePalette(64, -32, 32)
	if p.Slots[SlotPrimary].Name != "plains" {
		t.Fatalf("unexpected primary: %+v", p.Slots[SlotPrimary])
	}
	if p.HasSecondary() {
		t.Fatalf("did not expect a secondary biome")
	}
	if p.Slots[SlotUnderwater].Name != "ocean" || p.Slots[SlotMountain].Name != "mountain" {
		t.Fatalf("overlay slots not filled: %+v", p.Slots)
	}
	primary, secondary := p.TextureIndices()
	if primary != 0 || secondary != 0 {
		t.Fatalf("unexpected texture indices %v %v", primary, secondary)
	}
	if p.Slots[SlotPrimary].MapColor.G != 255 {
		t.Fatalf("map color not parsed: %+v", p.Slots[SlotPrimary].MapColor)
	}
}

func TestDescriptorMapColors(t *testing.T) {
	f := newTestField(t, func(cfg *config.BiomeConfig) {
		cfg.Biomes = []config.BiomeDescriptor{
			{Name: "plains", Weight: 1, MapColor: "green"},
			{Name: "desert", Weight: 1, MapColor: "#fa0"},
			{Name: "tundra", Weight: 1},
			{Name: "swamp", Weight: 1, MapColor: "not a color"},
		}
	})
	gray := color.NRGBA{R: 128, G: 128, B: 128, A: 255}
	want := map[string]color.NRGBA{
		"plains": {R: 0, G: 128, B: 0, A: 255},
		"desert": {R: 255, G: 170, B: 0, A: 255},
		"tundra": gray,
		"swamp":  gray,
	}
	for name, c := range want {
		d := f.ByName(name)
		if d == nil {
			t.Fatalf("biome %q missing", name)
		}
		if d.MapColor != c {
			t.Fatalf("%s: expected %v, got %v", name, c, d.MapColor)
		}
	}
}

func TestResolvePaletteMatchesMajority(t *testing.T) {
	f := newTestField(t, nil)
	const size = 32.0
	for cx := -6; cx <= 6; cx++ {
		for cz := -6; cz <= 6; cz++ {
			ox, oz := float64(cx)*size, float64(cz)*size
			p := f.ResolvePalette(ox, oz, size)
			votes := 0
			for _, off := range paletteOffsets {
				b := f.ResolveBlend(ox+off[0]*size, oz+off[1]*size)
				if b.Primary == p.Slots[SlotPrimary] && b.Secondary == p.Slots[SlotSecondary] {
					votes++
				}
			}
			if votes == 0 {
				t.Fatalf("palette pair for chunk (%d,%d) was never sampled", cx, cz)
			}
		}
	}
}
