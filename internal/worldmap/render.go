// Package worldmap renders a top-down overview of the streamed terrain by
// casting rays against live collider surfaces.
package worldmap

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/mazznoer/colorgrad"
	"github.com/mazznoer/csscolorparser"

	"voxelterrain/internal/biome"
	"voxelterrain/internal/config"
	"voxelterrain/internal/world"
)

const (
	ambientLight  = 0.35
	maxResolution = 4096
)

// RaySource answers straight down ray casts against terrain surfaces.
type RaySource interface {
	RayCastDown(x, z, top, bottom float64) (world.Hit, bool)
}

// Request describes the square area to render.
type Request struct {
	Resolution int
	Span       float64
	Center     mgl64.Vec2
	Top        float64
	Bottom     float64
	Background string
	Shading    []string
}

// RequestFromConfig builds a request for the configured map covering the
// world's vertical bounds.
func RequestFromConfig(cfg config.MapConfig, top, bottom float64) Request {
	return Request{
		Resolution: cfg.Resolution,
		Span:       cfg.Span,
		Center:     mgl64.Vec2{cfg.Center[0], cfg.Center[1]},
		Top:        top,
		Bottom:     bottom,
		Background: cfg.Background,
		Shading:    cfg.Shading,
	}
}

// Render draws one pixel per ray. Hits are colored by the biome blend at the
// hit position, tinted by the height overlays, then shaded by height and
// surface slope. Misses keep the background color.
func Render(src RaySource, field *biome.Field, req Request) (*image.NRGBA, error) {
	if src == nil || field == nil {
		return nil, errors.New("render map: ray source and biome field are required")
	}
	if req.Resolution <= 0 || req.Resolution > maxResolution {
		return nil, fmt.Errorf("render map: resolution %d outside 1..%d", req.Resolution, maxResolution)
	}
	if req.Span <= 0 {
		return nil, fmt.Errorf("render map: span must be positive, got %v", req.Span)
	}
	if req.Top <= req.Bottom {
		return nil, fmt.Errorf("render map: top %v must be above bottom %v", req.Top, req.Bottom)
	}

	background := color.NRGBA{R: 10, G: 10, B: 18, A: 255}
	if c, err := csscolorparser.Parse(req.Background); err == nil {
		r, g, b, a := c.RGBA255()
		background = color.NRGBA{R: r, G: g, B: b, A: a}
	}
	stops := req.Shading
	if len(stops) < 2 {
		stops = []string{"#000000", "#ffffff"}
	}
	grad, err := colorgrad.NewGradient().HtmlColors(stops...).Build()
	if err != nil {
		return nil, fmt.Errorf("render map: shading gradient: %w", err)
	}

	img := image.NewNRGBA(image.Rect(0, 0, req.Resolution, req.Resolution))
	draw.Draw(img, img.Bounds(), &image.Uniform{background}, image.Point{}, draw.Src)

	step := req.Span / float64(req.Resolution)
	minX := req.Center[0] - req.Span/2
	minZ := req.Center[1] - req.Span/2
	height := req.Top - req.Bottom
	for py := 0; py < req.Resolution; py++ {
		z := minZ + (float64(py)+0.5)*step
		for px := 0; px < req.Resolution; px++ {
			x := minX + (float64(px)+0.5)*step
			hit, ok := src.RayCastDown(x, z, req.Top, req.Bottom)
			if !ok {
				continue
			}
			base := surfaceColor(field, hit.Point)
			shade := color.NRGBAModel.Convert(grad.At((hit.Point.Y() - req.Bottom) / height)).(color.NRGBA)
			col := mix(base, shade, 0.4)
			light := ambientLight + (1-ambientLight)*clamp(hit.Normal.Y(), 0, 1)
			img.SetNRGBA(px, py, applyLighting(col, light))
		}
	}
	return img, nil
}

func surfaceColor(field *biome.Field, p mgl64.Vec3) color.NRGBA {
	blend := field.ResolveBlend(p.X(), p.Z())
	col := color.NRGBA{R: 128, G: 128, B: 128, A: 255}
	if blend.Primary != nil {
		col = blend.Primary.MapColor
	}
	if blend.Secondary != nil {
		col = mix(col, blend.Secondary.MapColor, blend.Weight)
	}
	overlay := field.ResolveOverlay(p.Y())
	if d := field.Underwater(); d != nil && overlay.Underwater > 0 {
		col = mix(col, d.MapColor, overlay.Underwater)
	}
	if d := field.Mountain(); d != nil && overlay.Mountain > 0 {
		col = mix(col, d.MapColor, overlay.Mountain)
	}
	return col
}

// SavePNG writes img to path, creating parent directories.
func SavePNG(img image.Image, path string) error {
	if img == nil {
		return errors.New("save map: image is nil")
	}
	if path == "" {
		return errors.New("save map: output path is empty")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("save map: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create map: %w", err)
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return fmt.Errorf("encode map: %w", err)
	}
	return file.Close()
}

func mix(a, b color.NRGBA, t float64) color.NRGBA {
	t = clamp(t, 0, 1)
	lerp := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + (float64(y)-float64(x))*t))
	}
	return color.NRGBA{R: lerp(a.R, b.R), G: lerp(a.G, b.G), B: lerp(a.B, b.B), A: 255}
}

func applyLighting(base color.NRGBA, factor float64) color.NRGBA {
	factor = clamp(factor, 0, 1)
	r := uint8(math.Round(float64(base.R) * factor))
	g := uint8(math.Round(float64(base.G) * factor))
	b := uint8(math.Round(float64(base.B) * factor))
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}

func clamp(value, lo, hi float64) float64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

