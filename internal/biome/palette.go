package biome

import "github.com/go-gl/mathgl/mgl64"

// Slot positions inside a Palette.
const (
	SlotPrimary = iota
	SlotSecondary
	SlotUnderwater
	SlotMountain
)

// Palette is the per chunk biome set committed once on the main goroutine and
// handed to the generation job.
type Palette struct {
	Slots      [4]*Descriptor
	Sites      [2]mgl64.Vec2
	BlendWidth float64
}

func (p Palette) HasSecondary() bool {
	return p.Slots[SlotSecondary] != nil
}

// TextureIndices returns the (primary, secondary) texture indices. A missing
// secondary repeats the primary.
func (p Palette) TextureIndices() (float32, float32) {
	var primary, secondary float32
	if p.Slots[SlotPrimary] != nil {
		primary = float32(p.Slots[SlotPrimary].TextureIndex)
	}
	secondary = primary
	if p.HasSecondary() {
		secondary = float32(p.Slots[SlotSecondary].TextureIndex)
	}
	return primary, secondary
}

// paletteOffsets are sample positions in chunk-relative units: center, inset
// corners, then edge midpoints.
var paletteOffsets = [...]mgl64.Vec2{
	{0.5, 0.5},
	{0.15, 0.15}, {0.85, 0.15}, {0.15, 0.85}, {0.85, 0.85},
	{0.5, 0.15}, {0.85, 0.5}, {0.5, 0.85}, {0.15, 0.5},
}

type pairKey struct {
	primary, secondary *Descriptor
}

// ResolvePalette votes over several points of the chunk footprint starting at
// (originX, originZ) with edge size and keeps the most common biome pair.
// Ties go to the pair seen first.
func (f *Field) ResolvePalette(originX, originZ, size float64) Palette {
	counts := make(map[pairKey]int, f.paletteSamples)
	firstSeen := make(map[pairKey]Blend, f.paletteSamples)
	var order []pairKey

	for i := 0; i < f.paletteSamples; i++ {
		off := paletteOffsets[i]
		b := f.ResolveBlend(originX+off[0]*size, originZ+off[1]*size)
		key := pairKey{b.Primary, b.Secondary}
		if _, ok := counts[key]; !ok {
			order = append(order, key)
			firstSeen[key] = b
		}
		counts[key]++
	}

	best := order[0]
	for _, key := range order[1:] {
		if counts[key] > counts[best] {
			best = key
		}
	}

	b := firstSeen[best]
	return Palette{
		Slots:      [4]*Descriptor{b.Primary, b.Secondary, f.underwater, f.mountain},
		Sites:      [2]mgl64.Vec2{b.PrimarySite, b.SecondarySite},
		BlendWidth: b.BlendWidth,
	}
}
