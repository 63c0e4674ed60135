package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mazznoer/csscolorparser"
	"gopkg.in/yaml.v3"
)

// Duration is a JSON and YAML friendly wrapper around time.Duration that
// accepts human readable strings such as "150ms" in configuration files while
// still allowing numeric representations when necessary.
type Duration time.Duration

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// MarshalJSON encodes the duration using the canonical string representation.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON decodes a duration from either a string (e.g. "250ms") or a
// numeric value representing nanoseconds. Empty strings and null values decode
// to zero.
func (d *Duration) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("duration: empty value")
	}
	if string(b) == "null" {
		*d = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("duration: decode string: %w", err)
		}
		return d.parse(s)
	}
	var n int64
	if err := json.Unmarshal(b, &n); err == nil {
		*d = Duration(time.Duration(n))
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*d = Duration(time.Duration(f))
		return nil
	}
	return fmt.Errorf("duration: invalid value %s", string(b))
}

// MarshalYAML encodes the duration as its string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML accepts the same forms as UnmarshalJSON.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Tag == "!!int" {
		var n int64
		if err := value.Decode(&n); err != nil {
			return fmt.Errorf("duration: decode int: %w", err)
		}
		*d = Duration(time.Duration(n))
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration: decode string: %w", err)
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration: parse %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config captures every tunable of the terrain engine host.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	World     WorldConfig     `json:"world" yaml:"world"`
	Density   DensityConfig   `json:"density" yaml:"density"`
	Biomes    BiomeConfig     `json:"biomes" yaml:"biomes"`
	Streaming StreamingConfig `json:"streaming" yaml:"streaming"`
	Workers   WorkerConfig    `json:"workers" yaml:"workers"`
	Map       MapConfig       `json:"map" yaml:"map"`
	Viewer    ViewerConfig    `json:"viewer" yaml:"viewer"`
}

type ServerConfig struct {
	ID               string   `json:"id" yaml:"id"`
	TickRate         Duration `json:"tickRate" yaml:"tick_rate"`                 // main thread frame interval, e.g. "16ms"
	ColliderInterval Duration `json:"colliderInterval" yaml:"collider_interval"` // slower collider policy cadence
	HTTPListen       string   `json:"httpListen" yaml:"http_listen"`             // empty disables the debug API
	Verbose          bool     `json:"verbose" yaml:"verbose"`
}

type WorldConfig struct {
	Seed          int32   `json:"seed" yaml:"seed"`
	PointsPerAxis int     `json:"pointsPerAxis" yaml:"points_per_axis"` // density samples per chunk axis
	VoxelSize     float64 `json:"voxelSize" yaml:"voxel_size"`          // world units between samples
	MinChunkY     int     `json:"minChunkY" yaml:"min_chunk_y"`
	MaxChunkY     int     `json:"maxChunkY" yaml:"max_chunk_y"`
}

// ChunkWorldSize is the edge length of one cubic chunk in world units.
func (w WorldConfig) ChunkWorldSize() float64 {
	points := w.PointsPerAxis
	if points < 2 {
		points = 2
	}
	size := w.VoxelSize
	if size <= 0 {
		size = 1
	}
	return float64(points-1) * size
}

// NoiseConfig describes one fractal noise layer.
type NoiseConfig struct {
	Frequency   float64    `json:"frequency" yaml:"frequency"`
	Octaves     int        `json:"octaves" yaml:"octaves"`
	Persistence float64    `json:"persistence" yaml:"persistence"`
	Lacunarity  float64    `json:"lacunarity" yaml:"lacunarity"`
	Offset      [3]float64 `json:"offset" yaml:"offset"`
}

// CurveKey is a single (input, output) point of the height shaping curve.
// Inputs and outputs are normalized to [0,1].
type CurveKey struct {
	T float64 `json:"t" yaml:"t"`
	V float64 `json:"v" yaml:"v"`
}

type DensityConfig struct {
	Mode                     string  `json:"mode" yaml:"mode"` // "surface" or "volumetric"
	IsoLevel                 float64 `json:"isoLevel" yaml:"iso_level"`
	SurfaceDensityMultiplier float64 `json:"surfaceDensityMultiplier" yaml:"surface_density_multiplier"`

	BaseHeight       float64        `json:"baseHeight" yaml:"base_height"`
	HeightMultiplier float64        `json:"heightMultiplier" yaml:"height_multiplier"`
	Surface          NoiseConfig    `json:"surface" yaml:"surface"`
	HeightCurve      []CurveKey     `json:"heightCurve" yaml:"height_curve"`
	Terrace          TerraceConfig  `json:"terrace" yaml:"terrace"`
	Warp             WarpConfig     `json:"warp" yaml:"warp"`
	Overhang         OverhangConfig `json:"overhang" yaml:"overhang"`
	Islands          IslandConfig   `json:"islands" yaml:"islands"`
	Caves            CaveConfig     `json:"caves" yaml:"caves"`
	Probe            ProbeConfig    `json:"probe" yaml:"probe"`
	Simple           SimpleTuning   `json:"simple" yaml:"simple"`
}

type TerraceConfig struct {
	Enabled    bool    `json:"enabled" yaml:"enabled"`
	StepHeight float64 `json:"stepHeight" yaml:"step_height"`
	Smoothness float64 `json:"smoothness" yaml:"smoothness"` // 0 = hard steps, 1 = no terracing visible
}

type WarpConfig struct {
	Enabled  bool        `json:"enabled" yaml:"enabled"`
	Noise    NoiseConfig `json:"noise" yaml:"noise"`
	Strength float64     `json:"strength" yaml:"strength"` // world units
}

type OverhangConfig struct {
	Enabled   bool        `json:"enabled" yaml:"enabled"`
	Noise     NoiseConfig `json:"noise" yaml:"noise"`
	Strength  float64     `json:"strength" yaml:"strength"`
	BandWidth float64     `json:"bandWidth" yaml:"band_width"` // world units either side of the surface
}

type IslandConfig struct {
	Enabled           bool        `json:"enabled" yaml:"enabled"`
	Noise             NoiseConfig `json:"noise" yaml:"noise"`
	Strength          float64     `json:"strength" yaml:"strength"`
	Threshold         float64     `json:"threshold" yaml:"threshold"`
	Softness          float64     `json:"softness" yaml:"softness"`
	MinY              float64     `json:"minY" yaml:"min_y"`
	MaxY              float64     `json:"maxY" yaml:"max_y"`
	EdgeFalloff       float64     `json:"edgeFalloff" yaml:"edge_falloff"`
	FlatTop           bool        `json:"flatTop" yaml:"flat_top"`
	TopFraction       float64     `json:"topFraction" yaml:"top_fraction"` // cap height inside the band, 0..1
	Underside         NoiseConfig `json:"underside" yaml:"underside"`
	UndersideStrength float64     `json:"undersideStrength" yaml:"underside_strength"`
	Smoothness        float64     `json:"smoothness" yaml:"smoothness"` // smooth-max constant
}

type CaveConfig struct {
	Enabled           bool        `json:"enabled" yaml:"enabled"`
	Noise             NoiseConfig `json:"noise" yaml:"noise"`
	Strength          float64     `json:"strength" yaml:"strength"`
	Threshold         float64     `json:"threshold" yaml:"threshold"`
	Softness          float64     `json:"softness" yaml:"softness"`
	MinDepth          float64     `json:"minDepth" yaml:"min_depth"` // below the surface
	MaxDepth          float64     `json:"maxDepth" yaml:"max_depth"`
	BiasBelowSeaLevel bool        `json:"biasBelowSeaLevel" yaml:"bias_below_sea_level"`
}

type ProbeConfig struct {
	Resolution           int `json:"resolution" yaml:"resolution"`
	VolumetricResolution int `json:"volumetricResolution" yaml:"volumetric_resolution"`
}

// SimpleTuning derives every density feature from seven sliders in [0,1].
type SimpleTuning struct {
	Enabled   bool    `json:"enabled" yaml:"enabled"`
	Roughness float64 `json:"roughness" yaml:"roughness"`
	Mountains float64 `json:"mountains" yaml:"mountains"`
	Overhangs float64 `json:"overhangs" yaml:"overhangs"`
	Caves     float64 `json:"caves" yaml:"caves"`
	Islands   float64 `json:"islands" yaml:"islands"`
	Warp      float64 `json:"warp" yaml:"warp"`
	Scale     float64 `json:"scale" yaml:"scale"`
}

type BiomeDescriptor struct {
	Name          string  `json:"name" yaml:"name"`
	Weight        float64 `json:"weight" yaml:"weight"`
	StartDistance float64 `json:"startDistance" yaml:"start_distance"`
	HeightOnly    bool    `json:"heightOnly" yaml:"height_only"`
	Material      string  `json:"material" yaml:"material"`
	MapColor      string  `json:"mapColor" yaml:"map_color"` // "#rrggbb"
}

type BiomeConfig struct {
	Biomes          []BiomeDescriptor `json:"biomes" yaml:"biomes"`
	CellSize        float64           `json:"cellSize" yaml:"cell_size"` // 0 derives from the chunk size
	SearchRadius    int               `json:"searchRadius" yaml:"search_radius"`
	BlendWidth      float64           `json:"blendWidth" yaml:"blend_width"`
	Warp            BiomeWarpConfig   `json:"warp" yaml:"warp"`
	SeaLevel        float64           `json:"seaLevel" yaml:"sea_level"`
	UnderwaterBlend float64           `json:"underwaterBlend" yaml:"underwater_blend"`
	UnderwaterBiome string            `json:"underwaterBiome" yaml:"underwater_biome"`
	MountainStart   float64           `json:"mountainStart" yaml:"mountain_start"`
	MountainBlend   float64           `json:"mountainBlend" yaml:"mountain_blend"`
	MountainBiome   string            `json:"mountainBiome" yaml:"mountain_biome"`
	PaletteSamples  int               `json:"paletteSamples" yaml:"palette_samples"`
}

type BiomeWarpConfig struct {
	Enabled   bool    `json:"enabled" yaml:"enabled"`
	Frequency float64 `json:"frequency" yaml:"frequency"`
	Octaves   int     `json:"octaves" yaml:"octaves"`
	Strength  float64 `json:"strength" yaml:"strength"`
}

type StreamingConfig struct {
	ViewRadius          int      `json:"viewRadius" yaml:"view_radius"` // chunks on XZ
	Circular            bool     `json:"circular" yaml:"circular"`
	VerticalMode        string   `json:"verticalMode" yaml:"vertical_mode"` // "band" or "full"
	VerticalBand        int      `json:"verticalBand" yaml:"vertical_band"`
	NearFirst           bool     `json:"nearFirst" yaml:"near_first"`
	VerticalWeight      float64  `json:"verticalWeight" yaml:"vertical_weight"`
	CreateBudgetPlay    int      `json:"createBudgetPlay" yaml:"create_budget_play"`
	CreateBudgetPreview int      `json:"createBudgetPreview" yaml:"create_budget_preview"`
	Preview             bool     `json:"preview" yaml:"preview"`
	WaitForInitial      bool     `json:"waitForInitial" yaml:"wait_for_initial"`
	ColliderRadius      float64  `json:"colliderRadius" yaml:"collider_radius"` // world units, horizontal
	ColliderChecks      int      `json:"colliderChecks" yaml:"collider_checks"` // round-robin checks per collider tick
	ResultsPerTick      int      `json:"resultsPerTick" yaml:"results_per_tick"`
	ShutdownTimeout     Duration `json:"shutdownTimeout" yaml:"shutdown_timeout"`
}

type WorkerConfig struct {
	Count    int `json:"count" yaml:"count"` // 0 = hardware concurrency minus headroom
	Headroom int `json:"headroom" yaml:"headroom"`
}

type MapConfig struct {
	Resolution int        `json:"resolution" yaml:"resolution"` // pixels per side
	Span       float64    `json:"span" yaml:"span"`             // world units per side
	Center     [2]float64 `json:"center" yaml:"center"`
	Background string     `json:"background" yaml:"background"`
	Shading    []string   `json:"shading" yaml:"shading"` // height gradient stops, low to high
}

type ViewerConfig struct {
	Start    [3]float64 `json:"start" yaml:"start"`
	Velocity [3]float64 `json:"velocity" yaml:"velocity"` // world units per second
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ID:               "terrain-0",
			TickRate:         Duration(16 * time.Millisecond),
			ColliderInterval: Duration(100 * time.Millisecond),
			HTTPListen:       ":18080",
		},
		World: WorldConfig{
			Seed:          1337,
			PointsPerAxis: 33,
			VoxelSize:     1,
			MinChunkY:     -2,
			MaxChunkY:     4,
		},
		Density: DensityConfig{
			Mode:                     "volumetric",
			IsoLevel:                 0,
			SurfaceDensityMultiplier: 1,
			BaseHeight:               16,
			HeightMultiplier:         24,
			Surface: NoiseConfig{
				Frequency:   0.004,
				Octaves:     5,
				Persistence: 0.5,
				Lacunarity:  2,
			},
			Terrace: TerraceConfig{StepHeight: 6, Smoothness: 0.35},
			Warp: WarpConfig{
				Enabled:  true,
				Noise:    NoiseConfig{Frequency: 0.01, Octaves: 2, Persistence: 0.5, Lacunarity: 2},
				Strength: 12,
			},
			Overhang: OverhangConfig{
				Enabled:   true,
				Noise:     NoiseConfig{Frequency: 0.02, Octaves: 3, Persistence: 0.5, Lacunarity: 2},
				Strength:  8,
				BandWidth: 12,
			},
			Islands: IslandConfig{
				Noise:             NoiseConfig{Frequency: 0.008, Octaves: 3, Persistence: 0.5, Lacunarity: 2},
				Strength:          24,
				Threshold:         0.3,
				Softness:          0.15,
				MinY:              40,
				MaxY:              160,
				EdgeFalloff:       12,
				FlatTop:           true,
				TopFraction:       0.7,
				Underside:         NoiseConfig{Frequency: 0.05, Octaves: 2, Persistence: 0.5, Lacunarity: 2},
				UndersideStrength: 6,
				Smoothness:        4,
			},
			Caves: CaveConfig{
				Enabled:           true,
				Noise:             NoiseConfig{Frequency: 0.03, Octaves: 3, Persistence: 0.5, Lacunarity: 2},
				Strength:          20,
				Threshold:         0.55,
				Softness:          0.1,
				MinDepth:          4,
				MaxDepth:          64,
				BiasBelowSeaLevel: true,
			},
			Probe: ProbeConfig{Resolution: 4, VolumetricResolution: 6},
		},
		Biomes: BiomeConfig{
			Biomes: []BiomeDescriptor{
				{Name: "plains", Weight: 1, Material: "grass", MapColor: "#6fa34a"},
				{Name: "forest", Weight: 1, Material: "moss", MapColor: "#2f6b2f"},
				{Name: "desert", Weight: 0.6, StartDistance: 256, Material: "sand", MapColor: "#d8c078"},
				{Name: "tundra", Weight: 0.5, StartDistance: 512, Material: "snow", MapColor: "#c8d4dc"},
				{Name: "ocean", HeightOnly: true, Material: "seabed", MapColor: "#2a4d7a"},
				{Name: "mountain", HeightOnly: true, Material: "rock", MapColor: "#8a8580"},
			},
			SearchRadius:    2,
			BlendWidth:      24,
			Warp:            BiomeWarpConfig{Enabled: true, Frequency: 0.002, Octaves: 2, Strength: 40},
			SeaLevel:        0,
			UnderwaterBlend: 6,
			UnderwaterBiome: "ocean",
			MountainStart:   48,
			MountainBlend:   12,
			MountainBiome:   "mountain",
			PaletteSamples:  9,
		},
		Streaming: StreamingConfig{
			ViewRadius:          6,
			Circular:            true,
			VerticalMode:        "band",
			VerticalBand:        2,
			NearFirst:           true,
			VerticalWeight:      2,
			CreateBudgetPlay:    8,
			CreateBudgetPreview: 32,
			WaitForInitial:      true,
			ColliderRadius:      64,
			ColliderChecks:      16,
			ResultsPerTick:      8,
			ShutdownTimeout:     Duration(2 * time.Second),
		},
		Workers: WorkerConfig{Headroom: 1},
		Map: MapConfig{
			Resolution: 256,
			Span:       512,
			Background: "#0a0a12",
			Shading:    []string{"#1b2a4a", "#3d7a3d", "#c2b280", "#ffffff"},
		},
		Viewer: ViewerConfig{
			Start:    [3]float64{0, 24, 0},
			Velocity: [3]float64{4, 0, 0},
		},
	}
}

// Load reads configuration from a JSON or YAML file. An empty path returns
// defaults. Values missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := Decode(data, filepath.Ext(path), cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Decode parses data into cfg, choosing YAML for ".yml"/".yaml" and JSON
// otherwise.
func Decode(data []byte, ext string, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.ID == "" {
		errs = append(errs, errors.New("server.id must be set"))
	}
	if c.Server.TickRate <= 0 {
		errs = append(errs, errors.New("server.tickRate must be positive"))
	}
	if c.World.PointsPerAxis < 3 {
		errs = append(errs, errors.New("world.pointsPerAxis must be at least 3"))
	}
	if c.World.VoxelSize <= 0 {
		errs = append(errs, errors.New("world.voxelSize must be positive"))
	}
	if c.World.MinChunkY > c.World.MaxChunkY {
		errs = append(errs, errors.New("world.minChunkY must be <= world.maxChunkY"))
	}
	switch c.Density.Mode {
	case "surface", "volumetric":
	default:
		errs = append(errs, fmt.Errorf("density.mode must be 'surface' or 'volumetric', got %q", c.Density.Mode))
	}
	if c.Streaming.ViewRadius < 0 {
		errs = append(errs, errors.New("streaming.viewRadius cannot be negative"))
	}
	switch c.Streaming.VerticalMode {
	case "band", "full":
	default:
		errs = append(errs, fmt.Errorf("streaming.verticalMode must be 'band' or 'full', got %q", c.Streaming.VerticalMode))
	}
	if c.Workers.Count < 0 || c.Workers.Headroom < 0 {
		errs = append(errs, errors.New("workers.count and workers.headroom cannot be negative"))
	}
	if c.Biomes.SearchRadius < 0 || c.Biomes.SearchRadius > 4 {
		errs = append(errs, errors.New("biomes.searchRadius must be within 0..4"))
	}
	for i, b := range c.Biomes.Biomes {
		if b.Name == "" {
			errs = append(errs, fmt.Errorf("biomes.biomes[%d].name must be set", i))
		}
		if b.Weight < 0 {
			errs = append(errs, fmt.Errorf("biomes.biomes[%d].weight cannot be negative", i))
		}
		if b.MapColor != "" && !isValidColor(b.MapColor) {
			errs = append(errs, fmt.Errorf("biomes.biomes[%d].mapColor must be a CSS color, got %q", i, b.MapColor))
		}
	}
	if c.Map.Resolution < 0 {
		errs = append(errs, errors.New("map.resolution cannot be negative"))
	}
	if c.Map.Background != "" && !isValidColor(c.Map.Background) {
		errs = append(errs, fmt.Errorf("map.background must be a CSS color, got %q", c.Map.Background))
	}
	for i, stop := range c.Map.Shading {
		if !isValidColor(stop) {
			errs = append(errs, fmt.Errorf("map.shading[%d] must be a CSS color, got %q", i, stop))
		}
	}
	return errors.Join(errs...)
}

func isValidColor(s string) bool {
	_, err := csscolorparser.Parse(s)
	return err == nil
}
