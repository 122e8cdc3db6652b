package tuning

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"voxelterrain.ai/internal/sim/logic/mathx"
	"voxelterrain.ai/internal/sim/terrain/gen"
)

type Tuning struct {
	BlockSize []int `yaml:"block_size"`
	LODCount  int   `yaml:"lod_count"`

	TickRateHz   int `yaml:"tick_rate_hz"`
	TickBudgetUs int `yaml:"tick_budget_us"`
	EditQueue    int `yaml:"edit_queue"`

	// ViewDistance is the radius, in blocks, kept loaded around the viewer.
	ViewDistance       int  `yaml:"view_distance"`
	GenerateCollisions bool `yaml:"generate_collisions"`
	SaveOnExit         bool `yaml:"save_on_exit"`

	DataDir string `yaml:"data_dir"`

	Worldgen Worldgen `yaml:"worldgen"`
}

type Worldgen struct {
	Seed                  int64 `yaml:"seed"`
	SeaLevel              int   `yaml:"sea_level"`
	Amplitude             int   `yaml:"amplitude"`
	NoiseCell             int   `yaml:"noise_cell"`
	Octaves               int   `yaml:"octaves"`
	BiomeRegionSize       int   `yaml:"biome_region_size"`
	SoilDepth             int   `yaml:"soil_depth"`
	OreClusterPermille    int   `yaml:"ore_cluster_permille"`
	GravelClusterPermille int   `yaml:"gravel_cluster_permille"`
}

// Load reads a tuning file over the defaults. An empty path yields the
// defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		t.Normalize()
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func Defaults() Tuning {
	g := gen.DefaultConfig()
	return Tuning{
		BlockSize:          []int{16, 16, 16},
		LODCount:           1,
		TickRateHz:         20,
		TickBudgetUs:       16666,
		EditQueue:          1024,
		ViewDistance:       4,
		GenerateCollisions: true,
		SaveOnExit:         true,
		DataDir:            "./data",
		Worldgen: Worldgen{
			Seed:                  g.Seed,
			SeaLevel:              g.SeaLevel,
			Amplitude:             g.Amplitude,
			NoiseCell:             g.NoiseCell,
			Octaves:               g.Octaves,
			BiomeRegionSize:       g.BiomeRegionSize,
			SoilDepth:             g.SoilDepth,
			OreClusterPermille:    g.OreClusterPermille,
			GravelClusterPermille: g.GravelClusterPermille,
		},
	}
}

// Normalize fills zero values that have an obvious default.
func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	// A single value means a cubic block.
	if len(t.BlockSize) == 1 {
		t.BlockSize = []int{t.BlockSize[0], t.BlockSize[0], t.BlockSize[0]}
	}
	if len(t.BlockSize) == 0 {
		t.BlockSize = []int{16, 16, 16}
	}
	if t.LODCount == 0 {
		t.LODCount = 1
	}
	if t.EditQueue <= 0 {
		t.EditQueue = 1024
	}
	if t.Worldgen.Octaves == 0 {
		t.Worldgen.Octaves = 1
	}
	t.DataDir = strings.TrimSpace(t.DataDir)
}

func (t Tuning) Validate() error {
	if len(t.BlockSize) != 3 {
		return fmt.Errorf("block_size must have 3 entries, got %d", len(t.BlockSize))
	}
	for i, v := range t.BlockSize {
		if v <= 0 || v > 256 {
			return fmt.Errorf("block_size[%d] must be in [1, 256], got %d", i, v)
		}
	}
	if t.LODCount < 1 || t.LODCount > 255 {
		return fmt.Errorf("lod_count must be in [1, 255], got %d", t.LODCount)
	}
	if t.TickRateHz <= 0 {
		return fmt.Errorf("tick_rate_hz must be > 0")
	}
	if t.TickBudgetUs <= 0 {
		return fmt.Errorf("tick_budget_us must be > 0")
	}
	if t.ViewDistance < 0 {
		return fmt.Errorf("view_distance must be >= 0")
	}
	if t.Worldgen.NoiseCell <= 0 {
		return fmt.Errorf("worldgen.noise_cell must be > 0")
	}
	if t.Worldgen.BiomeRegionSize <= 0 {
		return fmt.Errorf("worldgen.biome_region_size must be > 0")
	}
	if t.Worldgen.Octaves < 0 || t.Worldgen.Octaves > 8 {
		return fmt.Errorf("worldgen.octaves must be in [0, 8]")
	}
	return nil
}

func (t Tuning) BlockSizeVec() mathx.Vec3i {
	if len(t.BlockSize) != 3 {
		return mathx.Splat(16)
	}
	return mathx.V(t.BlockSize[0], t.BlockSize[1], t.BlockSize[2])
}

func (t Tuning) TickInterval() time.Duration {
	if t.TickRateHz <= 0 {
		return time.Second / 20
	}
	return time.Second / time.Duration(t.TickRateHz)
}

func (t Tuning) Budget() time.Duration {
	return time.Duration(t.TickBudgetUs) * time.Microsecond
}

func (t Tuning) GenConfig() gen.Config {
	w := t.Worldgen
	return gen.Config{
		Seed:                  w.Seed,
		SeaLevel:              w.SeaLevel,
		Amplitude:             w.Amplitude,
		NoiseCell:             w.NoiseCell,
		Octaves:               w.Octaves,
		BiomeRegionSize:       w.BiomeRegionSize,
		SoilDepth:             w.SoilDepth,
		OreClusterPermille:    w.OreClusterPermille,
		GravelClusterPermille: w.GravelClusterPermille,
	}
}
