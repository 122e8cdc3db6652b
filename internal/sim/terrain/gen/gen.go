// Package gen procedurally fills voxel blocks with a heightmap terrain. It is
// the fallback provider used when a block has never been saved.
package gen

import (
	"voxelterrain.ai/internal/sim/logic/mathx"
	"voxelterrain.ai/internal/sim/voxel"
)

type Biome string

const (
	BiomePlains Biome = "PLAINS"
	BiomeForest Biome = "FOREST"
	BiomeDesert Biome = "DESERT"
)

// Material ids stored in the type channel. 0 is empty space.
const (
	Air uint8 = iota
	Stone
	Dirt
	Grass
	Sand
	Gravel
	CoalOre
	IronOre
)

var materialNames = [...]string{"AIR", "STONE", "DIRT", "GRASS", "SAND", "GRAVEL", "COAL_ORE", "IRON_ORE"}

// MaterialNames lists material names indexed by id.
func MaterialNames() []string { return append([]string(nil), materialNames[:]...) }

type Config struct {
	Seed int64

	// SeaLevel is the terrain height where the noise is 0.5.
	SeaLevel int
	// Amplitude is the height swing of the largest octave, in voxels.
	Amplitude int
	// NoiseCell is the lattice spacing of the largest octave, in voxels.
	NoiseCell int
	Octaves   int

	BiomeRegionSize       int
	SoilDepth             int
	OreClusterPermille    int
	GravelClusterPermille int
}

func DefaultConfig() Config {
	return Config{
		Seed:                  1,
		SeaLevel:              0,
		Amplitude:             24,
		NoiseCell:             64,
		Octaves:               3,
		BiomeRegionSize:       256,
		SoilDepth:             3,
		OreClusterPermille:    1000,
		GravelClusterPermille: 1000,
	}
}

type Generator struct {
	cfg Config
}

func New(cfg Config) *Generator {
	if cfg.NoiseCell <= 0 {
		cfg.NoiseCell = 1
	}
	if cfg.Octaves <= 0 {
		cfg.Octaves = 1
	}
	return &Generator{cfg: cfg}
}

func (g *Generator) Config() Config { return g.cfg }

// HeightAt returns the terrain surface height at world column (x, z).
func (g *Generator) HeightAt(x, z int) float64 {
	var sum, norm float64
	amp := 1.0
	cell := g.cfg.NoiseCell
	for o := 0; o < g.cfg.Octaves; o++ {
		sum += amp * ValueNoise2(g.cfg.Seed+int64(o)*7919, float64(x), float64(z), cell)
		norm += amp
		amp *= 0.5
		if cell > 1 {
			cell /= 2
		}
	}
	n := sum / norm
	return float64(g.cfg.SeaLevel) + (n-0.5)*2*float64(g.cfg.Amplitude)
}

// MaterialAt returns the material of a solid voxel at depth below the surface.
func (g *Generator) MaterialAt(x, y, z int, depth float64, biome Biome) uint8 {
	s := g.cfg.Seed
	if depth >= float64(g.cfg.SoilDepth) {
		switch {
		case InCluster(s+101, x+y*31, z, 24, 2, ScalePermille(300, g.cfg.OreClusterPermille)):
			return IronOre
		case InCluster(s+102, x, z+y*17, 16, 2, ScalePermille(450, g.cfg.OreClusterPermille)):
			return CoalOre
		case InCluster(s+103, x, z, 48, 3, ScalePermille(180, g.cfg.GravelClusterPermille)):
			return Gravel
		}
		return Stone
	}
	switch biome {
	case BiomeDesert:
		return Sand
	case BiomeForest, BiomePlains:
		if depth < 1 {
			return Grass
		}
	}
	return Dirt
}

// EmergeBlock fills buf for the block whose lod-0 voxel origin is origin. At
// lod L every buffer voxel covers 2^L world voxels per axis.
func (g *Generator) EmergeBlock(buf *voxel.Buffer, origin mathx.Vec3i, lod int) error {
	size := buf.Size()
	step := 1 << uint(lod)
	buf.Clear()
	_ = buf.ClearChannel(voxel.ChannelType, Air)
	_ = buf.ClearChannel(voxel.ChannelIsolevel, voxel.IsoToByte(1))

	for z := 0; z < size.Z; z++ {
		for x := 0; x < size.X; x++ {
			wx := origin.X + x*step
			wz := origin.Z + z*step
			h := g.HeightAt(wx, wz)
			biome := BiomeAt(g.cfg.Seed, wx, wz, g.cfg.BiomeRegionSize)
			for y := 0; y < size.Y; y++ {
				wy := origin.Y + y*step
				d := float64(wy) - h
				// Positive above the surface, negative inside, saturated a few voxels out.
				iso := float32(d / 4)
				if iso > 1 {
					iso = 1
				} else if iso < -1 {
					iso = -1
				}
				buf.TrySetVoxel(voxel.IsoToByte(iso), x, y, z, voxel.ChannelIsolevel)
				if d < 0 {
					buf.TrySetVoxel(g.MaterialAt(wx, wy, wz, -d, biome), x, y, z, voxel.ChannelType)
				}
			}
		}
	}
	buf.Optimize()
	return nil
}
