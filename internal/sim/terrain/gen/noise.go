package gen

import "voxelterrain.ai/internal/sim/logic/mathx"

func BiomeFrom(noise uint64) Biome {
	switch noise % 3 {
	case 0:
		return BiomePlains
	case 1:
		return BiomeForest
	default:
		return BiomeDesert
	}
}

func BiomeAt(seed int64, x, z, regionSize int) Biome {
	if regionSize <= 0 {
		regionSize = 1
	}
	rx := mathx.FloorDiv(x, regionSize)
	rz := mathx.FloorDiv(z, regionSize)
	return BiomeFrom(mathx.Hash2(seed, rx, rz))
}

func ClampPermille(v int) int {
	return mathx.ClampInt(v, 0, 1000)
}

func ScalePermille(base uint64, scalePermille int) uint64 {
	if scalePermille <= 0 {
		scalePermille = 1000
	}
	scaled := (base*uint64(scalePermille) + 500) / 1000
	if scaled > 1000 {
		return 1000
	}
	return scaled
}

// InCluster reports whether (x, z) lies within radius of a cluster centre.
// Each grid cell holds at most one centre, present with probability
// probPermille/1000 at a hashed offset inside the cell.
func InCluster(seed int64, x, z, grid, radius int, probPermille uint64) bool {
	if grid <= 0 || radius <= 0 || probPermille == 0 {
		return false
	}
	gx := mathx.FloorDiv(x, grid)
	gz := mathx.FloorDiv(z, grid)
	r2 := radius * radius

	for dz := -1; dz <= 1; dz++ {
		for dx := -1; dx <= 1; dx++ {
			cgx := gx + dx
			cgz := gz + dz
			h := mathx.Hash2(seed, cgx, cgz)
			if h%1000 >= probPermille {
				continue
			}

			ox := int((h >> 10) % uint64(grid))
			oz := int((h >> 20) % uint64(grid))
			cx := cgx*grid + ox
			cz := cgz*grid + oz

			ddx := x - cx
			ddz := z - cz
			if ddx*ddx+ddz*ddz <= r2 {
				return true
			}
		}
	}
	return false
}

// lattice returns a value in [0, 1) for an integer lattice point.
func lattice(seed int64, x, z int) float64 {
	return float64(mathx.Hash2(seed, x, z)>>11) / (1 << 53)
}

func smooth(t float64) float64 { return t * t * (3 - 2*t) }

// ValueNoise2 is bilinear value noise with a smoothstep fade, in [0, 1).
// cell is the lattice spacing in voxels.
func ValueNoise2(seed int64, x, z float64, cell int) float64 {
	if cell <= 0 {
		cell = 1
	}
	fx := x / float64(cell)
	fz := z / float64(cell)
	ix := floorInt(fx)
	iz := floorInt(fz)
	tx := smooth(fx - float64(ix))
	tz := smooth(fz - float64(iz))

	a := lattice(seed, ix, iz)
	b := lattice(seed, ix+1, iz)
	c := lattice(seed, ix, iz+1)
	d := lattice(seed, ix+1, iz+1)
	ab := a + (b-a)*tx
	cd := c + (d-c)*tx
	return ab + (cd-ab)*tz
}

func floorInt(v float64) int {
	i := int(v)
	if v < 0 && float64(i) != v {
		i--
	}
	return i
}
