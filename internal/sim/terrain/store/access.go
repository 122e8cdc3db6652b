package store

import (
	"sort"

	"voxelterrain.ai/internal/sim/logic/mathx"
	"voxelterrain.ai/internal/sim/voxel"
)

// Keys returns every resident block coordinate, sorted by x, then y, then z.
func (m *ChunkMap) Keys() []mathx.Vec3i {
	keys := make([]mathx.Vec3i, 0, len(m.blocks))
	for k := range m.blocks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].X != keys[j].X {
			return keys[i].X < keys[j].X
		}
		if keys[i].Y != keys[j].Y {
			return keys[i].Y < keys[j].Y
		}
		return keys[i].Z < keys[j].Z
	})
	return keys
}

// IsBlockSurrounded reports whether all 26 neighbours of bpos are resident.
func (m *ChunkMap) IsBlockSurrounded(bpos mathx.Vec3i) bool {
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				if !m.HasBlock(bpos.Add(mathx.V(dx, dy, dz))) {
					return false
				}
			}
		}
	}
	return true
}

// Voxel reads a world-space voxel. Absent blocks read as 0.
func (m *ChunkMap) Voxel(pos mathx.Vec3i, ch int) uint8 {
	b := m.blocks[m.VoxelToBlock(pos)]
	if b == nil || b.Voxels == nil {
		return 0
	}
	return b.Voxels.VoxelV(m.ToLocal(pos), ch)
}

// SetVoxel writes a world-space voxel. It reports false when the owning block
// is not resident.
func (m *ChunkMap) SetVoxel(value uint8, pos mathx.Vec3i, ch int) bool {
	b := m.blocks[m.VoxelToBlock(pos)]
	if b == nil || b.Voxels == nil {
		return false
	}
	return b.Voxels.SetVoxelV(value, m.ToLocal(pos), ch) == nil
}

// BufferCopy fills the listed channels of dst with the world region starting
// at minPos and spanning dst's extent. Regions over absent blocks are set to 0.
func (m *ChunkMap) BufferCopy(minPos mathx.Vec3i, dst *voxel.Buffer, channels ...int) {
	size := dst.Size()
	maxPos := minPos.Add(size)
	bmin := m.VoxelToBlock(minPos)
	bmax := m.VoxelToBlock(maxPos.Sub(mathx.Splat(1)))

	for _, ch := range channels {
		_ = dst.ClearChannel(ch, 0)
	}
	for bz := bmin.Z; bz <= bmax.Z; bz++ {
		for bx := bmin.X; bx <= bmax.X; bx++ {
			for by := bmin.Y; by <= bmax.Y; by++ {
				bpos := mathx.V(bx, by, bz)
				b := m.blocks[bpos]
				if b == nil || b.Voxels == nil {
					continue
				}
				origin := m.BlockToVoxel(bpos)
				// Block-local source box, then the matching destination offset.
				srcMin := minPos.Sub(origin).Clamp(mathx.Vec3i{}, m.blockSize)
				srcMax := maxPos.Sub(origin).Clamp(mathx.Vec3i{}, m.blockSize)
				dstMin := origin.Add(srcMin).Sub(minPos)
				for _, ch := range channels {
					_ = dst.CopyFromArea(b.Voxels, srcMin, srcMax, dstMin, ch)
				}
			}
		}
	}
}
