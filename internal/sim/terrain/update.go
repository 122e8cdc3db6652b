package terrain

import (
	"voxelterrain.ai/internal/sim/logic/mathx"
	"voxelterrain.ai/internal/sim/terrain/store"
	"voxelterrain.ai/internal/sim/voxel"
)

// paddedChannels are copied into the padded buffer handed to the mesher.
var paddedChannels = []int{voxel.ChannelType, voxel.ChannelIsolevel}

// ViewerBlock is the block holding the viewer, or the origin without one.
func (t *Terrain) ViewerBlock() mathx.Vec3i {
	if t.viewer == nil {
		return mathx.Vec3i{}
	}
	return t.blocks.VoxelToBlock(mathx.FromVec3(t.viewer.Position()))
}

// Update processes pending blocks nearest to the viewer first, until none
// remain or the budget is used. Blocks left over stay pending.
func (t *Terrain) Update() TickStats {
	t.tick++
	start := t.now()
	ref := t.ViewerBlock()
	st := TickStats{Tick: t.tick, Viewer: ref}

	t.dirty.sortFarthestFirst(ref)
	for t.dirty.len() > 0 && t.now().Sub(start) < t.budget {
		bpos := t.dirty.pop()
		t.processBlock(bpos, &st)
		st.Processed++
	}

	st.Remaining = t.dirty.len()
	st.ElapsedMicros = t.now().Sub(start).Microseconds()
	return st
}

func (t *Terrain) processBlock(bpos mathx.Vec3i, st *TickStats) {
	fresh := false
	if !t.blocks.HasBlock(bpos) {
		if t.provider == nil {
			// Nothing can produce it; refresh is a no-op for absent blocks.
			return
		}
		size := t.blocks.BlockSize()
		buf := voxel.NewBuffer(size.X, size.Y, size.Z)
		if err := t.provider.EmergeBlock(buf, t.blocks.BlockToVoxel(bpos), 0); err != nil {
			t.logger.Printf("terrain: emerge block %v: %v", bpos, err)
			st.Skipped++
			return
		}
		if buf.Size() != size {
			t.logger.Printf("terrain: provider returned %v for block %v, want %v", buf.Size(), bpos, size)
			st.Skipped++
			return
		}
		t.blocks.SetBlockBuffer(bpos, buf)
		st.Emerged++
		fresh = true
	}

	if !fresh {
		t.refreshBlock(bpos, st)
		return
	}
	// Neighbours may have been waiting for this block to complete their padding.
	for dz := -1; dz <= 1; dz++ {
		for dx := -1; dx <= 1; dx++ {
			for dy := -1; dy <= 1; dy++ {
				npos := bpos.Add(mathx.V(dx, dy, dz))
				if t.blocks.IsBlockSurrounded(npos) {
					t.refreshBlock(npos, st)
				}
			}
		}
	}
}

// refreshBlock rebuilds the presentation of a resident block.
func (t *Terrain) refreshBlock(bpos mathx.Vec3i, st *TickStats) {
	b := t.blocks.GetBlock(bpos)
	if b == nil || b.Voxels == nil {
		return
	}
	origin := t.blocks.BlockToVoxel(bpos)

	// Judge by content: an edited block can be Dense and still all air.
	if b.Voxels.IsUniform(voxel.ChannelType) && b.Voxels.Voxel(0, 0, 0, voxel.ChannelType) == 0 {
		if b.Shown != 0 && t.presenter != nil {
			t.presenter.Clear(bpos)
			st.Cleared++
		}
		return
	}
	if t.mesher == nil {
		return
	}

	size := t.blocks.BlockSize().Add(mathx.Splat(2))
	padded := voxel.NewBuffer(size.X, size.Y, size.Z)
	t.blocks.BufferCopy(origin.Sub(mathx.Splat(1)), padded, paddedChannels...)
	mesh := t.mesher.Build(padded)
	st.Meshed++

	if t.presenter == nil {
		return
	}
	t.presenter.UpdateMesh(bpos, origin, mesh)
	b.Shown |= store.HasMesh
	if t.generateCollisions {
		t.presenter.UpdateCollision(bpos, origin, mesh)
		b.Shown |= store.HasCollision
	}
}
