package terrain

import (
	"fmt"
	"slices"

	"voxelterrain.ai/internal/sim/logic/mathx"
)

// dirtySet holds pending blocks. set and queue always hold the same elements.
type dirtySet struct {
	set   map[mathx.Vec3i]struct{}
	queue []mathx.Vec3i
}

func newDirtySet() dirtySet {
	return dirtySet{set: map[mathx.Vec3i]struct{}{}}
}

func (d *dirtySet) add(bpos mathx.Vec3i) {
	if _, ok := d.set[bpos]; ok {
		return
	}
	d.set[bpos] = struct{}{}
	d.queue = append(d.queue, bpos)
}

func (d *dirtySet) has(bpos mathx.Vec3i) bool {
	_, ok := d.set[bpos]
	return ok
}

func (d *dirtySet) len() int { return len(d.queue) }

// sortFarthestFirst orders the queue so the tail is nearest to ref.
func (d *dirtySet) sortFarthestFirst(ref mathx.Vec3i) {
	slices.SortFunc(d.queue, func(a, b mathx.Vec3i) int {
		return b.DistanceSq(ref) - a.DistanceSq(ref)
	})
}

func (d *dirtySet) pop() mathx.Vec3i {
	n := len(d.queue) - 1
	bpos := d.queue[n]
	d.queue = d.queue[:n]
	delete(d.set, bpos)
	return bpos
}

func (d *dirtySet) remove(bpos mathx.Vec3i) {
	if _, ok := d.set[bpos]; !ok {
		return
	}
	delete(d.set, bpos)
	if i := slices.Index(d.queue, bpos); i >= 0 {
		d.queue = slices.Delete(d.queue, i, i+1)
	}
}

func (d *dirtySet) check() error {
	if len(d.set) != len(d.queue) {
		return fmt.Errorf("dirty set has %d entries, queue %d", len(d.set), len(d.queue))
	}
	for _, p := range d.queue {
		if _, ok := d.set[p]; !ok {
			return fmt.Errorf("queued block %v missing from dirty set", p)
		}
	}
	return nil
}

// MakeBlockDirty queues bpos for processing. Queuing a pending block is a no-op.
func (t *Terrain) MakeBlockDirty(bpos mathx.Vec3i) { t.dirty.add(bpos) }

func (t *Terrain) IsBlockDirty(bpos mathx.Vec3i) bool { return t.dirty.has(bpos) }

// MakeBlocksDirty queues every block in the box [min, min+size).
func (t *Terrain) MakeBlocksDirty(min, size mathx.Vec3i) {
	max := min.Add(size)
	for z := min.Z; z < max.Z; z++ {
		for y := min.Y; y < max.Y; y++ {
			for x := min.X; x < max.X; x++ {
				t.MakeBlockDirty(mathx.V(x, y, z))
			}
		}
	}
}

// MakeVoxelDirty queues the block owning pos and, per axis, the face
// neighbour whose padded border contains pos. Diagonal neighbours are not
// queued.
func (t *Terrain) MakeVoxelDirty(pos mathx.Vec3i) {
	bpos := t.blocks.VoxelToBlock(pos)
	t.MakeBlockDirty(bpos)

	local := t.blocks.ToLocal(pos)
	size := t.blocks.BlockSize()
	for axis := 0; axis < 3; axis++ {
		if local.Get(axis) == 0 {
			var n mathx.Vec3i
			n.Set(axis, -1)
			t.MakeBlockDirty(bpos.Add(n))
		}
		if local.Get(axis) == size.Get(axis)-1 {
			var n mathx.Vec3i
			n.Set(axis, 1)
			t.MakeBlockDirty(bpos.Add(n))
		}
	}
}

// BlockUpdateCount is the number of pending blocks.
func (t *Terrain) BlockUpdateCount() int { return t.dirty.len() }
