package terrain

import "voxelterrain.ai/internal/sim/logic/mathx"

// LoadAround queues every absent block within radius of center (Chebyshev
// distance) and unloads resident blocks farther than radius+1, saving them
// first. The extra ring keeps blocks at the edge from thrashing.
func (t *Terrain) LoadAround(center mathx.Vec3i, radius int) (queued, unloaded int) {
	for z := center.Z - radius; z <= center.Z+radius; z++ {
		for y := center.Y - radius; y <= center.Y+radius; y++ {
			for x := center.X - radius; x <= center.X+radius; x++ {
				bpos := mathx.V(x, y, z)
				if t.blocks.HasBlock(bpos) || t.dirty.has(bpos) {
					continue
				}
				t.dirty.add(bpos)
				queued++
			}
		}
	}
	for _, bpos := range t.blocks.Keys() {
		if chebyshev(bpos, center) <= radius+1 {
			continue
		}
		if err := t.UnloadBlock(bpos, true); err != nil {
			t.logger.Printf("terrain: unload %v: %v", bpos, err)
			continue
		}
		unloaded++
	}
	return queued, unloaded
}

// followViewer reloads around the viewer block whenever it changes.
func (t *Terrain) followViewer() {
	if t.viewDistance <= 0 {
		return
	}
	c := t.ViewerBlock()
	if t.hasCenter && c == t.center {
		return
	}
	t.center, t.hasCenter = c, true
	queued, unloaded := t.LoadAround(c, t.viewDistance)
	if queued > 0 || unloaded > 0 {
		t.logger.Printf("terrain: viewer at block %v: queued=%d unloaded=%d", c, queued, unloaded)
	}
}

func chebyshev(a, b mathx.Vec3i) int {
	d := a.Sub(b)
	return max(mathx.AbsInt(d.X), mathx.AbsInt(d.Y), mathx.AbsInt(d.Z))
}
