package terrain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"voxelterrain.ai/internal/sim/logic/mathx"
	"voxelterrain.ai/internal/sim/logic/raycast"
	"voxelterrain.ai/internal/sim/voxel"
)

// Edits accepts voxel writes from other goroutines. They are applied at the
// start of the next tick of Run.
func (t *Terrain) Edits() chan<- EditEntry { return t.edits }

// Run ticks the terrain every interval until ctx is done or Stop is called.
func (t *Terrain) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = t.budget
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingEdits []EditEntry

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.stop:
			return nil
		case e := <-t.edits:
			pendingEdits = append(pendingEdits, e)
		case <-ticker.C:
			t.step(pendingEdits)
			pendingEdits = pendingEdits[:0]
		}
	}
}

// Stop ends Run. It is safe to call more than once.
func (t *Terrain) Stop() { t.stopOnce.Do(func() { close(t.stop) }) }

// step applies queued edits, follows the viewer, runs one Update and
// notifies observers.
func (t *Terrain) step(edits []EditEntry) TickStats {
	for _, e := range edits {
		e.Tick = t.tick + 1
		e.Applied = t.SetVoxel(e.Value, e.Pos, e.Channel)
		for _, o := range t.editObservers {
			if err := o.WriteEdit(e); err != nil {
				t.logger.Printf("terrain: edit observer: %v", err)
			}
		}
	}
	t.followViewer()
	st := t.Update()
	if st.Processed == 0 {
		return st
	}
	for _, o := range t.tickObservers {
		if err := o.WriteTick(st); err != nil {
			t.logger.Printf("terrain: tick observer: %v", err)
		}
	}
	return st
}

// Raycast returns the first voxel along the ray whose type is not air.
func (t *Terrain) Raycast(origin, dir mgl32.Vec3, maxDistance float32) (raycast.Hit, bool) {
	return raycast.Cast(origin, dir, maxDistance, func(pos mathx.Vec3i) bool {
		return t.blocks.Voxel(pos, voxel.ChannelType) != 0
	})
}

// SaveBlocks immerges every resident block through the Saver. It keeps going
// after a failure and returns all errors joined.
func (t *Terrain) SaveBlocks() error {
	if t.saver == nil {
		return nil
	}
	var errs []error
	for _, bpos := range t.blocks.Keys() {
		if err := t.saveBlock(bpos); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Terrain) saveBlock(bpos mathx.Vec3i) error {
	b := t.blocks.GetBlock(bpos)
	if b == nil || b.Voxels == nil {
		return nil
	}
	if err := t.saver.ImmergeBlock(b.Voxels, t.blocks.BlockToVoxel(bpos), 0); err != nil {
		return fmt.Errorf("save block %v: %w", bpos, err)
	}
	return nil
}

// UnloadBlock drops a resident block, saving it first when save is set, and
// destroys its presentation. The block leaves the pending set.
func (t *Terrain) UnloadBlock(bpos mathx.Vec3i, save bool) error {
	if !t.blocks.HasBlock(bpos) {
		return nil
	}
	if save && t.saver != nil {
		if err := t.saveBlock(bpos); err != nil {
			return err
		}
	}
	b := t.blocks.RemoveBlock(bpos)
	t.dirty.remove(bpos)
	if b != nil && b.Shown != 0 && t.presenter != nil {
		t.presenter.Remove(bpos)
	}
	return nil
}

// PointViewer is a Viewer whose position is set from another goroutine.
type PointViewer struct {
	mu  sync.Mutex
	pos mgl32.Vec3
}

func (v *PointViewer) Position() mgl32.Vec3 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pos
}

func (v *PointViewer) SetPosition(p mgl32.Vec3) {
	v.mu.Lock()
	v.pos = p
	v.mu.Unlock()
}
