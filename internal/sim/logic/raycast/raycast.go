// Package raycast walks the voxel grid along a ray (Amanatides & Woo).
package raycast

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"voxelterrain.ai/internal/sim/logic/mathx"
)

// Predicate reports whether the voxel at pos stops the ray.
type Predicate func(pos mathx.Vec3i) bool

type Hit struct {
	// Pos is the voxel that stopped the ray.
	Pos mathx.Vec3i
	// Prev is the last voxel visited before Pos; placing a voxel there puts it
	// against the hit face.
	Prev mathx.Vec3i
	// Normal is the unit normal of the face entered, zero when the ray starts
	// inside a stopping voxel.
	Normal mathx.Vec3i
	// Distance along the normalized direction.
	Distance float32
}

// Cast visits every voxel the ray crosses, in order, up to maxDistance, and
// returns the first for which pred is true.
func Cast(origin, dir mgl32.Vec3, maxDistance float32, pred Predicate) (Hit, bool) {
	l := dir.Len()
	if l == 0 || maxDistance <= 0 || pred == nil {
		return Hit{}, false
	}
	dir = dir.Mul(1 / l)

	cell := mathx.FromVec3(origin)
	prev := cell
	var step mathx.Vec3i
	var tMax, tDelta [3]float64
	for i := 0; i < 3; i++ {
		d := float64(dir[i])
		o := float64(origin[i])
		c := float64(cell.Get(i))
		switch {
		case d > 0:
			step.Set(i, 1)
			tDelta[i] = 1 / d
			tMax[i] = (c + 1 - o) / d
		case d < 0:
			step.Set(i, -1)
			tDelta[i] = -1 / d
			tMax[i] = (c - o) / d
		default:
			tDelta[i] = math.Inf(1)
			tMax[i] = math.Inf(1)
		}
	}

	var normal mathx.Vec3i
	t := 0.0
	for t <= float64(maxDistance) {
		if pred(cell) {
			return Hit{Pos: cell, Prev: prev, Normal: normal, Distance: float32(t)}, true
		}
		axis := 0
		if tMax[1] < tMax[axis] {
			axis = 1
		}
		if tMax[2] < tMax[axis] {
			axis = 2
		}
		prev = cell
		t = tMax[axis]
		tMax[axis] += tDelta[axis]
		cell.Set(axis, cell.Get(axis)+step.Get(axis))
		normal = mathx.Vec3i{}
		normal.Set(axis, -step.Get(axis))
	}
	return Hit{}, false
}
