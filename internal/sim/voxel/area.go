package voxel

import "voxelterrain.ai/internal/sim/logic/mathx"

// FillArea fills the box [min, max) of a channel with value. Corners may be
// given in any order and are clamped to the buffer.
func (b *Buffer) FillArea(value uint8, min, max mathx.Vec3i, ch int) error {
	if !validChannel(ch) {
		return ErrChannelIndex
	}
	min, max = mathx.SortMinMax(min, max)
	zero := mathx.Vec3i{}
	min = min.Clamp(zero, b.size)
	max = max.Clamp(zero, b.size)
	area := max.Sub(min)
	if area.HasZero() {
		return nil
	}

	c := &b.channels[ch]
	if c.data == nil {
		if c.defval == value {
			return nil
		}
		b.materialize(ch)
	}
	for z := min.Z; z < max.Z; z++ {
		for x := min.X; x < max.X; x++ {
			i := b.index(x, min.Y, z)
			fillBytes(c.data[i:i+area.Y], value)
		}
	}
	return nil
}

// CopyFromArea copies the box [srcMin, srcMax) of other's channel to dstMin
// in this buffer. Boxes are clamped to both buffers.
func (b *Buffer) CopyFromArea(other *Buffer, srcMin, srcMax, dstMin mathx.Vec3i, ch int) error {
	if !validChannel(ch) {
		return ErrChannelIndex
	}
	zero := mathx.Vec3i{}
	srcMin, srcMax = mathx.SortMinMax(srcMin, srcMax)
	srcMin = srcMin.Clamp(zero, other.size)
	srcMax = srcMax.Clamp(zero, other.size)
	dstMin = dstMin.Clamp(zero, b.size)

	area := srcMax.Sub(srcMin).Min(b.size.Sub(dstMin))
	if area.HasZero() {
		return nil
	}
	if area == b.size && other.size == b.size {
		return b.CopyFrom(other, ch)
	}

	c := &b.channels[ch]
	oc := &other.channels[ch]
	if oc.data != nil {
		if c.data == nil {
			b.materialize(ch)
		}
		for z := 0; z < area.Z; z++ {
			for x := 0; x < area.X; x++ {
				si := other.index(srcMin.X+x, srcMin.Y, srcMin.Z+z)
				di := b.index(dstMin.X+x, dstMin.Y, dstMin.Z+z)
				copy(c.data[di:di+area.Y], oc.data[si:si+area.Y])
			}
		}
		return nil
	}

	if c.data == nil {
		if c.defval == oc.defval {
			return nil
		}
		b.materialize(ch)
	}
	for z := 0; z < area.Z; z++ {
		for x := 0; x < area.X; x++ {
			di := b.index(dstMin.X+x, dstMin.Y, dstMin.Z+z)
			fillBytes(c.data[di:di+area.Y], oc.defval)
		}
	}
	return nil
}
