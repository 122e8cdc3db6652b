package voxel

import (
	"errors"
	"fmt"

	"voxelterrain.ai/internal/sim/logic/mathx"
)

// Channel indices. Channels are independent byte planes over the same grid.
const (
	ChannelType = iota
	ChannelIsolevel
	ChannelGradientX
	ChannelGradientY
	ChannelGradientZ
	ChannelData
	ChannelData2
	ChannelData3

	MaxChannels
)

var (
	ErrChannelIndex = errors.New("voxel: channel index out of range")
	ErrOutOfBounds  = errors.New("voxel: position out of bounds")
	ErrSizeMismatch = errors.New("voxel: buffer size mismatch")
)

var channelNames = [MaxChannels]string{
	"type", "isolevel", "gradient_x", "gradient_y", "gradient_z", "data", "data2", "data3",
}

func ChannelName(ch int) string {
	if ch < 0 || ch >= MaxChannels {
		return fmt.Sprintf("channel_%d", ch)
	}
	return channelNames[ch]
}

// channel is Uniform while data is nil (every voxel reads defval) and Dense
// otherwise, in which case len(data) always equals the buffer volume.
type channel struct {
	data   []uint8
	defval uint8
}

// Buffer is a fixed-extent 3D grid of MaxChannels byte channels.
// Y is the fastest-varying axis: index = y + sy*(x + sx*z).
type Buffer struct {
	size     mathx.Vec3i
	channels [MaxChannels]channel
}

func NewBuffer(sx, sy, sz int) *Buffer {
	b := &Buffer{}
	b.Create(sx, sy, sz)
	return b
}

// Create sets the extent. Dense channels are reallocated at the new extent;
// the overlapping region keeps its content and new cells take the channel
// default.
func (b *Buffer) Create(sx, sy, sz int) {
	if sx <= 0 || sy <= 0 || sz <= 0 {
		return
	}
	newSize := mathx.V(sx, sy, sz)
	if newSize == b.size {
		return
	}
	overlap := b.size.Min(newSize)
	for i := range b.channels {
		ch := &b.channels[i]
		if ch.data == nil {
			continue
		}
		data := make([]uint8, newSize.Volume())
		fillBytes(data, ch.defval)
		for z := 0; z < overlap.Z; z++ {
			for x := 0; x < overlap.X; x++ {
				src := linearIndex(b.size, x, 0, z)
				dst := linearIndex(newSize, x, 0, z)
				copy(data[dst:dst+overlap.Y], ch.data[src:src+overlap.Y])
			}
		}
		ch.data = data
	}
	b.size = newSize
}

// Clear releases every Dense channel, keeping the current defaults.
func (b *Buffer) Clear() {
	for i := range b.channels {
		b.channels[i].data = nil
	}
}

func (b *Buffer) ClearChannel(ch int, value uint8) error {
	if !validChannel(ch) {
		return ErrChannelIndex
	}
	b.channels[ch].data = nil
	b.channels[ch].defval = value
	return nil
}

func (b *Buffer) SetDefaultValues(values [MaxChannels]uint8) {
	for i := range b.channels {
		b.channels[i].defval = values[i]
	}
}

func (b *Buffer) Size() mathx.Vec3i { return b.size }
func (b *Buffer) Volume() int       { return b.size.Volume() }

func (b *Buffer) ContainsPos(x, y, z int) bool {
	return x >= 0 && x < b.size.X && y >= 0 && y < b.size.Y && z >= 0 && z < b.size.Z
}

func (b *Buffer) index(x, y, z int) int { return linearIndex(b.size, x, y, z) }

// Voxel returns the stored value, or the channel default when the position
// is outside the buffer or the channel is Uniform.
func (b *Buffer) Voxel(x, y, z, ch int) uint8 {
	if !validChannel(ch) {
		return 0
	}
	c := &b.channels[ch]
	if c.data != nil && b.ContainsPos(x, y, z) {
		return c.data[b.index(x, y, z)]
	}
	return c.defval
}

func (b *Buffer) VoxelV(pos mathx.Vec3i, ch int) uint8 {
	return b.Voxel(pos.X, pos.Y, pos.Z, ch)
}

func (b *Buffer) SetVoxel(value uint8, x, y, z, ch int) error {
	if !validChannel(ch) {
		return ErrChannelIndex
	}
	if !b.ContainsPos(x, y, z) {
		return fmt.Errorf("%w: (%d, %d, %d) in %v", ErrOutOfBounds, x, y, z, b.size)
	}
	b.write(value, x, y, z, ch)
	return nil
}

func (b *Buffer) SetVoxelV(value uint8, pos mathx.Vec3i, ch int) error {
	return b.SetVoxel(value, pos.X, pos.Y, pos.Z, ch)
}

// TrySetVoxel is SetVoxel for writes that may legitimately fall outside the
// buffer, such as stamping into a padded region. Out-of-range writes are dropped.
func (b *Buffer) TrySetVoxel(value uint8, x, y, z, ch int) {
	if !validChannel(ch) || !b.ContainsPos(x, y, z) {
		return
	}
	b.write(value, x, y, z, ch)
}

func (b *Buffer) write(value uint8, x, y, z, ch int) {
	c := &b.channels[ch]
	if c.data == nil {
		if c.defval == value {
			return
		}
		b.materialize(ch)
	}
	c.data[b.index(x, y, z)] = value
}

// Fill sets every voxel of the channel. A Uniform channel only changes its default.
func (b *Buffer) Fill(value uint8, ch int) error {
	if !validChannel(ch) {
		return ErrChannelIndex
	}
	c := &b.channels[ch]
	if c.data == nil {
		c.defval = value
		return nil
	}
	fillBytes(c.data, value)
	return nil
}

// IsUniform reports whether every voxel of the channel holds the same value.
// Dense channels are scanned.
func (b *Buffer) IsUniform(ch int) bool {
	if !validChannel(ch) {
		return true
	}
	data := b.channels[ch].data
	if data == nil {
		return true
	}
	first := data[0]
	for _, v := range data[1:] {
		if v != first {
			return false
		}
	}
	return true
}

// Optimize collapses Dense channels holding a single value back to Uniform.
func (b *Buffer) Optimize() {
	for i := range b.channels {
		c := &b.channels[i]
		if c.data != nil && b.IsUniform(i) {
			c.defval = c.data[0]
			c.data = nil
		}
	}
}

func (b *Buffer) IsDense(ch int) bool {
	return validChannel(ch) && b.channels[ch].data != nil
}

func (b *Buffer) DefaultValue(ch int) uint8 {
	if !validChannel(ch) {
		return 0
	}
	return b.channels[ch].defval
}

// ChannelRaw returns the Dense backing slice of a channel, or nil when the
// channel is Uniform. The slice is shared with the buffer.
func (b *Buffer) ChannelRaw(ch int) []uint8 {
	if !validChannel(ch) {
		return nil
	}
	return b.channels[ch].data
}

// SetChannelRaw makes the channel Dense with the given data, taking ownership
// of the slice. len(data) must equal the buffer volume.
func (b *Buffer) SetChannelRaw(ch int, data []uint8) error {
	if !validChannel(ch) {
		return ErrChannelIndex
	}
	if len(data) != b.Volume() {
		return fmt.Errorf("%w: channel data has %d bytes, volume is %d", ErrSizeMismatch, len(data), b.Volume())
	}
	b.channels[ch].data = data
	return nil
}

// CopyFrom copies a whole channel from other. Both buffers must have the same extent.
func (b *Buffer) CopyFrom(other *Buffer, ch int) error {
	if !validChannel(ch) {
		return ErrChannelIndex
	}
	if other.size != b.size {
		return fmt.Errorf("%w: copy from %v into %v", ErrSizeMismatch, other.size, b.size)
	}
	c := &b.channels[ch]
	oc := &other.channels[ch]
	if oc.data != nil {
		if c.data == nil {
			c.data = make([]uint8, b.Volume())
		}
		copy(c.data, oc.data)
	} else {
		c.data = nil
	}
	c.defval = oc.defval
	return nil
}

func (b *Buffer) materialize(ch int) {
	c := &b.channels[ch]
	c.data = make([]uint8, b.Volume())
	fillBytes(c.data, c.defval)
}

func validChannel(ch int) bool { return ch >= 0 && ch < MaxChannels }

func linearIndex(size mathx.Vec3i, x, y, z int) int {
	return y + size.Y*(x+size.X*z)
}

func fillBytes(dst []uint8, v uint8) {
	if v == 0 {
		clear(dst)
		return
	}
	for i := range dst {
		dst[i] = v
	}
}
