package voxel

import "github.com/go-gl/mathgl/mgl32"

// ByteToIso maps a stored isolevel byte to [-1, 1).
func ByteToIso(v uint8) float32 {
	return (float32(v) - 128) / 128
}

// IsoToByte quantizes an isolevel in [-1, 1] to a byte, saturating.
func IsoToByte(v float32) uint8 {
	i := int(128*v + 128)
	if i < 0 {
		return 0
	}
	if i > 255 {
		return 255
	}
	return uint8(i)
}

func (b *Buffer) VoxelIso(x, y, z, ch int) float32 {
	return ByteToIso(b.Voxel(x, y, z, ch))
}

func (b *Buffer) SetVoxelIso(value float32, x, y, z, ch int) error {
	return b.SetVoxel(IsoToByte(value), x, y, z, ch)
}

func (b *Buffer) FillIso(value float32, ch int) error {
	return b.Fill(IsoToByte(value), ch)
}

// ComputeGradients derives the three gradient channels from the isolevel
// channel using central differences. A one-voxel border on every axis is
// skipped and keeps its previous values, so callers wanting gradients on the
// whole block must pass a buffer padded by at least one voxel.
func (b *Buffer) ComputeGradients() {
	iso := b.channels[ChannelIsolevel].data
	if iso == nil {
		zero := IsoToByte(0)
		_ = b.Fill(zero, ChannelGradientX)
		_ = b.Fill(zero, ChannelGradientY)
		_ = b.Fill(zero, ChannelGradientZ)
		return
	}

	for _, ch := range [...]int{ChannelGradientX, ChannelGradientY, ChannelGradientZ} {
		if b.channels[ch].data == nil {
			b.materialize(ch)
		}
	}
	gx := b.channels[ChannelGradientX].data
	gy := b.channels[ChannelGradientY].data
	gz := b.channels[ChannelGradientZ].data

	strideY := 1
	strideX := b.size.Y
	strideZ := b.size.Y * b.size.X

	for z := 1; z < b.size.Z-1; z++ {
		for x := 1; x < b.size.X-1; x++ {
			i := b.index(x, 1, z)
			for y := 1; y < b.size.Y-1; y++ {
				v := mgl32.Vec3{
					ByteToIso(iso[i+strideX]) - ByteToIso(iso[i-strideX]),
					ByteToIso(iso[i+strideY]) - ByteToIso(iso[i-strideY]),
					ByteToIso(iso[i+strideZ]) - ByteToIso(iso[i-strideZ]),
				}
				if l := v.Len(); l > 0 {
					v = v.Mul(1 / l)
				}
				gx[i] = IsoToByte(v[0])
				gy[i] = IsoToByte(v[1])
				gz[i] = IsoToByte(v[2])
				i++
			}
		}
	}
}
