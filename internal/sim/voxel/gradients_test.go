package voxel

import "testing"

func TestIsoByteMapping(t *testing.T) {
	if IsoToByte(0) != 128 {
		t.Fatalf("IsoToByte(0) = %d", IsoToByte(0))
	}
	if IsoToByte(-2) != 0 || IsoToByte(2) != 255 {
		t.Fatalf("IsoToByte does not saturate")
	}
	if ByteToIso(128) != 0 {
		t.Fatalf("ByteToIso(128) = %v", ByteToIso(128))
	}
}

func TestComputeGradientsUniformIsZero(t *testing.T) {
	b := NewBuffer(4, 4, 4)
	b.ComputeGradients()
	for _, ch := range []int{ChannelGradientX, ChannelGradientY, ChannelGradientZ} {
		if b.IsDense(ch) {
			t.Fatalf("%s materialized for uniform isolevel", ChannelName(ch))
		}
		if got := b.DefaultValue(ch); got != IsoToByte(0) {
			t.Fatalf("%s = %d, want zero vector", ChannelName(ch), got)
		}
	}
}

func TestComputeGradientsAlongY(t *testing.T) {
	b := NewBuffer(5, 5, 5)
	// Isolevel increases with y only, so the gradient points along +Y.
	for z := 0; z < 5; z++ {
		for y := 0; y < 5; y++ {
			for x := 0; x < 5; x++ {
				_ = b.SetVoxelIso(float32(y)*0.2-0.5, x, y, z, ChannelIsolevel)
			}
		}
	}
	b.ComputeGradients()

	if got := b.Voxel(2, 2, 2, ChannelGradientY); got != 255 {
		t.Fatalf("gradient y = %d, want 255", got)
	}
	if got := b.Voxel(2, 2, 2, ChannelGradientX); got != 128 {
		t.Fatalf("gradient x = %d, want 128", got)
	}
	if got := b.Voxel(2, 2, 2, ChannelGradientZ); got != 128 {
		t.Fatalf("gradient z = %d, want 128", got)
	}
	// Border voxels keep their previous value.
	if got := b.Voxel(0, 2, 2, ChannelGradientY); got != 0 {
		t.Fatalf("border gradient written: %d", got)
	}
}
