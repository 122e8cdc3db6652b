package encoding

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"voxelterrain.ai/internal/sim/voxel"
)

func newSerializer(t *testing.T) *BlockSerializer {
	t.Helper()
	s, err := NewBlockSerializer()
	if err != nil {
		t.Fatalf("NewBlockSerializer: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBlockSerializer_RoundTrip(t *testing.T) {
	s := newSerializer(t)

	src := voxel.NewBuffer(8, 8, 8)
	for z := 0; z < 8; z++ {
		for x := 0; x < 8; x++ {
			for y := 0; y < 3; y++ {
				_ = src.SetVoxel(uint8(1+(x+z)%4), x, y, z, voxel.ChannelType)
			}
		}
	}
	_ = src.Fill(200, voxel.ChannelIsolevel)
	_ = src.SetVoxel(17, 7, 7, 7, voxel.ChannelData3)

	payload, err := s.SerializeAndCompress(src)
	if err != nil {
		t.Fatalf("SerializeAndCompress: %v", err)
	}

	dst := voxel.NewBuffer(8, 8, 8)
	_ = dst.SetVoxel(99, 0, 0, 0, voxel.ChannelIsolevel)
	if err := s.DecompressAndDeserialize(payload, dst); err != nil {
		t.Fatalf("DecompressAndDeserialize: %v", err)
	}

	for ch := 0; ch < voxel.MaxChannels; ch++ {
		if src.IsDense(ch) != dst.IsDense(ch) {
			t.Fatalf("%s: dense %v, want %v", voxel.ChannelName(ch), dst.IsDense(ch), src.IsDense(ch))
		}
		if diff := cmp.Diff(src.ChannelRaw(ch), dst.ChannelRaw(ch)); diff != "" {
			t.Fatalf("%s mismatch (-want +got):\n%s", voxel.ChannelName(ch), diff)
		}
		if !src.IsDense(ch) && src.DefaultValue(ch) != dst.DefaultValue(ch) {
			t.Fatalf("%s default: got %d want %d", voxel.ChannelName(ch), dst.DefaultValue(ch), src.DefaultValue(ch))
		}
	}
}

func TestBlockSerializer_SizeMismatch(t *testing.T) {
	s := newSerializer(t)
	payload, err := s.SerializeAndCompress(voxel.NewBuffer(4, 4, 4))
	if err != nil {
		t.Fatalf("SerializeAndCompress: %v", err)
	}
	if err := s.DecompressAndDeserialize(payload, voxel.NewBuffer(4, 4, 5)); !errors.Is(err, voxel.ErrSizeMismatch) {
		t.Fatalf("expected size mismatch, got %v", err)
	}
}

func TestBlockSerializer_CorruptLeavesBufferUnchanged(t *testing.T) {
	s := newSerializer(t)

	dst := voxel.NewBuffer(4, 4, 4)
	_ = dst.SetVoxel(5, 1, 1, 1, voxel.ChannelType)

	if err := s.DecompressAndDeserialize([]byte("not zstd at all"), dst); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}

	// A valid frame holding a truncated payload.
	raw := []byte{4, 0, 0, 0, 4, 0, 0, 0, 4, 0, 0, 0, 0x01, 0xFF, 0xFF, 0xFF, 0x00}
	payload := s.enc.EncodeAll(raw, nil)
	if err := s.DecompressAndDeserialize(payload, dst); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
	if got := dst.Voxel(1, 1, 1, voxel.ChannelType); got != 5 {
		t.Fatalf("buffer modified on failed decode: %d", got)
	}
}

func TestBlockSerializer_RejectsOversizedFrame(t *testing.T) {
	s := newSerializer(t)

	dst := voxel.NewBuffer(4, 4, 4)
	// Compresses to a few bytes but declares far more than a 4^3 block can hold.
	raw := make([]byte, MaxRawLen(dst.Volume())+1)
	payload := s.enc.EncodeAll(raw, nil)
	if len(payload) > 1024 {
		t.Fatalf("payload unexpectedly large: %d", len(payload))
	}
	if err := s.DecompressAndDeserialize(payload, dst); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestMaxRawLenCoversWorstCase(t *testing.T) {
	s := newSerializer(t)

	// Values alternating along y, the fastest axis, give one run per voxel.
	// Both need two varint bytes.
	buf := voxel.NewBuffer(4, 4, 4)
	for ch := 0; ch < voxel.MaxChannels; ch++ {
		for z := 0; z < 4; z++ {
			for x := 0; x < 4; x++ {
				for y := 0; y < 4; y++ {
					_ = buf.SetVoxel(uint8(200+y%2), x, y, z, ch)
				}
			}
		}
	}
	payload, err := s.SerializeAndCompress(buf)
	if err != nil {
		t.Fatalf("SerializeAndCompress: %v", err)
	}
	raw, err := s.dec.DecodeAll(payload, nil)
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if uint64(len(raw)) != MaxRawLen(buf.Volume()) {
		t.Fatalf("raw len %d, bound %d", len(raw), MaxRawLen(buf.Volume()))
	}
	if err := s.DecompressAndDeserialize(payload, voxel.NewBuffer(4, 4, 4)); err != nil {
		t.Fatalf("worst-case payload rejected: %v", err)
	}
}
