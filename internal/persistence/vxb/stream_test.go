package vxb

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"voxelterrain.ai/internal/sim/logic/mathx"
	"voxelterrain.ai/internal/sim/voxel"
)

type fillGenerator struct {
	value uint8
	calls int
}

func (g *fillGenerator) EmergeBlock(buf *voxel.Buffer, origin mathx.Vec3i, lod int) error {
	g.calls++
	return buf.Fill(g.value, voxel.ChannelType)
}

type recordingIndex struct {
	paths []string
}

func (r *recordingIndex) RecordBlock(lod int, bpos mathx.Vec3i, path string, payload []byte) {
	r.paths = append(r.paths, path)
}

func newTestStream(t *testing.T, opts Options) *Stream {
	t.Helper()
	s, err := NewStream(opts)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBlockFileName(t *testing.T) {
	cases := []struct {
		pos  mathx.Vec3i
		want string
	}{
		{mathx.V(0, -3, 12), "+0-3+12.vxb"},
		{mathx.V(-1, -1, -1), "-1-1-1.vxb"},
		{mathx.V(123, 0, -45), "+123+0-45.vxb"},
	}
	for _, tc := range cases {
		if got := BlockFileName(tc.pos); got != tc.want {
			t.Fatalf("BlockFileName(%v) = %q, want %q", tc.pos, got, tc.want)
		}
		back, ok := ParseBlockFileName(tc.want)
		if !ok || back != tc.pos {
			t.Fatalf("ParseBlockFileName(%q) = %v, %v", tc.want, back, ok)
		}
	}
	for _, bad := range []string{"0+0+0.vxb", "+1+2.vxb", "+1+2+3.txt", "+1+2+3x.vxb", "+-1+2+3.vxb"} {
		if _, ok := ParseBlockFileName(bad); ok {
			t.Fatalf("ParseBlockFileName(%q) accepted", bad)
		}
	}
}

func TestBlockFilePathLayout(t *testing.T) {
	s := newTestStream(t, Options{})
	if got := s.BlockFilePath(mathx.V(0, 0, 0), 0); got != "" {
		t.Fatalf("path without directory: %q", got)
	}
	s.SetDirectory("/data/world")
	want := filepath.Join("/data/world", "blocks", "lod2", "+0-3+12.vxb")
	if got := s.BlockFilePath(mathx.V(0, -3, 12), 2); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestBlockPositionFloorsNegatives(t *testing.T) {
	s := newTestStream(t, Options{})
	if got := s.BlockPosition(mathx.V(-1, 15, 16), 0); got != mathx.V(-1, 0, 1) {
		t.Fatalf("lod0: got %v", got)
	}
	if got := s.BlockPosition(mathx.V(-16, 32, 48), 1); got != mathx.V(-1, 1, 1) {
		t.Fatalf("lod1: got %v", got)
	}
}

func TestEmergeWithoutDirectoryUsesFallback(t *testing.T) {
	gen := &fillGenerator{value: 3}
	s := newTestStream(t, Options{Fallback: gen})

	buf := voxel.NewBuffer(16, 16, 16)
	if err := s.EmergeBlock(buf, mathx.V(0, 0, 0), 0); err != nil {
		t.Fatalf("EmergeBlock: %v", err)
	}
	if gen.calls != 1 || buf.Voxel(0, 0, 0, voxel.ChannelType) != 3 {
		t.Fatalf("fallback not used")
	}

	noFallback := newTestStream(t, Options{})
	if err := noFallback.EmergeBlock(buf, mathx.V(0, 0, 0), 0); err != nil {
		t.Fatalf("EmergeBlock without fallback: %v", err)
	}
	if buf.Voxel(0, 0, 0, voxel.ChannelType) != 3 {
		t.Fatalf("buffer changed without fallback")
	}
}

func TestImmergeWithoutDirectory(t *testing.T) {
	s := newTestStream(t, Options{})
	err := s.ImmergeBlock(voxel.NewBuffer(16, 16, 16), mathx.V(0, 0, 0), 0)
	if !errors.Is(err, ErrNoDirectory) {
		t.Fatalf("expected ErrNoDirectory, got %v", err)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	idx := &recordingIndex{}
	gen := &fillGenerator{value: 9}
	s := newTestStream(t, Options{Fallback: gen, Index: idx})
	s.SetDirectory(dir)

	src := voxel.NewBuffer(16, 16, 16)
	for i := 0; i < 16; i++ {
		_ = src.SetVoxel(uint8(i+1), i, i, 15-i, voxel.ChannelType)
	}
	_ = src.Fill(42, voxel.ChannelData)
	origin := mathx.V(-16, 0, 32)
	if err := s.ImmergeBlock(src, origin, 0); err != nil {
		t.Fatalf("ImmergeBlock: %v", err)
	}
	wantPath := filepath.Join(dir, "blocks", "lod0", "-1+0+2.vxb")
	if len(idx.paths) != 1 || idx.paths[0] != wantPath {
		t.Fatalf("index paths = %v, want [%s]", idx.paths, wantPath)
	}

	// A fresh stream reads the same bytes back.
	s2 := newTestStream(t, Options{Fallback: gen})
	s2.SetDirectory(dir)
	dst := voxel.NewBuffer(16, 16, 16)
	// Any voxel of the block yields the same file.
	if err := s2.EmergeBlock(dst, mathx.V(-3, 7, 47), 0); err != nil {
		t.Fatalf("EmergeBlock: %v", err)
	}
	if gen.calls != 0 {
		t.Fatalf("fallback called for stored block")
	}
	if diff := cmp.Diff(src.ChannelRaw(voxel.ChannelType), dst.ChannelRaw(voxel.ChannelType)); diff != "" {
		t.Fatalf("type channel mismatch (-want +got):\n%s", diff)
	}
	if dst.IsDense(voxel.ChannelData) || dst.DefaultValue(voxel.ChannelData) != 42 {
		t.Fatalf("uniform channel not restored")
	}

	// Blocks never written come from the fallback.
	other := voxel.NewBuffer(16, 16, 16)
	if err := s2.EmergeBlock(other, mathx.V(0, 0, 0), 0); err != nil {
		t.Fatalf("EmergeBlock missing: %v", err)
	}
	if gen.calls != 1 || other.Voxel(0, 0, 0, voxel.ChannelType) != 9 {
		t.Fatalf("fallback not used for missing file")
	}

	list, err := s2.ListBlocks(0)
	if err != nil {
		t.Fatalf("ListBlocks: %v", err)
	}
	if diff := cmp.Diff([]mathx.Vec3i{mathx.V(-1, 0, 2)}, list); diff != "" {
		t.Fatalf("ListBlocks (-want +got):\n%s", diff)
	}
}

func TestMetaInitializedOnFirstAccess(t *testing.T) {
	dir := t.TempDir()
	s := newTestStream(t, Options{BlockSize: mathx.V(8, 8, 8), LODCount: 3})
	s.SetDirectory(dir)

	buf := voxel.NewBuffer(8, 8, 8)
	if err := s.EmergeBlock(buf, mathx.V(0, 0, 0), 0); err != nil {
		t.Fatalf("EmergeBlock: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, MetaFileName))
	if err != nil {
		t.Fatalf("meta not written: %v", err)
	}
	want := []byte{'V', 'X', 'B', 'M', 1, 3, 8, 0, 0, 0, 8, 0, 0, 0, 8, 0, 0, 0}
	if !bytes.Equal(raw, want) {
		t.Fatalf("meta bytes = %v, want %v", raw, want)
	}

	// Meta on disk wins over options.
	s2 := newTestStream(t, Options{})
	s2.SetDirectory(dir)
	m, err := s2.Meta()
	if err != nil {
		t.Fatalf("Meta: %v", err)
	}
	if m.BlockSize != mathx.V(8, 8, 8) || m.LODCount != 3 || !m.Loaded || !m.Saved {
		t.Fatalf("meta = %+v", m)
	}
}

func TestSetDirectoryResetsMeta(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	if err := writeMeta(filepath.Join(dirA, MetaFileName), Meta{Version: 1, LODCount: 2, BlockSize: mathx.V(4, 4, 4)}); err != nil {
		t.Fatalf("writeMeta: %v", err)
	}
	s := newTestStream(t, Options{})
	s.SetDirectory(dirA)
	if m, _ := s.Meta(); m.BlockSize != mathx.V(4, 4, 4) {
		t.Fatalf("dirA meta = %+v", m)
	}
	s.SetDirectory(dirB)
	m, err := s.Meta()
	if err != nil {
		t.Fatalf("Meta: %v", err)
	}
	if m.BlockSize != mathx.Splat(DefaultBlockSize) {
		t.Fatalf("dirB inherited meta from dirA: %+v", m)
	}
}

func TestContractViolations(t *testing.T) {
	dir := t.TempDir()
	s := newTestStream(t, Options{})
	s.SetDirectory(dir)

	if err := s.ImmergeBlock(voxel.NewBuffer(16, 16, 16), mathx.V(0, 0, 0), 1); !errors.Is(err, ErrLODOutOfRange) {
		t.Fatalf("expected ErrLODOutOfRange, got %v", err)
	}
	if err := s.EmergeBlock(voxel.NewBuffer(16, 16, 16), mathx.V(0, 0, 0), -1); !errors.Is(err, ErrLODOutOfRange) {
		t.Fatalf("expected ErrLODOutOfRange, got %v", err)
	}
	if err := s.EmergeBlock(voxel.NewBuffer(8, 16, 16), mathx.V(0, 0, 0), 0); !errors.Is(err, voxel.ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
	// The stream stays usable.
	if err := s.ImmergeBlock(voxel.NewBuffer(16, 16, 16), mathx.V(0, 0, 0), 0); err != nil {
		t.Fatalf("ImmergeBlock after violations: %v", err)
	}
}

func TestBadBlockHeaders(t *testing.T) {
	dir := t.TempDir()
	s := newTestStream(t, Options{})
	s.SetDirectory(dir)
	buf := voxel.NewBuffer(16, 16, 16)
	if err := s.ImmergeBlock(buf, mathx.V(0, 0, 0), 0); err != nil {
		t.Fatalf("ImmergeBlock: %v", err)
	}
	path := s.BlockFilePath(mathx.V(0, 0, 0), 0)
	good, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read block: %v", err)
	}

	write := func(b []byte) {
		t.Helper()
		if err := os.WriteFile(path, b, 0o644); err != nil {
			t.Fatalf("write block: %v", err)
		}
	}

	badMagic := append([]byte("VXBX"), good[4:]...)
	write(badMagic)
	if err := s.EmergeBlock(buf, mathx.V(0, 0, 0), 0); !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}

	badVersion := append([]byte(nil), good...)
	badVersion[4] = 2
	write(badVersion)
	err = s.EmergeBlock(buf, mathx.V(0, 0, 0), 0)
	if !errors.Is(err, ErrUnsupportedVersion) || errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("expected only ErrUnsupportedVersion, got %v", err)
	}

	write(good[:len(good)-1])
	if err := s.EmergeBlock(buf, mathx.V(0, 0, 0), 0); err == nil {
		t.Fatalf("expected error for truncated block")
	}

	// A header claiming a 1 GiB payload in a 9-byte file.
	write([]byte("VXB_\x01\x00\x00\x00\x40"))
	if err := s.EmergeBlock(buf, mathx.V(0, 0, 0), 0); !errors.Is(err, ErrCorruptBlock) {
		t.Fatalf("expected ErrCorruptBlock, got %v", err)
	}
	if _, err := s.ReadBlockPayload(mathx.V(0, 0, 0), 0); !errors.Is(err, ErrCorruptBlock) {
		t.Fatalf("ReadBlockPayload: expected ErrCorruptBlock, got %v", err)
	}
}

func TestCheckMagicAndVersion(t *testing.T) {
	v, err := CheckMagicAndVersion(bytes.NewReader([]byte("VXB_\x07")), 7, BlockMagic)
	if err != nil || v != 7 {
		t.Fatalf("got %d, %v", v, err)
	}
	v, err = CheckMagicAndVersion(bytes.NewReader([]byte("VXB_\x03")), 7, BlockMagic)
	if !errors.Is(err, ErrUnsupportedVersion) || v != 3 {
		t.Fatalf("got %d, %v", v, err)
	}
	if _, err := CheckMagicAndVersion(bytes.NewReader([]byte("VX")), 7, BlockMagic); err == nil {
		t.Fatalf("expected error for short header")
	}
}

func TestReadBlockPayload(t *testing.T) {
	s := newTestStream(t, Options{BlockSize: mathx.Splat(4)})
	if _, err := s.ReadBlockPayload(mathx.V(0, 0, 0), 0); !errors.Is(err, ErrNoDirectory) {
		t.Fatalf("err = %v, want ErrNoDirectory", err)
	}
	s.SetDirectory(t.TempDir())
	if _, err := s.ReadBlockPayload(mathx.V(0, 0, 0), 0); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing block err = %v", err)
	}

	idx := &recordingIndex{}
	s.index = idx
	buf := voxel.NewBuffer(4, 4, 4)
	_ = buf.SetVoxel(9, 1, 2, 3, voxel.ChannelType)
	if err := s.ImmergeBlock(buf, mathx.V(-4, 0, 4), 0); err != nil {
		t.Fatal(err)
	}
	payload, err := s.ReadBlockPayload(mathx.V(-1, 0, 1), 0)
	if err != nil {
		t.Fatal(err)
	}
	got := voxel.NewBuffer(4, 4, 4)
	if err := s.codec.DecompressAndDeserialize(payload, got); err != nil {
		t.Fatal(err)
	}
	if got.Voxel(1, 2, 3, voxel.ChannelType) != 9 {
		t.Fatalf("payload does not decode to the saved block")
	}
}
