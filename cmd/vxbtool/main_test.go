package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/qmuntal/gltf"

	"voxelterrain.ai/internal/persistence/indexdb"
	persistlog "voxelterrain.ai/internal/persistence/log"
	"voxelterrain.ai/internal/persistence/vxb"
	"voxelterrain.ai/internal/sim/logic/mathx"
	"voxelterrain.ai/internal/sim/terrain"
	"voxelterrain.ai/internal/sim/voxel"
)

const fixtureBlock = 8

// slab is a block whose lower half is stone.
func slab(t *testing.T) *voxel.Buffer {
	t.Helper()
	buf := voxel.NewBuffer(fixtureBlock, fixtureBlock, fixtureBlock)
	if err := buf.FillArea(1, mathx.V(0, 0, 0), mathx.V(fixtureBlock, fixtureBlock/2, fixtureBlock), voxel.ChannelType); err != nil {
		t.Fatalf("FillArea: %v", err)
	}
	return buf
}

// writeFixture stores two side-by-side slab blocks and indexes them.
func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	idx, err := indexdb.OpenSQLite(filepath.Join(dir, "index", "terrain.sqlite"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	s, err := vxb.NewStream(vxb.Options{BlockSize: mathx.Splat(fixtureBlock), LODCount: 1, Index: idx})
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	s.SetDirectory(dir)
	for _, bpos := range []mathx.Vec3i{mathx.V(0, 0, 0), mathx.V(1, 0, 0)} {
		if err := s.ImmergeBlock(slab(t), bpos.Scale(fixtureBlock), 0); err != nil {
			t.Fatalf("ImmergeBlock %v: %v", bpos, err)
		}
	}
	if err := idx.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close index: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close stream: %v", err)
	}
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"vxbtool"}, args...))
	return out.String(), err
}

func TestMetaAndList(t *testing.T) {
	dir := writeFixture(t)

	out, err := run(t, "meta", dir)
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	for _, want := range []string{"lod_count: 1", "block_size: (8, 8, 8)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("meta output missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, "ls", dir)
	if err != nil {
		t.Fatalf("ls: %v", err)
	}
	if !strings.Contains(out, "(1, 0, 0)") || !strings.Contains(out, "2 blocks") {
		t.Fatalf("unexpected ls output:\n%s", out)
	}
}

func TestMetaRefusesEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	if _, err := run(t, "meta", dir); err == nil {
		t.Fatalf("expected error for directory without meta")
	}
	if _, err := os.Stat(filepath.Join(dir, vxb.MetaFileName)); !os.IsNotExist(err) {
		t.Fatalf("meta must not be created, stat err=%v", err)
	}
}

func TestDump(t *testing.T) {
	dir := writeFixture(t)
	out, err := run(t, "dump", dir, "1,0,0")
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	if !strings.Contains(out, "origin (8, 0, 0)") {
		t.Fatalf("missing origin:\n%s", out)
	}
	if !strings.Contains(out, "dense    0:256 1:256") {
		t.Fatalf("missing type histogram:\n%s", out)
	}
	if !strings.Contains(out, "isolevel   uniform 0") {
		t.Fatalf("missing uniform isolevel:\n%s", out)
	}

	if _, err := run(t, "dump", dir, "5,0,0"); err == nil {
		t.Fatalf("expected error for a block that is not stored")
	}
}

func TestHistogramOrdersByCount(t *testing.T) {
	got := histogram([]uint8{3, 1, 3, 2, 3, 1})
	if got != "3:3 1:2 2:1" {
		t.Fatalf("histogram = %q", got)
	}
}

func TestVerify(t *testing.T) {
	dir := writeFixture(t)
	out, err := run(t, "verify", dir)
	if err != nil {
		t.Fatalf("verify: %v\n%s", err, out)
	}
	if !strings.Contains(out, "2 blocks, 0 missing from index, 0 stale") {
		t.Fatalf("unexpected verify output:\n%s", out)
	}

	// Rewrite one block behind the index's back.
	s, err := vxb.NewStream(vxb.Options{})
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	defer s.Close()
	s.SetDirectory(dir)
	changed := slab(t)
	if err := changed.SetVoxel(2, 0, 7, 0, voxel.ChannelType); err != nil {
		t.Fatalf("SetVoxel: %v", err)
	}
	if err := s.ImmergeBlock(changed, mathx.V(0, 0, 0), 0); err != nil {
		t.Fatalf("ImmergeBlock: %v", err)
	}

	out, err = run(t, "verify", dir)
	if err == nil {
		t.Fatalf("expected verify to fail:\n%s", out)
	}
	if !strings.Contains(out, "stale   (0, 0, 0)") {
		t.Fatalf("unexpected verify output:\n%s", out)
	}
}

func TestTicks(t *testing.T) {
	dir := t.TempDir()
	l := persistlog.NewTickLogger(dir)
	for i, st := range []terrain.TickStats{
		{Tick: 1, Processed: 3, Emerged: 3, Meshed: 2, Cleared: 1, Remaining: 5, ElapsedMicros: 900},
		{Tick: 2, Processed: 5, Meshed: 5, ElapsedMicros: 1200},
	} {
		if err := l.WriteTick(st); err != nil {
			t.Fatalf("WriteTick %d: %v", i, err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	out, err := run(t, "ticks", dir)
	if err != nil {
		t.Fatalf("ticks: %v", err)
	}
	want := "files=1 ticks=2 last_tick=2 processed=8 emerged=3 meshed=7 cleared=1 skipped=0 remaining=0 max_us=1200\n"
	if diff := cmp.Diff(want, out); diff != "" {
		t.Fatalf("ticks output (-want +got):\n%s", diff)
	}
}

func TestMeshChunkMapCullsSeams(t *testing.T) {
	dir := writeFixture(t)
	s, err := vxb.NewStream(vxb.Options{})
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	defer s.Close()
	s.SetDirectory(dir)
	meta, err := s.Meta()
	if err != nil {
		t.Fatalf("Meta: %v", err)
	}

	m, err := loadChunkMap(s, meta, nil)
	if err != nil {
		t.Fatalf("loadChunkMap: %v", err)
	}
	if m.Len() != 2 {
		t.Fatalf("loaded %d blocks, want 2", m.Len())
	}
	mesh := meshChunkMap(m)
	if mesh.Empty() {
		t.Fatalf("expected a mesh")
	}
	for i, p := range mesh.Positions {
		if p.X() < 0 || p.X() > 2*fixtureBlock || p.Y() < 0 || p.Y() > fixtureBlock/2 {
			t.Fatalf("vertex %d at %v outside the slab", i, p)
		}
		n := mesh.Normals[i]
		if p.X() == fixtureBlock && n.Y() == 0 && n.Z() == 0 {
			t.Fatalf("vertex %d is on a face at the block seam", i)
		}
	}

	only, err := loadChunkMap(s, meta, &[2]mathx.Vec3i{mathx.V(1, 0, 0), mathx.V(1, 0, 0)})
	if err != nil {
		t.Fatalf("loadChunkMap box: %v", err)
	}
	if only.Len() != 1 || !only.HasBlock(mathx.V(1, 0, 0)) {
		t.Fatalf("box filter kept %v", only.Keys())
	}
}

func TestExportGLB(t *testing.T) {
	dir := writeFixture(t)
	glb := filepath.Join(t.TempDir(), "terrain.glb")
	out, err := run(t, "export-glb", "--out", glb, dir)
	if err != nil {
		t.Fatalf("export-glb: %v", err)
	}
	if !strings.Contains(out, "2 blocks") {
		t.Fatalf("unexpected output:\n%s", out)
	}

	doc, err := gltf.Open(glb)
	if err != nil {
		t.Fatalf("gltf.Open: %v", err)
	}
	if len(doc.Meshes) != 1 || doc.Meshes[0].Name != "Terrain" {
		t.Fatalf("meshes = %+v", doc.Meshes)
	}
	prim := doc.Meshes[0].Primitives[0]
	for _, attr := range []string{gltf.POSITION, gltf.NORMAL, gltf.COLOR_0} {
		if _, ok := prim.Attributes[attr]; !ok {
			t.Fatalf("primitive missing %s", attr)
		}
	}
	if prim.Indices == nil || doc.Accessors[*prim.Indices].Count%3 != 0 {
		t.Fatalf("indices accessor is not a triangle list")
	}
	if got := doc.Scenes[0].Nodes; !cmp.Equal(got, []int{0}) {
		t.Fatalf("scene nodes = %v", got)
	}
	if prim.Material == nil || *prim.Material != 0 || doc.Materials[0].PBRMetallicRoughness == nil {
		t.Fatalf("primitive material not set")
	}
	if doc.Accessors[prim.Attributes[gltf.POSITION]].Count != doc.Accessors[prim.Attributes[gltf.COLOR_0]].Count {
		t.Fatalf("position and colour counts differ")
	}
}

func TestExportGLBEmptyBox(t *testing.T) {
	dir := writeFixture(t)
	glb := filepath.Join(t.TempDir(), "empty.glb")
	if _, err := run(t, "export-glb", "--out", glb, "--min", "5,5,5", "--max", "6,6,6", dir); err == nil {
		t.Fatalf("expected error exporting an empty box")
	}
	if _, err := os.Stat(glb); !os.IsNotExist(err) {
		t.Fatalf("no file should be written, stat err=%v", err)
	}
}

func TestParseVec3i(t *testing.T) {
	got, err := parseVec3i(" -1, 2 ,3")
	if err != nil {
		t.Fatalf("parseVec3i: %v", err)
	}
	if got != mathx.V(-1, 2, 3) {
		t.Fatalf("parseVec3i = %v", got)
	}
	for _, bad := range []string{"", "1,2", "1,2,x"} {
		if _, err := parseVec3i(bad); err == nil {
			t.Fatalf("parseVec3i(%q) should fail", bad)
		}
	}
}
