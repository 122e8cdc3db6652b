package main

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"voxelterrain.ai/internal/sim/logic/mathx"
	"voxelterrain.ai/internal/sim/terrain"
)

func TestParseVec3(t *testing.T) {
	v, err := parseVec3(" 1.5, -2,40 ")
	if err != nil {
		t.Fatal(err)
	}
	if v != (mgl32.Vec3{1.5, -2, 40}) {
		t.Fatalf("v = %v", v)
	}
	for _, bad := range []string{"", "1,2", "1,2,x", "1,2,3,4", "1e30,0,0", "0,NaN,0"} {
		if _, err := parseVec3(bad); err == nil {
			t.Fatalf("parseVec3(%q) should fail", bad)
		}
	}
}

func TestStatsRecorderTotals(t *testing.T) {
	var s statsRecorder
	_ = s.WriteTick(terrain.TickStats{Tick: 1, Processed: 3, Emerged: 2, Meshed: 1})
	_ = s.WriteTick(terrain.TickStats{Tick: 4, Processed: 1, Skipped: 1, Remaining: 7})
	if last := s.Last(); last.Tick != 4 || last.Remaining != 7 {
		t.Fatalf("last = %+v", last)
	}
	tot := s.Totals()
	if tot.Processed != 4 || tot.Emerged != 2 || tot.Meshed != 1 || tot.Skipped != 1 {
		t.Fatalf("totals = %+v", tot)
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("VT_TEST_FLAG", "yes")
	if !envBool("VT_TEST_FLAG", false) {
		t.Fatalf("yes should be true")
	}
	t.Setenv("VT_TEST_FLAG", "off")
	if envBool("VT_TEST_FLAG", true) {
		t.Fatalf("off should be false")
	}
	t.Setenv("VT_TEST_FLAG", "maybe")
	if !envBool("VT_TEST_FLAG", true) {
		t.Fatalf("unknown value should use the default")
	}
}

type countingSink struct{ n int }

func (c *countingSink) RecordBlock(lod int, bpos mathx.Vec3i, path string, payload []byte) { c.n++ }

func TestBlockSinksFanOut(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	sinks := blockSinks{a, b}
	sinks.RecordBlock(0, mathx.V(1, 2, 3), "p", nil)
	sinks.RecordBlock(0, mathx.V(1, 2, 4), "q", nil)
	if a.n != 2 || b.n != 2 {
		t.Fatalf("a=%d b=%d", a.n, b.n)
	}
}

func TestOpenBlockMirror(t *testing.T) {
	t.Setenv("VT_BLOCK_MIRROR", "")
	m, err := openBlockMirror(t.TempDir(), nil)
	if err != nil || m != nil {
		t.Fatalf("disabled mirror: m=%v err=%v", m, err)
	}

	t.Setenv("VT_BLOCK_MIRROR", "true")
	t.Setenv("VT_S3_ENDPOINT", "")
	if _, err := openBlockMirror(t.TempDir(), nil); err == nil {
		t.Fatalf("expected error without an endpoint")
	}

	t.Setenv("VT_S3_ENDPOINT", "127.0.0.1:9")
	t.Setenv("VT_S3_BUCKET", "terrain")
	t.Setenv("VT_S3_ACCESS_KEY_ID", "a")
	t.Setenv("VT_S3_SECRET_ACCESS_KEY", "s")
	m, err = openBlockMirror(t.TempDir(), nil)
	if err != nil || m == nil {
		t.Fatalf("enabled mirror: m=%v err=%v", m, err)
	}
	m.Close()
}

func TestEnvInt(t *testing.T) {
	t.Setenv("VT_TEST_INT", " 7 ")
	if got := envInt("VT_TEST_INT", 2); got != 7 {
		t.Fatalf("envInt = %d", got)
	}
	t.Setenv("VT_TEST_INT", "seven")
	if got := envInt("VT_TEST_INT", 2); got != 2 {
		t.Fatalf("envInt fallback = %d", got)
	}
}
