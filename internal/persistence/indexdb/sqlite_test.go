package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"voxelterrain.ai/internal/sim/logic/mathx"
	"voxelterrain.ai/internal/sim/terrain"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqTick, tick: terrain.TickStats{Tick: 1}}

	_ = s.WriteTick(terrain.TickStats{Tick: 2})
	s.RecordBlock(0, mathx.V(0, 0, 0), "/tmp/+0+0+0.vxb", []byte{1, 2, 3})

	st := s.Stats()
	if st.DropTickTotal != 1 {
		t.Fatalf("DropTickTotal=%d want=1", st.DropTickTotal)
	}
	if st.DropBlockTotal != 1 {
		t.Fatalf("DropBlockTotal=%d want=1", st.DropBlockTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_RecordsBlocksAndTicks(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.sqlite")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()

	payload := []byte("payload")
	s.RecordBlock(0, mathx.V(-1, 2, 3), "/w/blocks/lod0/-1+2+3.vxb", payload)
	s.RecordBlock(0, mathx.V(4, 5, 6), "/w/blocks/lod0/+4+5+6.vxb", []byte("x"))
	// Rewriting a block replaces its row.
	s.RecordBlock(0, mathx.V(4, 5, 6), "/w/blocks/lod0/+4+5+6.vxb", []byte("xyz"))
	_ = s.WriteTick(terrain.TickStats{Tick: 7, Processed: 3, Remaining: 1, Emerged: 2, Meshed: 2})

	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	n, err := s.BlockCount(ctx, 0)
	if err != nil {
		t.Fatalf("BlockCount: %v", err)
	}
	if n != 2 {
		t.Fatalf("BlockCount=%d want=2", n)
	}

	row, ok, err := s.LookupBlock(ctx, 0, mathx.V(-1, 2, 3))
	if err != nil || !ok {
		t.Fatalf("LookupBlock: ok=%v err=%v", ok, err)
	}
	if row.Bytes != len(payload) || row.Digest != Digest(payload) || row.Path != "/w/blocks/lod0/-1+2+3.vxb" {
		t.Fatalf("row = %+v", row)
	}
	row, _, _ = s.LookupBlock(ctx, 0, mathx.V(4, 5, 6))
	if row.Bytes != 3 {
		t.Fatalf("replaced row bytes=%d want=3", row.Bytes)
	}
	if _, ok, err := s.LookupBlock(ctx, 1, mathx.V(-1, 2, 3)); ok || err != nil {
		t.Fatalf("unexpected row at lod 1: ok=%v err=%v", ok, err)
	}

	var processed int
	if err := s.db.QueryRowContext(ctx, `SELECT processed FROM ticks WHERE tick = 7`).Scan(&processed); err != nil {
		t.Fatalf("query tick: %v", err)
	}
	if processed != 3 {
		t.Fatalf("processed=%d want=3", processed)
	}
}

func TestSQLiteIndex_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.sqlite")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	s.RecordBlock(2, mathx.V(1, 1, 1), "/w/blocks/lod2/+1+1+1.vxb", []byte{9})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Writes after close are ignored.
	s.RecordBlock(2, mathx.V(2, 2, 2), "/w/blocks/lod2/+2+2+2.vxb", []byte{9})

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blocks WHERE lod = 2`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("rows=%d want=1", n)
	}
}

func TestDigestIsStable(t *testing.T) {
	if Digest([]byte("abc")) != Digest([]byte("abc")) {
		t.Fatalf("digest not deterministic")
	}
	if Digest([]byte("abc")) == Digest([]byte("abd")) {
		t.Fatalf("digest collision on trivial input")
	}
	if len(Digest(nil)) != 16 {
		t.Fatalf("digest length %d", len(Digest(nil)))
	}
}
