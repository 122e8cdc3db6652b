package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	_ "modernc.org/sqlite"

	"voxelterrain.ai/internal/sim/logic/mathx"
	"voxelterrain.ai/internal/sim/terrain"
)

// SQLiteIndex is a secondary, queryable record of block files and tick stats.
// Writes are queued to a single writer goroutine and dropped when the queue is
// full; the block files remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropBlock atomic.Uint64
	dropTick  atomic.Uint64
}

type reqKind int

const (
	reqBlock reqKind = iota + 1
	reqTick
	reqFlush
)

type req struct {
	kind reqKind

	block BlockRow
	tick  terrain.TickStats
	done  chan struct{}
}

type BlockRow struct {
	LOD     int
	Pos     mathx.Vec3i
	Path    string
	Bytes   int
	Digest  string
	SavedAt string
}

type Stats struct {
	QueueDepth     int
	QueueCapacity  int
	DropBlockTotal uint64
	DropTickTotal  uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS blocks (
			lod INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			path TEXT NOT NULL,
			bytes INTEGER NOT NULL,
			digest TEXT NOT NULL,
			saved_at TEXT NOT NULL,
			PRIMARY KEY (lod, x, y, z)
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			processed INTEGER NOT NULL,
			remaining INTEGER NOT NULL,
			emerged INTEGER NOT NULL,
			meshed INTEGER NOT NULL,
			cleared INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			elapsed_us INTEGER NOT NULL
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Digest is the hex xxhash64 of a block payload.
func Digest(payload []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(payload))
}

func (s *SQLiteIndex) RecordBlock(lod int, bpos mathx.Vec3i, path string, payload []byte) {
	if s == nil || s.closed.Load() {
		return
	}
	r := BlockRow{
		LOD:     lod,
		Pos:     bpos,
		Path:    path,
		Bytes:   len(payload),
		Digest:  Digest(payload),
		SavedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: reqBlock, block: r}:
	default:
		s.dropBlock.Add(1)
	}
}

func (s *SQLiteIndex) WriteTick(st terrain.TickStats) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: st}:
	default:
		// Drop if the indexer falls behind; the JSONL tick log remains the source of truth.
		s.dropTick.Add(1)
	}
	return nil
}

// Flush waits until every queued write before it is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropBlockTotal: s.dropBlock.Load(),
		DropTickTotal:  s.dropTick.Load(),
	}
}

func (s *SQLiteIndex) BlockCount(ctx context.Context, lod int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blocks WHERE lod = ?`, lod).Scan(&n)
	return n, err
}

// LookupBlock returns the last recorded write of a block, or ok=false when
// the block was never recorded.
func (s *SQLiteIndex) LookupBlock(ctx context.Context, lod int, bpos mathx.Vec3i) (row BlockRow, ok bool, err error) {
	row.LOD = lod
	row.Pos = bpos
	err = s.db.QueryRowContext(ctx,
		`SELECT path, bytes, digest, saved_at FROM blocks WHERE lod = ? AND x = ? AND y = ? AND z = ?`,
		lod, bpos.X, bpos.Y, bpos.Z,
	).Scan(&row.Path, &row.Bytes, &row.Digest, &row.SavedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return BlockRow{}, false, nil
	}
	if err != nil {
		return BlockRow{}, false, err
	}
	return row, true, nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertBlock, _ := s.db.Prepare(`INSERT OR REPLACE INTO blocks(lod,x,y,z,path,bytes,digest,saved_at) VALUES(?,?,?,?,?,?,?,?)`)
	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,processed,remaining,emerged,meshed,cleared,skipped,elapsed_us) VALUES(?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertBlock != nil {
			_ = insertBlock.Close()
		}
		if insertTick != nil {
			_ = insertTick.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqBlock:
			b := r.block
			if insertBlock != nil {
				if _, err := tx.Stmt(insertBlock).Exec(
					b.LOD, b.Pos.X, b.Pos.Y, b.Pos.Z,
					b.Path,
					b.Bytes,
					b.Digest,
					b.SavedAt,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqTick:
			t := r.tick
			if insertTick != nil {
				if _, err := tx.Stmt(insertTick).Exec(
					int64(t.Tick),
					t.Processed,
					t.Remaining,
					t.Emerged,
					t.Meshed,
					t.Cleared,
					t.Skipped,
					t.ElapsedMicros,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}
