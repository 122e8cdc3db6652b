package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"voxelterrain.ai/internal/persistence/indexdb"
	"voxelterrain.ai/internal/persistence/r2s3"
	"voxelterrain.ai/internal/persistence/vxb"
	"voxelterrain.ai/internal/sim/logic/mathx"
	"voxelterrain.ai/internal/sim/terrain"
)

type runtimeIndex interface {
	terrain.TickObserver
	RecordBlock(lod int, bpos mathx.Vec3i, path string, payload []byte)
	Flush(ctx context.Context) error
	Stats() indexdb.Stats
	Close() error
}

func openRuntimeIndex(worldDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("VT_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(worldDir, "index", "terrain.sqlite")
		return indexdb.OpenSQLite(dbPath)
	default:
		return nil, fmt.Errorf("unsupported VT_INDEX_BACKEND: %s", backend)
	}
}

// openBlockMirror returns nil unless VT_BLOCK_MIRROR is set.
func openBlockMirror(worldDir string, logger *log.Logger) (*r2s3.Mirror, error) {
	if !envBool("VT_BLOCK_MIRROR", false) {
		return nil, nil
	}
	client, err := r2s3.NewClient(r2s3.Config{
		Endpoint:        os.Getenv("VT_S3_ENDPOINT"),
		Bucket:          os.Getenv("VT_S3_BUCKET"),
		AccessKeyID:     os.Getenv("VT_S3_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("VT_S3_SECRET_ACCESS_KEY"),
		Region:          os.Getenv("VT_S3_REGION"),
	})
	if err != nil {
		return nil, fmt.Errorf("VT_BLOCK_MIRROR=true: %w", err)
	}
	return r2s3.NewMirror(client, worldDir, r2s3.MirrorOptions{
		Prefix:  os.Getenv("VT_S3_PREFIX"),
		Workers: envInt("VT_BLOCK_MIRROR_WORKERS", 2),
		Logger:  logger,
	}), nil
}

// blockSinks fans every block write out to the index and the mirror.
type blockSinks []vxb.BlockIndex

func (s blockSinks) RecordBlock(lod int, bpos mathx.Vec3i, path string, payload []byte) {
	for _, sink := range s {
		sink.RecordBlock(lod, bpos, path, payload)
	}
}

func envInt(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
