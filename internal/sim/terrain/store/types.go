package store

import (
	"voxelterrain.ai/internal/sim/logic/mathx"
	"voxelterrain.ai/internal/sim/voxel"
)

// Presence records which presentation handles exist for a block. The handles
// themselves live in the presenter, keyed by block coordinate.
type Presence uint8

const (
	HasMesh Presence = 1 << iota
	HasCollision
)

func (p Presence) Has(f Presence) bool { return p&f != 0 }

type Block struct {
	Pos    mathx.Vec3i
	Voxels *voxel.Buffer
	Shown  Presence
}

// ChunkMap is a sparse map of fixed-size blocks addressed by block coordinate.
// Block coordinate B covers voxels [B*BlockSize, (B+1)*BlockSize).
type ChunkMap struct {
	blockSize mathx.Vec3i
	blocks    map[mathx.Vec3i]*Block
}

func NewChunkMap(blockSize mathx.Vec3i) *ChunkMap {
	if blockSize.HasZero() {
		panic("store: block size must be positive")
	}
	return &ChunkMap{
		blockSize: blockSize,
		blocks:    map[mathx.Vec3i]*Block{},
	}
}

func (m *ChunkMap) BlockSize() mathx.Vec3i { return m.blockSize }
func (m *ChunkMap) Len() int               { return len(m.blocks) }

func (m *ChunkMap) VoxelToBlock(pos mathx.Vec3i) mathx.Vec3i { return pos.FloorDiv(m.blockSize) }
func (m *ChunkMap) ToLocal(pos mathx.Vec3i) mathx.Vec3i      { return pos.Mod(m.blockSize) }
func (m *ChunkMap) BlockToVoxel(bpos mathx.Vec3i) mathx.Vec3i {
	return bpos.Mul(m.blockSize)
}

func (m *ChunkMap) HasBlock(bpos mathx.Vec3i) bool {
	_, ok := m.blocks[bpos]
	return ok
}

// GetBlock returns nil when the block is absent.
func (m *ChunkMap) GetBlock(bpos mathx.Vec3i) *Block {
	return m.blocks[bpos]
}

// SetBlockBuffer inserts a block holding buf, or replaces the buffer of an
// existing block. The returned bool is true when the block is new.
func (m *ChunkMap) SetBlockBuffer(bpos mathx.Vec3i, buf *voxel.Buffer) (*Block, bool) {
	if b, ok := m.blocks[bpos]; ok {
		b.Voxels = buf
		return b, false
	}
	b := &Block{Pos: bpos, Voxels: buf}
	m.blocks[bpos] = b
	return b, true
}

// RemoveBlock removes and returns the block, or nil when absent.
func (m *ChunkMap) RemoveBlock(bpos mathx.Vec3i) *Block {
	b, ok := m.blocks[bpos]
	if !ok {
		return nil
	}
	delete(m.blocks, bpos)
	return b
}
