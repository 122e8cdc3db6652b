// Package terrain keeps the presentation of a streamed block world up to date.
//
// Blocks are marked dirty by edits or by callers; each tick the pending blocks
// are sorted by distance to the viewer and processed nearest first until the
// tick budget is used. A processed block is loaded through the Provider when
// absent, meshed from a padded copy of itself and its neighbours, and pushed to
// the Presenter.
//
// A Terrain is not safe for concurrent use. Other goroutines send edits
// through Edits() and the goroutine calling Run applies them.
package terrain

import (
	"io"
	"log"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"voxelterrain.ai/internal/sim/logic/mathx"
	"voxelterrain.ai/internal/sim/mesher"
	"voxelterrain.ai/internal/sim/terrain/store"
	"voxelterrain.ai/internal/sim/voxel"
)

// DefaultBudget is one frame at 60 Hz.
const DefaultBudget = time.Second / 60

// Provider fills buf with the block whose lod-0 voxel origin is origin.
type Provider interface {
	EmergeBlock(buf *voxel.Buffer, origin mathx.Vec3i, lod int) error
}

// Saver persists a block buffer.
type Saver interface {
	ImmergeBlock(buf *voxel.Buffer, origin mathx.Vec3i, lod int) error
}

type Mesher interface {
	Build(padded *voxel.Buffer) *mesher.Mesh
}

// Presenter owns the visible and collision representations of blocks, keyed
// by block coordinate. origin is the block's voxel-space origin.
type Presenter interface {
	UpdateMesh(bpos, origin mathx.Vec3i, mesh *mesher.Mesh)
	UpdateCollision(bpos, origin mathx.Vec3i, mesh *mesher.Mesh)
	// Clear empties the representations of a block without destroying them.
	Clear(bpos mathx.Vec3i)
	// Remove destroys them.
	Remove(bpos mathx.Vec3i)
}

// Viewer reports a position in voxel space.
type Viewer interface {
	Position() mgl32.Vec3
}

type TickObserver interface {
	WriteTick(TickStats) error
}

type EditObserver interface {
	WriteEdit(EditEntry) error
}

type TickStats struct {
	Tick          uint64      `json:"tick"`
	Viewer        mathx.Vec3i `json:"viewer_block"`
	Processed     int         `json:"processed"`
	Remaining     int         `json:"remaining"`
	Emerged       int         `json:"emerged"`
	Meshed        int         `json:"meshed"`
	Cleared       int         `json:"cleared"`
	Skipped       int         `json:"skipped"`
	ElapsedMicros int64       `json:"elapsed_us"`
}

// EditEntry is a single voxel write, queued through Edits().
type EditEntry struct {
	Tick    uint64      `json:"tick"`
	Pos     mathx.Vec3i `json:"pos"`
	Channel int         `json:"channel"`
	Value   uint8       `json:"value"`
	// Applied is false when the owning block was not resident.
	Applied bool `json:"applied"`
}

type Options struct {
	BlockSize mathx.Vec3i
	Provider  Provider
	Mesher    Mesher
	Presenter Presenter
	Viewer    Viewer
	Saver     Saver

	// Budget bounds the wall-clock time of one Update; 0 selects DefaultBudget.
	Budget             time.Duration
	GenerateCollisions bool
	EditQueue          int
	// ViewDistance, when positive, keeps the blocks within this many blocks
	// of the viewer loaded and unloads the rest.
	ViewDistance int

	Logger *log.Logger
	// Now is the clock used for the budget; nil selects time.Now.
	Now func() time.Time
}

type Terrain struct {
	blocks    *store.ChunkMap
	provider  Provider
	mesher    Mesher
	presenter Presenter
	viewer    Viewer
	saver     Saver

	budget             time.Duration
	generateCollisions bool
	now                func() time.Time
	logger             *log.Logger

	dirty dirtySet
	tick  uint64

	viewDistance int
	center       mathx.Vec3i
	hasCenter    bool

	edits    chan EditEntry
	stop     chan struct{}
	stopOnce sync.Once

	tickObservers []TickObserver
	editObservers []EditObserver
}

func New(opts Options) *Terrain {
	if opts.BlockSize.HasZero() {
		opts.BlockSize = mathx.Splat(16)
	}
	if opts.Budget <= 0 {
		opts.Budget = DefaultBudget
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.EditQueue <= 0 {
		opts.EditQueue = 1024
	}
	return &Terrain{
		blocks:             store.NewChunkMap(opts.BlockSize),
		provider:           opts.Provider,
		mesher:             opts.Mesher,
		presenter:          opts.Presenter,
		viewer:             opts.Viewer,
		saver:              opts.Saver,
		budget:             opts.Budget,
		generateCollisions: opts.GenerateCollisions,
		viewDistance:       opts.ViewDistance,
		now:                opts.Now,
		logger:             opts.Logger,
		dirty:              newDirtySet(),
		edits:              make(chan EditEntry, opts.EditQueue),
		stop:               make(chan struct{}),
	}
}

func (t *Terrain) Blocks() *store.ChunkMap      { return t.blocks }
func (t *Terrain) BlockSize() mathx.Vec3i       { return t.blocks.BlockSize() }
func (t *Terrain) SetViewer(v Viewer)           { t.viewer = v }
func (t *Terrain) SetProvider(p Provider)       { t.provider = p }
func (t *Terrain) SetPresenter(p Presenter)     { t.presenter = p }
func (t *Terrain) SetGenerateCollisions(b bool) { t.generateCollisions = b }
func (t *Terrain) GenerateCollisions() bool     { return t.generateCollisions }

func (t *Terrain) AddTickObserver(o TickObserver) { t.tickObservers = append(t.tickObservers, o) }
func (t *Terrain) AddEditObserver(o EditObserver) { t.editObservers = append(t.editObservers, o) }

func (t *Terrain) VoxelToBlock(pos mathx.Vec3i) mathx.Vec3i  { return t.blocks.VoxelToBlock(pos) }
func (t *Terrain) BlockToVoxel(bpos mathx.Vec3i) mathx.Vec3i { return t.blocks.BlockToVoxel(bpos) }

// Voxel reads a world-space voxel; absent blocks read as 0.
func (t *Terrain) Voxel(pos mathx.Vec3i, ch int) uint8 { return t.blocks.Voxel(pos, ch) }

// SetVoxel writes a world-space voxel and marks the blocks whose meshes see it
// dirty. It reports false when the owning block is not resident.
func (t *Terrain) SetVoxel(value uint8, pos mathx.Vec3i, ch int) bool {
	if !t.blocks.SetVoxel(value, pos, ch) {
		return false
	}
	t.MakeVoxelDirty(pos)
	return true
}
