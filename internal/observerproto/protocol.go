package observerproto

// Version is the observer protocol version.
const Version = "0.1"

const (
	TypeSubscribe   = "SUBSCRIBE"
	TypeViewer      = "VIEWER"
	TypeEdit        = "EDIT"
	TypeBlockMesh   = "BLOCK_MESH"
	TypeBlockClear  = "BLOCK_CLEAR"
	TypeBlockRemove = "BLOCK_REMOVE"
	TypeTick        = "TICK"
)

// Client -> Server. First message on the observer WS connection, and can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// IncludeCollision also streams collision meshes.
	IncludeCollision bool `json:"include_collision,omitempty"`
}

// Client -> Server. Moves the viewer that drives load order.
type ViewerMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Pos             [3]float32 `json:"pos"`
}

// Client -> Server. Writes one voxel.
type EditMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Pos             [3]int `json:"pos"`
	Channel         int    `json:"channel"`
	Value           int    `json:"value"`
}

// HTTP response for GET /observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	Tick            uint64      `json:"tick"`
	WorldParams     WorldParams `json:"world_params"`
	Materials       []string    `json:"materials"`
}

type WorldParams struct {
	TickRateHz   int    `json:"tick_rate_hz"`
	BlockSize    [3]int `json:"block_size"`
	LODCount     int    `json:"lod_count"`
	Seed         int64  `json:"seed"`
	ViewDistance int    `json:"view_distance"`
}

// Server -> Client. Replaces the mesh of a block. Positions and normals are
// flattened xyz triples relative to Origin; Materials has one entry per vertex.
type BlockMeshMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	Block           [3]int    `json:"block"`
	Origin          [3]int    `json:"origin"`
	Collision       bool      `json:"collision,omitempty"`
	Positions       []float32 `json:"positions"`
	Normals         []float32 `json:"normals"`
	Materials       []int     `json:"materials"`
	Indices         []uint32  `json:"indices"`
}

// Server -> Client. Empties a block's meshes; the client keeps its slot.
type BlockClearMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Block           [3]int `json:"block"`
}

// Server -> Client. Evicts a block from the client cache.
type BlockRemoveMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Block           [3]int `json:"block"`
}

// Server -> Client. Sent after every tick that processed blocks.
type TickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	ViewerBlock     [3]int `json:"viewer_block"`
	Processed       int    `json:"processed"`
	Remaining       int    `json:"remaining"`
	Emerged         int    `json:"emerged"`
	Meshed          int    `json:"meshed"`
	Cleared         int    `json:"cleared"`
	Skipped         int    `json:"skipped"`
	ElapsedMicros   int64  `json:"elapsed_us"`
}
