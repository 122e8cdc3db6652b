// Package observer streams block meshes to websocket clients. Hub is the
// terrain's Presenter and TickObserver; clients move the viewer and send edits.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/websocket"

	"voxelterrain.ai/internal/observerproto"
	"voxelterrain.ai/internal/sim/logic/mathx"
	"voxelterrain.ai/internal/sim/mesher"
	"voxelterrain.ai/internal/sim/terrain"
)

type Options struct {
	// Viewer receives VIEWER positions; nil ignores them.
	Viewer *terrain.PointViewer
	// Edits receives EDIT messages; nil ignores them.
	Edits chan<- terrain.EditEntry
	// Bootstrap returns the bootstrap document; nil disables the endpoint.
	Bootstrap func() observerproto.BootstrapResponse

	// AllowRemote accepts non-loopback clients.
	AllowRemote bool
	// OutQueue is the per-client send buffer; messages beyond it are dropped.
	OutQueue int
	Logger   *log.Logger
}

type client struct {
	out       chan []byte
	collision atomic.Bool
}

type Hub struct {
	opts Options
	log  *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	dropped  atomic.Uint64

	mu      sync.Mutex
	clients map[string]*client
	// meshes holds the latest render mesh message per block for late joiners.
	meshes map[mathx.Vec3i][]byte
}

func NewHub(opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.OutQueue <= 0 {
		opts.OutQueue = 4096
	}
	return &Hub{
		opts: opts,
		log:  opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		clients: map[string]*client{},
		meshes:  map[mathx.Vec3i][]byte{},
	}
}

// Dropped counts messages dropped on full client queues.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) UpdateMesh(bpos, origin mathx.Vec3i, mesh *mesher.Mesh) {
	b := mustMarshal(meshMsg(bpos, origin, mesh, false))
	h.mu.Lock()
	defer h.mu.Unlock()
	h.meshes[bpos] = b
	for _, c := range h.clients {
		h.sendLocked(c, b)
	}
}

func (h *Hub) UpdateCollision(bpos, origin mathx.Vec3i, mesh *mesher.Mesh) {
	b := mustMarshal(meshMsg(bpos, origin, mesh, true))
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		if c.collision.Load() {
			h.sendLocked(c, b)
		}
	}
}

func (h *Hub) Clear(bpos mathx.Vec3i) {
	h.dropBlock(bpos, mustMarshal(observerproto.BlockClearMsg{
		Type:            observerproto.TypeBlockClear,
		ProtocolVersion: observerproto.Version,
		Block:           bpos.Array(),
	}))
}

func (h *Hub) Remove(bpos mathx.Vec3i) {
	h.dropBlock(bpos, mustMarshal(observerproto.BlockRemoveMsg{
		Type:            observerproto.TypeBlockRemove,
		ProtocolVersion: observerproto.Version,
		Block:           bpos.Array(),
	}))
}

func (h *Hub) dropBlock(bpos mathx.Vec3i, b []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.meshes, bpos)
	for _, c := range h.clients {
		h.sendLocked(c, b)
	}
}

// WriteTick broadcasts tick stats.
func (h *Hub) WriteTick(st terrain.TickStats) error {
	b, err := json.Marshal(observerproto.TickMsg{
		Type:            observerproto.TypeTick,
		ProtocolVersion: observerproto.Version,
		Tick:            st.Tick,
		ViewerBlock:     st.Viewer.Array(),
		Processed:       st.Processed,
		Remaining:       st.Remaining,
		Emerged:         st.Emerged,
		Meshed:          st.Meshed,
		Cleared:         st.Cleared,
		Skipped:         st.Skipped,
		ElapsedMicros:   st.ElapsedMicros,
	})
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		h.sendLocked(c, b)
	}
	return nil
}

func (h *Hub) sendLocked(c *client, b []byte) {
	select {
	case c.out <- b:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hub) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !h.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		if h.opts.Bootstrap == nil {
			http.NotFound(rw, r)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(h.opts.Bootstrap())
	}
}

func (h *Hub) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !h.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil || sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", h.nextID.Add(1))
		c := &client{out: make(chan []byte, h.opts.OutQueue)}
		c.collision.Store(sub.IncludeCollision)
		h.join(sid, c)
		defer h.leave(sid)
		h.log.Printf("observer %s joined from %s", sid, r.RemoteAddr)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			h.handleClientMessage(c, msg)
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		h.log.Printf("observer %s left", sid)
	}
}

// join registers c and queues the current meshes for it.
func (h *Hub) join(sid string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[sid] = c
	for _, b := range h.meshes {
		h.sendLocked(c, b)
	}
}

func (h *Hub) leave(sid string) {
	h.mu.Lock()
	delete(h.clients, sid)
	h.mu.Unlock()
}

func (h *Hub) handleClientMessage(c *client, msg []byte) {
	var head struct {
		Type            string `json:"type"`
		ProtocolVersion string `json:"protocol_version"`
	}
	if err := json.Unmarshal(msg, &head); err != nil || head.ProtocolVersion != observerproto.Version {
		return
	}
	switch head.Type {
	case observerproto.TypeSubscribe:
		var sub observerproto.SubscribeMsg
		if json.Unmarshal(msg, &sub) == nil {
			c.collision.Store(sub.IncludeCollision)
		}
	case observerproto.TypeViewer:
		var vm observerproto.ViewerMsg
		if json.Unmarshal(msg, &vm) != nil || h.opts.Viewer == nil {
			return
		}
		pos := mgl32.Vec3(vm.Pos)
		if !mathx.InWorld(pos) {
			return
		}
		h.opts.Viewer.SetPosition(pos)
	case observerproto.TypeEdit:
		var em observerproto.EditMsg
		if json.Unmarshal(msg, &em) != nil || h.opts.Edits == nil {
			return
		}
		e := terrain.EditEntry{
			Pos:     mathx.V(em.Pos[0], em.Pos[1], em.Pos[2]),
			Channel: em.Channel,
			Value:   uint8(em.Value),
		}
		if em.Value < 0 || em.Value > 255 || !e.Pos.InWorld() {
			return
		}
		select {
		case h.opts.Edits <- e:
		default:
			// Drop edits under load; the client may resend.
		}
	}
}

func (h *Hub) allowed(r *http.Request) bool {
	return h.opts.AllowRemote || isLoopbackRemote(r.RemoteAddr)
}

func meshMsg(bpos, origin mathx.Vec3i, mesh *mesher.Mesh, collision bool) observerproto.BlockMeshMsg {
	msg := observerproto.BlockMeshMsg{
		Type:            observerproto.TypeBlockMesh,
		ProtocolVersion: observerproto.Version,
		Block:           bpos.Array(),
		Origin:          origin.Array(),
		Collision:       collision,
	}
	if mesh.Empty() {
		return msg
	}
	msg.Positions = flatten(mesh.Positions)
	msg.Normals = flatten(mesh.Normals)
	msg.Materials = make([]int, len(mesh.Materials))
	for i, m := range mesh.Materials {
		msg.Materials[i] = int(m)
	}
	msg.Indices = mesh.Indices
	return msg
}

func flatten(vs []mgl32.Vec3) []float32 {
	out := make([]float32, 0, 3*len(vs))
	for _, v := range vs {
		out = append(out, v[0], v[1], v[2])
	}
	return out
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("observer: marshal %T: %v", v, err))
	}
	return b
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
