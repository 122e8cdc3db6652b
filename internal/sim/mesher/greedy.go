// Package mesher builds blocky surface meshes from padded voxel buffers.
package mesher

import (
	"github.com/go-gl/mathgl/mgl32"

	"voxelterrain.ai/internal/sim/voxel"
)

// Mesh is an indexed triangle list. Positions are relative to the block
// origin; Materials holds the type-channel value of each vertex's voxel.
type Mesh struct {
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	Materials []uint8
	Indices   []uint32
}

func (m *Mesh) Empty() bool { return m == nil || len(m.Indices) == 0 }

func (m *Mesh) TriangleCount() int {
	if m == nil {
		return 0
	}
	return len(m.Indices) / 3
}

type dirSpec struct {
	normal mgl32.Vec3
	u, v   int
	du, dv [3]int
}

var directions = [...]dirSpec{
	{mgl32.Vec3{1, 0, 0}, 1, 2, [3]int{0, 1, 0}, [3]int{0, 0, 1}},
	{mgl32.Vec3{-1, 0, 0}, 1, 2, [3]int{0, 1, 0}, [3]int{0, 0, 1}},
	{mgl32.Vec3{0, 1, 0}, 0, 2, [3]int{1, 0, 0}, [3]int{0, 0, 1}},
	{mgl32.Vec3{0, -1, 0}, 0, 2, [3]int{1, 0, 0}, [3]int{0, 0, 1}},
	{mgl32.Vec3{0, 0, 1}, 0, 1, [3]int{1, 0, 0}, [3]int{0, 1, 0}},
	{mgl32.Vec3{0, 0, -1}, 0, 1, [3]int{1, 0, 0}, [3]int{0, 1, 0}},
}

// Greedy merges coplanar faces of equal material into rectangles.
type Greedy struct {
	// Channel is the channel read for solidity; 0 means empty.
	Channel int
}

func NewGreedy() *Greedy { return &Greedy{Channel: voxel.ChannelType} }

// Build meshes the interior of padded, which carries a one-voxel border on
// every side. Border voxels only decide face visibility and are never meshed.
func (g *Greedy) Build(padded *voxel.Buffer) *Mesh {
	mesh := &Mesh{}
	ps := padded.Size()
	dims := [3]int{ps.X - 2, ps.Y - 2, ps.Z - 2}
	if dims[0] <= 0 || dims[1] <= 0 || dims[2] <= 0 {
		return mesh
	}
	if !padded.IsDense(g.Channel) {
		// A uniform channel has no solid/empty boundary inside the buffer.
		return mesh
	}

	at := func(p [3]int) uint8 {
		return padded.Voxel(p[0]+1, p[1]+1, p[2]+1, g.Channel)
	}

	for _, dir := range directions {
		perp := 3 - dir.u - dir.v
		step := 1
		if dir.normal[perp] < 0 {
			step = -1
		}
		du, dv := dims[dir.u], dims[dir.v]
		mask := make([]uint8, du*dv)
		visited := make([]bool, du*dv)

		for p := 0; p < dims[perp]; p++ {
			clear(mask)
			clear(visited)
			for u := 0; u < du; u++ {
				for v := 0; v < dv; v++ {
					var pos [3]int
					pos[dir.u] = u
					pos[dir.v] = v
					pos[perp] = p
					m := at(pos)
					if m == 0 {
						continue
					}
					adj := pos
					adj[perp] += step
					if at(adj) == 0 {
						mask[u*dv+v] = m
					}
				}
			}

			for u := 0; u < du; u++ {
				for v := 0; v < dv; {
					i := u*dv + v
					if mask[i] == 0 || visited[i] {
						v++
						continue
					}
					m := mask[i]
					width := 1
					for w := v + 1; w < dv && mask[u*dv+w] == m && !visited[u*dv+w]; w++ {
						width++
					}
					height := 1
				grow:
					for h := u + 1; h < du; h++ {
						for w := v; w < v+width; w++ {
							if mask[h*dv+w] != m || visited[h*dv+w] {
								break grow
							}
						}
						height++
					}
					for hu := u; hu < u+height; hu++ {
						for hv := v; hv < v+width; hv++ {
							visited[hu*dv+hv] = true
						}
					}
					addQuad(mesh, dir, perp, [3]int{p, u, v}, width, height, m)
					v += width
				}
			}
		}
	}
	return mesh
}

func addQuad(mesh *Mesh, dir dirSpec, perp int, start [3]int, w, h int, m uint8) {
	var base mgl32.Vec3
	base[perp] = float32(start[0])
	if dir.normal[perp] > 0 {
		base[perp]++
	}
	base[dir.u] = float32(start[1])
	base[dir.v] = float32(start[2])

	var du, dv mgl32.Vec3
	for i := 0; i < 3; i++ {
		du[i] = float32(dir.du[i] * h)
		dv[i] = float32(dir.dv[i] * w)
	}
	verts := [4]mgl32.Vec3{base, base.Add(du), base.Add(du).Add(dv), base.Add(dv)}

	// du x dv points along +X and +Z but along -Y; flip to keep faces outward.
	if (dir.normal[perp] < 0) != (perp == 1) {
		verts[1], verts[3] = verts[3], verts[1]
	}

	baseIdx := uint32(len(mesh.Positions))
	for _, p := range verts {
		mesh.Positions = append(mesh.Positions, p)
		mesh.Normals = append(mesh.Normals, dir.normal)
		mesh.Materials = append(mesh.Materials, m)
	}
	mesh.Indices = append(mesh.Indices, baseIdx, baseIdx+1, baseIdx+2, baseIdx, baseIdx+2, baseIdx+3)
}
