package main

import (
	"fmt"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"voxelterrain.ai/internal/persistence/vxb"
	"voxelterrain.ai/internal/sim/logic/mathx"
	"voxelterrain.ai/internal/sim/mesher"
	"voxelterrain.ai/internal/sim/terrain/store"
	"voxelterrain.ai/internal/sim/voxel"
)

// palette colours per material id; unknown ids render magenta.
var palette = map[uint8][4]float32{
	1: {0.50, 0.50, 0.52, 1}, // stone
	2: {0.45, 0.32, 0.20, 1}, // dirt
	3: {0.30, 0.60, 0.25, 1}, // grass
	4: {0.86, 0.80, 0.55, 1}, // sand
	5: {0.55, 0.53, 0.50, 1}, // gravel
	6: {0.20, 0.20, 0.20, 1}, // coal ore
	7: {0.70, 0.55, 0.45, 1}, // iron ore
}

func materialColor(m uint8) [4]float32 {
	if c, ok := palette[m]; ok {
		return c
	}
	return [4]float32{1, 0, 1, 1}
}

// loadChunkMap reads every lod-0 block in the stream's directory, optionally
// limited to the block box [min, max].
func loadChunkMap(s *vxb.Stream, meta vxb.Meta, box *[2]mathx.Vec3i) (*store.ChunkMap, error) {
	keys, err := s.ListBlocks(0)
	if err != nil {
		return nil, err
	}
	m := store.NewChunkMap(meta.BlockSize)
	for _, bpos := range keys {
		if box != nil && !inBox(bpos, box[0], box[1]) {
			continue
		}
		size := meta.BlockSize
		buf := voxel.NewBuffer(size.X, size.Y, size.Z)
		if err := s.EmergeBlock(buf, m.BlockToVoxel(bpos), 0); err != nil {
			return nil, fmt.Errorf("block %v: %w", bpos, err)
		}
		m.SetBlockBuffer(bpos, buf)
	}
	return m, nil
}

func inBox(p, lo, hi mathx.Vec3i) bool {
	return p.X >= lo.X && p.X <= hi.X && p.Y >= lo.Y && p.Y <= hi.Y && p.Z >= lo.Z && p.Z <= hi.Z
}

// meshChunkMap meshes each resident block against its neighbours and merges
// the result into one mesh in world space.
func meshChunkMap(m *store.ChunkMap) *mesher.Mesh {
	g := mesher.NewGreedy()
	out := &mesher.Mesh{}
	padSize := m.BlockSize().Add(mathx.Splat(2))
	for _, bpos := range m.Keys() {
		origin := m.BlockToVoxel(bpos)
		padded := voxel.NewBuffer(padSize.X, padSize.Y, padSize.Z)
		m.BufferCopy(origin.Sub(mathx.Splat(1)), padded, voxel.ChannelType)
		part := g.Build(padded)
		if part.Empty() {
			continue
		}
		base := uint32(len(out.Positions))
		off := origin.Vec3()
		for _, p := range part.Positions {
			out.Positions = append(out.Positions, p.Add(off))
		}
		out.Normals = append(out.Normals, part.Normals...)
		out.Materials = append(out.Materials, part.Materials...)
		for _, i := range part.Indices {
			out.Indices = append(out.Indices, base+i)
		}
	}
	return out
}

func writeGLB(path string, mesh *mesher.Mesh) error {
	if mesh.Empty() {
		return fmt.Errorf("nothing to export: no solid voxels")
	}
	positions := make([][3]float32, len(mesh.Positions))
	normals := make([][3]float32, len(mesh.Normals))
	colors := make([][4]float32, len(mesh.Materials))
	for i, p := range mesh.Positions {
		positions[i] = p
	}
	for i, n := range mesh.Normals {
		normals[i] = n
	}
	for i, m := range mesh.Materials {
		colors[i] = materialColor(m)
	}
	indices := make([]uint32, len(mesh.Indices))
	copy(indices, mesh.Indices)

	doc := gltf.NewDocument()
	doc.Asset.Generator = "vxbtool"

	posAccessor := modeler.WritePosition(doc, positions)
	normalAccessor := modeler.WriteNormal(doc, normals)
	colorAccessor := modeler.WriteColor(doc, colors)
	indicesAccessor := modeler.WriteIndices(doc, indices)

	prim := &gltf.Primitive{
		Attributes: gltf.PrimitiveAttributes{
			gltf.POSITION: posAccessor,
			gltf.NORMAL:   normalAccessor,
			gltf.COLOR_0:  colorAccessor,
		},
		Indices: gltf.Index(indicesAccessor),
	}

	doc.Materials = []*gltf.Material{{
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			BaseColorFactor: &[4]float64{1, 1, 1, 1},
			MetallicFactor:  gltf.Float(0),
			RoughnessFactor: gltf.Float(1),
		},
		AlphaMode: gltf.AlphaOpaque,
	}}
	prim.Material = gltf.Index(0)

	doc.Meshes = []*gltf.Mesh{{Name: "Terrain", Primitives: []*gltf.Primitive{prim}}}
	doc.Nodes = []*gltf.Node{{Mesh: gltf.Index(0)}}
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, 0)

	return gltf.SaveBinary(doc, path)
}
