package vxb

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"voxelterrain.ai/internal/sim/logic/mathx"
)

const (
	DefaultBlockSize = 16
	DefaultLODCount  = 1
)

// Meta describes every block stored under a directory.
type Meta struct {
	Version   uint8
	LODCount  uint8
	BlockSize mathx.Vec3i

	// Loaded is set once the meta has been read from or written to the
	// current directory. Saved is set once it exists on disk.
	Loaded bool
	Saved  bool
}

func DefaultMeta() Meta {
	return Meta{
		Version:   FormatVersion,
		LODCount:  DefaultLODCount,
		BlockSize: mathx.Splat(DefaultBlockSize),
	}
}

func (m Meta) validate() error {
	if m.LODCount == 0 {
		return fmt.Errorf("vxb: meta lod count is 0")
	}
	if m.BlockSize.HasZero() {
		return fmt.Errorf("vxb: meta block size %v", m.BlockSize)
	}
	return nil
}

func readMeta(path string) (Meta, error) {
	f, err := os.Open(path)
	if err != nil {
		return Meta{}, err
	}
	defer f.Close()
	r := bufio.NewReader(f)

	version, err := CheckMagicAndVersion(r, FormatVersion, MetaMagic)
	if err != nil {
		return Meta{}, fmt.Errorf("%s: %w", path, err)
	}
	lodCount, err := r.ReadByte()
	if err != nil {
		return Meta{}, fmt.Errorf("%s: lod count: %w", path, noEOF(err))
	}
	var size [3]uint32
	for i := range size {
		if size[i], err = readU32(r); err != nil {
			return Meta{}, fmt.Errorf("%s: block size: %w", path, noEOF(err))
		}
	}
	m := Meta{
		Version:   version,
		LODCount:  lodCount,
		BlockSize: mathx.V(int(size[0]), int(size[1]), int(size[2])),
		Loaded:    true,
		Saved:     true,
	}
	if err := m.validate(); err != nil {
		return Meta{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func writeMeta(path string, m Meta) error {
	b := make([]byte, 0, 4+1+1+12)
	b = append(b, MetaMagic...)
	b = append(b, m.Version, m.LODCount)
	b = appendU32(b, uint32(m.BlockSize.X))
	b = appendU32(b, uint32(m.BlockSize.Y))
	b = appendU32(b, uint32(m.BlockSize.Z))
	return writeFileAtomic(path, b)
}

// writeFileAtomic writes to a sibling temp file and renames it over path, so a
// reader sees either the previous content or the complete new one.
func writeFileAtomic(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
