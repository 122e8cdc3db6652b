package vxb

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"voxelterrain.ai/internal/sim/logic/mathx"
)

func lodDirName(lod int) string { return "lod" + strconv.Itoa(lod) }

// BlockFileName formats a block coordinate with explicit signs, e.g. "+0-3+12.vxb".
func BlockFileName(bpos mathx.Vec3i) string {
	return fmt.Sprintf("%+d%+d%+d%s", bpos.X, bpos.Y, bpos.Z, BlockFileExt)
}

// ParseBlockFileName reverses BlockFileName.
func ParseBlockFileName(name string) (mathx.Vec3i, bool) {
	s, ok := strings.CutSuffix(name, BlockFileExt)
	if !ok || s == "" {
		return mathx.Vec3i{}, false
	}
	var out mathx.Vec3i
	for axis := 0; axis < 3; axis++ {
		if s == "" || (s[0] != '+' && s[0] != '-') {
			return mathx.Vec3i{}, false
		}
		end := 1
		for end < len(s) && s[end] >= '0' && s[end] <= '9' {
			end++
		}
		if end == 1 {
			return mathx.Vec3i{}, false
		}
		v, err := strconv.Atoi(s[:end])
		if err != nil {
			return mathx.Vec3i{}, false
		}
		out.Set(axis, v)
		s = s[end:]
	}
	if s != "" {
		return mathx.Vec3i{}, false
	}
	return out, true
}

// BlockFilePath returns the file holding block bpos at the given lod, or ""
// when no directory is set.
func (s *Stream) BlockFilePath(bpos mathx.Vec3i, lod int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockFilePathLocked(bpos, lod)
}

func (s *Stream) blockFilePathLocked(bpos mathx.Vec3i, lod int) string {
	if s.dir == "" {
		return ""
	}
	return filepath.Join(s.dir, BlocksDir, lodDirName(lod), BlockFileName(bpos))
}

// BlockPosition converts a voxel-space origin at lod 0 to a block coordinate
// at the given lod.
func (s *Stream) BlockPosition(origin mathx.Vec3i, lod int) mathx.Vec3i {
	s.mu.Lock()
	defer s.mu.Unlock()
	return blockPosition(origin, s.meta.BlockSize, lod)
}

func blockPosition(origin, blockSize mathx.Vec3i, lod int) mathx.Vec3i {
	return origin.FloorDiv(blockSize).Shr(uint(lod))
}

// ListBlocks returns the coordinates of every block file stored at lod,
// sorted by z, then y, then x. Unparseable names are skipped.
func (s *Stream) ListBlocks(lod int) ([]mathx.Vec3i, error) {
	s.mu.Lock()
	dir := s.dir
	s.mu.Unlock()
	if dir == "" {
		return nil, ErrNoDirectory
	}
	entries, err := os.ReadDir(filepath.Join(dir, BlocksDir, lodDirName(lod)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]mathx.Vec3i, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if p, ok := ParseBlockFileName(e.Name()); ok {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b mathx.Vec3i) int {
		if a.Z != b.Z {
			return a.Z - b.Z
		}
		if a.Y != b.Y {
			return a.Y - b.Y
		}
		return a.X - b.X
	})
	return out, nil
}
