package vxb

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"voxelterrain.ai/internal/sim/encoding"
	"voxelterrain.ai/internal/sim/logic/mathx"
	"voxelterrain.ai/internal/sim/voxel"
)

// Generator fills a buffer whose data is not on disk.
type Generator interface {
	EmergeBlock(buf *voxel.Buffer, origin mathx.Vec3i, lod int) error
}

// BlockIndex is told about every block written.
type BlockIndex interface {
	RecordBlock(lod int, bpos mathx.Vec3i, path string, payload []byte)
}

type Options struct {
	// BlockSize and LODCount are used when a directory has no meta yet.
	// Zero values select DefaultBlockSize and DefaultLODCount.
	BlockSize mathx.Vec3i
	LODCount  int

	Fallback Generator
	Index    BlockIndex
	Logger   *log.Logger
}

// Stream loads and saves blocks from a directory. Methods are safe for
// concurrent use; file I/O happens outside the lock.
type Stream struct {
	fallback Generator
	index    BlockIndex
	logger   *log.Logger
	codec    *encoding.BlockSerializer
	defaults Meta

	mu   sync.Mutex
	dir  string
	meta Meta
}

func NewStream(opts Options) (*Stream, error) {
	defaults := DefaultMeta()
	if !opts.BlockSize.HasZero() {
		defaults.BlockSize = opts.BlockSize
	}
	if opts.LODCount > 0 {
		if opts.LODCount > 255 {
			return nil, fmt.Errorf("vxb: lod count %d exceeds 255", opts.LODCount)
		}
		defaults.LODCount = uint8(opts.LODCount)
	}
	codec, err := encoding.NewBlockSerializer()
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Stream{
		fallback: opts.Fallback,
		index:    opts.Index,
		logger:   logger,
		codec:    codec,
		defaults: defaults,
		meta:     defaults,
	}, nil
}

func (s *Stream) Close() error { return s.codec.Close() }

// SetDirectory switches the stream to another directory. Meta for the new
// directory is read lazily on the next block access.
func (s *Stream) SetDirectory(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dir == s.dir {
		return
	}
	s.dir = dir
	s.meta = s.defaults
}

func (s *Stream) Directory() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir
}

// Meta returns the meta of the current directory, loading or creating it
// first. Without a directory the defaults are returned.
func (s *Stream) Meta() (Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dir == "" {
		return s.meta, nil
	}
	if err := s.ensureMetaLocked(); err != nil {
		return Meta{}, err
	}
	return s.meta, nil
}

// ensureMetaLocked reads meta from disk, or writes the defaults when the
// directory has none yet.
func (s *Stream) ensureMetaLocked() error {
	if s.meta.Loaded {
		if !s.meta.Saved {
			return s.saveMetaLocked()
		}
		return nil
	}
	path := filepath.Join(s.dir, MetaFileName)
	m, err := readMeta(path)
	switch {
	case err == nil:
		s.meta = m
	case errors.Is(err, os.ErrNotExist):
		s.meta = s.defaults
		s.meta.Loaded = true
		if err := s.saveMetaLocked(); err != nil {
			return err
		}
		s.logger.Printf("vxb: initialized %s (block size %v, %d lods)", path, s.meta.BlockSize, s.meta.LODCount)
	default:
		return err
	}
	mustf(s.meta.Loaded, "vxb: meta not loaded after load of %s", path)
	return nil
}

func (s *Stream) saveMetaLocked() error {
	path := filepath.Join(s.dir, MetaFileName)
	if err := writeMeta(path, s.meta); err != nil {
		return fmt.Errorf("vxb: write meta: %w", err)
	}
	s.meta.Saved = true
	return nil
}

func (s *Stream) checkBlockLocked(buf *voxel.Buffer, lod int) error {
	if lod < 0 || lod >= int(s.meta.LODCount) {
		return fmt.Errorf("%w: lod %d, lod count %d", ErrLODOutOfRange, lod, s.meta.LODCount)
	}
	if buf.Size() != s.meta.BlockSize {
		return fmt.Errorf("%w: buffer %v, block size %v", voxel.ErrSizeMismatch, buf.Size(), s.meta.BlockSize)
	}
	return nil
}

// EmergeBlock fills buf with the block containing origin (voxel space, lod 0).
// Blocks with no file, or any block when no directory is set, are produced by
// the fallback generator; without one buf is left as is.
func (s *Stream) EmergeBlock(buf *voxel.Buffer, origin mathx.Vec3i, lod int) error {
	s.mu.Lock()
	if s.dir == "" {
		s.mu.Unlock()
		return s.emergeFallback(buf, origin, lod)
	}
	if err := s.ensureMetaLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.checkBlockLocked(buf, lod); err != nil {
		s.mu.Unlock()
		return err
	}
	bpos := blockPosition(origin, s.meta.BlockSize, lod)
	path := s.blockFilePathLocked(bpos, lod)
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s.emergeFallback(buf, origin, lod)
		}
		return err
	}
	defer f.Close()

	payload, err := readBlockFile(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := s.codec.DecompressAndDeserialize(payload, buf); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func (s *Stream) emergeFallback(buf *voxel.Buffer, origin mathx.Vec3i, lod int) error {
	if s.fallback == nil {
		return nil
	}
	return s.fallback.EmergeBlock(buf, origin, lod)
}

// ReadBlockPayload returns the still-compressed payload of a stored block.
func (s *Stream) ReadBlockPayload(bpos mathx.Vec3i, lod int) ([]byte, error) {
	path := s.BlockFilePath(bpos, lod)
	if path == "" {
		return nil, ErrNoDirectory
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	payload, err := readBlockFile(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return payload, nil
}

func readBlockFile(f *os.File) ([]byte, error) {
	r := bufio.NewReader(f)
	if _, err := CheckMagicAndVersion(r, FormatVersion, BlockMagic); err != nil {
		return nil, err
	}
	n, err := readU32(r)
	if err != nil {
		return nil, fmt.Errorf("payload length: %w", noEOF(err))
	}
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	// The length is untrusted; never allocate past what the file holds.
	if avail := fi.Size() - int64(blockHeaderLen); int64(n) > avail {
		return nil, fmt.Errorf("%w: payload length %d, file has %d bytes left", ErrCorruptBlock, n, max(avail, 0))
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("payload: %w", noEOF(err))
	}
	return payload, nil
}

// ImmergeBlock writes buf as the block containing origin. The file is
// replaced atomically.
func (s *Stream) ImmergeBlock(buf *voxel.Buffer, origin mathx.Vec3i, lod int) error {
	s.mu.Lock()
	if s.dir == "" {
		s.mu.Unlock()
		return ErrNoDirectory
	}
	if err := s.ensureMetaLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.checkBlockLocked(buf, lod); err != nil {
		s.mu.Unlock()
		return err
	}
	bpos := blockPosition(origin, s.meta.BlockSize, lod)
	path := s.blockFilePathLocked(bpos, lod)
	s.mu.Unlock()

	payload, err := s.codec.SerializeAndCompress(buf)
	if err != nil {
		return err
	}
	b := make([]byte, 0, blockHeaderLen+len(payload))
	b = append(b, BlockMagic...)
	b = append(b, FormatVersion)
	b = appendU32(b, uint32(len(payload)))
	b = append(b, payload...)
	if err := writeFileAtomic(path, b); err != nil {
		return fmt.Errorf("vxb: write block %v: %w", bpos, err)
	}
	if s.index != nil {
		s.index.RecordBlock(lod, bpos, path, payload)
	}
	return nil
}

func mustf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
