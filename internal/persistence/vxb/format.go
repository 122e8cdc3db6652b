// Package vxb stores voxel blocks as one file per block under a directory:
//
//	<dir>/meta.vxbm
//	<dir>/blocks/lod<L>/<±x><±y><±z>.vxb
//
// Block payloads are produced by encoding.BlockSerializer and are opaque here.
package vxb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	MetaMagic  = "VXBM"
	BlockMagic = "VXB_"

	FormatVersion = 1

	MetaFileName = "meta.vxbm"
	BlocksDir    = "blocks"
	BlockFileExt = ".vxb"

	// magic, version byte, u32 payload length
	blockHeaderLen = len(BlockMagic) + 1 + 4
)

var (
	ErrInvalidMagic       = errors.New("vxb: invalid magic")
	ErrUnsupportedVersion = errors.New("vxb: unsupported version")
	ErrLODOutOfRange      = errors.New("vxb: lod out of range")
	ErrNoDirectory        = errors.New("vxb: no directory set")
	ErrCorruptBlock       = errors.New("vxb: corrupt block file")
)

// CheckMagicAndVersion consumes a 4-byte magic and a version byte from r.
// The version read is returned even when it does not match expected.
func CheckMagicAndVersion(r io.Reader, expectedVersion uint8, magic string) (uint8, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:len(magic)+1]); err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	if !bytes.Equal(hdr[:len(magic)], []byte(magic)) {
		return 0, fmt.Errorf("%w: got %q want %q", ErrInvalidMagic, hdr[:len(magic)], magic)
	}
	version := hdr[len(magic)]
	if version != expectedVersion {
		return version, fmt.Errorf("%w: %d (expected %d)", ErrUnsupportedVersion, version, expectedVersion)
	}
	return version, nil
}

func readU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func appendU32(dst []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, v)
}
