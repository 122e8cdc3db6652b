package encoding

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/willf/bitset"

	"voxelterrain.ai/internal/sim/voxel"
)

var ErrCorrupt = errors.New("encoding: corrupt block payload")

// Payload layout before compression:
//
//	u32 sx, u32 sy, u32 sz        little endian
//	u8  dense mask                bit i set when channel i is Dense
//	per channel:
//	  Uniform: u8 default
//	  Dense:   u32 n, n bytes of RLE
const headerLen = 3*4 + 1

// maxDecodedLen caps any single decode. Frames announcing their size are
// further held to MaxRawLen of the target buffer.
const maxDecodedLen = 256 << 20

// MaxRawLen is the largest uncompressed payload a buffer of the given volume
// can produce: every channel Dense with one run per voxel.
func MaxRawLen(volume int) uint64 {
	perVoxel := uint64(3) // value uvarint up to 2 bytes, run of 1
	return headerLen + voxel.MaxChannels*(4+perVoxel*uint64(volume))
}

// BlockSerializer turns voxel buffers into compressed block payloads and back.
// It is safe for concurrent use.
type BlockSerializer struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func NewBlockSerializer() (*BlockSerializer, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedLen))
	if err != nil {
		_ = enc.Close()
		return nil, err
	}
	return &BlockSerializer{enc: enc, dec: dec}, nil
}

func (s *BlockSerializer) Close() error {
	s.dec.Close()
	return s.enc.Close()
}

func (s *BlockSerializer) SerializeAndCompress(buf *voxel.Buffer) ([]byte, error) {
	size := buf.Size()
	raw := make([]byte, headerLen, headerLen+voxel.MaxChannels*8)
	binary.LittleEndian.PutUint32(raw[0:], uint32(size.X))
	binary.LittleEndian.PutUint32(raw[4:], uint32(size.Y))
	binary.LittleEndian.PutUint32(raw[8:], uint32(size.Z))

	mask := bitset.New(voxel.MaxChannels)
	for ch := 0; ch < voxel.MaxChannels; ch++ {
		if buf.IsDense(ch) {
			mask.Set(uint(ch))
		}
	}
	if words := mask.Bytes(); len(words) > 0 {
		raw[12] = uint8(words[0])
	}

	for ch := 0; ch < voxel.MaxChannels; ch++ {
		if !mask.Test(uint(ch)) {
			raw = append(raw, buf.DefaultValue(ch))
			continue
		}
		lenAt := len(raw)
		raw = append(raw, 0, 0, 0, 0)
		raw = EncodeRLE(raw, buf.ChannelRaw(ch))
		binary.LittleEndian.PutUint32(raw[lenAt:], uint32(len(raw)-lenAt-4))
	}

	return s.enc.EncodeAll(raw, nil), nil
}

// DecompressAndDeserialize decodes payload into buf. The encoded extent must
// equal buf's extent. On error buf is left unchanged.
func (s *BlockSerializer) DecompressAndDeserialize(payload []byte, buf *voxel.Buffer) error {
	var fh zstd.Header
	if err := fh.Decode(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if limit := MaxRawLen(buf.Volume()); fh.HasFCS && fh.FrameContentSize > limit {
		return fmt.Errorf("%w: frame declares %d bytes, at most %d fit %v", ErrCorrupt, fh.FrameContentSize, limit, buf.Size())
	}
	raw, err := s.dec.DecodeAll(payload, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(raw) < headerLen {
		return fmt.Errorf("%w: %d byte header", ErrCorrupt, len(raw))
	}
	sx := int(binary.LittleEndian.Uint32(raw[0:]))
	sy := int(binary.LittleEndian.Uint32(raw[4:]))
	sz := int(binary.LittleEndian.Uint32(raw[8:]))
	size := buf.Size()
	if sx != size.X || sy != size.Y || sz != size.Z {
		return fmt.Errorf("%w: payload is %dx%dx%d, buffer is %v", voxel.ErrSizeMismatch, sx, sy, sz, size)
	}
	mask := bitset.From([]uint64{uint64(raw[12])})

	type decoded struct {
		dense  []uint8
		defval uint8
	}
	var channels [voxel.MaxChannels]decoded
	volume := buf.Volume()
	p := headerLen
	for ch := 0; ch < voxel.MaxChannels; ch++ {
		if !mask.Test(uint(ch)) {
			if p >= len(raw) {
				return fmt.Errorf("%w: truncated at channel %d", ErrCorrupt, ch)
			}
			channels[ch].defval = raw[p]
			p++
			continue
		}
		if p+4 > len(raw) {
			return fmt.Errorf("%w: truncated at channel %d", ErrCorrupt, ch)
		}
		n := int(binary.LittleEndian.Uint32(raw[p:]))
		p += 4
		if n > len(raw)-p {
			return fmt.Errorf("%w: channel %d claims %d bytes", ErrCorrupt, ch, n)
		}
		data, err := DecodeRLE(raw[p:p+n], volume)
		if err != nil {
			return fmt.Errorf("%w: channel %s: %v", ErrCorrupt, voxel.ChannelName(ch), err)
		}
		channels[ch].dense = data
		p += n
	}
	if p != len(raw) {
		return fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(raw)-p)
	}

	for ch, c := range channels {
		if c.dense == nil {
			_ = buf.ClearChannel(ch, c.defval)
			continue
		}
		if err := buf.SetChannelRaw(ch, c.dense); err != nil {
			// Lengths were checked by DecodeRLE.
			panic(err)
		}
	}
	return nil
}
