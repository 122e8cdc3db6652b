package encoding

import (
	"encoding/binary"
	"fmt"
)

// EncodeRLE appends the run-length encoding of src to dst and returns the
// extended slice. The encoding is a sequence of (value, run_len) uvarint pairs.
func EncodeRLE(dst []byte, src []uint8) []byte {
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(src) {
		b := src[i]
		run := 1
		for j := i + 1; j < len(src) && src[j] == b; j++ {
			run++
		}

		n := binary.PutUvarint(tmp[:], uint64(b))
		dst = append(dst, tmp[:n]...)
		n = binary.PutUvarint(tmp[:], uint64(run))
		dst = append(dst, tmp[:n]...)

		i += run
	}
	return dst
}

// DecodeRLE expands raw into exactly n bytes. Runs that overflow n, a short
// result or malformed varints are errors.
func DecodeRLE(raw []byte, n int) ([]uint8, error) {
	out := make([]uint8, 0, n)
	for i := 0; i < len(raw); {
		b, k := binary.Uvarint(raw[i:])
		if k <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += k
		run, k := binary.Uvarint(raw[i:])
		if k <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += k
		if b > 0xFF {
			return nil, fmt.Errorf("value too large: %d", b)
		}
		if run == 0 || run > uint64(n-len(out)) {
			return nil, fmt.Errorf("run of %d at %d exceeds remaining %d", run, i, n-len(out))
		}
		for r := uint64(0); r < run; r++ {
			out = append(out, uint8(b))
		}
	}
	if len(out) != n {
		return nil, fmt.Errorf("decoded %d bytes, want %d", len(out), n)
	}
	return out, nil
}
