package p2p

import (
	"encoding/binary"
	"fmt"

	"dcnode.dev/node/consensus"
)

// payloadReader walks a message payload. The first failure sticks; callers
// check err once after reading every field.
type payloadReader struct {
	cmd string
	b   []byte
	off int
	err error
}

func newPayloadReader(cmd string, b []byte) *payloadReader {
	return &payloadReader{cmd: cmd, b: b}
}

func (r *payloadReader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("p2p: %s: "+format, append([]any{r.cmd}, args...)...)
	}
}

func (r *payloadReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.b)-r.off < n {
		r.fail("truncated at offset %d", r.off)
		return nil
	}
	v := r.b[r.off : r.off+n]
	r.off += n
	return v
}

func (r *payloadReader) u8() byte {
	if v := r.take(1); v != nil {
		return v[0]
	}
	return 0
}

func (r *payloadReader) u32() uint32 {
	if v := r.take(4); v != nil {
		return binary.LittleEndian.Uint32(v)
	}
	return 0
}

func (r *payloadReader) u64() uint64 {
	if v := r.take(8); v != nil {
		return binary.LittleEndian.Uint64(v)
	}
	return 0
}

func (r *payloadReader) hash() (h [32]byte) {
	copy(h[:], r.take(32))
	return h
}

// count reads a CompactSize and rejects values above limit.
func (r *payloadReader) count(limit uint64, what string) int {
	if r.err != nil {
		return 0
	}
	n, used, err := consensus.DecodeCompactSize(r.b[r.off:])
	if err != nil {
		r.fail("%s: %v", what, err)
		return 0
	}
	r.off += used
	if n > limit {
		r.fail("%s %d exceeds %d", what, n, limit)
		return 0
	}
	return int(n)
}

func (r *payloadReader) remaining() int { return len(r.b) - r.off }

// end reports the sticky error, or a trailing-bytes error.
func (r *payloadReader) end() error {
	if r.err == nil && r.off != len(r.b) {
		r.fail("%d trailing bytes", len(r.b)-r.off)
	}
	return r.err
}

func appendVarBytes(dst, b []byte) []byte {
	return append(consensus.AppendCompactSize(dst, uint64(len(b))), b...)
}
