package consensus

import "encoding/binary"

// compactSizeForms lists the prefixed encodings in order of width. A value
// must use the narrowest form that holds it.
var compactSizeForms = [...]struct {
	tag   byte
	width int
	min   uint64
}{
	{0xfd, 2, 0xfd},
	{0xfe, 4, 0x1_0000},
	{0xff, 8, 0x1_0000_0000},
}

// AppendCompactSize appends n in its minimal CompactSize form. Every count
// and length in blocks, transactions and P2P payloads uses it.
func AppendCompactSize(dst []byte, n uint64) []byte {
	switch {
	case n < 0xfd:
		return append(dst, byte(n))
	case n <= 0xffff:
		return AppendU16le(append(dst, 0xfd), uint16(n))
	case n <= 0xffffffff:
		return AppendU32le(append(dst, 0xfe), uint32(n))
	default:
		return AppendU64le(append(dst, 0xff), n)
	}
}

// DecodeCompactSize reads one CompactSize from the front of b and returns
// the value and the number of bytes used. Non-minimal forms are rejected.
func DecodeCompactSize(b []byte) (uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, txerr(TX_ERR_PARSE, "compactsize: empty")
	}
	if b[0] < 0xfd {
		return uint64(b[0]), 1, nil
	}
	form := compactSizeForms[b[0]-0xfd]
	if len(b) < 1+form.width {
		return 0, 0, txerr(TX_ERR_PARSE, "compactsize: truncated")
	}
	var n uint64
	switch form.width {
	case 2:
		n = uint64(binary.LittleEndian.Uint16(b[1:]))
	case 4:
		n = uint64(binary.LittleEndian.Uint32(b[1:]))
	default:
		n = binary.LittleEndian.Uint64(b[1:])
	}
	if n < form.min {
		return 0, 0, txerr(TX_ERR_PARSE, "compactsize: non-minimal")
	}
	return n, 1 + form.width, nil
}
