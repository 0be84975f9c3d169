package consensus

import "encoding/binary"

func readU8(b []byte, off *int) (uint8, error) {
	if *off+1 > len(b) {
		return 0, txerr(TX_ERR_PARSE, "unexpected EOF (u8)")
	}
	v := b[*off]
	*off++
	return v, nil
}

func readU32le(b []byte, off *int) (uint32, error) {
	if *off+4 > len(b) {
		return 0, txerr(TX_ERR_PARSE, "unexpected EOF (u32le)")
	}
	v := binary.LittleEndian.Uint32(b[*off : *off+4])
	*off += 4
	return v, nil
}

func readU64le(b []byte, off *int) (uint64, error) {
	if *off+8 > len(b) {
		return 0, txerr(TX_ERR_PARSE, "unexpected EOF (u64le)")
	}
	v := binary.LittleEndian.Uint64(b[*off : *off+8])
	*off += 8
	return v, nil
}

func readBytes(b []byte, off *int, n int) ([]byte, error) {
	if n < 0 {
		return nil, txerr(TX_ERR_PARSE, "negative length")
	}
	if *off+n > len(b) {
		return nil, txerr(TX_ERR_PARSE, "unexpected EOF (bytes)")
	}
	v := b[*off : *off+n]
	*off += n
	return v, nil
}

func readCompactSize(b []byte, off *int) (uint64, error) {
	if *off >= len(b) {
		return 0, txerr(TX_ERR_PARSE, "unexpected EOF (compactsize)")
	}
	n, used, err := DecodeCompactSize(b[*off:])
	if err != nil {
		return 0, err
	}
	*off += used
	return n, nil
}

// readLen reads a CompactSize length and checks that many bytes remain.
func readLen(b []byte, off *int, max uint64, name string) (int, error) {
	n, err := readCompactSize(b, off)
	if err != nil {
		return 0, err
	}
	if n > max {
		return 0, txerr(TX_ERR_PARSE, name+" exceeds limit")
	}
	if n > uint64(len(b)-*off) {
		return 0, txerr(TX_ERR_PARSE, name+" exceeds remaining bytes")
	}
	return int(n), nil
}
