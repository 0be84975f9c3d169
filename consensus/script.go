package consensus

import "encoding/binary"

const (
	OP_0         = 0x00
	OP_PUSHDATA1 = 0x4c
	OP_PUSHDATA2 = 0x4d
	OP_PUSHDATA4 = 0x4e
	OP_RETURN    = 0x6a
)

// readPush decodes the data push starting at script[off]. OP_0 is an empty
// push. PUSHDATA4 and non-push opcodes are not data pushes here.
func readPush(script []byte, off int) ([]byte, int, bool) {
	if off >= len(script) {
		return nil, off, false
	}
	op := script[off]
	off++
	var n int
	switch {
	case op == OP_0:
		return []byte{}, off, true
	case op <= 0x4b:
		n = int(op)
	case op == OP_PUSHDATA1:
		if off+1 > len(script) {
			return nil, off, false
		}
		n = int(script[off])
		off++
	case op == OP_PUSHDATA2:
		if off+2 > len(script) {
			return nil, off, false
		}
		n = int(binary.LittleEndian.Uint16(script[off : off+2]))
		off += 2
	default:
		return nil, off, false
	}
	if n > len(script)-off {
		return nil, off, false
	}
	return script[off : off+n], off + n, true
}

// PushData appends the smallest push encoding of data to dst.
func PushData(dst []byte, data []byte) []byte {
	n := len(data)
	switch {
	case n == 0:
		return append(dst, OP_0)
	case n <= 0x4b:
		dst = append(dst, byte(n))
	case n <= 0xff:
		dst = append(dst, OP_PUSHDATA1, byte(n))
	default:
		dst = append(dst, OP_PUSHDATA2)
		dst = AppendU16le(dst, uint16(n))
	}
	return append(dst, data...)
}

// ScriptClass is the role an output script plays for commitment purposes.
type ScriptClass interface {
	isScriptClass()
}

// CommitmentOutput is an output carrying a drivechain commitment.
type CommitmentOutput struct {
	DrivechainID []byte
	Payload      []byte
}

// OrdinaryOutput is any output that is not a commitment.
type OrdinaryOutput struct{}

func (CommitmentOutput) isScriptClass() {}
func (OrdinaryOutput) isScriptClass()   {}

// ClassifyScript recognises OP_RETURN | PUSH(marker || id) | payload.
// The returned slices alias script.
func ClassifyScript(script []byte, marker []byte) ScriptClass {
	if len(marker) == 0 {
		marker = DefaultCommitmentMarker
	}
	if len(script) < 2 || script[0] != OP_RETURN {
		return OrdinaryOutput{}
	}
	data, next, ok := readPush(script, 1)
	if !ok || len(data) <= len(marker) {
		return OrdinaryOutput{}
	}
	for i := range marker {
		if data[i] != marker[i] {
			return OrdinaryOutput{}
		}
	}
	id := data[len(marker):]
	if len(id) > MaxDrivechainIDBytes {
		return OrdinaryOutput{}
	}
	return CommitmentOutput{DrivechainID: id, Payload: script[next:]}
}
