package consensus

import "encoding/hex"

// DefaultCommitmentMarker prefixes the first push of every commitment output.
var DefaultCommitmentMarker = []byte{0xd1, 0x61, 0x73, 0x68}

const MaxDrivechainIDBytes = 32

// Commitment is one drivechain commitment found in a coinbase output.
// Its identity for uniqueness purposes is DrivechainID alone.
type Commitment struct {
	DrivechainID []byte
	Payload      []byte
}

func (c Commitment) IDHex() string {
	return hex.EncodeToString(c.DrivechainID)
}

// CommitmentSet keeps coinbase output order and is not deduplicated.
type CommitmentSet []Commitment

// IDs returns the drivechain ids in set order.
func (s CommitmentSet) IDs() [][]byte {
	out := make([][]byte, len(s))
	for i, c := range s {
		out[i] = c.DrivechainID
	}
	return out
}

// ExtractCommitments lists every commitment output of coinbase, in output
// order. It never fails: outputs that do not parse as commitments are
// ordinary outputs. A nil coinbase has no commitments.
func ExtractCommitments(coinbase *Tx, marker []byte) CommitmentSet {
	if coinbase == nil {
		return nil
	}
	var out CommitmentSet
	for _, o := range coinbase.Outputs {
		c, ok := ClassifyScript(o.Script, marker).(CommitmentOutput)
		if !ok {
			continue
		}
		out = append(out, Commitment{
			DrivechainID: append([]byte(nil), c.DrivechainID...),
			Payload:      append([]byte(nil), c.Payload...),
		})
	}
	return out
}

// CommitmentScript builds the output script committing payload (raw script
// bytes) to drivechain id.
func CommitmentScript(marker []byte, id []byte, payload []byte) []byte {
	if len(marker) == 0 {
		marker = DefaultCommitmentMarker
	}
	tag := make([]byte, 0, len(marker)+len(id))
	tag = append(tag, marker...)
	tag = append(tag, id...)
	out := []byte{OP_RETURN}
	out = PushData(out, tag)
	return append(out, payload...)
}

// EncodeCriticalHash encodes a BMM h* payload: the sidechain block number
// as a minimal little-endian push followed by the 32-byte critical hash.
func EncodeCriticalHash(blockNumber uint32, hash [32]byte) []byte {
	var num []byte
	for v := blockNumber; ; v >>= 8 {
		num = append(num, byte(v))
		if v <= 0xff {
			break
		}
	}
	out := PushData(nil, num)
	return PushData(out, hash[:])
}
