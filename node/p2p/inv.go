package p2p

import (
	"fmt"

	"dcnode.dev/node/consensus"
)

const (
	MaxInvEntries = 50_000

	// InvTypeBlock is the only inventory kind this network relays.
	InvTypeBlock = 3
)

type InvVector struct {
	Type uint32
	Hash [32]byte
}

// BlockInv announces or requests a single block.
func BlockInv(hash [32]byte) []InvVector {
	return BlockInvs([][32]byte{hash})
}

// BlockInvs wraps hashes as block inventory, preserving order.
func BlockInvs(hashes [][32]byte) []InvVector {
	out := make([]InvVector, len(hashes))
	for i, h := range hashes {
		out[i] = InvVector{Type: InvTypeBlock, Hash: h}
	}
	return out
}

// BlockHashes returns the block hashes in vecs and how many entries of
// another type were skipped.
func BlockHashes(vecs []InvVector) (hashes [][32]byte, skipped int) {
	for _, v := range vecs {
		if v.Type != InvTypeBlock {
			skipped++
			continue
		}
		hashes = append(hashes, v.Hash)
	}
	return hashes, skipped
}

func EncodeInvPayload(vecs []InvVector) ([]byte, error) {
	if len(vecs) > MaxInvEntries {
		return nil, fmt.Errorf("p2p: inv: %d entries exceeds %d", len(vecs), MaxInvEntries)
	}
	out := consensus.AppendCompactSize(make([]byte, 0, 3+len(vecs)*36), uint64(len(vecs)))
	for _, v := range vecs {
		out = consensus.AppendU32le(out, v.Type)
		out = append(out, v.Hash[:]...)
	}
	return out, nil
}

func DecodeInvPayload(b []byte) ([]InvVector, error) {
	r := newPayloadReader(CmdInv, b)
	n := r.count(MaxInvEntries, "count")
	if r.err == nil && r.remaining() != n*36 {
		r.fail("length mismatch for %d entries", n)
	}
	out := make([]InvVector, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		out = append(out, InvVector{Type: r.u32(), Hash: r.hash()})
	}
	if err := r.end(); err != nil {
		return nil, err
	}
	return out, nil
}
