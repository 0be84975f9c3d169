package p2p

import (
	"fmt"

	"dcnode.dev/node/consensus"
)

const (
	MaxLocatorHashes = 64
	// MaxBlocksPerInv caps one getblocks answer. A full answer tells the
	// requester to ask again from its new tip.
	MaxBlocksPerInv  = 500
)

// GetBlocksPayload asks a peer for the hashes of the blocks that follow
// the newest Locator entry on its active chain, up to and including
// HashStop. A zero HashStop means up to MaxBlocksPerInv.
type GetBlocksPayload struct {
	Locator  [][32]byte
	HashStop [32]byte
}

func EncodeGetBlocksPayload(p GetBlocksPayload) ([]byte, error) {
	if len(p.Locator) == 0 || len(p.Locator) > MaxLocatorHashes {
		return nil, fmt.Errorf("p2p: getblocks: locator length %d out of range", len(p.Locator))
	}
	out := consensus.AppendCompactSize(make([]byte, 0, 1+33*len(p.Locator)+32), uint64(len(p.Locator)))
	for _, h := range p.Locator {
		out = append(out, h[:]...)
	}
	return append(out, p.HashStop[:]...), nil
}

func DecodeGetBlocksPayload(b []byte) (*GetBlocksPayload, error) {
	r := newPayloadReader(CmdGetBlocks, b)
	n := r.count(MaxLocatorHashes, "locator_len")
	if r.err == nil && n == 0 {
		r.fail("empty locator")
	}
	if r.err == nil && r.remaining() != (n+1)*32 {
		r.fail("length mismatch for %d locator hashes", n)
	}
	p := &GetBlocksPayload{Locator: make([][32]byte, 0, n)}
	for i := 0; i < n && r.err == nil; i++ {
		p.Locator = append(p.Locator, r.hash())
	}
	p.HashStop = r.hash()
	if err := r.end(); err != nil {
		return nil, err
	}
	return p, nil
}

// LocatorHeights lists the active-chain heights a locator samples, newest
// first: the twelve blocks below and including tip, then gaps that start
// at 14 and double in step, and always genesis.
func LocatorHeights(tip uint64) []uint64 {
	heights := make([]uint64, 0, MaxLocatorHashes)
	for back := uint64(0); back < 12 && back <= tip; back++ {
		heights = append(heights, tip-back)
	}
	for back, step := uint64(14), uint64(4); back <= tip && len(heights) < MaxLocatorHashes-1; back, step = back+step, step*2 {
		heights = append(heights, tip-back)
		if step > 1<<62 {
			break
		}
	}
	if heights[len(heights)-1] != 0 {
		heights = append(heights, 0)
	}
	return heights
}
