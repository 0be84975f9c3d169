package node

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcnode.dev/node/consensus"
)

func TestBuildCoinbaseTxCommitments(t *testing.T) {
	c1 := commitment(1, 0xaa)
	c2 := commitment(2, 0xbb)
	tx, err := BuildCoinbaseTx(7, 50, consensus.DefaultCommitmentMarker, []consensus.Commitment{c1, c2, c1})
	require.NoError(t, err)

	assert.True(t, tx.IsCoinbase())
	assert.Equal(t, uint32(7), tx.Locktime)
	require.Len(t, tx.Outputs, 4)
	assert.Equal(t, uint64(50), tx.Outputs[0].Value)

	set := consensus.ExtractCommitments(tx, consensus.DefaultCommitmentMarker)
	require.Len(t, set, 3)
	assert.Equal(t, c1, set[0])
	assert.Equal(t, c2, set[1])
	assert.Equal(t, c1, set[2])
}

func TestBuildCoinbaseTxRejectsBadInput(t *testing.T) {
	_, err := BuildCoinbaseTx(math.MaxUint32+1, 0, nil, nil)
	assert.Error(t, err)

	_, err = BuildCoinbaseTx(1, 0, nil, []consensus.Commitment{{Payload: []byte{1}}})
	assert.Error(t, err)

	long := make([]byte, consensus.MaxDrivechainIDBytes+1)
	_, err = BuildCoinbaseTx(1, 0, nil, []consensus.Commitment{{DrivechainID: long, Payload: []byte{1}}})
	assert.Error(t, err)
}

func TestSolveHeaderMeetsTarget(t *testing.T) {
	n := newTestNode(t, "a")
	blk, err := testMiner(t, n).BuildBlock(n.genesis.Hash, nil)
	require.NoError(t, err)

	h, err := SolveHeader(context.Background(), blk.Header)
	require.NoError(t, err)
	assert.NoError(t, consensus.PowCheck(consensus.BlockHeaderBytes(h), h.Target))

	var zero [32]byte
	bad := blk.Header
	bad.Target = zero
	_, err = SolveHeader(context.Background(), bad)
	assert.Error(t, err)
}

func TestSolveHeaderHonoursContext(t *testing.T) {
	var target [32]byte
	target[31] = 1
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := SolveHeader(ctx, consensus.BlockHeader{Target: target})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChooseValidTimestamp(t *testing.T) {
	assert.Equal(t, uint64(1), chooseValidTimestamp(0, nil, 0))
	assert.Equal(t, uint64(500), chooseValidTimestamp(0, nil, 500))

	prev := []uint64{100, 90, 80}
	assert.Equal(t, uint64(150), chooseValidTimestamp(3, prev, 150))
	// Behind the median: step just past it.
	assert.Equal(t, uint64(91), chooseValidTimestamp(3, prev, 50))
	// Too far ahead: same.
	assert.Equal(t, uint64(91), chooseValidTimestamp(3, prev, 90+consensus.MAX_FUTURE_DRIFT+1))
}

func TestMinerUsesConfiguredCommitments(t *testing.T) {
	n := startTestNode(t, "a")
	c := commitment(3, 0x01, 0x02, 0x03)
	m, err := NewMiner(n, MinerConfig{
		TimestampSource: func() uint64 { return genesisTimestamp + 60 },
		Commitments:     []consensus.Commitment{c},
	})
	require.NoError(t, err)

	blocks, err := m.MineN(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, uint64(2), blocks[1].Height)
	assert.Equal(t, blocks[1].Hash, n.BestBlockHash())
	assert.Len(t, n.Chain().LinkingData(c.DrivechainID), 2)

	dup, err := NewMiner(n, MinerConfig{Commitments: []consensus.Commitment{c, c}})
	require.NoError(t, err)
	mb, err := dup.MineOne(context.Background())
	assert.Error(t, err)
	require.NotNil(t, mb)
	assert.Equal(t, StatusRejected, mb.Result.Status)
	assert.Equal(t, blocks[1].Hash, n.BestBlockHash())
}
