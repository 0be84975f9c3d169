package node

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcnode.dev/node/consensus"
	"dcnode.dev/node/node/store"
)

func TestProcessBlockDuplicate(t *testing.T) {
	n := newTestNode(t, "a")
	b1 := solvedBlock(t, n, n.genesis.Hash)
	require.Equal(t, StatusAccepted, process(t, n, b1).Status)

	res := process(t, n, b1)
	assert.Equal(t, StatusDuplicate, res.Status)
	assert.True(t, res.Result.IsValid())
	assert.False(t, res.TipChanged)
}

func TestProcessBlockOrphan(t *testing.T) {
	n := newTestNode(t, "a")
	blk := solvedBlock(t, n, n.genesis.Hash)
	blk.Header.PrevBlockHash = [32]byte{0x42}
	blk = mustResolve(t, blk)

	res := process(t, n, blk)
	assert.Equal(t, StatusOrphan, res.Status)
	assert.False(t, n.chain.Known(blk.Hash))
	assert.Equal(t, n.genesis.Hash, n.BestBlockHash())
}

func TestProcessBlockMalformedBytes(t *testing.T) {
	n := newTestNode(t, "a")
	res, err := n.processor.ProcessBlock([]byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, res.Status)
	assert.Equal(t, consensus.BLOCK_ERR_PARSE, res.Result.Code())

	good := consensus.MarshalBlock(solvedBlock(t, n, n.genesis.Hash))
	res, err = n.processor.ProcessBlock(good[:len(good)-1])
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, res.Status)
	assert.Equal(t, consensus.BLOCK_ERR_PARSE, res.Result.Code())

	// A truncated body says nothing about the header's block.
	status, _ := n.chain.Status(res.Hash)
	assert.Equal(t, store.BlockStatusUnknown, status)
	res, err = n.processor.ProcessBlock(good)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, res.Status)
}

func TestProcessBlockMerkleMismatchNotRecorded(t *testing.T) {
	n := newTestNode(t, "a")
	blk := solvedBlock(t, n, n.genesis.Hash)
	swapped := consensus.NewBlock(blk.Header, []*consensus.Tx{mustCoinbase(t, 1, commitment(9))})

	res := process(t, n, swapped)
	require.Equal(t, StatusRejected, res.Status)
	assert.Equal(t, consensus.BLOCK_ERR_MERKLE_INVALID, res.Result.Code())
	assert.Equal(t, "bad-txnmrklroot", res.Result.RejectReason())

	res = process(t, n, blk)
	assert.Equal(t, StatusAccepted, res.Status)
}

func TestProcessBlockPayloadRule(t *testing.T) {
	n := newTestNode(t, "a")
	// SIDECHAIN_TEST expects a critical hash payload.
	bad := solvedBlock(t, n, n.genesis.Hash, consensus.Commitment{
		DrivechainID: []byte{consensus.SIDECHAIN_TEST},
		Payload:      []byte{0x01},
	})
	res := process(t, n, bad)
	require.Equal(t, StatusRejected, res.Status)
	assert.Equal(t, consensus.BLOCK_ERR_COMMITMENT_MALFORMED, res.Result.Code())

	good := solvedBlock(t, n, n.genesis.Hash, consensus.Commitment{
		DrivechainID: []byte{consensus.SIDECHAIN_TEST},
		Payload:      consensus.EncodeCriticalHash(7, [32]byte{0xab}),
	})
	assert.Equal(t, StatusAccepted, process(t, n, good).Status)
}

func TestProcessBlockMetrics(t *testing.T) {
	n := newTestNode(t, "a")
	b1 := solvedBlock(t, n, n.genesis.Hash)
	process(t, n, b1)
	process(t, n, b1)
	process(t, n, solvedBlock(t, n, b1.Hash, commitment(3), commitment(3)))

	m := n.Metrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.blocksProcessed.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.blocksProcessed.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.blocksProcessed.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.blockRejects.WithLabelValues(string(consensus.BLOCK_ERR_COMMITMENT_DUPLICATE))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chainHeight))
}

func mustCoinbase(t *testing.T, height uint64, commitments ...consensus.Commitment) *consensus.Tx {
	t.Helper()
	tx, err := BuildCoinbaseTx(height, consensus.BlockSubsidy(height), nil, commitments)
	require.NoError(t, err)
	return tx
}
