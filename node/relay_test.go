package node

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcnode.dev/node/consensus"
	"dcnode.dev/node/node/p2p"
)

func newTestRelay(t *testing.T, n *Node, peers ...*fakePeer) *RelayHandler {
	t.Helper()
	return NewRelayHandler(n.processor, func() []RelayPeer {
		out := make([]RelayPeer, len(peers))
		for i, p := range peers {
			out[i] = p
		}
		return out
	}, nil, n.metrics)
}

func TestRelayInvalidBlockRejectsAndBans(t *testing.T) {
	n := newTestNode(t, "a")
	sender := &fakePeer{id: 1}
	bystander := &fakePeer{id: 2}
	relay := newTestRelay(t, n, sender, bystander)

	bad := solvedBlock(t, n, n.genesis.Hash, commitment(1), commitment(1))
	res, err := relay.OnBlockReceived(sender, consensus.MarshalBlock(bad), false)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, res.Status)

	require.Len(t, sender.rejects, 1)
	r := sender.rejects[0]
	assert.Equal(t, p2p.CmdBlock, r.Message)
	assert.Equal(t, byte(p2p.RejectInvalid), r.Code)
	assert.Equal(t, "bad-chain-commitment", r.Reason)
	assert.True(t, r.HasData)
	assert.Equal(t, bad.Hash, r.Data)
	assert.True(t, sender.closed)
	assert.Equal(t, 1.0, testutil.ToFloat64(n.metrics.peerBans))

	assert.Empty(t, bystander.invs)
	assert.Empty(t, bystander.rejects)
	assert.Equal(t, n.genesis.Hash, n.BestBlockHash())
}

func TestRelayValidBlockAnnouncedToOthers(t *testing.T) {
	n := newTestNode(t, "a")
	sender := &fakePeer{id: 1}
	other := &fakePeer{id: 2}
	relay := newTestRelay(t, n, sender, other)

	b1 := solvedBlock(t, n, n.genesis.Hash)
	res, err := relay.OnBlockReceived(sender, consensus.MarshalBlock(b1), false)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, res.Status)
	assert.True(t, res.TipChanged)

	assert.Empty(t, sender.invs)
	assert.Equal(t, p2p.BlockInv(b1.Hash), other.invs)
	assert.Zero(t, sender.score)
}

func TestRelayUnsolicitedBlockMustImproveTip(t *testing.T) {
	n := newTestNode(t, "a")
	peer := &fakePeer{id: 1}
	trusted := &fakePeer{id: 2, whitelisted: true}
	relay := newTestRelay(t, n, peer, trusted)

	a1 := solvedBlock(t, n, n.genesis.Hash, commitment(1))
	_, err := relay.SubmitBlock(consensus.MarshalBlock(a1))
	require.NoError(t, err)

	// Same work as the tip: an unsolicited copy from an ordinary peer is
	// dropped without validation.
	b1 := solvedBlock(t, n, n.genesis.Hash, commitment(2))
	res, err := relay.OnBlockReceived(peer, consensus.MarshalBlock(b1), false)
	require.NoError(t, err)
	assert.Equal(t, StatusIgnored, res.Status)
	assert.Equal(t, b1.Hash, res.Hash)
	assert.False(t, n.chain.Known(b1.Hash))

	// Requested, or from a whitelisted peer, it is considered.
	res, err = relay.OnBlockReceived(trusted, consensus.MarshalBlock(b1), false)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, res.Status)
	assert.False(t, res.TipChanged)
	assert.Equal(t, a1.Hash, n.BestBlockHash())

	// Only the submitted tip was announced; the side block was not.
	assert.Equal(t, p2p.BlockInv(a1.Hash), peer.invs)
	assert.Equal(t, p2p.BlockInv(a1.Hash), trusted.invs)
}

func TestRelayOrphanNotPenalized(t *testing.T) {
	n := newTestNode(t, "a")
	peer := &fakePeer{id: 1}
	relay := newTestRelay(t, n, peer)

	blk := solvedBlock(t, n, n.genesis.Hash)
	blk.Header.PrevBlockHash = [32]byte{0x99}
	blk = mustResolve(t, blk)
	res, err := relay.OnBlockReceived(peer, consensus.MarshalBlock(blk), false)
	require.NoError(t, err)
	assert.Equal(t, StatusOrphan, res.Status)
	assert.Zero(t, peer.score)
	assert.Empty(t, peer.rejects)
}

func TestRelaySubmitBlockAnnouncesToAll(t *testing.T) {
	n := newTestNode(t, "a")
	p1 := &fakePeer{id: 1}
	p2 := &fakePeer{id: 2}
	relay := newTestRelay(t, n, p1, p2)

	b1 := solvedBlock(t, n, n.genesis.Hash)
	res, err := relay.SubmitBlock(consensus.MarshalBlock(b1))
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, res.Status)
	assert.Len(t, p1.invs, 1)
	assert.Len(t, p2.invs, 1)

	bad := solvedBlock(t, n, b1.Hash, commitment(4), commitment(4))
	res, err = relay.SubmitBlock(consensus.MarshalBlock(bad))
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, res.Status)
	assert.Len(t, p1.invs, 1)
	assert.Len(t, p2.invs, 1)
}

func TestRelayFatalProcessErrorPropagates(t *testing.T) {
	n := newTestNode(t, "a")
	peer := &fakePeer{id: 1}
	relay := newTestRelay(t, n, peer)
	relay.process = func([]byte) (ProcessResult, error) {
		return ProcessResult{}, ErrUnvalidatedBlock
	}

	b1 := solvedBlock(t, n, n.genesis.Hash)
	_, err := relay.OnBlockReceived(peer, consensus.MarshalBlock(b1), true)
	require.ErrorIs(t, err, ErrUnvalidatedBlock)
	assert.Empty(t, peer.invs)
	assert.Empty(t, peer.rejects)
	assert.Zero(t, peer.score)
}
