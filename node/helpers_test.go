package node

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dcnode.dev/node/consensus"
	"dcnode.dev/node/node/p2p"
)

const testNetwork = "regtest"

// newTestNode builds a regtest node that is not started.
func newTestNode(t *testing.T, name string) *Node {
	t.Helper()
	n, err := NewNode(NodeConfig{Name: name, Network: testNetwork})
	require.NoError(t, err)
	return n
}

// startTestNode builds and starts a node that stops with the test.
func startTestNode(t *testing.T, name string) *Node {
	t.Helper()
	n := newTestNode(t, name)
	n.Start(context.Background())
	t.Cleanup(func() { _ = n.Stop() })
	return n
}

func testMiner(t *testing.T, n *Node) *Miner {
	t.Helper()
	m, err := NewMiner(n, DefaultMinerConfig())
	require.NoError(t, err)
	return m
}

// solvedBlock builds and solves a block on parent.
func solvedBlock(t *testing.T, n *Node, parent [32]byte, commitments ...consensus.Commitment) *consensus.Block {
	t.Helper()
	blk, err := testMiner(t, n).BuildBlock(parent, commitments)
	require.NoError(t, err)
	blk, err = SolveBlock(context.Background(), blk)
	require.NoError(t, err)
	return blk
}

// process feeds blk straight to n's processor, bypassing the event loop.
func process(t *testing.T, n *Node, blk *consensus.Block) ProcessResult {
	t.Helper()
	res, err := n.processor.ProcessBlock(consensus.MarshalBlock(blk))
	require.NoError(t, err)
	return res
}

func commitment(id byte, payload ...byte) consensus.Commitment {
	if len(payload) == 0 {
		payload = []byte{0x01, 0x02}
	}
	return consensus.Commitment{DrivechainID: []byte{0xc0, id}, Payload: payload}
}

func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			accepted <- nil
			return
		}
		accepted <- c
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server := <-accepted
	require.NotNil(t, server)
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return client, server
}

// connectNodes links a (outbound) to b (inbound) over loopback TCP.
func connectNodes(t *testing.T, a, b *Node) {
	t.Helper()
	client, server := tcpPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var errB error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errB = b.Connect(ctx, server, PeerOptions{Role: p2p.PeerRoleInbound})
	}()
	_, errA := a.Connect(ctx, client, PeerOptions{Role: p2p.PeerRoleOutbound})
	wg.Wait()
	require.NoError(t, errA)
	require.NoError(t, errB)
}

// rawPeer is a bare p2p peer speaking to a node, standing in for a remote
// implementation under test control.
type rawPeer struct {
	*p2p.Peer
	msgs chan *p2p.Message
}

func connectRawPeer(t *testing.T, n *Node) *rawPeer {
	t.Helper()
	client, server := tcpPair(t)
	peer, err := p2p.NewPeer(client, p2p.PeerRoleOutbound, p2p.PeerConfig{
		Magic:        n.magic,
		GenesisHash:  n.genesis.Hash,
		OurVersion:   p2p.VersionPayload{UserAgent: "/raw/"},
		WriteTimeout: time.Second,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		_, err := n.Connect(ctx, server, PeerOptions{Role: p2p.PeerRoleInbound})
		errc <- err
	}()
	require.NoError(t, peer.Handshake())
	require.NoError(t, <-errc)

	rp := &rawPeer{Peer: peer, msgs: make(chan *p2p.Message, 64)}
	go func() {
		defer close(rp.msgs)
		for {
			msg, rerr := p2p.ReadMessage(peer.Conn, n.magic)
			if rerr != nil {
				if rerr.Disconnect {
					return
				}
				continue
			}
			rp.msgs <- msg
		}
	}()
	return rp
}

// next returns the next message with command, skipping others.
func (p *rawPeer) next(t *testing.T, command string) *p2p.Message {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg, ok := <-p.msgs:
			require.True(t, ok, "connection closed while waiting for %s", command)
			if msg.Command == command {
				return msg
			}
		case <-timeout:
			require.FailNow(t, "timed out waiting for "+command)
		}
	}
}

func waitForTip(t *testing.T, n *Node, hash [32]byte) {
	t.Helper()
	require.Eventually(t, func() bool { return n.BestBlockHash() == hash },
		5*time.Second, 10*time.Millisecond, "node %s never reached tip %x", n.cfg.Name, hash[:4])
}

// fakePeer records what the relay handler does to a peer.
type fakePeer struct {
	id          uint64
	whitelisted bool

	mu      sync.Mutex
	rejects []p2p.RejectPayload
	invs    []p2p.InvVector
	score   int
	closed  bool
}

func (p *fakePeer) ID() uint64        { return p.id }
func (p *fakePeer) Addr() string      { return "fake" }
func (p *fakePeer) Whitelisted() bool { return p.whitelisted }

func (p *fakePeer) SendReject(r p2p.RejectPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejects = append(p.rejects, r)
	return nil
}

func (p *fakePeer) SendInv(_ string, vecs []p2p.InvVector) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invs = append(p.invs, vecs...)
	return nil
}

func (p *fakePeer) Misbehaving(o p2p.Offence) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.score += o.Penalty()
	return p.score, p.score >= p2p.BanThreshold
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
