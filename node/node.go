package node

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dcnode.dev/node/consensus"
	"dcnode.dev/node/node/p2p"
	"dcnode.dev/node/node/store"
)

const (
	inboundQueueSize = 256
	userAgent        = "/dcnode:0.1.0/"
)

var ErrNodeStopped = errors.New("node: stopped")

type NodeConfig struct {
	// Name tags log lines; useful when several nodes share a process.
	Name           string
	Network        string
	Target         [32]byte
	Marker         []byte
	Registry       *consensus.DrivechainRegistry
	EnforceSubsidy bool
	MaxPeers       int
	// Whitelisted decides, per remote address, whether a peer is trusted.
	Whitelisted func(addr string) bool

	DB      *store.DB
	Logger  *zap.Logger
	Metrics *Metrics
}

// PeerOptions describe one connection handed to Connect.
type PeerOptions struct {
	Role        p2p.PeerRole
	Whitelisted bool
}

type eventKind int

const (
	evBlock eventKind = iota
	evInv
	evGetData
	evNotFound
	evGetBlocks
	evSubmit
	evPeerReady
	evPeerGone
)

type event struct {
	kind   eventKind
	peer   *remotePeer
	vecs   []p2p.InvVector
	locate *p2p.GetBlocksPayload
	raw    []byte
	reply  chan submitReply
}

type submitReply struct {
	res ProcessResult
	err error
}

// Node is one independent validating node. All block handling runs on a
// single event loop; peer read loops only feed it.
type Node struct {
	cfg       NodeConfig
	magic     uint32
	genesis   *consensus.Block
	chain     *ChainState
	processor *BlockProcessor
	relay     *RelayHandler
	log       *zap.Logger
	metrics   *Metrics

	inbound chan event

	mu       sync.Mutex
	peers    map[uint64]*remotePeer
	nextPeer uint64
	// closing is set once the node stops taking new goroutines.
	closing  bool

	// Owned by the event loop. requested maps block hashes we sent getdata
	// for to the asked peer. asked holds our tip when we last sent a peer
	// getblocks. resume holds the last hash of a full inv answer; once it
	// connects we ask that peer for more.
	requested map[[32]byte]uint64
	asked     map[uint64][32]byte
	resume    map[uint64][32]byte
	invBatch  int

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

func NewNode(cfg NodeConfig) (*Node, error) {
	magic, err := NetworkMagic(cfg.Network)
	if err != nil {
		return nil, err
	}
	var zero [32]byte
	if cfg.Target == zero {
		cfg.Target = DefaultTarget(cfg.Network)
	}
	if len(cfg.Marker) == 0 {
		cfg.Marker = consensus.DefaultCommitmentMarker
	}
	if cfg.MaxPeers <= 0 {
		cfg.MaxPeers = DefaultConfig().MaxPeers
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics()
	}
	log := cfg.Logger
	if cfg.Name != "" {
		log = log.With(zap.String("node", cfg.Name))
	}

	genesis := GenesisBlock(cfg.Network, cfg.Target)
	chain, err := NewChainState(genesis, cfg.Target, cfg.DB)
	if err != nil {
		return nil, err
	}
	if cfg.DB != nil {
		if err := chain.SetCommitmentMarker(cfg.Marker); err != nil {
			return nil, err
		}
	}
	processor, err := NewBlockProcessor(chain, ProcessorConfig{
		Marker:         cfg.Marker,
		Registry:       cfg.Registry,
		EnforceSubsidy: cfg.EnforceSubsidy,
	}, log, cfg.Metrics)
	if err != nil {
		return nil, err
	}
	n := &Node{
		cfg:       cfg,
		magic:     magic,
		genesis:   genesis,
		chain:     chain,
		processor: processor,
		log:       log,
		metrics:   cfg.Metrics,
		inbound:   make(chan event, inboundQueueSize),
		peers:     make(map[uint64]*remotePeer),
		requested: make(map[[32]byte]uint64),
		asked:     make(map[uint64][32]byte),
		resume:    make(map[uint64][32]byte),
		invBatch:  p2p.MaxBlocksPerInv,
	}
	n.relay = NewRelayHandler(processor, n.relayPeers, log, cfg.Metrics)
	n.metrics.chainHeight.Set(float64(chain.BlockCount()))
	return n, nil
}

func (n *Node) Chain() *ChainState { return n.chain }

func (n *Node) Genesis() *consensus.Block { return n.genesis }

func (n *Node) Metrics() *Metrics { return n.metrics }

func (n *Node) BestBlockHash() [32]byte { return n.chain.BestBlockHash() }

func (n *Node) BlockCount() uint64 { return n.chain.BlockCount() }

// Start launches the event loop. Stop, or cancelling ctx, ends it.
func (n *Node) Start(ctx context.Context) {
	ctx, n.cancel = context.WithCancel(ctx)
	n.group, n.ctx = errgroup.WithContext(ctx)
	n.group.Go(func() error {
		err := n.loop(n.ctx)
		n.mu.Lock()
		n.closing = true
		n.mu.Unlock()
		return err
	})
	n.log.Info("node started",
		zap.String("network", n.cfg.Network),
		hashField(n.chain.BestBlockHash()),
		zap.Uint64("height", n.chain.BlockCount()))
}

// Wait blocks until every node goroutine has returned. The error is the
// reason the event loop halted, if it halted on its own.
func (n *Node) Wait() error {
	if n.group == nil {
		return nil
	}
	err := n.group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (n *Node) Stop() error {
	if n.cancel == nil {
		return nil
	}
	n.mu.Lock()
	n.closing = true
	n.cancel()
	n.mu.Unlock()
	for _, p := range n.snapshotPeers() {
		_ = p.Close()
	}
	return n.Wait()
}

func (n *Node) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-n.inbound:
			if err := n.handle(ev); err != nil {
				n.log.Error("validation loop halted", zap.Error(err))
				return err
			}
		}
	}
}

func (n *Node) handle(ev event) error {
	switch ev.kind {
	case evBlock:
		requested := false
		if len(ev.raw) >= consensus.BLOCK_HEADER_BYTES {
			hash, _ := consensus.BlockHash(ev.raw[:consensus.BLOCK_HEADER_BYTES])
			if id, ok := n.requested[hash]; ok && id == ev.peer.id {
				requested = true
				delete(n.requested, hash)
			}
		}
		res, err := n.relay.OnBlockReceived(ev.peer, ev.raw, requested)
		if err != nil {
			return err
		}
		switch res.Status {
		case StatusOrphan:
			// Its parent is missing. Ask the sender for the gap unless a
			// request from our current tip is already out.
			if n.asked[ev.peer.id] != n.chain.BestBlockHash() {
				n.requestBlocks(ev.peer)
			}
		case StatusAccepted:
			if last, ok := n.resume[ev.peer.id]; ok && last == res.Hash {
				delete(n.resume, ev.peer.id)
				n.requestBlocks(ev.peer)
			}
		}
	case evSubmit:
		res, err := n.relay.SubmitBlock(ev.raw)
		ev.reply <- submitReply{res: res, err: err}
		return err
	case evInv:
		hashes, _ := p2p.BlockHashes(ev.vecs)
		var want [][32]byte
		for _, h := range hashes {
			if n.chain.Known(h) {
				continue
			}
			if _, pending := n.requested[h]; pending {
				continue
			}
			n.requested[h] = ev.peer.id
			want = append(want, h)
		}
		if len(want) > 0 {
			if err := ev.peer.SendInv(p2p.CmdGetData, p2p.BlockInvs(want)); err != nil {
				n.log.Debug("getdata failed", zap.String("peer", ev.peer.Addr()), zap.Error(err))
			}
		}
		// A full batch means the peer has more past its last entry.
		if len(hashes) >= n.invBatch {
			last := hashes[len(hashes)-1]
			switch {
			case !n.chain.Known(last):
				n.resume[ev.peer.id] = last
			case last == n.chain.BestBlockHash():
				n.requestBlocks(ev.peer)
			}
		}
	case evGetBlocks:
		hashes := n.chain.BlocksAfter(ev.locate.Locator, ev.locate.HashStop, n.invBatch)
		if len(hashes) == 0 {
			return nil
		}
		if err := ev.peer.SendInv(p2p.CmdInv, p2p.BlockInvs(hashes)); err != nil {
			n.log.Debug("getblocks answer failed", zap.String("peer", ev.peer.Addr()), zap.Error(err))
		}
	case evPeerReady:
		best := ev.peer.PeerVersion.BestHash
		if best != ([32]byte{}) && !n.chain.Known(best) {
			n.requestBlocks(ev.peer)
		}
	case evGetData:
		var missing []p2p.InvVector
		for _, v := range ev.vecs {
			raw, ok := n.chain.BlockBytes(v.Hash)
			if v.Type != p2p.InvTypeBlock || !ok {
				missing = append(missing, v)
				continue
			}
			if err := ev.peer.Send(p2p.CmdBlock, raw); err != nil {
				n.log.Debug("serve block failed", zap.String("peer", ev.peer.Addr()), zap.Error(err))
				return nil
			}
		}
		if len(missing) > 0 {
			_ = ev.peer.SendInv(p2p.CmdNotFound, missing)
		}
	case evNotFound:
		for _, v := range ev.vecs {
			if id, ok := n.requested[v.Hash]; ok && id == ev.peer.id {
				delete(n.requested, v.Hash)
			}
		}
	case evPeerGone:
		for h, id := range n.requested {
			if id == ev.peer.id {
				delete(n.requested, h)
			}
		}
		delete(n.asked, ev.peer.id)
		delete(n.resume, ev.peer.id)
	}
	return nil
}

// requestBlocks sends p a getblocks built from our active chain.
func (n *Node) requestBlocks(p *remotePeer) {
	n.asked[p.id] = n.chain.BestBlockHash()
	locator := n.chain.Locator()
	if err := p.SendGetBlocks(p2p.GetBlocksPayload{Locator: locator}); err != nil {
		n.log.Debug("getblocks failed", zap.String("peer", p.Addr()), zap.Error(err))
		return
	}
	n.metrics.syncRequests.Inc()
	n.log.Debug("getblocks sent",
		zap.String("peer", p.Addr()),
		zap.Uint64("height", n.chain.BlockCount()),
		zap.Int("locator", len(locator)))
}

// SubmitBlock validates raw on the event loop, as if mined locally, and
// returns the outcome.
func (n *Node) SubmitBlock(ctx context.Context, raw []byte) (ProcessResult, error) {
	if n.ctx == nil || n.ctx.Err() != nil {
		return ProcessResult{}, ErrNodeStopped
	}
	reply := make(chan submitReply, 1)
	if err := n.enqueue(ctx, event{kind: evSubmit, raw: raw, reply: reply}); err != nil {
		return ProcessResult{}, err
	}
	select {
	case r := <-reply:
		return r.res, r.err
	case <-ctx.Done():
		return ProcessResult{}, ctx.Err()
	case <-n.ctx.Done():
		// A halting loop replies before it stops.
		select {
		case r := <-reply:
			return r.res, r.err
		default:
			return ProcessResult{}, ErrNodeStopped
		}
	}
}

func (n *Node) enqueue(ctx context.Context, ev event) error {
	select {
	case n.inbound <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-n.ctx.Done():
		return ErrNodeStopped
	}
}

// Connect runs the handshake on conn and, on success, starts the peer's
// read loop under the node. It returns the peer id.
func (n *Node) Connect(ctx context.Context, conn net.Conn, opts PeerOptions) (uint64, error) {
	if n.ctx == nil || n.ctx.Err() != nil {
		_ = conn.Close()
		return 0, ErrNodeStopped
	}
	if n.PeerCount() >= n.cfg.MaxPeers {
		_ = conn.Close()
		return 0, errors.New("node: max peers reached")
	}
	if opts.Role == p2p.PeerRoleUnknown {
		opts.Role = p2p.PeerRoleOutbound
	}
	tip := n.chain.Tip()
	peer, err := p2p.NewPeer(conn, opts.Role, p2p.PeerConfig{
		Magic:       n.magic,
		GenesisHash: n.genesis.Hash,
		OurVersion: p2p.VersionPayload{
			Timestamp:  uint64(time.Now().Unix()),
			UserAgent:  userAgent,
			BestHeight: tip.Height,
			BestHash:   tip.Hash,
			Relay:      true,
		},
		WriteTimeout: 15 * time.Second,
	})
	if err != nil {
		return 0, err
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	err = peer.Handshake()
	close(done)
	if err != nil {
		_ = peer.Close()
		return 0, errors.Wrapf(err, "handshake with %s", peer.Addr())
	}

	whitelisted := opts.Whitelisted
	if !whitelisted && n.cfg.Whitelisted != nil {
		whitelisted = n.cfg.Whitelisted(peer.Addr())
	}

	// Registration and the read loop's group.Go happen under mu so Stop
	// never races a late peer into a group it is already waiting on.
	n.mu.Lock()
	if n.closing {
		n.mu.Unlock()
		_ = peer.Close()
		return 0, ErrNodeStopped
	}
	n.nextPeer++
	rp := &remotePeer{Peer: peer, id: n.nextPeer, whitelisted: whitelisted}
	n.peers[rp.id] = rp
	log := n.log.With(zap.String("peer", rp.Addr()), zap.Uint64("peer_id", rp.id))
	n.group.Go(func() error {
		err := peer.Run(n.ctx, &peerEvents{node: n, peer: rp})
		n.removePeer(rp)
		log.Info("peer disconnected", zap.Error(err))
		return nil
	})
	n.mu.Unlock()
	n.metrics.peersConnected.Inc()

	log.Info("peer connected",
		zap.Stringer("role", opts.Role),
		zap.Bool("whitelisted", whitelisted),
		zap.String("user_agent", peer.PeerVersion.UserAgent),
		zap.Uint64("peer_height", peer.PeerVersion.BestHeight))
	_ = n.enqueue(n.ctx, event{kind: evPeerReady, peer: rp})
	return rp.id, nil
}

// Dial connects outbound to addr.
func (n *Node) Dial(ctx context.Context, addr string) (uint64, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, errors.Wrapf(err, "dial %s", addr)
	}
	return n.Connect(ctx, conn, PeerOptions{Role: p2p.PeerRoleOutbound})
}

// Listen accepts inbound peers on ln until the node stops.
func (n *Node) Listen(ln net.Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closing {
		_ = ln.Close()
		return
	}
	n.group.Go(func() error {
		<-n.ctx.Done()
		_ = ln.Close()
		return nil
	})
	n.group.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if n.ctx.Err() != nil {
					return nil
				}
				n.log.Warn("accept failed", zap.Error(err))
				return nil
			}
			n.mu.Lock()
			if n.closing {
				n.mu.Unlock()
				_ = conn.Close()
				return nil
			}
			n.group.Go(func() error {
				if _, err := n.Connect(n.ctx, conn, PeerOptions{Role: p2p.PeerRoleInbound}); err != nil {
					n.log.Debug("inbound peer refused", zap.Error(err))
				}
				return nil
			})
			n.mu.Unlock()
		}
	})
}

// Disconnect closes the peer with id. Unknown ids are ignored.
func (n *Node) Disconnect(id uint64) {
	n.mu.Lock()
	p := n.peers[id]
	n.mu.Unlock()
	if p != nil {
		_ = p.Close()
	}
}

func (n *Node) PeerCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.peers)
}

func (n *Node) removePeer(p *remotePeer) {
	_ = p.Close()
	n.mu.Lock()
	_, ok := n.peers[p.id]
	delete(n.peers, p.id)
	n.mu.Unlock()
	if !ok {
		return
	}
	n.metrics.peersConnected.Dec()
	select {
	case n.inbound <- event{kind: evPeerGone, peer: p}:
	case <-n.ctx.Done():
	}
}

func (n *Node) snapshotPeers() []*remotePeer {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*remotePeer, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, p)
	}
	return out
}

func (n *Node) relayPeers() []RelayPeer {
	ps := n.snapshotPeers()
	out := make([]RelayPeer, len(ps))
	for i, p := range ps {
		out[i] = p
	}
	return out
}

type remotePeer struct {
	*p2p.Peer
	id          uint64
	whitelisted bool
}

func (p *remotePeer) ID() uint64 { return p.id }

func (p *remotePeer) Whitelisted() bool { return p.whitelisted }

// peerEvents forwards a peer's decoded messages onto the node loop.
type peerEvents struct {
	node *Node
	peer *remotePeer
}

func (h *peerEvents) push(ev event) error {
	ev.peer = h.peer
	return h.node.enqueue(h.node.ctx, ev)
}

func (h *peerEvents) OnInv(_ *p2p.Peer, vecs []p2p.InvVector) error {
	return h.push(event{kind: evInv, vecs: vecs})
}

func (h *peerEvents) OnGetData(_ *p2p.Peer, vecs []p2p.InvVector) error {
	return h.push(event{kind: evGetData, vecs: vecs})
}

func (h *peerEvents) OnNotFound(_ *p2p.Peer, vecs []p2p.InvVector) error {
	return h.push(event{kind: evNotFound, vecs: vecs})
}

func (h *peerEvents) OnGetBlocks(_ *p2p.Peer, req *p2p.GetBlocksPayload) error {
	return h.push(event{kind: evGetBlocks, locate: req})
}

func (h *peerEvents) OnBlock(_ *p2p.Peer, blockBytes []byte) error {
	return h.push(event{kind: evBlock, raw: blockBytes})
}

func (h *peerEvents) OnReject(_ *p2p.Peer, r *p2p.RejectPayload) error {
	h.node.log.Info("peer rejected our message",
		zap.String("peer", h.peer.Addr()),
		zap.String("message", r.Message),
		zap.Uint8("code", r.Code),
		zap.String("reason", r.Reason))
	return nil
}
