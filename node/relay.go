package node

import (
	"go.uber.org/zap"

	"dcnode.dev/node/consensus"
	"dcnode.dev/node/node/p2p"
)

// RelayPeer is the slice of a connected peer the relay handler needs.
type RelayPeer interface {
	ID() uint64
	Addr() string
	Whitelisted() bool
	SendReject(r p2p.RejectPayload) error
	SendInv(command string, vecs []p2p.InvVector) error
	Misbehaving(o p2p.Offence) (int, bool)
	Close() error
}

// RelayHandler applies relay policy to inbound blocks, hands them to the
// processor and decides who hears about the outcome.
type RelayHandler struct {
	// process is processor.ProcessBlock; tests swap it to inject faults.
	process func(raw []byte) (ProcessResult, error)
	chain   *ChainState
	peers   func() []RelayPeer
	log     *zap.Logger
	metrics *Metrics
}

func NewRelayHandler(processor *BlockProcessor, peers func() []RelayPeer, log *zap.Logger, metrics *Metrics) *RelayHandler {
	if log == nil {
		log = zap.NewNop()
	}
	if peers == nil {
		peers = func() []RelayPeer { return nil }
	}
	return &RelayHandler{
		process: processor.ProcessBlock,
		chain:   processor.chain,
		peers:   peers,
		log:     log,
		metrics: metrics,
	}
}

// OnBlockReceived handles a block message from from. requested is true when
// the block answers our own getdata. The error is fatal for the node.
func (r *RelayHandler) OnBlockReceived(from RelayPeer, raw []byte, requested bool) (ProcessResult, error) {
	if from != nil && !requested && !from.Whitelisted() && !r.improvesTip(raw) {
		res := ProcessResult{Status: StatusIgnored}
		if len(raw) >= consensus.BLOCK_HEADER_BYTES {
			res.Hash, _ = consensus.BlockHash(raw[:consensus.BLOCK_HEADER_BYTES])
		}
		r.log.Debug("unsolicited block ignored", zap.String("peer", from.Addr()), hashField(res.Hash))
		if r.metrics != nil {
			r.metrics.blocksProcessed.WithLabelValues(res.Status.String()).Inc()
		}
		return res, nil
	}

	res, err := r.process(raw)
	if err != nil {
		return res, err
	}

	switch res.Status {
	case StatusRejected:
		if from != nil {
			r.punish(from, res)
		}
	case StatusAccepted:
		if res.TipChanged {
			r.log.Info("new tip", hashField(res.Hash), zap.Uint64("height", res.Height))
			r.announce(from, res.Hash)
		}
	case StatusOrphan:
		if from != nil {
			r.log.Debug("orphan block dropped, parent unknown", zap.String("peer", from.Addr()), hashField(res.Hash))
		}
	}
	return res, nil
}

// SubmitBlock is the local submission path: no relay policy, and a valid
// block that moves the tip is announced to every peer.
func (r *RelayHandler) SubmitBlock(raw []byte) (ProcessResult, error) {
	return r.OnBlockReceived(nil, raw, true)
}

// improvesTip reports whether an unsolicited block could take the tip. Blocks
// already indexed and blocks with unknown parents go to the processor so
// they are classified there.
func (r *RelayHandler) improvesTip(raw []byte) bool {
	if len(raw) < consensus.BLOCK_HEADER_BYTES {
		return true
	}
	header, err := consensus.ParseBlockHeaderBytes(raw[:consensus.BLOCK_HEADER_BYTES])
	if err != nil {
		return true
	}
	hash := consensus.BlockHeaderHash(header)
	if r.chain.Known(hash) {
		return true
	}
	claimed, ok := r.chain.ClaimedWork(header)
	if !ok {
		return true
	}
	return consensus.MoreWork(claimed, r.chain.Tip().CumulativeWork)
}

func (r *RelayHandler) punish(from RelayPeer, res ProcessResult) {
	reason := res.Result.RejectReason()
	r.log.Info("invalid block from peer",
		zap.String("peer", from.Addr()),
		hashField(res.Hash),
		zap.String("reason", reason),
		zap.Error(res.Result.Err()))

	rp := p2p.RejectPayload{
		Message: p2p.CmdBlock,
		Code:    p2p.RejectInvalid,
		Reason:  reason,
		HasData: true,
		Data:    res.Hash,
	}
	if err := from.SendReject(rp); err != nil {
		r.log.Debug("send reject failed", zap.String("peer", from.Addr()), zap.Error(err))
	}
	if score, banned := from.Misbehaving(p2p.OffenceInvalidBlock); banned {
		r.log.Warn("peer banned", zap.String("peer", from.Addr()), zap.Int("score", score))
		if r.metrics != nil {
			r.metrics.peerBans.Inc()
		}
		_ = from.Close()
	}
}

func (r *RelayHandler) announce(from RelayPeer, hash [32]byte) {
	inv := p2p.BlockInv(hash)
	for _, p := range r.peers() {
		if from != nil && p.ID() == from.ID() {
			continue
		}
		if err := p.SendInv(p2p.CmdInv, inv); err != nil {
			r.log.Debug("announce failed", zap.String("peer", p.Addr()), zap.Error(err))
		}
	}
}
