package node

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"dcnode.dev/node/consensus"
	"dcnode.dev/node/node/store"
)

type ProcessStatus int

const (
	StatusAccepted ProcessStatus = iota
	StatusDuplicate
	StatusOrphan
	StatusRejected
	// StatusIgnored is set by relay policy; the processor never returns it.
	StatusIgnored
)

func (s ProcessStatus) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusDuplicate:
		return "duplicate"
	case StatusOrphan:
		return "orphan"
	case StatusRejected:
		return "rejected"
	case StatusIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// ProcessResult describes what happened to one block. Hash is zero when the
// bytes did not contain a full header.
type ProcessResult struct {
	Hash       [32]byte
	Status     ProcessStatus
	Result     consensus.ValidationResult
	TipChanged bool
	Height     uint64
}

type ProcessorConfig struct {
	Marker         []byte
	Registry       *consensus.DrivechainRegistry
	EnforceSubsidy bool
}

// BlockProcessor validates blocks against the chain state and connects the
// ones that pass. Calls must be serialized by the caller.
type BlockProcessor struct {
	chain   *ChainState
	cfg     ProcessorConfig
	log     *zap.Logger
	metrics *Metrics
}

func NewBlockProcessor(chain *ChainState, cfg ProcessorConfig, log *zap.Logger, metrics *Metrics) (*BlockProcessor, error) {
	if chain == nil {
		return nil, errors.New("processor: nil chainstate")
	}
	if len(cfg.Marker) == 0 {
		cfg.Marker = consensus.DefaultCommitmentMarker
	}
	if cfg.Registry == nil {
		cfg.Registry = consensus.DefaultDrivechainRegistry()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BlockProcessor{chain: chain, cfg: cfg, log: log, metrics: metrics}, nil
}

// ProcessBlock runs raw through validation and, when valid, into the chain
// state. Invalid blocks are a normal outcome reported in the result; the
// returned error is reserved for failures that must stop the node.
func (p *BlockProcessor) ProcessBlock(raw []byte) (ProcessResult, error) {
	res, err := p.process(raw)
	if err != nil {
		return res, err
	}
	if p.metrics != nil {
		p.metrics.blocksProcessed.WithLabelValues(res.Status.String()).Inc()
		if res.Status == StatusRejected {
			p.metrics.blockRejects.WithLabelValues(string(res.Result.Code())).Inc()
		}
		if res.TipChanged {
			p.metrics.chainHeight.Set(float64(res.Height))
		}
	}
	return res, nil
}

func (p *BlockProcessor) process(raw []byte) (ProcessResult, error) {
	var res ProcessResult
	if len(raw) < consensus.BLOCK_HEADER_BYTES {
		res.Status = StatusRejected
		res.Result = consensus.Invalid(&consensus.TxError{Code: consensus.BLOCK_ERR_PARSE, Msg: "block too short"})
		return res, nil
	}
	header, err := consensus.ParseBlockHeaderBytes(raw[:consensus.BLOCK_HEADER_BYTES])
	if err != nil {
		res.Status = StatusRejected
		res.Result = consensus.Invalid(&consensus.TxError{Code: consensus.BLOCK_ERR_PARSE, Msg: "invalid block header"})
		return res, nil
	}
	res.Hash, _ = consensus.BlockHash(raw[:consensus.BLOCK_HEADER_BYTES])

	switch status, code := p.chain.Status(res.Hash); status {
	case store.BlockStatusValid:
		res.Status = StatusDuplicate
		res.Result = consensus.Valid()
		return res, nil
	case store.BlockStatusInvalid:
		res.Status = StatusRejected
		res.Result = consensus.Invalid(&consensus.TxError{Code: code, Msg: "block previously rejected"})
		return res, nil
	}

	ctx, err := p.chain.HeaderContext(header.PrevBlockHash)
	if errors.Is(err, ErrUnknownParent) {
		res.Status = StatusOrphan
		return res, nil
	}
	if err != nil {
		// Parent is known invalid; so is every descendant.
		res.Status = StatusRejected
		res.Result = consensus.Invalid(err)
		blk, perr := consensus.ParseBlockBytes(raw)
		if perr == nil {
			if err := p.chain.RejectBlock(blk, consensus.BLOCK_ERR_INVALID_PARENT); err != nil {
				return res, err
			}
		}
		return res, nil
	}
	ctx.Marker = p.cfg.Marker
	ctx.Registry = p.cfg.Registry
	ctx.EnforceSubsidy = p.cfg.EnforceSubsidy
	res.Height = ctx.Height

	blk, result := consensus.ValidateBlockBytes(raw, ctx)
	res.Result = result
	if !result.IsValid() {
		res.Status = StatusRejected
		p.log.Debug("block rejected",
			hashField(res.Hash),
			zap.Uint64("height", ctx.Height),
			zap.String("code", string(result.Code())),
			zap.Error(result.Err()))
		if blk != nil && !bodyMismatch(result.Code()) {
			if err := p.chain.RejectBlock(blk, result.Code()); err != nil {
				return res, err
			}
		}
		return res, nil
	}

	vb := &ValidatedBlock{
		chain:       p.chain,
		block:       blk,
		raw:         append([]byte(nil), raw...),
		height:      ctx.Height,
		commitments: consensus.ExtractCommitments(blk.Coinbase(), p.cfg.Marker),
	}
	changed, err := p.chain.ConnectValidBlock(vb)
	if err != nil {
		return res, err
	}
	res.Status = StatusAccepted
	res.TipChanged = changed
	p.log.Debug("block accepted",
		hashField(res.Hash),
		zap.Uint64("height", ctx.Height),
		zap.Bool("tip_changed", changed),
		zap.Int("commitments", len(vb.commitments)))
	return res, nil
}

// bodyMismatch reports codes where the transactions may not be the ones the
// header committed to. Such a failure says nothing about the header's block,
// so the hash is not marked invalid.
func bodyMismatch(code consensus.ErrorCode) bool {
	switch code {
	case consensus.BLOCK_ERR_PARSE, consensus.BLOCK_ERR_SIZE_EXCEEDED,
		consensus.BLOCK_ERR_MERKLE_INVALID, consensus.BLOCK_ERR_DUPLICATE_TX,
		consensus.TX_ERR_PARSE:
		return true
	}
	return false
}
