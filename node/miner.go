package node

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"

	"dcnode.dev/node/consensus"
)

var unixNow = func() int64 { return time.Now().Unix() }

// PayoutScript is the anyone-can-spend script miners pay the subsidy to.
var PayoutScript = []byte{0x51}

type MinerConfig struct {
	TimestampSource func() uint64
	// Commitments are embedded in every mined coinbase.
	Commitments []consensus.Commitment
}

type MinedBlock struct {
	Height    uint64
	Hash      [32]byte
	Timestamp uint64
	Nonce     uint64
	TxCount   int
	Result    ProcessResult
}

type Miner struct {
	node *Node
	cfg  MinerConfig
}

func DefaultMinerConfig() MinerConfig {
	return MinerConfig{
		TimestampSource: unixNowU64,
	}
}

func NewMiner(n *Node, cfg MinerConfig) (*Miner, error) {
	if n == nil {
		return nil, errors.New("nil node")
	}
	if cfg.TimestampSource == nil {
		cfg.TimestampSource = unixNowU64
	}
	return &Miner{node: n, cfg: cfg}, nil
}

// BuildCoinbaseTx returns a coinbase for height paying value to PayoutScript,
// followed by one commitment output per entry of commitments, in order.
// Duplicates are kept as given.
func BuildCoinbaseTx(height uint64, value uint64, marker []byte, commitments []consensus.Commitment) (*consensus.Tx, error) {
	if height > math.MaxUint32 {
		return nil, errors.New("block height exceeds coinbase locktime range")
	}
	tx := &consensus.Tx{
		Version: 1,
		Inputs: []consensus.TxInput{{
			PrevVout:  consensus.TX_COINBASE_PREVOUT_VOUT,
			ScriptSig: consensus.AppendU32le(nil, uint32(height)),
			Sequence:  ^uint32(0),
		}},
		Outputs: []consensus.TxOutput{{
			Value:  value,
			Script: append([]byte(nil), PayoutScript...),
		}},
		Locktime: uint32(height),
	}
	for _, c := range commitments {
		if len(c.DrivechainID) == 0 || len(c.DrivechainID) > consensus.MaxDrivechainIDBytes {
			return nil, errors.Errorf("drivechain id must be 1..%d bytes", consensus.MaxDrivechainIDBytes)
		}
		tx.Outputs = append(tx.Outputs, consensus.TxOutput{
			Script: consensus.CommitmentScript(marker, c.DrivechainID, c.Payload),
		})
	}
	return tx, nil
}

// BuildBlock assembles an unsolved block on parent with a coinbase carrying
// commitments followed by txs.
func (m *Miner) BuildBlock(parent [32]byte, commitments []consensus.Commitment, txs ...*consensus.Tx) (*consensus.Block, error) {
	ctx, err := m.node.chain.HeaderContext(parent)
	if err != nil {
		return nil, err
	}
	coinbase, err := BuildCoinbaseTx(ctx.Height, consensus.BlockSubsidy(ctx.Height), m.node.cfg.Marker, commitments)
	if err != nil {
		return nil, err
	}
	all := append([]*consensus.Tx{coinbase}, txs...)
	txids := make([][32]byte, len(all))
	for i, tx := range all {
		txids[i] = consensus.TxID(tx)
	}
	root, err := consensus.MerkleRootTxids(txids)
	if err != nil {
		return nil, err
	}
	header := consensus.BlockHeader{
		Version:       1,
		PrevBlockHash: parent,
		MerkleRoot:    root,
		Timestamp:     chooseValidTimestamp(ctx.Height, ctx.PrevTimestamps, m.cfg.TimestampSource()),
		Target:        *ctx.ExpectedTarget,
	}
	return consensus.NewBlock(header, all), nil
}

// SolveHeader grinds the nonce until header meets its own target.
func SolveHeader(ctx context.Context, header consensus.BlockHeader) (consensus.BlockHeader, error) {
	prefix := consensus.BlockHeaderBytes(header)[:consensus.BLOCK_HEADER_BYTES-8]
	buf := make([]byte, 0, consensus.BLOCK_HEADER_BYTES)
	for nonce := header.Nonce; ; nonce++ {
		if nonce&0xfff == 0 {
			if err := ctx.Err(); err != nil {
				return header, err
			}
		}
		buf = consensus.AppendU64le(append(buf[:0], prefix...), nonce)
		if err := consensus.PowCheck(buf, header.Target); err == nil {
			header.Nonce = nonce
			return header, nil
		} else if consensus.ErrorCodeOf(err) == consensus.BLOCK_ERR_TARGET_INVALID {
			return header, err
		}
		if nonce == math.MaxUint64 {
			return header, errors.New("nonce space exhausted")
		}
	}
}

// SolveBlock solves blk's header and returns the solved block.
func SolveBlock(ctx context.Context, blk *consensus.Block) (*consensus.Block, error) {
	h, err := SolveHeader(ctx, blk.Header)
	if err != nil {
		return nil, err
	}
	return consensus.NewBlock(h, blk.Txs), nil
}

// MineOne builds a block on the current tip, solves it and submits it to the
// node. A block the node rejects is returned along with an error.
func (m *Miner) MineOne(ctx context.Context) (*MinedBlock, error) {
	tip := m.node.chain.Tip()
	blk, err := m.BuildBlock(tip.Hash, m.cfg.Commitments)
	if err != nil {
		return nil, err
	}
	blk, err = SolveBlock(ctx, blk)
	if err != nil {
		return nil, err
	}
	res, err := m.node.SubmitBlock(ctx, consensus.MarshalBlock(blk))
	if err != nil {
		return nil, err
	}
	mb := &MinedBlock{
		Height:    tip.Height + 1,
		Hash:      blk.Hash,
		Timestamp: blk.Header.Timestamp,
		Nonce:     blk.Header.Nonce,
		TxCount:   len(blk.Txs),
		Result:    res,
	}
	if res.Status != StatusAccepted {
		return mb, errors.Errorf("mined block %s: %s", res.Status, res.Result)
	}
	return mb, nil
}

func (m *Miner) MineN(ctx context.Context, blocks int) ([]MinedBlock, error) {
	if blocks < 0 {
		return nil, errors.New("blocks must be >= 0")
	}
	out := make([]MinedBlock, 0, blocks)
	for i := 0; i < blocks; i++ {
		mb, err := m.MineOne(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, *mb)
	}
	return out, nil
}

func chooseValidTimestamp(nextHeight uint64, prevTimestamps []uint64, now uint64) uint64 {
	median, ok, err := consensus.MedianTimePast(nextHeight, prevTimestamps)
	if err != nil || !ok {
		if now == 0 {
			return 1
		}
		return now
	}
	if now > median && now <= median+consensus.MAX_FUTURE_DRIFT {
		return now
	}
	return median + 1
}

func unixNowU64() uint64 {
	now := unixNow()
	if now <= 0 {
		return 0
	}
	return uint64(now)
}
