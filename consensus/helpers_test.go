package consensus

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func testCoinbase(height uint32, outputs ...TxOutput) *Tx {
	if len(outputs) == 0 {
		outputs = []TxOutput{{Value: 1, Script: []byte{0x51}}}
	}
	sig := AppendU32le(nil, height)
	return &Tx{
		Version: 1,
		Inputs: []TxInput{{
			PrevVout:  TX_COINBASE_PREVOUT_VOUT,
			ScriptSig: sig,
			Sequence:  ^uint32(0),
		}},
		Outputs:  outputs,
		Locktime: height,
	}
}

func commitmentOutput(id []byte, payload []byte) TxOutput {
	return TxOutput{Script: CommitmentScript(DefaultCommitmentMarker, id, payload)}
}

func testSpend(prev byte, vout uint32) *Tx {
	var txid [32]byte
	txid[0] = prev
	return &Tx{
		Version:  1,
		Inputs:   []TxInput{{PrevTxid: txid, PrevVout: vout, ScriptSig: []byte{0x01, 0x02}}},
		Outputs:  []TxOutput{{Value: 10, Script: []byte{0x51}}},
		Locktime: 0,
	}
}

// solveTestBlock assembles txs under prev and grinds the nonce at POW_LIMIT.
func solveTestBlock(t *testing.T, prev [32]byte, ts uint64, txs ...*Tx) *Block {
	t.Helper()
	blk := NewBlock(BlockHeader{Version: 1, PrevBlockHash: prev, Timestamp: ts, Target: POW_LIMIT}, txs)
	root, err := MerkleRootTxids(blk.Txids)
	require.NoError(t, err)
	h := blk.Header
	h.MerkleRoot = root
	for nonce := uint64(0); nonce < 1<<20; nonce++ {
		h.Nonce = nonce
		hb := BlockHeaderBytes(h)
		if PowCheck(hb, h.Target) == nil {
			return NewBlock(h, txs)
		}
	}
	t.Fatalf("no nonce found")
	return nil
}

func bytesOf(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}
