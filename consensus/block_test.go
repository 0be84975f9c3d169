package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBlockBytes_RoundTrip(t *testing.T) {
	var prev [32]byte
	prev[3] = 0x44
	blk := solveTestBlock(t, prev, testTs, testCoinbase(9, commitmentOutput([]byte{0x01}, []byte{OP_0})), testSpend(4, 2))
	raw := MarshalBlock(blk)

	parsed, err := ParseBlockBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, blk.Hash, parsed.Hash)
	assert.Equal(t, blk.Header, parsed.Header)
	assert.Equal(t, blk.Txids, parsed.Txids)
	assert.Equal(t, raw, MarshalBlock(parsed))
	assert.True(t, parsed.Coinbase().IsCoinbase())
}

func TestParseBlockBytes_Rejects(t *testing.T) {
	_, err := ParseBlockBytes(make([]byte, MAX_BLOCK_BYTES+1))
	assert.Equal(t, BLOCK_ERR_SIZE_EXCEEDED, ErrorCodeOf(err))

	hdr := BlockHeaderBytes(BlockHeader{Target: POW_LIMIT})
	_, err = ParseBlockBytes(append(hdr, 0x00))
	assert.Equal(t, BLOCK_ERR_COINBASE_INVALID, ErrorCodeOf(err))

	_, err = ParseBlockBytes(append(hdr, 0xfd, 0xff, 0xff))
	assert.Equal(t, BLOCK_ERR_PARSE, ErrorCodeOf(err))
}

func TestParseBlockHeaderBytes_Length(t *testing.T) {
	hb := BlockHeaderBytes(BlockHeader{Version: 7, Timestamp: 5, Nonce: 9})
	require.Len(t, hb, BLOCK_HEADER_BYTES)
	h, err := ParseBlockHeaderBytes(hb)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), h.Version)
	assert.Equal(t, uint64(9), h.Nonce)

	_, err = ParseBlockHeaderBytes(append(hb, 0x00))
	assert.Error(t, err)
	_, err = BlockHash(hb[:10])
	assert.Error(t, err)
	assert.Equal(t, BlockHeaderHash(h), sha3_256(hb))
}

func TestParseTx_Limits(t *testing.T) {
	tx := testSpend(1, 0)
	raw := MarshalTx(tx)
	parsed, txid, n, err := ParseTx(append(raw, 0xaa))
	require.NoError(t, err)
	assert.Equal(t, len(raw), n)
	assert.Equal(t, TxID(tx), txid)
	assert.Equal(t, tx, parsed)

	// Claimed input count larger than the buffer can hold.
	bogus := AppendU32le(nil, 1)
	bogus = AppendCompactSize(bogus, 1_000_000)
	_, _, _, err = ParseTx(bogus)
	assert.Equal(t, TX_ERR_PARSE, ErrorCodeOf(err))

	// Script length above MAX_SCRIPT_BYTES.
	big := AppendU32le(nil, 1)
	big = AppendCompactSize(big, 0)
	big = AppendCompactSize(big, 1)
	big = AppendU64le(big, 0)
	big = AppendCompactSize(big, MAX_SCRIPT_BYTES+1)
	big = append(big, make([]byte, MAX_SCRIPT_BYTES+1+4)...)
	_, _, _, err = ParseTx(big)
	assert.Equal(t, TX_ERR_PARSE, ErrorCodeOf(err))
}
