package consensus

// Block is a parsed block. Hash and Txids are computed once at parse time.
type Block struct {
	Header      BlockHeader
	HeaderBytes []byte
	Hash        [32]byte
	Txs         []*Tx
	Txids       [][32]byte
}

// Coinbase returns the first transaction, or nil for an empty block.
func (b *Block) Coinbase() *Tx {
	if b == nil || len(b.Txs) == 0 {
		return nil
	}
	return b.Txs[0]
}

func ParseBlockBytes(b []byte) (*Block, error) {
	if len(b) > MAX_BLOCK_BYTES {
		return nil, txerr(BLOCK_ERR_SIZE_EXCEEDED, "block exceeds MAX_BLOCK_BYTES")
	}
	if len(b) < BLOCK_HEADER_BYTES+1 {
		return nil, txerr(BLOCK_ERR_PARSE, "block too short")
	}

	headerBytes := append([]byte(nil), b[:BLOCK_HEADER_BYTES]...)
	header, err := ParseBlockHeaderBytes(headerBytes)
	if err != nil {
		return nil, txerr(BLOCK_ERR_PARSE, "invalid block header")
	}

	off := BLOCK_HEADER_BYTES
	txCount, err := readCompactSize(b, &off)
	if err != nil {
		return nil, txerr(BLOCK_ERR_PARSE, "invalid tx_count")
	}
	if txCount == 0 {
		return nil, txerr(BLOCK_ERR_COINBASE_INVALID, "empty block tx list")
	}
	if txCount > uint64(len(b)-off) {
		return nil, txerr(BLOCK_ERR_PARSE, "tx_count exceeds remaining bytes")
	}

	txs := make([]*Tx, 0, int(txCount))
	txids := make([][32]byte, 0, int(txCount))
	for i := uint64(0); i < txCount; i++ {
		if off >= len(b) {
			return nil, txerr(BLOCK_ERR_PARSE, "unexpected EOF in tx list")
		}
		tx, txid, n, err := ParseTx(b[off:])
		if err != nil {
			return nil, err
		}
		off += n
		txs = append(txs, tx)
		txids = append(txids, txid)
	}

	if off != len(b) {
		return nil, txerr(BLOCK_ERR_PARSE, "trailing bytes after tx list")
	}

	return &Block{
		Header:      header,
		HeaderBytes: headerBytes,
		Hash:        sha3_256(headerBytes),
		Txs:         txs,
		Txids:       txids,
	}, nil
}

// NewBlock assembles a block from a header and transactions. The header's
// merkle root is used as given.
func NewBlock(header BlockHeader, txs []*Tx) *Block {
	hb := BlockHeaderBytes(header)
	txids := make([][32]byte, len(txs))
	for i, tx := range txs {
		txids[i] = TxID(tx)
	}
	return &Block{
		Header:      header,
		HeaderBytes: hb,
		Hash:        sha3_256(hb),
		Txs:         txs,
		Txids:       txids,
	}
}

func MarshalBlock(b *Block) []byte {
	out := BlockHeaderBytes(b.Header)
	out = AppendCompactSize(out, uint64(len(b.Txs)))
	for _, tx := range b.Txs {
		out = append(out, MarshalTx(tx)...)
	}
	return out
}
