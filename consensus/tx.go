package consensus

type TxInput struct {
	PrevTxid  [32]byte
	PrevVout  uint32
	ScriptSig []byte
	Sequence  uint32
}

type TxOutput struct {
	Value  uint64
	Script []byte
}

// Tx is the wire transaction:
//
//	version u32 | in_count cs | inputs | out_count cs | outputs | locktime u32
//
// where an input is prev_txid[32] | prev_vout u32 | script_sig cs+bytes | sequence u32
// and an output is value u64 | script cs+bytes.
type Tx struct {
	Version  uint32
	Inputs   []TxInput
	Outputs  []TxOutput
	Locktime uint32
}

func isCoinbasePrevout(in TxInput) bool {
	var zero [32]byte
	return in.PrevTxid == zero && in.PrevVout == TX_COINBASE_PREVOUT_VOUT
}

// IsCoinbase reports whether tx has the single null-prevout input of a coinbase.
func (tx *Tx) IsCoinbase() bool {
	if tx == nil || len(tx.Inputs) != 1 {
		return false
	}
	return isCoinbasePrevout(tx.Inputs[0])
}

// TxID hashes the full transaction encoding.
func TxID(tx *Tx) [32]byte {
	return sha3_256(MarshalTx(tx))
}
