package consensus

func MarshalTx(tx *Tx) []byte {
	if tx == nil {
		return nil
	}
	out := make([]byte, 0, 128)
	out = AppendU32le(out, tx.Version)
	out = AppendCompactSize(out, uint64(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		out = append(out, in.PrevTxid[:]...)
		out = AppendU32le(out, in.PrevVout)
		out = AppendCompactSize(out, uint64(len(in.ScriptSig)))
		out = append(out, in.ScriptSig...)
		out = AppendU32le(out, in.Sequence)
	}
	out = AppendCompactSize(out, uint64(len(tx.Outputs)))
	for _, o := range tx.Outputs {
		out = AppendU64le(out, o.Value)
		out = AppendCompactSize(out, uint64(len(o.Script)))
		out = append(out, o.Script...)
	}
	out = AppendU32le(out, tx.Locktime)
	return out
}
