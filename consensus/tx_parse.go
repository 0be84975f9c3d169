package consensus

const (
	// Smallest encodings, used to bound counts before allocating.
	minTxInputBytes  = 32 + 4 + 1 + 4
	minTxOutputBytes = 8 + 1
)

// ParseTx decodes one transaction from the front of b and returns the
// number of bytes consumed. Trailing bytes are left for the caller.
func ParseTx(b []byte) (*Tx, [32]byte, int, error) {
	var zero [32]byte
	off := 0

	version, err := readU32le(b, &off)
	if err != nil {
		return nil, zero, 0, err
	}

	inCount, err := readCompactSize(b, &off)
	if err != nil {
		return nil, zero, 0, err
	}
	if inCount > uint64(len(b)-off)/minTxInputBytes {
		return nil, zero, 0, txerr(TX_ERR_PARSE, "input_count exceeds remaining bytes")
	}
	inputs := make([]TxInput, 0, int(inCount))
	for i := uint64(0); i < inCount; i++ {
		var in TxInput
		prev, err := readBytes(b, &off, 32)
		if err != nil {
			return nil, zero, 0, err
		}
		copy(in.PrevTxid[:], prev)
		if in.PrevVout, err = readU32le(b, &off); err != nil {
			return nil, zero, 0, err
		}
		n, err := readLen(b, &off, MAX_SCRIPT_BYTES, "script_sig")
		if err != nil {
			return nil, zero, 0, err
		}
		sig, err := readBytes(b, &off, n)
		if err != nil {
			return nil, zero, 0, err
		}
		in.ScriptSig = append([]byte(nil), sig...)
		if in.Sequence, err = readU32le(b, &off); err != nil {
			return nil, zero, 0, err
		}
		inputs = append(inputs, in)
	}

	outCount, err := readCompactSize(b, &off)
	if err != nil {
		return nil, zero, 0, err
	}
	if outCount > uint64(len(b)-off)/minTxOutputBytes {
		return nil, zero, 0, txerr(TX_ERR_PARSE, "output_count exceeds remaining bytes")
	}
	outputs := make([]TxOutput, 0, int(outCount))
	for i := uint64(0); i < outCount; i++ {
		var o TxOutput
		if o.Value, err = readU64le(b, &off); err != nil {
			return nil, zero, 0, err
		}
		n, err := readLen(b, &off, MAX_SCRIPT_BYTES, "script")
		if err != nil {
			return nil, zero, 0, err
		}
		script, err := readBytes(b, &off, n)
		if err != nil {
			return nil, zero, 0, err
		}
		o.Script = append([]byte(nil), script...)
		outputs = append(outputs, o)
	}

	locktime, err := readU32le(b, &off)
	if err != nil {
		return nil, zero, 0, err
	}

	tx := &Tx{
		Version:  version,
		Inputs:   inputs,
		Outputs:  outputs,
		Locktime: locktime,
	}
	return tx, sha3_256(b[:off]), off, nil
}
