package consensus

func addUint64(a, b uint64) (uint64, error) {
	if b > (^uint64(0) - a) {
		return 0, txerr(TX_ERR_VALUE_RANGE, "u64 overflow")
	}
	return a + b, nil
}
