package consensus

import "bytes"

// PowCheck verifies that the header hash, read as a big-endian integer,
// does not exceed target, and that target is within (0, POW_LIMIT].
func PowCheck(headerBytes []byte, target [32]byte) error {
	var zero [32]byte
	if target == zero {
		return txerr(BLOCK_ERR_TARGET_INVALID, "target is zero")
	}
	if bytes.Compare(target[:], POW_LIMIT[:]) > 0 {
		return txerr(BLOCK_ERR_TARGET_INVALID, "target above pow_limit")
	}
	h, err := BlockHash(headerBytes)
	if err != nil {
		return err
	}
	if bytes.Compare(h[:], target[:]) > 0 {
		return txerr(BLOCK_ERR_POW_INVALID, "hash above target")
	}
	return nil
}
