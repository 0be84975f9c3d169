package consensus

import (
	"math/big"
)

var (
	two256      = new(big.Int).Lsh(big.NewInt(1), 256)
	powLimitInt = new(big.Int).SetBytes(POW_LIMIT[:])
)

// WorkFromTarget is the work one block at target contributes:
// floor(2^256 / target), in integer arithmetic.
func WorkFromTarget(target [32]byte) (*big.Int, error) {
	t := new(big.Int).SetBytes(target[:])
	switch {
	case t.Sign() == 0:
		return nil, txerr(BLOCK_ERR_TARGET_INVALID, "fork_work: target is zero")
	case t.Cmp(powLimitInt) > 0:
		return nil, txerr(BLOCK_ERR_TARGET_INVALID, "fork_work: target above pow_limit")
	}
	return t.Div(two256, t), nil
}

// ExtendWork returns the cumulative work of a block at target whose parent
// has cumulative work parent. parent is not modified.
func ExtendWork(parent *big.Int, target [32]byte) (*big.Int, error) {
	w, err := WorkFromTarget(target)
	if err != nil {
		return nil, err
	}
	if parent != nil {
		w.Add(w, parent)
	}
	return w, nil
}

// MoreWork is the fork-choice rule: candidate replaces the current tip only
// with strictly more cumulative work. On a tie the first-seen tip stays.
func MoreWork(candidate, tip *big.Int) bool {
	if candidate == nil {
		return false
	}
	if tip == nil {
		return true
	}
	return candidate.Cmp(tip) > 0
}
