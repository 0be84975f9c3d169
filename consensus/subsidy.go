package consensus

// BlockSubsidy returns the coinbase subsidy at height, halving every
// SUBSIDY_HALVING_INTERVAL blocks. Genesis pays nothing spendable.
func BlockSubsidy(height uint64) uint64 {
	if height == 0 {
		return 0
	}
	halvings := height / SUBSIDY_HALVING_INTERVAL
	if halvings >= 64 {
		return 0
	}
	return uint64(INITIAL_SUBSIDY) >> halvings
}
