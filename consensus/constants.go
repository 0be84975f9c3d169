package consensus

const (
	BLOCK_HEADER_BYTES = 116
	MAX_BLOCK_BYTES    = 4_000_000

	// MAX_FUTURE_DRIFT bounds a header timestamp relative to the median time past.
	MAX_FUTURE_DRIFT = 7_200
	MTP_WINDOW       = 11

	COIN      = 100_000_000
	MAX_MONEY = 21_000_000 * COIN

	INITIAL_SUBSIDY          = 50 * COIN
	SUBSIDY_HALVING_INTERVAL = 210_000

	COINBASE_SCRIPT_SIG_MIN_BYTES = 2
	COINBASE_SCRIPT_SIG_MAX_BYTES = 100

	MAX_SCRIPT_BYTES = 10_000

	TX_COINBASE_PREVOUT_VOUT = ^uint32(0)
)

// POW_LIMIT is the easiest permitted target (big-endian).
var POW_LIMIT = [32]byte{
	0x7f, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
}
