package consensus

import (
	"sort"
)

// ValidationResult is either Valid or Invalid with a typed reason.
type ValidationResult struct {
	err error
}

func Valid() ValidationResult {
	return ValidationResult{}
}

// Invalid wraps err as a rejection. A nil err is normalised to a parse error
// so an Invalid result always carries a reason.
func Invalid(err error) ValidationResult {
	if err == nil {
		err = txerr(BLOCK_ERR_PARSE, "unspecified")
	}
	return ValidationResult{err: err}
}

func (r ValidationResult) IsValid() bool { return r.err == nil }

func (r ValidationResult) Err() error { return r.err }

func (r ValidationResult) Code() ErrorCode { return ErrorCodeOf(r.err) }

// RejectReason is the wire reject token for an invalid result.
func (r ValidationResult) RejectReason() string {
	if r.err == nil {
		return ""
	}
	return RejectReason(r.Code())
}

func (r ValidationResult) String() string {
	if r.err == nil {
		return "valid"
	}
	return "invalid: " + r.err.Error()
}

// BlockContext carries what a block is validated against. Nil pointer
// fields skip the corresponding check.
type BlockContext struct {
	Height         uint64
	PrevHash       *[32]byte
	ExpectedTarget *[32]byte
	// PrevTimestamps lists ancestor timestamps, newest first.
	PrevTimestamps []uint64
	EnforceSubsidy bool

	Marker   []byte
	Registry *DrivechainRegistry
}

// ValidateBlockBytes parses and validates a serialized block.
func ValidateBlockBytes(b []byte, ctx BlockContext) (*Block, ValidationResult) {
	blk, err := ParseBlockBytes(b)
	if err != nil {
		if ErrorCodeOf(err) == TX_ERR_PARSE {
			err = txerr(BLOCK_ERR_PARSE, err.Error())
		}
		return nil, Invalid(err)
	}
	return blk, ValidateBlock(blk, ctx)
}

// ValidateBlock runs every consensus check on blk. It is a pure function of
// its inputs; the first failing check determines the reason.
func ValidateBlock(blk *Block, ctx BlockContext) ValidationResult {
	if blk == nil {
		return Invalid(txerr(BLOCK_ERR_PARSE, "nil block"))
	}
	if err := validateStructure(blk); err != nil {
		return Invalid(err)
	}

	if err := PowCheck(blk.HeaderBytes, blk.Header.Target); err != nil {
		return Invalid(err)
	}
	if ctx.ExpectedTarget != nil && blk.Header.Target != *ctx.ExpectedTarget {
		return Invalid(txerr(BLOCK_ERR_TARGET_INVALID, "target mismatch"))
	}

	if ctx.PrevHash != nil && blk.Header.PrevBlockHash != *ctx.PrevHash {
		return Invalid(txerr(BLOCK_ERR_LINKAGE_INVALID, "prev_block_hash mismatch"))
	}

	if err := validateTimestampRules(blk.Header.Timestamp, ctx.Height, ctx.PrevTimestamps); err != nil {
		return Invalid(err)
	}

	root, err := MerkleRootTxids(blk.Txids)
	if err != nil {
		return Invalid(err)
	}
	if root != blk.Header.MerkleRoot {
		return Invalid(txerr(BLOCK_ERR_MERKLE_INVALID, "merkle_root mismatch"))
	}

	if err := validateTransactions(blk, ctx); err != nil {
		return Invalid(err)
	}

	set := ExtractCommitments(blk.Coinbase(), ctx.Marker)
	return ValidateCommitments(set, ctx.Registry)
}

func validateStructure(blk *Block) error {
	if len(blk.Txs) == 0 {
		return txerr(BLOCK_ERR_COINBASE_INVALID, "empty block tx list")
	}
	if len(blk.Txids) != len(blk.Txs) {
		return txerr(BLOCK_ERR_PARSE, "txid list length mismatch")
	}
	if !blk.Txs[0].IsCoinbase() {
		return txerr(BLOCK_ERR_COINBASE_INVALID, "first tx must be coinbase")
	}
	for i := 1; i < len(blk.Txs); i++ {
		if blk.Txs[i].IsCoinbase() {
			return txerr(BLOCK_ERR_COINBASE_INVALID, "coinbase is only allowed at index 0")
		}
	}
	size := len(blk.HeaderBytes)
	for _, tx := range blk.Txs {
		size += len(MarshalTx(tx))
		if size > MAX_BLOCK_BYTES {
			return txerr(BLOCK_ERR_SIZE_EXCEEDED, "block exceeds MAX_BLOCK_BYTES")
		}
	}
	return nil
}

func validateTimestampRules(headerTimestamp uint64, blockHeight uint64, prevTimestamps []uint64) error {
	median, ok, err := medianTimePast(blockHeight, prevTimestamps)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if headerTimestamp <= median {
		return txerr(BLOCK_ERR_TIMESTAMP_OLD, "timestamp <= MTP median")
	}
	upperBound := median + MAX_FUTURE_DRIFT
	if upperBound < median {
		upperBound = ^uint64(0)
	}
	if headerTimestamp > upperBound {
		return txerr(BLOCK_ERR_TIMESTAMP_FUTURE, "timestamp exceeds future drift")
	}
	return nil
}

func medianTimePast(blockHeight uint64, prevTimestamps []uint64) (uint64, bool, error) {
	if blockHeight == 0 || len(prevTimestamps) == 0 {
		return 0, false, nil
	}
	k := uint64(MTP_WINDOW)
	if blockHeight < k {
		k = blockHeight
	}
	if len(prevTimestamps) < int(k) {
		return 0, false, txerr(BLOCK_ERR_TIMESTAMP_OLD, "insufficient prev_timestamps context")
	}
	window := append([]uint64(nil), prevTimestamps[:int(k)]...)
	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
	return window[(len(window)-1)/2], true, nil
}

// MedianTimePast exposes the MTP used by the timestamp rule so miners pick
// timestamps the validator accepts.
func MedianTimePast(blockHeight uint64, prevTimestamps []uint64) (uint64, bool, error) {
	return medianTimePast(blockHeight, prevTimestamps)
}

type outpoint struct {
	txid [32]byte
	vout uint32
}

func validateTransactions(blk *Block, ctx BlockContext) error {
	seenTxids := make(map[[32]byte]struct{}, len(blk.Txs))
	spent := make(map[outpoint]struct{})
	for i, tx := range blk.Txs {
		if _, dup := seenTxids[blk.Txids[i]]; dup {
			return txerr(BLOCK_ERR_DUPLICATE_TX, "duplicate txid in block")
		}
		seenTxids[blk.Txids[i]] = struct{}{}

		total, err := checkTxContextFree(tx)
		if err != nil {
			return err
		}
		if i == 0 {
			sigLen := len(tx.Inputs[0].ScriptSig)
			if sigLen < COINBASE_SCRIPT_SIG_MIN_BYTES || sigLen > COINBASE_SCRIPT_SIG_MAX_BYTES {
				return txerr(BLOCK_ERR_COINBASE_INVALID, "coinbase script_sig length out of range")
			}
			if ctx.EnforceSubsidy && total > BlockSubsidy(ctx.Height) {
				return txerr(BLOCK_ERR_COINBASE_INVALID, "coinbase pays more than subsidy")
			}
			continue
		}
		for _, in := range tx.Inputs {
			if isCoinbasePrevout(in) {
				return txerr(TX_ERR_NULL_PREVOUT, "non-coinbase input has null prevout")
			}
			op := outpoint{txid: in.PrevTxid, vout: in.PrevVout}
			if _, dup := spent[op]; dup {
				return txerr(BLOCK_ERR_DOUBLE_SPEND, "input spent twice in block")
			}
			spent[op] = struct{}{}
		}
	}
	return nil
}

// checkTxContextFree applies the checks that need no chain state and returns
// the total output value.
func checkTxContextFree(tx *Tx) (uint64, error) {
	if len(tx.Inputs) == 0 {
		return 0, txerr(TX_ERR_NO_INPUTS, "tx has no inputs")
	}
	if len(tx.Outputs) == 0 {
		return 0, txerr(TX_ERR_NO_OUTPUTS, "tx has no outputs")
	}
	var total uint64
	for _, o := range tx.Outputs {
		if o.Value > MAX_MONEY {
			return 0, txerr(TX_ERR_VALUE_RANGE, "output value exceeds MAX_MONEY")
		}
		var err error
		if total, err = addUint64(total, o.Value); err != nil {
			return 0, err
		}
		if total > MAX_MONEY {
			return 0, txerr(TX_ERR_VALUE_RANGE, "total output value exceeds MAX_MONEY")
		}
	}
	if len(tx.Inputs) > 1 {
		seen := make(map[outpoint]struct{}, len(tx.Inputs))
		for _, in := range tx.Inputs {
			op := outpoint{txid: in.PrevTxid, vout: in.PrevVout}
			if _, dup := seen[op]; dup {
				return 0, txerr(TX_ERR_DUPLICATE_INPUT, "duplicate input in tx")
			}
			seen[op] = struct{}{}
		}
	}
	return total, nil
}
