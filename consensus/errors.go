package consensus

import (
	"encoding/hex"
	"errors"
	"fmt"
)

type ErrorCode string

const (
	TX_ERR_PARSE           ErrorCode = "TX_ERR_PARSE"
	TX_ERR_NO_INPUTS       ErrorCode = "TX_ERR_NO_INPUTS"
	TX_ERR_NO_OUTPUTS      ErrorCode = "TX_ERR_NO_OUTPUTS"
	TX_ERR_VALUE_RANGE     ErrorCode = "TX_ERR_VALUE_RANGE"
	TX_ERR_DUPLICATE_INPUT ErrorCode = "TX_ERR_DUPLICATE_INPUT"
	TX_ERR_NULL_PREVOUT    ErrorCode = "TX_ERR_NULL_PREVOUT"

	BLOCK_ERR_PARSE            ErrorCode = "BLOCK_ERR_PARSE"
	BLOCK_ERR_SIZE_EXCEEDED    ErrorCode = "BLOCK_ERR_SIZE_EXCEEDED"
	BLOCK_ERR_POW_INVALID      ErrorCode = "BLOCK_ERR_POW_INVALID"
	BLOCK_ERR_TARGET_INVALID   ErrorCode = "BLOCK_ERR_TARGET_INVALID"
	BLOCK_ERR_LINKAGE_INVALID  ErrorCode = "BLOCK_ERR_LINKAGE_INVALID"
	BLOCK_ERR_MERKLE_INVALID   ErrorCode = "BLOCK_ERR_MERKLE_INVALID"
	BLOCK_ERR_COINBASE_INVALID ErrorCode = "BLOCK_ERR_COINBASE_INVALID"
	BLOCK_ERR_TIMESTAMP_OLD    ErrorCode = "BLOCK_ERR_TIMESTAMP_OLD"
	BLOCK_ERR_TIMESTAMP_FUTURE ErrorCode = "BLOCK_ERR_TIMESTAMP_FUTURE"
	BLOCK_ERR_DUPLICATE_TX     ErrorCode = "BLOCK_ERR_DUPLICATE_TX"
	BLOCK_ERR_DOUBLE_SPEND     ErrorCode = "BLOCK_ERR_DOUBLE_SPEND"
	BLOCK_ERR_INVALID_PARENT   ErrorCode = "BLOCK_ERR_INVALID_PARENT"

	BLOCK_ERR_COMMITMENT_DUPLICATE ErrorCode = "BLOCK_ERR_COMMITMENT_DUPLICATE"
	BLOCK_ERR_COMMITMENT_MALFORMED ErrorCode = "BLOCK_ERR_COMMITMENT_MALFORMED"
)

type TxError struct {
	Code ErrorCode
	Msg  string
}

func (e *TxError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func txerr(code ErrorCode, msg string) error {
	return &TxError{Code: code, Msg: msg}
}

// CommitmentError is the rejection reason contributed by the commitment
// validator. DrivechainID names the offending drivechain.
type CommitmentError struct {
	Code         ErrorCode
	DrivechainID []byte
	Cause        error
}

func (e *CommitmentError) Error() string {
	if e == nil {
		return "<nil>"
	}
	id := hex.EncodeToString(e.DrivechainID)
	if e.Cause != nil {
		return fmt.Sprintf("%s: drivechain %s: %v", e.Code, id, e.Cause)
	}
	return fmt.Sprintf("%s: drivechain %s", e.Code, id)
}

func (e *CommitmentError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// DuplicateCommitment reports a drivechain committed to more than once in one coinbase.
func DuplicateCommitment(id []byte) error {
	return &CommitmentError{
		Code:         BLOCK_ERR_COMMITMENT_DUPLICATE,
		DrivechainID: append([]byte(nil), id...),
	}
}

// MalformedCommitment reports a payload rejected by the drivechain's payload rule.
func MalformedCommitment(id []byte, cause error) error {
	return &CommitmentError{
		Code:         BLOCK_ERR_COMMITMENT_MALFORMED,
		DrivechainID: append([]byte(nil), id...),
		Cause:        cause,
	}
}

// ErrorCodeOf extracts the consensus code from err, or "" if err carries none.
func ErrorCodeOf(err error) ErrorCode {
	var te *TxError
	if errors.As(err, &te) {
		return te.Code
	}
	var ce *CommitmentError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// Reject reasons use the short tokens peers expect on the wire.
var rejectReasons = map[ErrorCode]string{
	TX_ERR_PARSE:                   "bad-txns-parse",
	TX_ERR_NO_INPUTS:               "bad-txns-vin-empty",
	TX_ERR_NO_OUTPUTS:              "bad-txns-vout-empty",
	TX_ERR_VALUE_RANGE:             "bad-txns-vout-toolarge",
	TX_ERR_DUPLICATE_INPUT:         "bad-txns-inputs-duplicate",
	TX_ERR_NULL_PREVOUT:            "bad-txns-prevout-null",
	BLOCK_ERR_PARSE:                "bad-blk-parse",
	BLOCK_ERR_SIZE_EXCEEDED:        "bad-blk-length",
	BLOCK_ERR_POW_INVALID:          "high-hash",
	BLOCK_ERR_TARGET_INVALID:       "bad-diffbits",
	BLOCK_ERR_LINKAGE_INVALID:      "bad-prevblk",
	BLOCK_ERR_MERKLE_INVALID:       "bad-txnmrklroot",
	BLOCK_ERR_COINBASE_INVALID:     "bad-cb-missing",
	BLOCK_ERR_TIMESTAMP_OLD:        "time-too-old",
	BLOCK_ERR_TIMESTAMP_FUTURE:     "time-too-new",
	BLOCK_ERR_DUPLICATE_TX:         "bad-txns-duplicate",
	BLOCK_ERR_DOUBLE_SPEND:         "bad-txns-inputs-missingorspent",
	BLOCK_ERR_INVALID_PARENT:       "bad-prevblk",
	BLOCK_ERR_COMMITMENT_DUPLICATE: "bad-chain-commitment",
	BLOCK_ERR_COMMITMENT_MALFORMED: "bad-chain-commitment",
}

// RejectReason maps a consensus code to its wire reject reason.
func RejectReason(code ErrorCode) string {
	if r, ok := rejectReasons[code]; ok {
		return r
	}
	return "invalid"
}
