package p2p

import (
	"fmt"
	"unicode/utf8"
)

const (
	MaxRejectReasonBytes = 111
)

// RejectPayload answers a message the receiver refused. For blocks, Data
// carries the rejected block hash.
type RejectPayload struct {
	Message string
	Code    byte
	Reason  string
	HasData bool
	Data    [32]byte
}

func EncodeRejectPayload(r RejectPayload) ([]byte, error) {
	switch {
	case r.Message == "":
		return nil, fmt.Errorf("p2p: reject: empty message")
	case len(r.Message) > CommandBytes:
		return nil, fmt.Errorf("p2p: reject: message too long")
	case len(r.Reason) > MaxRejectReasonBytes:
		return nil, fmt.Errorf("p2p: reject: reason too long")
	case !utf8.ValidString(r.Reason):
		return nil, fmt.Errorf("p2p: reject: reason must be UTF-8")
	}
	out := make([]byte, 0, 2+len(r.Message)+1+2+len(r.Reason)+32)
	out = appendVarBytes(out, []byte(r.Message))
	out = append(out, r.Code)
	out = appendVarBytes(out, []byte(r.Reason))
	if r.HasData {
		out = append(out, r.Data[:]...)
	}
	return out, nil
}

func DecodeRejectPayload(b []byte) (*RejectPayload, error) {
	r := newPayloadReader(CmdReject, b)
	msg := r.take(r.count(CommandBytes, "message_len"))
	code := r.u8()
	reason := r.take(r.count(MaxRejectReasonBytes, "reason_len"))
	out := &RejectPayload{Message: string(msg), Code: code, Reason: string(reason)}
	switch r.remaining() {
	case 0:
	case 32:
		out.HasData = true
		out.Data = r.hash()
	}
	if err := r.end(); err != nil {
		return nil, err
	}
	if !utf8.Valid(reason) {
		return nil, fmt.Errorf("p2p: reject: reason must be UTF-8")
	}
	return out, nil
}
