package p2p

import (
	"fmt"
	"unicode/utf8"

	"dcnode.dev/node/consensus"
)

const (
	ProtocolVersionV1 = 1
	MaxUserAgentBytes = 256
)

// VersionPayload opens a connection. Peers on different chains are told
// apart by GenesisHash; BestHeight and BestHash advertise the sender's tip
// so the receiver knows whether it has blocks to fetch.
type VersionPayload struct {
	ProtocolVersion uint32
	GenesisHash     [32]byte
	Services        uint64
	Timestamp       uint64
	Nonce           uint64
	UserAgent       string
	BestHeight      uint64
	BestHash        [32]byte
	Relay           bool
}

func EncodeVersionPayload(v VersionPayload) ([]byte, error) {
	switch {
	case v.ProtocolVersion != ProtocolVersionV1:
		return nil, fmt.Errorf("p2p: version: unsupported protocol_version %d", v.ProtocolVersion)
	case len(v.UserAgent) > MaxUserAgentBytes:
		return nil, fmt.Errorf("p2p: version: user_agent too long")
	case !utf8.ValidString(v.UserAgent):
		return nil, fmt.Errorf("p2p: version: user_agent must be UTF-8")
	}
	out := make([]byte, 0, 4+32+3*8+3+len(v.UserAgent)+8+32+1)
	out = consensus.AppendU32le(out, v.ProtocolVersion)
	out = append(out, v.GenesisHash[:]...)
	out = consensus.AppendU64le(out, v.Services)
	out = consensus.AppendU64le(out, v.Timestamp)
	out = consensus.AppendU64le(out, v.Nonce)
	out = appendVarBytes(out, []byte(v.UserAgent))
	out = consensus.AppendU64le(out, v.BestHeight)
	out = append(out, v.BestHash[:]...)
	if v.Relay {
		return append(out, 1), nil
	}
	return append(out, 0), nil
}

func DecodeVersionPayload(b []byte) (*VersionPayload, error) {
	r := newPayloadReader(CmdVersion, b)
	v := &VersionPayload{
		ProtocolVersion: r.u32(),
		GenesisHash:     r.hash(),
		Services:        r.u64(),
		Timestamp:       r.u64(),
		Nonce:           r.u64(),
	}
	ua := r.take(r.count(MaxUserAgentBytes, "user_agent_len"))
	v.BestHeight = r.u64()
	v.BestHash = r.hash()
	relay := r.u8()
	if err := r.end(); err != nil {
		return nil, err
	}
	if !utf8.Valid(ua) {
		return nil, fmt.Errorf("p2p: version: user_agent must be UTF-8")
	}
	if relay > 1 {
		return nil, fmt.Errorf("p2p: version: relay must be 0 or 1")
	}
	v.UserAgent = string(ua)
	v.Relay = relay == 1
	return v, nil
}
