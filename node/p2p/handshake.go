package p2p

import (
	"fmt"
	"net"
	"time"
)

const (
	HandshakeTimeout = 10 * time.Second
)

type HandshakeResult struct {
	PeerVersion VersionPayload
	Ready       bool
}

// Handshake exchanges version and verack on conn.
//
// The outbound side speaks first. The inbound side waits for the peer's
// version before sending its own, so the two ends never write at the same
// time during the exchange.
//
// It returns an error for any handshake failure. The caller is responsible for closing conn.
func Handshake(
	conn net.Conn,
	role PeerRole,
	magic uint32,
	ourVersion VersionPayload,
	genesis [32]byte,
) (*HandshakeResult, error) {
	if conn == nil {
		return nil, fmt.Errorf("p2p: handshake: nil conn")
	}

	ourVersion.ProtocolVersion = ProtocolVersionV1
	ourVersion.GenesisHash = genesis

	versionPayload, err := EncodeVersionPayload(ourVersion)
	if err != nil {
		return nil, err
	}
	if role == PeerRoleOutbound {
		if err := WriteMessage(conn, magic, CmdVersion, versionPayload); err != nil {
			return nil, err
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(HandshakeTimeout))
	peerVersion, err := awaitVersion(conn, magic, genesis)
	if err != nil {
		return nil, err
	}

	if role != PeerRoleOutbound {
		if err := WriteMessage(conn, magic, CmdVersion, versionPayload); err != nil {
			return nil, err
		}
	}
	if err := WriteMessage(conn, magic, CmdVerack, nil); err != nil {
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(HandshakeTimeout))
	for {
		msg, rerr := ReadMessage(conn, magic)
		if rerr != nil {
			if !rerr.Disconnect {
				continue
			}
			return nil, rerr
		}
		switch msg.Command {
		case CmdVerack:
			if len(msg.Payload) != 0 {
				return nil, fmt.Errorf("p2p: handshake: verack payload must be empty")
			}
			_ = conn.SetReadDeadline(time.Time{})
			return &HandshakeResult{PeerVersion: *peerVersion, Ready: true}, nil
		case CmdVersion:
			return nil, fmt.Errorf("p2p: handshake: duplicate version")
		case CmdReject:
			return nil, rejectError(msg.Payload)
		default:
			// Ignore until verack arrives.
			continue
		}
	}
}

func awaitVersion(conn net.Conn, magic uint32, genesis [32]byte) (*VersionPayload, error) {
	for {
		msg, rerr := ReadMessage(conn, magic)
		if rerr != nil {
			if !rerr.Disconnect {
				continue
			}
			return nil, rerr
		}
		switch msg.Command {
		case CmdVersion:
			v, err := DecodeVersionPayload(msg.Payload)
			if err != nil {
				return nil, err
			}
			// Different chain: reject and disconnect, no ban score.
			if v.GenesisHash != genesis {
				rp, _ := EncodeRejectPayload(RejectPayload{
					Message: CmdVersion,
					Code:    RejectInvalid,
					Reason:  "genesis mismatch",
				})
				_ = WriteMessage(conn, magic, CmdReject, rp)
				return nil, fmt.Errorf("p2p: handshake: genesis mismatch")
			}
			if v.ProtocolVersion != ProtocolVersionV1 {
				return nil, fmt.Errorf("p2p: handshake: unsupported protocol_version")
			}
			return v, nil
		case CmdReject:
			return nil, rejectError(msg.Payload)
		default:
			// Early verack and unsolicited messages are ignored.
			continue
		}
	}
}

func rejectError(payload []byte) error {
	rp, err := DecodeRejectPayload(payload)
	if err != nil {
		return err
	}
	return fmt.Errorf("p2p: handshake: reject(%s) code=0x%02x reason=%q", rp.Message, rp.Code, rp.Reason)
}
