package p2p

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

type PeerRole int

const (
	PeerRoleUnknown PeerRole = iota
	PeerRoleInbound
	PeerRoleOutbound
)

func (r PeerRole) String() string {
	switch r {
	case PeerRoleInbound:
		return "inbound"
	case PeerRoleOutbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// PeerHandler receives decoded messages from a peer's read loop. Handlers
// run on the peer's goroutine and should hand work off rather than block.
type PeerHandler interface {
	OnInv(peer *Peer, vecs []InvVector) error
	OnGetData(peer *Peer, vecs []InvVector) error
	OnNotFound(peer *Peer, vecs []InvVector) error
	// OnBlock receives raw block bytes.
	OnBlock(peer *Peer, blockBytes []byte) error
	OnReject(peer *Peer, r *RejectPayload) error
	OnGetBlocks(peer *Peer, req *GetBlocksPayload) error
}

type PeerConfig struct {
	Magic       uint32
	GenesisHash [32]byte
	OurVersion  VersionPayload

	// IdleTimeout, if non-zero, sets a read deadline per message to avoid stuck connections.
	IdleTimeout time.Duration
	// WriteTimeout, if non-zero, bounds each Send.
	WriteTimeout time.Duration
}

type Peer struct {
	Conn   net.Conn
	Role   PeerRole
	Config PeerConfig

	PeerVersion VersionPayload

	writeMu sync.Mutex

	banMu sync.Mutex
	ban   banScore

	closeOnce sync.Once
}

func NewPeer(conn net.Conn, role PeerRole, cfg PeerConfig) (*Peer, error) {
	if conn == nil {
		return nil, fmt.Errorf("p2p: peer: nil conn")
	}
	return &Peer{Conn: conn, Role: role, Config: cfg}, nil
}

func (p *Peer) Addr() string {
	if a := p.Conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return "unknown"
}

func (p *Peer) Handshake() error {
	res, err := Handshake(p.Conn, p.Role, p.Config.Magic, p.Config.OurVersion, p.Config.GenesisHash)
	if err != nil {
		return err
	}
	p.PeerVersion = res.PeerVersion
	return nil
}

// Send writes one message. Concurrent callers are serialized.
func (p *Peer) Send(command string, payload []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.Config.WriteTimeout > 0 {
		_ = p.Conn.SetWriteDeadline(time.Now().Add(p.Config.WriteTimeout))
		defer func() { _ = p.Conn.SetWriteDeadline(time.Time{}) }()
	}
	return WriteMessage(p.Conn, p.Config.Magic, command, payload)
}

func (p *Peer) SendInv(command string, vecs []InvVector) error {
	payload, err := EncodeInvPayload(vecs)
	if err != nil {
		return err
	}
	return p.Send(command, payload)
}

func (p *Peer) SendReject(r RejectPayload) error {
	payload, err := EncodeRejectPayload(r)
	if err != nil {
		return err
	}
	return p.Send(CmdReject, payload)
}

func (p *Peer) SendGetBlocks(req GetBlocksPayload) error {
	payload, err := EncodeGetBlocksPayload(req)
	if err != nil {
		return err
	}
	return p.Send(CmdGetBlocks, payload)
}

// Misbehaving charges o to the peer and reports whether it has crossed
// BanThreshold.
func (p *Peer) Misbehaving(o Offence) (int, bool) {
	p.banMu.Lock()
	defer p.banMu.Unlock()
	score := p.ban.add(time.Now(), o)
	return score, score >= BanThreshold
}

func (p *Peer) BanScore() int {
	p.banMu.Lock()
	defer p.banMu.Unlock()
	return p.ban.at(time.Now())
}

func (p *Peer) shouldThrottle() bool {
	return p.BanScore() >= ThrottleThreshold
}

// Close closes the connection once; it unblocks Run.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() { err = p.Conn.Close() })
	return err
}

// Run reads messages until the connection fails, the peer is banned or ctx
// ends. The handshake must already have completed.
func (p *Peer) Run(ctx context.Context, h PeerHandler) error {
	if h == nil {
		return fmt.Errorf("p2p: peer: nil handler")
	}

	// Closing the conn is what unblocks ReadMessage on cancellation.
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = p.Close()
		case <-done:
		}
	}()
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if p.Config.IdleTimeout > 0 {
			_ = p.Conn.SetReadDeadline(time.Now().Add(p.Config.IdleTimeout))
		}
		msg, rerr := ReadMessage(p.Conn, p.Config.Magic)
		if rerr != nil {
			score, banned := p.Misbehaving(rerr.Offence)
			if banned {
				return fmt.Errorf("p2p: peer: banned (score=%d): %w", score, rerr.Err)
			}
			if rerr.Disconnect {
				return rerr
			}
			// Drop malformed message, keep connection.
			continue
		}

		if p.shouldThrottle() {
			time.Sleep(ThrottleDelay)
		}

		offence := OffenceNone
		switch msg.Command {
		case CmdPing:
			// The nonce is echoed back untouched.
			if len(msg.Payload) != 8 {
				offence = OffenceMalformed
				break
			}
			if err := p.Send(CmdPong, msg.Payload); err != nil {
				return err
			}
		case CmdPong:
			continue
		case CmdInv, CmdGetData, CmdNotFound:
			vecs, err := DecodeInvPayload(msg.Payload)
			if err != nil {
				offence = OffenceMalformed
				break
			}
			switch msg.Command {
			case CmdInv:
				err = h.OnInv(p, vecs)
			case CmdGetData:
				err = h.OnGetData(p, vecs)
			default:
				err = h.OnNotFound(p, vecs)
			}
			if err != nil {
				offence = OffenceBadRequest
			}
		case CmdGetBlocks:
			req, err := DecodeGetBlocksPayload(msg.Payload)
			if err != nil {
				offence = OffenceMalformed
				break
			}
			if err := h.OnGetBlocks(p, req); err != nil {
				offence = OffenceBadRequest
			}
		case CmdBlock:
			// Block validity is judged asynchronously by the handler; an error
			// here means the message could not be accepted at all.
			if err := h.OnBlock(p, msg.Payload); err != nil {
				offence = OffenceMalformed
			}
		case CmdReject:
			rp, err := DecodeRejectPayload(msg.Payload)
			if err != nil {
				offence = OffenceMalformed
				break
			}
			_ = h.OnReject(p, rp)
		case CmdVersion:
			// A second version after the handshake is malformed.
			offence = OffenceMalformed
		default:
			// Unknown command: ignore, no ban-score.
			continue
		}

		if offence != OffenceNone {
			if score, banned := p.Misbehaving(offence); banned {
				return fmt.Errorf("p2p: peer: banned (score=%d) on %s %s", score, offence, msg.Command)
			}
		}
	}
}
