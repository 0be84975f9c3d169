package p2p

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"unicode"

	"golang.org/x/crypto/sha3"
)

const (
	// TransportPrefixBytes is the fixed header length for every P2P message.
	TransportPrefixBytes = 24
	CommandBytes         = 12

	// MaxRelayMsgBytes bounds a payload; it must exceed consensus.MAX_BLOCK_BYTES.
	MaxRelayMsgBytes = 8_388_608
)

type Message struct {
	Magic   uint32
	Command string
	Payload []byte
}

// ReadError tells the caller how to treat a malformed message.
type ReadError struct {
	Err        error
	// Offence is zero when the failure is not the peer's fault.
	Offence    Offence
	Disconnect bool
}

func (e *ReadError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func checksum4(payload []byte) [4]byte {
	d := sha3.Sum256(payload)
	var out [4]byte
	copy(out[:], d[:4])
	return out
}

func encodeCommand(cmd string) ([CommandBytes]byte, error) {
	var out [CommandBytes]byte
	if cmd == "" {
		return out, fmt.Errorf("p2p: empty command")
	}
	if len(cmd) > CommandBytes {
		return out, fmt.Errorf("p2p: command too long")
	}
	for i := 0; i < len(cmd); i++ {
		c := cmd[i]
		// Command is ASCII; reject control chars and non-ASCII.
		if c >= 0x80 || c == 0x00 || !unicode.IsPrint(rune(c)) {
			return out, fmt.Errorf("p2p: command contains non-printable ASCII")
		}
		out[i] = c
	}
	// Remaining bytes are already zero (right padding).
	return out, nil
}

func decodeCommand(b [CommandBytes]byte) (string, error) {
	// Find first NUL; after that all bytes must be NUL (right padding).
	n := CommandBytes
	for i := 0; i < CommandBytes; i++ {
		if b[i] == 0x00 {
			n = i
			break
		}
	}
	for i := n; i < CommandBytes; i++ {
		if b[i] != 0x00 {
			return "", fmt.Errorf("p2p: command not NUL-right-padded")
		}
	}
	cmd := string(b[:n])
	if cmd == "" {
		return "", fmt.Errorf("p2p: empty command")
	}
	for i := 0; i < len(cmd); i++ {
		c := cmd[i]
		if c >= 0x80 || c == 0x00 || !unicode.IsPrint(rune(c)) {
			return "", fmt.Errorf("p2p: command contains non-printable ASCII")
		}
	}
	return cmd, nil
}

// WriteMessage writes one framed message:
//
//	magic u32be | command[12] | payload_len u32le | checksum[4] | payload
//
// Header and payload go out in a single Write.
func WriteMessage(w io.Writer, magic uint32, command string, payload []byte) error {
	cmd12, err := encodeCommand(command)
	if err != nil {
		return err
	}
	if uint64(len(payload)) > MaxRelayMsgBytes {
		return fmt.Errorf("p2p: payload too large")
	}
	c4 := checksum4(payload)

	frame := make([]byte, TransportPrefixBytes, TransportPrefixBytes+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], magic)
	copy(frame[4:16], cmd12[:])
	binary.LittleEndian.PutUint32(frame[16:20], uint32(len(payload)))
	copy(frame[20:24], c4[:])
	frame = append(frame, payload...)

	_, err = w.Write(frame)
	return err
}

// ReadMessage reads exactly one message from r. It handles partial reads.
//
// - magic mismatch => disconnect, not ban-worthy
// - oversize payload_length => disconnect immediately
// - checksum mismatch => drop message, OffenceMalformed, do not disconnect
// - truncation / length mismatch => disconnect, OffenceTruncated
func ReadMessage(r io.Reader, expectedMagic uint32) (*Message, *ReadError) {
	var hdr [TransportPrefixBytes]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		// EOF while reading prefix: treat as disconnect without ban (connection died).
		return nil, &ReadError{Err: err, Disconnect: true}
	}

	magic := binary.BigEndian.Uint32(hdr[0:4])
	if magic != expectedMagic {
		return nil, &ReadError{Err: fmt.Errorf("p2p: magic mismatch"), Disconnect: true}
	}

	var cmdBytes [CommandBytes]byte
	copy(cmdBytes[:], hdr[4:16])
	cmd, err := decodeCommand(cmdBytes)
	if err != nil {
		return nil, &ReadError{Err: err, Offence: OffenceMalformed, Disconnect: false}
	}

	payloadLen := binary.LittleEndian.Uint32(hdr[16:20])
	if payloadLen > MaxRelayMsgBytes {
		// Do not attempt to read attacker-controlled payload length.
		return nil, &ReadError{Err: fmt.Errorf("p2p: payload_length exceeds MAX_RELAY_MSG_BYTES"), Disconnect: true}
	}

	var expectedC4 [4]byte
	copy(expectedC4[:], hdr[20:24])

	payload := make([]byte, int(payloadLen))
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			// Declared length but stream ended.
			return nil, &ReadError{Err: err, Offence: OffenceTruncated, Disconnect: true}
		}
	}

	computedC4 := checksum4(payload)
	if !bytes.Equal(expectedC4[:], computedC4[:]) {
		return nil, &ReadError{Err: fmt.Errorf("p2p: checksum mismatch"), Offence: OffenceMalformed, Disconnect: false}
	}

	return &Message{Magic: magic, Command: cmd, Payload: payload}, nil
}
