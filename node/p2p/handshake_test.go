package p2p

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			accepted <- nil
			return
		}
		accepted <- c
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server := <-accepted
	require.NotNil(t, server)
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return client, server
}

func TestHandshakeRoundTripTCP(t *testing.T) {
	var genesis [32]byte
	genesis[0], genesis[31] = 0xaa, 0xbb
	client, server := tcpPair(t)

	serverRes := make(chan *HandshakeResult, 1)
	serverErr := make(chan error, 1)
	go func() {
		res, err := Handshake(server, PeerRoleInbound, testMagic, VersionPayload{
			Timestamp:  uint64(time.Now().Unix()),
			UserAgent:  "S",
			BestHeight: 11,
			BestHash:   [32]byte{0x11},
		}, genesis)
		serverRes <- res
		serverErr <- err
	}()

	res, err := Handshake(client, PeerRoleOutbound, testMagic, VersionPayload{
		UserAgent:  "C",
		BestHeight: 10,
		Relay:      true,
	}, genesis)
	require.NoError(t, err)
	require.True(t, res.Ready)
	assert.Equal(t, "S", res.PeerVersion.UserAgent)
	assert.Equal(t, uint64(11), res.PeerVersion.BestHeight)
	assert.Equal(t, [32]byte{0x11}, res.PeerVersion.BestHash)

	require.NoError(t, <-serverErr)
	sres := <-serverRes
	assert.Equal(t, "C", sres.PeerVersion.UserAgent)
	assert.True(t, sres.PeerVersion.Relay)
	assert.Equal(t, uint64(10), sres.PeerVersion.BestHeight)
}

func TestHandshakeGenesisMismatchSendsReject(t *testing.T) {
	var a, b [32]byte
	a[0], b[0] = 1, 2
	client, server := tcpPair(t)

	serverErr := make(chan error, 1)
	go func() {
		_, err := Handshake(server, PeerRoleInbound, testMagic, VersionPayload{}, b)
		serverErr <- err
	}()

	_, err := Handshake(client, PeerRoleOutbound, testMagic, VersionPayload{}, a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "genesis mismatch")
	assert.Error(t, <-serverErr)
}

func TestHandshakeNilConn(t *testing.T) {
	_, err := Handshake(nil, PeerRoleOutbound, testMagic, VersionPayload{}, [32]byte{})
	assert.Error(t, err)
}
