package peer

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/danwt/leech/internal/wire"
)

func pipePair(t *testing.T) (client, remote net.Conn) {
	t.Helper()
	client, remote = net.Pipe()
	return client, remote
}

// fakePeer drives the remote end of a net.Pipe as a minimal compliant
// peer: reads the handshake, replies with its own, then sends a
// bitfield and an unchoke.
func fakePeer(t *testing.T, remote net.Conn, infoHash [20]byte, bitfieldPayload []byte) {
	t.Helper()
	buf := make([]byte, wire.HandshakeSize)
	if _, err := remote.Read(buf); err != nil {
		t.Errorf("fake peer: read handshake: %v", err)
		return
	}
	var peerID [20]byte
	copy(peerID[:], bytes.Repeat([]byte{0xCC}, 20))
	remote.Write(wire.BuildHandshake(infoHash, peerID))
	if bitfieldPayload != nil {
		remote.Write((&wire.Message{Type: wire.Bitfield, Payload: bitfieldPayload}).Encode())
	}
	remote.Write(wire.UnchokeMsg())
}

func TestDialAndNegotiate(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	var infoHash [20]byte
	copy(infoHash[:], bytes.Repeat([]byte{0xAA}, 20))
	var clientID [20]byte
	copy(clientID[:], bytes.Repeat([]byte{0xBB}, 20))

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		fakePeer(t, conn, infoHash, []byte{0b10000000})
	}()

	s, err := Dial(context.Background(), ln.Addr().String(), infoHash, clientID, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Negotiate(8))
	require.Equal(t, StateReady, s.State())
	require.False(t, s.PeerChoking())
	require.True(t, s.HasPiece(0))
	<-done
}

func TestBitfieldHasBits(t *testing.T) {
	bf := NewBitfield(10)
	bf.Set(0)
	bf.Set(9)
	require.True(t, bf.Has(0))
	require.True(t, bf.Has(9))
	require.False(t, bf.Has(1))
	require.False(t, bf.Has(8))
}

func TestSessionStateString(t *testing.T) {
	require.Equal(t, "ready", StateReady.String())
}

func TestReadMessageAppliesChokeState(t *testing.T) {
	client, remote := pipePair(t)
	defer client.Close()
	defer remote.Close()

	s := &Session{conn: client, peerChoking: false, bitfield: NewBitfield(1)}
	go func() {
		remote.Write(wire.ChokeMsg())
	}()

	msg, err := s.ReadMessage(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, wire.Choke, msg.Type)
	require.True(t, s.PeerChoking())
}
