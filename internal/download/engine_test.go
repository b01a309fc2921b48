package download

import (
	"bytes"
	"context"
	"crypto/sha1"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/danwt/leech/internal/wire"
)

// memWriterAt is a concurrency-safe io.WriterAt backed by a fixed byte
// slice, standing in for the output file in tests.
type memWriterAt struct {
	mu  sync.Mutex
	buf []byte
}

func (m *memWriterAt) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := copy(m.buf[off:], p)
	return n, nil
}

// servePeer accepts one connection and behaves like a seeding peer
// holding every piece in content, split at pieceLength boundaries.
func servePeer(t *testing.T, ln net.Listener, infoHash [20]byte, content []byte, pieceLength int) {
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	hs, err := wire.ReadHandshake(conn)
	if err != nil {
		t.Errorf("serve peer: read handshake: %v", err)
		return
	}
	if hs.InfoHash != infoHash {
		t.Errorf("serve peer: info hash mismatch")
		return
	}
	var peerID [20]byte
	conn.Write(wire.BuildHandshake(infoHash, peerID))

	numPieces := (len(content) + pieceLength - 1) / pieceLength
	bf := make([]byte, (numPieces+7)/8)
	for i := 0; i < numPieces; i++ {
		bf[i/8] |= 1 << (7 - uint(i%8))
	}
	conn.Write((&wire.Message{Type: wire.Bitfield, Payload: bf}).Encode())
	conn.Write(wire.UnchokeMsg())

	for {
		msg, err := wire.ReadMessage(conn)
		if err != nil {
			return
		}
		switch msg.Type {
		case wire.Interested:
			// no-op
		case wire.Request:
			index, begin, length, err := parseRequestPayload(msg.Payload)
			if err != nil {
				return
			}
			start := index*pieceLength + begin
			end := start + length
			if end > len(content) {
				end = len(content)
			}
			block := content[start:end]
			payload := make([]byte, 8+len(block))
			putUint32(payload[0:4], uint32(index))
			putUint32(payload[4:8], uint32(begin))
			copy(payload[8:], block)
			conn.Write((&wire.Message{Type: wire.Piece, Payload: payload}).Encode())
		case wire.Have:
			// ignore
		}
	}
}

func parseRequestPayload(p []byte) (index, begin, length int, err error) {
	return int(beUint32(p[0:4])), int(beUint32(p[4:8])), int(beUint32(p[8:12])), nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func TestEngineRunDownloadsAllPieces(t *testing.T) {
	pieceLength := 32
	content := bytes.Repeat([]byte{0}, 0)
	for i := 0; i < 3; i++ {
		block := bytes.Repeat([]byte{byte(i + 1)}, pieceLength)
		content = append(content, block...)
	}
	// shorten the last piece to exercise the non-uniform-length path
	content = content[:len(content)-10]

	var infoHash [20]byte
	copy(infoHash[:], bytes.Repeat([]byte{0x11}, 20))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go servePeer(t, ln, infoHash, content, pieceLength)

	numPieces := (len(content) + pieceLength - 1) / pieceLength
	pieces := make([]Piece, numPieces)
	for i := range pieces {
		start := i * pieceLength
		end := start + pieceLength
		if end > len(content) {
			end = len(content)
		}
		pieces[i] = Piece{Index: i, Hash: sha1.Sum(content[start:end]), Length: end - start}
	}

	out := &memWriterAt{buf: make([]byte, len(content))}
	e := &Engine{
		Out:         out,
		Log:         logrus.NewEntry(logrus.New()),
		PieceLength: int64(pieceLength),
	}
	var clientID [20]byte
	e.InfoHash = infoHash
	e.ClientID = clientID

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = e.Run(ctx, []string{ln.Addr().String()}, pieces, numPieces)
	require.NoError(t, err)
	require.True(t, bytes.Equal(out.buf, content))
}
