// Package wire implements the BitTorrent peer wire protocol: the fixed
// handshake and the length-prefixed message stream that follows it.
package wire

import (
	"io"

	"github.com/pkg/errors"
)

// Protocol is the identifier string every handshake carries.
const Protocol = "BitTorrent protocol"

// HandshakeSize is the fixed size of a handshake message: 1 (pstrlen)
// + len(Protocol) + 8 (reserved) + 20 (info hash) + 20 (peer id).
const HandshakeSize = 1 + len(Protocol) + 8 + 20 + 20

// Reserved extension bits this client advertises. Bit 0x10 of the 6th
// reserved byte (BEP 10, extended messaging) is the only one this
// implementation turns on; DHT (bit 0x01 of the 8th byte, BEP 5) is
// out of scope so it is left clear even though the teacher this is
// grounded on sets it.
const extendedBit = 0x10

// Handshake is a decoded handshake message.
type Handshake struct {
	InfoHash        [20]byte
	PeerID          [20]byte
	SupportsExtended bool
}

// BuildHandshake serialises a handshake for infoHash/peerID.
func BuildHandshake(infoHash, peerID [20]byte) []byte {
	buf := make([]byte, HandshakeSize)
	buf[0] = byte(len(Protocol))
	copy(buf[1:], Protocol)
	// reserved bytes 1..8 are already zero; set the extended bit only.
	buf[1+len(Protocol)+5] = extendedBit
	copy(buf[1+len(Protocol)+8:], infoHash[:])
	copy(buf[1+len(Protocol)+8+20:], peerID[:])
	return buf
}

// ReadHandshake reads and validates a handshake from r. The protocol
// string must match exactly; a mismatched info hash is left for the
// caller to check (ReadHandshake doesn't know what hash to expect when
// it's the one receiving an incoming connection).
func ReadHandshake(r io.Reader) (*Handshake, error) {
	buf := make([]byte, HandshakeSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(err, "wire: read handshake")
	}
	pstrlen := int(buf[0])
	if pstrlen != len(Protocol) {
		return nil, errors.Errorf("wire: unexpected protocol string length %d", pstrlen)
	}
	if string(buf[1:1+pstrlen]) != Protocol {
		return nil, errors.Errorf("wire: unexpected protocol string %q", buf[1:1+pstrlen])
	}
	reserved := buf[1+pstrlen : 1+pstrlen+8]
	h := &Handshake{
		SupportsExtended: reserved[5]&extendedBit != 0,
	}
	copy(h.InfoHash[:], buf[1+pstrlen+8:1+pstrlen+8+20])
	copy(h.PeerID[:], buf[1+pstrlen+8+20:])
	return h, nil
}
