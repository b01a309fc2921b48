package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// MessageType identifies the kind of a peer message.
type MessageType uint8

// Message types, per BEP 3 plus the BEP 10 extended type.
const (
	Choke MessageType = iota
	Unchoke
	Interested
	NotInterested
	Have
	Bitfield
	Request
	Piece
	Cancel
	_ // port (DHT, BEP 5) — not used by this client
	Extended MessageType = 20
)

// Message is one length-prefixed peer message, already stripped of
// its 4-byte length prefix.
type Message struct {
	Type    MessageType
	Payload []byte
}

// ReadMessage reads one message from r, transparently skipping
// zero-length keepalive messages. Every read is sized by the length
// prefix actually on the wire — there is no fixed-size buffer read
// anywhere in this package, including for the bitfield and the
// extension handshake, both of which a naive implementation is
// tempted to read into a fixed buffer instead.
func ReadMessage(r io.Reader) (*Message, error) {
	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, errors.Wrap(err, "wire: read message length")
		}
		length := binary.BigEndian.Uint32(lenBuf[:])
		if length == 0 {
			continue // keepalive
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, errors.Wrap(err, "wire: read message body")
		}
		return &Message{Type: MessageType(body[0]), Payload: body[1:]}, nil
	}
}

// Encode serialises a message with its 4-byte big-endian length
// prefix.
func (m *Message) Encode() []byte {
	length := uint32(len(m.Payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf, length)
	buf[4] = byte(m.Type)
	copy(buf[5:], m.Payload)
	return buf
}

// KeepAlive is the zero-length keepalive message.
func KeepAlive() []byte { return []byte{0, 0, 0, 0} }

func simple(t MessageType) []byte {
	return (&Message{Type: t}).Encode()
}

// ChokeMsg, UnchokeMsg, InterestedMsg and NotInterestedMsg build the
// four payload-less control messages.
func ChokeMsg() []byte         { return simple(Choke) }
func UnchokeMsg() []byte       { return simple(Unchoke) }
func InterestedMsg() []byte    { return simple(Interested) }
func NotInterestedMsg() []byte { return simple(NotInterested) }

// HaveMsg builds a "have" message announcing piece index.
func HaveMsg(index int) []byte {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(index))
	return (&Message{Type: Have, Payload: payload}).Encode()
}

// RequestMsg builds a block request for (index, begin, length).
func RequestMsg(index, begin, length int) []byte {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:], uint32(index))
	binary.BigEndian.PutUint32(payload[4:], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:], uint32(length))
	return (&Message{Type: Request, Payload: payload}).Encode()
}

// CancelMsg builds a cancel for an outstanding request.
func CancelMsg(index, begin, length int) []byte {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:], uint32(index))
	binary.BigEndian.PutUint32(payload[4:], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:], uint32(length))
	return (&Message{Type: Cancel, Payload: payload}).Encode()
}

// ParsePiece extracts the index, begin and block from a Piece
// message's payload.
func ParsePiece(payload []byte) (index, begin int, block []byte, err error) {
	if len(payload) < 8 {
		return 0, 0, nil, errors.Errorf("wire: piece payload too short: %d bytes", len(payload))
	}
	index = int(binary.BigEndian.Uint32(payload[0:4]))
	begin = int(binary.BigEndian.Uint32(payload[4:8]))
	block = payload[8:]
	return index, begin, block, nil
}

// ParseHave extracts the piece index from a Have message's payload.
func ParseHave(payload []byte) (int, error) {
	if len(payload) != 4 {
		return 0, errors.Errorf("wire: have payload must be 4 bytes, got %d", len(payload))
	}
	return int(binary.BigEndian.Uint32(payload)), nil
}

// ExtendedMsg wraps an extension-protocol body in an Extended message,
// prepending extendedID as the payload's leading extended-message-ID
// byte.
func ExtendedMsg(extendedID uint8, body []byte) []byte {
	payload := make([]byte, 1+len(body))
	payload[0] = extendedID
	copy(payload[1:], body)
	return (&Message{Type: Extended, Payload: payload}).Encode()
}
