// Package peer implements the per-connection state machine that takes
// a TCP socket from dial through handshake and extension negotiation
// to a steady state where pieces or metadata blocks can be requested.
package peer

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/danwt/leech/internal/wire"
)

// State names a session's position in its handshake/negotiation
// lifecycle. Sessions only move forward; a protocol violation at any
// point moves straight to Closed.
type State int

const (
	StateInit State = iota
	StateHandshook
	StateBitfieldKnown
	StateExtReady
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateHandshook:
		return "handshook"
	case StateBitfieldKnown:
		return "bitfield-known"
	case StateExtReady:
		return "ext-ready"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const dialTimeout = 5 * time.Second
const negotiateTimeout = 15 * time.Second

// Session is a live connection to one peer.
type Session struct {
	Address string
	PeerID  [20]byte

	conn  net.Conn
	log   *logrus.Entry
	state State

	bitfield       Bitfield
	peerChoking    bool // true until the peer unchokes us
	extensions     map[string]uint8
	metadataSize   int
	haveMetaSize   bool
}

// Dial opens a TCP connection to address, exchanges the base
// handshake, and — if the peer advertises BEP 10 extended messaging —
// sends our own extension handshake. It returns once the handshake
// phase is complete; call Negotiate to process the bitfield/extension
// burst that normally follows.
func Dial(ctx context.Context, address string, infoHash, clientID [20]byte, log *logrus.Entry) (*Session, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "peer: dial %s", address)
	}

	s := &Session{
		Address:     address,
		conn:        conn,
		log:         log.WithField("peer", address),
		state:       StateInit,
		peerChoking: true,
	}

	if _, err := conn.Write(wire.BuildHandshake(infoHash, clientID)); err != nil {
		s.Close()
		return nil, errors.Wrap(err, "peer: write handshake")
	}
	conn.SetReadDeadline(time.Now().Add(dialTimeout))
	hs, err := wire.ReadHandshake(conn)
	if err != nil {
		s.Close()
		return nil, errors.Wrap(err, "peer: read handshake")
	}
	if hs.InfoHash != infoHash {
		s.Close()
		return nil, errors.Errorf("peer: info hash mismatch from %s", address)
	}
	conn.SetReadDeadline(time.Time{})
	s.PeerID = hs.PeerID
	s.state = StateHandshook

	if hs.SupportsExtended {
		if _, err := conn.Write(wire.ExtendedMsg(0, wire.BuildExtensionHandshake(utMetadataLocalID, 0))); err != nil {
			s.Close()
			return nil, errors.Wrap(err, "peer: write extension handshake")
		}
	}

	return s, nil
}

// utMetadataLocalID is the extended-message ID this client assigns to
// ut_metadata in its own "m" table. Peers echo it back as the ID to
// use when sending us ut_metadata messages.
const utMetadataLocalID uint8 = 1

// Negotiate drains the initial burst of bitfield/extended-handshake/
// have messages a peer typically sends right after the handshake,
// applying each to session state, and returns once the first choke or
// unchoke message arrives — the signal that steady-state messaging has
// begun and the session is Ready. It gives up after negotiateTimeout.
func (s *Session) Negotiate(numPieces int) error {
	if numPieces > 0 && s.bitfield == nil {
		s.bitfield = NewBitfield(numPieces)
	}
	s.conn.SetReadDeadline(time.Now().Add(negotiateTimeout))
	defer s.conn.SetReadDeadline(time.Time{})

	for {
		msg, err := wire.ReadMessage(s.conn)
		if err != nil {
			s.state = StateClosed
			return errors.Wrap(err, "peer: negotiate")
		}
		switch msg.Type {
		case wire.Bitfield:
			s.bitfield = Bitfield(append([]byte(nil), msg.Payload...))
			if s.state < StateBitfieldKnown {
				s.state = StateBitfieldKnown
			}
		case wire.Have:
			index, err := wire.ParseHave(msg.Payload)
			if err != nil {
				s.state = StateClosed
				return errors.Wrap(err, "peer: negotiate")
			}
			if s.bitfield == nil && numPieces > 0 {
				s.bitfield = NewBitfield(numPieces)
			}
			s.bitfield.Set(index)
		case wire.Extended:
			if err := s.handleExtended(msg.Payload); err != nil {
				s.state = StateClosed
				return err
			}
		case wire.Choke:
			s.peerChoking = true
			s.state = StateReady
			return nil
		case wire.Unchoke:
			s.peerChoking = false
			s.state = StateReady
			return nil
		default:
			// Anything else arriving this early is treated as already
			// being in steady state.
			s.state = StateReady
			return nil
		}
	}
}

func (s *Session) handleExtended(payload []byte) error {
	if len(payload) < 1 {
		return errors.New("peer: empty extended message")
	}
	extID := payload[0]
	body := payload[1:]
	if extID == 0 {
		h, err := wire.ParseExtensionHandshake(body)
		if err != nil {
			return errors.Wrap(err, "peer: parse extension handshake")
		}
		s.extensions = h.M
		if h.HaveMetaSize {
			s.metadataSize = h.MetadataSize
			s.haveMetaSize = true
		}
		s.state = StateExtReady
		return nil
	}
	// A non-handshake extended message arriving during negotiation
	// (e.g. an early ut_metadata data message) is discarded: nothing
	// is stashed, and it is not delivered to later reads.
	return nil
}

// PeerChoking reports whether the peer is currently choking us.
func (s *Session) PeerChoking() bool { return s.peerChoking }

// State reports the session's current lifecycle state.
func (s *Session) State() State { return s.state }

// HasPiece reports whether the peer's announced bitfield has index
// set. It is always false before a bitfield or any Have is received.
func (s *Session) HasPiece(index int) bool {
	return s.bitfield != nil && s.bitfield.Has(index)
}

// SupportsUtMetadata reports whether the peer negotiated ut_metadata
// support during the extension handshake, and its remote ID if so.
func (s *Session) SupportsUtMetadata() (uint8, bool) {
	if s.extensions == nil {
		return 0, false
	}
	id, ok := s.extensions[wire.UtMetadataName]
	return id, ok
}

// MetadataSize returns the size of the info dictionary the peer
// reported in its extension handshake, and whether it reported one at
// all (a peer that already has the info dict but is not the one that
// seeded the magnet may omit it).
func (s *Session) MetadataSize() (int, bool) { return s.metadataSize, s.haveMetaSize }

// SendInterested tells the peer we want to download from it.
func (s *Session) SendInterested() error {
	_, err := s.conn.Write(wire.InterestedMsg())
	return errors.Wrap(err, "peer: send interested")
}

// SendUnchoke tells the peer we will not choke it (this client never
// seeds, but a well-behaved peer implementation unchokes regardless of
// role expectations, matching the teacher's own startConn sequence).
func (s *Session) SendUnchoke() error {
	_, err := s.conn.Write(wire.UnchokeMsg())
	return errors.Wrap(err, "peer: send unchoke")
}

// SendRequest asks the peer for a block.
func (s *Session) SendRequest(index, begin, length int) error {
	_, err := s.conn.Write(wire.RequestMsg(index, begin, length))
	return errors.Wrap(err, "peer: send request")
}

// SendHave announces a newly verified piece.
func (s *Session) SendHave(index int) error {
	_, err := s.conn.Write(wire.HaveMsg(index))
	return errors.Wrap(err, "peer: send have")
}

// SendMetadataRequest asks the peer for one ut_metadata piece.
func (s *Session) SendMetadataRequest(piece int) error {
	id, ok := s.SupportsUtMetadata()
	if !ok {
		return errors.New("peer: peer does not support ut_metadata")
	}
	body := wire.BuildMetadataRequest(piece)
	_, err := s.conn.Write(wire.ExtendedMsg(id, body))
	return errors.Wrap(err, "peer: send metadata request")
}

// ReadMessage reads one steady-state message from the connection with
// a per-read deadline, applying choke/unchoke/have bookkeeping and
// passing everything else through to the caller.
func (s *Session) ReadMessage(deadline time.Duration) (*wire.Message, error) {
	if deadline > 0 {
		s.conn.SetReadDeadline(time.Now().Add(deadline))
		defer s.conn.SetReadDeadline(time.Time{})
	}
	msg, err := wire.ReadMessage(s.conn)
	if err != nil {
		s.state = StateClosed
		return nil, err
	}
	switch msg.Type {
	case wire.Choke:
		s.peerChoking = true
	case wire.Unchoke:
		s.peerChoking = false
	case wire.Have:
		if index, err := wire.ParseHave(msg.Payload); err == nil {
			s.bitfield.Set(index)
		}
	}
	return msg, nil
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	s.state = StateClosed
	return s.conn.Close()
}
