package download

import (
	"bytes"
	"crypto/sha1"
	"time"

	"github.com/pkg/errors"

	"github.com/danwt/leech/internal/peer"
	"github.com/danwt/leech/internal/wire"
)

// blockSize is the maximum length requested in a single block
// request; also the size of a ut_metadata piece (BEP 9).
const blockSize = 16 * 1024

// pipelineWindow is how many outstanding block requests this client
// keeps in flight against one peer at a time.
const pipelineWindow = 5

const blockReadTimeout = 20 * time.Second

// Piece is one piece's scheduling metadata: its index, expected SHA-1
// hash, and byte length (the last piece of a torrent is usually
// shorter than PieceLength).
type Piece struct {
	Index  int
	Hash   [20]byte
	Length int
}

// blockRequest is one outstanding (begin, length) request against a
// piece, tracked explicitly so a Choke can put it back on the pending
// queue instead of leaving it dangling.
type blockRequest struct {
	begin  int
	length int
}

// downloadPieceBlocks pipelines block requests for one piece against a
// single ready session and returns the assembled, not-yet-verified
// piece bytes. A Choke received while requests are outstanding
// invalidates them per spec.md §4.5: the peer is free to drop blocks
// it was asked for while choked, so every outstanding request is
// moved back to pending and reissued once the peer unchokes again,
// rather than left counted against the in-flight window forever.
func downloadPieceBlocks(s *peer.Session, index, length int) ([]byte, error) {
	buf := make([]byte, length)
	received := make(map[int]bool)
	downloaded := 0

	var pending []blockRequest
	for begin := 0; begin < length; begin += blockSize {
		reqLen := blockSize
		if begin+reqLen > length {
			reqLen = length - begin
		}
		pending = append(pending, blockRequest{begin: begin, length: reqLen})
	}
	outstanding := make(map[int]blockRequest)

	for downloaded < length {
		for !s.PeerChoking() && len(outstanding) < pipelineWindow && len(pending) > 0 {
			req := pending[0]
			pending = pending[1:]
			if err := s.SendRequest(index, req.begin, req.length); err != nil {
				return nil, err
			}
			outstanding[req.begin] = req
		}

		msg, err := s.ReadMessage(blockReadTimeout)
		if err != nil {
			return nil, err
		}

		switch msg.Type {
		case wire.Choke:
			for _, req := range outstanding {
				pending = append(pending, req)
			}
			outstanding = make(map[int]blockRequest)
		case wire.Piece:
			gotIndex, begin, block, err := wire.ParsePiece(msg.Payload)
			if err != nil {
				return nil, err
			}
			if gotIndex != index {
				continue
			}
			if begin+len(block) > length {
				return nil, errors.Errorf("download: block out of bounds: begin %d len %d piece length %d", begin, len(block), length)
			}
			if _, ok := outstanding[begin]; !ok {
				continue
			}
			delete(outstanding, begin)
			if !received[begin] {
				received[begin] = true
				downloaded += copy(buf[begin:], block)
			}
		}
	}
	return buf, nil
}

// DownloadPiece downloads and verifies one piece from a ready, already
// negotiated session. It returns an error if the hash does not match,
// leaving it to the caller to decide whether to retry on another peer.
func DownloadPiece(s *peer.Session, p Piece) ([]byte, error) {
	buf, err := downloadPieceBlocks(s, p.Index, p.Length)
	if err != nil {
		return nil, err
	}
	got := sha1.Sum(buf)
	if !bytes.Equal(got[:], p.Hash[:]) {
		return nil, errors.Errorf("download: piece %d failed hash check", p.Index)
	}
	return buf, nil
}

// DownloadMetadataPiece downloads one ut_metadata piece (BEP 9): a
// single block request/response, no pipelining needed since each
// message already carries up to blockSize bytes. The piece itself is
// not hash-checked; AssembleMetadata verifies the concatenated whole.
func DownloadMetadataPiece(s *peer.Session, index int) ([]byte, error) {
	if err := s.SendMetadataRequest(index); err != nil {
		return nil, err
	}
	for {
		msg, err := s.ReadMessage(blockReadTimeout)
		if err != nil {
			return nil, err
		}
		if msg.Type != wire.Extended {
			continue
		}
		if len(msg.Payload) < 1 {
			continue
		}
		meta, err := wire.ParseMetadataMessage(msg.Payload[1:])
		if err != nil {
			return nil, err
		}
		if meta.MsgType == wire.MetadataReject {
			return nil, errors.Errorf("download: peer rejected metadata piece %d", index)
		}
		if meta.Piece != index {
			continue
		}
		return meta.Data, nil
	}
}
