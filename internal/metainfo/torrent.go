// Package metainfo parses torrent files and magnet URIs into the
// in-memory metadata a download needs: the announce URL, the
// info-hash, and the per-piece SHA-1 hashes.
//
// Only single-file torrents are supported; see SPEC_FULL.md §3.
package metainfo

import (
	"crypto/sha1"
	"fmt"

	"github.com/pkg/errors"

	"github.com/danwt/leech/internal/bencode"
)

const pieceHashLen = 20

// Info is the parsed "info" dictionary of a torrent: the single file's
// name and length, the piece length, and the per-piece SHA-1 hashes.
type Info struct {
	Name        string
	Length      int64
	PieceLength int64
	Pieces      [][pieceHashLen]byte
}

// Torrent is a fully parsed .torrent file: one or more announce URLs
// plus the info dictionary and its hash.
type Torrent struct {
	Announce []string
	InfoHash [20]byte
	Info     Info
}

// NumPieces reports how many pieces the file is split into.
func (i Info) NumPieces() int { return len(i.Pieces) }

// PieceLen returns the length in bytes of the piece at index, which is
// PieceLength for every piece except possibly the last.
func (i Info) PieceLen(index int) int64 {
	if index < 0 || index >= len(i.Pieces) {
		return 0
	}
	if index == len(i.Pieces)-1 {
		last := i.Length - i.PieceLength*int64(index)
		if last > 0 {
			return last
		}
	}
	return i.PieceLength
}

// ParseTorrentFile decodes the bencoded bytes of a .torrent file.
func ParseTorrentFile(raw []byte) (*Torrent, error) {
	v, err := bencode.DecodeBytes(raw)
	if err != nil {
		return nil, errors.Wrap(err, "metainfo: decode torrent file")
	}
	if !v.IsDict() {
		return nil, errors.New("metainfo: torrent file is not a dictionary")
	}

	announceList, err := announceURLs(v)
	if err != nil {
		return nil, err
	}

	infoVal := v.Get("info")
	if !infoVal.IsDict() {
		return nil, errors.New("metainfo: torrent file missing \"info\" dictionary")
	}

	info, err := parseInfo(infoVal)
	if err != nil {
		return nil, errors.Wrap(err, "metainfo: parse info dictionary")
	}

	hash := infoHash(infoVal)

	return &Torrent{
		Announce: announceList,
		InfoHash: hash,
		Info:     *info,
	}, nil
}

// ParseInfoBytes parses a bare, bencoded "info" dictionary — the form
// a magnet bootstrap assembles from concatenated ut_metadata pieces,
// as opposed to the full .torrent file ParseTorrentFile expects.
func ParseInfoBytes(raw []byte) (*Info, error) {
	v, err := bencode.DecodeBytes(raw)
	if err != nil {
		return nil, errors.Wrap(err, "metainfo: decode info dictionary")
	}
	if !v.IsDict() {
		return nil, errors.New("metainfo: info dictionary is not a dictionary")
	}
	return parseInfo(v)
}

// infoHash re-encodes the "info" value canonically and takes its
// SHA-1. Because Value round-trips raw byte-strings exactly, the
// re-encoded bytes equal the source bytes whenever the source info
// dictionary was canonically encoded, so the hash matches the one
// computed over the original file. A source dictionary with keys out
// of canonical order is hashed in its sorted re-encoding, not in its
// original byte order.
func infoHash(info *bencode.Value) [20]byte {
	return sha1.Sum(bencode.EncodeBytes(info))
}

func announceURLs(v *bencode.Value) ([]string, error) {
	var list []string
	if al := v.Get("announce-list"); al.IsList() {
		for _, tier := range al.List {
			if !tier.IsList() {
				continue
			}
			for _, u := range tier.List {
				if u.IsString() && len(u.Str) > 0 {
					list = append(list, string(u.Str))
				}
			}
		}
	}
	if len(list) > 0 {
		return list, nil
	}
	announce := v.Get("announce")
	if !announce.IsString() || len(announce.Str) == 0 {
		return nil, errors.New("metainfo: torrent file missing \"announce\"")
	}
	return []string{string(announce.Str)}, nil
}

func parseInfo(v *bencode.Value) (*Info, error) {
	name := v.Get("name")
	if !name.IsString() || len(name.Str) == 0 {
		return nil, errors.New("missing \"name\"")
	}

	pieceLength := v.Get("piece length")
	if !pieceLength.IsInteger() || pieceLength.Int <= 0 {
		return nil, errors.New("missing or non-positive \"piece length\"")
	}

	length := v.Get("length")
	if !length.IsInteger() || length.Int < 0 {
		return nil, errors.New("missing \"length\" (multi-file torrents are not supported)")
	}

	pieces := v.Get("pieces")
	if !pieces.IsString() {
		return nil, errors.New("missing \"pieces\"")
	}
	hashes, err := splitPieceHashes(pieces.Str)
	if err != nil {
		return nil, err
	}

	return &Info{
		Name:        string(name.Str),
		Length:      length.Int,
		PieceLength: pieceLength.Int,
		Pieces:      hashes,
	}, nil
}

func splitPieceHashes(pieces []byte) ([][pieceHashLen]byte, error) {
	if len(pieces)%pieceHashLen != 0 {
		return nil, fmt.Errorf("\"pieces\" length %d is not a multiple of %d", len(pieces), pieceHashLen)
	}
	hashes := make([][pieceHashLen]byte, len(pieces)/pieceHashLen)
	for i := range hashes {
		copy(hashes[i][:], pieces[i*pieceHashLen:(i+1)*pieceHashLen])
	}
	return hashes, nil
}
