package download

import (
	"bytes"
	"crypto/sha1"

	"github.com/pkg/errors"

	"github.com/danwt/leech/internal/metainfo"
	"github.com/danwt/leech/internal/peer"
)

// AssembleMetadata bootstraps an Info from a magnet link: it fetches
// every ut_metadata piece from a session that has already negotiated
// ut_metadata support and reported a metadata size, concatenates them,
// verifies the result hashes to infoHash, and parses it. This is the
// capability BEP 9 exists for — turning a magnet's bare info-hash into
// the full piece metadata a download needs before it can begin.
func AssembleMetadata(s *peer.Session, infoHash [20]byte) (*metainfo.Info, error) {
	size, ok := s.MetadataSize()
	if !ok {
		return nil, errors.New("download: peer did not report a metadata size")
	}
	if size <= 0 {
		return nil, errors.Errorf("download: invalid metadata size %d", size)
	}
	numPieces := (size + blockSize - 1) / blockSize

	data := make([]byte, 0, size)
	for i := 0; i < numPieces; i++ {
		piece, err := DownloadMetadataPiece(s, i)
		if err != nil {
			return nil, errors.Wrapf(err, "download: metadata piece %d", i)
		}
		data = append(data, piece...)
	}
	if len(data) != size {
		return nil, errors.Errorf("download: assembled metadata length %d, want %d", len(data), size)
	}

	got := sha1.Sum(data)
	if !bytes.Equal(got[:], infoHash[:]) {
		return nil, errors.New("download: assembled metadata fails info-hash check")
	}

	info, err := metainfo.ParseInfoBytes(data)
	if err != nil {
		return nil, errors.Wrap(err, "download: parse assembled metadata")
	}
	return info, nil
}
