package metainfo

import (
	"bytes"
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/danwt/leech/internal/bencode"
)

func buildTorrentBytes(t *testing.T, pieces []byte) []byte {
	t.Helper()
	info := bencode.Dict(
		bencode.KV{Key: []byte("length"), Value: bencode.Integer(1024)},
		bencode.KV{Key: []byte("name"), Value: bencode.Text("file.bin")},
		bencode.KV{Key: []byte("piece length"), Value: bencode.Integer(512)},
		bencode.KV{Key: []byte("pieces"), Value: bencode.String(pieces)},
	)
	root := bencode.Dict(
		bencode.KV{Key: []byte("announce"), Value: bencode.Text("http://tracker.example/announce")},
		bencode.KV{Key: []byte("info"), Value: info},
	)
	return bencode.EncodeBytes(root)
}

func TestParseTorrentFile(t *testing.T) {
	pieces := bytes.Repeat([]byte{0xAB}, 20*2)
	raw := buildTorrentBytes(t, pieces)

	tf, err := ParseTorrentFile(raw)
	require.NoError(t, err)
	require.Equal(t, "file.bin", tf.Info.Name)
	require.EqualValues(t, 1024, tf.Info.Length)
	require.EqualValues(t, 512, tf.Info.PieceLength)
	require.Equal(t, 2, tf.Info.NumPieces())
	require.Equal(t, []string{"http://tracker.example/announce"}, tf.Announce)

	// info-hash must equal SHA-1 over the re-encoded info dict
	infoVal, err := bencode.DecodeBytes(raw)
	require.NoError(t, err)
	wantHash := sha1.Sum(bencode.EncodeBytes(infoVal.Get("info")))
	require.Equal(t, wantHash, tf.InfoHash)
}

func TestParseTorrentFileRejectsBadPiecesLength(t *testing.T) {
	raw := buildTorrentBytes(t, bytes.Repeat([]byte{0xAB}, 19))
	_, err := ParseTorrentFile(raw)
	require.Error(t, err)
}

func TestPieceLenLastPieceShorter(t *testing.T) {
	info := Info{Length: 1000, PieceLength: 512, Pieces: make([][20]byte, 2)}
	require.EqualValues(t, 512, info.PieceLen(0))
	require.EqualValues(t, 488, info.PieceLen(1))
}

func TestParseMagnet(t *testing.T) {
	m, err := ParseMagnet("magnet:?xt=urn:btih:aa00000000000000000000000000000000000000&dn=hello&tr=http%3A%2F%2Ftracker.example%2Fannounce")
	require.NoError(t, err)
	require.Equal(t, "aa00000000000000000000000000000000000000", m.InfoHashHex())
	require.Equal(t, "hello", m.Name)
	require.Equal(t, []string{"http://tracker.example/announce"}, m.Trackers)
}

func TestParseMagnetRejectsShortHash(t *testing.T) {
	_, err := ParseMagnet("magnet:?xt=urn:btih:deadbeef")
	require.Error(t, err)
}

func TestParseMagnetRejectsNonMagnet(t *testing.T) {
	_, err := ParseMagnet("http://example.com")
	require.Error(t, err)
}

func TestParseInfoBytesMatchesTorrentFileInfo(t *testing.T) {
	pieces := bytes.Repeat([]byte{0xCD}, 20*3)
	raw := buildTorrentBytes(t, pieces)
	tf, err := ParseTorrentFile(raw)
	require.NoError(t, err)

	infoVal, err := bencode.DecodeBytes(raw)
	require.NoError(t, err)
	infoBytes := bencode.EncodeBytes(infoVal.Get("info"))

	info, err := ParseInfoBytes(infoBytes)
	require.NoError(t, err)
	require.Equal(t, tf.Info, *info)
}

func TestParseInfoBytesRejectsNonDict(t *testing.T) {
	_, err := ParseInfoBytes(bencode.EncodeBytes(bencode.Integer(1)))
	require.Error(t, err)
}
