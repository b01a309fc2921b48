package tracker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/danwt/leech/internal/bencode"
)

func TestAnnounceParsesCompactPeers(t *testing.T) {
	var gotInfoHash, gotPeerID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotInfoHash = r.URL.Query().Get("info_hash")
		gotPeerID = r.URL.Query().Get("peer_id")

		peers := []byte{127, 0, 0, 1, 0x1A, 0xE1, 10, 0, 0, 2, 0x1A, 0xE2}
		body := bencode.Dict(
			bencode.KV{Key: []byte("interval"), Value: bencode.Integer(1800)},
			bencode.KV{Key: []byte("peers"), Value: bencode.String(peers)},
		)
		w.Write(bencode.EncodeBytes(body))
	}))
	defer srv.Close()

	var infoHash, peerID [20]byte
	for i := range infoHash {
		infoHash[i] = byte(i)
	}
	for i := range peerID {
		peerID[i] = byte(i + 100)
	}

	resp, err := Announce(context.Background(), srv.URL, infoHash, peerID, 6881, 1024)
	require.NoError(t, err)
	require.Equal(t, 1800, resp.Interval)
	require.Len(t, resp.Peers, 2)
	require.Equal(t, "127.0.0.1:6881", resp.Peers[0].Addr())
	require.Equal(t, "10.0.0.2:6882", resp.Peers[1].Addr())

	// the server-observed query params must round-trip back to the
	// raw 20 bytes once percent-decoded by net/url itself.
	decodedHash, err := url.QueryUnescape(gotInfoHash)
	require.NoError(t, err)
	require.Equal(t, string(infoHash[:]), decodedHash)
	decodedPeerID, err := url.QueryUnescape(gotPeerID)
	require.NoError(t, err)
	require.Equal(t, string(peerID[:]), decodedPeerID)
}

func TestAnnounceSurfacesFailureReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := bencode.Dict(
			bencode.KV{Key: []byte("failure reason"), Value: bencode.Text("rate limited")},
		)
		w.Write(bencode.EncodeBytes(body))
	}))
	defer srv.Close()

	_, err := Announce(context.Background(), srv.URL, [20]byte{}, [20]byte{}, 6881, 0)
	require.Error(t, err)
}

func TestParseCompactPeersRejectsShortList(t *testing.T) {
	_, err := parseCompactPeers([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestRawPercentEncode(t *testing.T) {
	raw := []byte{0x00, 0x01, 0xFF, 'a', 'b', '-', '_'}
	require.Equal(t, "%00%01%FFab-_", rawPercentEncode(raw))
}
