// Package tracker implements the HTTP tracker announce protocol: the
// query parameters, the compact peer list response, and the raw
// percent-encoding of a 20-byte info hash (which net/url would
// otherwise mangle as text).
package tracker

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/danwt/leech/internal/bencode"
)

const httpTimeout = 30 * time.Second

// Response is a tracker's reply to an announce: how long to wait
// before the next one, and the IPv4 peers it currently knows about.
type Response struct {
	Interval int
	Peers    []Peer
}

// Peer is one entry of a tracker's compact peer list (BEP 23).
type Peer struct {
	IP   net.IP
	Port uint16
}

// Addr returns the "ip:port" dial address for this peer.
func (p Peer) Addr() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(int(p.Port)))
}

// Announce queries an HTTP tracker for peers. infoHash and peerID are
// passed as raw bytes: net/url's Values.Encode would otherwise treat
// them as UTF-8 text and corrupt any byte with its high bit set, so
// the query string is built and percent-encoded by hand instead of
// through url.Values.
func Announce(ctx context.Context, announceURL string, infoHash, peerID [20]byte, port uint16, left int64) (*Response, error) {
	u, err := url.Parse(announceURL)
	if err != nil {
		return nil, errors.Wrap(err, "tracker: parse announce URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("tracker: unsupported scheme %q (only HTTP trackers are supported)", u.Scheme)
	}

	q := u.Query()
	q.Set("info_hash", rawPercentEncode(infoHash[:]))
	q.Set("peer_id", rawPercentEncode(peerID[:]))
	q.Set("port", strconv.Itoa(int(port)))
	q.Set("uploaded", "0")
	q.Set("downloaded", "0")
	q.Set("left", strconv.FormatInt(left, 10))
	q.Set("compact", "1")
	// url.Values.Encode would re-escape the already-escaped raw
	// fields above, so the query string is assembled directly rather
	// than routed back through q.Encode().
	u.RawQuery = ""
	full := u.String() + "?" + rawQueryString(q)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return nil, errors.Wrap(err, "tracker: build request")
	}
	client := &http.Client{Timeout: httpTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "tracker: announce request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("tracker: announce returned status %s", resp.Status)
	}

	v, err := bencode.Decode(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "tracker: decode response")
	}
	return parseResponse(v)
}

func parseResponse(v *bencode.Value) (*Response, error) {
	if !v.IsDict() {
		return nil, errors.New("tracker: response is not a dictionary")
	}
	if failure := v.Get("failure reason"); failure.IsString() {
		return nil, errors.Errorf("tracker: %s", failure.Str)
	}
	interval := v.Get("interval")
	if !interval.IsInteger() {
		return nil, errors.New("tracker: response missing \"interval\"")
	}
	peersVal := v.Get("peers")
	if !peersVal.IsString() {
		return nil, errors.New("tracker: response missing \"peers\"")
	}
	peers, err := parseCompactPeers(peersVal.Str)
	if err != nil {
		return nil, err
	}
	return &Response{Interval: int(interval.Int), Peers: peers}, nil
}

// parseCompactPeers decodes a BEP 23 compact peer list: 6 bytes per
// peer, 4-byte IPv4 address followed by a 2-byte big-endian port.
// IPv6 ("peers6") is out of scope for this client's data model.
func parseCompactPeers(data []byte) ([]Peer, error) {
	const peerSize = net.IPv4len + 2
	if len(data)%peerSize != 0 {
		return nil, fmt.Errorf("tracker: compact peer list length %d not a multiple of %d", len(data), peerSize)
	}
	peers := make([]Peer, 0, len(data)/peerSize)
	for i := 0; i < len(data); i += peerSize {
		ip := net.IP(append([]byte(nil), data[i:i+net.IPv4len]...))
		port := binary.BigEndian.Uint16(data[i+net.IPv4len:])
		peers = append(peers, Peer{IP: ip, Port: port})
	}
	return peers, nil
}

func rawPercentEncode(b []byte) string {
	const hex = "0123456789ABCDEF"
	out := make([]byte, 0, len(b)*3)
	for _, c := range b {
		if isUnreserved(c) {
			out = append(out, c)
			continue
		}
		out = append(out, '%', hex[c>>4], hex[c&0x0F])
	}
	return string(out)
}

func isUnreserved(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
		c == '-' || c == '_' || c == '.' || c == '~'
}

// rawQueryString assembles a query string from v without re-escaping
// values that Set has already percent-encoded by hand.
func rawQueryString(v url.Values) string {
	out := ""
	first := true
	for _, key := range []string{"info_hash", "peer_id", "port", "uploaded", "downloaded", "left", "compact"} {
		if !first {
			out += "&"
		}
		first = false
		val := v.Get(key)
		if key == "info_hash" || key == "peer_id" {
			out += key + "=" + val // already percent-encoded
		} else {
			out += key + "=" + url.QueryEscape(val)
		}
	}
	return out
}
