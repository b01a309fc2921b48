package metainfo

import (
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// Magnet is a parsed magnet URI (BEP 9): an info-hash plus whatever
// optional hints the link carries. Only the hex-encoded 40-character
// "xt=urn:btih:" form is supported; base32 is not part of this data
// model (see SPEC_FULL.md §4.2).
type Magnet struct {
	InfoHash []byte // 20 bytes
	Name     string
	Trackers []string
}

// ParseMagnet parses a "magnet:?..." URI.
func ParseMagnet(raw string) (*Magnet, error) {
	if !strings.HasPrefix(raw, "magnet:?") {
		return nil, errors.New("metainfo: not a magnet URI")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "metainfo: parse magnet URI")
	}
	query := u.Query()

	xts := query["xt"]
	if len(xts) == 0 {
		return nil, errors.New("metainfo: magnet URI missing \"xt\" parameter")
	}
	const prefix = "urn:btih:"
	xt := xts[0]
	if !strings.HasPrefix(xt, prefix) {
		return nil, errors.Errorf("metainfo: unsupported xt format %q", xt)
	}
	hexHash := strings.TrimPrefix(xt, prefix)
	if len(hexHash) != 40 {
		return nil, errors.Errorf("metainfo: info hash must be 40 hex characters, got %d", len(hexHash))
	}
	infoHash, err := hex.DecodeString(hexHash)
	if err != nil {
		return nil, errors.Wrap(err, "metainfo: invalid hex info hash")
	}

	name := ""
	if dn := query["dn"]; len(dn) > 0 {
		name = dn[0]
	}

	return &Magnet{
		InfoHash: infoHash,
		Name:     name,
		Trackers: query["tr"],
	}, nil
}

// InfoHashHex returns the info hash as a lowercase hex string.
func (m *Magnet) InfoHashHex() string {
	return hex.EncodeToString(m.InfoHash)
}
