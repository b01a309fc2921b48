package wire

import (
	"github.com/pkg/errors"

	"github.com/danwt/leech/internal/bencode"
)

// Extension metadata-message sub-types (BEP 9).
const (
	MetadataRequest uint8 = iota
	MetadataData
	MetadataReject
)

// UtMetadataName is the key under the extension handshake's "m"
// dictionary that negotiates ut_metadata support.
const UtMetadataName = "ut_metadata"

// ExtensionHandshake is the decoded payload of the BEP 10 extended
// handshake: the peer's extension-name-to-local-ID table and,
// optionally, the size of the full metadata info dictionary.
type ExtensionHandshake struct {
	M            map[string]uint8
	MetadataSize int
	HaveMetaSize bool
}

// BuildExtensionHandshake encodes the extended handshake this client
// sends: it always advertises ut_metadata, and includes metadata_size
// only when metadataSize > 0 (a peer bootstrapping from a magnet link
// does not know it yet).
func BuildExtensionHandshake(utMetadataID uint8, metadataSize int) []byte {
	m := bencode.Dict(bencode.KV{Key: []byte(UtMetadataName), Value: bencode.Integer(int64(utMetadataID))})
	pairs := []bencode.KV{{Key: []byte("m"), Value: m}}
	if metadataSize > 0 {
		pairs = append(pairs, bencode.KV{Key: []byte("metadata_size"), Value: bencode.Integer(int64(metadataSize))})
	}
	dict := bencode.Dict(pairs...)
	return bencode.EncodeBytes(dict)
}

// ParseExtensionHandshake decodes the bencoded dictionary carried by
// an extended handshake message (Message.Payload with its leading
// extended-message-ID byte of 0 already stripped by the caller).
func ParseExtensionHandshake(payload []byte) (*ExtensionHandshake, error) {
	v, err := bencode.DecodeBytes(payload)
	if err != nil {
		return nil, errors.Wrap(err, "wire: decode extension handshake")
	}
	if !v.IsDict() {
		return nil, errors.New("wire: extension handshake is not a dictionary")
	}
	mv := v.Get("m")
	if !mv.IsDict() {
		return nil, errors.New("wire: extension handshake missing \"m\"")
	}
	m := make(map[string]uint8, len(mv.Dict))
	for _, kv := range mv.Dict {
		if !kv.Value.IsInteger() {
			continue
		}
		m[string(kv.Key)] = uint8(kv.Value.Int)
	}

	h := &ExtensionHandshake{M: m}
	if sz := v.Get("metadata_size"); sz.IsInteger() {
		h.MetadataSize = int(sz.Int)
		h.HaveMetaSize = true
	}
	return h, nil
}

// BuildMetadataRequest encodes a ut_metadata "request" message body
// (without the extended-message-ID prefix byte; the caller wraps it
// with ExtendedMsg).
func BuildMetadataRequest(piece int) []byte {
	dict := bencode.Dict(
		bencode.KV{Key: []byte("msg_type"), Value: bencode.Integer(int64(MetadataRequest))},
		bencode.KV{Key: []byte("piece"), Value: bencode.Integer(int64(piece))},
	)
	return bencode.EncodeBytes(dict)
}

// MetadataMessage is a decoded ut_metadata data/reject message: the
// bencoded dict prefix parsed out, and — for a "data" message — the
// raw metadata-piece bytes that follow it in the same frame.
type MetadataMessage struct {
	MsgType uint8
	Piece   int
	// TotalSize is present on "data" messages per BEP 9.
	TotalSize int
	Data      []byte
}

// ParseMetadataMessage decodes a ut_metadata message body: a bencoded
// dictionary immediately followed — with no separator — by the raw
// metadata-piece bytes when MsgType is "data". DecodeBytesPrefix
// reports how many bytes the dictionary itself consumed, so whatever
// trails it in the buffer is exactly the data payload; this framing (dict, then raw
// tail, in the same message) is the detail a fixed-size-buffer read
// would get wrong.
func ParseMetadataMessage(body []byte) (*MetadataMessage, error) {
	v, consumed, err := bencode.DecodeBytesPrefix(body)
	if err != nil {
		return nil, errors.Wrap(err, "wire: decode metadata message")
	}
	if !v.IsDict() {
		return nil, errors.New("wire: metadata message is not a dictionary")
	}
	msgType := v.Get("msg_type")
	if !msgType.IsInteger() {
		return nil, errors.New("wire: metadata message missing \"msg_type\"")
	}
	m := &MetadataMessage{MsgType: uint8(msgType.Int)}
	if p := v.Get("piece"); p.IsInteger() {
		m.Piece = int(p.Int)
	}
	if m.MsgType == MetadataReject {
		return m, nil
	}
	if ts := v.Get("total_size"); ts.IsInteger() {
		m.TotalSize = int(ts.Int)
	}
	m.Data = body[consumed:]
	return m, nil
}
