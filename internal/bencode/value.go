// Package bencode implements the bencode serialization format used by
// torrent files, tracker responses, and the ut_metadata extension.
//
// Unlike a JSON-shaped intermediate, Value keeps byte strings as raw
// octets throughout: nothing about a dictionary value named "pieces" or
// "peers" is special-cased, because nothing ever routes binary content
// through text. That is what lets Encode(Decode(b)) reproduce b exactly,
// which the info-hash computation depends on.
package bencode

import "fmt"

// Kind identifies which of the four bencode shapes a Value holds.
type Kind int

const (
	KindInteger Kind = iota
	KindString
	KindList
	KindDict
)

// KV is one key/value pair of a dictionary, kept in the order it was
// parsed (or inserted). Encode sorts the pairs by key on emit, so the
// encoded output reproduces the source order only when the source was
// already canonical.
type KV struct {
	Key   []byte
	Value *Value
}

// Value is a tagged bencode value. Only the field matching Kind is
// meaningful; the zero Value is the integer 0.
type Value struct {
	Kind Kind

	Int  int64
	Str  []byte
	List []*Value
	Dict []KV
}

// Integer constructs an integer Value.
func Integer(n int64) *Value { return &Value{Kind: KindInteger, Int: n} }

// String constructs a byte-string Value. The slice is stored as-is, not
// copied; callers that mutate it afterwards will corrupt the Value.
func String(s []byte) *Value { return &Value{Kind: KindString, Str: s} }

// Text is a convenience for String([]byte(s)).
func Text(s string) *Value { return String([]byte(s)) }

// List constructs a list Value.
func List(items ...*Value) *Value { return &Value{Kind: KindList, List: items} }

// Dict constructs a dictionary Value from key/value pairs in the given
// order. It does not sort them; Encode sorts on emit regardless of the
// order passed here.
func Dict(pairs ...KV) *Value { return &Value{Kind: KindDict, Dict: pairs} }

// IsInteger, IsString, IsList and IsDict report the Value's Kind.
func (v *Value) IsInteger() bool { return v != nil && v.Kind == KindInteger }
func (v *Value) IsString() bool  { return v != nil && v.Kind == KindString }
func (v *Value) IsList() bool    { return v != nil && v.Kind == KindList }
func (v *Value) IsDict() bool    { return v != nil && v.Kind == KindDict }

// Get looks up a key in a dictionary Value. Returns nil if v is not a
// dictionary or the key is absent.
func (v *Value) Get(key string) *Value {
	if v == nil || v.Kind != KindDict {
		return nil
	}
	for _, kv := range v.Dict {
		if string(kv.Key) == key {
			return kv.Value
		}
	}
	return nil
}

// Set inserts or replaces a key in a dictionary Value, preserving the
// position of an existing key and appending new ones at the end.
// Encode is responsible for sorting; Set does not.
func (v *Value) Set(key string, val *Value) {
	for i, kv := range v.Dict {
		if string(kv.Key) == key {
			v.Dict[i].Value = val
			return
		}
	}
	v.Dict = append(v.Dict, KV{Key: []byte(key), Value: val})
}

// GoString gives a terse debug representation, handy in test failures.
func (v *Value) GoString() string {
	if v == nil {
		return "<nil>"
	}
	switch v.Kind {
	case KindInteger:
		return fmt.Sprintf("Int(%d)", v.Int)
	case KindString:
		return fmt.Sprintf("Str(%q)", v.Str)
	case KindList:
		return fmt.Sprintf("List(%d items)", len(v.List))
	case KindDict:
		return fmt.Sprintf("Dict(%d keys)", len(v.Dict))
	default:
		return "<invalid>"
	}
}
