package bencode

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// Encode writes the canonical bencoding of v to w: dictionary keys
// sorted by raw byte value, integers in minimal decimal form, byte
// strings with an exact length prefix. Encode(Decode(b)) reproduces b
// whenever b was already canonical, which is what the info-hash
// computation in internal/metainfo relies on.
func Encode(w io.Writer, v *Value) error {
	bw, ok := w.(interface {
		io.Writer
		WriteByte(byte) error
		WriteString(string) (int, error)
	})
	if !ok {
		buf := &bytes.Buffer{}
		if err := encodeTo(buf, v); err != nil {
			return err
		}
		_, err := w.Write(buf.Bytes())
		return err
	}
	return encodeTo(bw, v)
}

// EncodeBytes returns the canonical bencoding of v.
func EncodeBytes(v *Value) []byte {
	buf := &bytes.Buffer{}
	// encodeTo on a *bytes.Buffer never errors: every write path below
	// only returns an error for a malformed Value, and Buffer.Write
	// itself cannot fail.
	if err := encodeTo(buf, v); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

type byteWriter interface {
	io.Writer
	WriteByte(byte) error
	WriteString(string) (int, error)
}

func encodeTo(w byteWriter, v *Value) error {
	if v == nil {
		return fmt.Errorf("bencode: cannot encode nil value")
	}
	switch v.Kind {
	case KindInteger:
		return encodeInteger(w, v.Int)
	case KindString:
		return encodeString(w, v.Str)
	case KindList:
		return encodeList(w, v.List)
	case KindDict:
		return encodeDict(w, v.Dict)
	default:
		return fmt.Errorf("bencode: unknown value kind %d", v.Kind)
	}
}

func encodeInteger(w byteWriter, n int64) error {
	if err := w.WriteByte('i'); err != nil {
		return err
	}
	if _, err := w.WriteString(strconv.FormatInt(n, 10)); err != nil {
		return err
	}
	return w.WriteByte('e')
}

func encodeString(w byteWriter, s []byte) error {
	if _, err := w.WriteString(strconv.Itoa(len(s))); err != nil {
		return err
	}
	if err := w.WriteByte(':'); err != nil {
		return err
	}
	_, err := w.Write(s)
	return err
}

func encodeList(w byteWriter, items []*Value) error {
	if err := w.WriteByte('l'); err != nil {
		return err
	}
	for _, item := range items {
		if err := encodeTo(w, item); err != nil {
			return err
		}
	}
	return w.WriteByte('e')
}

// encodeDict always emits keys in ascending byte order, regardless of
// the order they were parsed or inserted in. Duplicate keys in the
// source Dict slice (Decode keeps every pair it reads, so duplicated
// input keys stay duplicated; Set replaces in place) are all emitted,
// in their original relative order, which makes the output
// non-canonical.
func encodeDict(w byteWriter, pairs []KV) error {
	sorted := make([]KV, len(pairs))
	copy(sorted, pairs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Key, sorted[j].Key) < 0
	})

	if err := w.WriteByte('d'); err != nil {
		return err
	}
	for _, kv := range sorted {
		if err := encodeString(w, kv.Key); err != nil {
			return err
		}
		if err := encodeTo(w, kv.Value); err != nil {
			return err
		}
	}
	return w.WriteByte('e')
}
