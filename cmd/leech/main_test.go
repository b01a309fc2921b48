package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/danwt/leech/internal/bencode"
)

func TestRenderValue(t *testing.T) {
	cases := []struct {
		name string
		v    *bencode.Value
		want string
	}{
		{"integer", bencode.Integer(42), "42"},
		{"negative integer", bencode.Integer(-7), "-7"},
		{"string", bencode.Text("spam"), `"spam"`},
		{"list", bencode.List(bencode.Integer(1), bencode.Text("a")), `[1,"a"]`},
		{
			"dict",
			bencode.Dict(bencode.KV{Key: []byte("k"), Value: bencode.Integer(1)}),
			`{"k":1}`,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, renderValue(c.v))
		})
	}
}
