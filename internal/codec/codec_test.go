package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiate(t *testing.T) {
	tests := []struct {
		accept string
		want   Format
	}{
		{"", JSON},
		{"*/*", JSON},
		{"application/msgpack", MsgPack},
		{"application/x-msgpack; q=0.9", MsgPack},
		{"text/html, application/cbor", CBOR},
		{"application/json, application/cbor", JSON},
	}
	for _, tt := range tests {
		t.Run(tt.accept, func(t *testing.T) {
			assert.Equal(t, tt.want, Negotiate(tt.accept))
		})
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("CBOR")
	require.NoError(t, err)
	assert.Equal(t, CBOR, f)
	assert.Equal(t, "application/cbor", f.ContentType())

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}
