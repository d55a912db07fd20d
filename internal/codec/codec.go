// Package codec encodes API and relay payloads as JSON, MessagePack or CBOR.
package codec

import (
	"encoding/json"
	"fmt"
	"mime"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Format is a payload encoding.
type Format string

const (
	JSON    Format = "json"
	MsgPack Format = "msgpack"
	CBOR    Format = "cbor"
)

// Content types of the supported formats.
const (
	ContentTypeJSON    = "application/json"
	ContentTypeMsgPack = "application/msgpack"
	ContentTypeCBOR    = "application/cbor"
)

var cborEnc cbor.EncMode

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	cborEnc, err = opts.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
}

// ParseFormat parses a format name. The empty string means JSON.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSON, nil
	case "msgpack", "messagepack":
		return MsgPack, nil
	case "cbor":
		return CBOR, nil
	}
	return "", fmt.Errorf("unsupported format %q", name)
}

// Negotiate picks a format from an Accept header. Unknown or missing types
// fall back to JSON.
func Negotiate(accept string) Format {
	for _, part := range strings.Split(accept, ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		switch mediaType {
		case ContentTypeMsgPack, "application/x-msgpack":
			return MsgPack
		case ContentTypeCBOR:
			return CBOR
		case ContentTypeJSON:
			return JSON
		}
	}
	return JSON
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	switch f {
	case MsgPack:
		return ContentTypeMsgPack
	case CBOR:
		return ContentTypeCBOR
	}
	return ContentTypeJSON
}

// Marshal encodes v in format f.
func (f Format) Marshal(v any) ([]byte, error) {
	switch f {
	case MsgPack:
		return msgpack.Marshal(v)
	case CBOR:
		return cborEnc.Marshal(v)
	}
	return json.Marshal(v)
}

// Unmarshal decodes data in format f into v.
func (f Format) Unmarshal(data []byte, v any) error {
	switch f {
	case MsgPack:
		return msgpack.Unmarshal(data, v)
	case CBOR:
		return cbor.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}
