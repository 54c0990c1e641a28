package server

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Encoding selects how messages are framed on a websocket.
type Encoding int

const (
	// EncodingJSON sends JSON text frames.
	EncodingJSON Encoding = iota
	// EncodingMsgpack sends msgpack binary frames.
	EncodingMsgpack
)

func (e Encoding) String() string {
	switch e {
	case EncodingJSON:
		return "json"
	case EncodingMsgpack:
		return "msgpack"
	default:
		return "unknown"
	}
}

// ParseEncoding maps the ?encoding= query value; empty means JSON.
func ParseEncoding(s string) (Encoding, error) {
	switch s {
	case "", "json":
		return EncodingJSON, nil
	case "msgpack":
		return EncodingMsgpack, nil
	default:
		return 0, fmt.Errorf("unsupported encoding %q", s)
	}
}

// encode returns the websocket frame type and payload for v.
func (e Encoding) encode(v any) (int, []byte, error) {
	if e == EncodingMsgpack {
		data, err := msgpack.Marshal(v)
		return websocket.BinaryMessage, data, err
	}
	data, err := json.Marshal(v)
	return websocket.TextMessage, data, err
}

// decode reads a client frame. Binary frames are msgpack, text frames JSON,
// whatever the connection's outgoing encoding is.
func decode(messageType int, data []byte, v any) error {
	switch messageType {
	case websocket.BinaryMessage:
		return msgpack.Unmarshal(data, v)
	case websocket.TextMessage:
		return json.Unmarshal(data, v)
	default:
		return fmt.Errorf("unexpected frame type %d", messageType)
	}
}
